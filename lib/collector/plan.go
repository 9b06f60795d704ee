package collector

import (
	"errors"
	"fmt"
	"net/url"
	"sort"

	"github.com/icco/trendwatch/lib/trends"
)

// ErrUnknownPlan is returned by LookupPlan for names it does not know.
var ErrUnknownPlan = errors.New("unknown collection plan")

// SourceKind selects the TMDB list a Source reads.
type SourceKind string

const (
	KindTrending SourceKind = "trending"
	KindPopular  SourceKind = "popular"
	KindTopRated SourceKind = "top_rated"
	KindDiscover SourceKind = "discover"
	KindCompany  SourceKind = "company"
)

// Source is one paginated list to read.
type Source struct {
	Kind SourceKind
	// Name labels stored snapshots; Label derives one when empty.
	Name      string
	MediaType trends.MediaType
	// Scope and Window apply to trending lists. Scope is all, movie or tv.
	Scope  string
	Window string
	Pages  int
	// Params are extra discover query parameters.
	Params url.Values
	// CompanyIDs are discovered one at a time for company sources.
	CompanyIDs []int64
}

// Label names the source in snapshots and logs.
func (s Source) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case KindTrending:
		return fmt.Sprintf("trending/%s/%s", s.Scope, s.Window)
	case KindDiscover:
		return fmt.Sprintf("discover/%s?%s", s.MediaType, s.Params.Encode())
	default:
		return fmt.Sprintf("%s/%s", s.Kind, s.MediaType)
	}
}

func (s Source) pages() int {
	if s.Pages < 1 {
		return 1
	}
	return s.Pages
}

// Plan is a named set of sources plus what to fetch per item.
type Plan struct {
	Name             string
	Sources          []Source
	FetchDetails     bool
	FetchExternalIDs bool
	// BackfillLimit caps the company backfill run after storing; 0 skips it.
	BackfillLimit int
}

var mediaTypes = []trends.MediaType{trends.Movie, trends.TV}

func dailySources() []Source {
	var out []Source
	for _, window := range []string{"day", "week"} {
		for _, mt := range mediaTypes {
			out = append(out, Source{Kind: KindTrending, Scope: string(mt), Window: window, MediaType: mt})
		}
	}
	for _, mt := range mediaTypes {
		out = append(out, Source{Kind: KindPopular, MediaType: mt, Pages: 10})
	}
	for _, mt := range mediaTypes {
		out = append(out, Source{Kind: KindTopRated, MediaType: mt, Pages: 5})
	}
	return out
}

func massSources() []Source {
	out := dailySources()
	discover := []url.Values{
		{"sort_by": {"popularity.desc"}, "vote_count.gte": {"100"}},
		{"sort_by": {"vote_average.desc"}, "vote_count.gte": {"500"}},
		{"sort_by": {"revenue.desc"}},
		{"sort_by": {"release_date.desc"}, "vote_count.gte": {"50"}},
	}
	for _, params := range discover {
		for _, mt := range mediaTypes {
			out = append(out, Source{Kind: KindDiscover, MediaType: mt, Params: params, Pages: 5})
		}
	}
	return out
}

// StudioCompanyIDs lists TMDB company ids per studio family.
var StudioCompanyIDs = []struct {
	Studio string
	IDs    []int64
}{
	{"Universal", []int64{33, 122088, 160407, 26559, 95155, 103915, 166, 10146}},
	{"Paramount", []int64{4, 96540, 107355, 21, 95689}},
	{"Sony", []int64{34, 5, 559, 2251, 128664, 192007, 82346}},
	{"Netflix", []int64{178464, 198834, 185004}},
	{"Disney", []int64{2, 3166, 6125, 7505, 1, 130}},
	{"Warner Bros.", []int64{174, 12, 923, 128064, 429, 2785}},
}

func studioSources() []Source {
	var out []Source
	for _, s := range StudioCompanyIDs {
		for _, mt := range mediaTypes {
			out = append(out, Source{
				Kind:       KindCompany,
				Name:       fmt.Sprintf("studio/%s/%s", s.Studio, mt),
				MediaType:  mt,
				CompanyIDs: s.IDs,
				Pages:      10,
			})
		}
	}
	return out
}

// Plans returns the built-in plans by name.
func Plans() map[string]Plan {
	return map[string]Plan{
		"trending": {
			Name:    "trending",
			Sources: []Source{{Kind: KindTrending, Scope: "all", Window: "day"}},
		},
		"daily": {
			Name:             "daily",
			Sources:          dailySources(),
			FetchDetails:     true,
			FetchExternalIDs: true,
			BackfillLimit:    200,
		},
		"mass": {
			Name:    "mass",
			Sources: massSources(),
		},
		"studios": {
			Name:         "studios",
			Sources:      studioSources(),
			FetchDetails: true,
		},
	}
}

// PlanNames lists the built-in plan names in order.
func PlanNames() []string {
	var names []string
	for name := range Plans() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupPlan finds a built-in plan.
func LookupPlan(name string) (Plan, error) {
	p, ok := Plans()[name]
	if !ok {
		return Plan{}, fmt.Errorf("%w %q (known: %v)", ErrUnknownPlan, name, PlanNames())
	}
	return p, nil
}
