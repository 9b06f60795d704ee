package tmdb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/icco/trendwatch/lib/companies"
	"github.com/icco/trendwatch/lib/trends"
)

// Item is one entry of a list endpoint. Movies carry title/release_date,
// shows carry name/first_air_date.
type Item struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Name         string  `json:"name"`
	Popularity   float64 `json:"popularity"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int     `json:"vote_count"`
	ReleaseDate  string  `json:"release_date"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   string  `json:"poster_path"`
}

// Page is a paginated list response.
type Page struct {
	Page         int    `json:"page"`
	Results      []Item `json:"results"`
	TotalPages   int    `json:"total_pages"`
	TotalResults int    `json:"total_results"`
}

// CatalogItem is a list entry with movie/show differences folded away.
type CatalogItem struct {
	ID          int64
	MediaType   trends.MediaType
	Title       string
	Popularity  float64
	VoteAverage float64
	VoteCount   int
	ReleaseDate string
}

// Normalize resolves the media type from the item itself, then the endpoint
// hint, then the fields present. It reports false for anything that is not
// a movie or show.
func (i Item) Normalize(hint trends.MediaType) (CatalogItem, bool) {
	mt := trends.MediaType(i.MediaType)
	switch {
	case i.MediaType != "":
		// explicit, possibly "person"
	case hint.Valid():
		mt = hint
	case i.Title != "" || i.ReleaseDate != "":
		mt = trends.Movie
	case i.Name != "" || i.FirstAirDate != "":
		mt = trends.TV
	}
	if !mt.Valid() || i.ID <= 0 {
		return CatalogItem{}, false
	}

	title := i.Title
	if title == "" {
		title = i.Name
	}
	if title == "" {
		title = "Unknown"
	}
	date := i.ReleaseDate
	if date == "" {
		date = i.FirstAirDate
	}

	return CatalogItem{
		ID:          i.ID,
		MediaType:   mt,
		Title:       title,
		Popularity:  i.Popularity,
		VoteAverage: i.VoteAverage,
		VoteCount:   i.VoteCount,
		ReleaseDate: date,
	}, true
}

// Company is a production company or network reference.
type Company struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Details is the subset of /movie/{id} and /tv/{id} the collector uses.
type Details struct {
	ID                  int64     `json:"id"`
	ProductionCompanies []Company `json:"production_companies"`
	Networks            []Company `json:"networks"`
}

// Companies merges production companies and networks into one list.
func (d Details) Companies() []string {
	return companies.Merge(names(d.ProductionCompanies), names(d.Networks))
}

func names(cs []Company) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

// ExternalIDs holds cross references for one item.
type ExternalIDs struct {
	IMDbID string `json:"imdb_id"`
}

func pageParams(page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{"page": {strconv.Itoa(page)}}
}

// Trending lists trending items. scope is "all", "movie" or "tv"; window is
// "day" or "week".
func (c *Client) Trending(ctx context.Context, scope, window string, page int) (*Page, error) {
	var p Page
	path := fmt.Sprintf("/trending/%s/%s", scope, window)
	if err := c.get(ctx, "/trending/{scope}/{window}", path, pageParams(page), &p); err != nil {
		return nil, fmt.Errorf("failed to get trending %s/%s: %w", scope, window, err)
	}
	return &p, nil
}

// Popular lists popular movies or shows.
func (c *Client) Popular(ctx context.Context, mediaType trends.MediaType, page int) (*Page, error) {
	var p Page
	path := fmt.Sprintf("/%s/popular", mediaType)
	if err := c.get(ctx, "/{type}/popular", path, pageParams(page), &p); err != nil {
		return nil, fmt.Errorf("failed to get popular %s: %w", mediaType, err)
	}
	return &p, nil
}

// TopRated lists top rated movies or shows.
func (c *Client) TopRated(ctx context.Context, mediaType trends.MediaType, page int) (*Page, error) {
	var p Page
	path := fmt.Sprintf("/%s/top_rated", mediaType)
	if err := c.get(ctx, "/{type}/top_rated", path, pageParams(page), &p); err != nil {
		return nil, fmt.Errorf("failed to get top rated %s: %w", mediaType, err)
	}
	return &p, nil
}

// Discover runs a discover query, e.g. sort_by or with_companies filters.
func (c *Client) Discover(ctx context.Context, mediaType trends.MediaType, params url.Values, page int) (*Page, error) {
	q := pageParams(page)
	for k, v := range params {
		q[k] = v
	}
	var p Page
	path := fmt.Sprintf("/discover/%s", mediaType)
	if err := c.get(ctx, "/discover/{type}", path, q, &p); err != nil {
		return nil, fmt.Errorf("failed to discover %s: %w", mediaType, err)
	}
	return &p, nil
}

// Details fetches one item's detail record.
func (c *Client) Details(ctx context.Context, mediaType trends.MediaType, id int64) (*Details, error) {
	var d Details
	path := fmt.Sprintf("/%s/%d", mediaType, id)
	if err := c.get(ctx, "/{type}/{id}", path, nil, &d); err != nil {
		return nil, fmt.Errorf("failed to get details for %s/%d: %w", mediaType, id, err)
	}
	return &d, nil
}

// ExternalIDs fetches one item's external ids.
func (c *Client) ExternalIDs(ctx context.Context, mediaType trends.MediaType, id int64) (*ExternalIDs, error) {
	var e ExternalIDs
	path := fmt.Sprintf("/%s/%d/external_ids", mediaType, id)
	if err := c.get(ctx, "/{type}/{id}/external_ids", path, nil, &e); err != nil {
		return nil, fmt.Errorf("failed to get external ids for %s/%d: %w", mediaType, id, err)
	}
	return &e, nil
}
