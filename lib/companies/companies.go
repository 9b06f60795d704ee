// Package companies folds raw production company and network names into
// canonical studio groups.
package companies

import (
	"sort"
	"strings"
)

// Group is one canonical studio label and the raw names counted under it.
type Group struct {
	CanonicalName string   `json:"canonical_name"`
	MemberAliases []string `json:"member_aliases"`
	ContentCount  int      `json:"content_count"`
}

// Family maps a canonical label to the raw names that belong to it.
type Family struct {
	Name     string
	Variants []string
}

// Table is an ordered synonym table. A raw name is consumed by the first
// family listing it.
type Table struct {
	Families   []Family
	Exclusions []string
}

// DefaultTable returns the built-in major studio synonyms.
func DefaultTable() Table {
	return Table{
		Families: []Family{
			{Name: "Disney", Variants: []string{
				"Walt Disney Pictures",
				"Walt Disney Animation Studios",
				"Walt Disney Productions",
				"Pixar Animation Studios",
				"Marvel Studios",
				"Walt Disney Company",
				"Lucasfilm",
				"Lucasfilm Ltd.",
				"Lucasfilm Ltd",
			}},
			{Name: "Warner Bros.", Variants: []string{
				"Warner Bros. Pictures",
				"Warner Bros.",
				"Warner Brothers",
				"New Line Cinema",
				"DC Films",
				"DC Entertainment",
				"Warner Bros. Animation",
				"Warner Bros. Television",
			}},
			{Name: "Universal", Variants: []string{
				"Universal Pictures",
				"Universal Studios",
				"NBCUniversal",
				"Focus Features",
				"Universal Television",
			}},
			{Name: "Paramount", Variants: []string{
				"Paramount Pictures",
				"Paramount Players",
				"Paramount Global",
				"Paramount",
			}},
			{Name: "Sony", Variants: []string{
				"Sony Pictures",
				"Sony Pictures Entertainment",
				"Columbia Pictures",
				"TriStar Pictures",
				"Sony Pictures Animation",
			}},
		},
		// Artifacts of substring matching upstream.
		Exclusions: []string{"Y Productions", "ANIMA", "anima"},
	}
}

// Variants returns the raw names of the family called name, or nil.
func (t Table) Variants(name string) []string {
	for _, f := range t.Families {
		if f.Name == name {
			return f.Variants
		}
	}
	return nil
}

// Expand maps each selected label to the raw names it covers. Labels that
// are not families pass through as-is. The result is de-duplicated.
func (t Table) Expand(labels []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if v := t.Variants(l); v != nil {
			for _, name := range v {
				add(name)
			}
			continue
		}
		add(l)
	}
	return out
}

// Normalize groups raw company counts using exact, case-sensitive matches
// against the table. Names no family claims become singleton groups.
// Excluded names are dropped after grouping. Groups are sorted by count,
// largest first, then by name.
func Normalize(rawCounts map[string]int, table Table) []Group {
	consumed := make(map[string]bool)
	var groups []Group

	for _, f := range table.Families {
		g := Group{CanonicalName: f.Name}
		for _, v := range f.Variants {
			if consumed[v] {
				continue
			}
			n, ok := rawCounts[v]
			if !ok {
				continue
			}
			consumed[v] = true
			g.ContentCount += n
			g.MemberAliases = append(g.MemberAliases, v)
		}
		if g.ContentCount > 0 {
			groups = append(groups, g)
		}
	}

	for name, n := range rawCounts {
		if consumed[name] {
			continue
		}
		groups = append(groups, Group{
			CanonicalName: name,
			MemberAliases: []string{name},
			ContentCount:  n,
		})
	}

	excluded := make(map[string]bool, len(table.Exclusions))
	for _, e := range table.Exclusions {
		excluded[e] = true
	}
	kept := groups[:0]
	for _, g := range groups {
		if !excluded[g.CanonicalName] {
			kept = append(kept, g)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].ContentCount != kept[j].ContentCount {
			return kept[i].ContentCount > kept[j].ContentCount
		}
		return kept[i].CanonicalName < kept[j].CanonicalName
	})
	return kept
}

// Top caps groups to the first n. A non-positive n returns every group.
func Top(groups []Group, n int) []Group {
	if n <= 0 || n >= len(groups) {
		return groups
	}
	return groups[:n]
}

// Merge builds one company list out of production companies and networks.
// Names are trimmed, blanks dropped and duplicates removed, keeping the
// first occurrence.
func Merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, l := range lists {
		for _, name := range l {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
