// Package query builds parameterized filters over the snapshot table.
package query

import (
	"strings"
	"time"

	"github.com/icco/trendwatch/lib/trends"
)

// Clause is one typed filter condition. SQL returns a fragment using ?
// placeholders and the values bound to them.
type Clause interface {
	SQL() (string, []any)
}

// Predicate is a conjunction of clauses.
type Predicate struct {
	Clauses []Clause
}

// Where builds a predicate from clauses. Nil clauses are ignored.
func Where(clauses ...Clause) Predicate {
	p := Predicate{}
	for _, c := range clauses {
		if c != nil {
			p.Clauses = append(p.Clauses, c)
		}
	}
	return p
}

// And returns a copy of p with more clauses appended.
func (p Predicate) And(clauses ...Clause) Predicate {
	out := Predicate{Clauses: append([]Clause(nil), p.Clauses...)}
	for _, c := range clauses {
		if c != nil {
			out.Clauses = append(out.Clauses, c)
		}
	}
	return out
}

// SQL joins every non-empty clause with AND. An empty predicate returns an
// empty fragment.
func (p Predicate) SQL() (string, []any) {
	var parts []string
	var args []any
	for _, c := range p.Clauses {
		frag, a := c.SQL()
		if frag == "" {
			continue
		}
		parts = append(parts, frag)
		args = append(args, a...)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, " AND "), args
}

// DateLayout is the format of the snapshot_date column.
const DateLayout = "2006-01-02"

// DateRange bounds snapshot_date, inclusive. Zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (c DateRange) SQL() (string, []any) {
	switch {
	case c.From.IsZero() && c.To.IsZero():
		return "", nil
	case c.To.IsZero():
		return "snapshot_date >= ?", []any{c.From.Format(DateLayout)}
	case c.From.IsZero():
		return "snapshot_date <= ?", []any{c.To.Format(DateLayout)}
	}
	return "snapshot_date BETWEEN ? AND ?", []any{c.From.Format(DateLayout), c.To.Format(DateLayout)}
}

// TimeRange bounds snapshot_time, inclusive. Zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (c TimeRange) SQL() (string, []any) {
	var parts []string
	var args []any
	if !c.From.IsZero() {
		parts = append(parts, "snapshot_time >= ?")
		args = append(args, c.From.UTC())
	}
	if !c.To.IsZero() {
		parts = append(parts, "snapshot_time <= ?")
		args = append(args, c.To.UTC())
	}
	return strings.Join(parts, " AND "), args
}

// MediaTypes restricts rows to the listed media types.
type MediaTypes []trends.MediaType

func (c MediaTypes) SQL() (string, []any) {
	if len(c) == 0 {
		return "", nil
	}
	args := make([]any, len(c))
	for i, m := range c {
		args[i] = string(m)
	}
	return "media_type IN (" + placeholders(len(c)) + ")", args
}

// MinPopularity keeps rows with popularity >= Value, or > Value when
// Exclusive is set.
type MinPopularity struct {
	Value     float64
	Exclusive bool
}

func (c MinPopularity) SQL() (string, []any) {
	if c.Exclusive {
		return "popularity > ?", []any{c.Value}
	}
	return "popularity >= ?", []any{c.Value}
}

// Companies keeps rows whose company list contains any of the names as a
// whole element. Matching is case sensitive.
type Companies []string

func (c Companies) SQL() (string, []any) {
	var args []any
	for _, name := range c {
		if strings.TrimSpace(name) == "" {
			continue
		}
		args = append(args, name)
	}
	if len(args) == 0 {
		return "", nil
	}
	return `EXISTS (SELECT 1 FROM json_each(` + companiesJSON + `) WHERE json_each.value IN (` +
		placeholders(len(args)) + `))`, args
}

// companiesJSON guards json_each against rows written before the column held
// JSON.
const companiesJSON = `CASE WHEN json_valid(production_companies) THEN production_companies ELSE '[]' END`

// TitleContains matches a case-insensitive title substring.
type TitleContains string

func (c TitleContains) SQL() (string, []any) {
	if strings.TrimSpace(string(c)) == "" {
		return "", nil
	}
	return `title LIKE ? ESCAPE '\'`, []any{"%" + EscapeLike(string(c)) + "%"}
}

// ExcludeTitles drops rows whose title contains any of the substrings.
type ExcludeTitles []string

func (c ExcludeTitles) SQL() (string, []any) {
	var parts []string
	var args []any
	for _, t := range c {
		if t == "" {
			continue
		}
		parts = append(parts, `title NOT LIKE ? ESCAPE '\'`)
		args = append(args, "%"+EscapeLike(t)+"%")
	}
	return strings.Join(parts, " AND "), args
}

// Item selects one time series.
type Item struct {
	ContentID int64
	MediaType trends.MediaType
}

func (c Item) SQL() (string, []any) {
	return "content_id = ? AND media_type = ?", []any{c.ContentID, string(c.MediaType)}
}

// EscapeLike escapes LIKE wildcards using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
