// Package templates holds the HTML pages served by the dashboard.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"math"
)

//go:embed *.html
var FS embed.FS

// ParseTemplates parses HTML templates from the embedded filesystem.
func ParseTemplates(files ...string) (*template.Template, error) {
	funcMap := template.FuncMap{
		"add": func(a, b int) int {
			return a + b
		},
		"subtract": func(a, b int) int {
			return a - b
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%+.1f%%", f)
		},
		"num": func(f float64) string {
			return fmt.Sprintf("%.1f", f)
		},
		// width scales v against max into a 0-100 bar width.
		"width": func(v, max float64) int {
			if max <= 0 || v <= 0 {
				return 0
			}
			return int(math.Round(math.Min(v/max, 1) * 100))
		},
		"abs": math.Abs,
	}

	return template.New("").Funcs(funcMap).ParseFS(FS, files...)
}
