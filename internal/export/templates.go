package export

import (
	"bytes"
	"embed"
	"html/template"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var executiveTemplate = template.Must(
	template.New("executive.html").Funcs(template.FuncMap{
		"formatTime": func(t time.Time) string { return t.Format(timeLayout) },
		"score": func(v *float64) string {
			if v == nil {
				return "-"
			}
			return strconv.FormatFloat(*v, 'f', -1, 64)
		},
		"dash": dash,
		"severityClass": func(r Row) string {
			if r.SeverityLabel() == "-" {
				return "none"
			}
			return string(r.Severity)
		},
	}).ParseFS(templateFS, "templates/executive.html"),
)

// ExecutiveData holds data for the executive summary template.
type ExecutiveData struct {
	GeneratedAt time.Time
	Rows        []Row
	Counts      []StatusCount
}

// Total is the number of sessions in the summary.
func (d ExecutiveData) Total() int {
	return len(d.Rows)
}

// RenderExecutiveHTML renders the executive summary page.
func RenderExecutiveHTML(data ExecutiveData) (string, error) {
	var buf bytes.Buffer
	if err := executiveTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
