package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var taskTemplate = template.Must(template.New("task").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
}).Parse(taskHTML))

type TemplateData struct {
	Description    string
	SectorDivision string
	Responsibility string
	Status         string
	OriginalDate   *time.Time
	ReviewDate     *time.Time
	VersionNumber  int
	VersionStatus  string
	Editor         string
	GeneratedAt    time.Time
	ContentHTML    template.HTML
	Reviews        []TemplateReview
}

type TemplateReview struct {
	Reviewer string
	Status   string
	Comment  string
	Comments []TemplateComment
}

type TemplateComment struct {
	Author   string
	Body     string
	Resolved bool
}

func RenderTaskHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := taskTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const taskHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Description}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    ol.nodes { list-style: none; padding-left: 1.5rem; }
    .counter { font-weight: bold; margin-right: 0.25rem; }
    .completed > .content { text-decoration: line-through; color: #777; }
    .review-date { color: #a33; font-size: 0.85em; }
    .review { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .resolved { color: #777; }
  </style>
</head>
<body>
  <h1>{{.Description}}</h1>
  <div class="meta">
    {{if .SectorDivision}}{{.SectorDivision}} | {{end}}{{if .Responsibility}}{{.Responsibility}} | {{end}}Version {{.VersionNumber}} ({{.VersionStatus}}) | {{.Status | lower}}
    {{with date .OriginalDate}}<br>Original date: {{.}}{{end}}
    {{with date .ReviewDate}}<br>Review date: {{.}}{{end}}
    {{if .Editor}}<br>Editor: {{.Editor}}{{end}}
  </div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Reviews}}
  <h2>Reviews</h2>
  {{range .Reviews}}<div class="review">
    <strong>{{.Reviewer}}</strong>: {{.Status}}{{if .Comment}}<p>{{.Comment}}</p>{{end}}
    {{range .Comments}}<p{{if .Resolved}} class="resolved"{{end}}><em>{{.Author}}</em>: {{.Body}}</p>{{end}}
  </div>{{end}}
  {{end}}
  <footer class="meta">Generated {{.GeneratedAt.Format "Jan 2, 2006 15:04 MST"}}</footer>
</body>
</html>`
