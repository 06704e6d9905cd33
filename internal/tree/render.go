package tree

import (
	"bytes"
	"fmt"
	"html/template"
)

var listTemplate = template.Must(template.New("tree").Parse(
	`{{define "list"}}<ol class="nodes">{{range .}}<li class="node level-{{.Level}} style-{{.Style}}{{if .Completed}} completed{{end}}">` +
		`<span class="counter">{{.Counter}}</span> <span class="content">{{.Content}}</span>` +
		`{{if .ReviewDate}} <span class="review-date">{{.ReviewDate}}</span>{{end}}` +
		`{{if .Children}}{{template "list" .Children}}{{end}}</li>{{end}}</ol>{{end}}`,
))

type renderItem struct {
	Level      int
	Style      string
	Completed  bool
	Counter    string
	Content    string
	ReviewDate string
	Children   []renderItem
}

// RenderHTML renders the tree as nested ordered lists. Content is escaped, not interpreted.
func RenderHTML(t *Tree) (string, error) {
	var b bytes.Buffer
	if err := listTemplate.ExecuteTemplate(&b, "list", t.renderItems(t.Roots)); err != nil {
		return "", fmt.Errorf("render tree: %w", err)
	}
	return b.String(), nil
}

func (t *Tree) renderItems(entries []*Entry) []renderItem {
	items := make([]renderItem, 0, len(entries))
	for _, entry := range entries {
		item := renderItem{
			Level:     entry.Node.Level,
			Style:     string(entry.Node.ListStyle),
			Completed: entry.Node.Completed,
			Counter:   t.Counter(entry.Node.ID),
			Content:   entry.Node.Content,
			Children:  t.renderItems(entry.Children),
		}
		if entry.Node.ReviewDate != nil {
			item.ReviewDate = entry.Node.ReviewDate.Format("2006-01-02")
		}
		items = append(items, item)
	}
	return items
}
