package search

import (
	"context"
	"strings"

	"taskreview/api/internal/model"
	"taskreview/api/internal/tree"
)

// Result is a single search hit returned to the caller.
type Result struct {
	TaskID         string `json:"taskId"`
	Description    string `json:"description"`
	SectorDivision string `json:"sectorDivision,omitempty"`
	Responsibility string `json:"responsibility,omitempty"`
	Status         string `json:"status"`
	Snippet        string `json:"snippet,omitempty"`
}

type Query struct {
	Text         string
	FilterStatus model.TaskStatus // empty = any status
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task: its fields plus the text of the
// current version's nodes.
type TaskRecord struct {
	ID             string `json:"id"`
	Description    string `json:"description"`
	SectorDivision string `json:"sectorDivision"`
	Responsibility string `json:"responsibility"`
	Status         string `json:"status"`
	Content        string `json:"content"`
}

func RecordFor(task model.Task, nodes []model.Node) TaskRecord {
	lines := make([]string, 0, len(nodes))
	for _, node := range tree.Order(nodes) {
		if text := node.TrimmedContent(); text != "" {
			lines = append(lines, text)
		}
	}
	return TaskRecord{
		ID:             task.ID,
		Description:    task.Description,
		SectorDivision: task.SectorDivision,
		Responsibility: task.Responsibility,
		Status:         string(task.Status),
		Content:        strings.Join(lines, "\n"),
	}
}
