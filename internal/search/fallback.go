package search

import (
	"context"
	"fmt"
	"strings"

	"taskreview/api/internal/model"
)

type taskSearcher interface {
	SearchTasks(ctx context.Context, query string, limit int) ([]model.Task, error)
}

// StoreSearcher answers queries from the task store's own full-text search.
type StoreSearcher struct {
	store taskSearcher
}

func NewStoreSearcher(store taskSearcher) *StoreSearcher {
	return &StoreSearcher{store: store}
}

// Healthy always returns true; if the store is down the whole app is down.
func (s *StoreSearcher) Healthy() bool {
	return true
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	tasks, err := s.store.SearchTasks(ctx, q.Text, limit+offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store search: %w", err)
	}

	results := make([]Result, 0, len(tasks))
	for _, task := range tasks {
		if q.FilterStatus != "" && task.Status != q.FilterStatus {
			continue
		}
		results = append(results, Result{
			TaskID:         task.ID,
			Description:    task.Description,
			SectorDivision: task.SectorDivision,
			Responsibility: task.Responsibility,
			Status:         string(task.Status),
		})
	}
	total := len(results)
	if offset >= len(results) {
		return nil, total, nil
	}
	return results[offset:], total, nil
}
