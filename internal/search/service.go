package search

import (
	"context"

	"github.com/rs/zerolog"
)

type indexer interface {
	Searcher
	IndexTask(record TaskRecord) error
	IndexTasks(records []TaskRecord) error
	DeleteTask(id string) error
}

// Service tries Meilisearch first and falls back to the store's search.
type Service struct {
	primary  indexer
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch is not configured.
func NewService(primary *Meili, fallback Searcher, log zerolog.Logger) *Service {
	s := &Service{fallback: fallback, log: log}
	if primary != nil {
		s.primary = primary
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to store search")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("store search failed")
		return Response{Results: []Result{}, Query: q.Text, Backend: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "store"}
}

// IndexTask pushes the record to Meilisearch without blocking the caller.
func (s *Service) IndexTask(record TaskRecord) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexTask(record); err != nil {
			s.log.Warn().Err(err).Str("task_id", record.ID).Msg("index task")
		}
	}()
}

func (s *Service) DeleteTask(id string) {
	if s == nil || s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteTask(id); err != nil {
			s.log.Warn().Err(err).Str("task_id", id).Msg("delete task from index")
		}
	}()
}

// Reindex loads every task record and pushes them to Meilisearch in one batch.
func (s *Service) Reindex(ctx context.Context, load func(context.Context) ([]TaskRecord, error)) error {
	if s.primary == nil || !s.primary.Healthy() {
		return nil
	}
	records, err := load(ctx)
	if err != nil {
		return err
	}
	if err := s.primary.IndexTasks(records); err != nil {
		return err
	}
	s.log.Info().Int("tasks", len(records)).Msg("search index rebuilt")
	return nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
