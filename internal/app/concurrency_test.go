package app

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskreview/api/internal/model"
	"taskreview/api/internal/store"
)

func postgresTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TASKREVIEW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TASKREVIEW_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err)
	require.NoError(t, store.ApplyMigrations(ctx, db, store.Migrations()))
	return store.NewPostgresStore(db)
}

var decisionStores = []struct {
	name string
	open func(t *testing.T) store.Store
}{
	{name: "memory", open: func(*testing.T) store.Store { return store.NewMemoryStore() }},
	{name: "postgres", open: postgresTestStore},
}

func TestConcurrentForwardCreatesOneSuccessor(t *testing.T) {
	for _, tt := range decisionStores {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureOn(t, tt.open(t))
			ctx := context.Background()
			detail := f.createTask(t, garden())
			reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
			require.NoError(t, err)
			require.Len(t, reviews, 1)

			const callers = 8
			errs := make([]error, callers)
			var wg sync.WaitGroup
			for i := range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionForward, ForwardTo: "fwd"})
				}()
			}
			wg.Wait()

			succeeded := 0
			for _, err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
			}
			assert.Equal(t, 1, succeeded)

			listed, err := f.svc.ListReviews(ctx, detail.Version.ID)
			require.NoError(t, err)
			successors := 0
			for _, review := range listed {
				if review.ReviewerID == "fwd" {
					successors++
					assert.Equal(t, model.ReviewPending, review.Status)
				}
			}
			assert.Equal(t, 1, successors)
			assert.Len(t, f.messages(t, "fwd"), 1)
		})
	}
}

func TestConcurrentApprovalsNotifyOnce(t *testing.T) {
	for _, tt := range decisionStores {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureOn(t, tt.open(t))
			ctx := context.Background()
			detail := f.createTask(t, garden())
			reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
			require.NoError(t, err)
			require.Len(t, reviews, 1)

			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionApprove})
				}()
			}
			wg.Wait()

			approvals := 0
			for _, message := range f.messages(t, "ed") {
				if message == "Your task 'Garden' has been approved" {
					approvals++
				}
			}
			assert.Equal(t, 1, approvals)
			task, err := f.svc.GetTask(ctx, detail.Task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.TaskApproved, task.Task.Status)
		})
	}
}
