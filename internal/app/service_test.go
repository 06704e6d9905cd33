package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskreview/api/internal/archive"
	"taskreview/api/internal/merge"
	"taskreview/api/internal/metrics"
	"taskreview/api/internal/model"
	"taskreview/api/internal/notify"
	"taskreview/api/internal/search"
	"taskreview/api/internal/store"
)

type fakeIndex struct {
	mu      sync.Mutex
	indexed map[string]search.TaskRecord
	deleted []string
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "fake"}
}

func (f *fakeIndex) IndexTask(record search.TaskRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[record.ID] = record
}

func (f *fakeIndex) DeleteTask(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fixture struct {
	svc     *Service
	store   store.Store
	index   *fakeIndex
	archive *archive.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemoryStore())
}

func newFixtureOn(t *testing.T, st store.Store) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	f := &fixture{
		store:   st,
		index:   &fakeIndex{indexed: map[string]search.TaskRecord{}},
		archive: archive.New(t.TempDir()),
	}
	f.svc = New(st, zerolog.Nop(),
		WithDispatcher(notify.NewDispatcher(zerolog.Nop(), m, notify.NewStoreSink(st))),
		WithSearch(f.index),
		WithArchive(f.archive),
		WithMetrics(m),
	)
	for _, user := range []model.User{
		{ID: "ed", FullName: "Edna Editor"},
		{ID: "alt", FullName: "Alex Alternate"},
		{ID: "rev", FullName: "Rita Reviewer"},
		{ID: "fwd", FullName: "Finn Forward"},
		{ID: "node-rev", FullName: "Noel Nodes"},
	} {
		_, err := f.svc.EnsureUser(context.Background(), user)
		require.NoError(t, err)
	}
	return f
}

func garden() []model.NodeInput {
	return []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds", NodeType: model.NodePoint},
		{ClientID: "water", Content: "Water crops", NodeType: model.NodePoint},
	}
}

func points(contents ...string) []model.NodeInput {
	out := make([]model.NodeInput, 0, len(contents))
	for _, content := range contents {
		out = append(out, model.NodeInput{Content: content, NodeType: model.NodePoint})
	}
	return out
}

func (f *fixture) createTask(t *testing.T, nodes []model.NodeInput) TaskDetail {
	t.Helper()
	detail, err := f.svc.CreateTask(context.Background(), "ed", TaskInput{
		Description:    "Garden",
		SectorDivision: "Grounds",
		Responsibility: "Facilities",
		Nodes:          nodes,
	})
	require.NoError(t, err)
	require.NotNil(t, detail.Version)
	return detail
}

// approve submits the version to "rev" and approves every pending review.
func (f *fixture) approve(t *testing.T, versionID string) {
	t.Helper()
	ctx := context.Background()
	reviews, err := f.svc.SubmitForReview(ctx, versionID, "rev")
	require.NoError(t, err)
	for _, review := range reviews {
		if review.Status != model.ReviewPending {
			continue
		}
		_, err := f.svc.ResolveReview(ctx, review.ID, review.ReviewerID, Decision{Action: DecisionApprove})
		require.NoError(t, err)
	}
}

func (f *fixture) approvedTask(t *testing.T) (string, string) {
	t.Helper()
	detail := f.createTask(t, garden())
	f.approve(t, detail.Version.ID)
	return detail.Task.ID, detail.Version.ID
}

func (f *fixture) nodes(t *testing.T, versionID string) []model.Node {
	t.Helper()
	nodes, err := f.store.ListNodes(context.Background(), versionID)
	require.NoError(t, err)
	return nodes
}

func (f *fixture) messages(t *testing.T, recipientID string) []string {
	t.Helper()
	notifications, err := f.svc.ListNotifications(context.Background(), recipientID, false)
	require.NoError(t, err)
	out := make([]string, 0, len(notifications))
	for _, notification := range notifications {
		out = append(out, notification.Message)
	}
	return out
}

func contents(nodes []model.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.Content)
	}
	return out
}

func find(t *testing.T, nodes []model.Node, content string) model.Node {
	t.Helper()
	for _, node := range nodes {
		if node.Content == content {
			return node
		}
	}
	t.Fatalf("no node with content %q in %v", content, contents(nodes))
	return model.Node{}
}

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, status, domainErr.Status)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}

func TestCreateTaskBuildsFirstVersion(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
	detail := f.createTask(t, []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds", NodeType: model.NodePoint},
		{ClientID: "compare", ParentClientID: "buy", Content: "Compare suppliers", Level: 2, ListStyle: model.ListLowerAlpha, ReviewDate: &day},
		{ClientID: "water", Content: "Water crops", NodeType: model.NodePoint},
	})

	assert.Equal(t, model.TaskDraft, detail.Task.Status)
	assert.Equal(t, "ed", detail.Task.EditorID)
	assert.Equal(t, 1, detail.Version.VersionNumber)
	assert.Equal(t, model.VersionDraft, detail.Version.Status)
	assert.Empty(t, detail.Version.BaseVersionID)

	require.Len(t, detail.Nodes, 2)
	assert.Equal(t, "1", detail.Nodes[0].Counter)
	assert.Equal(t, "2", detail.Nodes[1].Counter)
	require.Len(t, detail.Nodes[0].Children, 1)
	child := detail.Nodes[0].Children[0]
	assert.Equal(t, "a", child.Counter)
	assert.Equal(t, detail.Nodes[0].ID, child.ParentID)

	want := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, detail.Nodes[0].ReviewDate)
	assert.True(t, want.Equal(*detail.Nodes[0].ReviewDate))
	require.NotNil(t, detail.Task.ReviewDate)
	assert.True(t, want.Equal(*detail.Task.ReviewDate))

	assert.Contains(t, f.index.indexed, detail.Task.ID)
}

func TestCreateTaskRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		actor  string
		input  TaskInput
		status int
		field  string
	}{
		{
			name:   "blank description",
			actor:  "ed",
			input:  TaskInput{Description: "  "},
			status: http.StatusUnprocessableEntity,
			field:  "description",
		},
		{
			name:   "unknown reviewer",
			actor:  "ed",
			input:  TaskInput{Description: "Garden", Nodes: []model.NodeInput{{Content: "Buy seeds", ReviewerID: "ghost"}}},
			status: http.StatusUnprocessableEntity,
			field:  "reviewer_id",
		},
		{
			name:  "child not deeper than parent",
			actor: "ed",
			input: TaskInput{Description: "Garden", Nodes: []model.NodeInput{
				{ClientID: "p", Content: "Buy seeds"},
				{ClientID: "c", ParentClientID: "p", Content: "Compare suppliers", Level: 1},
			}},
			status: http.StatusUnprocessableEntity,
			field:  "level",
		},
		{
			name:   "unknown editor",
			actor:  "nobody",
			input:  TaskInput{Description: "Garden"},
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateTask(context.Background(), tt.actor, tt.input)
			domainErr := requireDomainError(t, err, tt.status, map[int]string{
				http.StatusUnprocessableEntity: "VALIDATION_ERROR",
				http.StatusNotFound:            "NOT_FOUND",
			}[tt.status])
			if tt.field != "" {
				assert.Equal(t, map[string]any{"field": tt.field}, domainErr.Details)
			}
			tasks, err := f.svc.ListTasks(context.Background(), "", 10)
			require.NoError(t, err)
			assert.Empty(t, tasks)
		})
	}
}

func TestSaveTaskWithoutNodesOnlyUpdatesMetadata(t *testing.T) {
	f := newFixture(t)
	detail := f.createTask(t, garden())

	saved, err := f.svc.SaveTask(context.Background(), "ed", detail.Task.ID, TaskInput{Description: "Vegetable garden", Responsibility: "Grounds crew"})
	require.NoError(t, err)

	assert.Equal(t, "Vegetable garden", saved.Task.Description)
	assert.Equal(t, "Grounds crew", saved.Task.Responsibility)
	assert.Equal(t, "Grounds", saved.Task.SectorDivision)
	assert.Equal(t, detail.Version.ID, saved.Version.ID)
	assert.Equal(t, []string{"Buy seeds", "Water crops"}, contents(f.nodes(t, detail.Version.ID)))
}

func TestSaveTaskReplacesDraftContentInPlace(t *testing.T) {
	f := newFixture(t)
	detail := f.createTask(t, garden())

	saved, err := f.svc.SaveTask(context.Background(), "ed", detail.Task.ID, TaskInput{Nodes: points("Buy seeds", "Water crops", "Harvest")})
	require.NoError(t, err)

	assert.Equal(t, detail.Version.ID, saved.Version.ID)
	assert.Equal(t, 1, saved.Version.VersionNumber)
	assert.Equal(t, []string{"Buy seeds", "Water crops", "Harvest"}, contents(f.nodes(t, detail.Version.ID)))
	versions, err := f.svc.ListVersions(context.Background(), detail.Task.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSaveApprovedTaskBranchesDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID, v1 := f.approvedTask(t)

	saved, err := f.svc.SaveTask(ctx, "ed", taskID, TaskInput{Nodes: points("Buy organic seeds", "Water crops")})
	require.NoError(t, err)

	assert.NotEqual(t, v1, saved.Version.ID)
	assert.Equal(t, 2, saved.Version.VersionNumber)
	assert.Equal(t, v1, saved.Version.BaseVersionID)
	assert.Equal(t, model.VersionDraft, saved.Version.Status)
	assert.Equal(t, model.TaskDraft, saved.Task.Status)
	assert.Equal(t, saved.Version.ID, saved.Task.CurrentVersionID)

	approved, err := f.svc.GetVersion(ctx, v1)
	require.NoError(t, err)
	assert.Equal(t, model.VersionApproved, approved.Status)
	assert.Equal(t, []string{"Buy seeds", "Water crops"}, contents(f.nodes(t, v1)))

	changes, err := f.svc.Diff(ctx, saved.Version.ID, "")
	require.NoError(t, err)
	assert.Empty(t, changes.Added)
	assert.Empty(t, changes.Removed)
	require.Len(t, changes.Modified, 1)
	assert.Equal(t, "Buy seeds", changes.Modified[0].Before.Content)
	assert.Equal(t, "Buy organic seeds", changes.Modified[0].After.Content)

	first, err := f.svc.Diff(ctx, v1, "")
	require.NoError(t, err)
	assert.Len(t, first.Added, 2)
}

// diverge leaves two drafts branched from the same approved version, with the
// second one approved first.
func diverge(t *testing.T, f *fixture) (taskID, v1, mine, theirs string) {
	t.Helper()
	ctx := context.Background()
	taskID, v1 = f.approvedTask(t)

	a, err := f.svc.SaveTask(ctx, "ed", taskID, TaskInput{VersionID: v1, Nodes: points("Buy organic seeds", "Water crops")})
	require.NoError(t, err)
	b, err := f.svc.SaveTask(ctx, "alt", taskID, TaskInput{VersionID: v1, Nodes: points("Buy heirloom seeds", "Water crops")})
	require.NoError(t, err)
	require.NotEqual(t, a.Version.ID, b.Version.ID)

	f.approve(t, b.Version.ID)
	return taskID, v1, a.Version.ID, b.Version.ID
}

func TestSaveOutdatedDraftReturnsConflictWithoutWriting(t *testing.T) {
	f := newFixture(t)
	taskID, v1, mine, theirs := diverge(t, f)

	_, err := f.svc.SaveTask(context.Background(), "ed", taskID, TaskInput{VersionID: mine, Nodes: points("Buy organic seeds", "Water crops daily")})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	c := conflict.Conflict
	assert.Equal(t, conflictMessage, c.Message)
	assert.Equal(t, taskID, c.TaskID)
	assert.Equal(t, theirs, c.ApprovedVersion.Version.ID)
	require.NotNil(t, c.BaseVersion)
	assert.Equal(t, v1, c.BaseVersion.Version.ID)
	assert.Equal(t, 1, c.ConflictCount)
	require.Len(t, c.Categorization.Conflicts, 1)
	entry := c.Categorization.Conflicts[0]
	assert.Equal(t, "Buy organic seeds", entry.User.Content)
	assert.Equal(t, "Buy heirloom seeds", entry.Approved.Content)
	require.Len(t, c.Categorization.UserOnly, 1)
	assert.Equal(t, "Water crops daily", c.Categorization.UserOnly[0].User.Content)

	assert.Equal(t, []string{"Buy organic seeds", "Water crops"}, contents(f.nodes(t, mine)))
	task, err := f.svc.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, theirs, task.Task.CurrentVersionID)
	assert.Equal(t, model.TaskApproved, task.Task.Status)
}

func TestSaveWithResolutionsMergesOntoLatestApproved(t *testing.T) {
	tests := []struct {
		name       string
		resolution merge.Resolution
		want       string
	}{
		{name: "keep mine", resolution: merge.Resolution{Choice: merge.ChoiceUser}, want: "Buy organic seeds"},
		{name: "take approved", resolution: merge.Resolution{Choice: merge.ChoiceApproved}, want: "Buy heirloom seeds"},
		{name: "custom", resolution: merge.Resolution{Choice: merge.ChoiceCustom, Content: "Buy organic heirloom seeds"}, want: "Buy organic heirloom seeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			taskID, _, mine, theirs := diverge(t, f)
			input := TaskInput{VersionID: mine, Nodes: points("Buy organic seeds", "Water crops daily")}

			_, err := f.svc.SaveTask(ctx, "ed", taskID, input)
			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			key := conflict.Conflict.Categorization.Conflicts[0].Key

			input.Resolutions = map[string]merge.Resolution{key: tt.resolution}
			saved, err := f.svc.SaveTask(ctx, "ed", taskID, input)
			require.NoError(t, err)

			assert.Equal(t, mine, saved.Version.ID)
			assert.Equal(t, theirs, saved.Version.BaseVersionID)
			assert.ElementsMatch(t, []string{tt.want, "Water crops daily"}, contents(f.nodes(t, mine)))

			// the merged draft is no longer outdated and can go through review
			f.approve(t, mine)
			latest, err := f.store.LatestApprovedVersion(ctx, taskID)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, mine, latest.ID)
		})
	}
}

func TestSaveWithUnresolvedConflictFails(t *testing.T) {
	f := newFixture(t)
	taskID, _, mine, _ := diverge(t, f)

	_, err := f.svc.SaveTask(context.Background(), "ed", taskID, TaskInput{
		VersionID:   mine,
		Nodes:       points("Buy organic seeds", "Water crops"),
		Resolutions: map[string]merge.Resolution{},
	})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	assert.Equal(t, []string{"Buy organic seeds", "Water crops"}, contents(f.nodes(t, mine)))
}

func TestMergeCategorizeDefaultsToLatestApproved(t *testing.T) {
	f := newFixture(t)
	_, v1, mine, theirs := diverge(t, f)

	view, err := f.svc.MergeCategorize(context.Background(), mine, "", "")
	require.NoError(t, err)

	assert.Equal(t, mine, view.UserVersion.ID)
	assert.Equal(t, theirs, view.ApprovedVersion.ID)
	require.NotNil(t, view.BaseVersion)
	assert.Equal(t, v1, view.BaseVersion.ID)
	assert.Len(t, view.Categorization.Conflicts, 1)
	assert.Len(t, view.Categorization.Original, 1)
	assert.Equal(t, 1, view.Analysis.Stats.Conflicts)
}

func TestResolveMergeFastForwardsStoredDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, mine, theirs := diverge(t, f)

	view, err := f.svc.MergeCategorize(ctx, mine, "", "")
	require.NoError(t, err)
	key := view.Categorization.Conflicts[0].Key

	outcome, err := f.svc.ResolveMerge(ctx, mine, map[string]merge.Resolution{key: {Choice: merge.ChoiceApproved}})
	require.NoError(t, err)

	assert.Equal(t, theirs, outcome.Version.BaseVersionID)
	assert.Equal(t, 1, outcome.Summary.ApprovedChoices)
	assert.Equal(t, merge.StrategyApprovedPreferred, outcome.Summary.Strategy)
	assert.ElementsMatch(t, []string{"Buy heirloom seeds", "Water crops"}, contents(f.nodes(t, mine)))

	_, err = f.svc.ResolveMerge(ctx, mine, nil)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestApplyMergeReplacesDraftAndMovesBase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, mine, theirs := diverge(t, f)

	version, err := f.svc.ApplyMerge(ctx, mine, theirs, points("Buy heirloom seeds", "Water crops", "Harvest"))
	require.NoError(t, err)
	assert.Equal(t, theirs, version.BaseVersionID)
	assert.Equal(t, []string{"Buy heirloom seeds", "Water crops", "Harvest"}, contents(f.nodes(t, mine)))

	_, err = f.svc.ApplyMerge(ctx, theirs, mine, points("Buy seeds"))
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.svc.ApplyMerge(ctx, mine, mine, points("Buy seeds"))
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	other := f.createTask(t, garden())
	f.approve(t, other.Version.ID)
	_, err = f.svc.ApplyMerge(ctx, mine, other.Version.ID, points("Buy seeds"))
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestSubmitCreatesTaskAndNodeLevelReviews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds"},
		{ClientID: "water", Content: "Water crops", ReviewerID: "node-rev"},
	})
	nodes := f.nodes(t, detail.Version.ID)

	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	byType := map[model.ReviewerType]model.Review{}
	for _, review := range reviews {
		byType[review.ReviewerType] = review
		assert.Equal(t, model.ReviewPending, review.Status)
		assert.Empty(t, review.BaseVersionID)
	}
	taskLevel := byType[model.ReviewerTaskLevel]
	assert.Equal(t, "rev", taskLevel.ReviewerID)
	assert.True(t, taskLevel.IsAggregate)
	assert.Equal(t, []string{find(t, nodes, "Buy seeds").ID}, taskLevel.AssignedNodeIDs)
	nodeLevel := byType[model.ReviewerNodeLevel]
	assert.Equal(t, "node-rev", nodeLevel.ReviewerID)
	assert.False(t, nodeLevel.IsAggregate)
	assert.Equal(t, []string{find(t, nodes, "Water crops").ID}, nodeLevel.AssignedNodeIDs)

	assert.Equal(t, []string{"1 unassigned node has been modified in task: Garden"}, f.messages(t, "rev"))
	assert.Equal(t, []string{"1 node you're assigned to has been modified in task: Garden"}, f.messages(t, "node-rev"))

	task, err := f.svc.GetTask(ctx, detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskUnderReview, task.Task.Status)
	assert.Equal(t, model.VersionUnderReview, task.Version.Status)

	commits, err := f.svc.TaskHistory(ctx, detail.Task.ID, archive.ReviewBranch(1), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, commits)
}

func TestSubmitRequiresTaskReviewerForUnassignedNodes(t *testing.T) {
	f := newFixture(t)
	detail := f.createTask(t, garden())

	_, err := f.svc.SubmitForReview(context.Background(), detail.Version.ID, "")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	version, err := f.svc.GetVersion(context.Background(), detail.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionDraft, version.Status)
}

func TestSubmitOnlyRoutesChangedAssignedNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assigned := []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds"},
		{ClientID: "water", Content: "Water crops", ReviewerID: "node-rev"},
	}
	detail := f.createTask(t, assigned)
	f.approve(t, detail.Version.ID)

	edited := []model.NodeInput{
		{ClientID: "buy", Content: "Buy organic seeds"},
		{ClientID: "water", Content: "Water crops", ReviewerID: "node-rev"},
	}
	saved, err := f.svc.SaveTask(ctx, "ed", detail.Task.ID, TaskInput{Nodes: edited})
	require.NoError(t, err)
	before := len(f.messages(t, "node-rev"))

	reviews, err := f.svc.SubmitForReview(ctx, saved.Version.ID, "rev")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, model.ReviewerTaskLevel, reviews[0].ReviewerType)
	assert.Equal(t, detail.Version.ID, reviews[0].BaseVersionID)
	assert.Len(t, f.messages(t, "node-rev"), before)
}

func TestResubmitUpdatesPendingReviewsInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())

	first, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	_, err = f.svc.SaveTask(ctx, "ed", detail.Task.ID, TaskInput{Nodes: points("Buy seeds", "Water crops", "Harvest")})
	require.NoError(t, err)
	second, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Len(t, second[0].AssignedNodeIDs, 3)
}

func TestApproveReviewApprovesTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)

	review, err := f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionApprove, Comment: " Looks good "})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, review.Status)
	assert.Equal(t, "Looks good", review.Comment)

	task, err := f.svc.GetTask(ctx, detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskApproved, task.Task.Status)
	assert.Equal(t, model.VersionApproved, task.Version.Status)
	assert.Contains(t, f.messages(t, "ed"), "Your task 'Garden' has been approved")

	commits, err := f.svc.TaskHistory(ctx, detail.Task.ID, "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, commits)

	_, err = f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionApprove})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestRequestChangesReturnsVersionToDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)

	review, err := f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionRequestChanges, Comment: "Add a watering schedule"})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewChangesRequested, review.Status)

	task, err := f.svc.GetTask(ctx, detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDraft, task.Task.Status)
	assert.Equal(t, model.VersionDraft, task.Version.Status)
	assert.Contains(t, f.messages(t, "ed"), "Changes requested for task 'Garden'")

	again, err := f.svc.NotifyEditorChanges(ctx, reviews[0].ID, "ed")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, again.Status)
	assert.Contains(t, f.messages(t, "rev"), "Editor has made changes to task 'Garden' - please re-review")
}

func TestForwardReviewCreatesSuccessor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	original := reviews[0]

	_, err = f.svc.ResolveReview(ctx, original.ID, "rev", Decision{Action: DecisionForward, ForwardTo: "rev"})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.svc.ResolveReview(ctx, original.ID, "rev", Decision{Action: DecisionForward})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	successor, err := f.svc.ResolveReview(ctx, original.ID, "rev", Decision{Action: DecisionForward, ForwardTo: "fwd"})
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, successor.ID)
	assert.Equal(t, "fwd", successor.ReviewerID)
	assert.Equal(t, model.ReviewPending, successor.Status)
	assert.Equal(t, original.ReviewerType, successor.ReviewerType)
	assert.Equal(t, original.IsAggregate, successor.IsAggregate)
	assert.Equal(t, original.AssignedNodeIDs, successor.AssignedNodeIDs)

	forwarded, err := f.svc.GetReview(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewForwarded, forwarded.Status)

	assert.Contains(t, f.messages(t, "fwd"), "Review forwarded to you for task 'Garden'")
	assert.Contains(t, f.messages(t, "ed"), "Your task has been forwarded to another reviewer")

	_, err = f.svc.ResolveReview(ctx, successor.ID, "fwd", Decision{Action: DecisionApprove})
	require.NoError(t, err)
}

func TestStaleApprovalRaisesConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID, v1 := f.approvedTask(t)

	a, err := f.svc.SaveTask(ctx, "ed", taskID, TaskInput{VersionID: v1, Nodes: points("Buy organic seeds", "Water crops")})
	require.NoError(t, err)
	b, err := f.svc.SaveTask(ctx, "alt", taskID, TaskInput{VersionID: v1, Nodes: points("Buy heirloom seeds", "Water crops")})
	require.NoError(t, err)
	reviewsA, err := f.svc.SubmitForReview(ctx, a.Version.ID, "rev")
	require.NoError(t, err)
	f.approve(t, b.Version.ID)

	_, err = f.svc.ResolveReview(ctx, reviewsA[0].ID, "rev", Decision{Action: DecisionApprove})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, b.Version.ID, conflict.Conflict.ApprovedVersion.Version.ID)

	review, err := f.svc.GetReview(ctx, reviewsA[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, review.Status)
	task, err := f.svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, b.Version.ID, task.Task.CurrentVersionID)
}

func TestLeftoverReviewOnSettledVersionKeepsCurrentDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds"},
		{ClientID: "water", Content: "Water crops", ReviewerID: "node-rev"},
	})
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	byType := map[model.ReviewerType]model.Review{}
	for _, review := range reviews {
		byType[review.ReviewerType] = review
	}

	_, err = f.svc.ResolveReview(ctx, byType[model.ReviewerTaskLevel].ID, "rev", Decision{Action: DecisionApprove})
	require.NoError(t, err)
	saved, err := f.svc.SaveTask(ctx, "ed", detail.Task.ID, TaskInput{
		VersionID: detail.Version.ID,
		Nodes:     points("Buy organic seeds", "Water crops"),
	})
	require.NoError(t, err)
	require.NotEqual(t, detail.Version.ID, saved.Version.ID)
	approvals := len(f.messages(t, "ed"))

	leftover, err := f.svc.ResolveReview(ctx, byType[model.ReviewerNodeLevel].ID, "node-rev", Decision{Action: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, leftover.Status)
	assert.Len(t, f.messages(t, "ed"), approvals)

	task, err := f.svc.GetTask(ctx, detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Version.ID, task.Task.CurrentVersionID)
	assert.Equal(t, model.TaskDraft, task.Task.Status)
	assert.Equal(t, model.VersionDraft, task.Version.Status)
	v1, err := f.svc.GetVersion(ctx, detail.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionApproved, v1.Status)
}

func TestLeftoverReviewOnCompletedVersionKeepsCompletion(t *testing.T) {
	tests := []struct {
		name   string
		action DecisionAction
		status model.ReviewStatus
	}{
		{name: "approve", action: DecisionApprove, status: model.ReviewApproved},
		{name: "request changes", action: DecisionRequestChanges, status: model.ReviewChangesRequested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			detail := f.createTask(t, []model.NodeInput{
				{ClientID: "buy", Content: "Buy seeds"},
				{ClientID: "water", Content: "Water crops", ReviewerID: "node-rev"},
			})
			reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
			require.NoError(t, err)
			var leftoverID string
			for _, review := range reviews {
				if review.ReviewerType == model.ReviewerNodeLevel {
					leftoverID = review.ID
					continue
				}
				_, err := f.svc.ResolveReview(ctx, review.ID, "rev", Decision{Action: DecisionApprove})
				require.NoError(t, err)
			}
			require.NotEmpty(t, leftoverID)
			completed, err := f.svc.CompleteTask(ctx, "ed", detail.Task.ID)
			require.NoError(t, err)

			review, err := f.svc.ResolveReview(ctx, leftoverID, "node-rev", Decision{Action: tt.action})
			require.NoError(t, err)
			assert.Equal(t, tt.status, review.Status)

			task, err := f.svc.GetTask(ctx, detail.Task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.TaskCompleted, task.Task.Status)
			assert.Equal(t, model.VersionCompleted, task.Version.Status)
			require.NotNil(t, task.Task.CompletedAt)
			assert.True(t, completed.CompletedAt.Equal(*task.Task.CompletedAt))
		})
	}
}

func TestCompleteAndMarkIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())

	_, err := f.svc.CompleteTask(ctx, "ed", detail.Task.ID)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	f.approve(t, detail.Version.ID)
	task, err := f.svc.CompleteTask(ctx, "ed", detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
	version, err := f.svc.GetVersion(ctx, detail.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionCompleted, version.Status)
	assert.Contains(t, f.messages(t, "ed"), "Task 'Garden' has been marked as completed")
	assert.Contains(t, f.messages(t, "rev"), "Task 'Garden' has been marked as completed")

	task, err = f.svc.MarkIncomplete(ctx, "ed", detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDraft, task.Status)
	assert.Nil(t, task.CompletedAt)
	version, err = f.svc.GetVersion(ctx, detail.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionApproved, version.Status)
	assert.Contains(t, f.messages(t, "rev"), "Task 'Garden' has been marked as incomplete and needs review")
	reopened, err := f.svc.ListNotifications(ctx, "rev", false)
	require.NoError(t, err)
	kinds := map[string]model.NotificationType{}
	for _, notification := range reopened {
		kinds[notification.Message] = notification.Type
	}
	assert.Equal(t, model.NotifyTaskCompleted, kinds["Task 'Garden' has been marked as completed"])
	assert.Equal(t, model.NotifyTaskIncomplete, kinds["Task 'Garden' has been marked as incomplete and needs review"])

	_, err = f.svc.MarkIncomplete(ctx, "ed", detail.Task.ID)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	saved, err := f.svc.SaveTask(ctx, "ed", detail.Task.ID, TaskInput{Nodes: points("Buy seeds", "Water crops", "Harvest")})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version.VersionNumber)
}

func TestNodeOperationsOnDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, points("Buy seeds", "Water crops", "Harvest"))
	versionID := detail.Version.ID
	nodes := f.nodes(t, versionID)
	buy := find(t, nodes, "Buy seeds")

	child, err := f.svc.AddNode(ctx, versionID, buy.ID, model.NodeInput{Content: "Compare suppliers", ListStyle: model.ListLowerAlpha})
	require.NoError(t, err)
	assert.Equal(t, 2, child.Level)
	assert.Equal(t, 1, child.Position)
	assert.Equal(t, buy.ID, child.ParentID)

	_, err = f.svc.ChangeNodeLevel(ctx, child.ID, 1)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	deeper, err := f.svc.ChangeNodeLevel(ctx, child.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, deeper.Level)

	_, err = f.svc.SetNodeCompleted(ctx, buy.ID, true)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	_, err = f.svc.SetNodeCompleted(ctx, child.ID, true)
	require.NoError(t, err)
	buy, err = f.svc.getNode(ctx, buy.ID)
	require.NoError(t, err)
	assert.True(t, buy.Completed)

	harvest := find(t, nodes, "Harvest")
	moved, err := f.svc.MoveNode(ctx, harvest.ID, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Position)
	positions := map[string]int{}
	for _, node := range f.nodes(t, versionID) {
		if node.ParentID == "" {
			positions[node.Content] = node.Position
		}
	}
	assert.Equal(t, map[string]int{"Harvest": 1, "Buy seeds": 2, "Water crops": 3}, positions)

	_, err = f.svc.MoveNode(ctx, buy.ID, child.ID, 0)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	require.NoError(t, f.svc.DeleteNode(ctx, buy.ID))
	assert.Equal(t, []string{"Harvest", "Water crops"}, contents(f.nodes(t, versionID)))

	f.approve(t, versionID)
	_, err = f.svc.AddNode(ctx, versionID, "", model.NodeInput{Content: "Compost"})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestCommentsCarryNodePreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := "<p>" + strings.Repeat("Water the <b>tomatoes</b> &amp; beans ", 6) + "</p>"
	detail := f.createTask(t, points("Buy seeds", long))
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	reviewID := reviews[0].ID
	target := find(t, f.nodes(t, detail.Version.ID), long)

	_, err = f.svc.AddComment(ctx, "rev", reviewID, CommentInput{Content: "   "})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	other := f.createTask(t, garden())
	_, err = f.svc.AddComment(ctx, "rev", reviewID, CommentInput{Content: "Wrong task", ActionNodeID: f.nodes(t, other.Version.ID)[0].ID})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	view, err := f.svc.AddComment(ctx, "rev", reviewID, CommentInput{Content: "Which beans?", ActionNodeID: target.ID})
	require.NoError(t, err)
	assert.Equal(t, "Rita Reviewer", view.AuthorName)
	assert.Equal(t, "2", view.NodeCounter)
	assert.True(t, strings.HasPrefix(view.NodePreview, "Water the tomatoes & beans Water"))
	assert.True(t, strings.HasSuffix(view.NodePreview, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(view.NodePreview), 100)
	assert.Contains(t, f.messages(t, "ed"), "New comment on task 'Garden' by Rita Reviewer")
	assert.NotContains(t, f.messages(t, "rev"), "New comment on task 'Garden' by Rita Reviewer")

	resolved, err := f.svc.ResolveComment(ctx, "ed", reviewID, view.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Contains(t, f.messages(t, "rev"), "Your comment on task 'Garden' was resolved")

	comments, err := f.svc.ListComments(ctx, reviewID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.True(t, comments[0].Resolved)

	_, err = f.svc.ResolveComment(ctx, "ed", reviewID, "cmt_missing")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestNodePreviewKeepsShortText(t *testing.T) {
	assert.Equal(t, "Buy seeds", nodePreview("<p>Buy   <em>seeds</em></p>"))
	long := strings.Repeat("x", 150)
	assert.Equal(t, strings.Repeat("x", 97)+"...", nodePreview(long))
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	_, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)

	unread, err := f.svc.ListNotifications(ctx, "rev", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	err = f.svc.MarkNotificationRead(ctx, unread[0].ID, "ed")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	require.NoError(t, f.svc.MarkNotificationRead(ctx, unread[0].ID, "rev"))

	unread, err = f.svc.ListNotifications(ctx, "rev", true)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestDestroyTaskRemovesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	taskID := detail.Task.ID
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	_, err = f.svc.AddComment(ctx, "rev", reviews[0].ID, CommentInput{Content: "Fine by me"})
	require.NoError(t, err)
	_, err = f.svc.ResolveReview(ctx, reviews[0].ID, "rev", Decision{Action: DecisionApprove})
	require.NoError(t, err)
	draft, err := f.svc.SaveTask(ctx, "ed", taskID, TaskInput{Nodes: points("Buy organic seeds")})
	require.NoError(t, err)

	require.NoError(t, f.svc.DestroyTask(ctx, taskID))

	_, err = f.svc.GetTask(ctx, taskID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = f.svc.GetVersion(ctx, draft.Version.ID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	_, err = f.svc.GetReview(ctx, reviews[0].ID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
	assert.Empty(t, f.messages(t, "rev"))
	assert.Empty(t, f.messages(t, "ed"))
	assert.Empty(t, f.nodes(t, detail.Version.ID))
	assert.Contains(t, f.index.deleted, taskID)

	commits, err := f.archive.History(taskID, archive.MainBranch, 10)
	require.NoError(t, err)
	assert.Empty(t, commits)

	err = f.svc.DestroyTask(ctx, taskID)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestTaskHistoryUnknownBranch(t *testing.T) {
	f := newFixture(t)
	taskID, _ := f.approvedTask(t)

	_, err := f.svc.TaskHistory(context.Background(), taskID, archive.ReviewBranch(42), 10)
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestSearchWithoutIndexReportsNone(t *testing.T) {
	svc := New(store.NewMemoryStore(), zerolog.Nop())
	response := svc.SearchTasks(context.Background(), search.Query{Text: "seeds"})
	assert.Equal(t, "none", response.Backend)
	assert.Empty(t, response.Results)
}

func TestReindexRecordsCoversEveryTask(t *testing.T) {
	f := newFixture(t)
	first := f.createTask(t, garden())
	second := f.createTask(t, points("Prune roses"))

	records, err := f.svc.ReindexRecords(context.Background())
	require.NoError(t, err)
	ids := []string{}
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	assert.ElementsMatch(t, []string{first.Task.ID, second.Task.ID}, ids)
}

func TestCreateDraftCopiesNodesWithParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, []model.NodeInput{
		{ClientID: "buy", Content: "Buy seeds"},
		{ClientID: "compare", ParentClientID: "buy", Content: "Compare suppliers", Level: 2},
	})
	f.approve(t, detail.Version.ID)

	draft, err := f.svc.CreateDraft(ctx, detail.Version.ID, "alt")
	require.NoError(t, err)
	assert.Equal(t, 2, draft.VersionNumber)
	assert.Equal(t, detail.Version.ID, draft.BaseVersionID)
	assert.Equal(t, "alt", draft.EditorID)

	copied := f.nodes(t, draft.ID)
	require.Len(t, copied, 2)
	parent := find(t, copied, "Buy seeds")
	child := find(t, copied, "Compare suppliers")
	assert.Equal(t, parent.ID, child.ParentID)
	original := f.nodes(t, detail.Version.ID)
	assert.NotEqual(t, find(t, original, "Buy seeds").ID, parent.ID)

	task, err := f.svc.GetTask(ctx, detail.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, detail.Version.ID, task.Task.CurrentVersionID)

	_, err = f.svc.CreateVersion(ctx, detail.Task.ID, "ed")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestApprovingOtherDraftKeepsCurrentPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID, v1 := f.approvedTask(t)

	a, err := f.svc.SaveTask(ctx, "ed", taskID, TaskInput{VersionID: v1, Nodes: points("Buy organic seeds", "Water crops")})
	require.NoError(t, err)
	b, err := f.svc.SaveTask(ctx, "alt", taskID, TaskInput{VersionID: v1, Nodes: points("Buy heirloom seeds", "Water crops")})
	require.NoError(t, err)
	f.approve(t, a.Version.ID)

	approved, err := f.svc.GetVersion(ctx, a.Version.ID)
	require.NoError(t, err)
	assert.Equal(t, model.VersionApproved, approved.Status)
	task, err := f.svc.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, b.Version.ID, task.Task.CurrentVersionID)
	assert.Equal(t, model.TaskDraft, task.Task.Status)
}

func TestFailedApplyMergeLeavesDraftUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, v1, mine, theirs := diverge(t, f)
	before := contents(f.nodes(t, mine))

	resolved := points("Buy heirloom seeds", "Water crops")
	resolved = append(resolved, model.NodeInput{Content: "Harvest", ReviewerID: "ghost"})
	_, err := f.svc.ApplyMerge(ctx, mine, theirs, resolved)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	assert.Equal(t, before, contents(f.nodes(t, mine)))
	version, err := f.svc.GetVersion(ctx, mine)
	require.NoError(t, err)
	assert.Equal(t, v1, version.BaseVersionID)
}

func TestReviewDetailAnnotatesNodesAgainstBase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.createTask(t, points("Buy seeds", "Water crops", "Harvest"))
	reviews, err := f.svc.SubmitForReview(ctx, first.Version.ID, "rev")
	require.NoError(t, err)
	view, err := f.svc.ReviewDetail(ctx, reviews[0].ID)
	require.NoError(t, err)
	require.Len(t, view.Nodes, 3)
	for _, node := range view.Nodes {
		assert.Equal(t, DiffAdded, node.DiffStatus, node.Content)
	}
	assert.Empty(t, view.Removed)
	for _, review := range reviews {
		_, err := f.svc.ResolveReview(ctx, review.ID, review.ReviewerID, Decision{Action: DecisionApprove})
		require.NoError(t, err)
	}

	saved, err := f.svc.SaveTask(ctx, "ed", first.Task.ID, TaskInput{
		VersionID: first.Version.ID,
		Nodes: []model.NodeInput{
			{ClientID: "buy", Content: "Buy seeds", NodeType: model.NodePoint},
			{ClientID: "compare", ParentClientID: "buy", Content: "Compare suppliers", Level: 2, ListStyle: model.ListLowerAlpha},
			{ClientID: "water", Content: "Water crops daily", NodeType: model.NodePoint},
		},
	})
	require.NoError(t, err)
	reviews, err = f.svc.SubmitForReview(ctx, saved.Version.ID, "rev")
	require.NoError(t, err)
	_, err = f.svc.AddComment(ctx, "rev", reviews[0].ID, CommentInput{Content: "Why drop the harvest?"})
	require.NoError(t, err)

	view, err = f.svc.ReviewDetail(ctx, reviews[0].ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Version.ID, view.Version.ID)
	assert.Equal(t, first.Task.ID, view.Task.ID)
	require.Len(t, view.Nodes, 2)
	assert.Equal(t, "Buy seeds", view.Nodes[0].Content)
	assert.Equal(t, DiffUnchanged, view.Nodes[0].DiffStatus)
	require.Len(t, view.Nodes[0].Children, 1)
	assert.Equal(t, DiffAdded, view.Nodes[0].Children[0].DiffStatus)
	assert.Equal(t, "a", view.Nodes[0].Children[0].Counter)
	assert.Equal(t, "Water crops daily", view.Nodes[1].Content)
	assert.Equal(t, DiffModified, view.Nodes[1].DiffStatus)
	require.Len(t, view.Removed, 1)
	assert.Equal(t, "Harvest", view.Removed[0].Content)
	assert.Equal(t, DiffDeleted, view.Removed[0].DiffStatus)
	require.Len(t, view.Comments, 1)

	_, err = f.svc.ReviewDetail(ctx, "rev_missing")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestReviewInboxCoversReviewerAndEditor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	detail := f.createTask(t, garden())
	reviews, err := f.svc.SubmitForReview(ctx, detail.Version.ID, "rev")
	require.NoError(t, err)
	require.Len(t, reviews, 1)

	for _, user := range []string{"rev", "ed"} {
		inbox, err := f.svc.ReviewInbox(ctx, user)
		require.NoError(t, err)
		require.Len(t, inbox, 1, user)
		assert.Equal(t, reviews[0].ID, inbox[0].ID)
	}
	inbox, err := f.svc.ReviewInbox(ctx, "fwd")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	_, err = f.svc.ReviewInbox(ctx, "nobody")
	requireDomainError(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestListTasksByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.createTask(t, garden())
	approvedID, _ := f.approvedTask(t)
	completed := f.createTask(t, garden())
	f.approve(t, completed.Version.ID)
	_, err := f.svc.CompleteTask(ctx, "ed", completed.Task.ID)
	require.NoError(t, err)

	ids := func(status model.TaskStatus) []string {
		tasks, err := f.svc.ListTasks(ctx, status, 0)
		require.NoError(t, err)
		out := make([]string, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, task.ID)
		}
		return out
	}
	assert.Equal(t, []string{draft.Task.ID}, ids(model.TaskDraft))
	assert.Equal(t, []string{approvedID}, ids(model.TaskApproved))
	assert.Equal(t, []string{completed.Task.ID}, ids(model.TaskCompleted))
	assert.Len(t, ids(""), 3)
}
