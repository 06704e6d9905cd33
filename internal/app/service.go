package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskreview/api/internal/archive"
	"taskreview/api/internal/export"
	"taskreview/api/internal/merge"
	"taskreview/api/internal/metrics"
	"taskreview/api/internal/model"
	"taskreview/api/internal/search"
	"taskreview/api/internal/store"
	"taskreview/api/internal/tree"
	"taskreview/api/internal/util"
)

type dispatcher interface {
	Dispatch(ctx context.Context, notifications []model.Notification)
}

type archiver interface {
	CommitSnapshot(snapshot archive.Snapshot, branch, author, message string) (archive.Commit, error)
	Tag(taskID, revision, name string) error
	History(taskID, branch string, limit int) ([]archive.Commit, error)
	Remove(taskID string) error
}

type taskIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexTask(record search.TaskRecord)
	DeleteTask(id string)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	store   store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	notify  dispatcher
	archive archiver
	search  taskIndex
	export  exporter
	now     func() time.Time
}

type Option func(*Service)

func WithDispatcher(d dispatcher) Option    { return func(s *Service) { s.notify = d } }
func WithArchive(a archiver) Option         { return func(s *Service) { s.archive = a } }
func WithSearch(idx taskIndex) Option       { return func(s *Service) { s.search = idx } }
func WithExporter(e exporter) Option        { return func(s *Service) { s.export = e } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(st store.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// outbox collects what a mutation wants to happen once its transaction commits.
type outbox struct {
	now           time.Time
	notifications []model.Notification
	effects       []func(context.Context)
}

func (o *outbox) notify(recipientID, taskID, reviewID string, kind model.NotificationType, message string) {
	if recipientID == "" {
		return
	}
	o.notifications = append(o.notifications, model.Notification{
		ID:          util.NewID("ntf"),
		RecipientID: recipientID,
		TaskID:      taskID,
		ReviewID:    reviewID,
		Message:     message,
		Type:        kind,
		CreatedAt:   o.now,
	})
}

func (o *outbox) after(effect func(context.Context)) {
	o.effects = append(o.effects, effect)
}

// mutate runs fn in one transaction and only then releases the outbox. A
// rolled-back transaction sends nothing.
func (s *Service) mutate(ctx context.Context, fn func(tx store.Tx, out *outbox) error) error {
	var out *outbox
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		out = &outbox{now: s.now()}
		return fn(tx, out)
	})
	if err != nil {
		return s.fail(err)
	}
	if s.notify != nil && len(out.notifications) > 0 {
		s.notify.Dispatch(ctx, out.notifications)
	}
	for _, effect := range out.effects {
		effect(ctx)
	}
	return nil
}

func (s *Service) fail(err error) error {
	classified := classify(err)
	if domainErr, ok := classified.(*DomainError); ok {
		if domainErr.Code == "INVARIANT_VIOLATION" {
			s.log.Error().Str("code", domainErr.Code).Msg(domainErr.Message)
		}
		return domainErr
	}
	if _, ok := classified.(*ConflictError); ok {
		s.metrics.MergeConflict()
		return classified
	}
	s.log.Error().Err(err).Msg("store operation failed")
	return classified
}

type TaskInput struct {
	Description    string
	SectorDivision string
	Responsibility string
	OriginalDate   *time.Time
	// VersionID is the version the editor worked from; empty means the task's
	// current version.
	VersionID string
	// Nodes replaces the working version's content. Nil leaves content untouched.
	Nodes []model.NodeInput
	// Resolutions settles a merge conflict raised by an earlier save.
	Resolutions map[string]merge.Resolution
}

type TreeNode struct {
	model.Node
	Counter  string     `json:"counter"`
	Children []TreeNode `json:"children"`
}

type TaskDetail struct {
	Task    model.Task     `json:"task"`
	Version *model.Version `json:"version,omitempty"`
	Nodes   []TreeNode     `json:"nodes"`
}

func treeNodes(entries []*tree.Entry) []TreeNode {
	siblings := make([]model.Node, len(entries))
	for i, entry := range entries {
		siblings[i] = entry.Node
	}
	out := make([]TreeNode, 0, len(entries))
	for _, entry := range entries {
		out = append(out, TreeNode{
			Node:     entry.Node,
			Counter:  tree.DisplayCounter(entry.Node, siblings),
			Children: treeNodes(entry.Children),
		})
	}
	return out
}

func requireUser(ctx context.Context, r store.Reader, id string) (model.User, error) {
	if strings.TrimSpace(id) == "" {
		return model.User{}, validationError("actor", "an acting user is required")
	}
	user, err := r.GetUser(ctx, id)
	if err != nil {
		return model.User{}, missing(err, "user", id)
	}
	return user, nil
}

// EnsureUser records a directory entry so it can act as editor or reviewer.
func (s *Service) EnsureUser(ctx context.Context, user model.User) (model.User, error) {
	user.ID = strings.TrimSpace(user.ID)
	user.FullName = strings.TrimSpace(user.FullName)
	if user.ID == "" {
		return model.User{}, validationError("id", "user id is required")
	}
	if user.FullName == "" {
		user.FullName = user.ID
	}
	err := s.mutate(ctx, func(tx store.Tx, _ *outbox) error {
		return tx.UpsertUser(ctx, user)
	})
	return user, err
}

func (s *Service) GetUser(ctx context.Context, id string) (model.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return model.User{}, s.fail(missing(err, "user", id))
	}
	return user, nil
}

// ListTasks lists tasks most recently updated first. An empty status lists all.
func (s *Service) ListTasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.Task, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, s.fail(err)
	}
	return tasks, nil
}

func (s *Service) GetTask(ctx context.Context, taskID string) (TaskDetail, error) {
	detail, err := loadDetail(ctx, s.store, taskID)
	if err != nil {
		return TaskDetail{}, s.fail(err)
	}
	return detail, nil
}

func loadDetail(ctx context.Context, r store.Reader, taskID string) (TaskDetail, error) {
	task, err := r.GetTask(ctx, taskID)
	if err != nil {
		return TaskDetail{}, missing(err, "task", taskID)
	}
	detail := TaskDetail{Task: task, Nodes: []TreeNode{}}
	if task.CurrentVersionID == "" {
		return detail, nil
	}
	version, err := r.GetVersion(ctx, task.CurrentVersionID)
	if err != nil {
		return TaskDetail{}, fmt.Errorf("load current version: %w", err)
	}
	nodes, err := r.ListNodes(ctx, version.ID)
	if err != nil {
		return TaskDetail{}, fmt.Errorf("load nodes: %w", err)
	}
	detail.Version = &version
	detail.Nodes = treeNodes(tree.Build(nodes).Roots)
	return detail, nil
}

func (s *Service) CreateTask(ctx context.Context, actorID string, input TaskInput) (TaskDetail, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return TaskDetail{}, validationError("description", "description is required")
	}
	task := model.Task{
		ID:             util.NewID("task"),
		Description:    description,
		SectorDivision: strings.TrimSpace(input.SectorDivision),
		Responsibility: strings.TrimSpace(input.Responsibility),
		OriginalDate:   model.DateOnly(input.OriginalDate),
		Status:         model.TaskDraft,
		EditorID:       actorID,
	}
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
			return err
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		version := model.Version{
			ID:            util.NewID("ver"),
			TaskID:        task.ID,
			VersionNumber: 1,
			Status:        model.VersionDraft,
			EditorID:      actorID,
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}
		if _, err := writeNodes(ctx, tx, version.ID, input.Nodes); err != nil {
			return err
		}
		nodes, err := rollupVersion(ctx, tx, version.ID)
		if err != nil {
			return err
		}
		task.CurrentVersionID = version.ID
		task.ReviewDate = tree.EarliestReviewDate(nodes)
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
		return nil
	})
	if err != nil {
		return TaskDetail{}, err
	}
	s.log.Info().Str("task_id", task.ID).Str("editor_id", actorID).Msg("task created")
	return s.GetTask(ctx, task.ID)
}

// SaveTask edits a task's metadata and, when input.Nodes is set, replaces the
// content of its working version. Approved work is never edited in place: a new
// draft is branched from it. A draft whose base is no longer the latest approved
// version is rejected with a ConflictError unless input.Resolutions settles it.
func (s *Service) SaveTask(ctx context.Context, actorID, taskID string, input TaskInput) (TaskDetail, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
			return err
		}
		task, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return missing(err, "task", taskID)
		}
		if err := applyTaskMetadata(&task, input); err != nil {
			return err
		}
		if input.Nodes == nil {
			if err := tx.UpdateTask(ctx, task); err != nil {
				return err
			}
			out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
			return nil
		}

		working, err := s.workingVersion(ctx, tx, task, input.VersionID, actorID)
		if err != nil {
			return err
		}
		nodes := input.Nodes
		latest, err := tx.LatestApprovedVersion(ctx, task.ID)
		if err != nil {
			return err
		}
		if latest != nil && merge.BaseOutdated(working, latest) {
			proposed, err := proposedNodes(working.ID, nodes)
			if err != nil {
				return err
			}
			if input.Resolutions == nil {
				conflict, err := buildConflict(ctx, tx, task.ID, working, proposed, *latest)
				if err != nil {
					return err
				}
				return &ConflictError{Conflict: conflict}
			}
			c, err := categorizeAgainst(ctx, tx, proposed, *latest, working.BaseVersionID)
			if err != nil {
				return err
			}
			s.recordCategorization(c)
			if nodes, err = merge.Resolve(c, input.Resolutions); err != nil {
				return err
			}
			working.BaseVersionID = latest.ID
			if err := tx.UpdateVersion(ctx, working); err != nil {
				return err
			}
		}

		if err := replaceNodes(ctx, tx, working.ID, nodes); err != nil {
			return err
		}
		rolled, err := rollupVersion(ctx, tx, working.ID)
		if err != nil {
			return err
		}
		task.CurrentVersionID = working.ID
		task.Status = model.TaskDraft
		task.CompletedAt = nil
		task.ReviewDate = tree.EarliestReviewDate(rolled)
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
		return nil
	})
	if err != nil {
		return TaskDetail{}, err
	}
	return s.GetTask(ctx, taskID)
}

func applyTaskMetadata(task *model.Task, input TaskInput) error {
	if input.Description != "" {
		description := strings.TrimSpace(input.Description)
		if description == "" {
			return validationError("description", "description must not be blank")
		}
		task.Description = description
	}
	if input.SectorDivision != "" {
		task.SectorDivision = strings.TrimSpace(input.SectorDivision)
	}
	if input.Responsibility != "" {
		task.Responsibility = strings.TrimSpace(input.Responsibility)
	}
	if input.OriginalDate != nil {
		task.OriginalDate = model.DateOnly(input.OriginalDate)
	}
	return nil
}

// workingVersion returns the draft that an edit lands in, branching or reopening
// versions as needed.
func (s *Service) workingVersion(ctx context.Context, tx store.Tx, task model.Task, versionID, actorID string) (model.Version, error) {
	if versionID == "" {
		versionID = task.CurrentVersionID
	}
	if versionID == "" {
		return createFirstVersion(ctx, tx, task.ID, actorID)
	}
	version, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return model.Version{}, missing(err, "version", versionID)
	}
	if version.TaskID != task.ID {
		return model.Version{}, validationError("version_id", "version %s belongs to another task", versionID)
	}
	switch {
	case version.Status.Frozen():
		return branchDraft(ctx, tx, version, actorID)
	case version.Status == model.VersionUnderReview:
		version.Status = model.VersionDraft
		if err := tx.UpdateVersion(ctx, version); err != nil {
			return model.Version{}, err
		}
	}
	return version, nil
}

func (s *Service) CompleteTask(ctx context.Context, actorID, taskID string) (model.Task, error) {
	var task model.Task
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
			return err
		}
		var err error
		if task, err = tx.LockTask(ctx, taskID); err != nil {
			return missing(err, "task", taskID)
		}
		if task.Status != model.TaskApproved {
			return validationError("status", "only an approved task can be completed; task is %s", task.Status)
		}
		version, err := tx.GetVersion(ctx, task.CurrentVersionID)
		if err != nil {
			return fmt.Errorf("load current version: %w", err)
		}
		completedAt := out.now
		task.Status = model.TaskCompleted
		task.CompletedAt = &completedAt
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		version.Status = model.VersionCompleted
		if err := tx.UpdateVersion(ctx, version); err != nil {
			return err
		}
		recipients, err := involvedUsers(ctx, tx, version)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("Task '%s' has been marked as completed", task.Description)
		for _, recipient := range recipients {
			out.notify(recipient, task.ID, "", model.NotifyTaskCompleted, message)
		}
		out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	return s.reloadTask(ctx, taskID)
}

// MarkIncomplete reopens a completed task. Its content stays frozen, so the next
// edit branches a new draft that has to go through review again.
func (s *Service) MarkIncomplete(ctx context.Context, actorID, taskID string) (model.Task, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
			return err
		}
		task, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return missing(err, "task", taskID)
		}
		if task.Status != model.TaskCompleted {
			return validationError("status", "task is %s, not completed", task.Status)
		}
		version, err := tx.GetVersion(ctx, task.CurrentVersionID)
		if err != nil {
			return fmt.Errorf("load current version: %w", err)
		}
		task.Status = model.TaskDraft
		task.CompletedAt = nil
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		version.Status = model.VersionApproved
		if err := tx.UpdateVersion(ctx, version); err != nil {
			return err
		}
		recipients, err := involvedUsers(ctx, tx, version)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("Task '%s' has been marked as incomplete and needs review", task.Description)
		for _, recipient := range recipients {
			out.notify(recipient, task.ID, "", model.NotifyTaskIncomplete, message)
		}
		out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	return s.reloadTask(ctx, taskID)
}

func (s *Service) reloadTask(ctx context.Context, taskID string) (model.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, s.fail(missing(err, "task", taskID))
	}
	return task, nil
}

// involvedUsers is the version's editor followed by everyone who reviewed it.
func involvedUsers(ctx context.Context, r store.Reader, version model.Version) ([]string, error) {
	reviews, err := r.ListReviews(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{version.EditorID: true}
	out := []string{version.EditorID}
	for _, review := range reviews {
		if !seen[review.ReviewerID] {
			seen[review.ReviewerID] = true
			out = append(out, review.ReviewerID)
		}
	}
	return out, nil
}

// DestroyTask hard-deletes a task and everything hanging off it, children before
// the rows they reference.
func (s *Service) DestroyTask(ctx context.Context, taskID string) error {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := tx.LockTask(ctx, taskID); err != nil {
			return missing(err, "task", taskID)
		}
		versions, err := tx.ListVersions(ctx, taskID)
		if err != nil {
			return err
		}
		steps := []func(context.Context, string) error{
			tx.DeleteTaskNotifications,
			tx.ClearVersionReferences,
			tx.DeleteTaskComments,
			tx.DeleteTaskReviews,
		}
		for _, step := range steps {
			if err := step(ctx, taskID); err != nil {
				return err
			}
		}
		for _, version := range versions {
			nodes, err := tx.ListNodes(ctx, version.ID)
			if err != nil {
				return err
			}
			for _, id := range tree.DeleteAllOrder(nodes) {
				if err := tx.DeleteNode(ctx, id); err != nil {
					return fmt.Errorf("delete node %s: %w", id, err)
				}
			}
		}
		if err := tx.DeleteTaskVersions(ctx, taskID); err != nil {
			return err
		}
		if err := tx.DeleteTask(ctx, taskID); err != nil {
			return err
		}
		out.after(func(ctx context.Context) {
			if s.search != nil {
				s.search.DeleteTask(taskID)
			}
			if s.archive != nil {
				if err := s.archive.Remove(taskID); err != nil {
					s.log.Warn().Err(err).Str("task_id", taskID).Msg("remove task archive")
				}
			}
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("task_id", taskID).Msg("task destroyed")
	return nil
}

func (s *Service) SearchTasks(ctx context.Context, q search.Query) search.Response {
	if q.Limit <= 0 {
		q.Limit = 25
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}
	}
	return s.search.Search(ctx, q)
}

// ReindexRecords loads every task with its current content for a full search reindex.
func (s *Service) ReindexRecords(ctx context.Context) ([]search.TaskRecord, error) {
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	records := make([]search.TaskRecord, 0, len(tasks))
	for _, task := range tasks {
		var nodes []model.Node
		if task.CurrentVersionID != "" {
			if nodes, err = s.store.ListNodes(ctx, task.CurrentVersionID); err != nil {
				return nil, err
			}
		}
		records = append(records, search.RecordFor(task, nodes))
	}
	return records, nil
}

func (s *Service) indexTask(ctx context.Context, taskID string) {
	if s.search == nil {
		return
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", taskID).Msg("load task for indexing")
		return
	}
	var nodes []model.Node
	if task.CurrentVersionID != "" {
		if nodes, err = s.store.ListNodes(ctx, task.CurrentVersionID); err != nil {
			s.log.Warn().Err(err).Str("task_id", taskID).Msg("load nodes for indexing")
			return
		}
	}
	s.search.IndexTask(search.RecordFor(task, nodes))
}

// archiveVersion commits the version's content to the task archive. Archive
// failures are logged and never undo the committed change.
func (s *Service) archiveVersion(ctx context.Context, versionID, authorID, branch, message string, tag bool) {
	if s.archive == nil {
		return
	}
	err := func() error {
		version, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		task, err := s.store.GetTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		nodes, err := s.store.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		author := authorID
		if user, err := s.store.GetUser(ctx, authorID); err == nil {
			author = user.FullName
		}
		commit, err := s.archive.CommitSnapshot(archive.NewSnapshot(task, version, nodes), branch, author, message)
		if err != nil {
			return err
		}
		s.log.Debug().Str("task_id", task.ID).Str("branch", branch).Str("commit", commit.Hash).Msg("version archived")
		if tag {
			return s.archive.Tag(task.ID, branch, archive.VersionTag(version.VersionNumber))
		}
		return nil
	}()
	s.metrics.ArchiveCommit(err)
	if err != nil {
		s.log.Warn().Err(err).Str("version_id", versionID).Msg("archive version")
	}
}

// TaskHistory lists archived commits, newest first.
func (s *Service) TaskHistory(ctx context.Context, taskID, branch string, limit int) ([]archive.Commit, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, s.fail(missing(err, "task", taskID))
	}
	if s.archive == nil {
		return []archive.Commit{}, nil
	}
	if branch == "" {
		branch = archive.MainBranch
	}
	commits, err := s.archive.History(taskID, branch, limit)
	if errors.Is(err, archive.ErrUnknownBranch) {
		return nil, notFound("branch", branch)
	}
	if err != nil {
		return nil, s.fail(err)
	}
	return commits, nil
}
