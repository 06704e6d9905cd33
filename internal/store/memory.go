package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"taskreview/api/internal/model"
	"taskreview/api/internal/util"
)

var errReferenced = errors.New("row is still referenced")

type memState struct {
	users         map[string]model.User
	tasks         map[string]model.Task
	versions      map[string]model.Version
	nodes         map[string]model.Node
	reviews       map[string]model.Review
	trails        map[string]model.CommentTrail
	comments      map[string]model.Comment
	notifications map[string]model.Notification
}

func newMemState() *memState {
	return &memState{
		users:         map[string]model.User{},
		tasks:         map[string]model.Task{},
		versions:      map[string]model.Version{},
		nodes:         map[string]model.Node{},
		reviews:       map[string]model.Review{},
		trails:        map[string]model.CommentTrail{},
		comments:      map[string]model.Comment{},
		notifications: map[string]model.Notification{},
	}
}

func (st *memState) clone() *memState {
	return &memState{
		users:         maps.Clone(st.users),
		tasks:         maps.Clone(st.tasks),
		versions:      maps.Clone(st.versions),
		nodes:         maps.Clone(st.nodes),
		reviews:       maps.Clone(st.reviews),
		trails:        maps.Clone(st.trails),
		comments:      maps.Clone(st.comments),
		notifications: maps.Clone(st.notifications),
	}
}

// MemoryStore keeps everything in process. A transaction works on a copy of the
// state that replaces the live state on commit, so a failed transaction leaves
// nothing behind. Transactions are serialized.
type MemoryStore struct {
	mu  sync.RWMutex
	st  *memState
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *MemoryStore) view() *memTx {
	return &memTx{st: s.st, now: s.now}
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	draft := s.st.clone()
	if err := fn(&memTx{st: draft, now: s.now}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) InsertNotification(ctx context.Context, notification model.Notification) error {
	return s.InTx(ctx, func(tx Tx) error {
		return tx.InsertNotification(ctx, notification)
	})
}

func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error) {
	var marked bool
	err := s.InTx(ctx, func(tx Tx) error {
		var err error
		marked, err = tx.MarkNotificationRead(ctx, id, recipientID)
		return err
	})
	return marked, err
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetUser(ctx, id)
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetTask(ctx, id)
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListTasks(ctx, filter)
}

func (s *MemoryStore) SearchTasks(ctx context.Context, query string, limit int) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().SearchTasks(ctx, query, limit)
}

func (s *MemoryStore) GetVersion(ctx context.Context, id string) (model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetVersion(ctx, id)
}

func (s *MemoryStore) ListVersions(ctx context.Context, taskID string) ([]model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListVersions(ctx, taskID)
}

func (s *MemoryStore) LatestApprovedVersion(ctx context.Context, taskID string) (*model.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().LatestApprovedVersion(ctx, taskID)
}

func (s *MemoryStore) GetNode(ctx context.Context, id string) (model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetNode(ctx, id)
}

func (s *MemoryStore) ListNodes(ctx context.Context, versionID string) ([]model.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListNodes(ctx, versionID)
}

func (s *MemoryStore) GetReview(ctx context.Context, id string) (model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetReview(ctx, id)
}

func (s *MemoryStore) ListReviews(ctx context.Context, versionID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListReviews(ctx, versionID)
}

func (s *MemoryStore) ListReviewsForUser(ctx context.Context, userID string) ([]model.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListReviewsForUser(ctx, userID)
}

func (s *MemoryStore) GetComment(ctx context.Context, id string) (model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().GetComment(ctx, id)
}

func (s *MemoryStore) ListComments(ctx context.Context, reviewID string) ([]model.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListComments(ctx, reviewID)
}

func (s *MemoryStore) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view().ListNotifications(ctx, recipientID, unreadOnly)
}

// memTx applies the same referential rules the SQL schema enforces.
type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) GetUser(_ context.Context, id string) (model.User, error) {
	user, ok := t.st.users[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (t *memTx) UpsertUser(_ context.Context, user model.User) error {
	t.st.users[user.ID] = user
	return nil
}

func (t *memTx) GetTask(_ context.Context, id string) (model.Task, error) {
	task, ok := t.st.tasks[id]
	if !ok {
		return model.Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (t *memTx) LockTask(ctx context.Context, id string) (model.Task, error) {
	return t.GetTask(ctx, id)
}

func (t *memTx) ListTasks(_ context.Context, filter TaskFilter) ([]model.Task, error) {
	items := make([]model.Task, 0, len(t.st.tasks))
	for task := range maps.Values(t.st.tasks) {
		if filter.Status == "" || task.Status == filter.Status {
			items = append(items, task)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return truncate(items, filter.Limit), nil
}

func (t *memTx) SearchTasks(ctx context.Context, query string, limit int) ([]model.Task, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	all, _ := t.ListTasks(ctx, TaskFilter{})
	if needle == "" {
		return truncate(all, limit), nil
	}
	items := make([]model.Task, 0)
	for _, task := range all {
		haystack := strings.ToLower(task.Description + " " + task.SectorDivision + " " + task.Responsibility)
		if strings.Contains(haystack, needle) || t.versionMentions(task.CurrentVersionID, needle) {
			items = append(items, task)
		}
	}
	return truncate(items, limit), nil
}

func (t *memTx) versionMentions(versionID, needle string) bool {
	if versionID == "" {
		return false
	}
	for _, node := range t.st.nodes {
		if node.VersionID == versionID && strings.Contains(strings.ToLower(node.Content), needle) {
			return true
		}
	}
	return false
}

func (t *memTx) InsertTask(_ context.Context, task model.Task) error {
	if _, exists := t.st.tasks[task.ID]; exists {
		return fmt.Errorf("insert task: duplicate id %s", task.ID)
	}
	if task.Status == model.TaskCompleted && task.CompletedAt == nil {
		return fmt.Errorf("insert task: completed task needs completed_at")
	}
	now := t.now()
	task.CreatedAt, task.UpdatedAt = now, now
	t.st.tasks[task.ID] = task
	return nil
}

func (t *memTx) UpdateTask(_ context.Context, task model.Task) error {
	current, ok := t.st.tasks[task.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if task.Status == model.TaskCompleted && task.CompletedAt == nil {
		return fmt.Errorf("update task: completed task needs completed_at")
	}
	task.CreatedAt, task.UpdatedAt = current.CreatedAt, t.now()
	t.st.tasks[task.ID] = task
	return nil
}

func (t *memTx) DeleteTask(_ context.Context, id string) error {
	if _, ok := t.st.tasks[id]; !ok {
		return sql.ErrNoRows
	}
	for _, version := range t.st.versions {
		if version.TaskID == id {
			return fmt.Errorf("delete task: %w by version %s", errReferenced, version.ID)
		}
	}
	for _, notification := range t.st.notifications {
		if notification.TaskID == id {
			return fmt.Errorf("delete task: %w by notification %s", errReferenced, notification.ID)
		}
	}
	delete(t.st.tasks, id)
	return nil
}

func (t *memTx) GetVersion(_ context.Context, id string) (model.Version, error) {
	version, ok := t.st.versions[id]
	if !ok {
		return model.Version{}, sql.ErrNoRows
	}
	return version, nil
}

func (t *memTx) ListVersions(_ context.Context, taskID string) ([]model.Version, error) {
	items := make([]model.Version, 0)
	for _, version := range t.st.versions {
		if version.TaskID == taskID {
			items = append(items, version)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].VersionNumber < items[j].VersionNumber })
	return items, nil
}

// LatestApprovedVersion is the frozen version that changed status last. A merged
// draft can be approved after a version with a higher number.
func (t *memTx) LatestApprovedVersion(ctx context.Context, taskID string) (*model.Version, error) {
	versions, _ := t.ListVersions(ctx, taskID)
	var latest *model.Version
	for i := range versions {
		if !versions[i].Status.Frozen() {
			continue
		}
		if latest == nil || !versions[i].UpdatedAt.Before(latest.UpdatedAt) {
			latest = &versions[i]
		}
	}
	return latest, nil
}

func (t *memTx) NextVersionNumber(ctx context.Context, taskID string) (int, error) {
	versions, _ := t.ListVersions(ctx, taskID)
	if len(versions) == 0 {
		return 1, nil
	}
	return versions[len(versions)-1].VersionNumber + 1, nil
}

func (t *memTx) InsertVersion(_ context.Context, version model.Version) error {
	if _, ok := t.st.tasks[version.TaskID]; !ok {
		return fmt.Errorf("insert version: unknown task %s", version.TaskID)
	}
	for _, existing := range t.st.versions {
		if existing.TaskID == version.TaskID && existing.VersionNumber == version.VersionNumber {
			return fmt.Errorf("insert version: duplicate version number %d", version.VersionNumber)
		}
	}
	now := t.now()
	version.CreatedAt, version.UpdatedAt = now, now
	t.st.versions[version.ID] = version
	return nil
}

func (t *memTx) UpdateVersion(_ context.Context, version model.Version) error {
	current, ok := t.st.versions[version.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Status = version.Status
	current.BaseVersionID = version.BaseVersionID
	current.EditorID = version.EditorID
	current.UpdatedAt = t.now()
	t.st.versions[version.ID] = current
	return nil
}

func (t *memTx) taskVersionIDs(taskID string) map[string]bool {
	ids := make(map[string]bool)
	for _, version := range t.st.versions {
		if version.TaskID == taskID {
			ids[version.ID] = true
		}
	}
	return ids
}

func (t *memTx) ClearVersionReferences(_ context.Context, taskID string) error {
	ids := t.taskVersionIDs(taskID)
	if task, ok := t.st.tasks[taskID]; ok {
		task.CurrentVersionID = ""
		t.st.tasks[taskID] = task
	}
	for id, version := range t.st.versions {
		if ids[id] {
			version.BaseVersionID = ""
			t.st.versions[id] = version
		}
	}
	for id, review := range t.st.reviews {
		if ids[review.TaskVersionID] || ids[review.BaseVersionID] {
			review.BaseVersionID = ""
			t.st.reviews[id] = review
		}
	}
	return nil
}

func (t *memTx) DeleteTaskVersions(_ context.Context, taskID string) error {
	ids := t.taskVersionIDs(taskID)
	for _, review := range t.st.reviews {
		if ids[review.TaskVersionID] || ids[review.BaseVersionID] {
			return fmt.Errorf("delete versions: %w by review %s", errReferenced, review.ID)
		}
	}
	for _, version := range t.st.versions {
		if ids[version.BaseVersionID] && !ids[version.ID] {
			return fmt.Errorf("delete versions: %w by version %s", errReferenced, version.ID)
		}
	}
	for id, node := range t.st.nodes {
		if ids[node.VersionID] {
			delete(t.st.nodes, id)
		}
	}
	for id := range ids {
		delete(t.st.versions, id)
	}
	return nil
}

func (t *memTx) GetNode(_ context.Context, id string) (model.Node, error) {
	node, ok := t.st.nodes[id]
	if !ok {
		return model.Node{}, sql.ErrNoRows
	}
	return node, nil
}

func (t *memTx) ListNodes(_ context.Context, versionID string) ([]model.Node, error) {
	items := make([]model.Node, 0)
	for _, node := range t.st.nodes {
		if node.VersionID == versionID {
			items = append(items, node)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ID < b.ID
	})
	return items, nil
}

func (t *memTx) checkNode(node model.Node) error {
	if _, ok := t.st.versions[node.VersionID]; !ok {
		return fmt.Errorf("unknown version %s", node.VersionID)
	}
	if node.ParentID != "" {
		if _, ok := t.st.nodes[node.ParentID]; !ok {
			return fmt.Errorf("unknown parent %s", node.ParentID)
		}
	}
	if strings.TrimSpace(node.Content) == "" || node.Level < 1 || node.Position < 0 {
		return fmt.Errorf("node %s violates column checks", node.ID)
	}
	return nil
}

func (t *memTx) InsertNode(_ context.Context, node model.Node) error {
	if _, exists := t.st.nodes[node.ID]; exists {
		return fmt.Errorf("insert node: duplicate id %s", node.ID)
	}
	if err := t.checkNode(node); err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	now := t.now()
	node.CreatedAt, node.UpdatedAt = now, now
	t.st.nodes[node.ID] = node
	return nil
}

func (t *memTx) UpdateNode(_ context.Context, node model.Node) error {
	current, ok := t.st.nodes[node.ID]
	if !ok {
		return sql.ErrNoRows
	}
	node.VersionID = current.VersionID
	if err := t.checkNode(node); err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	node.CreatedAt, node.UpdatedAt = current.CreatedAt, t.now()
	t.st.nodes[node.ID] = node
	return nil
}

func (t *memTx) DeleteNode(_ context.Context, id string) error {
	if _, ok := t.st.nodes[id]; !ok {
		return sql.ErrNoRows
	}
	for _, node := range t.st.nodes {
		if node.ParentID == id {
			return fmt.Errorf("delete node: %w by child %s", errReferenced, node.ID)
		}
	}
	delete(t.st.nodes, id)
	return nil
}

func (t *memTx) GetReview(_ context.Context, id string) (model.Review, error) {
	review, ok := t.st.reviews[id]
	if !ok {
		return model.Review{}, sql.ErrNoRows
	}
	review.AssignedNodeIDs = slices.Clone(review.AssignedNodeIDs)
	return review, nil
}

func (t *memTx) ListReviews(_ context.Context, versionID string) ([]model.Review, error) {
	items := make([]model.Review, 0)
	for _, review := range t.st.reviews {
		if review.TaskVersionID == versionID {
			review.AssignedNodeIDs = slices.Clone(review.AssignedNodeIDs)
			items = append(items, review)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) ListReviewsForUser(_ context.Context, userID string) ([]model.Review, error) {
	items := make([]model.Review, 0)
	for _, review := range t.st.reviews {
		if review.ReviewerID != userID && t.st.versions[review.TaskVersionID].EditorID != userID {
			continue
		}
		review.AssignedNodeIDs = slices.Clone(review.AssignedNodeIDs)
		items = append(items, review)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) InsertReview(_ context.Context, review model.Review) error {
	if _, ok := t.st.versions[review.TaskVersionID]; !ok {
		return fmt.Errorf("insert review: unknown version %s", review.TaskVersionID)
	}
	now := t.now()
	review.CreatedAt, review.UpdatedAt = now, now
	review.AssignedNodeIDs = cloneIDs(review.AssignedNodeIDs)
	t.st.reviews[review.ID] = review
	return nil
}

func (t *memTx) UpdateReview(_ context.Context, review model.Review) error {
	current, ok := t.st.reviews[review.ID]
	if !ok {
		return sql.ErrNoRows
	}
	review.TaskVersionID = current.TaskVersionID
	review.CreatedAt, review.UpdatedAt = current.CreatedAt, t.now()
	review.AssignedNodeIDs = cloneIDs(review.AssignedNodeIDs)
	t.st.reviews[review.ID] = review
	return nil
}

func (t *memTx) DeleteTaskReviews(_ context.Context, taskID string) error {
	ids := t.taskVersionIDs(taskID)
	doomed := make(map[string]bool)
	for id, review := range t.st.reviews {
		if ids[review.TaskVersionID] {
			doomed[id] = true
		}
	}
	for _, trail := range t.st.trails {
		if doomed[trail.ReviewID] {
			return fmt.Errorf("delete reviews: %w by comment trail %s", errReferenced, trail.ID)
		}
	}
	for _, notification := range t.st.notifications {
		if doomed[notification.ReviewID] {
			return fmt.Errorf("delete reviews: %w by notification %s", errReferenced, notification.ID)
		}
	}
	for id := range doomed {
		delete(t.st.reviews, id)
	}
	return nil
}

func (t *memTx) EnsureCommentTrail(_ context.Context, reviewID string) (model.CommentTrail, error) {
	if _, ok := t.st.reviews[reviewID]; !ok {
		return model.CommentTrail{}, fmt.Errorf("insert comment trail: unknown review %s", reviewID)
	}
	for _, trail := range t.st.trails {
		if trail.ReviewID == reviewID {
			return trail, nil
		}
	}
	trail := model.CommentTrail{ID: util.NewID("trail"), ReviewID: reviewID, CreatedAt: t.now()}
	t.st.trails[trail.ID] = trail
	return trail, nil
}

func (t *memTx) GetComment(_ context.Context, id string) (model.Comment, error) {
	comment, ok := t.st.comments[id]
	if !ok {
		return model.Comment{}, sql.ErrNoRows
	}
	return comment, nil
}

func (t *memTx) ListComments(_ context.Context, reviewID string) ([]model.Comment, error) {
	items := make([]model.Comment, 0)
	for _, comment := range t.st.comments {
		if trail, ok := t.st.trails[comment.CommentTrailID]; ok && trail.ReviewID == reviewID {
			items = append(items, comment)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) InsertComment(_ context.Context, comment model.Comment) error {
	if _, ok := t.st.trails[comment.CommentTrailID]; !ok {
		return fmt.Errorf("insert comment: unknown trail %s", comment.CommentTrailID)
	}
	now := t.now()
	comment.CreatedAt, comment.UpdatedAt = now, now
	t.st.comments[comment.ID] = comment
	return nil
}

func (t *memTx) UpdateComment(_ context.Context, comment model.Comment) error {
	current, ok := t.st.comments[comment.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Content = comment.Content
	current.Resolved = comment.Resolved
	current.ActionNodeID = comment.ActionNodeID
	current.UpdatedAt = t.now()
	t.st.comments[comment.ID] = current
	return nil
}

func (t *memTx) DeleteTaskComments(_ context.Context, taskID string) error {
	ids := t.taskVersionIDs(taskID)
	trails := make(map[string]bool)
	for id, trail := range t.st.trails {
		if review, ok := t.st.reviews[trail.ReviewID]; ok && ids[review.TaskVersionID] {
			trails[id] = true
		}
	}
	for id, comment := range t.st.comments {
		if trails[comment.CommentTrailID] {
			delete(t.st.comments, id)
		}
	}
	for id := range trails {
		delete(t.st.trails, id)
	}
	return nil
}

func (t *memTx) ListNotifications(_ context.Context, recipientID string, unreadOnly bool) ([]model.Notification, error) {
	items := make([]model.Notification, 0)
	for _, notification := range t.st.notifications {
		if notification.RecipientID != recipientID || (unreadOnly && notification.Read) {
			continue
		}
		items = append(items, notification)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (t *memTx) InsertNotification(_ context.Context, notification model.Notification) error {
	if _, ok := t.st.tasks[notification.TaskID]; !ok {
		return fmt.Errorf("insert notification: unknown task %s", notification.TaskID)
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = t.now()
	}
	t.st.notifications[notification.ID] = notification
	return nil
}

func (t *memTx) MarkNotificationRead(_ context.Context, id, recipientID string) (bool, error) {
	notification, ok := t.st.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return false, nil
	}
	notification.Read = true
	t.st.notifications[id] = notification
	return true, nil
}

func (t *memTx) DeleteTaskNotifications(_ context.Context, taskID string) error {
	for id, notification := range t.st.notifications {
		if notification.TaskID == taskID {
			delete(t.st.notifications, id)
		}
	}
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return slices.Clone(ids)
}
