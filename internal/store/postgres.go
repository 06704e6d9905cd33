package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"taskreview/api/internal/model"
	"taskreview/api/internal/util"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries holds every statement; it runs against the pool or an open transaction.
type queries struct {
	db dbtx
}

type PostgresStore struct {
	*queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: &queries{db: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&queries{db: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (q *queries) GetUser(ctx context.Context, id string) (model.User, error) {
	var user model.User
	err := q.db.QueryRowContext(ctx, `SELECT id, full_name, email FROM users WHERE id=$1`, id).
		Scan(&user.ID, &user.FullName, &user.Email)
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (q *queries) UpsertUser(ctx context.Context, user model.User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, email = EXCLUDED.email
	`, user.ID, user.FullName, user.Email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

const taskColumns = `t.id, t.description, t.sector_division, t.responsibility, t.original_date, t.review_date,
	t.status, t.completed_at, t.current_version_id, t.editor_id, t.created_at, t.updated_at`

func scanTask(row scanner) (model.Task, error) {
	var (
		task                     model.Task
		originalDate, reviewDate sql.NullTime
		completedAt              sql.NullTime
		currentVersion           sql.NullString
		status                   string
	)
	if err := row.Scan(
		&task.ID, &task.Description, &task.SectorDivision, &task.Responsibility, &originalDate, &reviewDate,
		&status, &completedAt, &currentVersion, &task.EditorID, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return model.Task{}, err
	}
	task.OriginalDate = datePtr(originalDate)
	task.ReviewDate = datePtr(reviewDate)
	task.Status = model.TaskStatus(status)
	task.CompletedAt = timePtr(completedAt)
	task.CurrentVersionID = currentVersion.String
	return task, nil
}

func (q *queries) listTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

func (q *queries) GetTask(ctx context.Context, id string) (model.Task, error) {
	return scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=$1`, id))
}

func (q *queries) LockTask(ctx context.Context, id string) (model.Task, error) {
	return scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=$1 FOR UPDATE`, id))
}

func (q *queries) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	return q.listTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		WHERE ($1::text = '' OR t.status = $1::text)
		ORDER BY t.updated_at DESC, t.id
		LIMIT $2
	`, string(filter.Status), limitArg(filter.Limit))
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// SearchTasks matches task metadata through the generated tsvector and the node
// content of each task's current version through ILIKE.
func (q *queries) SearchTasks(ctx context.Context, query string, limit int) ([]model.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return q.ListTasks(ctx, TaskFilter{Limit: limit})
	}
	return q.listTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks t
		WHERE t.search_vector @@ plainto_tsquery('simple', $1::text)
		   OR EXISTS (
			SELECT 1 FROM nodes n
			WHERE n.version_id = t.current_version_id AND n.content ILIKE '%' || $1::text || '%'
		   )
		ORDER BY ts_rank(t.search_vector, plainto_tsquery('simple', $1::text)) DESC, t.updated_at DESC
		LIMIT $2
	`, query, limitArg(limit))
}

func (q *queries) InsertTask(ctx context.Context, task model.Task) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, sector_division, responsibility, original_date, review_date,
			status, completed_at, current_version_id, editor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, task.ID, task.Description, task.SectorDivision, task.Responsibility, nullDate(task.OriginalDate),
		nullDate(task.ReviewDate), string(task.Status), nullTime(task.CompletedAt),
		nullString(task.CurrentVersionID), task.EditorID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (q *queries) UpdateTask(ctx context.Context, task model.Task) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET description=$2, sector_division=$3, responsibility=$4, original_date=$5, review_date=$6,
			status=$7, completed_at=$8, current_version_id=$9, updated_at=NOW()
		WHERE id=$1
	`, task.ID, task.Description, task.SectorDivision, task.Responsibility, nullDate(task.OriginalDate),
		nullDate(task.ReviewDate), string(task.Status), nullTime(task.CompletedAt), nullString(task.CurrentVersionID))
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireAffected(result)
}

func (q *queries) DeleteTask(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(result)
}

const versionColumns = `id, task_id, version_number, status, base_version_id, editor_id, created_at, updated_at`

func scanVersion(row scanner) (model.Version, error) {
	var (
		version model.Version
		status  string
		base    sql.NullString
	)
	if err := row.Scan(&version.ID, &version.TaskID, &version.VersionNumber, &status, &base,
		&version.EditorID, &version.CreatedAt, &version.UpdatedAt); err != nil {
		return model.Version{}, err
	}
	version.Status = model.VersionStatus(status)
	version.BaseVersionID = base.String
	return version, nil
}

func (q *queries) GetVersion(ctx context.Context, id string) (model.Version, error) {
	return scanVersion(q.db.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM task_versions WHERE id=$1`, id))
}

func (q *queries) ListVersions(ctx context.Context, taskID string) ([]model.Version, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+versionColumns+` FROM task_versions WHERE task_id=$1 ORDER BY version_number`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]model.Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, version)
	}
	return items, rows.Err()
}

func (q *queries) LatestApprovedVersion(ctx context.Context, taskID string) (*model.Version, error) {
	version, err := scanVersion(q.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM task_versions
		WHERE task_id=$1 AND status IN ('approved', 'completed')
		ORDER BY updated_at DESC, version_number DESC
		LIMIT 1
	`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest approved version: %w", err)
	}
	return &version, nil
}

func (q *queries) NextVersionNumber(ctx context.Context, taskID string) (int, error) {
	var next int
	err := q.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version_number), 0) + 1 FROM task_versions WHERE task_id=$1`, taskID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next version number: %w", err)
	}
	return next, nil
}

func (q *queries) InsertVersion(ctx context.Context, version model.Version) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO task_versions (id, task_id, version_number, status, base_version_id, editor_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, version.ID, version.TaskID, version.VersionNumber, string(version.Status), nullString(version.BaseVersionID), version.EditorID)
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (q *queries) UpdateVersion(ctx context.Context, version model.Version) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE task_versions SET status=$2, base_version_id=$3, editor_id=$4, updated_at=NOW() WHERE id=$1
	`, version.ID, string(version.Status), nullString(version.BaseVersionID), version.EditorID)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	return requireAffected(result)
}

func (q *queries) ClearVersionReferences(ctx context.Context, taskID string) error {
	statements := []string{
		`UPDATE tasks SET current_version_id=NULL WHERE id=$1`,
		`UPDATE task_versions SET base_version_id=NULL WHERE task_id=$1`,
		`UPDATE reviews SET base_version_id=NULL
		 WHERE task_version_id IN (SELECT id FROM task_versions WHERE task_id=$1)
		    OR base_version_id IN (SELECT id FROM task_versions WHERE task_id=$1)`,
	}
	for _, statement := range statements {
		if _, err := q.db.ExecContext(ctx, statement, taskID); err != nil {
			return fmt.Errorf("clear version references: %w", err)
		}
	}
	return nil
}

func (q *queries) DeleteTaskVersions(ctx context.Context, taskID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM task_versions WHERE task_id=$1`, taskID); err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}
	return nil
}

const nodeColumns = `id, version_id, parent_id, content, level, list_style, node_type, position, completed,
	review_date, reviewer_id, created_at, updated_at`

func scanNode(row scanner) (model.Node, error) {
	var (
		node                model.Node
		parent, reviewer    sql.NullString
		listStyle, nodeType string
		reviewDate          sql.NullTime
	)
	if err := row.Scan(&node.ID, &node.VersionID, &parent, &node.Content, &node.Level, &listStyle, &nodeType,
		&node.Position, &node.Completed, &reviewDate, &reviewer, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return model.Node{}, err
	}
	node.ParentID = parent.String
	node.ListStyle = model.ListStyle(listStyle)
	node.NodeType = model.NodeType(nodeType)
	node.ReviewDate = datePtr(reviewDate)
	node.ReviewerID = reviewer.String
	return node, nil
}

func (q *queries) GetNode(ctx context.Context, id string) (model.Node, error) {
	return scanNode(q.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id=$1`, id))
}

func (q *queries) ListNodes(ctx context.Context, versionID string) ([]model.Node, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE version_id=$1 ORDER BY level, position, id`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	items := make([]model.Node, 0)
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, node)
	}
	return items, rows.Err()
}

func (q *queries) InsertNode(ctx context.Context, node model.Node) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO nodes (id, version_id, parent_id, content, level, list_style, node_type, position, completed,
			review_date, reviewer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, node.ID, node.VersionID, nullString(node.ParentID), node.Content, node.Level, string(node.ListStyle),
		string(node.NodeType), node.Position, node.Completed, nullDate(node.ReviewDate), nullString(node.ReviewerID))
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

func (q *queries) UpdateNode(ctx context.Context, node model.Node) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE nodes
		SET parent_id=$2, content=$3, level=$4, list_style=$5, node_type=$6, position=$7, completed=$8,
			review_date=$9, reviewer_id=$10, updated_at=NOW()
		WHERE id=$1
	`, node.ID, nullString(node.ParentID), node.Content, node.Level, string(node.ListStyle), string(node.NodeType),
		node.Position, node.Completed, nullDate(node.ReviewDate), nullString(node.ReviewerID))
	if err != nil {
		return fmt.Errorf("update node: %w", err)
	}
	return requireAffected(result)
}

func (q *queries) DeleteNode(ctx context.Context, id string) error {
	result, err := q.db.ExecContext(ctx, `DELETE FROM nodes WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return requireAffected(result)
}

const reviewColumns = `id, task_version_id, base_version_id, reviewer_id, status, reviewer_type, is_aggregate,
	assigned_node_ids, comment, created_at, updated_at`

func scanReview(row scanner) (model.Review, error) {
	var (
		review               model.Review
		base                 sql.NullString
		status, reviewerType string
		assigned             []byte
	)
	if err := row.Scan(&review.ID, &review.TaskVersionID, &base, &review.ReviewerID, &status, &reviewerType,
		&review.IsAggregate, &assigned, &review.Comment, &review.CreatedAt, &review.UpdatedAt); err != nil {
		return model.Review{}, err
	}
	review.BaseVersionID = base.String
	review.Status = model.ReviewStatus(status)
	review.ReviewerType = model.ReviewerType(reviewerType)
	review.AssignedNodeIDs = []string{}
	if len(assigned) > 0 {
		if err := json.Unmarshal(assigned, &review.AssignedNodeIDs); err != nil {
			return model.Review{}, fmt.Errorf("decode assigned nodes: %w", err)
		}
	}
	return review, nil
}

func encodeAssigned(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (q *queries) GetReview(ctx context.Context, id string) (model.Review, error) {
	return scanReview(q.db.QueryRowContext(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id=$1`, id))
}

func (q *queries) ListReviews(ctx context.Context, versionID string) ([]model.Review, error) {
	return q.listReviews(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE task_version_id=$1 ORDER BY created_at, id`, versionID)
}

func (q *queries) ListReviewsForUser(ctx context.Context, userID string) ([]model.Review, error) {
	return q.listReviews(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE reviewer_id=$1
		   OR task_version_id IN (SELECT id FROM task_versions WHERE editor_id=$1)
		ORDER BY created_at DESC, id
	`, userID)
}

func (q *queries) listReviews(ctx context.Context, query string, args ...any) ([]model.Review, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	items := make([]model.Review, 0)
	for rows.Next() {
		review, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		items = append(items, review)
	}
	return items, rows.Err()
}

func (q *queries) InsertReview(ctx context.Context, review model.Review) error {
	assigned, err := encodeAssigned(review.AssignedNodeIDs)
	if err != nil {
		return fmt.Errorf("encode assigned nodes: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO reviews (id, task_version_id, base_version_id, reviewer_id, status, reviewer_type, is_aggregate,
			assigned_node_ids, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, review.ID, review.TaskVersionID, nullString(review.BaseVersionID), review.ReviewerID, string(review.Status),
		string(review.ReviewerType), review.IsAggregate, assigned, review.Comment)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (q *queries) UpdateReview(ctx context.Context, review model.Review) error {
	assigned, err := encodeAssigned(review.AssignedNodeIDs)
	if err != nil {
		return fmt.Errorf("encode assigned nodes: %w", err)
	}
	result, err := q.db.ExecContext(ctx, `
		UPDATE reviews
		SET base_version_id=$2, reviewer_id=$3, status=$4, reviewer_type=$5, is_aggregate=$6, assigned_node_ids=$7,
			comment=$8, updated_at=NOW()
		WHERE id=$1
	`, review.ID, nullString(review.BaseVersionID), review.ReviewerID, string(review.Status), string(review.ReviewerType),
		review.IsAggregate, assigned, review.Comment)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	return requireAffected(result)
}

func (q *queries) DeleteTaskReviews(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM reviews WHERE task_version_id IN (SELECT id FROM task_versions WHERE task_id=$1)
	`, taskID)
	if err != nil {
		return fmt.Errorf("delete reviews: %w", err)
	}
	return nil
}

func (q *queries) EnsureCommentTrail(ctx context.Context, reviewID string) (model.CommentTrail, error) {
	if _, err := q.db.ExecContext(ctx, `
		INSERT INTO comment_trails (id, review_id) VALUES ($1, $2)
		ON CONFLICT (review_id) DO NOTHING
	`, util.NewID("trail"), reviewID); err != nil {
		return model.CommentTrail{}, fmt.Errorf("insert comment trail: %w", err)
	}
	var trail model.CommentTrail
	err := q.db.QueryRowContext(ctx, `SELECT id, review_id, created_at FROM comment_trails WHERE review_id=$1`, reviewID).
		Scan(&trail.ID, &trail.ReviewID, &trail.CreatedAt)
	if err != nil {
		return model.CommentTrail{}, fmt.Errorf("load comment trail: %w", err)
	}
	return trail, nil
}

const commentColumns = `c.id, c.comment_trail_id, c.author_id, c.content, c.resolved, c.action_node_id, c.created_at, c.updated_at`

func scanComment(row scanner) (model.Comment, error) {
	var (
		comment    model.Comment
		actionNode sql.NullString
	)
	if err := row.Scan(&comment.ID, &comment.CommentTrailID, &comment.AuthorID, &comment.Content, &comment.Resolved,
		&actionNode, &comment.CreatedAt, &comment.UpdatedAt); err != nil {
		return model.Comment{}, err
	}
	comment.ActionNodeID = actionNode.String
	return comment, nil
}

func (q *queries) GetComment(ctx context.Context, id string) (model.Comment, error) {
	return scanComment(q.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments c WHERE c.id=$1`, id))
}

func (q *queries) ListComments(ctx context.Context, reviewID string) ([]model.Comment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments c
		JOIN comment_trails ct ON ct.id = c.comment_trail_id
		WHERE ct.review_id=$1
		ORDER BY c.created_at, c.id
	`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]model.Comment, 0)
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, comment)
	}
	return items, rows.Err()
}

func (q *queries) InsertComment(ctx context.Context, comment model.Comment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO comments (id, comment_trail_id, author_id, content, resolved, action_node_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.CommentTrailID, comment.AuthorID, comment.Content, comment.Resolved, nullString(comment.ActionNodeID))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (q *queries) UpdateComment(ctx context.Context, comment model.Comment) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE comments SET content=$2, resolved=$3, action_node_id=$4, updated_at=NOW() WHERE id=$1
	`, comment.ID, comment.Content, comment.Resolved, nullString(comment.ActionNodeID))
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return requireAffected(result)
}

func (q *queries) DeleteTaskComments(ctx context.Context, taskID string) error {
	const trails = `
		SELECT ct.id FROM comment_trails ct
		JOIN reviews r ON r.id = ct.review_id
		JOIN task_versions v ON v.id = r.task_version_id
		WHERE v.task_id=$1`
	if _, err := q.db.ExecContext(ctx, `DELETE FROM comments WHERE comment_trail_id IN (`+trails+`)`, taskID); err != nil {
		return fmt.Errorf("delete comments: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM comment_trails WHERE id IN (`+trails+`)`, taskID); err != nil {
		return fmt.Errorf("delete comment trails: %w", err)
	}
	return nil
}

func (q *queries) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]model.Notification, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, recipient_id, task_id, review_id, message, type, read, created_at
		FROM notifications
		WHERE recipient_id=$1 AND ($2::boolean = FALSE OR read = FALSE)
		ORDER BY created_at DESC, id
	`, recipientID, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]model.Notification, 0)
	for rows.Next() {
		var (
			item     model.Notification
			reviewID sql.NullString
			kind     string
		)
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.TaskID, &reviewID, &item.Message, &kind, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.ReviewID = reviewID.String
		item.Type = model.NotificationType(kind)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *queries) InsertNotification(ctx context.Context, notification model.Notification) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, task_id, review_id, message, type, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, notification.ID, notification.RecipientID, notification.TaskID, nullString(notification.ReviewID),
		notification.Message, string(notification.Type), notification.Read)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q *queries) MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE id=$1 AND recipient_id=$2`, id, recipientID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) DeleteTaskNotifications(ctx context.Context, taskID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM notifications WHERE task_id=$1`, taskID); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
