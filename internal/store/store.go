// Package store persists tasks, versions, nodes and reviews. Missing rows are
// reported as sql.ErrNoRows by every implementation.
package store

import (
	"context"
	"database/sql"
	"time"

	"taskreview/api/internal/model"
)

type Reader interface {
	GetUser(ctx context.Context, id string) (model.User, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	SearchTasks(ctx context.Context, query string, limit int) ([]model.Task, error)
	GetVersion(ctx context.Context, id string) (model.Version, error)
	ListVersions(ctx context.Context, taskID string) ([]model.Version, error)
	// LatestApprovedVersion returns nil when the task has no approved version yet.
	LatestApprovedVersion(ctx context.Context, taskID string) (*model.Version, error)
	GetNode(ctx context.Context, id string) (model.Node, error)
	ListNodes(ctx context.Context, versionID string) ([]model.Node, error)
	GetReview(ctx context.Context, id string) (model.Review, error)
	ListReviews(ctx context.Context, versionID string) ([]model.Review, error)
	// ListReviewsForUser returns reviews assigned to the user or on versions the
	// user edited, newest first.
	ListReviewsForUser(ctx context.Context, userID string) ([]model.Review, error)
	GetComment(ctx context.Context, id string) (model.Comment, error)
	ListComments(ctx context.Context, reviewID string) ([]model.Comment, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]model.Notification, error)
}

// TaskFilter narrows ListTasks. An empty Status matches every task and a Limit
// of zero or less returns all rows.
type TaskFilter struct {
	Status model.TaskStatus
	Limit  int
}

// Tx is the write side. Every method runs inside the transaction passed to InTx.
type Tx interface {
	Reader
	// LockTask reads the task row and holds it until the transaction ends.
	LockTask(ctx context.Context, id string) (model.Task, error)
	UpsertUser(ctx context.Context, user model.User) error
	InsertTask(ctx context.Context, task model.Task) error
	UpdateTask(ctx context.Context, task model.Task) error
	DeleteTask(ctx context.Context, id string) error
	NextVersionNumber(ctx context.Context, taskID string) (int, error)
	InsertVersion(ctx context.Context, version model.Version) error
	UpdateVersion(ctx context.Context, version model.Version) error
	// ClearVersionReferences nulls every pointer into the task's versions: the
	// task's current version and base_version_id on versions and reviews.
	ClearVersionReferences(ctx context.Context, taskID string) error
	DeleteTaskVersions(ctx context.Context, taskID string) error
	InsertNode(ctx context.Context, node model.Node) error
	UpdateNode(ctx context.Context, node model.Node) error
	DeleteNode(ctx context.Context, id string) error
	InsertReview(ctx context.Context, review model.Review) error
	UpdateReview(ctx context.Context, review model.Review) error
	DeleteTaskReviews(ctx context.Context, taskID string) error
	EnsureCommentTrail(ctx context.Context, reviewID string) (model.CommentTrail, error)
	InsertComment(ctx context.Context, comment model.Comment) error
	UpdateComment(ctx context.Context, comment model.Comment) error
	DeleteTaskComments(ctx context.Context, taskID string) error
	InsertNotification(ctx context.Context, notification model.Notification) error
	MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error)
	DeleteTaskNotifications(ctx context.Context, taskID string) error
}

type Store interface {
	Reader
	// InTx runs fn in one transaction. The transaction commits only when fn
	// returns nil; nothing fn wrote is visible otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error
	InsertNotification(ctx context.Context, notification model.Notification) error
	MarkNotificationRead(ctx context.Context, id, recipientID string) (bool, error)
	Ping(ctx context.Context) error
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullDate(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *model.DateOnly(value), Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func datePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return model.DateOnly(&value.Time)
}
