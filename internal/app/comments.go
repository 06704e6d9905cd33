package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"taskreview/api/internal/export"
	"taskreview/api/internal/model"
	"taskreview/api/internal/store"
	"taskreview/api/internal/tree"
	"taskreview/api/internal/util"
)

type CommentInput struct {
	Content      string
	ActionNodeID string
}

type CommentView struct {
	model.Comment
	AuthorName  string `json:"authorName"`
	NodeCounter string `json:"nodeCounter,omitempty"`
	NodePreview string `json:"nodePreview,omitempty"`
}

const previewLimit = 100

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// nodePreview strips markup and cuts the text to previewLimit characters.
func nodePreview(content string) string {
	text := strings.Join(strings.Fields(html.UnescapeString(tagPattern.ReplaceAllString(content, " "))), " ")
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:previewLimit-3])) + "..."
}

// AddComment appends a comment to a review's trail. The version's editor and every
// reviewer of the version hear about it, except the author.
func (s *Service) AddComment(ctx context.Context, actorID, reviewID string, input CommentInput) (CommentView, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return CommentView{}, validationError("content", "comment must not be empty")
	}
	var comment model.Comment
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		author, err := requireUser(ctx, tx, actorID)
		if err != nil {
			return err
		}
		review, err := tx.GetReview(ctx, reviewID)
		if err != nil {
			return missing(err, "review", reviewID)
		}
		version, err := tx.GetVersion(ctx, review.TaskVersionID)
		if err != nil {
			return err
		}
		task, err := tx.GetTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		if input.ActionNodeID != "" {
			node, err := tx.GetNode(ctx, input.ActionNodeID)
			if err != nil || node.VersionID != version.ID {
				return validationError("action_node_id", "node %s is not part of the reviewed version", input.ActionNodeID)
			}
		}
		trail, err := tx.EnsureCommentTrail(ctx, review.ID)
		if err != nil {
			return err
		}
		comment = model.Comment{
			ID:             util.NewID("cmt"),
			CommentTrailID: trail.ID,
			AuthorID:       author.ID,
			Content:        content,
			ActionNodeID:   input.ActionNodeID,
		}
		if err := tx.InsertComment(ctx, comment); err != nil {
			return err
		}
		recipients, err := involvedUsers(ctx, tx, version)
		if err != nil {
			return err
		}
		message := fmt.Sprintf("New comment on task '%s' by %s", task.Description, author.FullName)
		for _, recipient := range recipients {
			if recipient != author.ID {
				out.notify(recipient, task.ID, review.ID, model.NotifyComment, message)
			}
		}
		return nil
	})
	if err != nil {
		return CommentView{}, err
	}
	views, err := s.ListComments(ctx, reviewID)
	if err != nil {
		return CommentView{}, err
	}
	for _, view := range views {
		if view.ID == comment.ID {
			return view, nil
		}
	}
	return CommentView{}, invariantViolation("comment %s missing after insert", comment.ID)
}

// ResolveComment marks a comment on a review as resolved and tells its author when
// someone else resolved it.
func (s *Service) ResolveComment(ctx context.Context, actorID, reviewID, commentID string) (model.Comment, error) {
	var comment model.Comment
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
			return err
		}
		review, err := tx.GetReview(ctx, reviewID)
		if err != nil {
			return missing(err, "review", reviewID)
		}
		comments, err := tx.ListComments(ctx, review.ID)
		if err != nil {
			return err
		}
		found := false
		for _, candidate := range comments {
			if candidate.ID == commentID {
				comment, found = candidate, true
				break
			}
		}
		if !found {
			return notFound("comment", commentID)
		}
		if comment.Resolved {
			return nil
		}
		comment.Resolved = true
		if err := tx.UpdateComment(ctx, comment); err != nil {
			return err
		}
		if comment.AuthorID == actorID {
			return nil
		}
		version, err := tx.GetVersion(ctx, review.TaskVersionID)
		if err != nil {
			return err
		}
		task, err := tx.GetTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		out.notify(comment.AuthorID, task.ID, review.ID, model.NotifyCommentResolved,
			fmt.Sprintf("Your comment on task '%s' was resolved", task.Description))
		return nil
	})
	if err != nil {
		return model.Comment{}, err
	}
	return comment, nil
}

// ListComments returns a review's comments oldest first, each with its author's
// name and, for comments on a node, the node's counter and a short preview.
func (s *Service) ListComments(ctx context.Context, reviewID string) ([]CommentView, error) {
	review, err := s.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, reviewID)
	if err != nil {
		return nil, s.fail(err)
	}
	nodes, err := s.store.ListNodes(ctx, review.TaskVersionID)
	if err != nil {
		return nil, s.fail(err)
	}
	t := tree.Build(nodes)
	names := map[string]string{}
	views := make([]CommentView, 0, len(comments))
	for _, comment := range comments {
		name, ok := names[comment.AuthorID]
		if !ok {
			name = comment.AuthorID
			if user, err := s.store.GetUser(ctx, comment.AuthorID); err == nil {
				name = user.FullName
			}
			names[comment.AuthorID] = name
		}
		view := CommentView{Comment: comment, AuthorName: name}
		if entry, ok := t.Find(comment.ActionNodeID); ok {
			view.NodeCounter = t.Counter(entry.Node.ID)
			view.NodePreview = nodePreview(entry.Node.Content)
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]model.Notification, error) {
	if _, err := s.GetUser(ctx, recipientID); err != nil {
		return nil, err
	}
	notifications, err := s.store.ListNotifications(ctx, recipientID, unreadOnly)
	if err != nil {
		return nil, s.fail(err)
	}
	return notifications, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, recipientID string) error {
	marked, err := s.store.MarkNotificationRead(ctx, notificationID, recipientID)
	if err != nil {
		return s.fail(err)
	}
	if !marked {
		return notFound("notification", notificationID)
	}
	return nil
}

// ExportVersion renders a version of a task to a downloadable document.
func (s *Service) ExportVersion(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	result, err := s.export.Export(ctx, req)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return nil, validationError("format", "unsupported export format %q", req.Format)
	case errors.Is(err, export.ErrContentUnavailable):
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	}
	return nil, s.fail(missing(err, "task", req.TaskID))
}
