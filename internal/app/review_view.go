package app

import (
	"context"

	"taskreview/api/internal/diff"
	"taskreview/api/internal/model"
	"taskreview/api/internal/tree"
)

type DiffStatus string

const (
	DiffAdded     DiffStatus = "added"
	DiffModified  DiffStatus = "modified"
	DiffDeleted   DiffStatus = "deleted"
	DiffUnchanged DiffStatus = "unchanged"
)

type ReviewNode struct {
	model.Node
	Counter    string       `json:"counter"`
	DiffStatus DiffStatus   `json:"diffStatus"`
	Children   []ReviewNode `json:"children"`
}

// ReviewView is what a reviewer sees: the version under review annotated against
// the review's base. Removed holds base nodes that no longer exist.
type ReviewView struct {
	Review   model.Review  `json:"review"`
	Task     model.Task    `json:"task"`
	Version  model.Version `json:"version"`
	Nodes    []ReviewNode  `json:"nodes"`
	Removed  []ReviewNode  `json:"removed"`
	Diff     diff.Result   `json:"diff"`
	Comments []CommentView `json:"comments"`
}

// ReviewDetail builds the annotated tree for a review. Without a base version
// every node counts as added.
func (s *Service) ReviewDetail(ctx context.Context, reviewID string) (ReviewView, error) {
	review, err := s.GetReview(ctx, reviewID)
	if err != nil {
		return ReviewView{}, err
	}
	version, err := s.GetVersion(ctx, review.TaskVersionID)
	if err != nil {
		return ReviewView{}, err
	}
	task, err := s.store.GetTask(ctx, version.TaskID)
	if err != nil {
		return ReviewView{}, s.fail(missing(err, "task", version.TaskID))
	}
	nodes, err := s.store.ListNodes(ctx, version.ID)
	if err != nil {
		return ReviewView{}, s.fail(err)
	}
	var base []model.Node
	if review.BaseVersionID != "" {
		if base, err = s.store.ListNodes(ctx, review.BaseVersionID); err != nil {
			return ReviewView{}, s.fail(err)
		}
	}
	result := diff.Compute(nodes, base)
	comments, err := s.ListComments(ctx, reviewID)
	if err != nil {
		return ReviewView{}, err
	}

	statuses := make(map[string]DiffStatus, len(result.Added)+len(result.Modified))
	for _, node := range result.Added {
		statuses[node.ID] = DiffAdded
	}
	for _, change := range result.Modified {
		statuses[change.After.ID] = DiffModified
	}
	removed := make([]ReviewNode, 0, len(result.Removed))
	for _, node := range result.Removed {
		removed = append(removed, ReviewNode{Node: node, DiffStatus: DiffDeleted, Children: []ReviewNode{}})
	}
	return ReviewView{
		Review:   review,
		Task:     task,
		Version:  version,
		Nodes:    annotate(tree.Build(nodes).Roots, statuses),
		Removed:  removed,
		Diff:     result,
		Comments: comments,
	}, nil
}

func annotate(entries []*tree.Entry, statuses map[string]DiffStatus) []ReviewNode {
	siblings := make([]model.Node, len(entries))
	for i, entry := range entries {
		siblings[i] = entry.Node
	}
	out := make([]ReviewNode, 0, len(entries))
	for _, entry := range entries {
		status, ok := statuses[entry.Node.ID]
		if !ok {
			status = DiffUnchanged
		}
		out = append(out, ReviewNode{
			Node:       entry.Node,
			Counter:    tree.DisplayCounter(entry.Node, siblings),
			DiffStatus: status,
			Children:   annotate(entry.Children, statuses),
		})
	}
	return out
}

// ReviewInbox lists reviews the user is assigned to or whose version the user
// edited, newest first.
func (s *Service) ReviewInbox(ctx context.Context, userID string) ([]model.Review, error) {
	if _, err := requireUser(ctx, s.store, userID); err != nil {
		return nil, s.fail(err)
	}
	reviews, err := s.store.ListReviewsForUser(ctx, userID)
	if err != nil {
		return nil, s.fail(err)
	}
	return reviews, nil
}
