package app

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"taskreview/api/internal/archive"
	"taskreview/api/internal/diff"
	"taskreview/api/internal/model"
	"taskreview/api/internal/store"
	"taskreview/api/internal/tree"
	"taskreview/api/internal/util"
)

type DecisionAction string

const (
	DecisionApprove        DecisionAction = "approved"
	DecisionRequestChanges DecisionAction = "changes_requested"
	DecisionForward        DecisionAction = "forward"
)

func ParseDecisionAction(raw string) (DecisionAction, error) {
	switch value := DecisionAction(strings.TrimSpace(raw)); value {
	case DecisionApprove, DecisionRequestChanges, DecisionForward:
		return value, nil
	case "approve":
		return DecisionApprove, nil
	case "reject":
		return DecisionRequestChanges, nil
	}
	return "", validationError("action", "unknown review decision %q", raw)
}

type Decision struct {
	Action    DecisionAction
	ForwardTo string
	Comment   string
}

func (s *Service) GetReview(ctx context.Context, reviewID string) (model.Review, error) {
	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return model.Review{}, s.fail(missing(err, "review", reviewID))
	}
	return review, nil
}

func (s *Service) ListReviews(ctx context.Context, versionID string) ([]model.Review, error) {
	if _, err := s.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	reviews, err := s.store.ListReviews(ctx, versionID)
	if err != nil {
		return nil, s.fail(err)
	}
	return reviews, nil
}

// changedNodes lists the nodes of a version that are new or edited relative to
// base. With no base every node counts as changed.
func changedNodes(nodes, base []model.Node) map[string]bool {
	matching := diff.Correlate(nodes, base)
	changed := make(map[string]bool)
	for _, node := range nodes {
		counterpart, ok := matching.ForLeft(node.ID)
		if !ok || !diff.ContentEqual(node, counterpart) {
			changed[node.ID] = true
		}
	}
	return changed
}

func countNodes(count int, one, many string) string {
	if count == 1 {
		return "1 " + one
	}
	return strconv.Itoa(count) + " " + many
}

// SubmitForReview sends a draft to review. Unassigned nodes, or an explicit task
// reviewer, get one aggregate task-level review; each reviewer assigned to nodes
// that changed since the last approved version gets a node-level review for just
// those nodes. Pending reviews from an earlier submission are updated in place.
func (s *Service) SubmitForReview(ctx context.Context, versionID, taskReviewerID string) ([]model.Review, error) {
	taskReviewerID = strings.TrimSpace(taskReviewerID)
	var submitted []model.Review
	var version model.Version
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		submitted = nil
		var err error
		if version, err = tx.GetVersion(ctx, versionID); err != nil {
			return missing(err, "version", versionID)
		}
		task, err := tx.LockTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		if version.Status.Frozen() {
			return validationError("status", "version %d is %s and cannot be submitted", version.VersionNumber, version.Status)
		}
		if taskReviewerID != "" {
			if _, err := tx.GetUser(ctx, taskReviewerID); err != nil {
				return missing(err, "user", taskReviewerID)
			}
		}
		if err := conflictIfOutdated(ctx, tx, version); err != nil {
			return err
		}

		latest, err := tx.LatestApprovedVersion(ctx, task.ID)
		if err != nil {
			return err
		}
		baseVersionID := ""
		var base []model.Node
		if latest != nil {
			baseVersionID = latest.ID
			if base, err = tx.ListNodes(ctx, latest.ID); err != nil {
				return err
			}
		}
		nodes, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		changed := changedNodes(nodes, base)

		var unassigned []string
		byReviewer := map[string][]string{}
		for _, node := range nodes {
			if node.ReviewerID == "" {
				unassigned = append(unassigned, node.ID)
				continue
			}
			if changed[node.ID] {
				byReviewer[node.ReviewerID] = append(byReviewer[node.ReviewerID], node.ID)
			}
		}
		if len(unassigned) > 0 && taskReviewerID == "" {
			return validationError("reviewer_id", "a task reviewer is required for %d unassigned node(s)", len(unassigned))
		}

		existing, err := tx.ListReviews(ctx, version.ID)
		if err != nil {
			return err
		}
		upsert := func(want model.Review) (model.Review, error) {
			for _, review := range existing {
				if review.Status != model.ReviewPending || review.ReviewerType != want.ReviewerType {
					continue
				}
				if want.ReviewerType == model.ReviewerNodeLevel && review.ReviewerID != want.ReviewerID {
					continue
				}
				review.ReviewerID = want.ReviewerID
				review.BaseVersionID = want.BaseVersionID
				review.AssignedNodeIDs = want.AssignedNodeIDs
				review.IsAggregate = want.IsAggregate
				return review, tx.UpdateReview(ctx, review)
			}
			want.ID = util.NewID("rev")
			want.Status = model.ReviewPending
			s.metrics.ReviewCreated(string(want.ReviewerType))
			return want, tx.InsertReview(ctx, want)
		}

		if len(unassigned) > 0 || taskReviewerID != "" {
			review, err := upsert(model.Review{
				TaskVersionID:   version.ID,
				BaseVersionID:   baseVersionID,
				ReviewerID:      taskReviewerID,
				ReviewerType:    model.ReviewerTaskLevel,
				IsAggregate:     true,
				AssignedNodeIDs: unassigned,
			})
			if err != nil {
				return err
			}
			submitted = append(submitted, review)
			count := 0
			for _, id := range unassigned {
				if changed[id] {
					count++
				}
			}
			if count > 0 {
				out.notify(review.ReviewerID, task.ID, review.ID, model.NotifyReviewRequest, countNodes(count, "unassigned node has", "unassigned nodes have")+
					" been modified in task: "+task.Description)
			}
		}

		reviewers := make([]string, 0, len(byReviewer))
		for reviewerID := range byReviewer {
			reviewers = append(reviewers, reviewerID)
		}
		sort.Strings(reviewers)
		for _, reviewerID := range reviewers {
			assigned := byReviewer[reviewerID]
			review, err := upsert(model.Review{
				TaskVersionID:   version.ID,
				BaseVersionID:   baseVersionID,
				ReviewerID:      reviewerID,
				ReviewerType:    model.ReviewerNodeLevel,
				AssignedNodeIDs: assigned,
			})
			if err != nil {
				return err
			}
			submitted = append(submitted, review)
			out.notify(reviewerID, task.ID, review.ID, model.NotifyReviewRequest, countNodes(len(assigned), "node you're assigned to has", "nodes you're assigned to have")+
				" been modified in task: "+task.Description)
		}
		if len(submitted) == 0 {
			return validationError("reviewer_id", "nothing to review: no changed nodes and no task reviewer")
		}

		version.Status = model.VersionUnderReview
		if err := tx.UpdateVersion(ctx, version); err != nil {
			return err
		}
		task.Status = model.TaskUnderReview
		task.CurrentVersionID = version.ID
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		out.after(func(ctx context.Context) {
			s.archiveVersion(ctx, version.ID, version.EditorID, archive.ReviewBranch(version.VersionNumber),
				fmt.Sprintf("Submit version %d for review", version.VersionNumber), false)
			s.indexTask(ctx, task.ID)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("version_id", versionID).Int("reviews", len(submitted)).Msg("version submitted for review")
	return s.ListReviews(ctx, version.ID)
}

// ResolveReview records a reviewer's decision. Approval runs with the task row
// locked: of two approvals racing on one task only the first advances the current
// version, and the second sees an outdated base.
func (s *Service) ResolveReview(ctx context.Context, reviewID, actorID string, decision Decision) (model.Review, error) {
	if _, err := ParseDecisionAction(string(decision.Action)); err != nil {
		return model.Review{}, err
	}
	var successor string
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		successor = ""
		if _, err := requireUser(ctx, tx, actorID); err != nil {
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
		task, err := tx.LockTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		// Re-read under the task lock: a concurrent decision may have settled it.
		if review, err = tx.GetReview(ctx, reviewID); err != nil {
			return missing(err, "review", reviewID)
		}
		if version, err = tx.GetVersion(ctx, review.TaskVersionID); err != nil {
			return err
		}
		if review.Status != model.ReviewPending {
			return validationError("status", "review is already %s", review.Status)
		}
		review.Comment = strings.TrimSpace(decision.Comment)

		switch decision.Action {
		case DecisionApprove:
			if version.Status.Frozen() {
				// An earlier review already settled this version.
				review.Status = model.ReviewApproved
				return tx.UpdateReview(ctx, review)
			}
			if err := conflictIfOutdated(ctx, tx, version); err != nil {
				return err
			}
			review.Status = model.ReviewApproved
			if err := tx.UpdateReview(ctx, review); err != nil {
				return err
			}
			version.Status = model.VersionApproved
			if err := tx.UpdateVersion(ctx, version); err != nil {
				return err
			}
			current, err := pointedVersion(ctx, tx, task)
			if err != nil {
				return err
			}
			if current == nil || current.ID == version.ID || current.Status.Frozen() {
				nodes, err := rollupVersion(ctx, tx, version.ID)
				if err != nil {
					return err
				}
				task.CurrentVersionID = version.ID
				task.Status = model.TaskApproved
				task.CompletedAt = nil
				task.ReviewDate = tree.EarliestReviewDate(nodes)
				if err := tx.UpdateTask(ctx, task); err != nil {
					return err
				}
			}
			out.notify(version.EditorID, task.ID, review.ID, model.NotifyTaskApproved,
				fmt.Sprintf("Your task '%s' has been approved", task.Description))
			out.after(func(ctx context.Context) {
				s.archiveVersion(ctx, version.ID, actorID, archive.MainBranch,
					fmt.Sprintf("Approve version %d", version.VersionNumber), true)
				s.indexTask(ctx, task.ID)
			})

		case DecisionRequestChanges:
			review.Status = model.ReviewChangesRequested
			if err := tx.UpdateReview(ctx, review); err != nil {
				return err
			}
			if version.Status.Frozen() {
				out.notify(version.EditorID, task.ID, review.ID, model.NotifyChangesRequested,
					fmt.Sprintf("Changes requested for task '%s'", task.Description))
				return nil
			}
			version.Status = model.VersionDraft
			if err := tx.UpdateVersion(ctx, version); err != nil {
				return err
			}
			if task.CurrentVersionID == version.ID {
				task.Status = model.TaskDraft
				if err := tx.UpdateTask(ctx, task); err != nil {
					return err
				}
			}
			out.notify(version.EditorID, task.ID, review.ID, model.NotifyChangesRequested,
				fmt.Sprintf("Changes requested for task '%s'", task.Description))
			out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })

		case DecisionForward:
			forwardTo := strings.TrimSpace(decision.ForwardTo)
			if forwardTo == "" {
				return validationError("forward_to", "a reviewer to forward to is required")
			}
			if forwardTo == review.ReviewerID {
				return validationError("forward_to", "review is already assigned to %s", forwardTo)
			}
			if _, err := tx.GetUser(ctx, forwardTo); err != nil {
				return missing(err, "user", forwardTo)
			}
			review.Status = model.ReviewForwarded
			if err := tx.UpdateReview(ctx, review); err != nil {
				return err
			}
			next := model.Review{
				ID:              util.NewID("rev"),
				TaskVersionID:   review.TaskVersionID,
				BaseVersionID:   review.BaseVersionID,
				ReviewerID:      forwardTo,
				Status:          model.ReviewPending,
				ReviewerType:    review.ReviewerType,
				IsAggregate:     review.IsAggregate,
				AssignedNodeIDs: review.AssignedNodeIDs,
			}
			if err := tx.InsertReview(ctx, next); err != nil {
				return err
			}
			successor = next.ID
			s.metrics.ReviewCreated(string(next.ReviewerType))
			out.notify(forwardTo, task.ID, next.ID, model.NotifyReviewForwarded,
				fmt.Sprintf("Review forwarded to you for task '%s'", task.Description))
			out.notify(version.EditorID, task.ID, review.ID, model.NotifyReviewForwarded,
				"Your task has been forwarded to another reviewer")
		}
		return nil
	})
	if err != nil {
		return model.Review{}, err
	}
	s.metrics.ReviewDecision(string(decision.Action))
	s.log.Info().
		Str("review_id", reviewID).
		Str("actor_id", actorID).
		Str("decision", string(decision.Action)).
		Str("successor_id", successor).
		Msg("review resolved")
	if successor != "" {
		return s.GetReview(ctx, successor)
	}
	return s.GetReview(ctx, reviewID)
}

// NotifyEditorChanges asks the reviewer of a review to look again after the editor
// changed the version under review.
func (s *Service) NotifyEditorChanges(ctx context.Context, reviewID, actorID string) (model.Review, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		if _, err := requireUser(ctx, tx, actorID); err != nil {
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
		task, err := tx.LockTask(ctx, version.TaskID)
		if err != nil {
			return err
		}
		if review, err = tx.GetReview(ctx, reviewID); err != nil {
			return missing(err, "review", reviewID)
		}
		if review.Status == model.ReviewApproved || review.Status == model.ReviewForwarded {
			return validationError("status", "review is %s", review.Status)
		}
		review.Status = model.ReviewPending
		if err := tx.UpdateReview(ctx, review); err != nil {
			return err
		}
		out.notify(review.ReviewerID, task.ID, review.ID, model.NotifyEditorChanges,
			fmt.Sprintf("Editor has made changes to task '%s' - please re-review", task.Description))
		return nil
	})
	if err != nil {
		return model.Review{}, err
	}
	return s.GetReview(ctx, reviewID)
}

// pointedVersion loads the version the task currently points at, or nil.
func pointedVersion(ctx context.Context, r store.Reader, task model.Task) (*model.Version, error) {
	if task.CurrentVersionID == "" {
		return nil, nil
	}
	version, err := r.GetVersion(ctx, task.CurrentVersionID)
	if err != nil {
		return nil, fmt.Errorf("load current version: %w", err)
	}
	return &version, nil
}
