package app

import (
	"context"

	"taskreview/api/internal/merge"
	"taskreview/api/internal/model"
	"taskreview/api/internal/store"
)

type MergeView struct {
	UserVersion     model.Version        `json:"userVersion"`
	ApprovedVersion model.Version        `json:"approvedVersion"`
	BaseVersion     *model.Version       `json:"baseVersion,omitempty"`
	Categorization  merge.Categorization `json:"categorization"`
	Analysis        merge.Analysis       `json:"analysis"`
}

type MergeOutcome struct {
	Version model.Version `json:"version"`
	Summary merge.Summary `json:"summary"`
}

func (s *Service) recordCategorization(c merge.Categorization) {
	s.metrics.MergeEntries(string(merge.CategoryOriginal), len(c.Original))
	s.metrics.MergeEntries(string(merge.CategoryAutoApproved), len(c.AutoApproved))
	s.metrics.MergeEntries(string(merge.CategoryUserOnly), len(c.UserOnly))
	s.metrics.MergeEntries(string(merge.CategoryConflict), len(c.Conflicts))
}

func baseNodes(ctx context.Context, r store.Reader, baseVersionID string) (*model.Version, []model.Node, error) {
	if baseVersionID == "" {
		return nil, nil, nil
	}
	base, err := r.GetVersion(ctx, baseVersionID)
	if err != nil {
		return nil, nil, missing(err, "version", baseVersionID)
	}
	nodes, err := r.ListNodes(ctx, base.ID)
	if err != nil {
		return nil, nil, err
	}
	return &base, nodes, nil
}

func categorizeAgainst(ctx context.Context, r store.Reader, user []model.Node, approved model.Version, baseVersionID string) (merge.Categorization, error) {
	approvedNodes, err := r.ListNodes(ctx, approved.ID)
	if err != nil {
		return merge.Categorization{}, err
	}
	_, base, err := baseNodes(ctx, r, baseVersionID)
	if err != nil {
		return merge.Categorization{}, err
	}
	return merge.Categorize(user, approvedNodes, base), nil
}

func buildConflict(ctx context.Context, r store.Reader, taskID string, working model.Version, user []model.Node, latest model.Version) (MergeConflict, error) {
	approvedNodes, err := r.ListNodes(ctx, latest.ID)
	if err != nil {
		return MergeConflict{}, err
	}
	baseVersion, base, err := baseNodes(ctx, r, working.BaseVersionID)
	if err != nil {
		return MergeConflict{}, err
	}
	c := merge.Categorize(user, approvedNodes, base)
	conflict := MergeConflict{
		Message:            conflictMessage,
		TaskID:             taskID,
		UserVersion:        VersionNodes{Version: working, Nodes: user},
		ApprovedVersion:    VersionNodes{Version: latest, Nodes: approvedNodes},
		Categorization:     c,
		Analysis:           merge.Analyze(user, approvedNodes, base, c),
		AutoMergeableCount: len(c.AutoApproved),
		ConflictCount:      len(c.Conflicts),
	}
	if baseVersion != nil {
		conflict.BaseVersion = &VersionNodes{Version: *baseVersion, Nodes: base}
	}
	return conflict, nil
}

// conflictIfOutdated returns a ConflictError when version was not based on the
// latest approved version of its task.
func conflictIfOutdated(ctx context.Context, tx store.Tx, version model.Version) error {
	latest, err := tx.LatestApprovedVersion(ctx, version.TaskID)
	if err != nil {
		return err
	}
	if latest == nil || latest.ID == version.ID || !merge.BaseOutdated(version, latest) {
		return nil
	}
	nodes, err := tx.ListNodes(ctx, version.ID)
	if err != nil {
		return err
	}
	conflict, err := buildConflict(ctx, tx, version.TaskID, version, nodes, *latest)
	if err != nil {
		return err
	}
	return &ConflictError{Conflict: conflict}
}

// MergeCategorize compares a draft with an approved version. Empty ids default to
// the task's latest approved version and the draft's own base.
func (s *Service) MergeCategorize(ctx context.Context, userVersionID, approvedVersionID, baseVersionID string) (MergeView, error) {
	user, err := s.GetVersion(ctx, userVersionID)
	if err != nil {
		return MergeView{}, err
	}
	var approved model.Version
	if approvedVersionID == "" {
		latest, err := s.store.LatestApprovedVersion(ctx, user.TaskID)
		if err != nil {
			return MergeView{}, s.fail(err)
		}
		if latest == nil {
			return MergeView{}, validationError("approved_version_id", "task has no approved version to merge with")
		}
		approved = *latest
	} else if approved, err = s.GetVersion(ctx, approvedVersionID); err != nil {
		return MergeView{}, err
	}
	if baseVersionID == "" {
		baseVersionID = user.BaseVersionID
	}
	if approved.TaskID != user.TaskID {
		return MergeView{}, validationError("approved_version_id", "version %s belongs to another task", approved.ID)
	}

	userNodes, err := s.store.ListNodes(ctx, user.ID)
	if err != nil {
		return MergeView{}, s.fail(err)
	}
	approvedNodes, err := s.store.ListNodes(ctx, approved.ID)
	if err != nil {
		return MergeView{}, s.fail(err)
	}
	base, baseArena, err := baseNodes(ctx, s.store, baseVersionID)
	if err != nil {
		return MergeView{}, s.fail(err)
	}
	if base != nil && base.TaskID != user.TaskID {
		return MergeView{}, validationError("base_version_id", "version %s belongs to another task", base.ID)
	}
	c := merge.Categorize(userNodes, approvedNodes, baseArena)
	return MergeView{
		UserVersion:     user,
		ApprovedVersion: approved,
		BaseVersion:     base,
		Categorization:  c,
		Analysis:        merge.Analyze(userNodes, approvedNodes, baseArena, c),
	}, nil
}

// ApplyMerge rebuilds a draft from an already resolved node list and moves its base
// to the approved version it was merged with. Nothing changes when any step fails.
func (s *Service) ApplyMerge(ctx context.Context, versionID, approvedVersionID string, resolved []model.NodeInput) (model.Version, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		task, version, err := editableVersion(ctx, tx, versionID)
		if err != nil {
			return err
		}
		approved, err := tx.GetVersion(ctx, approvedVersionID)
		if err != nil {
			return missing(err, "version", approvedVersionID)
		}
		if approved.TaskID != version.TaskID {
			return validationError("approved_version_id", "version %s belongs to another task", approvedVersionID)
		}
		if !approved.Status.Frozen() {
			return validationError("approved_version_id", "version %d is %s, not approved", approved.VersionNumber, approved.Status)
		}
		return s.applyMerge(ctx, tx, out, task, version, approved, resolved)
	})
	if err != nil {
		return model.Version{}, err
	}
	return s.GetVersion(ctx, versionID)
}

func (s *Service) applyMerge(ctx context.Context, tx store.Tx, out *outbox, task model.Task, version, approved model.Version, resolved []model.NodeInput) error {
	if err := replaceNodes(ctx, tx, version.ID, resolved); err != nil {
		return err
	}
	version.BaseVersionID = approved.ID
	if err := tx.UpdateVersion(ctx, version); err != nil {
		return err
	}
	return s.nodesChanged(ctx, tx, out, task, version)
}

// ResolveMerge categorizes a draft against the latest approved version, applies
// the editor's choices and fast-forwards the draft onto that version.
func (s *Service) ResolveMerge(ctx context.Context, versionID string, choices map[string]merge.Resolution) (MergeOutcome, error) {
	var c merge.Categorization
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		task, version, err := editableVersion(ctx, tx, versionID)
		if err != nil {
			return err
		}
		latest, err := tx.LatestApprovedVersion(ctx, version.TaskID)
		if err != nil {
			return err
		}
		if latest == nil || !merge.BaseOutdated(version, latest) {
			return validationError("version_id", "version %d is already based on the latest approved version", version.VersionNumber)
		}
		user, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		if c, err = categorizeAgainst(ctx, tx, user, *latest, version.BaseVersionID); err != nil {
			return err
		}
		resolved, err := merge.Resolve(c, choices)
		if err != nil {
			return err
		}
		return s.applyMerge(ctx, tx, out, task, version, *latest, resolved)
	})
	if err != nil {
		return MergeOutcome{}, err
	}
	s.recordCategorization(c)
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return MergeOutcome{}, err
	}
	summary := merge.Summarize(choices)
	s.log.Info().
		Str("version_id", versionID).
		Str("base_version_id", version.BaseVersionID).
		Str("strategy", string(summary.Strategy)).
		Int("conflicts", len(c.Conflicts)).
		Msg("merge resolved")
	return MergeOutcome{Version: version, Summary: summary}, nil
}
