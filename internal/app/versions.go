package app

import (
	"context"
	"fmt"

	"taskreview/api/internal/diff"
	"taskreview/api/internal/model"
	"taskreview/api/internal/store"
	"taskreview/api/internal/tree"
	"taskreview/api/internal/util"
)

// CreateVersion starts the version history of a task that has none.
func (s *Service) CreateVersion(ctx context.Context, taskID, editorID string) (model.Version, error) {
	var version model.Version
	err := s.mutate(ctx, func(tx store.Tx, _ *outbox) error {
		if _, err := requireUser(ctx, tx, editorID); err != nil {
			return err
		}
		task, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return missing(err, "task", taskID)
		}
		existing, err := tx.ListVersions(ctx, taskID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return validationError("task_id", "task %s already has versions; branch a draft instead", taskID)
		}
		if version, err = createFirstVersion(ctx, tx, taskID, editorID); err != nil {
			return err
		}
		task.CurrentVersionID = version.ID
		task.Status = model.TaskDraft
		return tx.UpdateTask(ctx, task)
	})
	if err != nil {
		return model.Version{}, err
	}
	return s.GetVersion(ctx, version.ID)
}

// CreateDraft branches a new draft from baseVersionID with a deep copy of its nodes.
// The task keeps pointing at its current version until the draft is saved.
func (s *Service) CreateDraft(ctx context.Context, baseVersionID, editorID string) (model.Version, error) {
	var draft model.Version
	err := s.mutate(ctx, func(tx store.Tx, _ *outbox) error {
		if _, err := requireUser(ctx, tx, editorID); err != nil {
			return err
		}
		base, err := tx.GetVersion(ctx, baseVersionID)
		if err != nil {
			return missing(err, "version", baseVersionID)
		}
		if _, err := tx.LockTask(ctx, base.TaskID); err != nil {
			return err
		}
		draft, err = branchDraft(ctx, tx, base, editorID)
		return err
	})
	if err != nil {
		return model.Version{}, err
	}
	s.log.Info().Str("version_id", draft.ID).Str("base_version_id", baseVersionID).Int("number", draft.VersionNumber).Msg("draft created")
	return s.GetVersion(ctx, draft.ID)
}

func createFirstVersion(ctx context.Context, tx store.Tx, taskID, editorID string) (model.Version, error) {
	number, err := tx.NextVersionNumber(ctx, taskID)
	if err != nil {
		return model.Version{}, err
	}
	version := model.Version{
		ID:            util.NewID("ver"),
		TaskID:        taskID,
		VersionNumber: number,
		Status:        model.VersionDraft,
		EditorID:      editorID,
	}
	if err := tx.InsertVersion(ctx, version); err != nil {
		return model.Version{}, err
	}
	return version, nil
}

func branchDraft(ctx context.Context, tx store.Tx, base model.Version, editorID string) (model.Version, error) {
	number, err := tx.NextVersionNumber(ctx, base.TaskID)
	if err != nil {
		return model.Version{}, err
	}
	draft := model.Version{
		ID:            util.NewID("ver"),
		TaskID:        base.TaskID,
		VersionNumber: number,
		Status:        model.VersionDraft,
		BaseVersionID: base.ID,
		EditorID:      editorID,
	}
	if err := tx.InsertVersion(ctx, draft); err != nil {
		return model.Version{}, err
	}
	if err := copyNodes(ctx, tx, base.ID, draft.ID); err != nil {
		return model.Version{}, err
	}
	return draft, nil
}

// copyNodes duplicates a version's arena, remapping parent pointers to the copies.
func copyNodes(ctx context.Context, tx store.Tx, fromVersionID, toVersionID string) error {
	nodes, err := tx.ListNodes(ctx, fromVersionID)
	if err != nil {
		return err
	}
	ids := make(map[string]string, len(nodes))
	for _, node := range tree.Order(nodes) {
		copied := node
		copied.ID = util.NewID("node")
		copied.VersionID = toVersionID
		if node.ParentID != "" {
			parentID, ok := ids[node.ParentID]
			if !ok {
				return invariantViolation("node %s of version %s has a parent outside the version", node.ID, fromVersionID)
			}
			copied.ParentID = parentID
		}
		if err := tx.InsertNode(ctx, copied); err != nil {
			return err
		}
		ids[node.ID] = copied.ID
	}
	return nil
}

// buildNodes materializes inputs as an arena for versionID. Client ids link
// children to parents and may appear in any order; a zero position means "after
// the last sibling".
func buildNodes(versionID string, inputs []model.NodeInput, newID func(model.NodeInput) string) ([]model.Node, error) {
	normalized := make([]model.NodeInput, len(inputs))
	known := make(map[string]bool, len(inputs))
	for i, in := range inputs {
		n, err := in.Normalize()
		if err != nil {
			return nil, err
		}
		if n.ClientID == "" {
			n.ClientID = fmt.Sprintf("#%d", i+1)
		}
		if known[n.ClientID] {
			return nil, model.Invalid("client_id", "duplicate client id %s", n.ClientID)
		}
		known[n.ClientID] = true
		normalized[i] = n
	}
	for _, n := range normalized {
		if n.ParentClientID != "" && !known[n.ParentClientID] {
			return nil, model.Invalid("parent_client_id", "unknown parent %s", n.ParentClientID)
		}
	}

	ids := make(map[string]string, len(normalized))
	nodes := make([]model.Node, 0, len(normalized))
	pending := normalized
	for len(pending) > 0 {
		var deferred []model.NodeInput
		for _, in := range pending {
			parentID := ""
			if in.ParentClientID != "" {
				stored, ok := ids[in.ParentClientID]
				if !ok {
					deferred = append(deferred, in)
					continue
				}
				parentID = stored
			}
			node := model.Node{
				ID:         newID(in),
				VersionID:  versionID,
				ParentID:   parentID,
				Content:    in.Content,
				Level:      in.Level,
				ListStyle:  in.ListStyle,
				NodeType:   in.NodeType,
				Position:   in.Position,
				Completed:  in.Completed,
				ReviewDate: in.ReviewDate,
				ReviewerID: in.ReviewerID,
			}
			ids[in.ClientID] = node.ID
			nodes = append(nodes, node)
		}
		if len(deferred) == len(pending) {
			return nil, model.Invalid("parent_client_id", "node parents form a cycle")
		}
		pending = deferred
	}
	for i := range nodes {
		if nodes[i].Position == 0 {
			nodes[i].Position = tree.NextPosition(nodes, nodes[i].ParentID)
		}
	}
	if err := tree.Validate(nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// writeNodes inserts inputs into versionID, parents before children.
func writeNodes(ctx context.Context, tx store.Tx, versionID string, inputs []model.NodeInput) ([]model.Node, error) {
	nodes, err := buildNodes(versionID, inputs, func(model.NodeInput) string { return util.NewID("node") })
	if err != nil {
		return nil, err
	}
	checked := map[string]bool{}
	for _, node := range nodes {
		if node.ReviewerID == "" || checked[node.ReviewerID] {
			continue
		}
		if _, err := tx.GetUser(ctx, node.ReviewerID); err != nil {
			return nil, model.Invalid("reviewer_id", "unknown reviewer %s", node.ReviewerID)
		}
		checked[node.ReviewerID] = true
	}
	for _, node := range nodes {
		if err := tx.InsertNode(ctx, node); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// proposedNodes is the arena a save would write, kept in memory so it can be
// compared before anything touches the store.
func proposedNodes(versionID string, inputs []model.NodeInput) ([]model.Node, error) {
	return buildNodes(versionID, inputs, func(in model.NodeInput) string { return in.ClientID })
}

func replaceNodes(ctx context.Context, tx store.Tx, versionID string, inputs []model.NodeInput) error {
	existing, err := tx.ListNodes(ctx, versionID)
	if err != nil {
		return err
	}
	for _, id := range tree.DeleteAllOrder(existing) {
		if err := tx.DeleteNode(ctx, id); err != nil {
			return fmt.Errorf("delete node %s: %w", id, err)
		}
	}
	_, err = writeNodes(ctx, tx, versionID, inputs)
	return err
}

// rollupVersion applies completion and review date rollup and returns the arena.
func rollupVersion(ctx context.Context, tx store.Tx, versionID string) ([]model.Node, error) {
	nodes, err := tx.ListNodes(ctx, versionID)
	if err != nil {
		return nil, err
	}
	rolled, changed := tree.Rollup(nodes)
	if len(changed) == 0 {
		return rolled, nil
	}
	isChanged := make(map[string]bool, len(changed))
	for _, id := range changed {
		isChanged[id] = true
	}
	for _, node := range rolled {
		if isChanged[node.ID] {
			if err := tx.UpdateNode(ctx, node); err != nil {
				return nil, err
			}
		}
	}
	return rolled, nil
}

func (s *Service) GetVersion(ctx context.Context, versionID string) (model.Version, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return model.Version{}, s.fail(missing(err, "version", versionID))
	}
	return version, nil
}

func (s *Service) ListVersions(ctx context.Context, taskID string) ([]model.Version, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, s.fail(missing(err, "task", taskID))
	}
	versions, err := s.store.ListVersions(ctx, taskID)
	if err != nil {
		return nil, s.fail(err)
	}
	return versions, nil
}

func (s *Service) NodeTree(ctx context.Context, versionID string) (*tree.Tree, error) {
	if _, err := s.GetVersion(ctx, versionID); err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, versionID)
	if err != nil {
		return nil, s.fail(err)
	}
	return tree.Build(nodes), nil
}

// Diff compares a version with another version of the same task. An empty
// otherVersionID compares against the version's base; a version without a base is
// a first review and every node counts as added.
func (s *Service) Diff(ctx context.Context, versionID, otherVersionID string) (diff.Result, error) {
	version, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return diff.Result{}, err
	}
	nodes, err := s.store.ListNodes(ctx, versionID)
	if err != nil {
		return diff.Result{}, s.fail(err)
	}
	if otherVersionID == "" {
		otherVersionID = version.BaseVersionID
	}
	if otherVersionID == "" {
		return diff.Compute(nodes, nil), nil
	}
	other, err := s.GetVersion(ctx, otherVersionID)
	if err != nil {
		return diff.Result{}, err
	}
	if other.TaskID != version.TaskID {
		return diff.Result{}, validationError("other_version_id", "version %s belongs to another task", otherVersionID)
	}
	otherNodes, err := s.store.ListNodes(ctx, otherVersionID)
	if err != nil {
		return diff.Result{}, s.fail(err)
	}
	return diff.Compute(nodes, otherNodes), nil
}

// editableNode loads a node whose version is still a draft and locks its task.
func editableNode(ctx context.Context, tx store.Tx, nodeID string) (model.Node, model.Task, model.Version, error) {
	node, err := tx.GetNode(ctx, nodeID)
	if err != nil {
		return model.Node{}, model.Task{}, model.Version{}, missing(err, "node", nodeID)
	}
	task, version, err := editableVersion(ctx, tx, node.VersionID)
	return node, task, version, err
}

func editableVersion(ctx context.Context, tx store.Tx, versionID string) (model.Task, model.Version, error) {
	version, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return model.Task{}, model.Version{}, missing(err, "version", versionID)
	}
	task, err := tx.LockTask(ctx, version.TaskID)
	if err != nil {
		return model.Task{}, model.Version{}, err
	}
	if version.Status != model.VersionDraft {
		return model.Task{}, model.Version{}, validationError("status", "version %d is %s; only drafts can be edited", version.VersionNumber, version.Status)
	}
	return task, version, nil
}

// nodesChanged rolls the version up and keeps the task's review date in step when
// the version is the task's current one.
func (s *Service) nodesChanged(ctx context.Context, tx store.Tx, out *outbox, task model.Task, version model.Version) error {
	nodes, err := rollupVersion(ctx, tx, version.ID)
	if err != nil {
		return err
	}
	if task.CurrentVersionID != version.ID {
		return nil
	}
	task.ReviewDate = tree.EarliestReviewDate(nodes)
	if err := tx.UpdateTask(ctx, task); err != nil {
		return err
	}
	out.after(func(ctx context.Context) { s.indexTask(ctx, task.ID) })
	return nil
}

// AddNode appends a node to a draft. Without an explicit level a child sits one
// level below its parent; without a position it goes after its last sibling.
func (s *Service) AddNode(ctx context.Context, versionID, parentID string, input model.NodeInput) (model.Node, error) {
	var node model.Node
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		task, version, err := editableVersion(ctx, tx, versionID)
		if err != nil {
			return err
		}
		nodes, err := tx.ListNodes(ctx, versionID)
		if err != nil {
			return err
		}
		byID := make(map[string]model.Node, len(nodes))
		for _, existing := range nodes {
			byID[existing.ID] = existing
		}
		if parentID != "" {
			parent, ok := byID[parentID]
			if !ok {
				return validationError("parent_id", "parent %s is not part of this version", parentID)
			}
			if input.Level == 0 {
				input.Level = parent.Level + 1
			}
		}
		in, err := input.Normalize()
		if err != nil {
			return err
		}
		if in.ReviewerID != "" {
			if _, err := tx.GetUser(ctx, in.ReviewerID); err != nil {
				return validationError("reviewer_id", "unknown reviewer %s", in.ReviewerID)
			}
		}
		node = model.Node{
			ID:         util.NewID("node"),
			VersionID:  versionID,
			ParentID:   parentID,
			Content:    in.Content,
			Level:      in.Level,
			ListStyle:  in.ListStyle,
			NodeType:   in.NodeType,
			Position:   in.Position,
			Completed:  in.Completed,
			ReviewDate: in.ReviewDate,
			ReviewerID: in.ReviewerID,
		}
		if node.Position == 0 {
			node.Position = tree.NextPosition(nodes, parentID)
		}
		if err := tree.Validate(append(nodes, node)); err != nil {
			return err
		}
		if err := tx.InsertNode(ctx, node); err != nil {
			return err
		}
		return s.nodesChanged(ctx, tx, out, task, version)
	})
	if err != nil {
		return model.Node{}, err
	}
	return s.getNode(ctx, node.ID)
}

func (s *Service) getNode(ctx context.Context, nodeID string) (model.Node, error) {
	node, err := s.store.GetNode(ctx, nodeID)
	if err != nil {
		return model.Node{}, s.fail(missing(err, "node", nodeID))
	}
	return node, nil
}

func (s *Service) ChangeNodeLevel(ctx context.Context, nodeID string, level int) (model.Node, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		node, task, version, err := editableNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		nodes, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		if err := tree.CanChangeLevel(nodes, nodeID, level); err != nil {
			return err
		}
		node.Level = level
		if err := tx.UpdateNode(ctx, node); err != nil {
			return err
		}
		return s.nodesChanged(ctx, tx, out, task, version)
	})
	if err != nil {
		return model.Node{}, err
	}
	return s.getNode(ctx, nodeID)
}

// MoveNode reparents a node. A position already taken by a sibling pushes that
// sibling and everything after it one slot down.
func (s *Service) MoveNode(ctx context.Context, nodeID, parentID string, position int) (model.Node, error) {
	if position < 0 {
		return model.Node{}, validationError("position", "position must not be negative")
	}
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		node, task, version, err := editableNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		nodes, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		if err := tree.CheckParent(nodes, nodeID, parentID); err != nil {
			return err
		}
		var siblings []model.Node
		for _, other := range nodes {
			if other.ID == nodeID {
				continue
			}
			if other.ID == parentID && node.Level <= other.Level {
				return validationError("parent_id", "node level %d must be deeper than parent level %d", node.Level, other.Level)
			}
			if other.ParentID == parentID {
				siblings = append(siblings, other)
			}
		}
		if position == 0 {
			position = tree.NextPosition(siblings, parentID)
		}
		tree.SortSiblings(siblings)
		next := position
		for _, sibling := range siblings {
			if sibling.Position < next {
				continue
			}
			if sibling.Position > next {
				break
			}
			next++
			sibling.Position = next
			if err := tx.UpdateNode(ctx, sibling); err != nil {
				return err
			}
		}
		node.ParentID = parentID
		node.Position = position
		if err := tx.UpdateNode(ctx, node); err != nil {
			return err
		}
		moved, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		if err := tree.Validate(moved); err != nil {
			return err
		}
		return s.nodesChanged(ctx, tx, out, task, version)
	})
	if err != nil {
		return model.Node{}, err
	}
	return s.getNode(ctx, nodeID)
}

// DeleteNode removes a node with its whole subtree, descendants first.
func (s *Service) DeleteNode(ctx context.Context, nodeID string) error {
	return s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		_, task, version, err := editableNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		nodes, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		for _, id := range tree.DeleteOrder(nodes, nodeID) {
			if err := tx.DeleteNode(ctx, id); err != nil {
				return fmt.Errorf("delete node %s: %w", id, err)
			}
		}
		return s.nodesChanged(ctx, tx, out, task, version)
	})
}

// SetNodeCompleted marks a leaf done or not done. Parents follow their children.
func (s *Service) SetNodeCompleted(ctx context.Context, nodeID string, completed bool) (model.Node, error) {
	err := s.mutate(ctx, func(tx store.Tx, out *outbox) error {
		node, task, version, err := editableNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		nodes, err := tx.ListNodes(ctx, version.ID)
		if err != nil {
			return err
		}
		for _, other := range nodes {
			if other.ParentID == nodeID {
				return validationError("completed", "completion of node %s follows its children", nodeID)
			}
		}
		node.Completed = completed
		if err := tx.UpdateNode(ctx, node); err != nil {
			return err
		}
		return s.nodesChanged(ctx, tx, out, task, version)
	})
	if err != nil {
		return model.Node{}, err
	}
	return s.getNode(ctx, nodeID)
}
