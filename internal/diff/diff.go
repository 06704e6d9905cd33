// Package diff correlates nodes across versions and reports added, removed and
// modified nodes. Node IDs are never shared between versions (drafts deep-copy
// their tree), so correlation relies on content equivalence.
package diff

import "taskreview/api/internal/model"

// Equivalent is the single matching rule for cross-version correlation: trimmed
// content, level and list style must match. Position is ignored so a reorder is
// neither an addition nor a removal.
func Equivalent(a, b model.Node) bool {
	return a.TrimmedContent() == b.TrimmedContent() &&
		a.Level == b.Level &&
		a.ListStyle == b.ListStyle
}

// ContentEqual is stricter than Equivalent and decides whether a correlated pair
// counts as modified.
func ContentEqual(a, b model.Node) bool {
	return a.TrimmedContent() == b.TrimmedContent() &&
		model.SameDate(a.ReviewDate, b.ReviewDate) &&
		a.Completed == b.Completed
}

type Change struct {
	Before model.Node `json:"before"`
	After  model.Node `json:"after"`
}

type Result struct {
	Added    []model.Node `json:"added"`
	Removed  []model.Node `json:"removed"`
	Modified []Change     `json:"modified"`
}

func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Modified) == 0
}

// Compute diffs current against other. A nil other stands for "no base" (the first
// review of a task): every current node is added and nothing is removed or modified.
func Compute(current, other []model.Node) Result {
	m := Correlate(current, other)
	result := Result{
		Added:    []model.Node{},
		Removed:  []model.Node{},
		Modified: []Change{},
	}
	for _, node := range m.Left {
		counterpart, ok := m.ForLeft(node.ID)
		if !ok {
			result.Added = append(result.Added, node)
			continue
		}
		if !ContentEqual(node, counterpart) {
			result.Modified = append(result.Modified, Change{Before: counterpart, After: node})
		}
	}
	for _, node := range m.Right {
		if _, ok := m.ForRight(node.ID); !ok {
			result.Removed = append(result.Removed, node)
		}
	}
	return result
}

// ChangedIDs lists the IDs of current nodes that were added or modified.
func (r Result) ChangedIDs() map[string]bool {
	changed := make(map[string]bool, len(r.Added)+len(r.Modified))
	for _, node := range r.Added {
		changed[node.ID] = true
	}
	for _, change := range r.Modified {
		changed[change.After.ID] = true
	}
	return changed
}
