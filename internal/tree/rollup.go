package tree

import (
	"time"

	"taskreview/api/internal/model"
)

// Rollup propagates completion and review dates from children to parents. A parent is
// completed iff every child is; a parent with dated children takes the earliest child
// date. It returns the updated arena and the IDs of nodes that changed.
func Rollup(nodes []model.Node) ([]model.Node, []string) {
	t := Build(nodes)
	updated := make(map[string]model.Node, len(nodes))

	var visit func(entry *Entry) model.Node
	visit = func(entry *Entry) model.Node {
		node := entry.Node
		if len(entry.Children) == 0 {
			return node
		}
		allDone := true
		var earliest *time.Time
		for _, child := range entry.Children {
			rolled := visit(child)
			if !rolled.Completed {
				allDone = false
			}
			earliest = earlier(earliest, rolled.ReviewDate)
		}
		changed := false
		if node.Completed != allDone {
			node.Completed = allDone
			changed = true
		}
		if earliest != nil && !model.SameDate(node.ReviewDate, earliest) {
			node.ReviewDate = earliest
			changed = true
		}
		if changed {
			updated[node.ID] = node
		}
		return node
	}
	for _, root := range t.Roots {
		visit(root)
	}

	out := make([]model.Node, len(nodes))
	var changedIDs []string
	for i, node := range nodes {
		if rolled, ok := updated[node.ID]; ok {
			out[i] = rolled
			changedIDs = append(changedIDs, node.ID)
			continue
		}
		out[i] = node
	}
	return out, changedIDs
}

// EarliestReviewDate is the task-level review date for a node set.
func EarliestReviewDate(nodes []model.Node) *time.Time {
	var earliest *time.Time
	for _, node := range nodes {
		earliest = earlier(earliest, node.ReviewDate)
	}
	return earliest
}

func earlier(current, candidate *time.Time) *time.Time {
	if candidate == nil {
		return current
	}
	if current == nil || candidate.Before(*current) {
		return model.DateOnly(candidate)
	}
	return current
}
