package diff

import (
	"taskreview/api/internal/model"
	"taskreview/api/internal/tree"
)

// Matching is a one-to-one pairing between the nodes of two versions.
type Matching struct {
	Left  []model.Node
	Right []model.Node

	leftToRight map[string]model.Node
	rightToLeft map[string]model.Node
}

// Correlate pairs nodes of left and right in two passes, both walking the trees in
// pre-order so the result does not depend on argument order:
//
//  1. Equivalent nodes. Each left node takes the first unpaired equivalent right
//     node. This is a pairwise O(n·m) scan; fine for document-sized trees of a few
//     hundred nodes but the cost grows quadratically beyond that. Two equivalent
//     siblings (two points both reading "TBD") pair in document order, which is a
//     known limitation rather than an attempt at disambiguation.
//  2. In-place edits. Nodes still unpaired are paired when they sit in the same
//     slot: same level, list style and position under correlated parents (or both
//     at the root). This is what turns an edited line into a modification instead
//     of an unrelated removal plus addition.
func Correlate(left, right []model.Node) Matching {
	m := Matching{
		Left:        ordered(left),
		Right:       ordered(right),
		leftToRight: make(map[string]model.Node),
		rightToLeft: make(map[string]model.Node),
	}

	for _, l := range m.Left {
		for _, r := range m.Right {
			if _, used := m.rightToLeft[r.ID]; used {
				continue
			}
			if Equivalent(l, r) {
				m.pair(l, r)
				break
			}
		}
	}

	for _, l := range m.Left {
		if _, paired := m.leftToRight[l.ID]; paired {
			continue
		}
		for _, r := range m.Right {
			if _, used := m.rightToLeft[r.ID]; used {
				continue
			}
			if m.sameSlot(l, r) {
				m.pair(l, r)
				break
			}
		}
	}
	return m
}

func (m *Matching) pair(l, r model.Node) {
	m.leftToRight[l.ID] = r
	m.rightToLeft[r.ID] = l
}

func (m *Matching) sameSlot(l, r model.Node) bool {
	if l.Level != r.Level || l.ListStyle != r.ListStyle || l.Position != r.Position {
		return false
	}
	if l.ParentID == "" || r.ParentID == "" {
		return l.ParentID == "" && r.ParentID == ""
	}
	parent, ok := m.leftToRight[l.ParentID]
	return ok && parent.ID == r.ParentID
}

// ForLeft returns the right-hand counterpart of a left node.
func (m Matching) ForLeft(id string) (model.Node, bool) {
	node, ok := m.leftToRight[id]
	return node, ok
}

// ForRight returns the left-hand counterpart of a right node.
func (m Matching) ForRight(id string) (model.Node, bool) {
	node, ok := m.rightToLeft[id]
	return node, ok
}

// Pairs is the number of correlated pairs.
func (m Matching) Pairs() int {
	return len(m.leftToRight)
}

func ordered(nodes []model.Node) []model.Node {
	if len(nodes) == 0 {
		return nil
	}
	return tree.Order(nodes)
}
