// Package tree builds ordered hierarchical views over the flat node arena of a version.
package tree

import (
	"iter"
	"sort"

	"taskreview/api/internal/model"
)

type Entry struct {
	Node     model.Node
	Depth    int
	Children []*Entry
}

// Tree is computed on demand from parent pointers and never mutated afterwards.
// Nodes whose parent is missing from the arena are attached as roots; nodes caught
// in a parent cycle are unreachable and left out (Validate reports them).
type Tree struct {
	Roots []*Entry
	byID  map[string]*Entry
}

func Build(nodes []model.Node) *Tree {
	present := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		present[node.ID] = true
	}

	children := make(map[string][]model.Node)
	var roots []model.Node
	for _, node := range nodes {
		if node.ParentID == "" || !present[node.ParentID] {
			roots = append(roots, node)
			continue
		}
		children[node.ParentID] = append(children[node.ParentID], node)
	}

	t := &Tree{byID: make(map[string]*Entry, len(nodes))}
	var attach func(list []model.Node, depth int) []*Entry
	attach = func(list []model.Node, depth int) []*Entry {
		SortSiblings(list)
		entries := make([]*Entry, 0, len(list))
		for _, node := range list {
			if _, seen := t.byID[node.ID]; seen {
				continue
			}
			entry := &Entry{Node: node, Depth: depth}
			t.byID[node.ID] = entry
			entry.Children = attach(children[node.ID], depth+1)
			entries = append(entries, entry)
		}
		return entries
	}
	t.Roots = attach(roots, 0)
	return t
}

// SortSiblings orders nodes by ascending position, then by ID.
func SortSiblings(nodes []model.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func (t *Tree) Len() int {
	return len(t.byID)
}

func (t *Tree) Find(id string) (*Entry, bool) {
	entry, ok := t.byID[id]
	return entry, ok
}

// All yields entries depth-first, parents before children. Each call starts a
// fresh walk.
func (t *Tree) All() iter.Seq[*Entry] {
	return func(yield func(*Entry) bool) {
		var walk func(entries []*Entry) bool
		walk = func(entries []*Entry) bool {
			for _, entry := range entries {
				if !yield(entry) {
					return false
				}
				if !walk(entry.Children) {
					return false
				}
			}
			return true
		}
		walk(t.Roots)
	}
}

// Ordered flattens the tree in pre-order.
func (t *Tree) Ordered() []model.Node {
	out := make([]model.Node, 0, len(t.byID))
	for entry := range t.All() {
		out = append(out, entry.Node)
	}
	return out
}

// Siblings returns the nodes sharing the entry's parent, the entry included.
func (t *Tree) Siblings(id string) []model.Node {
	entry, ok := t.byID[id]
	if !ok {
		return nil
	}
	group := t.Roots
	if parent, ok := t.byID[entry.Node.ParentID]; ok {
		group = parent.Children
	}
	out := make([]model.Node, 0, len(group))
	for _, sibling := range group {
		out = append(out, sibling.Node)
	}
	return out
}

// Counter formats the display counter of a node within its sibling group.
func (t *Tree) Counter(id string) string {
	entry, ok := t.byID[id]
	if !ok {
		return ""
	}
	return DisplayCounter(entry.Node, t.Siblings(id))
}

// Order returns the nodes sorted in tree order without keeping the tree around.
// Nodes unreachable from a root (parent cycles) follow in their input order.
func Order(nodes []model.Node) []model.Node {
	out := Build(nodes).Ordered()
	if len(out) == len(nodes) {
		return out
	}
	seen := make(map[string]bool, len(out))
	for _, node := range out {
		seen[node.ID] = true
	}
	for _, node := range nodes {
		if !seen[node.ID] {
			out = append(out, node)
		}
	}
	return out
}
