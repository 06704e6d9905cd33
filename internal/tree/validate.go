package tree

import (
	"fmt"
	"strings"

	"taskreview/api/internal/model"
)

func index(nodes []model.Node) map[string]model.Node {
	byID := make(map[string]model.Node, len(nodes))
	for _, node := range nodes {
		byID[node.ID] = node
	}
	return byID
}

// CanChangeLevel checks a level change against the node's parent and children.
func CanChangeLevel(nodes []model.Node, nodeID string, newLevel int) error {
	if newLevel < 1 {
		return model.Invalid("level", "level must be at least 1")
	}
	byID := index(nodes)
	node, ok := byID[nodeID]
	if !ok {
		return model.Invalid("node_id", "node %s is not part of this version", nodeID)
	}
	if parent, ok := byID[node.ParentID]; ok && newLevel <= parent.Level {
		return model.Invalid("level", "level %d must be deeper than parent level %d", newLevel, parent.Level)
	}
	for _, child := range nodes {
		if child.ParentID == nodeID && child.Level <= newLevel {
			return model.Invalid("level", "level %d would not be shallower than child level %d", newLevel, child.Level)
		}
	}
	return nil
}

// CheckParent rejects a parent assignment that would leave the arena or close a cycle.
func CheckParent(nodes []model.Node, nodeID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if parentID == nodeID {
		return model.Invalid("parent_id", "node cannot be its own parent")
	}
	byID := index(nodes)
	if _, ok := byID[parentID]; !ok {
		return model.Invalid("parent_id", "parent %s is not part of this version", parentID)
	}
	steps := 0
	for current := parentID; current != ""; current = byID[current].ParentID {
		if current == nodeID {
			return model.Invalid("parent_id", "parent %s is a descendant of node %s", parentID, nodeID)
		}
		steps++
		if steps > len(nodes) {
			return model.Invalid("parent_id", "parent chain of %s contains a cycle", parentID)
		}
	}
	return nil
}

// Validate checks every structural invariant of a version's node set.
func Validate(nodes []model.Node) error {
	byID := index(nodes)
	positions := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if strings.TrimSpace(node.Content) == "" {
			return model.Invalid("content", "node %s has empty content", node.ID)
		}
		if _, err := model.ParseNodeType(string(node.NodeType)); err != nil || node.NodeType == "" {
			return model.Invalid("node_type", "node %s has unknown node type %q", node.ID, node.NodeType)
		}
		if node.Level < 1 {
			return model.Invalid("level", "node %s has level %d", node.ID, node.Level)
		}
		key := fmt.Sprintf("%s/%d", node.ParentID, node.Position)
		if other, taken := positions[key]; taken {
			return model.Invalid("position", "nodes %s and %s share position %d", other, node.ID, node.Position)
		}
		positions[key] = node.ID
		if node.ParentID == "" {
			continue
		}
		parent, ok := byID[node.ParentID]
		if !ok {
			return model.Invalid("parent_id", "node %s references missing parent %s", node.ID, node.ParentID)
		}
		if node.Level <= parent.Level {
			return model.Invalid("level", "node %s level %d is not deeper than parent level %d", node.ID, node.Level, parent.Level)
		}
		if err := CheckParent(nodes, node.ID, node.ParentID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteOrder lists the subtree rooted at rootID with descendants first, so
// deleting in order never leaves a child pointing at a removed parent.
func DeleteOrder(nodes []model.Node, rootID string) []string {
	root, ok := Build(nodes).Find(rootID)
	if !ok {
		return []string{rootID}
	}
	var order []string
	var visit func(entry *Entry)
	visit = func(entry *Entry) {
		for _, child := range entry.Children {
			visit(child)
		}
		order = append(order, entry.Node.ID)
	}
	visit(root)
	return order
}

// DeleteAllOrder lists every node of the arena, deepest first.
func DeleteAllOrder(nodes []model.Node) []string {
	var order []string
	for _, root := range Build(nodes).Roots {
		order = append(order, DeleteOrder(nodes, root.Node.ID)...)
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	for _, node := range nodes {
		if !seen[node.ID] {
			order = append(order, node.ID)
		}
	}
	return order
}

// NextPosition is one past the largest position among the parent's children.
func NextPosition(nodes []model.Node, parentID string) int {
	highest := 0
	for _, node := range nodes {
		if node.ParentID == parentID && node.Position > highest {
			highest = node.Position
		}
	}
	return highest + 1
}
