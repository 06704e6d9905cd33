package merge

import (
	"sort"
	"strings"

	"taskreview/api/internal/model"
)

type Choice string

const (
	ChoiceUser     Choice = "user"
	ChoiceApproved Choice = "approved"
	ChoiceCustom   Choice = "custom"
)

// Resolution is the decision for one entry. Content is only read for ChoiceCustom.
type Resolution struct {
	Choice  Choice `json:"choice"`
	Content string `json:"content,omitempty"`
}

// Resolve turns a categorization plus per-entry decisions into the flat node list a
// merged version is rebuilt from. Entries without a decision take their default
// result; conflicts must be decided. Parents are re-linked to the resolved entries,
// climbing past dropped ancestors, and sibling positions are renumbered from 1.
func Resolve(c Categorization, choices map[string]Resolution) ([]model.NodeInput, error) {
	entries := c.Entries()
	byKey := make(map[string]Entry, len(entries))
	owner := make(map[string]string)
	for _, entry := range entries {
		byKey[entry.Key] = entry
		for _, node := range []*model.Node{entry.Base, entry.User, entry.Approved} {
			if node != nil {
				owner[node.ID] = entry.Key
			}
		}
	}
	for key := range choices {
		if _, ok := byKey[key]; !ok {
			return nil, model.Invalid("resolutions", "unknown merge entry %s", key)
		}
	}

	chosen := make(map[string]*model.Node, len(entries))
	for _, entry := range entries {
		node, err := choose(entry, choices)
		if err != nil {
			return nil, err
		}
		chosen[entry.Key] = node
	}

	type resolved struct {
		input model.NodeInput
		order int
	}
	var out []resolved
	for i, entry := range entries {
		node := chosen[entry.Key]
		if node == nil {
			continue
		}
		input := model.InputFromNode(*node)
		input.ClientID = entry.Key
		input.ParentClientID = resolveParent(node, owner, byKey, chosen)
		out = append(out, resolved{input: input, order: i})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].input, out[j].input
		if a.ParentClientID != b.ParentClientID {
			return a.ParentClientID < b.ParentClientID
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return out[i].order < out[j].order
	})
	inputs := make([]model.NodeInput, 0, len(out))
	position := 0
	for i, item := range out {
		if i == 0 || item.input.ParentClientID != out[i-1].input.ParentClientID {
			position = 0
		}
		position++
		item.input.Position = position
		inputs = append(inputs, item.input)
	}
	return inputs, nil
}

func choose(entry Entry, choices map[string]Resolution) (*model.Node, error) {
	decision, ok := choices[entry.Key]
	if !ok {
		if entry.Category == CategoryConflict {
			return nil, model.Invalid("resolutions", "conflict %s needs a resolution", entry.Key)
		}
		return entry.Result, nil
	}
	switch decision.Choice {
	case ChoiceUser:
		return entry.User, nil
	case ChoiceApproved:
		return entry.Approved, nil
	case ChoiceCustom:
		content := strings.TrimSpace(decision.Content)
		if content == "" {
			return nil, model.Invalid("resolutions", "custom resolution for %s has empty content", entry.Key)
		}
		template := firstNode(entry.User, entry.Approved, entry.Base)
		custom := *template
		custom.Content = content
		return &custom, nil
	}
	return nil, model.Invalid("resolutions", "unknown choice %q for %s", decision.Choice, entry.Key)
}

// resolveParent finds the entry that the chosen node hangs under after the merge.
// It walks up through the node's original ancestry until it reaches an entry that
// is kept and sits strictly shallower than the node.
func resolveParent(node *model.Node, owner map[string]string, byKey map[string]Entry, chosen map[string]*model.Node) string {
	parentID := node.ParentID
	for steps := 0; parentID != "" && steps <= len(byKey); steps++ {
		key, ok := owner[parentID]
		if !ok {
			return ""
		}
		if parent := chosen[key]; parent != nil && parent.Level < node.Level {
			return key
		}
		entry := byKey[key]
		parentID = firstNode(entry.Base, entry.User, entry.Approved).ParentID
	}
	return ""
}

func firstNode(nodes ...*model.Node) *model.Node {
	for _, node := range nodes {
		if node != nil {
			return node
		}
	}
	return nil
}
