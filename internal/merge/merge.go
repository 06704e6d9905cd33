// Package merge reconciles an editor's draft with a version approved concurrently
// from the same base.
package merge

import (
	"taskreview/api/internal/diff"
	"taskreview/api/internal/model"
)

type Category string

const (
	CategoryOriginal     Category = "original"
	CategoryAutoApproved Category = "auto_approved"
	CategoryUserOnly     Category = "user_only"
	CategoryConflict     Category = "conflict"
)

type Status string

const (
	StatusOriginal         Status = "original"
	StatusApprovedOnly     Status = "approved_only"
	StatusUserOnly         Status = "user_only"
	StatusBothSame         Status = "both_same"
	StatusConflict         Status = "conflict"
	StatusUserAdded        Status = "user_added"
	StatusApprovedAdded    Status = "approved_added"
	StatusBothAddedSame    Status = "both_added_same"
	StatusAdditionConflict Status = "addition_conflict"
	StatusUserDeleted      Status = "user_deleted"
	StatusApprovedDeleted  Status = "approved_deleted"
	StatusBothDeleted      Status = "both_deleted"
)

// Entry groups one base node with its counterparts, or one added node (or pair of
// added nodes) without a base. Result is what the entry resolves to when nobody
// decides otherwise; nil means the node is dropped.
type Entry struct {
	Key          string       `json:"key"`
	Category     Category     `json:"category"`
	Status       Status       `json:"status"`
	Base         *model.Node  `json:"base,omitempty"`
	User         *model.Node  `json:"user,omitempty"`
	Approved     *model.Node  `json:"approved,omitempty"`
	Result       *model.Node  `json:"result,omitempty"`
	ConflictType ConflictType `json:"conflictType,omitempty"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
}

type Categorization struct {
	Original     []Entry `json:"original"`
	AutoApproved []Entry `json:"autoApproved"`
	UserOnly     []Entry `json:"userOnly"`
	Conflicts    []Entry `json:"conflicts"`
}

func (c *Categorization) add(entry Entry) {
	switch entry.Category {
	case CategoryOriginal:
		c.Original = append(c.Original, entry)
	case CategoryAutoApproved:
		c.AutoApproved = append(c.AutoApproved, entry)
	case CategoryUserOnly:
		c.UserOnly = append(c.UserOnly, entry)
	case CategoryConflict:
		c.Conflicts = append(c.Conflicts, entry)
	}
}

// Entries lists every entry, category by category.
func (c Categorization) Entries() []Entry {
	out := make([]Entry, 0, len(c.Original)+len(c.AutoApproved)+len(c.UserOnly)+len(c.Conflicts))
	out = append(out, c.Original...)
	out = append(out, c.AutoApproved...)
	out = append(out, c.UserOnly...)
	out = append(out, c.Conflicts...)
	return out
}

func (c Categorization) HasConflicts() bool {
	return len(c.Conflicts) > 0
}

// Categorize sorts every node of the three versions into exactly one entry.
//
// For a base node, a side counts as modified when its counterpart is missing
// (deleted) or not ContentEqual to the base node. Nodes without a base counterpart
// are additions; a user addition and an approved addition that correlate with each
// other form a single entry.
func Categorize(user, approved, base []model.Node) Categorization {
	result := Categorization{
		Original:     []Entry{},
		AutoApproved: []Entry{},
		UserOnly:     []Entry{},
		Conflicts:    []Entry{},
	}
	userMatch := diff.Correlate(base, user)
	approvedMatch := diff.Correlate(base, approved)

	for _, b := range userMatch.Left {
		u, hasUser := userMatch.ForLeft(b.ID)
		a, hasApproved := approvedMatch.ForLeft(b.ID)
		entry := Entry{
			Key:      b.ID,
			Base:     ref(b, true),
			User:     ref(u, hasUser),
			Approved: ref(a, hasApproved),
		}
		userChanged := !hasUser || !diff.ContentEqual(b, u)
		approvedChanged := !hasApproved || !diff.ContentEqual(b, a)

		switch {
		case !userChanged && !approvedChanged:
			entry.Category, entry.Status, entry.Result = CategoryOriginal, StatusOriginal, entry.User
		case !userChanged:
			entry.Category, entry.Status, entry.Result = CategoryAutoApproved, StatusApprovedOnly, entry.Approved
			if !hasApproved {
				entry.Status = StatusApprovedDeleted
			}
		case !approvedChanged:
			entry.Category, entry.Status, entry.Result = CategoryUserOnly, StatusUserOnly, entry.User
			if !hasUser {
				entry.Status = StatusUserDeleted
			}
		case !hasUser && !hasApproved:
			entry.Category, entry.Status = CategoryAutoApproved, StatusBothDeleted
		case hasUser && hasApproved && diff.ContentEqual(u, a):
			entry.Category, entry.Status, entry.Result = CategoryAutoApproved, StatusBothSame, entry.Approved
		default:
			entry.Category, entry.Status = CategoryConflict, StatusConflict
			entry.ConflictType = DetermineConflictType(entry.Base, entry.User, entry.Approved)
			entry.Suggestions = Suggest(entry.User, entry.Approved)
		}
		result.add(entry)
	}

	userAdded := unmatchedRight(userMatch)
	approvedAdded := unmatchedRight(approvedMatch)
	additions := diff.Correlate(user, approved)

	pairedApproved := make(map[string]bool)
	for _, u := range userMatch.Right {
		if !userAdded[u.ID] {
			continue
		}
		entry := Entry{Key: u.ID, User: ref(u, true)}
		a, ok := additions.ForLeft(u.ID)
		switch {
		case !ok || !approvedAdded[a.ID]:
			entry.Category, entry.Status, entry.Result = CategoryUserOnly, StatusUserAdded, entry.User
		case diff.ContentEqual(u, a):
			pairedApproved[a.ID] = true
			entry.Approved = ref(a, true)
			entry.Category, entry.Status, entry.Result = CategoryAutoApproved, StatusBothAddedSame, entry.Approved
		default:
			pairedApproved[a.ID] = true
			entry.Approved = ref(a, true)
			entry.Category, entry.Status = CategoryConflict, StatusAdditionConflict
			entry.ConflictType = DetermineConflictType(nil, entry.User, entry.Approved)
			entry.Suggestions = Suggest(entry.User, entry.Approved)
		}
		result.add(entry)
	}

	for _, a := range approvedMatch.Right {
		if !approvedAdded[a.ID] || pairedApproved[a.ID] {
			continue
		}
		approvedNode := ref(a, true)
		result.add(Entry{
			Key:      a.ID,
			Category: CategoryAutoApproved,
			Status:   StatusApprovedAdded,
			Approved: approvedNode,
			Result:   approvedNode,
		})
	}
	return result
}

// BaseOutdated reports whether current was drafted from something other than the
// latest approved version. A nil latestApproved means nothing was approved yet.
func BaseOutdated(current model.Version, latestApproved *model.Version) bool {
	if latestApproved == nil || current.ID == latestApproved.ID {
		return false
	}
	return current.BaseVersionID != latestApproved.ID
}

func unmatchedRight(m diff.Matching) map[string]bool {
	out := make(map[string]bool)
	for _, node := range m.Right {
		if _, ok := m.ForRight(node.ID); !ok {
			out[node.ID] = true
		}
	}
	return out
}

func ref(node model.Node, ok bool) *model.Node {
	if !ok {
		return nil
	}
	copied := node
	return &copied
}
