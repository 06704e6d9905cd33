package merge

import (
	"unicode/utf8"

	"taskreview/api/internal/model"
)

type ConflictType string

const (
	ConflictContentModifiedBoth    ConflictType = "content_modified_both"
	ConflictReviewDateModifiedBoth ConflictType = "review_date_modified_both"
	ConflictPosition               ConflictType = "position_conflict"
	ConflictOther                  ConflictType = "other_conflict"
	ConflictBothAddedDifferent     ConflictType = "both_added_different"
)

// DetermineConflictType classifies a divergent change. Checks run in order of how
// much a reviewer has to read to settle them.
func DetermineConflictType(base, user, approved *model.Node) ConflictType {
	if base == nil {
		return ConflictBothAddedDifferent
	}
	if user == nil || approved == nil {
		return ConflictOther
	}
	content := base.TrimmedContent()
	if content != user.TrimmedContent() && content != approved.TrimmedContent() {
		return ConflictContentModifiedBoth
	}
	if !model.SameDate(base.ReviewDate, user.ReviewDate) && !model.SameDate(base.ReviewDate, approved.ReviewDate) {
		return ConflictReviewDateModifiedBoth
	}
	if user.Position != approved.Position {
		return ConflictPosition
	}
	return ConflictOther
}

type Side string

const (
	SideUser     Side = "user"
	SideApproved Side = "approved"
)

type SuggestionType string

const (
	SuggestLongerContent SuggestionType = "longer_content"
	SuggestEarlierDate   SuggestionType = "earlier_date"
)

type Suggestion struct {
	Type       SuggestionType `json:"type"`
	Preference Side           `json:"preference"`
	Reason     string         `json:"reason"`
}

// Suggest ranks resolution hints for a conflict: prefer the more detailed content,
// then the earlier review date.
func Suggest(user, approved *model.Node) []Suggestion {
	if user == nil || approved == nil {
		return nil
	}
	var out []Suggestion
	userLen := utf8.RuneCountInString(user.TrimmedContent())
	approvedLen := utf8.RuneCountInString(approved.TrimmedContent())
	if userLen != approvedLen {
		preference := SideUser
		if approvedLen > userLen {
			preference = SideApproved
		}
		out = append(out, Suggestion{Type: SuggestLongerContent, Preference: preference, Reason: "More detailed content"})
	}
	if user.ReviewDate != nil && approved.ReviewDate != nil && !model.SameDate(user.ReviewDate, approved.ReviewDate) {
		preference := SideUser
		if approved.ReviewDate.Before(*user.ReviewDate) {
			preference = SideApproved
		}
		out = append(out, Suggestion{Type: SuggestEarlierDate, Preference: preference, Reason: "Earlier review date"})
	}
	return out
}
