package merge

import (
	"fmt"

	"taskreview/api/internal/diff"
	"taskreview/api/internal/model"
)

type Stats struct {
	OriginalNodes        int `json:"originalNodes"`
	ApprovedAutoAccept   int `json:"approvedAutoAccept"`
	UserPending          int `json:"userPending"`
	Conflicts            int `json:"conflicts"`
	TotalDecisionsNeeded int `json:"totalDecisionsNeeded"`
}

type Confidence string

const (
	ConfidenceHigh              Confidence = "high"
	ConfidenceMedium            Confidence = "medium"
	ConfidenceRequiresAttention Confidence = "requires_attention"
)

type MergeSuggestion struct {
	Type       string     `json:"type"`
	Confidence Confidence `json:"confidence"`
	Message    string     `json:"message"`
	EntryKeys  []string   `json:"entryKeys"`
}

// Analysis is the three-way view shown next to a categorization: what each side
// changed relative to base, plus how much work is left for the editor.
type Analysis struct {
	UserChanges     diff.Result       `json:"userChanges"`
	ApprovedChanges diff.Result       `json:"approvedChanges"`
	Suggestions     []MergeSuggestion `json:"suggestions"`
	Stats           Stats             `json:"stats"`
}

func Analyze(user, approved, base []model.Node, c Categorization) Analysis {
	return Analysis{
		UserChanges:     diff.Compute(user, base),
		ApprovedChanges: diff.Compute(approved, base),
		Suggestions:     SuggestMerge(c),
		Stats:           Statistics(c),
	}
}

func Statistics(c Categorization) Stats {
	return Stats{
		OriginalNodes:        len(c.Original),
		ApprovedAutoAccept:   len(c.AutoApproved),
		UserPending:          len(c.UserOnly),
		Conflicts:            len(c.Conflicts),
		TotalDecisionsNeeded: len(c.UserOnly) + len(c.Conflicts),
	}
}

// SuggestMerge proposes how to work through a categorization: accept automatic
// changes wholesale, settle pure position conflicts quickly, review the rest by hand.
func SuggestMerge(c Categorization) []MergeSuggestion {
	out := []MergeSuggestion{}
	if len(c.AutoApproved) > 0 {
		out = append(out, MergeSuggestion{
			Type:       "auto_merge",
			Confidence: ConfidenceHigh,
			Message:    fmt.Sprintf("%d change(s) can be merged automatically", len(c.AutoApproved)),
			EntryKeys:  keys(c.AutoApproved),
		})
	}
	var positional, manual []Entry
	for _, entry := range c.Conflicts {
		if entry.ConflictType == ConflictPosition {
			positional = append(positional, entry)
			continue
		}
		manual = append(manual, entry)
	}
	if len(positional) > 0 {
		out = append(out, MergeSuggestion{
			Type:       "position_resolution",
			Confidence: ConfidenceMedium,
			Message:    fmt.Sprintf("%d node(s) differ only in position", len(positional)),
			EntryKeys:  keys(positional),
		})
	}
	if len(manual) > 0 {
		out = append(out, MergeSuggestion{
			Type:       "manual_review",
			Confidence: ConfidenceRequiresAttention,
			Message:    fmt.Sprintf("%d conflict(s) need a manual decision", len(manual)),
			EntryKeys:  keys(manual),
		})
	}
	return out
}

type Strategy string

const (
	StrategyUserPreferred     Strategy = "user_preferred"
	StrategyApprovedPreferred Strategy = "approved_preferred"
	StrategyBalanced          Strategy = "balanced_merge"
)

type Summary struct {
	UserChoices     int      `json:"userChoices"`
	ApprovedChoices int      `json:"approvedChoices"`
	CustomChoices   int      `json:"customChoices"`
	Strategy        Strategy `json:"strategy"`
}

// Summarize describes which side an editor leaned towards when resolving.
func Summarize(choices map[string]Resolution) Summary {
	var s Summary
	for _, resolution := range choices {
		switch resolution.Choice {
		case ChoiceUser:
			s.UserChoices++
		case ChoiceApproved:
			s.ApprovedChoices++
		case ChoiceCustom:
			s.CustomChoices++
		}
	}
	switch {
	case s.UserChoices > s.ApprovedChoices*2:
		s.Strategy = StrategyUserPreferred
	case s.ApprovedChoices > s.UserChoices*2:
		s.Strategy = StrategyApprovedPreferred
	default:
		s.Strategy = StrategyBalanced
	}
	return s
}

func keys(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Key)
	}
	return out
}
