package model

import "strings"

type ListStyle string

const (
	ListDecimal    ListStyle = "decimal"
	ListLowerAlpha ListStyle = "lower-alpha"
	ListLowerRoman ListStyle = "lower-roman"
	ListBullet     ListStyle = "bullet"
)

// ParseListStyle accepts the underscore spelling used by older clients as well.
func ParseListStyle(raw string) (ListStyle, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	switch ListStyle(value) {
	case "":
		return ListDecimal, nil
	case ListDecimal, ListLowerAlpha, ListLowerRoman, ListBullet:
		return ListStyle(value), nil
	}
	return "", Invalid("list_style", "unknown list style %q", raw)
}

type NodeType string

const (
	NodeParagraph   NodeType = "paragraph"
	NodePoint       NodeType = "point"
	NodeSubpoint    NodeType = "subpoint"
	NodeSubsubpoint NodeType = "subsubpoint"
	NodeTable       NodeType = "table"
	NodeRichText    NodeType = "rich_text"
)

func ParseNodeType(raw string) (NodeType, error) {
	value := NodeType(strings.TrimSpace(raw))
	switch value {
	case "":
		return NodeRichText, nil
	case NodeParagraph, NodePoint, NodeSubpoint, NodeSubsubpoint, NodeTable, NodeRichText:
		return value, nil
	}
	return "", Invalid("node_type", "unknown node type %q", raw)
}

type VersionStatus string

const (
	VersionDraft       VersionStatus = "draft"
	VersionUnderReview VersionStatus = "under_review"
	VersionApproved    VersionStatus = "approved"
	VersionCompleted   VersionStatus = "completed"
)

func ParseVersionStatus(raw string) (VersionStatus, error) {
	value := VersionStatus(strings.TrimSpace(raw))
	switch value {
	case VersionDraft, VersionUnderReview, VersionApproved, VersionCompleted:
		return value, nil
	}
	return "", Invalid("status", "unknown version status %q", raw)
}

// Frozen reports whether nodes of a version in this status may no longer change.
func (s VersionStatus) Frozen() bool {
	return s == VersionApproved || s == VersionCompleted
}

type TaskStatus string

const (
	TaskDraft       TaskStatus = "draft"
	TaskUnderReview TaskStatus = "under_review"
	TaskApproved    TaskStatus = "approved"
	TaskCompleted   TaskStatus = "completed"
)

func ParseTaskStatus(raw string) (TaskStatus, error) {
	value := TaskStatus(strings.TrimSpace(raw))
	switch value {
	case TaskDraft, TaskUnderReview, TaskApproved, TaskCompleted:
		return value, nil
	}
	return "", Invalid("status", "unknown task status %q", raw)
}

type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewForwarded        ReviewStatus = "forwarded"
)

func ParseReviewStatus(raw string) (ReviewStatus, error) {
	value := ReviewStatus(strings.TrimSpace(raw))
	switch value {
	case ReviewPending, ReviewApproved, ReviewChangesRequested, ReviewForwarded:
		return value, nil
	}
	return "", Invalid("status", "unknown review status %q", raw)
}

// Terminal reports whether no further decision can be recorded on the review.
func (s ReviewStatus) Terminal() bool {
	return s != ReviewPending
}

type ReviewerType string

const (
	ReviewerTaskLevel ReviewerType = "task_level"
	ReviewerNodeLevel ReviewerType = "node_level"
)

func ParseReviewerType(raw string) (ReviewerType, error) {
	value := ReviewerType(strings.TrimSpace(raw))
	switch value {
	case "":
		return ReviewerTaskLevel, nil
	case ReviewerTaskLevel, ReviewerNodeLevel:
		return value, nil
	}
	return "", Invalid("reviewer_type", "unknown reviewer type %q", raw)
}

type NotificationType string

const (
	NotifyReviewRequest    NotificationType = "review_request"
	NotifyReviewForwarded  NotificationType = "review_forwarded"
	NotifyComment          NotificationType = "comment"
	NotifyTaskApproved     NotificationType = "task_approved"
	NotifyChangesRequested NotificationType = "changes_requested"
	NotifyTaskCompleted    NotificationType = "task_completed"
	NotifyTaskIncomplete   NotificationType = "task_incomplete"
	NotifyCommentResolved  NotificationType = "comment_resolved"
	NotifyEditorChanges    NotificationType = "editor_changes"
)

func ParseNotificationType(raw string) (NotificationType, error) {
	value := NotificationType(strings.TrimSpace(raw))
	switch value {
	case NotifyReviewRequest, NotifyReviewForwarded, NotifyComment, NotifyTaskApproved,
		NotifyChangesRequested, NotifyTaskCompleted, NotifyTaskIncomplete, NotifyCommentResolved, NotifyEditorChanges:
		return value, nil
	}
	return "", Invalid("type", "unknown notification type %q", raw)
}
