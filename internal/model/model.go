// Package model holds the records shared by the tree, diff, merge and workflow packages.
package model

import (
	"strings"
	"time"
)

type Node struct {
	ID         string     `json:"id"`
	VersionID  string     `json:"versionId"`
	ParentID   string     `json:"parentId,omitempty"`
	Content    string     `json:"content"`
	Level      int        `json:"level"`
	ListStyle  ListStyle  `json:"listStyle"`
	NodeType   NodeType   `json:"nodeType"`
	Position   int        `json:"position"`
	Completed  bool       `json:"completed"`
	ReviewDate *time.Time `json:"reviewDate,omitempty"`
	ReviewerID string     `json:"reviewerId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TrimmedContent is the content used for every cross-version comparison.
func (n Node) TrimmedContent() string {
	return strings.TrimSpace(n.Content)
}

func (n Node) IsRoot() bool {
	return n.ParentID == ""
}

// NodeInput is the flat creation payload. ClientID and ParentClientID only link
// entries within one payload and never become stored identifiers.
type NodeInput struct {
	ClientID       string     `json:"clientId,omitempty"`
	ParentClientID string     `json:"parentClientId,omitempty"`
	Content        string     `json:"content"`
	Level          int        `json:"level"`
	ListStyle      ListStyle  `json:"listStyle"`
	NodeType       NodeType   `json:"nodeType"`
	Position       int        `json:"position"`
	Completed      bool       `json:"completed"`
	ReviewDate     *time.Time `json:"reviewDate,omitempty"`
	ReviewerID     string     `json:"reviewerId,omitempty"`
}

// Normalize applies the creation defaults and validates enum and content fields.
func (in NodeInput) Normalize() (NodeInput, error) {
	if strings.TrimSpace(in.Content) == "" {
		return in, Invalid("content", "content must not be empty")
	}
	if in.Level == 0 {
		in.Level = 1
	}
	if in.Level < 1 {
		return in, Invalid("level", "level must be at least 1")
	}
	style, err := ParseListStyle(string(in.ListStyle))
	if err != nil {
		return in, err
	}
	in.ListStyle = style
	nodeType, err := ParseNodeType(string(in.NodeType))
	if err != nil {
		return in, err
	}
	in.NodeType = nodeType
	if in.Position < 0 {
		return in, Invalid("position", "position must not be negative")
	}
	in.ReviewDate = DateOnly(in.ReviewDate)
	return in, nil
}

// InputFromNode copies the content fields of a stored node into a creation payload.
func InputFromNode(node Node) NodeInput {
	return NodeInput{
		ClientID:       node.ID,
		ParentClientID: node.ParentID,
		Content:        node.Content,
		Level:          node.Level,
		ListStyle:      node.ListStyle,
		NodeType:       node.NodeType,
		Position:       node.Position,
		Completed:      node.Completed,
		ReviewDate:     node.ReviewDate,
		ReviewerID:     node.ReviewerID,
	}
}

type Version struct {
	ID            string        `json:"id"`
	TaskID        string        `json:"taskId"`
	VersionNumber int           `json:"versionNumber"`
	Status        VersionStatus `json:"status"`
	BaseVersionID string        `json:"baseVersionId,omitempty"`
	EditorID      string        `json:"editorId"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

type Task struct {
	ID               string     `json:"id"`
	Description      string     `json:"description"`
	SectorDivision   string     `json:"sectorDivision"`
	Responsibility   string     `json:"responsibility"`
	OriginalDate     *time.Time `json:"originalDate,omitempty"`
	ReviewDate       *time.Time `json:"reviewDate,omitempty"`
	Status           TaskStatus `json:"status"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CurrentVersionID string     `json:"currentVersionId,omitempty"`
	EditorID         string     `json:"editorId"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

type Review struct {
	ID              string       `json:"id"`
	TaskVersionID   string       `json:"taskVersionId"`
	BaseVersionID   string       `json:"baseVersionId,omitempty"`
	ReviewerID      string       `json:"reviewerId"`
	Status          ReviewStatus `json:"status"`
	ReviewerType    ReviewerType `json:"reviewerType"`
	IsAggregate     bool         `json:"isAggregate"`
	AssignedNodeIDs []string     `json:"assignedNodeIds"`
	Comment         string       `json:"comment,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

type User struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
}

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	TaskID      string           `json:"taskId"`
	ReviewID    string           `json:"reviewId,omitempty"`
	Message     string           `json:"message"`
	Type        NotificationType `json:"type"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"createdAt"`
}

type CommentTrail struct {
	ID        string    `json:"id"`
	ReviewID  string    `json:"reviewId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Comment struct {
	ID             string    `json:"id"`
	CommentTrailID string    `json:"commentTrailId"`
	AuthorID       string    `json:"authorId"`
	Content        string    `json:"content"`
	Resolved       bool      `json:"resolved"`
	ActionNodeID   string    `json:"actionNodeId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// DateOnly truncates a timestamp to its UTC calendar day.
func DateOnly(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &day
}

func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return DateOnly(a).Equal(*DateOnly(b))
}
