package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskreview/api/internal/export"
	"taskreview/api/internal/merge"
	"taskreview/api/internal/metrics"
	"taskreview/api/internal/model"
	"taskreview/api/internal/search"
	"taskreview/api/internal/tree"
)

type HTTPServer struct {
	service        *Service
	corsOrigin     string
	log            zerolog.Logger
	metrics        *metrics.Metrics
	metricsHandler http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger, m *metrics.Metrics, metricsHandler http.Handler) *HTTPServer {
	return &HTTPServer{
		service:        service,
		corsOrigin:     corsOrigin,
		log:            log,
		metrics:        m,
		metricsHandler: metricsHandler,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metricsHandler != nil {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "users":
		s.handleUsers(w, r, parts)
	case "tasks":
		s.handleTasks(w, r, parts)
	case "versions":
		s.handleVersions(w, r, parts)
	case "nodes":
		s.handleNodes(w, r, parts)
	case "reviews":
		s.handleReviews(w, r, parts)
	case "notifications":
		s.handleNotifications(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body model.User
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.EnsureUser(r.Context(), body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}
	if len(parts) == 3 && r.Method == http.MethodGet {
		user, err := s.service.GetUser(r.Context(), parts[2])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

type taskBody struct {
	Description    string                      `json:"description"`
	SectorDivision string                      `json:"sectorDivision"`
	Responsibility string                      `json:"responsibility"`
	OriginalDate   dateValue                   `json:"originalDate"`
	VersionID      string                      `json:"versionId"`
	Nodes          []nodePayload               `json:"nodes"`
	Resolutions    map[string]merge.Resolution `json:"resolutions"`
}

func (b taskBody) input() TaskInput {
	input := TaskInput{
		Description:    b.Description,
		SectorDivision: b.SectorDivision,
		Responsibility: b.Responsibility,
		OriginalDate:   b.OriginalDate.Time,
		VersionID:      b.VersionID,
		Resolutions:    b.Resolutions,
	}
	if b.Nodes != nil {
		input.Nodes = flattenNodes(b.Nodes)
	}
	return input
}

func (s *HTTPServer) writeTasks(w http.ResponseWriter, r *http.Request, status model.TaskStatus) {
	tasks, err := s.service.ListTasks(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			var status model.TaskStatus
			if raw := r.URL.Query().Get("status"); raw != "" {
				parsed, err := model.ParseTaskStatus(raw)
				if err != nil {
					writeServiceError(w, err)
					return
				}
				status = parsed
			}
			s.writeTasks(w, r, status)
		case http.MethodPost:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body taskBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.CreateTask(ctx, actor, body.input())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, detail)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 3 && parts[2] == "search" && r.Method == http.MethodGet {
		query := search.Query{
			Text:   strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  queryInt(r, "limit", 25),
			Offset: queryInt(r, "offset", 0),
		}
		if raw := r.URL.Query().Get("status"); raw != "" {
			status, err := model.ParseTaskStatus(raw)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			query.FilterStatus = status
		}
		writeJSON(w, http.StatusOK, s.service.SearchTasks(ctx, query))
		return
	}

	if len(parts) == 3 && r.Method == http.MethodGet {
		switch parts[2] {
		case "approved":
			s.writeTasks(w, r, model.TaskApproved)
			return
		case "completed":
			s.writeTasks(w, r, model.TaskCompleted)
			return
		}
	}

	taskID := parts[2]
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			detail, err := s.service.GetTask(ctx, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodPut:
			actor, ok := requireActor(w, r)
			if !ok {
				return
			}
			var body taskBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			detail, err := s.service.SaveTask(ctx, actor, taskID, body.input())
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
		case http.MethodDelete:
			if _, ok := requireActor(w, r); !ok {
				return
			}
			if err := s.service.DestroyTask(ctx, taskID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch action := parts[3]; {
	case action == "submit" && r.Method == http.MethodPost:
		var body struct {
			VersionID  string `json:"versionId"`
			ReviewerID string `json:"reviewerId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		versionID := body.VersionID
		if versionID == "" {
			detail, err := s.service.GetTask(ctx, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			versionID = detail.Task.CurrentVersionID
		}
		s.submit(w, r, versionID, body.ReviewerID)

	case (action == "complete" || action == "incomplete") && r.Method == http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		var task model.Task
		var err error
		if action == "complete" {
			task, err = s.service.CompleteTask(ctx, actor, taskID)
		} else {
			task, err = s.service.MarkIncomplete(ctx, actor, taskID)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})

	case action == "versions" && r.Method == http.MethodGet:
		versions, err := s.service.ListVersions(ctx, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})

	case action == "versions" && r.Method == http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		version, err := s.service.CreateVersion(ctx, taskID, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, version)

	case action == "merge" && r.Method == http.MethodGet:
		detail, err := s.service.GetTask(ctx, taskID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		view, err := s.service.MergeCategorize(ctx, detail.Task.CurrentVersionID, "", "")
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case action == "merge" && r.Method == http.MethodPost:
		var body struct {
			VersionID   string                      `json:"versionId"`
			Resolutions map[string]merge.Resolution `json:"resolutions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		versionID := body.VersionID
		if versionID == "" {
			detail, err := s.service.GetTask(ctx, taskID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			versionID = detail.Task.CurrentVersionID
		}
		outcome, err := s.service.ResolveMerge(ctx, versionID, body.Resolutions)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)

	case action == "history" && r.Method == http.MethodGet:
		commits, err := s.service.TaskHistory(ctx, taskID, r.URL.Query().Get("branch"), queryInt(r, "limit", 50))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits})

	case action == "export" && r.Method == http.MethodPost:
		s.export(w, r, taskID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) submit(w http.ResponseWriter, r *http.Request, versionID, reviewerID string) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	reviews, err := s.service.SubmitForReview(r.Context(), versionID, reviewerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (s *HTTPServer) export(w http.ResponseWriter, r *http.Request, taskID string) {
	var body struct {
		Format          string `json:"format"`
		VersionID       string `json:"versionId"`
		IncludeComments bool   `json:"includeComments"`
		Delivery        string `json:"delivery"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(body.Format)))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unsupported export format %q", body.Format), map[string]any{"field": "format"})
		return
	}
	result, err := s.service.ExportVersion(r.Context(), export.Request{
		TaskID:          taskID,
		VersionID:       body.VersionID,
		Format:          format,
		IncludeComments: body.IncludeComments,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if body.Delivery == "link" {
		if result.URL == "" {
			writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Object storage is not configured", nil)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	if result.URL != "" {
		w.Header().Set("X-Export-URL", result.URL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	ctx := r.Context()
	versionID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		version, err := s.service.GetVersion(ctx, versionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		t, err := s.service.NodeTree(ctx, versionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"version": version, "nodes": treeNodes(t.Roots)})
		return
	}
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch action := parts[3]; {
	case action == "tree" && r.Method == http.MethodGet:
		t, err := s.service.NodeTree(ctx, versionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if r.URL.Query().Get("format") == "html" {
			rendered, err := tree.RenderHTML(t)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, rendered)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"nodes": treeNodes(t.Roots)})

	case action == "diff" && r.Method == http.MethodGet:
		result, err := s.service.Diff(ctx, versionID, r.URL.Query().Get("against"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case action == "draft" && r.Method == http.MethodPost:
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		draft, err := s.service.CreateDraft(ctx, versionID, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, draft)

	case action == "nodes" && r.Method == http.MethodPost:
		if _, ok := requireActor(w, r); !ok {
			return
		}
		var body nodePayload
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		node, err := s.service.AddNode(ctx, versionID, body.ParentID, body.input())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, node)

	case action == "merge" && r.Method == http.MethodGet:
		query := r.URL.Query()
		view, err := s.service.MergeCategorize(ctx, versionID, query.Get("approved"), query.Get("base"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case action == "merge" && r.Method == http.MethodPost:
		if _, ok := requireActor(w, r); !ok {
			return
		}
		var body struct {
			ApprovedVersionID string        `json:"approvedVersionId"`
			Nodes             []nodePayload `json:"nodes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		version, err := s.service.ApplyMerge(ctx, versionID, body.ApprovedVersionID, flattenNodes(body.Nodes))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, version)

	case action == "reviews" && r.Method == http.MethodGet:
		reviews, err := s.service.ListReviews(ctx, versionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})

	case action == "submit" && r.Method == http.MethodPost:
		var body struct {
			ReviewerID string `json:"reviewerId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.submit(w, r, versionID, body.ReviewerID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleNodes(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if _, ok := requireActor(w, r); !ok {
		return
	}
	ctx := r.Context()
	nodeID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteNode(ctx, nodeID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	var body struct {
		Level     int    `json:"level"`
		ParentID  string `json:"parentId"`
		Position  int    `json:"position"`
		Completed bool   `json:"completed"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var node model.Node
	var err error
	switch parts[3] {
	case "level":
		node, err = s.service.ChangeNodeLevel(ctx, nodeID, body.Level)
	case "move":
		node, err = s.service.MoveNode(ctx, nodeID, body.ParentID, body.Position)
	case "completed":
		node, err = s.service.SetNodeCompleted(ctx, nodeID, body.Completed)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *HTTPServer) handleReviews(w http.ResponseWriter, r *http.Request, parts []string) {
	ctx := r.Context()
	if len(parts) == 2 && r.Method == http.MethodGet {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		reviews, err := s.service.ReviewInbox(ctx, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
		return
	}
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	reviewID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		view, err := s.service.ReviewDetail(ctx, reviewID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 4 && parts[3] == "comments" && r.Method == http.MethodGet {
		comments, err := s.service.ListComments(ctx, reviewID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if len(parts) == 6 && parts[3] == "comments" && parts[5] == "resolve" {
		comment, err := s.service.ResolveComment(ctx, actor, reviewID, parts[4])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
		return
	}
	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	var body struct {
		Comment      string `json:"comment"`
		ForwardTo    string `json:"forwardTo"`
		Content      string `json:"content"`
		ActionNodeID string `json:"actionNodeId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	switch parts[3] {
	case "approve", "reject", "forward":
		actions := map[string]DecisionAction{
			"approve": DecisionApprove,
			"reject":  DecisionRequestChanges,
			"forward": DecisionForward,
		}
		review, err := s.service.ResolveReview(ctx, reviewID, actor, Decision{
			Action:    actions[parts[3]],
			ForwardTo: body.ForwardTo,
			Comment:   body.Comment,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, review)
	case "editor-changes":
		review, err := s.service.NotifyEditorChanges(ctx, reviewID, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, review)
	case "comments":
		comment, err := s.service.AddComment(ctx, actor, reviewID, CommentInput{
			Content:      body.Content,
			ActionNodeID: body.ActionNodeID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, parts []string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if len(parts) == 2 && r.Method == http.MethodGet {
		unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
		notifications, err := s.service.ListNotifications(ctx, actor, unreadOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
		return
	}
	if len(parts) == 4 && parts[3] == "read" && r.Method == http.MethodPost {
		if err := s.service.MarkNotificationRead(ctx, parts[2], actor); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

// dateValue accepts "2006-01-02", RFC 3339 timestamps, null or "".
type dateValue struct {
	Time *time.Time
}

func (d *dateValue) UnmarshalJSON(raw []byte) error {
	var text *string
	if err := json.Unmarshal(raw, &text); err != nil {
		return err
	}
	if text == nil || strings.TrimSpace(*text) == "" {
		d.Time = nil
		return nil
	}
	value := strings.TrimSpace(*text)
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			d.Time = model.DateOnly(&parsed)
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", value)
}

// nodePayload is a node as editors send it: either nested through children or
// flat with parentId references.
type nodePayload struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"clientId"`
	ParentID   string        `json:"parentId"`
	Content    string        `json:"content"`
	Level      int           `json:"level"`
	ListStyle  string        `json:"listStyle"`
	NodeType   string        `json:"nodeType"`
	Position   int           `json:"position"`
	Completed  bool          `json:"completed"`
	ReviewDate dateValue     `json:"reviewDate"`
	ReviewerID string        `json:"reviewerId"`
	Children   []nodePayload `json:"children"`
}

func (p nodePayload) input() model.NodeInput {
	return model.NodeInput{
		ClientID:   firstNonEmpty(p.ClientID, p.ID),
		Content:    p.Content,
		Level:      p.Level,
		ListStyle:  model.ListStyle(p.ListStyle),
		NodeType:   model.NodeType(p.NodeType),
		Position:   p.Position,
		Completed:  p.Completed,
		ReviewDate: p.ReviewDate.Time,
		ReviewerID: p.ReviewerID,
	}
}

// flattenNodes turns nested payloads into node inputs ordered by level and
// position. Blank nodes are dropped and their children move up to the nearest
// kept ancestor. Missing levels follow the nesting; missing positions continue
// after the highest explicit position among the same siblings.
func flattenNodes(payloads []nodePayload) []model.NodeInput {
	taken := map[string]bool{}
	var collect func(list []nodePayload)
	collect = func(list []nodePayload) {
		for _, payload := range list {
			if id := firstNonEmpty(payload.ClientID, payload.ID); id != "" {
				taken[id] = true
			}
			collect(payload.Children)
		}
	}
	collect(payloads)

	generated := 0
	nextID := func() string {
		for {
			generated++
			if id := "~n" + strconv.Itoa(generated); !taken[id] {
				taken[id] = true
				return id
			}
		}
	}

	out := []model.NodeInput{}
	var walk func(list []nodePayload, parentClientID string, parentLevel int)
	walk = func(list []nodePayload, parentClientID string, parentLevel int) {
		for _, payload := range list {
			if strings.TrimSpace(payload.Content) == "" {
				walk(payload.Children, parentClientID, parentLevel)
				continue
			}
			in := payload.input()
			if in.ClientID == "" {
				in.ClientID = nextID()
			}
			in.ParentClientID = parentClientID
			if in.ParentClientID == "" {
				in.ParentClientID = strings.TrimSpace(payload.ParentID)
			}
			if in.Level == 0 {
				in.Level = parentLevel + 1
			}
			out = append(out, in)
			walk(payload.Children, in.ClientID, in.Level)
		}
	}
	walk(payloads, "", 0)

	next := map[string]int{}
	for _, in := range out {
		next[in.ParentClientID] = max(next[in.ParentClientID], in.Position)
	}
	for i := range out {
		if out[i].Position == 0 {
			next[out[i].ParentClientID]++
			out[i].Position = next[out[i].ParentClientID]
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-User-ID header is required", nil)
		return "", false
	}
	return actor, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		route := routeLabel(splitPath(r.URL.Path))
		s.metrics.ObserveRequest(r.Method, route, writer.status, elapsed)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

// routeLabel replaces ids in a path so metrics are not labelled per entity.
// taskListRoutes sit where a task id usually goes but name a fixed route.
var taskListRoutes = map[string]bool{"search": true, "approved": true, "completed": true}

func routeLabel(parts []string) string {
	if len(parts) == 0 {
		return "/"
	}
	label := append([]string(nil), parts...)
	if len(label) >= 3 && label[0] == "api" && !(label[1] == "tasks" && taskListRoutes[label[2]]) {
		label[2] = ":id"
	}
	if len(label) >= 5 && label[3] == "comments" {
		label[4] = ":commentId"
	}
	return "/" + strings.Join(label, "/")
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Export-URL, Content-Disposition")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, "MERGE_CONFLICT", conflict.Conflict.Message, conflict.Conflict
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Error(), map[string]any{"field": validation.Field}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
