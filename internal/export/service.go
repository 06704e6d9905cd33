package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/rs/zerolog"

	"taskreview/api/internal/model"
	"taskreview/api/internal/tree"
)

// DataSource is the read side of the task store used by exports.
type DataSource interface {
	GetTask(ctx context.Context, id string) (model.Task, error)
	GetVersion(ctx context.Context, id string) (model.Version, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	ListNodes(ctx context.Context, versionID string) ([]model.Node, error)
	ListReviews(ctx context.Context, versionID string) ([]model.Review, error)
	ListComments(ctx context.Context, reviewID string) ([]model.Comment, error)
}

// Renderer turns rendered HTML into a file.
type Renderer func(ctx context.Context, html string, title string) (*Result, error)

type Service struct {
	source  DataSource
	pdf     Renderer
	docx    Renderer
	objects ObjectStore
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithPDFRenderer(r Renderer) Option  { return func(s *Service) { s.pdf = r } }
func WithDOCXRenderer(r Renderer) Option { return func(s *Service) { s.docx = r } }

// WithObjectStore uploads every export; upload failures are logged and the
// export is still returned.
func WithObjectStore(store ObjectStore) Option { return func(s *Service) { s.objects = store } }

func NewService(source DataSource, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		source: source,
		pdf:    ChromePDF,
		docx:   PandocDOCX("pandoc"),
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	task, err := s.source.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	versionID := req.VersionID
	if versionID == "" {
		versionID = task.CurrentVersionID
	}
	if versionID == "" {
		return nil, fmt.Errorf("%w: task %s has no version", ErrContentUnavailable, task.ID)
	}
	version, err := s.source.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if version.TaskID != task.ID {
		return nil, fmt.Errorf("%w: version %s does not belong to task %s", ErrContentUnavailable, version.ID, task.ID)
	}

	html, err := s.RenderHTML(ctx, task, version, req.IncludeComments)
	if err != nil {
		return nil, err
	}

	var result *Result
	switch req.Format {
	case FormatHTML:
		result = &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(task.Description) + ".html",
			MimeType: "text/html; charset=utf-8",
		}
	case FormatPDF:
		result, err = s.pdf(ctx, html, task.Description)
	case FormatDOCX:
		result, err = s.docx(ctx, html, task.Description)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	if err != nil {
		return nil, err
	}

	if s.objects != nil {
		key := fmt.Sprintf("%s/v%d/%s", task.ID, version.VersionNumber, result.Filename)
		link, err := s.objects.Put(ctx, key, result.Data, result.MimeType)
		if err != nil {
			s.log.Warn().Err(err).Str("task_id", task.ID).Str("key", key).Msg("export upload failed")
		} else {
			result.ObjectKey = key
			result.URL = link
		}
	}
	return result, nil
}

// RenderHTML renders the version as a standalone HTML page.
func (s *Service) RenderHTML(ctx context.Context, task model.Task, version model.Version, includeComments bool) (string, error) {
	nodes, err := s.source.ListNodes(ctx, version.ID)
	if err != nil {
		return "", fmt.Errorf("list nodes: %w", err)
	}
	content, err := tree.RenderHTML(tree.Build(nodes))
	if err != nil {
		return "", err
	}

	data := TemplateData{
		Description:    task.Description,
		SectorDivision: task.SectorDivision,
		Responsibility: task.Responsibility,
		Status:         string(task.Status),
		OriginalDate:   task.OriginalDate,
		ReviewDate:     task.ReviewDate,
		VersionNumber:  version.VersionNumber,
		VersionStatus:  string(version.Status),
		Editor:         s.userName(ctx, version.EditorID),
		GeneratedAt:    s.now().UTC(),
		ContentHTML:    template.HTML(content),
	}

	if includeComments {
		reviews, err := s.source.ListReviews(ctx, version.ID)
		if err != nil {
			return "", fmt.Errorf("list reviews: %w", err)
		}
		for _, review := range reviews {
			item := TemplateReview{
				Reviewer: s.userName(ctx, review.ReviewerID),
				Status:   string(review.Status),
				Comment:  review.Comment,
			}
			comments, err := s.source.ListComments(ctx, review.ID)
			if err != nil {
				return "", fmt.Errorf("list comments: %w", err)
			}
			for _, comment := range comments {
				item.Comments = append(item.Comments, TemplateComment{
					Author:   s.userName(ctx, comment.AuthorID),
					Body:     comment.Content,
					Resolved: comment.Resolved,
				})
			}
			data.Reviews = append(data.Reviews, item)
		}
	}

	html, err := RenderTaskHTML(data)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return html, nil
}

func (s *Service) userName(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	user, err := s.source.GetUser(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Debug().Err(err).Str("user_id", id).Msg("export user lookup")
		}
		return id
	}
	return user.FullName
}
