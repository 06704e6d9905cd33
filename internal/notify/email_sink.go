package notify

import (
	"context"
	"fmt"
	"strings"

	"taskreview/api/internal/email"
	"taskreview/api/internal/model"
)

type userDirectory interface {
	GetUser(ctx context.Context, id string) (model.User, error)
}

type mailer interface {
	IsConfigured() bool
	SendNotification(to string, data email.NotificationData) error
}

// EmailSink mails recipients that have an address on file. Recipients without
// one are skipped silently.
type EmailSink struct {
	mailer mailer
	users  userDirectory
	appURL string
}

func NewEmailSink(m mailer, users userDirectory, appURL string) *EmailSink {
	return &EmailSink{mailer: m, users: users, appURL: strings.TrimRight(appURL, "/")}
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Deliver(ctx context.Context, notification model.Notification) error {
	if !s.mailer.IsConfigured() {
		return nil
	}
	user, err := s.users.GetUser(ctx, notification.RecipientID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if strings.TrimSpace(user.Email) == "" {
		return nil
	}
	data := email.NotificationData{
		UserName: user.FullName,
		Subject:  subject(notification.Type),
		Message:  notification.Message,
	}
	if s.appURL != "" {
		data.ActionURL = s.appURL + "/tasks/" + notification.TaskID
	}
	return s.mailer.SendNotification(user.Email, data)
}

func subject(kind model.NotificationType) string {
	switch kind {
	case model.NotifyReviewRequest:
		return "Review requested"
	case model.NotifyReviewForwarded:
		return "Review forwarded to you"
	case model.NotifyTaskApproved:
		return "Task approved"
	case model.NotifyChangesRequested:
		return "Changes requested"
	case model.NotifyTaskCompleted:
		return "Task completed"
	case model.NotifyTaskIncomplete:
		return "Task reopened for review"
	case model.NotifyComment, model.NotifyCommentResolved:
		return "New activity on a review"
	}
	return "Task update"
}
