package notify

import (
	"context"

	"taskreview/api/internal/model"
)

type notificationWriter interface {
	InsertNotification(ctx context.Context, notification model.Notification) error
}

// StoreSink persists notifications so recipients can list and mark them read.
type StoreSink struct {
	store notificationWriter
}

func NewStoreSink(store notificationWriter) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, notification model.Notification) error {
	return s.store.InsertNotification(ctx, notification)
}
