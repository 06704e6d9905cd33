// Package notify fans workflow notifications out to their delivery channels.
// Delivery is best effort: a failing sink is logged and never affects the
// mutation that produced the notification.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"taskreview/api/internal/metrics"
	"taskreview/api/internal/model"
)

type Sink interface {
	Name() string
	Deliver(ctx context.Context, notification model.Notification) error
}

type Dispatcher struct {
	sinks   []Sink
	log     zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

func NewDispatcher(log zerolog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log, metrics: m, timeout: 5 * time.Second}
}

// Dispatch hands every notification to every sink in order. Sinks see the
// notifications in the order they were produced.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []model.Notification) {
	if d == nil {
		return
	}
	for _, notification := range notifications {
		for _, sink := range d.sinks {
			sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			err := sink.Deliver(sinkCtx, notification)
			cancel()
			d.metrics.Notification(sink.Name(), err)
			if err != nil {
				d.log.Warn().
					Err(err).
					Str("sink", sink.Name()).
					Str("notification_id", notification.ID).
					Str("recipient_id", notification.RecipientID).
					Str("type", string(notification.Type)).
					Msg("notification delivery failed")
			}
		}
	}
}
