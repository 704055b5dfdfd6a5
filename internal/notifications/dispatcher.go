package notifications

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
)

// Notifier delivers one lifecycle event to a single sink.
type Notifier interface {
	Notify(ctx context.Context, event payloads.LifecycleEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event payloads.LifecycleEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, event payloads.LifecycleEvent) error {
	return f(ctx, event)
}

// Dispatcher fans events out to every configured notifier. Engines call Emit
// after their transaction commits; delivery failures are logged and never
// reach the caller.
type Dispatcher struct {
	notifiers []Notifier
	logg      *logger.Logger
	now       func() time.Time
}

// NewDispatcher builds a dispatcher; nil notifiers are skipped.
func NewDispatcher(logg *logger.Logger, notifiers ...Notifier) *Dispatcher {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Dispatcher{notifiers: active, logg: logg, now: time.Now}
}

// Emit delivers event to every notifier.
func (d *Dispatcher) Emit(ctx context.Context, event payloads.LifecycleEvent) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.now().UTC()
	}
	// Delivery outlives the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	var errs error
	for _, n := range d.notifiers {
		errs = multierr.Append(errs, n.Notify(ctx, event))
	}
	if errs == nil || d.logg == nil {
		return
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"event_kind":   event.Kind,
		"aggregate_id": event.AggregateID().String(),
		"actor_id":     event.ActorID.String(),
	})
	for _, err := range multierr.Errors(errs) {
		d.logg.Error(logCtx, "notification delivery failed", err)
	}
}
