package notifications

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/outbox"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxNotifier persists events to the transactional outbox so the
// publisher can forward them to Pub/Sub. It writes in its own transaction,
// after the business transaction has committed.
type OutboxNotifier struct {
	db     txRunner
	outbox outboxEmitter
}

// NewOutboxNotifier wires the outbox sink.
func NewOutboxNotifier(db txRunner, emitter outboxEmitter) (*OutboxNotifier, error) {
	if db == nil {
		return nil, errors.New("db runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &OutboxNotifier{db: db, outbox: emitter}, nil
}

// Notify implements Notifier.
func (n *OutboxNotifier) Notify(ctx context.Context, event payloads.LifecycleEvent) error {
	return n.db.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     event.Kind,
			AggregateType: event.AggregateType(),
			AggregateID:   event.AggregateID(),
			Actor:         &outbox.ActorRef{UserID: event.ActorID},
			Data:          event,
			OccurredAt:    event.Timestamp,
		})
	})
}
