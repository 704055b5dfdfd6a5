package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/registry"
)

const lifecycleConsumerName = "lifecycle-notifications"

type processedTracker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer reads lifecycle events published from the outbox and hands them to
// the target notifier, usually the Redis fan-out. Redelivered messages are
// dropped through the idempotency tracker.
type Consumer struct {
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	decoders     *registry.DecoderRegistry
	target       Notifier
	logg         *logger.Logger
}

// NewConsumer builds a lifecycle notification consumer.
func NewConsumer(subscription *pubsub.Subscriber, manager *idempotency.Manager, target Notifier, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("lifecycle subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	return newConsumer(subscription, manager, target, logg)
}

func newConsumer(subscription *pubsub.Subscriber, tracker processedTracker, target Notifier, logg *logger.Logger) (*Consumer, error) {
	if target == nil {
		return nil, fmt.Errorf("notification target required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		idempotency:  tracker,
		decoders:     lifecycleDecoders(),
		target:       target,
		logg:         logg,
	}, nil
}

func lifecycleDecoders() *registry.DecoderRegistry {
	decoders := registry.NewDecoderRegistry()
	decode := func(payload json.RawMessage) (interface{}, error) {
		var event payloads.LifecycleEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return event, nil
	}
	for _, eventType := range []enums.OutboxEventType{
		enums.EventOrderCreated,
		enums.EventOrderMatched,
		enums.EventOrderConfirmed,
		enums.EventOrderCompleted,
		enums.EventOrderCancelled,
		enums.EventOrderExpired,
		enums.EventOrderAmended,
		enums.EventTaskRewarded,
		enums.EventWalletDeposit,
	} {
		decoders.Register(eventType, 1, decode)
	}
	return decoders
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("lifecycle subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if !eventType.IsValid() {
		c.logg.Warn(logCtx, "skipping unknown lifecycle event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	event, ok := decoded.(payloads.LifecycleEvent)
	if !ok {
		c.logg.Warn(logCtx, "unexpected payload type")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, lifecycleConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.target.Notify(ctx, event); err != nil {
		c.logg.Error(logCtx, "notification forwarding failed", err)
		_ = c.idempotency.Delete(ctx, lifecycleConsumerName, eventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}
