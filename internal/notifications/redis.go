package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/p2pex-backend/pkg/redis"
)

// RedisNotifier publishes events on a Redis channel shared by every API
// instance, so a socket connected anywhere receives them.
type RedisNotifier struct {
	publisher redis.Publisher
	channel   string
}

// NewRedisNotifier wires the Redis fan-out sink.
func NewRedisNotifier(publisher redis.Publisher, channel string) (*RedisNotifier, error) {
	if publisher == nil {
		return nil, errors.New("redis publisher required")
	}
	if channel == "" {
		return nil, errors.New("notification channel required")
	}
	return &RedisNotifier{publisher: publisher, channel: channel}, nil
}

// Notify implements Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, event payloads.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.channel, payload); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

type subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (*goredis.PubSub, error)
}

// Relay feeds events received on the Redis channel into a local notifier,
// normally the WebSocket hub.
type Relay struct {
	sub     subscriber
	channel string
	target  Notifier
	logg    *logger.Logger
}

// NewRelay builds a relay for channel.
func NewRelay(sub subscriber, channel string, target Notifier, logg *logger.Logger) (*Relay, error) {
	if sub == nil {
		return nil, errors.New("redis subscriber required")
	}
	if channel == "" {
		return nil, errors.New("notification channel required")
	}
	if target == nil {
		return nil, errors.New("relay target required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Relay{sub: sub, channel: channel, target: target, logg: logg}, nil
}

// Run blocks until ctx is cancelled or the subscription drops.
func (r *Relay) Run(ctx context.Context) error {
	ps, err := r.sub.Subscribe(ctx, r.channel)
	if err != nil {
		return err
	}
	defer ps.Close()

	messages := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("notification subscription closed")
			}
			r.handle(ctx, msg.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var event payloads.LifecycleEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logg.Error(ctx, "failed to decode relayed notification", err)
		return
	}
	if err := r.target.Notify(ctx, event); err != nil {
		logCtx := r.logg.WithField(ctx, "event_kind", event.Kind)
		r.logg.Error(logCtx, "relayed notification delivery failed", err)
	}
}
