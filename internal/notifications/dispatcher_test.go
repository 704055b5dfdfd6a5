package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/db/dbtest"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []payloads.LifecycleEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event payloads.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) received() []payloads.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]payloads.LifecycleEvent(nil), r.events...)
}

func testLogger(out io.Writer) *logger.Logger {
	if out == nil {
		out = io.Discard
	}
	return logger.New(logger.Options{ServiceName: "test", Output: out})
}

func orderEvent(kind enums.OutboxEventType) payloads.LifecycleEvent {
	orderID := uuid.New()
	return payloads.LifecycleEvent{Kind: kind, OrderID: &orderID, ActorID: uuid.New()}
}

func TestDispatcherDeliversToEveryNotifier(t *testing.T) {
	first := &recordingNotifier{}
	second := &recordingNotifier{}
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := NewDispatcher(testLogger(nil), first, nil, second)
	d.now = func() time.Time { return fixed }

	d.Emit(context.Background(), orderEvent(enums.EventOrderCreated))

	require.Len(t, first.received(), 1)
	require.Len(t, second.received(), 1)
	assert.Equal(t, fixed, first.received()[0].Timestamp)
}

func TestDispatcherSwallowsAndLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	failing := &recordingNotifier{err: errors.New("socket gone")}
	healthy := &recordingNotifier{}
	d := NewDispatcher(testLogger(&buf), failing, healthy)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Emit(ctx, orderEvent(enums.EventOrderCompleted))

	require.Len(t, healthy.received(), 1)
	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "socket gone")
}

func TestDispatcherNilIsNoop(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), orderEvent(enums.EventOrderCreated))
}

func TestOutboxNotifierQueuesRow(t *testing.T) {
	conn := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	notifier, err := NewOutboxNotifier(db.Wrap(conn), emitter)
	require.NoError(t, err)

	event := orderEvent(enums.EventOrderMatched)
	event.Timestamp = time.Now().UTC()
	require.NoError(t, notifier.Notify(context.Background(), event))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventOrderMatched, rows[0].EventType)
	assert.Equal(t, enums.AggregateOrder, rows[0].AggregateType)
	assert.Equal(t, *event.OrderID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var decoded payloads.LifecycleEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &decoded))
	assert.Equal(t, event.ActorID, decoded.ActorID)
}

type failingRunner struct{}

func (failingRunner) WithTx(context.Context, func(tx *gorm.DB) error) error {
	return errors.New("db down")
}

func TestOutboxNotifierSurfacesDBErrors(t *testing.T) {
	notifier, err := NewOutboxNotifier(failingRunner{}, outbox.NewService(nil, nil))
	require.NoError(t, err)
	err = notifier.Notify(context.Background(), orderEvent(enums.EventOrderMatched))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "db down"))
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	f.channel = channel
	f.payload = payload
	return f.err
}

func TestRedisNotifierAndRelayRoundTrip(t *testing.T) {
	pub := &fakePublisher{}
	notifier, err := NewRedisNotifier(pub, "p2p:notifications")
	require.NoError(t, err)

	event := orderEvent(enums.EventOrderConfirmed)
	require.NoError(t, notifier.Notify(context.Background(), event))
	assert.Equal(t, "p2p:notifications", pub.channel)

	target := &recordingNotifier{}
	relay := &Relay{channel: "p2p:notifications", target: target, logg: testLogger(nil)}
	relay.handle(context.Background(), string(pub.payload))
	relay.handle(context.Background(), "{not json")

	got := target.received()
	require.Len(t, got, 1)
	assert.Equal(t, event.Kind, got[0].Kind)
	assert.Equal(t, *event.OrderID, *got[0].OrderID)
}

func TestRedisNotifierWrapsPublishError(t *testing.T) {
	notifier, err := NewRedisNotifier(&fakePublisher{err: errors.New("conn reset")}, "chan")
	require.NoError(t, err)
	err = notifier.Notify(context.Background(), orderEvent(enums.EventOrderCreated))
	require.ErrorContains(t, err, "conn reset")

	_, err = NewRedisNotifier(nil, "chan")
	require.Error(t, err)
	_, err = NewRedisNotifier(&fakePublisher{}, "")
	require.Error(t, err)
}
