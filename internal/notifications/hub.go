package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
)

const (
	// AgentsRoom receives order book broadcasts for every agent and admin.
	AgentsRoom = "agents"

	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
	maxMessageSize      = 512
	sendBuffer          = 64
)

// UserRoom is the private room of one user.
func UserRoom(userID uuid.UUID) string { return "user:" + userID.String() }

// OrderRoom is joined on demand by the parties watching an order.
func OrderRoom(orderID uuid.UUID) string { return "order:" + orderID.String() }

// OrderAccess decides whether a socket may join an order room.
type OrderAccess interface {
	CanView(ctx context.Context, orderID, userID uuid.UUID, role enums.Role) (bool, error)
}

// HubOptions configures the hub.
type HubOptions struct {
	Access         OrderAccess
	Logger         *logger.Logger
	AllowedOrigins []string
	PingInterval   time.Duration
}

// Hub tracks WebSocket clients by room and delivers lifecycle events to them.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	access   OrderAccess
	logg     *logger.Logger
	upgrader websocket.Upgrader
	ping     time.Duration
}

// NewHub builds an empty hub.
func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Access == nil {
		return nil, errors.New("order access checker required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger required")
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		access: opts.Access,
		logg:   opts.Logger,
		ping:   ping,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Serve upgrades the request and blocks until the socket closes. The caller
// has already authenticated userID and role.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID, role enums.Role) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	client := newClient(h, conn, userID, role)
	h.register(client)

	ctx := h.logg.WithFields(context.WithoutCancel(r.Context()), map[string]any{
		"user_id": userID.String(),
		"role":    role,
	})
	h.logg.Info(ctx, "websocket connected")

	go client.writePump()
	client.readPump(ctx)

	h.unregister(client)
	h.logg.Info(ctx, "websocket disconnected")
	return nil
}

// Notify implements Notifier by writing the event to every socket in the
// event's rooms. Slow sockets whose buffer is full are dropped.
func (h *Hub) Notify(_ context.Context, event payloads.LifecycleEvent) error {
	payload, err := json.Marshal(serverMessage{Type: messageTypeEvent, Event: &event})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	h.mu.RLock()
	targets := make(map[*Client]struct{})
	for _, room := range RoomsFor(event) {
		for c := range h.rooms[room] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		if !c.enqueue(payload) {
			h.unregister(c)
		}
	}
	return nil
}

// RoomsFor lists the rooms an event is delivered to.
func RoomsFor(event payloads.LifecycleEvent) []string {
	rooms := make([]string, 0, len(event.Recipients)+3)
	seen := make(map[string]struct{})
	add := func(room string) {
		if _, ok := seen[room]; ok {
			return
		}
		seen[room] = struct{}{}
		rooms = append(rooms, room)
	}
	if event.ActorID != uuid.Nil {
		add(UserRoom(event.ActorID))
	}
	if event.CounterpartyID != nil {
		add(UserRoom(*event.CounterpartyID))
	}
	for _, id := range event.Recipients {
		add(UserRoom(id))
	}
	if event.OrderID != nil {
		add(OrderRoom(*event.OrderID))
	}
	if event.Broadcast() {
		add(AgentsRoom)
	}
	return rooms
}

// ConnectedClients reports the number of open sockets.
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := make(map[*Client]struct{})
	for _, members := range h.rooms {
		for c := range members {
			clients[c] = struct{}{}
		}
	}
	return len(clients)
}

func (h *Hub) register(c *Client) {
	h.join(c, UserRoom(c.userID))
	if c.role.CanFulfillOrders() {
		h.join(c, AgentsRoom)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	for room := range c.rooms {
		h.removeLocked(c, room)
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, room)
}

func (h *Hub) removeLocked(c *Client, room string) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) joinOrder(ctx context.Context, c *Client, orderID uuid.UUID) error {
	allowed, err := h.access.CanView(ctx, orderID, c.userID, c.role)
	if err != nil {
		return err
	}
	if !allowed {
		return errOrderRoomForbidden
	}
	h.join(c, OrderRoom(orderID))
	return nil
}

var errOrderRoomForbidden = errors.New("not allowed to watch this order")
