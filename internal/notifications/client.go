package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
)

const (
	actionJoinOrder  = "join_order"
	actionLeaveOrder = "leave_order"

	messageTypeEvent = "event"
	messageTypeAck   = "ack"
	messageTypeError = "error"
)

type clientMessage struct {
	Action  string `json:"action"`
	OrderID string `json:"orderId"`
}

type serverMessage struct {
	Type    string                   `json:"type"`
	Event   *payloads.LifecycleEvent `json:"event,omitempty"`
	Action  string                   `json:"action,omitempty"`
	OrderID string                   `json:"orderId,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Client is one WebSocket connection. rooms is guarded by the hub mutex.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    uuid.UUID
	role      enums.Role
	rooms     map[string]struct{}
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, role enums.Role) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
		role:   role,
		rooms:  make(map[string]struct{}),
	}
}

func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	})
}

func (c *Client) reply(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) readPump(ctx context.Context) {
	pongWait := 2 * c.hub.ping
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(serverMessage{Type: messageTypeError, Error: "malformed message"})
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg clientMessage) {
	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		c.reply(serverMessage{Type: messageTypeError, Action: msg.Action, Error: "invalid order id"})
		return
	}
	switch msg.Action {
	case actionJoinOrder:
		if err := c.hub.joinOrder(ctx, c, orderID); err != nil {
			if !errors.Is(err, errOrderRoomForbidden) {
				c.hub.logg.Error(ctx, "order room access check failed", err)
			}
			c.reply(serverMessage{Type: messageTypeError, Action: msg.Action, OrderID: msg.OrderID, Error: errOrderRoomForbidden.Error()})
			return
		}
	case actionLeaveOrder:
		c.hub.leave(c, OrderRoom(orderID))
	default:
		c.reply(serverMessage{Type: messageTypeError, Action: msg.Action, Error: "unknown action"})
		return
	}
	c.reply(serverMessage{Type: messageTypeAck, Action: msg.Action, OrderID: msg.OrderID})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.ping)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
