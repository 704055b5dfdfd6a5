package payloads

import (
	"time"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/google/uuid"
)

// LifecycleEvent is the notification contract shared by the order and task
// engines, the outbox and the WebSocket gateway. Recipients lists every user
// the event is addressed to, the actor included.
type LifecycleEvent struct {
	Kind           enums.OutboxEventType `json:"kind"`
	OrderID        *uuid.UUID            `json:"orderId,omitempty"`
	TaskID         *uuid.UUID            `json:"taskId,omitempty"`
	ActorID        uuid.UUID             `json:"actorId"`
	CounterpartyID *uuid.UUID            `json:"counterpartyId,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
	Recipients     []uuid.UUID           `json:"recipients,omitempty"`
	Details        map[string]string     `json:"details,omitempty"`
}

// AggregateType returns the outbox aggregate the event belongs to.
func (e LifecycleEvent) AggregateType() enums.OutboxAggregateType {
	switch {
	case e.OrderID != nil:
		return enums.AggregateOrder
	case e.TaskID != nil:
		return enums.AggregateTaskCompletion
	default:
		return enums.AggregateWallet
	}
}

// AggregateID returns the id of the order, task or actor wallet owner.
func (e LifecycleEvent) AggregateID() uuid.UUID {
	switch {
	case e.OrderID != nil:
		return *e.OrderID
	case e.TaskID != nil:
		return *e.TaskID
	default:
		return e.ActorID
	}
}

// Broadcast reports whether agents outside the order should hear about it.
func (e LifecycleEvent) Broadcast() bool {
	switch e.Kind {
	case enums.EventOrderCreated, enums.EventOrderMatched, enums.EventOrderCancelled, enums.EventOrderExpired, enums.EventOrderAmended:
		return true
	default:
		return false
	}
}
