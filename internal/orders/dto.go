package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// systemActor drives transitions that no user requested, such as expiry.
var systemActor = Actor{Role: enums.RoleAdmin}

func (a Actor) isAdmin() bool { return a.Role == enums.RoleAdmin }

// CreateInput carries a new order request.
type CreateInput struct {
	Actor           Actor
	Type            enums.OrderType
	CurrencyID      uuid.UUID
	QuoteCurrencyID *uuid.UUID
	Amount          decimal.Decimal
	Price           decimal.Decimal
	PaymentMethod   *string
	Notes           *string
}

// AmendInput changes the terms of a pending order. Nil fields are kept.
type AmendInput struct {
	Actor         Actor
	OrderID       uuid.UUID
	Amount        *decimal.Decimal
	Price         *decimal.Decimal
	PaymentMethod *string
	Notes         *string
}

// TransitionInput carries a claim, confirm, complete or cancel request.
type TransitionInput struct {
	Actor   Actor
	OrderID uuid.UUID
	Reason  *string
}

// ListFilter narrows ListMine.
type ListFilter struct {
	Status *enums.OrderStatus
	Type   *enums.OrderType
}

// ExpireResult summarizes one expiry sweep.
type ExpireResult struct {
	Scanned int
	Expired int
	Skipped int
}
