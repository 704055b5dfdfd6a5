package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

type orderResponse struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	AgentID         *uuid.UUID        `json:"agent_id,omitempty"`
	Type            enums.OrderType   `json:"type"`
	Status          enums.OrderStatus `json:"status"`
	CurrencyID      uuid.UUID         `json:"currency_id"`
	QuoteCurrencyID *uuid.UUID        `json:"quote_currency_id,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Price           decimal.Decimal   `json:"price"`
	TotalValue      decimal.Decimal   `json:"total_value"`
	PaymentMethod   *string           `json:"payment_method,omitempty"`
	Notes           *string           `json:"notes,omitempty"`
	CancelReason    *string           `json:"cancel_reason,omitempty"`
	MatchedAt       *time.Time        `json:"matched_at,omitempty"`
	ConfirmedAt     *time.Time        `json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func newOrderResponse(o models.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		AgentID:         o.AgentID,
		Type:            o.Type,
		Status:          o.Status,
		CurrencyID:      o.CurrencyID,
		QuoteCurrencyID: o.QuoteCurrencyID,
		Amount:          o.Amount,
		Price:           o.Price,
		TotalValue:      o.TotalValue,
		PaymentMethod:   o.PaymentMethod,
		Notes:           o.Notes,
		CancelReason:    o.CancelReason,
		MatchedAt:       o.MatchedAt,
		ConfirmedAt:     o.ConfirmedAt,
		CompletedAt:     o.CompletedAt,
		CancelledAt:     o.CancelledAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}
