package wallets

import (
	"encoding/json"

	"github.com/google/uuid"
)

type mutationRequest struct {
	Amount         string          `json:"amount" validate:"required,positive_decimal"`
	Type           string          `json:"type" validate:"omitempty,oneof=deposit withdrawal trade fee reward"`
	OrderID        *uuid.UUID      `json:"order_id"`
	Metadata       json.RawMessage `json:"metadata"`
	IdempotencyKey string          `json:"idempotency_key" validate:"omitempty,max=128"`
}

type holdRequest struct {
	Amount  string     `json:"amount" validate:"required,positive_decimal"`
	OrderID *uuid.UUID `json:"order_id"`
}

type statusRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// depositRequest is the verified callback of a deposit provider. Reference is
// the provider's transaction id and makes redelivery idempotent.
type depositRequest struct {
	UserID     uuid.UUID       `json:"user_id" validate:"required"`
	CurrencyID uuid.UUID       `json:"currency_id" validate:"required"`
	Amount     string          `json:"amount" validate:"required,positive_decimal"`
	Reference  string          `json:"reference" validate:"required,max=128"`
	Provider   string          `json:"provider" validate:"omitempty,max=64"`
	Metadata   json.RawMessage `json:"metadata"`
}
