package orders

import "github.com/google/uuid"

type createOrderRequest struct {
	Type            string     `json:"type" validate:"required,oneof=buy sell"`
	CurrencyID      uuid.UUID  `json:"currency_id" validate:"required"`
	QuoteCurrencyID *uuid.UUID `json:"quote_currency_id"`
	Amount          string     `json:"amount" validate:"required,positive_decimal"`
	Price           string     `json:"price" validate:"required,positive_decimal"`
	PaymentMethod   *string    `json:"payment_method" validate:"omitempty,max=64"`
	Notes           *string    `json:"notes" validate:"omitempty,max=500"`
}

type amendOrderRequest struct {
	Amount        *string `json:"amount" validate:"omitempty,positive_decimal"`
	Price         *string `json:"price" validate:"omitempty,positive_decimal"`
	PaymentMethod *string `json:"payment_method" validate:"omitempty,max=64"`
	Notes         *string `json:"notes" validate:"omitempty,max=500"`
}

type transitionRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=255"`
}
