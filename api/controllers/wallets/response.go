package wallets

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

type walletResponse struct {
	ID         uuid.UUID       `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	CurrencyID uuid.UUID       `json:"currency_id"`
	Available  decimal.Decimal `json:"available"`
	Frozen     decimal.Decimal `json:"frozen"`
	Total      decimal.Decimal `json:"total"`
	IsActive   bool            `json:"is_active"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
}

func newWalletResponse(w models.Wallet) walletResponse {
	resp := walletResponse{
		ID:         w.ID,
		UserID:     w.UserID,
		CurrencyID: w.CurrencyID,
		Available:  w.Available,
		Frozen:     w.Frozen,
		Total:      w.Total(),
		IsActive:   w.IsActive,
	}
	if !w.UpdatedAt.IsZero() {
		updated := w.UpdatedAt
		resp.UpdatedAt = &updated
	}
	return resp
}

type entryResponse struct {
	ID          uuid.UUID               `json:"id"`
	WalletID    uuid.UUID               `json:"wallet_id"`
	CurrencyID  uuid.UUID               `json:"currency_id"`
	OrderID     *uuid.UUID              `json:"order_id,omitempty"`
	Type        enums.LedgerEntryType   `json:"type"`
	Status      enums.LedgerEntryStatus `json:"status"`
	Amount      decimal.Decimal         `json:"amount"`
	FrozenDelta decimal.Decimal         `json:"frozen_delta"`
	Metadata    json.RawMessage         `json:"metadata,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

func newEntryResponse(e models.LedgerEntry) entryResponse {
	return entryResponse{
		ID:          e.ID,
		WalletID:    e.WalletID,
		CurrencyID:  e.CurrencyID,
		OrderID:     e.OrderID,
		Type:        e.Type,
		Status:      e.Status,
		Amount:      e.Amount,
		FrozenDelta: e.FrozenDelta,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt,
	}
}
