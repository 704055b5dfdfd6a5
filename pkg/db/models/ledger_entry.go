package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// LedgerEntry is an append-only record of one balance change on a wallet.
// Amount is the signed change to available+frozen and FrozenDelta the signed
// change to frozen.
type LedgerEntry struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID       uuid.UUID               `gorm:"column:wallet_id;type:uuid;not null"`
	UserID         uuid.UUID               `gorm:"column:user_id;type:uuid;not null"`
	CurrencyID     uuid.UUID               `gorm:"column:currency_id;type:uuid;not null"`
	OrderID        *uuid.UUID              `gorm:"column:order_id;type:uuid"`
	Type           enums.LedgerEntryType   `gorm:"column:type;type:ledger_entry_type_enum;not null"`
	Status         enums.LedgerEntryStatus `gorm:"column:status;type:ledger_entry_status_enum;not null"`
	Amount         decimal.Decimal         `gorm:"column:amount;type:numeric(30,8);not null"`
	FrozenDelta    decimal.Decimal         `gorm:"column:frozen_delta;type:numeric(30,8);not null;default:0"`
	IdempotencyKey *string                 `gorm:"column:idempotency_key"`
	Metadata       json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
}
