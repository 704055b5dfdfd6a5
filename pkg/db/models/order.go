package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// Order is a single buy or sell intent mediated by an agent. Wallets are
// referenced through (UserID|AgentID, CurrencyID) only.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	AgentID         *uuid.UUID        `gorm:"column:agent_id;type:uuid"`
	CurrencyID      uuid.UUID         `gorm:"column:currency_id;type:uuid;not null"`
	QuoteCurrencyID *uuid.UUID        `gorm:"column:quote_currency_id;type:uuid"`
	Type            enums.OrderType   `gorm:"column:type;type:order_type_enum;not null"`
	Status          enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null"`
	Amount          decimal.Decimal   `gorm:"column:amount;type:numeric(30,8);not null"`
	Price           decimal.Decimal   `gorm:"column:price;type:numeric(30,8);not null"`
	TotalValue      decimal.Decimal   `gorm:"column:total_value;type:numeric(30,8);not null"`
	PaymentMethod   *string           `gorm:"column:payment_method"`
	Notes           *string           `gorm:"column:notes"`
	CancelReason    *string           `gorm:"column:cancel_reason"`
	MatchedAt       *time.Time        `gorm:"column:matched_at"`
	ConfirmedAt     *time.Time        `gorm:"column:confirmed_at"`
	CompletedAt     *time.Time        `gorm:"column:completed_at"`
	CancelledAt     *time.Time        `gorm:"column:cancelled_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
