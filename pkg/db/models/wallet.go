package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is the materialized balance of one user in one currency.
type Wallet struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID       `gorm:"column:user_id;type:uuid;not null"`
	CurrencyID uuid.UUID       `gorm:"column:currency_id;type:uuid;not null"`
	Available  decimal.Decimal `gorm:"column:available;type:numeric(30,8);not null;default:0"`
	Frozen     decimal.Decimal `gorm:"column:frozen;type:numeric(30,8);not null;default:0"`
	IsActive   bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Total returns available plus frozen funds.
func (w Wallet) Total() decimal.Decimal {
	return w.Available.Add(w.Frozen)
}
