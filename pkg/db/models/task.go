package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// Task defines a rewardable action and how often it may be completed.
type Task struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title            string          `gorm:"column:title;not null"`
	Description      *string         `gorm:"column:description"`
	TaskType         enums.TaskType  `gorm:"column:task_type;type:task_type_enum;not null"`
	RewardAmount     decimal.Decimal `gorm:"column:reward_amount;type:numeric(30,8);not null"`
	RewardCurrencyID uuid.UUID       `gorm:"column:reward_currency_id;type:uuid;not null"`
	MaxCompletions   *int            `gorm:"column:max_completions"`
	ValidUntil       *time.Time      `gorm:"column:valid_until"`
	IsActive         bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// UserTask records one completion of a task by a user inside a window.
type UserTask struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	TaskID        uuid.UUID  `gorm:"column:task_id;type:uuid;not null"`
	WindowStart   time.Time  `gorm:"column:window_start;not null"`
	CompletedAt   time.Time  `gorm:"column:completed_at;not null"`
	RewardEntryID *uuid.UUID `gorm:"column:reward_entry_id;type:uuid"`
	RewardClaimed bool       `gorm:"column:reward_claimed;not null;default:false"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}
