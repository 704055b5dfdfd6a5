package tasks

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

// CreateInput defines a new rewardable task.
type CreateInput struct {
	Title            string
	Description      *string
	TaskType         enums.TaskType
	RewardAmount     decimal.Decimal
	RewardCurrencyID uuid.UUID
	MaxCompletions   *int
	ValidUntil       *time.Time
	IsActive         bool
}

// Receipt describes a paid reward.
type Receipt struct {
	CompletionID     uuid.UUID       `json:"completion_id"`
	TaskID           uuid.UUID       `json:"task_id"`
	TaskType         enums.TaskType  `json:"task_type"`
	WindowStart      time.Time       `json:"window_start"`
	CompletedAt      time.Time       `json:"completed_at"`
	RewardAmount     decimal.Decimal `json:"reward_amount"`
	RewardCurrencyID uuid.UUID       `json:"reward_currency_id"`
	LedgerEntryID    uuid.UUID       `json:"ledger_entry_id"`
}

// TaskView is a task with the caller's progress in the current window.
type TaskView struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      *string         `json:"description,omitempty"`
	TaskType         enums.TaskType  `json:"task_type"`
	RewardAmount     decimal.Decimal `json:"reward_amount"`
	RewardCurrencyID uuid.UUID       `json:"reward_currency_id"`
	ValidUntil       *time.Time      `json:"valid_until,omitempty"`
	MaxCompletions   *int            `json:"max_completions,omitempty"`
	Completions      int             `json:"completions"`
	Completed        bool            `json:"completed"`
	Available        bool            `json:"available"`
	WindowStart      time.Time       `json:"window_start"`
	ResetsAt         *time.Time      `json:"resets_at,omitempty"`
}

func newTaskView(task models.Task, completions int, completed bool, start, resets time.Time) TaskView {
	view := TaskView{
		ID:               task.ID,
		Title:            task.Title,
		Description:      task.Description,
		TaskType:         task.TaskType,
		RewardAmount:     task.RewardAmount,
		RewardCurrencyID: task.RewardCurrencyID,
		ValidUntil:       task.ValidUntil,
		MaxCompletions:   task.MaxCompletions,
		Completions:      completions,
		Completed:        completed,
		WindowStart:      start,
	}
	capped := task.MaxCompletions != nil && completions >= *task.MaxCompletions
	view.Available = !completed && !capped
	if !resets.IsZero() {
		view.ResetsAt = &resets
	}
	return view
}
