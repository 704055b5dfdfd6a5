package tasks

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/api/validators"
	internaltasks "github.com/angelmondragon/p2pex-backend/internal/tasks"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
)

type createTaskRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Description      *string    `json:"description" validate:"omitempty,max=2000"`
	TaskType         string     `json:"task_type" validate:"required,oneof=daily weekly monthly one_time"`
	RewardAmount     string     `json:"reward_amount" validate:"required,positive_decimal"`
	RewardCurrencyID uuid.UUID  `json:"reward_currency_id" validate:"required"`
	MaxCompletions   *int       `json:"max_completions" validate:"omitempty,gt=0"`
	ValidUntil       *time.Time `json:"valid_until"`
	IsActive         *bool      `json:"is_active"`
}

type taskResponse struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      *string         `json:"description,omitempty"`
	TaskType         enums.TaskType  `json:"task_type"`
	RewardAmount     decimal.Decimal `json:"reward_amount"`
	RewardCurrencyID uuid.UUID       `json:"reward_currency_id"`
	MaxCompletions   *int            `json:"max_completions,omitempty"`
	ValidUntil       *time.Time      `json:"valid_until,omitempty"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
}

func newTaskResponse(t models.Task) taskResponse {
	return taskResponse{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		TaskType:         t.TaskType,
		RewardAmount:     t.RewardAmount,
		RewardCurrencyID: t.RewardCurrencyID,
		MaxCompletions:   t.MaxCompletions,
		ValidUntil:       t.ValidUntil,
		IsActive:         t.IsActive,
		CreatedAt:        t.CreatedAt,
	}
}

// AdminCreate defines a new task. Tasks are active unless is_active is false.
func AdminCreate(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reward, err := validators.ParseDecimal("reward_amount", req.RewardAmount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := internaltasks.CreateInput{
			Title:            validators.SanitizeString(req.Title, 200),
			Description:      req.Description,
			TaskType:         enums.TaskType(req.TaskType),
			RewardAmount:     reward,
			RewardCurrencyID: req.RewardCurrencyID,
			MaxCompletions:   req.MaxCompletions,
			ValidUntil:       req.ValidUntil,
			IsActive:         req.IsActive == nil || *req.IsActive,
		}
		if input.Description != nil {
			description := validators.SanitizeString(*input.Description, 2000)
			input.Description = &description
		}

		task, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newTaskResponse(*task))
	}
}
