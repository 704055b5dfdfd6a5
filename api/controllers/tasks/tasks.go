package tasks

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/api/middleware"
	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/api/validators"
	internaltasks "github.com/angelmondragon/p2pex-backend/internal/tasks"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

type completionResponse struct {
	ID            uuid.UUID  `json:"id"`
	TaskID        uuid.UUID  `json:"task_id"`
	WindowStart   time.Time  `json:"window_start"`
	CompletedAt   time.Time  `json:"completed_at"`
	RewardEntryID *uuid.UUID `json:"reward_entry_id,omitempty"`
	RewardClaimed bool       `json:"reward_claimed"`
}

func newCompletionResponse(c models.UserTask) completionResponse {
	return completionResponse{
		ID:            c.ID,
		TaskID:        c.TaskID,
		WindowStart:   c.WindowStart,
		CompletedAt:   c.CompletedAt,
		RewardEntryID: c.RewardEntryID,
		RewardClaimed: c.RewardClaimed,
	}
}

// List returns the active tasks with the caller's progress in each window.
func List(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views, err := svc.List(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, views)
	}
}

// History pages through the caller's past completions.
func History(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.Map(page, newCompletionResponse))
	}
}

// Complete records a completion and pays the reward.
func Complete(svc internaltasks.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		taskID, err := validators.ParseUUIDParam(r, "taskId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		receipt, err := svc.Complete(r.Context(), userID, taskID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, receipt)
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	userID, _, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return userID, nil
}
