package tasks

import (
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrTaskExpired      = errors.New("task expired")
	ErrAlreadyCompleted = errors.New("task already completed")
)

func taskNotFound(taskID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrTaskNotFound, "task not found").
		WithDetails(map[string]any{"task_id": taskID.String()})
}

func taskExpired(taskID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrTaskExpired, "task expired").
		WithDetails(map[string]any{"task_id": taskID.String()})
}

func alreadyCompleted(taskID uuid.UUID, reason string) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrAlreadyCompleted, "task already completed").
		WithDetails(map[string]any{
			"task_id": taskID.String(),
			"reason":  reason,
		})
}

func isRejection(err error) bool {
	return errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrTaskExpired) ||
		errors.Is(err, ErrAlreadyCompleted)
}
