package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
)

// ErrOrderNotPending is returned to the losing side of a claim race and also
// matches ErrInvalidTransition.
var (
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrOrderNotPending   = fmt.Errorf("order is no longer pending: %w", ErrInvalidTransition)
	ErrOrderNotFound     = errors.New("order not found")
)

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "invalid order transition").
		WithDetails(map[string]any{
			"from": string(from),
			"to":   string(to),
		})
}

func orderNotPending(orderID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderNotPending, "order is no longer pending").
		WithDetails(map[string]any{"order_id": orderID.String()})
}

func orderNotFound(orderID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrOrderNotFound, "order not found").
		WithDetails(map[string]any{"order_id": orderID.String()})
}

func forbidden(message string) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, message)
}

func isRejection(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeValidation, pkgerrors.CodeConflict, pkgerrors.CodeStateConflict,
		pkgerrors.CodeForbidden, pkgerrors.CodeNotFound, pkgerrors.CodeUnauthorized:
		return true
	default:
		return false
	}
}
