package ledger

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most 8 decimal places")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInsufficientFrozen  = errors.New("insufficient frozen balance")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletInactive      = errors.New("wallet is deactivated")
)

// AmountScale is the number of decimal places the numeric(30,8) balance
// columns store.
const AmountScale int32 = 8

// ValidAmount reports whether amount is positive and representable without
// rounding in the balance columns.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Truncate(AmountScale))
}

func invalidAmount(amount decimal.Decimal) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, ErrInvalidAmount, "amount must be positive with at most 8 decimal places").
		WithDetails(map[string]any{"amount": amount.String()})
}

func insufficientBalance(available, requested decimal.Decimal) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInsufficientBalance, "insufficient balance").
		WithDetails(map[string]any{
			"available": available.String(),
			"requested": requested.String(),
		})
}

func insufficientFrozen(frozen, requested decimal.Decimal) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrInsufficientFrozen, "insufficient frozen balance").
		WithDetails(map[string]any{
			"frozen":    frozen.String(),
			"requested": requested.String(),
		})
}

func walletNotFound(userID, currencyID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrWalletNotFound, "wallet not found").
		WithDetails(map[string]any{
			"user_id":     userID.String(),
			"currency_id": currencyID.String(),
		})
}

func walletInactive(walletID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrWalletInactive, "wallet is deactivated").
		WithDetails(map[string]any{"wallet_id": walletID.String()})
}

// IsRejection reports whether err is a business-rule rejection rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientFrozen) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrWalletInactive)
}
