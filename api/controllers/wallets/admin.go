package wallets

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/api/validators"
	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
)

// AdminCredit adds funds to a user's wallet. The entry type defaults to deposit.
func AdminCredit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminMutation(svc, logg, enums.LedgerEntryDeposit, svc.Credit)
}

// AdminDebit removes available funds. The entry type defaults to withdrawal.
func AdminDebit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminMutation(svc, logg, enums.LedgerEntryWithdrawal, svc.Debit)
}

// AdminFreeze moves available funds into the frozen bucket.
func AdminFreeze(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminHold(svc, logg, svc.Freeze)
}

// AdminUnfreeze releases frozen funds back to available.
func AdminUnfreeze(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return adminHold(svc, logg, svc.Unfreeze)
}

type mutateFunc func(ctx context.Context, input ledger.MutationInput) (*models.LedgerEntry, error)

type holdFunc func(ctx context.Context, input ledger.HoldInput) error

func adminMutation(svc ledger.Service, logg *logger.Logger, defaultType enums.LedgerEntryType, mutate mutateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, currencyID, err := walletParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req mutationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseDecimal("amount", req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryType := defaultType
		if req.Type != "" {
			entryType = enums.LedgerEntryType(req.Type)
		}

		entry, err := mutate(r.Context(), ledger.MutationInput{
			UserID:         userID,
			CurrencyID:     currencyID,
			Amount:         amount,
			Type:           entryType,
			OrderID:        req.OrderID,
			Metadata:       req.Metadata,
			IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeBalance(w, r, svc, logg, userID, currencyID, entry)
	}
}

func adminHold(svc ledger.Service, logg *logger.Logger, hold holdFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, currencyID, err := walletParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req holdRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseDecimal("amount", req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := hold(r.Context(), ledger.HoldInput{
			UserID:     userID,
			CurrencyID: currencyID,
			Amount:     amount,
			OrderID:    req.OrderID,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeBalance(w, r, svc, logg, userID, currencyID, nil)
	}
}

// AdminSetStatus activates or deactivates a wallet.
func AdminSetStatus(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, currencyID, err := walletParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.SetActive(r.Context(), userID, currencyID, *req.IsActive)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"wallet_id": wallet.ID.String(),
				"is_active": wallet.IsActive,
			})
			logg.Info(ctx, "wallet.status.updated")
		}
		responses.WriteSuccess(w, newWalletResponse(*wallet))
	}
}

const defaultDepositProvider = "default"

// Deposit credits a verified provider deposit. Redelivery of the same
// reference returns the original entry instead of crediting twice.
func Deposit(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req depositRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseDecimal("amount", req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		metadata, err := depositMetadata(req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Credit(r.Context(), ledger.MutationInput{
			UserID:         req.UserID,
			CurrencyID:     req.CurrencyID,
			Amount:         amount,
			Type:           enums.LedgerEntryDeposit,
			Metadata:       metadata,
			IdempotencyKey: depositKey(req),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"entry_id":  entry.ID.String(),
				"reference": req.Reference,
			})
			logg.Info(ctx, "ledger.deposit.credited")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEntryResponse(*entry))
	}
}

// depositKey scopes the provider reference so it cannot collide with keys
// chosen by admin mutations or with another provider's transaction ids.
func depositKey(req depositRequest) string {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = defaultDepositProvider
	}
	return "deposit:" + provider + ":" + strings.TrimSpace(req.Reference)
}

func depositMetadata(req depositRequest) (json.RawMessage, error) {
	meta := map[string]any{"reference": req.Reference}
	if req.Provider != "" {
		meta["provider"] = req.Provider
	}
	if len(req.Metadata) > 0 {
		var extra map[string]any
		if err := json.Unmarshal(req.Metadata, &extra); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "metadata must be an object").WithDetails(map[string]any{"field": "metadata"})
		}
		for k, v := range extra {
			if _, reserved := meta[k]; !reserved {
				meta[k] = v
			}
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode metadata")
	}
	return raw, nil
}

type balanceResponse struct {
	Wallet walletResponse `json:"wallet"`
	Entry  *entryResponse `json:"entry,omitempty"`
}

func writeBalance(w http.ResponseWriter, r *http.Request, svc ledger.Service, logg *logger.Logger, userID, currencyID uuid.UUID, entry *models.LedgerEntry) {
	wallet, err := svc.Balance(r.Context(), userID, currencyID)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	resp := balanceResponse{Wallet: newWalletResponse(*wallet)}
	if entry != nil {
		e := newEntryResponse(*entry)
		resp.Entry = &e
	}
	responses.WriteSuccess(w, resp)
}

func walletParams(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	userID, err := validators.ParseUUIDParam(r, "userId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	currencyID, err := validators.ParseUUIDParam(r, "currencyId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, currencyID, nil
}
