package wallets

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/api/middleware"
	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/api/validators"
	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// List returns every wallet of the caller.
func List(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallets, err := svc.Wallets(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]walletResponse, 0, len(wallets))
		for _, wallet := range wallets {
			out = append(out, newWalletResponse(wallet))
		}
		responses.WriteSuccess(w, out)
	}
}

// Detail returns the caller's balance in one currency. Missing wallets read as zero.
func Detail(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currencyID, err := validators.ParseUUIDParam(r, "currencyId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.Balance(r.Context(), userID, currencyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newWalletResponse(*wallet))
	}
}

// Entries pages through the caller's ledger history, newest first.
func Entries(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter, err := buildEntryFilter(r, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.Entries(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.Map(page, func(e models.LedgerEntry) entryResponse {
			return newEntryResponse(e)
		}))
	}
}

func buildEntryFilter(r *http.Request, userID uuid.UUID) (ledger.EntryFilter, error) {
	filter := ledger.EntryFilter{UserID: userID}

	currencyID, err := validators.ParseQueryUUID(r, "currency_id")
	if err != nil {
		return filter, err
	}
	filter.CurrencyID = currencyID

	orderID, err := validators.ParseQueryUUID(r, "order_id")
	if err != nil {
		return filter, err
	}
	filter.OrderID = orderID

	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		entryType, err := enums.ParseLedgerEntryType(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entry type").WithDetails(map[string]any{"field": "type"})
		}
		filter.Type = &entryType
	}
	return filter, nil
}

func callerID(r *http.Request) (uuid.UUID, error) {
	userID, _, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return userID, nil
}
