package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/api/middleware"
	"github.com/angelmondragon/p2pex-backend/api/responses"
	"github.com/angelmondragon/p2pex-backend/api/validators"
	internalorders "github.com/angelmondragon/p2pex-backend/internal/orders"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// Create opens a new pending order for the caller.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := validators.ParseDecimal("amount", req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		price, err := validators.ParseDecimal("price", req.Price)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			Actor:           actor,
			Type:            enums.OrderType(req.Type),
			CurrencyID:      req.CurrencyID,
			QuoteCurrencyID: req.QuoteCurrencyID,
			Amount:          amount,
			Price:           price,
			PaymentMethod:   trimmed(req.PaymentMethod),
			Notes:           trimmed(req.Notes),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(*order))
	}
}

// List returns the caller's orders as initiator or agent.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := buildListFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListMine(r.Context(), actor, filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPage(page))
	}
}

// Pending returns the open order book for agents.
func Pending(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListPending(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPage(page))
	}
}

// Detail returns one order visible to the caller.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

// Amend changes the terms of the caller's pending order.
func Amend(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req amendOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := internalorders.AmendInput{
			Actor:         actor,
			OrderID:       orderID,
			PaymentMethod: trimmed(req.PaymentMethod),
			Notes:         trimmed(req.Notes),
		}
		if input.Amount, err = optionalDecimal("amount", req.Amount); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if input.Price, err = optionalDecimal("price", req.Price); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Amend(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

type transitionFunc func(ctx context.Context, input internalorders.TransitionInput) (*models.Order, error)

// Claim matches a pending order to the calling agent.
func Claim(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Claim, logg)
}

// Confirm records the agent's confirmation of the off-platform payment.
func Confirm(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Confirm, logg)
}

// Complete settles a confirmed order.
func Complete(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Complete, logg)
}

// Cancel aborts an order before completion and releases held funds.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return transition(svc.Cancel, logg)
}

func transition(apply transitionFunc, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req transitionRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := apply(ctx, internalorders.TransitionInput{
			Actor:   actor,
			OrderID: orderID,
			Reason:  trimmed(req.Reason),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(*order))
	}
}

func buildListFilter(r *http.Request) (internalorders.ListFilter, error) {
	var filter internalorders.ListFilter
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status").WithDetails(map[string]any{"field": "status"})
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		orderType, err := enums.ParseOrderType(raw)
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type").WithDetails(map[string]any{"field": "type"})
		}
		filter.Type = &orderType
	}
	return filter, nil
}

func actorFromRequest(r *http.Request) (internalorders.Actor, error) {
	userID, role, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return internalorders.Actor{UserID: userID, Role: role}, nil
}

func toPage(page pagination.Page[models.Order]) pagination.Page[orderResponse] {
	return pagination.Map(page, newOrderResponse)
}

func optionalDecimal(field string, raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := validators.ParseDecimal(field, *raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := validators.SanitizeString(*value, 0)
	if out == "" {
		return nil
	}
	return &out
}
