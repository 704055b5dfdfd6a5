package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/config"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

const expiredReason = "expired"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// eventEmitter receives lifecycle events after commit. Emit must not block
// on or report delivery failures.
type eventEmitter interface {
	Emit(ctx context.Context, event payloads.LifecycleEvent)
}

// Service runs the order lifecycle: every transition is a compare-and-swap on
// the status column plus its ledger side effects in one transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Amend(ctx context.Context, input AmendInput) (*models.Order, error)
	Claim(ctx context.Context, input TransitionInput) (*models.Order, error)
	Confirm(ctx context.Context, input TransitionInput) (*models.Order, error)
	Complete(ctx context.Context, input TransitionInput) (*models.Order, error)
	Cancel(ctx context.Context, input TransitionInput) (*models.Order, error)
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (ExpireResult, error)
	Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error)
	CanView(ctx context.Context, orderID, userID uuid.UUID, role enums.Role) (bool, error)
	ListMine(ctx context.Context, actor Actor, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error)
	ListPending(ctx context.Context, actor Actor, params pagination.Params) (pagination.Page[models.Order], error)
}

// ServiceParams groups the order service dependencies.
type ServiceParams struct {
	Repository Repository
	Tx         txRunner
	Ledger     ledger.Service
	Events     eventEmitter
	Logger     *logger.Logger
	Metrics    *metrics.OrderMetrics
	Limits     map[uuid.UUID]config.AmountRange
	Clock      func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	ledger  ledger.Service
	events  eventEmitter
	logg    *logger.Logger
	metrics *metrics.OrderMetrics
	limits  map[uuid.UUID]config.AmountRange
	now     func() time.Time
}

// NewService builds the order lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	limits := params.Limits
	if limits == nil {
		limits = map[uuid.UUID]config.AmountRange{}
	}
	return &service{
		repo:    params.Repository,
		tx:      params.Tx,
		ledger:  params.Ledger,
		events:  params.Events,
		logg:    params.Logger,
		metrics: params.Metrics,
		limits:  limits,
		now:     clock,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (order *models.Order, err error) {
	defer func() { s.observe(enums.OrderStatusPending, err) }()
	if input.Actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order type")
	}
	if input.CurrencyID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency id required")
	}
	if input.QuoteCurrencyID != nil {
		if input.Type != enums.OrderTypeBuy {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote currency is only supported on buy orders")
		}
		if *input.QuoteCurrencyID == input.CurrencyID || *input.QuoteCurrencyID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quote currency must differ from the order currency")
		}
	}
	if err := s.validateTerms(input.CurrencyID, input.Amount, input.Price); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	order = &models.Order{
		ID:              uuid.New(),
		UserID:          input.Actor.UserID,
		CurrencyID:      input.CurrencyID,
		QuoteCurrencyID: input.QuoteCurrencyID,
		Type:            input.Type,
		Status:          enums.OrderStatusPending,
		Amount:          input.Amount,
		Price:           input.Price,
		TotalValue:      totalValue(input.Amount, input.Price),
		PaymentMethod:   input.PaymentMethod,
		Notes:           input.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if h := initiatorHold(order); h != nil {
			return s.ledger.WithTx(tx).Freeze(ctx, h.input(order.ID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, enums.EventOrderCreated, order, order.UserID, nil)
	return order, nil
}

func (s *service) Amend(ctx context.Context, input AmendInput) (order *models.Order, err error) {
	defer func() { s.observe(enums.OrderStatusPending, err) }()
	if input.Amount == nil && input.Price == nil && input.PaymentMethod == nil && input.Notes == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to amend")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if current.UserID != input.Actor.UserID {
			return forbidden("only the initiator can amend an order")
		}
		if current.Status != enums.OrderStatusPending {
			return invalidTransition(current.Status, enums.OrderStatusPending)
		}

		before := initiatorHold(current)
		amount, price := current.Amount, current.Price
		if input.Amount != nil {
			amount = *input.Amount
		}
		if input.Price != nil {
			price = *input.Price
		}
		if err := s.validateTerms(current.CurrencyID, amount, price); err != nil {
			return err
		}

		current.Amount = amount
		current.Price = price
		current.TotalValue = totalValue(amount, price)
		if input.PaymentMethod != nil {
			current.PaymentMethod = input.PaymentMethod
		}
		if input.Notes != nil {
			current.Notes = input.Notes
		}
		current.UpdatedAt = s.now().UTC()

		swapped, err := repo.UpdateIfStatus(ctx, current.ID, enums.OrderStatusPending, map[string]any{
			"amount":         current.Amount,
			"price":          current.Price,
			"total_value":    current.TotalValue,
			"payment_method": current.PaymentMethod,
			"notes":          current.Notes,
			"updated_at":     current.UpdatedAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "amend order")
		}
		if !swapped {
			return orderNotPending(current.ID)
		}

		if err := s.adjustHold(ctx, tx, current, before, initiatorHold(current)); err != nil {
			return err
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, enums.EventOrderAmended, order, order.UserID, nil)
	return order, nil
}

// adjustHold moves the initiator's frozen amount from before to after. Both
// holds share user and currency because amendments cannot change either.
func (s *service) adjustHold(ctx context.Context, tx *gorm.DB, order *models.Order, before, after *hold) error {
	if before == nil || after == nil {
		return nil
	}
	delta := after.amount.Sub(before.amount)
	led := s.ledger.WithTx(tx)
	switch {
	case delta.IsPositive():
		return led.Freeze(ctx, hold{userID: after.userID, currencyID: after.currencyID, amount: delta}.input(order.ID))
	case delta.IsNegative():
		if err := led.Unfreeze(ctx, hold{userID: after.userID, currencyID: after.currencyID, amount: delta.Neg()}.input(order.ID)); err != nil {
			return s.invariant(ctx, order, "amend release failed", err)
		}
	}
	return nil
}

func (s *service) Claim(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if !input.Actor.Role.CanFulfillOrders() {
		err := forbidden("only agents can claim orders")
		s.observe(enums.OrderStatusMatched, err)
		return nil, err
	}
	return s.transition(ctx, input, transition{
		to:    enums.OrderStatusMatched,
		event: enums.EventOrderMatched,
		guard: func(order *models.Order, actor Actor) error {
			if order.UserID == actor.UserID {
				return forbidden("cannot claim your own order")
			}
			return nil
		},
		rejectFrom: func(order *models.Order) error { return orderNotPending(order.ID) },
		updates: func(_ *models.Order, actor Actor, now time.Time) map[string]any {
			return map[string]any{"agent_id": actor.UserID, "matched_at": now}
		},
		effect: func(ctx context.Context, tx *gorm.DB, order *models.Order, _ enums.OrderStatus) error {
			if h := agentHold(order); h != nil {
				return s.ledger.WithTx(tx).Freeze(ctx, h.input(order.ID))
			}
			return nil
		},
	})
}

func (s *service) Confirm(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, transition{
		to:    enums.OrderStatusConfirmed,
		event: enums.EventOrderConfirmed,
		guard: func(order *models.Order, actor Actor) error {
			if order.AgentID == nil || *order.AgentID != actor.UserID {
				return forbidden("only the matched agent can confirm payment")
			}
			return nil
		},
		updates: func(_ *models.Order, _ Actor, now time.Time) map[string]any {
			return map[string]any{"confirmed_at": now}
		},
	})
}

func (s *service) Complete(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, transition{
		to:    enums.OrderStatusCompleted,
		event: enums.EventOrderCompleted,
		guard: func(order *models.Order, actor Actor) error {
			if actor.isAdmin() || order.UserID == actor.UserID || (order.AgentID != nil && *order.AgentID == actor.UserID) {
				return nil
			}
			return forbidden("only order parties can complete an order")
		},
		updates: func(_ *models.Order, _ Actor, now time.Time) map[string]any {
			return map[string]any{"completed_at": now}
		},
		effect: func(ctx context.Context, tx *gorm.DB, order *models.Order, _ enums.OrderStatus) error {
			led := s.ledger.WithTx(tx)
			for _, leg := range settlementLegs(order) {
				if _, _, err := led.Settle(ctx, leg); err != nil {
					return s.invariant(ctx, order, "order settlement failed", err)
				}
			}
			return nil
		},
	})
}

func (s *service) Cancel(ctx context.Context, input TransitionInput) (*models.Order, error) {
	return s.transition(ctx, input, s.cancelTransition(enums.EventOrderCancelled))
}

func (s *service) cancelTransition(event enums.OutboxEventType) transition {
	return transition{
		to:    enums.OrderStatusCancelled,
		event: event,
		guard: func(order *models.Order, actor Actor) error {
			if actor.isAdmin() || order.UserID == actor.UserID {
				return nil
			}
			return forbidden("only the initiator can cancel an order")
		},
		updates: func(_ *models.Order, actor Actor, now time.Time) map[string]any {
			return map[string]any{"cancelled_at": now}
		},
		effect: func(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error {
			led := s.ledger.WithTx(tx)
			for _, h := range heldFunds(order, from) {
				if err := led.Unfreeze(ctx, h.input(order.ID)); err != nil {
					return s.invariant(ctx, order, "order release failed", err)
				}
			}
			return nil
		},
	}
}

// ExpirePending cancels pending orders created before cutoff. Orders that
// change state while the sweep runs are skipped.
func (s *service) ExpirePending(ctx context.Context, cutoff time.Time, limit int) (ExpireResult, error) {
	var result ExpireResult
	if limit <= 0 {
		limit = pagination.MaxLimit
	}
	stale, err := s.repo.ListPendingBefore(ctx, cutoff.UTC(), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale orders")
	}
	result.Scanned = len(stale)

	reason := expiredReason
	var errs error
	for _, order := range stale {
		_, err := s.transition(ctx, TransitionInput{Actor: systemActor, OrderID: order.ID, Reason: &reason}, s.cancelTransition(enums.EventOrderExpired))
		switch {
		case err == nil:
			result.Expired++
		case errors.Is(err, ErrInvalidTransition):
			result.Skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
		}
	}
	return result, errs
}

// transition describes one edge of the state machine.
type transition struct {
	to    enums.OrderStatus
	event enums.OutboxEventType
	// guard runs after the state check, so a wrong-state request reports
	// the state conflict even for an unauthorized actor.
	guard      func(order *models.Order, actor Actor) error
	rejectFrom func(order *models.Order) error
	updates    func(order *models.Order, actor Actor, now time.Time) map[string]any
	effect     func(ctx context.Context, tx *gorm.DB, order *models.Order, from enums.OrderStatus) error
}

func (s *service) transition(ctx context.Context, input TransitionInput, t transition) (order *models.Order, err error) {
	defer func() { s.observe(t.to, err) }()
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if !s.visible(current, input.Actor) {
			return forbidden("not a party to this order")
		}
		from := current.Status
		if !CanTransition(from, t.to) {
			if t.rejectFrom != nil {
				return t.rejectFrom(current)
			}
			return invalidTransition(from, t.to)
		}
		if t.guard != nil {
			if err := t.guard(current, input.Actor); err != nil {
				return err
			}
		}

		now := s.now().UTC()
		updates := map[string]any{}
		if t.updates != nil {
			updates = t.updates(current, input.Actor, now)
		}
		updates["status"] = t.to
		updates["updated_at"] = now
		if t.to == enums.OrderStatusCancelled && input.Reason != nil {
			updates["cancel_reason"] = *input.Reason
		}

		swapped, err := repo.UpdateIfStatus(ctx, current.ID, from, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !swapped {
			if t.rejectFrom != nil {
				return t.rejectFrom(current)
			}
			return invalidTransition(from, t.to)
		}

		updated, err := s.load(ctx, repo, current.ID)
		if err != nil {
			return err
		}
		if t.effect != nil {
			if err := t.effect(ctx, tx, updated, from); err != nil {
				return err
			}
		}
		order = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	actorID := input.Actor.UserID
	if actorID == uuid.Nil {
		actorID = order.UserID
	}
	s.emit(ctx, t.event, order, actorID, input.Reason)
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor Actor) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !s.visible(order, actor) {
		return nil, forbidden("not a party to this order")
	}
	return order, nil
}

func (s *service) CanView(ctx context.Context, orderID, userID uuid.UUID, role enums.Role) (bool, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.visible(order, Actor{UserID: userID, Role: role}), nil
}

func (s *service) ListMine(ctx context.Context, actor Actor, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	if actor.UserID == uuid.Nil {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	return s.list(ctx, listQuery{ParticipantID: &actor.UserID, Status: filter.Status, Type: filter.Type}, params)
}

func (s *service) ListPending(ctx context.Context, actor Actor, params pagination.Params) (pagination.Page[models.Order], error) {
	if !actor.Role.CanFulfillOrders() {
		return pagination.Page[models.Order]{}, forbidden("only agents can browse the order queue")
	}
	pending := enums.OrderStatusPending
	query := listQuery{Status: &pending}
	if actor.UserID != uuid.Nil {
		query.ExcludeUserID = &actor.UserID
	}
	return s.list(ctx, query, params)
}

func (s *service) list(ctx context.Context, query listQuery, params pagination.Params) (pagination.Page[models.Order], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, limit, err := s.repo.List(ctx, query, params)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.Build(rows, limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// visible reports whether actor may read the order: its parties, plus agents
// and admins who work the queue.
func (s *service) visible(order *models.Order, actor Actor) bool {
	if actor.Role.CanFulfillOrders() {
		return true
	}
	if order.UserID == actor.UserID {
		return true
	}
	return order.AgentID != nil && *order.AgentID == actor.UserID
}

func (s *service) validateTerms(currencyID uuid.UUID, amount, price decimal.Decimal) error {
	if !ledger.ValidAmount(amount) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ledger.ErrInvalidAmount, "amount must be positive with at most 8 decimal places").
			WithDetails(map[string]any{"amount": amount.String()})
	}
	if !ledger.ValidAmount(price) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ledger.ErrInvalidAmount, "price must be positive with at most 8 decimal places").
			WithDetails(map[string]any{"price": price.String()})
	}
	limit, ok := s.limits[currencyID]
	if !ok {
		return nil
	}
	if amount.LessThan(limit.Min) || (!limit.Max.IsZero() && amount.GreaterThan(limit.Max)) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ledger.ErrInvalidAmount, "amount outside the allowed range").
			WithDetails(map[string]any{
				"amount": amount.String(),
				"min":    limit.Min.String(),
				"max":    limit.Max.String(),
			})
	}
	return nil
}

func totalValue(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Round(ledger.AmountScale)
}

// invariant reports a ledger failure on a step that validated state should
// make impossible.
func (s *service) invariant(ctx context.Context, order *models.Order, msg string, err error) error {
	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithField(logCtx, "order_status", order.Status)
	s.logg.Error(logCtx, msg, err)
	return pkgerrors.Wrap(pkgerrors.CodeInvariant, err, msg)
}

func (s *service) observe(to enums.OrderStatus, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveTransition(string(to), metrics.ResultOK)
	case isRejection(err):
		s.metrics.ObserveTransition(string(to), metrics.ResultRejected)
	default:
		s.metrics.ObserveTransition(string(to), metrics.ResultError)
	}
}

func (s *service) emit(ctx context.Context, kind enums.OutboxEventType, order *models.Order, actorID uuid.UUID, reason *string) {
	orderID := order.ID
	event := payloads.LifecycleEvent{
		Kind:       kind,
		OrderID:    &orderID,
		ActorID:    actorID,
		Timestamp:  s.now().UTC(),
		Recipients: []uuid.UUID{order.UserID},
		Details: map[string]string{
			"status": string(order.Status),
			"type":   string(order.Type),
		},
	}
	if order.AgentID != nil {
		event.Recipients = append(event.Recipients, *order.AgentID)
	}
	switch {
	case actorID != order.UserID:
		initiator := order.UserID
		event.CounterpartyID = &initiator
	case order.AgentID != nil:
		agent := *order.AgentID
		event.CounterpartyID = &agent
	}
	if reason != nil {
		event.Details["reason"] = *reason
	}
	s.events.Emit(ctx, event)
}
