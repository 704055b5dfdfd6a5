package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
)

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:   {enums.OrderStatusMatched, enums.OrderStatusCancelled},
	enums.OrderStatusMatched:   {enums.OrderStatusConfirmed, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed: {enums.OrderStatusCompleted, enums.OrderStatusCancelled},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// hold is an amount one party keeps frozen for the lifetime of an order.
type hold struct {
	userID     uuid.UUID
	currencyID uuid.UUID
	amount     decimal.Decimal
}

func (h hold) input(orderID uuid.UUID) ledger.HoldInput {
	return ledger.HoldInput{
		UserID:     h.userID,
		CurrencyID: h.currencyID,
		Amount:     h.amount,
		OrderID:    &orderID,
	}
}

// initiatorHold is frozen at creation: the base amount for sells, the quote
// value for buys that name a quote currency.
func initiatorHold(order *models.Order) *hold {
	switch {
	case order.Type == enums.OrderTypeSell:
		return &hold{userID: order.UserID, currencyID: order.CurrencyID, amount: order.Amount}
	case order.QuoteCurrencyID != nil:
		return &hold{userID: order.UserID, currencyID: *order.QuoteCurrencyID, amount: order.TotalValue}
	default:
		return nil
	}
}

// agentHold is frozen at claim time for buy orders.
func agentHold(order *models.Order) *hold {
	if order.Type != enums.OrderTypeBuy || order.AgentID == nil {
		return nil
	}
	return &hold{userID: *order.AgentID, currencyID: order.CurrencyID, amount: order.Amount}
}

// heldFunds lists what is frozen while the order sits in status.
func heldFunds(order *models.Order, status enums.OrderStatus) []hold {
	var holds []hold
	if h := initiatorHold(order); h != nil {
		holds = append(holds, *h)
	}
	if status == enums.OrderStatusMatched || status == enums.OrderStatusConfirmed {
		if h := agentHold(order); h != nil {
			holds = append(holds, *h)
		}
	}
	return holds
}

// settlementLegs lists the frozen-to-available moves that complete an order.
func settlementLegs(order *models.Order) []ledger.SettleInput {
	if order.AgentID == nil {
		return nil
	}
	agentID := *order.AgentID
	base := ledger.SettleInput{
		CurrencyID: order.CurrencyID,
		Amount:     order.Amount,
		OrderID:    order.ID,
	}
	if order.Type == enums.OrderTypeSell {
		base.FromUserID, base.ToUserID = order.UserID, agentID
	} else {
		base.FromUserID, base.ToUserID = agentID, order.UserID
	}
	legs := []ledger.SettleInput{base}
	if order.QuoteCurrencyID != nil {
		legs = append(legs, ledger.SettleInput{
			FromUserID: order.UserID,
			ToUserID:   agentID,
			CurrencyID: *order.QuoteCurrencyID,
			Amount:     order.TotalValue,
			OrderID:    order.ID,
		})
	}
	return legs
}
