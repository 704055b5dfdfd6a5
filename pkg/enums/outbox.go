package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder          OutboxAggregateType = "order"
	AggregateTaskCompletion OutboxAggregateType = "task_completion"
	AggregateWallet         OutboxAggregateType = "wallet"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateTaskCompletion,
	AggregateWallet,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres. The values double
// as the notification kinds pushed to WebSocket clients.
type OutboxEventType string

const (
	EventOrderCreated   OutboxEventType = "order_created"
	EventOrderMatched   OutboxEventType = "order_matched"
	EventOrderConfirmed OutboxEventType = "order_confirmed"
	EventOrderCompleted OutboxEventType = "order_completed"
	EventOrderCancelled OutboxEventType = "order_cancelled"
	EventOrderExpired   OutboxEventType = "order_expired"
	EventOrderAmended   OutboxEventType = "order_amended"
	EventTaskRewarded   OutboxEventType = "task_rewarded"
	EventWalletDeposit  OutboxEventType = "wallet_deposit"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderMatched,
	EventOrderConfirmed,
	EventOrderCompleted,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderAmended,
	EventTaskRewarded,
	EventWalletDeposit,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
