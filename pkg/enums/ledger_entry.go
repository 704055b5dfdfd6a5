package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type_enum enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryDeposit    LedgerEntryType = "deposit"
	LedgerEntryWithdrawal LedgerEntryType = "withdrawal"
	LedgerEntryTrade      LedgerEntryType = "trade"
	LedgerEntryFee        LedgerEntryType = "fee"
	LedgerEntryReward     LedgerEntryType = "reward"
	LedgerEntryFreeze     LedgerEntryType = "freeze"
	LedgerEntryUnfreeze   LedgerEntryType = "unfreeze"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryDeposit,
	LedgerEntryWithdrawal,
	LedgerEntryTrade,
	LedgerEntryFee,
	LedgerEntryReward,
	LedgerEntryFreeze,
	LedgerEntryUnfreeze,
}

// IsValid reports whether the value matches the canonical ledger entry enum.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsBucketMove reports whether the type only moves funds between available and frozen.
func (t LedgerEntryType) IsBucketMove() bool {
	return t == LedgerEntryFreeze || t == LedgerEntryUnfreeze
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerEntryStatus maps to the ledger_entry_status_enum enum in Postgres.
type LedgerEntryStatus string

const (
	LedgerEntryPending   LedgerEntryStatus = "pending"
	LedgerEntryConfirmed LedgerEntryStatus = "confirmed"
	LedgerEntryFailed    LedgerEntryStatus = "failed"
	LedgerEntryCancelled LedgerEntryStatus = "cancelled"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryPending,
	LedgerEntryConfirmed,
	LedgerEntryFailed,
	LedgerEntryCancelled,
}

// IsValid reports whether the value matches the canonical ledger entry status enum.
func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerEntryStatus converts raw input into LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}
