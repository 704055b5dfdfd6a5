package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// Service is the only component allowed to change wallet balances. Every
// mutation locks the wallet row and writes exactly one entry per wallet it
// touches.
type Service interface {
	// WithTx binds the service to a caller-owned transaction.
	WithTx(tx *gorm.DB) Service
	Credit(ctx context.Context, input MutationInput) (*models.LedgerEntry, error)
	Debit(ctx context.Context, input MutationInput) (*models.LedgerEntry, error)
	Freeze(ctx context.Context, input HoldInput) error
	Unfreeze(ctx context.Context, input HoldInput) error
	Settle(ctx context.Context, input SettleInput) (*models.LedgerEntry, *models.LedgerEntry, error)
	Balance(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error)
	Wallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error)
	Entries(ctx context.Context, filter EntryFilter, params pagination.Params) (pagination.Page[models.LedgerEntry], error)
	SetActive(ctx context.Context, userID, currencyID uuid.UUID, active bool) (*models.Wallet, error)
	Reconcile(ctx context.Context, after uuid.UUID, limit int) (*ReconcileResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MutationInput describes a credit or debit.
type MutationInput struct {
	UserID     uuid.UUID
	CurrencyID uuid.UUID
	Amount     decimal.Decimal
	Type       enums.LedgerEntryType
	OrderID    *uuid.UUID
	Metadata   json.RawMessage
	// IdempotencyKey makes a retried credit or debit return the original entry.
	IdempotencyKey string
}

// HoldInput describes a freeze or unfreeze.
type HoldInput struct {
	UserID     uuid.UUID
	CurrencyID uuid.UUID
	Amount     decimal.Decimal
	OrderID    *uuid.UUID
}

// SettleInput moves frozen funds of one user to the available balance of another.
type SettleInput struct {
	FromUserID uuid.UUID
	ToUserID   uuid.UUID
	CurrencyID uuid.UUID
	Amount     decimal.Decimal
	OrderID    uuid.UUID
	Metadata   json.RawMessage
}

// Drift describes a wallet whose materialized balance disagrees with its entries.
type Drift struct {
	WalletID     uuid.UUID       `json:"wallet_id"`
	UserID       uuid.UUID       `json:"user_id"`
	CurrencyID   uuid.UUID       `json:"currency_id"`
	WalletTotal  decimal.Decimal `json:"wallet_total"`
	LedgerTotal  decimal.Decimal `json:"ledger_total"`
	WalletFrozen decimal.Decimal `json:"wallet_frozen"`
	LedgerFrozen decimal.Decimal `json:"ledger_frozen"`
}

// ReconcileResult summarizes one reconciliation batch.
type ReconcileResult struct {
	Checked int
	LastID  uuid.UUID
	Drifts  []Drift
}

type service struct {
	repo    Repository
	tx      txRunner
	bound   *gorm.DB
	metrics *metrics.LedgerMetrics
}

// NewService wires a ledger service with the provided repository and transaction runner.
func NewService(repo Repository, tx txRunner, m *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, metrics: m}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.bound = tx
	return &clone
}

// run executes fn inside the bound transaction or a fresh one.
func (s *service) run(ctx context.Context, fn func(repo Repository) error) error {
	if s.bound != nil {
		return fn(s.repo.WithTx(s.bound))
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(s.repo.WithTx(tx))
	})
}

func (s *service) observe(op string, err error) {
	switch {
	case err == nil:
		s.metrics.ObserveMutation(op, metrics.ResultOK)
	case IsRejection(err):
		s.metrics.ObserveMutation(op, metrics.ResultRejected)
	case pkgerrors.CodeOf(err) == pkgerrors.CodeValidation, pkgerrors.CodeOf(err) == pkgerrors.CodeIdempotency:
		s.metrics.ObserveMutation(op, metrics.ResultRejected)
	default:
		s.metrics.ObserveMutation(op, metrics.ResultError)
	}
}

func (s *service) Credit(ctx context.Context, input MutationInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.observe("credit", err) }()
	if err := validateMutation(input); err != nil {
		return nil, err
	}

	err = s.run(ctx, func(repo Repository) error {
		if replay, err := findReplay(ctx, repo, input, input.Amount); err != nil || replay != nil {
			entry = replay
			return err
		}
		if err := repo.EnsureWallet(ctx, input.UserID, input.CurrencyID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
		}
		wallet, err := lockExisting(ctx, repo, input.UserID, input.CurrencyID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return walletInactive(wallet.ID)
		}

		wallet.Available = wallet.Available.Add(input.Amount)
		entry = newEntry(wallet, input.Type, input.Amount, decimal.Zero, input.OrderID, input.Metadata, input.IdempotencyKey)
		return persist(ctx, repo, wallet, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Debit(ctx context.Context, input MutationInput) (entry *models.LedgerEntry, err error) {
	defer func() { s.observe("debit", err) }()
	if err := validateMutation(input); err != nil {
		return nil, err
	}

	err = s.run(ctx, func(repo Repository) error {
		if replay, err := findReplay(ctx, repo, input, input.Amount.Neg()); err != nil || replay != nil {
			entry = replay
			return err
		}
		wallet, err := lockExisting(ctx, repo, input.UserID, input.CurrencyID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return walletInactive(wallet.ID)
		}
		if wallet.Available.LessThan(input.Amount) {
			return insufficientBalance(wallet.Available, input.Amount)
		}

		wallet.Available = wallet.Available.Sub(input.Amount)
		entry = newEntry(wallet, input.Type, input.Amount.Neg(), decimal.Zero, input.OrderID, input.Metadata, input.IdempotencyKey)
		return persist(ctx, repo, wallet, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) Freeze(ctx context.Context, input HoldInput) (err error) {
	defer func() { s.observe("freeze", err) }()
	if !ValidAmount(input.Amount) {
		return invalidAmount(input.Amount)
	}

	return s.run(ctx, func(repo Repository) error {
		wallet, err := lockExisting(ctx, repo, input.UserID, input.CurrencyID)
		if err != nil {
			return err
		}
		if !wallet.IsActive {
			return walletInactive(wallet.ID)
		}
		if wallet.Available.LessThan(input.Amount) {
			return insufficientBalance(wallet.Available, input.Amount)
		}

		wallet.Available = wallet.Available.Sub(input.Amount)
		wallet.Frozen = wallet.Frozen.Add(input.Amount)
		entry := newEntry(wallet, enums.LedgerEntryFreeze, decimal.Zero, input.Amount, input.OrderID, nil, "")
		return persist(ctx, repo, wallet, entry)
	})
}

func (s *service) Unfreeze(ctx context.Context, input HoldInput) (err error) {
	defer func() { s.observe("unfreeze", err) }()
	if !ValidAmount(input.Amount) {
		return invalidAmount(input.Amount)
	}

	return s.run(ctx, func(repo Repository) error {
		wallet, err := repo.LockWallet(ctx, input.UserID, input.CurrencyID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return insufficientFrozen(decimal.Zero, input.Amount)
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
		}
		if wallet.Frozen.LessThan(input.Amount) {
			return insufficientFrozen(wallet.Frozen, input.Amount)
		}

		wallet.Frozen = wallet.Frozen.Sub(input.Amount)
		wallet.Available = wallet.Available.Add(input.Amount)
		entry := newEntry(wallet, enums.LedgerEntryUnfreeze, decimal.Zero, input.Amount.Neg(), input.OrderID, nil, "")
		return persist(ctx, repo, wallet, entry)
	})
}

func (s *service) Settle(ctx context.Context, input SettleInput) (debit *models.LedgerEntry, credit *models.LedgerEntry, err error) {
	defer func() { s.observe("settle", err) }()
	if !ValidAmount(input.Amount) {
		return nil, nil, invalidAmount(input.Amount)
	}
	if input.FromUserID == input.ToUserID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot settle a wallet with itself")
	}

	orderID := input.OrderID
	err = s.run(ctx, func(repo Repository) error {
		if err := repo.EnsureWallet(ctx, input.ToUserID, input.CurrencyID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure wallet")
		}

		// Lock in a stable order so opposite settlements between the same
		// pair of users cannot deadlock.
		first, second := input.FromUserID, input.ToUserID
		if second.String() < first.String() {
			first, second = second, first
		}
		locked := map[uuid.UUID]*models.Wallet{}
		for _, userID := range []uuid.UUID{first, second} {
			wallet, err := repo.LockWallet(ctx, userID, input.CurrencyID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return walletNotFound(userID, input.CurrencyID)
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
			}
			locked[userID] = wallet
		}

		from, to := locked[input.FromUserID], locked[input.ToUserID]
		if from.Frozen.LessThan(input.Amount) {
			return insufficientFrozen(from.Frozen, input.Amount)
		}

		from.Frozen = from.Frozen.Sub(input.Amount)
		debit = newEntry(from, enums.LedgerEntryTrade, input.Amount.Neg(), input.Amount.Neg(), &orderID, input.Metadata, "")
		if err := persist(ctx, repo, from, debit); err != nil {
			return err
		}

		to.Available = to.Available.Add(input.Amount)
		credit = newEntry(to, enums.LedgerEntryTrade, input.Amount, decimal.Zero, &orderID, input.Metadata, "")
		return persist(ctx, repo, to, credit)
	})
	if err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// Balance returns the wallet, or a zero balance placeholder when none exists yet.
func (s *service) Balance(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error) {
	repo := s.repo
	if s.bound != nil {
		repo = repo.WithTx(s.bound)
	}
	wallet, err := repo.FindWallet(ctx, userID, currencyID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Wallet{
			UserID:     userID,
			CurrencyID: currencyID,
			Available:  decimal.Zero,
			Frozen:     decimal.Zero,
			IsActive:   true,
		}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) Wallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	wallets, err := s.repo.ListWallets(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallets")
	}
	if wallets == nil {
		wallets = []models.Wallet{}
	}
	return wallets, nil
}

func (s *service) Entries(ctx context.Context, filter EntryFilter, params pagination.Params) (pagination.Page[models.LedgerEntry], error) {
	if filter.UserID == uuid.Nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, limit, err := s.repo.ListEntries(ctx, filter, params)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list entries")
	}
	return pagination.Build(rows, limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) SetActive(ctx context.Context, userID, currencyID uuid.UUID, active bool) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.run(ctx, func(repo Repository) error {
		locked, err := lockExisting(ctx, repo, userID, currencyID)
		if err != nil {
			return err
		}
		if err := repo.UpdateActive(ctx, locked.ID, active); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet status")
		}
		locked.IsActive = active
		wallet = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// Reconcile compares the next batch of wallets (ordered by id, after the given
// id) against the sums of their confirmed entries.
func (s *service) Reconcile(ctx context.Context, after uuid.UUID, limit int) (*ReconcileResult, error) {
	if limit <= 0 {
		limit = 100
	}
	wallets, err := s.repo.ListWalletsAfter(ctx, after, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list wallets")
	}

	result := &ReconcileResult{LastID: after}
	for _, candidate := range wallets {
		err := s.run(ctx, func(repo Repository) error {
			wallet, err := repo.LockWallet(ctx, candidate.UserID, candidate.CurrencyID)
			if err != nil {
				return err
			}
			total, frozen, err := repo.SumConfirmed(ctx, wallet.ID)
			if err != nil {
				return err
			}
			if !total.Equal(wallet.Total()) || !frozen.Equal(wallet.Frozen) {
				result.Drifts = append(result.Drifts, Drift{
					WalletID:     wallet.ID,
					UserID:       wallet.UserID,
					CurrencyID:   wallet.CurrencyID,
					WalletTotal:  wallet.Total(),
					LedgerTotal:  total,
					WalletFrozen: wallet.Frozen,
					LedgerFrozen: frozen,
				})
			}
			return nil
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reconcile wallet")
		}
		result.Checked++
		result.LastID = candidate.ID
	}
	return result, nil
}

func validateMutation(input MutationInput) error {
	if input.UserID == uuid.Nil || input.CurrencyID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id and currency id are required")
	}
	if !input.Type.IsValid() || input.Type.IsBucketMove() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if !ValidAmount(input.Amount) {
		return invalidAmount(input.Amount)
	}
	return nil
}

func lockExisting(ctx context.Context, repo Repository, userID, currencyID uuid.UUID) (*models.Wallet, error) {
	wallet, err := repo.LockWallet(ctx, userID, currencyID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, walletNotFound(userID, currencyID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock wallet")
	}
	return wallet, nil
}

// findReplay returns the entry previously written under the same idempotency
// key, rejecting reuse of a key for a different mutation.
func findReplay(ctx context.Context, repo Repository, input MutationInput, signed decimal.Decimal) (*models.LedgerEntry, error) {
	if input.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := repo.FindEntryByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup idempotency key")
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != input.UserID ||
		existing.CurrencyID != input.CurrencyID ||
		existing.Type != input.Type ||
		!existing.Amount.Equal(signed) {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused for a different mutation")
	}
	return existing, nil
}

func persist(ctx context.Context, repo Repository, wallet *models.Wallet, entry *models.LedgerEntry) error {
	if wallet.Available.IsNegative() || wallet.Frozen.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeInvariant, "wallet balance would become negative")
	}
	if err := repo.UpdateBalances(ctx, wallet); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update wallet balances")
	}
	if err := repo.CreateEntry(ctx, entry); err != nil {
		if entry.IdempotencyKey != nil && db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeIdempotency, err, "idempotency key already used")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert ledger entry")
	}
	return nil
}

func newEntry(wallet *models.Wallet, entryType enums.LedgerEntryType, amount, frozenDelta decimal.Decimal, orderID *uuid.UUID, metadata json.RawMessage, key string) *models.LedgerEntry {
	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    wallet.ID,
		UserID:      wallet.UserID,
		CurrencyID:  wallet.CurrencyID,
		OrderID:     orderID,
		Type:        entryType,
		Status:      enums.LedgerEntryConfirmed,
		Amount:      amount,
		FrozenDelta: frozenDelta,
	}
	if len(bytes.TrimSpace(metadata)) > 0 {
		entry.Metadata = metadata
	}
	if key != "" {
		entry.IdempotencyKey = &key
	}
	return entry
}
