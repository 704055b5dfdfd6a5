package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// Repository manages persistence for wallets and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWallet(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error)
	LockWallet(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error)
	EnsureWallet(ctx context.Context, userID, currencyID uuid.UUID) error
	UpdateBalances(ctx context.Context, wallet *models.Wallet) error
	UpdateActive(ctx context.Context, walletID uuid.UUID, active bool) error
	ListWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error)
	ListWalletsAfter(ctx context.Context, after uuid.UUID, limit int) ([]models.Wallet, error)
	CreateEntry(ctx context.Context, entry *models.LedgerEntry) error
	FindEntryByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, filter EntryFilter, params pagination.Params) ([]models.LedgerEntry, int, error)
	SumConfirmed(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, decimal.Decimal, error)
}

// EntryFilter narrows an entry history listing.
type EntryFilter struct {
	UserID     uuid.UUID
	CurrencyID *uuid.UUID
	Type       *enums.LedgerEntryType
	OrderID    *uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindWallet(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency_id = ?", userID, currencyID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// LockWallet reads the wallet row with SELECT ... FOR UPDATE. Callers must be
// inside a transaction for the lock to be held until commit.
func (r *repository) LockWallet(ctx context.Context, userID, currencyID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency_id = ?", userID, currencyID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

// EnsureWallet inserts a zero balance wallet unless one already exists.
func (r *repository) EnsureWallet(ctx context.Context, userID, currencyID uuid.UUID) error {
	wallet := models.Wallet{
		ID:         uuid.New(),
		UserID:     userID,
		CurrencyID: currencyID,
		Available:  decimal.Zero,
		Frozen:     decimal.Zero,
		IsActive:   true,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency_id"}},
			DoNothing: true,
		}).
		Create(&wallet).Error
}

func (r *repository) UpdateBalances(ctx context.Context, wallet *models.Wallet) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", wallet.ID).
		Updates(map[string]any{
			"available":  wallet.Available,
			"frozen":     wallet.Frozen,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) UpdateActive(ctx context.Context, walletID uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]any{
			"is_active":  active,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) ListWallets(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	var wallets []models.Wallet
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *repository) ListWalletsAfter(ctx context.Context, after uuid.UUID, limit int) ([]models.Wallet, error) {
	var wallets []models.Wallet
	query := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	if err := query.Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindEntryByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListEntries(ctx context.Context, filter EntryFilter, params pagination.Params) ([]models.LedgerEntry, int, error) {
	query := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("ledger_entries.user_id = ?", filter.UserID)
	if filter.CurrencyID != nil {
		query = query.Where("ledger_entries.currency_id = ?", *filter.CurrencyID)
	}
	if filter.Type != nil {
		query = query.Where("ledger_entries.type = ?", *filter.Type)
	}
	if filter.OrderID != nil {
		query = query.Where("ledger_entries.order_id = ?", *filter.OrderID)
	}

	query, limit, err := pagination.Apply(query, params, "ledger_entries")
	if err != nil {
		return nil, 0, err
	}

	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, limit, nil
}

// SumConfirmed returns the total and frozen balances implied by the confirmed
// entries of a wallet.
func (r *repository) SumConfirmed(ctx context.Context, walletID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	var sums struct {
		Total  decimal.Decimal
		Frozen decimal.Decimal
	}
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0) AS total, COALESCE(SUM(frozen_delta), 0) AS frozen").
		Where("wallet_id = ? AND status = ?", walletID, enums.LedgerEntryConfirmed).
		Scan(&sums).Error; err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return sums.Total, sums.Frozen, nil
}
