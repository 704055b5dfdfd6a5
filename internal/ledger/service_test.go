package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/db/dbtest"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), metrics.NewLedgerMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)
	return svc, conn
}

func requireBalance(t *testing.T, svc Service, userID, currencyID uuid.UUID, available, frozen string) {
	t.Helper()
	wallet, err := svc.Balance(context.Background(), userID, currencyID)
	require.NoError(t, err)
	require.Truef(t, wallet.Available.Equal(dec(available)), "available: want %s got %s", available, wallet.Available)
	require.Truef(t, wallet.Frozen.Equal(dec(frozen)), "frozen: want %s got %s", frozen, wallet.Frozen)
}

func deposit(t *testing.T, svc Service, userID, currencyID uuid.UUID, amount string) *models.LedgerEntry {
	t.Helper()
	entry, err := svc.Credit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec(amount),
		Type:       enums.LedgerEntryDeposit,
	})
	require.NoError(t, err)
	return entry
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil)
	require.Error(t, err)

	conn := dbtest.Open(t)
	_, err = NewService(NewRepository(conn), nil, nil)
	require.Error(t, err)
}

func TestCreditCreatesWalletLazily(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()

	requireBalance(t, svc, userID, currencyID, "0", "0")

	entry, err := svc.Credit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec("100"),
		Type:       enums.LedgerEntryDeposit,
		Metadata:   json.RawMessage(`{"provider":"nowpayments","tx":"abc"}`),
	})
	require.NoError(t, err)
	require.Equal(t, enums.LedgerEntryConfirmed, entry.Status)
	require.True(t, entry.Amount.Equal(dec("100")))
	require.True(t, entry.FrozenDelta.IsZero())
	require.NotEqual(t, uuid.Nil, entry.WalletID)

	requireBalance(t, svc, userID, currencyID, "100", "0")
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()

	for _, amount := range []string{"0", "-5"} {
		_, err := svc.Credit(context.Background(), MutationInput{
			UserID:     userID,
			CurrencyID: currencyID,
			Amount:     dec(amount),
			Type:       enums.LedgerEntryDeposit,
		})
		require.ErrorIs(t, err, ErrInvalidAmount)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}

	_, err := svc.Credit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec("1"),
		Type:       enums.LedgerEntryFreeze,
	})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestMutationsRejectAmountsBeyondEightDecimals(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "10")
	tooFine := dec("0.000000001")

	_, err := svc.Credit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     tooFine,
		Type:       enums.LedgerEntryDeposit,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = svc.Debit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec("1.123456789"),
		Type:       enums.LedgerEntryWithdrawal,
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.ErrorIs(t, svc.Freeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: tooFine}), ErrInvalidAmount)
	require.ErrorIs(t, svc.Unfreeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: tooFine}), ErrInvalidAmount)

	_, _, err = svc.Settle(context.Background(), SettleInput{
		FromUserID: userID,
		ToUserID:   uuid.New(),
		CurrencyID: currencyID,
		Amount:     tooFine,
		OrderID:    uuid.New(),
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	// Eight places is the finest amount the balance columns hold.
	deposit(t, svc, userID, currencyID, "0.00000001")
	requireBalance(t, svc, userID, currencyID, "10.00000001", "0")
}

func TestDebitInsufficientBalanceLeavesWalletUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "30")

	_, err := svc.Debit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec("50"),
		Type:       enums.LedgerEntryWithdrawal,
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))

	requireBalance(t, svc, userID, currencyID, "30", "0")
}

func TestDebitAndFreezeRequireExistingWallet(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()

	_, err := svc.Debit(context.Background(), MutationInput{
		UserID:     userID,
		CurrencyID: currencyID,
		Amount:     dec("1"),
		Type:       enums.LedgerEntryWithdrawal,
	})
	require.ErrorIs(t, err, ErrWalletNotFound)

	err = svc.Freeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("1")})
	require.ErrorIs(t, err, ErrWalletNotFound)

	err = svc.Unfreeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("1")})
	require.ErrorIs(t, err, ErrInsufficientFrozen)
}

func TestCreditThenDebitRestoresAvailable(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "12.5")

	for _, amount := range []string{"0.00000001", "3", "12.5", "40"} {
		deposit(t, svc, userID, currencyID, amount)
		_, err := svc.Debit(context.Background(), MutationInput{
			UserID:     userID,
			CurrencyID: currencyID,
			Amount:     dec(amount),
			Type:       enums.LedgerEntryWithdrawal,
		})
		require.NoError(t, err)
		requireBalance(t, svc, userID, currencyID, "12.5", "0")
	}
}

func TestFreezeThenUnfreezeIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "100")
	hold := HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("40")}

	require.NoError(t, svc.Freeze(context.Background(), hold))
	requireBalance(t, svc, userID, currencyID, "60", "40")

	require.NoError(t, svc.Unfreeze(context.Background(), hold))
	requireBalance(t, svc, userID, currencyID, "100", "0")

	err := svc.Freeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("100.5")})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	err = svc.Unfreeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("1")})
	require.ErrorIs(t, err, ErrInsufficientFrozen)
	requireBalance(t, svc, userID, currencyID, "100", "0")
}

func TestSettleMovesFrozenFundsToCounterparty(t *testing.T) {
	svc, _ := newTestService(t)
	seller, agent, currencyID := uuid.New(), uuid.New(), uuid.New()
	orderID := uuid.New()
	deposit(t, svc, seller, currencyID, "100")
	require.NoError(t, svc.Freeze(context.Background(), HoldInput{UserID: seller, CurrencyID: currencyID, Amount: dec("40"), OrderID: &orderID}))

	debit, credit, err := svc.Settle(context.Background(), SettleInput{
		FromUserID: seller,
		ToUserID:   agent,
		CurrencyID: currencyID,
		Amount:     dec("40"),
		OrderID:    orderID,
	})
	require.NoError(t, err)
	require.True(t, debit.Amount.Equal(dec("-40")))
	require.True(t, debit.FrozenDelta.Equal(dec("-40")))
	require.True(t, credit.Amount.Equal(dec("40")))
	require.Equal(t, enums.LedgerEntryTrade, credit.Type)

	requireBalance(t, svc, seller, currencyID, "60", "0")
	requireBalance(t, svc, agent, currencyID, "40", "0")

	sellerEntries, err := svc.Entries(context.Background(), EntryFilter{UserID: seller, OrderID: &orderID}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, sellerEntries.Items, 2)
	agentEntries, err := svc.Entries(context.Background(), EntryFilter{UserID: agent, OrderID: &orderID}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, agentEntries.Items, 1)
	require.Equal(t, credit.ID, agentEntries.Items[0].ID)

	_, _, err = svc.Settle(context.Background(), SettleInput{
		FromUserID: seller,
		ToUserID:   agent,
		CurrencyID: currencyID,
		Amount:     dec("1"),
		OrderID:    orderID,
	})
	require.ErrorIs(t, err, ErrInsufficientFrozen)
	requireBalance(t, svc, seller, currencyID, "60", "0")
	requireBalance(t, svc, agent, currencyID, "40", "0")

	_, _, err = svc.Settle(context.Background(), SettleInput{FromUserID: seller, ToUserID: seller, CurrencyID: currencyID, Amount: dec("1"), OrderID: orderID})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestCreditIdempotencyKeyReplaysOriginalEntry(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	input := MutationInput{
		UserID:         userID,
		CurrencyID:     currencyID,
		Amount:         dec("25"),
		Type:           enums.LedgerEntryDeposit,
		IdempotencyKey: "deposit:provider-ref-1",
	}

	first, err := svc.Credit(context.Background(), input)
	require.NoError(t, err)
	second, err := svc.Credit(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	requireBalance(t, svc, userID, currencyID, "25", "0")

	input.Amount = dec("26")
	_, err = svc.Credit(context.Background(), input)
	require.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
	requireBalance(t, svc, userID, currencyID, "25", "0")
}

func TestWithTxSharesCallerTransaction(t *testing.T) {
	svc, conn := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	boom := errors.New("order insert failed")

	err := db.Wrap(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		if _, err := svc.WithTx(tx).Credit(context.Background(), MutationInput{
			UserID:     userID,
			CurrencyID: currencyID,
			Amount:     dec("10"),
			Type:       enums.LedgerEntryReward,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	requireBalance(t, svc, userID, currencyID, "0", "0")

	wallets, err := svc.Wallets(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, wallets)
}

func TestDeactivatedWalletRejectsNewExposure(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "10")
	require.NoError(t, svc.Freeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("4")}))

	wallet, err := svc.SetActive(context.Background(), userID, currencyID, false)
	require.NoError(t, err)
	require.False(t, wallet.IsActive)

	_, err = svc.Debit(context.Background(), MutationInput{UserID: userID, CurrencyID: currencyID, Amount: dec("1"), Type: enums.LedgerEntryWithdrawal})
	require.ErrorIs(t, err, ErrWalletInactive)
	err = svc.Freeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("1")})
	require.ErrorIs(t, err, ErrWalletInactive)

	require.NoError(t, svc.Unfreeze(context.Background(), HoldInput{UserID: userID, CurrencyID: currencyID, Amount: dec("4")}))
	requireBalance(t, svc, userID, currencyID, "10", "0")

	_, err = svc.SetActive(context.Background(), uuid.New(), currencyID, false)
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestEntriesListsNewestFirstWithCursor(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	for i := 0; i < 3; i++ {
		deposit(t, svc, userID, currencyID, "1")
	}
	deposit(t, svc, uuid.New(), currencyID, "1")

	page, err := svc.Entries(context.Background(), EntryFilter{UserID: userID}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	for _, entry := range page.Items {
		require.Equal(t, userID, entry.UserID)
	}

	_, err = svc.Entries(context.Background(), EntryFilter{UserID: userID}, pagination.Params{Cursor: "%%%"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestConcurrentCreditsOnOneWalletSerialize(t *testing.T) {
	svc, _ := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Credit(context.Background(), MutationInput{
				UserID:     userID,
				CurrencyID: currencyID,
				Amount:     dec("1"),
				Type:       enums.LedgerEntryDeposit,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	requireBalance(t, svc, userID, currencyID, "20", "0")
}

// Random operation sequences must never drive a bucket negative, rejected
// operations must leave the wallet unchanged and the ledger must always sum to
// the materialized balance.
func TestRandomOperationSequencesPreserveInvariants(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 5; run++ {
		userID, currencyID := uuid.New(), uuid.New()
		deposit(t, svc, userID, currencyID, "50")

		for step := 0; step < 60; step++ {
			before, err := svc.Balance(ctx, userID, currencyID)
			require.NoError(t, err)

			amount := decimal.NewFromInt(int64(rng.Intn(40) + 1))
			hold := HoldInput{UserID: userID, CurrencyID: currencyID, Amount: amount}
			mutation := MutationInput{UserID: userID, CurrencyID: currencyID, Amount: amount}

			var opErr error
			switch rng.Intn(4) {
			case 0:
				mutation.Type = enums.LedgerEntryDeposit
				_, opErr = svc.Credit(ctx, mutation)
			case 1:
				mutation.Type = enums.LedgerEntryWithdrawal
				_, opErr = svc.Debit(ctx, mutation)
			case 2:
				opErr = svc.Freeze(ctx, hold)
			case 3:
				opErr = svc.Unfreeze(ctx, hold)
			}

			after, err := svc.Balance(ctx, userID, currencyID)
			require.NoError(t, err)
			require.False(t, after.Available.IsNegative(), "available went negative")
			require.False(t, after.Frozen.IsNegative(), "frozen went negative")

			if opErr != nil {
				require.True(t, IsRejection(opErr), "unexpected error: %v", opErr)
				require.True(t, before.Available.Equal(after.Available))
				require.True(t, before.Frozen.Equal(after.Frozen))
			}
		}
	}

	result, err := svc.Reconcile(ctx, uuid.Nil, 100)
	require.NoError(t, err)
	require.Equal(t, 5, result.Checked)
	require.Empty(t, result.Drifts)
}

func TestReconcileReportsDrift(t *testing.T) {
	svc, conn := newTestService(t)
	userID, currencyID := uuid.New(), uuid.New()
	deposit(t, svc, userID, currencyID, "10")

	require.NoError(t, conn.Exec("UPDATE wallets SET available = 11 WHERE user_id = ?", userID).Error)

	result, err := svc.Reconcile(context.Background(), uuid.Nil, 10)
	require.NoError(t, err)
	require.Equal(t, 1, result.Checked)
	require.Len(t, result.Drifts, 1)
	require.True(t, result.Drifts[0].LedgerTotal.Equal(dec("10")))
	require.True(t, result.Drifts[0].WalletTotal.Equal(dec("11")))

	next, err := svc.Reconcile(context.Background(), result.LastID, 10)
	require.NoError(t, err)
	require.Zero(t, next.Checked)
}
