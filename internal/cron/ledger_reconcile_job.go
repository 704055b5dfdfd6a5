package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
)

const reconcileBatch = 200

type walletReconciler interface {
	Reconcile(ctx context.Context, after uuid.UUID, limit int) (*ledger.ReconcileResult, error)
}

// LedgerReconcileJobParams configure the balance drift check.
type LedgerReconcileJobParams struct {
	Logger    *logger.Logger
	Ledger    walletReconciler
	BatchSize int
}

// NewLedgerReconcileJob builds the job that walks every wallet and reports
// balances that disagree with their confirmed ledger entries.
func NewLedgerReconcileJob(params LedgerReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = reconcileBatch
	}
	return &ledgerReconcileJob{logg: params.Logger, ledger: params.Ledger, batch: batch}, nil
}

type ledgerReconcileJob struct {
	logg   *logger.Logger
	ledger walletReconciler
	batch  int
}

func (j *ledgerReconcileJob) Name() string { return "ledger-reconcile" }

func (j *ledgerReconcileJob) Run(ctx context.Context) error {
	after := uuid.Nil
	checked, drifted := 0, 0
	for {
		result, err := j.ledger.Reconcile(ctx, after, j.batch)
		if err != nil {
			return fmt.Errorf("reconcile after %s: %w", after, err)
		}
		checked += result.Checked
		for _, drift := range result.Drifts {
			drifted++
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"wallet_id":     drift.WalletID.String(),
				"user_id":       drift.UserID.String(),
				"currency_id":   drift.CurrencyID.String(),
				"wallet_total":  drift.WalletTotal.String(),
				"ledger_total":  drift.LedgerTotal.String(),
				"wallet_frozen": drift.WalletFrozen.String(),
				"ledger_frozen": drift.LedgerFrozen.String(),
			})
			j.logg.Warn(logCtx, "ledger.reconcile.drift")
		}
		if result.Checked < j.batch || result.LastID == after {
			break
		}
		after = result.LastID
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"checked": checked, "drifted": drifted})
	if drifted > 0 {
		return fmt.Errorf("%d of %d wallets drifted from the ledger", drifted, checked)
	}
	j.logg.Info(logCtx, "ledger reconcile complete")
	return nil
}
