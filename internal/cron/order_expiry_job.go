package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/p2pex-backend/internal/orders"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
)

const (
	defaultPendingTTL   = 24 * time.Hour
	orderExpiryBatch    = 100
	orderExpiryMaxSweep = 50
)

type pendingOrderExpirer interface {
	ExpirePending(ctx context.Context, cutoff time.Time, limit int) (orders.ExpireResult, error)
}

// OrderExpiryJobParams configure the pending order sweeper.
type OrderExpiryJobParams struct {
	Logger     *logger.Logger
	Orders     pendingOrderExpirer
	PendingTTL time.Duration
	BatchSize  int
}

// NewOrderExpiryJob builds the job that cancels orders left pending longer
// than the configured TTL and releases whatever they froze.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = orderExpiryBatch
	}
	return &orderExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		ttl:    ttl,
		batch:  batch,
		now:    time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders pendingOrderExpirer
	ttl    time.Duration
	batch  int
	now    func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	var total orders.ExpireResult
	for sweep := 0; sweep < orderExpiryMaxSweep; sweep++ {
		result, err := j.orders.ExpirePending(ctx, cutoff, j.batch)
		total.Scanned += result.Scanned
		total.Expired += result.Expired
		total.Skipped += result.Skipped
		if err != nil {
			return fmt.Errorf("expire pending orders: %w", err)
		}
		// Skipped rows left pending would be rescanned forever.
		if result.Scanned < j.batch || result.Expired == 0 {
			break
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"scanned": total.Scanned,
		"expired": total.Expired,
		"skipped": total.Skipped,
	})
	j.logg.Info(logCtx, "order expiry sweep complete")
	return nil
}
