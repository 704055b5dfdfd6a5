package tasks

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/db/dbtest"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []payloads.LifecycleEvent
}

func (r *recordingEmitter) Emit(_ context.Context, event payloads.LifecycleEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

type fixture struct {
	svc    Service
	repo   Repository
	ledger ledger.Service
	events *recordingEmitter
	conn   *gorm.DB
	now    time.Time
	user   uuid.UUID
	usdt   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	tx := db.Wrap(conn)
	led, err := ledger.NewService(ledger.NewRepository(conn), tx, metrics.NewLedgerMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	f := &fixture{
		repo:   NewRepository(conn),
		ledger: led,
		events: &recordingEmitter{},
		conn:   conn,
		now:    time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		user:   uuid.New(),
		usdt:   uuid.New(),
	}
	f.svc, err = NewService(ServiceParams{
		Repository: f.repo,
		Tx:         tx,
		Ledger:     led,
		Events:     f.events,
		Logger:     logger.New(logger.Options{ServiceName: "tasks-test", Output: &bytes.Buffer{}}),
		Metrics:    metrics.NewTaskMetrics(prometheus.NewRegistry()),
		Location:   time.UTC,
		Clock:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) task(t *testing.T, taskType enums.TaskType, reward string, mutate func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:               uuid.New(),
		Title:            "task " + string(taskType),
		TaskType:         taskType,
		RewardAmount:     decimal.RequireFromString(reward),
		RewardCurrencyID: f.usdt,
		IsActive:         true,
		CreatedAt:        f.now,
		UpdatedAt:        f.now,
	}
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, f.repo.Create(context.Background(), task))
	return task
}

func (f *fixture) requireAvailable(t *testing.T, want string) {
	t.Helper()
	wallet, err := f.ledger.Balance(context.Background(), f.user, f.usdt)
	require.NoError(t, err)
	require.Truef(t, wallet.Available.Equal(decimal.RequireFromString(want)), "available: want %s got %s", want, wallet.Available)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestDailyTaskOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, enums.TaskTypeDaily, "1.5", nil)

	receipt, err := f.svc.Complete(ctx, f.user, task.ID)
	require.NoError(t, err)
	require.True(t, receipt.WindowStart.Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	f.requireAvailable(t, "1.5")

	f.now = f.now.Add(10 * time.Hour)
	_, err = f.svc.Complete(ctx, f.user, task.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	f.requireAvailable(t, "1.5")

	f.now = time.Date(2026, 3, 12, 0, 0, 1, 0, time.UTC)
	_, err = f.svc.Complete(ctx, f.user, task.ID)
	require.NoError(t, err)
	f.requireAvailable(t, "3")

	entries, err := f.ledger.Entries(ctx, ledger.EntryFilter{UserID: f.user, CurrencyID: &f.usdt}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, entries.Items, 2)
	for _, entry := range entries.Items {
		require.Equal(t, enums.LedgerEntryReward, entry.Type)
		require.NotNil(t, entry.IdempotencyKey)
	}
}

func TestRewardCompletionRecordsEntryAndEvent(t *testing.T) {
	f := newFixture(t)
	task := f.task(t, enums.TaskTypeWeekly, "5", nil)

	receipt, err := f.svc.Complete(context.Background(), f.user, task.ID)
	require.NoError(t, err)

	var completion models.UserTask
	require.NoError(t, f.conn.Where("id = ?", receipt.CompletionID).First(&completion).Error)
	require.True(t, completion.RewardClaimed)
	require.Equal(t, receipt.LedgerEntryID, *completion.RewardEntryID)

	var entry models.LedgerEntry
	require.NoError(t, f.conn.Where("id = ?", receipt.LedgerEntryID).First(&entry).Error)
	require.Equal(t, RewardKey(f.user, task.ID, receipt.WindowStart), *entry.IdempotencyKey)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	require.Equal(t, enums.EventTaskRewarded, event.Kind)
	require.Equal(t, task.ID, *event.TaskID)
	require.Equal(t, f.user, event.ActorID)
	require.Equal(t, "5", event.Details["amount"])
}

func TestOneTimeTaskNeverRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, enums.TaskTypeOneTime, "10", nil)

	receipt, err := f.svc.Complete(ctx, f.user, task.ID)
	require.NoError(t, err)
	require.True(t, receipt.WindowStart.Equal(time.Unix(0, 0)))

	f.now = f.now.AddDate(1, 0, 0)
	_, err = f.svc.Complete(ctx, f.user, task.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	f.requireAvailable(t, "10")

	other := uuid.New()
	_, err = f.svc.Complete(ctx, other, task.ID)
	require.NoError(t, err)
}

func TestMaxCompletionsCapsRecurringTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, enums.TaskTypeDaily, "1", func(task *models.Task) {
		limit := 2
		task.MaxCompletions = &limit
	})

	for day := 0; day < 2; day++ {
		_, err := f.svc.Complete(ctx, f.user, task.ID)
		require.NoError(t, err)
		f.now = f.now.AddDate(0, 0, 1)
	}
	_, err := f.svc.Complete(ctx, f.user, task.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)
	f.requireAvailable(t, "2")
}

func TestExpiredAndInactiveTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired := f.task(t, enums.TaskTypeDaily, "1", func(task *models.Task) {
		until := f.now.Add(-time.Minute)
		task.ValidUntil = &until
	})
	inactive := f.task(t, enums.TaskTypeDaily, "1", nil)
	require.NoError(t, f.conn.Model(&models.Task{}).Where("id = ?", inactive.ID).Update("is_active", false).Error)

	_, err := f.svc.Complete(ctx, f.user, expired.ID)
	require.ErrorIs(t, err, ErrTaskExpired)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.Complete(ctx, f.user, inactive.ID)
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = f.svc.Complete(ctx, f.user, uuid.New())
	require.ErrorIs(t, err, ErrTaskNotFound)

	_, err = f.svc.Complete(ctx, uuid.Nil, expired.ID)
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
	require.Empty(t, f.events.events)
}

func TestListShowsCurrentWindowState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	daily := f.task(t, enums.TaskTypeDaily, "1", nil)
	f.now = f.now.Add(time.Second)
	monthly := f.task(t, enums.TaskTypeMonthly, "3", nil)
	f.task(t, enums.TaskTypeDaily, "1", func(task *models.Task) {
		until := f.now.Add(-time.Hour)
		task.ValidUntil = &until
	})

	_, err := f.svc.Complete(ctx, f.user, daily.ID)
	require.NoError(t, err)

	views, err := f.svc.List(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, daily.ID, views[0].ID)
	require.True(t, views[0].Completed)
	require.False(t, views[0].Available)
	require.Equal(t, 1, views[0].Completions)
	require.NotNil(t, views[0].ResetsAt)
	require.True(t, views[0].ResetsAt.Equal(time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)))

	require.Equal(t, monthly.ID, views[1].ID)
	require.False(t, views[1].Completed)
	require.True(t, views[1].Available)

	f.now = f.now.AddDate(0, 0, 1)
	views, err = f.svc.List(ctx, f.user)
	require.NoError(t, err)
	require.False(t, views[0].Completed)
	require.True(t, views[0].Available)
}

func TestHistoryPagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.task(t, enums.TaskTypeDaily, "1", nil)

	var receipts []*Receipt
	for day := 0; day < 3; day++ {
		receipt, err := f.svc.Complete(ctx, f.user, task.ID)
		require.NoError(t, err)
		receipts = append(receipts, receipt)
		f.now = f.now.AddDate(0, 0, 1)
	}

	page, err := f.svc.History(ctx, f.user, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, receipts[2].CompletionID, page.Items[0].ID)
	require.NotEmpty(t, page.NextCursor)

	page, err = f.svc.History(ctx, f.user, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, receipts[0].CompletionID, page.Items[0].ID)
	require.Empty(t, page.NextCursor)
}

func TestCreateValidatesAndPersistsTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	maxCompletions := 3
	until := f.now.Add(48 * time.Hour)

	valid := CreateInput{
		Title:            "  Share a referral link ",
		TaskType:         enums.TaskTypeWeekly,
		RewardAmount:     decimal.RequireFromString("2.5"),
		RewardCurrencyID: f.usdt,
		MaxCompletions:   &maxCompletions,
		ValidUntil:       &until,
		IsActive:         true,
	}
	task, err := f.svc.Create(ctx, valid)
	require.NoError(t, err)
	require.Equal(t, "Share a referral link", task.Title)

	stored, err := f.repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, enums.TaskTypeWeekly, stored.TaskType)
	require.True(t, stored.RewardAmount.Equal(decimal.RequireFromString("2.5")))
	require.Equal(t, 3, *stored.MaxCompletions)

	receipt, err := f.svc.Complete(ctx, f.user, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, receipt.TaskID)
	f.requireAvailable(t, "2.5")

	zero, past := 0, f.now.Add(-time.Minute)
	cases := map[string]func(*CreateInput){
		"title":           func(in *CreateInput) { in.Title = " " },
		"type":            func(in *CreateInput) { in.TaskType = "hourly" },
		"reward":          func(in *CreateInput) { in.RewardAmount = decimal.Zero },
		"reward scale":    func(in *CreateInput) { in.RewardAmount = decimal.RequireFromString("0.000000001") },
		"currency":        func(in *CreateInput) { in.RewardCurrencyID = uuid.Nil },
		"max completions": func(in *CreateInput) { in.MaxCompletions = &zero },
		"valid until":     func(in *CreateInput) { in.ValidUntil = &past },
	}
	for name, mutate := range cases {
		input := valid
		mutate(&input)
		_, err := f.svc.Create(ctx, input)
		require.Error(t, err, name)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), name)
	}
}

func TestCreatedInactiveTaskIsHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.Create(ctx, CreateInput{
		Title:            "draft",
		TaskType:         enums.TaskTypeOneTime,
		RewardAmount:     decimal.NewFromInt(1),
		RewardCurrencyID: f.usdt,
	})
	require.NoError(t, err)

	views, err := f.svc.List(ctx, f.user)
	require.NoError(t, err)
	require.Empty(t, views)

	_, err = f.svc.Complete(ctx, f.user, task.ID)
	require.ErrorIs(t, err, ErrTaskNotFound)
}
