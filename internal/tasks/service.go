package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/internal/ledger"
	"github.com/angelmondragon/p2pex-backend/pkg/db"
	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/p2pex-backend/pkg/errors"
	"github.com/angelmondragon/p2pex-backend/pkg/logger"
	"github.com/angelmondragon/p2pex-backend/pkg/metrics"
	"github.com/angelmondragon/p2pex-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, event payloads.LifecycleEvent)
}

// Service pays task rewards at most once per user, task and window.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Task, error)
	Complete(ctx context.Context, userID, taskID uuid.UUID) (*Receipt, error)
	List(ctx context.Context, userID uuid.UUID) ([]TaskView, error)
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.UserTask], error)
}

// ServiceParams groups the task service dependencies.
type ServiceParams struct {
	Repository Repository
	Tx         txRunner
	Ledger     ledger.Service
	Events     eventEmitter
	Logger     *logger.Logger
	Metrics    *metrics.TaskMetrics
	Location   *time.Location
	Clock      func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	ledger  ledger.Service
	events  eventEmitter
	logg    *logger.Logger
	metrics *metrics.TaskMetrics
	loc     *time.Location
	now     func() time.Time
}

// NewService builds the task reward service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("tasks repository required")
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
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:    params.Repository,
		tx:      params.Tx,
		ledger:  params.Ledger,
		events:  params.Events,
		logg:    params.Logger,
		metrics: params.Metrics,
		loc:     loc,
		now:     clock,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Task, error) {
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}
	task := &models.Task{
		ID:               uuid.New(),
		Title:            strings.TrimSpace(input.Title),
		Description:      input.Description,
		TaskType:         input.TaskType,
		RewardAmount:     input.RewardAmount,
		RewardCurrencyID: input.RewardCurrencyID,
		MaxCompletions:   input.MaxCompletions,
		ValidUntil:       input.ValidUntil,
		IsActive:         input.IsActive,
	}
	if task.ValidUntil != nil {
		until := task.ValidUntil.UTC()
		task.ValidUntil = &until
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create task")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"task_id":   task.ID.String(),
		"task_type": string(task.TaskType),
		"is_active": task.IsActive,
	})
	s.logg.Info(logCtx, "task.created")
	return task, nil
}

func (s *service) validateCreate(input CreateInput) error {
	invalid := func(field, msg string) error {
		return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": field})
	}
	if strings.TrimSpace(input.Title) == "" {
		return invalid("title", "title is required")
	}
	if !input.TaskType.IsValid() {
		return invalid("task_type", "unknown task type")
	}
	if !ledger.ValidAmount(input.RewardAmount) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, ledger.ErrInvalidAmount, "reward must be positive with at most 8 decimal places").
			WithDetails(map[string]any{"field": "reward_amount"})
	}
	if input.RewardCurrencyID == uuid.Nil {
		return invalid("reward_currency_id", "reward currency is required")
	}
	if input.MaxCompletions != nil && *input.MaxCompletions <= 0 {
		return invalid("max_completions", "max completions must be positive")
	}
	if input.ValidUntil != nil && !input.ValidUntil.After(s.now()) {
		return invalid("valid_until", "valid until must be in the future")
	}
	return nil
}

func (s *service) Complete(ctx context.Context, userID, taskID uuid.UUID) (*Receipt, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	task, err := s.repo.FindByID(ctx, taskID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !task.IsActive) {
		s.metrics.ObserveCompletion("", metrics.ResultRejected)
		return nil, taskNotFound(taskID)
	}
	if err != nil {
		s.metrics.ObserveCompletion("", metrics.ResultError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load task")
	}

	receipt, err := s.complete(ctx, userID, task)
	switch {
	case err == nil:
		s.metrics.ObserveCompletion(string(task.TaskType), metrics.ResultOK)
	case isRejection(err):
		s.metrics.ObserveCompletion(string(task.TaskType), metrics.ResultRejected)
		return nil, err
	default:
		s.metrics.ObserveCompletion(string(task.TaskType), metrics.ResultError)
		return nil, err
	}

	s.events.Emit(ctx, payloads.LifecycleEvent{
		Kind:       enums.EventTaskRewarded,
		TaskID:     &receipt.TaskID,
		ActorID:    userID,
		Timestamp:  receipt.CompletedAt,
		Recipients: []uuid.UUID{userID},
		Details: map[string]string{
			"amount":      receipt.RewardAmount.String(),
			"currency_id": receipt.RewardCurrencyID.String(),
			"task_type":   string(receipt.TaskType),
		},
	})
	return receipt, nil
}

func (s *service) complete(ctx context.Context, userID uuid.UUID, task *models.Task) (*Receipt, error) {
	now := s.now().UTC()
	if task.ValidUntil != nil && now.After(*task.ValidUntil) {
		return nil, taskExpired(task.ID)
	}
	windowStart := WindowStart(task.TaskType, now, s.loc)

	var receipt *Receipt
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		done, err := repo.HasCompletion(ctx, userID, task.ID, windowStart)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check completion")
		}
		if done {
			return alreadyCompleted(task.ID, "window")
		}
		if task.MaxCompletions != nil {
			count, err := repo.CountCompletions(ctx, userID, task.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count completions")
			}
			if count >= int64(*task.MaxCompletions) {
				return alreadyCompleted(task.ID, "max_completions")
			}
		}

		completion := &models.UserTask{
			ID:          uuid.New(),
			UserID:      userID,
			TaskID:      task.ID,
			WindowStart: windowStart,
			CompletedAt: now,
			CreatedAt:   now,
		}
		if err := repo.InsertCompletion(ctx, completion); err != nil {
			if db.IsUniqueViolation(err, "") {
				return alreadyCompleted(task.ID, "window")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert completion")
		}

		metadata, err := json.Marshal(map[string]string{
			"task_id":      task.ID.String(),
			"task_type":    string(task.TaskType),
			"window_start": windowStart.Format(time.RFC3339),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode reward metadata")
		}
		entry, err := s.ledger.WithTx(tx).Credit(ctx, ledger.MutationInput{
			UserID:         userID,
			CurrencyID:     task.RewardCurrencyID,
			Amount:         task.RewardAmount,
			Type:           enums.LedgerEntryReward,
			Metadata:       metadata,
			IdempotencyKey: RewardKey(userID, task.ID, windowStart),
		})
		if err != nil {
			return err
		}
		if err := repo.MarkRewarded(ctx, completion.ID, entry.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record reward entry")
		}

		receipt = &Receipt{
			CompletionID:     completion.ID,
			TaskID:           task.ID,
			TaskType:         task.TaskType,
			WindowStart:      windowStart,
			CompletedAt:      now,
			RewardAmount:     task.RewardAmount,
			RewardCurrencyID: task.RewardCurrencyID,
			LedgerEntryID:    entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// RewardKey is the ledger idempotency key of a reward credit.
func RewardKey(userID, taskID uuid.UUID, windowStart time.Time) string {
	return fmt.Sprintf("task:%s:%s:%d", userID, taskID, windowStart.Unix())
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]TaskView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	now := s.now().UTC()
	tasks, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list tasks")
	}
	counts, err := s.repo.CompletionCounts(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count completions")
	}

	starts := make(map[uuid.UUID]time.Time, len(tasks))
	unique := map[time.Time]struct{}{}
	var windows []time.Time
	for _, task := range tasks {
		start := WindowStart(task.TaskType, now, s.loc)
		starts[task.ID] = start
		if _, ok := unique[start]; !ok {
			unique[start] = struct{}{}
			windows = append(windows, start)
		}
	}
	current, err := s.repo.CompletionsInWindows(ctx, userID, windows)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load current completions")
	}
	completed := map[uuid.UUID]bool{}
	for _, row := range current {
		if start, ok := starts[row.TaskID]; ok && row.WindowStart.Equal(start) {
			completed[row.TaskID] = true
		}
	}

	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		start := starts[task.ID]
		views = append(views, newTaskView(task, counts[task.ID], completed[task.ID], start, nextWindow(task.TaskType, start, s.loc)))
	}
	return views, nil
}

func (s *service) History(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.UserTask], error) {
	if userID == uuid.Nil {
		return pagination.Page[models.UserTask]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.UserTask]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, limit, err := s.repo.History(ctx, userID, params)
	if err != nil {
		return pagination.Page[models.UserTask]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list completions")
	}
	return pagination.Build(rows, limit, func(row models.UserTask) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	}), nil
}
