package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// Repository defines persistence for task definitions and completions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, taskID uuid.UUID) (*models.Task, error)
	ListActive(ctx context.Context, now time.Time) ([]models.Task, error)
	HasCompletion(ctx context.Context, userID, taskID uuid.UUID, windowStart time.Time) (bool, error)
	CountCompletions(ctx context.Context, userID, taskID uuid.UUID) (int64, error)
	CompletionCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error)
	CompletionsInWindows(ctx context.Context, userID uuid.UUID, windowStarts []time.Time) ([]models.UserTask, error)
	InsertCompletion(ctx context.Context, completion *models.UserTask) error
	MarkRewarded(ctx context.Context, completionID, entryID uuid.UUID) error
	History(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UserTask, int, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a repository to the provided database handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	// Select all columns so an explicit is_active=false is not replaced by the
	// column default.
	return r.db.WithContext(ctx).Select("*").Create(task).Error
}

func (r *repository) FindByID(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) ListActive(ctx context.Context, now time.Time) ([]models.Task, error) {
	var tasks []models.Task
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("valid_until IS NULL OR valid_until >= ?", now).
		Order("created_at ASC").
		Order("id ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *repository) HasCompletion(ctx context.Context, userID, taskID uuid.UUID, windowStart time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserTask{}).
		Where("user_id = ? AND task_id = ? AND window_start = ?", userID, taskID, windowStart).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) CountCompletions(ctx context.Context, userID, taskID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UserTask{}).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Count(&count).Error
	return count, err
}

func (r *repository) CompletionCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]int, error) {
	var rows []struct {
		TaskID      uuid.UUID
		Completions int
	}
	err := r.db.WithContext(ctx).
		Model(&models.UserTask{}).
		Select("task_id, COUNT(*) AS completions").
		Where("user_id = ?", userID).
		Group("task_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		out[row.TaskID] = row.Completions
	}
	return out, nil
}

func (r *repository) CompletionsInWindows(ctx context.Context, userID uuid.UUID, windowStarts []time.Time) ([]models.UserTask, error) {
	var rows []models.UserTask
	if len(windowStarts) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND window_start IN ?", userID, windowStarts).
		Find(&rows).Error
	return rows, err
}

func (r *repository) InsertCompletion(ctx context.Context, completion *models.UserTask) error {
	if completion.ID == uuid.Nil {
		completion.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(completion).Error
}

func (r *repository) MarkRewarded(ctx context.Context, completionID, entryID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.UserTask{}).
		Where("id = ?", completionID).
		Updates(map[string]any{
			"reward_entry_id": entryID,
			"reward_claimed":  true,
		}).Error
}

func (r *repository) History(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.UserTask, int, error) {
	q := r.db.WithContext(ctx).Model(&models.UserTask{}).Where("user_tasks.user_id = ?", userID)
	q, limit, err := pagination.Apply(q, params, "user_tasks")
	if err != nil {
		return nil, 0, err
	}
	var rows []models.UserTask
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, limit, nil
}
