package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/p2pex-backend/pkg/db/models"
	"github.com/angelmondragon/p2pex-backend/pkg/enums"
	"github.com/angelmondragon/p2pex-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	// UpdateIfStatus applies updates only while the row still has status
	// from and reports whether it did.
	UpdateIfStatus(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, query listQuery, params pagination.Params) ([]models.Order, int, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type listQuery struct {
	ParticipantID *uuid.UUID
	ExcludeUserID *uuid.UUID
	Status        *enums.OrderStatus
	Type          *enums.OrderType
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

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateIfStatus(ctx context.Context, orderID uuid.UUID, from enums.OrderStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, query listQuery, params pagination.Params) ([]models.Order, int, error) {
	q := r.db.WithContext(ctx).Model(&models.Order{})
	if query.ParticipantID != nil {
		q = q.Where("(orders.user_id = ? OR orders.agent_id = ?)", *query.ParticipantID, *query.ParticipantID)
	}
	if query.ExcludeUserID != nil {
		q = q.Where("orders.user_id <> ?", *query.ExcludeUserID)
	}
	if query.Status != nil {
		q = q.Where("orders.status = ?", *query.Status)
	}
	if query.Type != nil {
		q = q.Where("orders.type = ?", *query.Type)
	}
	q, limit, err := pagination.Apply(q, params, "orders")
	if err != nil {
		return nil, 0, err
	}
	var rows []models.Order
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, limit, nil
}

func (r *repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OrderStatusPending, cutoff).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
