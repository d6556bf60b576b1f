package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/openfreight/freightsim/storage/models"
)

// OrderRepository defines the interface for order-related database operations
type OrderRepository interface {
	Repository[models.Order]

	// Domain-specific methods
	GetByTrader(ctx context.Context, trader string) ([]models.Order, error)
	GetByBook(ctx context.Context, bookID string) ([]models.Order, error)
	GetByTraderAndBook(ctx context.Context, trader, bookID string) ([]models.Order, error)
	GetActiveOrders(ctx context.Context, trader string) ([]models.Order, error)
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]models.Order, error)
	MarkDeleted(ctx context.Context, id string) error
}

// OrderRepositoryImpl implements OrderRepository interface
type OrderRepositoryImpl struct {
	*BaseRepository[models.Order]
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *bun.DB) OrderRepository {
	return &OrderRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Order](db, "orders"),
	}
}

// GetByTrader retrieves all orders for a specific trader
func (r *OrderRepositoryImpl) GetByTrader(ctx context.Context, trader string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.NewSelect().Model(&orders).Where("trader = ?", trader).Scan(ctx)
	return orders, err
}

// GetByBook retrieves all orders submitted to a specific book
func (r *OrderRepositoryImpl) GetByBook(ctx context.Context, bookID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.NewSelect().Model(&orders).
		Where("book_id = ?", bookID).
		Order("seq ASC").
		Scan(ctx)
	return orders, err
}

// GetByTraderAndBook retrieves a trader's orders within one book
func (r *OrderRepositoryImpl) GetByTraderAndBook(ctx context.Context, trader, bookID string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.NewSelect().Model(&orders).
		Where("trader = ? AND book_id = ?", trader, bookID).
		Order("seq ASC").
		Scan(ctx)
	return orders, err
}

// GetActiveOrders retrieves a trader's orders that have not been removed
// from their book
func (r *OrderRepositoryImpl) GetActiveOrders(ctx context.Context, trader string) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.NewSelect().Model(&orders).
		Where("trader = ? AND deleted = false", trader).
		Order("submit_ts DESC").
		Scan(ctx)
	return orders, err
}

// GetByTimeRange retrieves orders within a submission time range
func (r *OrderRepositoryImpl) GetByTimeRange(ctx context.Context, start, end time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.NewSelect().Model(&orders).
		Where("submit_ts >= ? AND submit_ts <= ?", start, end).
		Order("submit_ts DESC").
		Scan(ctx)
	return orders, err
}

// MarkDeleted flags an archived order as removed from its book. The
// mirror is append-only, so rows are never dropped.
func (r *OrderRepositoryImpl) MarkDeleted(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().Model((*models.Order)(nil)).
		Set("deleted = true").
		Where("id = ?", id).
		Exec(ctx)
	return err
}
