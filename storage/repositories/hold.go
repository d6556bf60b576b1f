package repositories

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/openfreight/freightsim/storage/models"
)

// HoldRepository defines the interface for escrow-hold database operations
type HoldRepository interface {
	Repository[models.Hold]

	// Domain-specific methods
	GetByLegContract(ctx context.Context, legID, contractID string) ([]models.Hold, error)
	GetByStatus(ctx context.Context, status string) ([]models.Hold, error)
	GetByPayee(ctx context.Context, payee string) ([]models.Hold, error)
	Upsert(ctx context.Context, hold models.Hold) error
}

// HoldRepositoryImpl implements HoldRepository interface
type HoldRepositoryImpl struct {
	*BaseRepository[models.Hold]
}

// NewHoldRepository creates a new hold repository
func NewHoldRepository(db *bun.DB) HoldRepository {
	return &HoldRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Hold](db, "holds"),
	}
}

// GetByLegContract retrieves the holds a leg's delivery would settle
func (r *HoldRepositoryImpl) GetByLegContract(ctx context.Context, legID, contractID string) ([]models.Hold, error) {
	var holds []models.Hold
	err := r.db.NewSelect().Model(&holds).
		Where("leg_id = ? AND contract_id = ?", legID, contractID).
		Order("hold_ts ASC").
		Scan(ctx)
	return holds, err
}

// GetByStatus retrieves holds filtered by settlement status
func (r *HoldRepositoryImpl) GetByStatus(ctx context.Context, status string) ([]models.Hold, error) {
	var holds []models.Hold
	err := r.db.NewSelect().Model(&holds).
		Where("status = ?", status).
		Order("hold_ts ASC").
		Scan(ctx)
	return holds, err
}

// GetByPayee retrieves holds owed to a carrier
func (r *HoldRepositoryImpl) GetByPayee(ctx context.Context, payee string) ([]models.Hold, error) {
	var holds []models.Hold
	err := r.db.NewSelect().Model(&holds).
		Where("payee = ?", payee).
		Order("hold_ts ASC").
		Scan(ctx)
	return holds, err
}

// Upsert inserts the hold or, when a HOLD_UPDATE arrives for a known
// row, overwrites it with the latest state.
func (r *HoldRepositoryImpl) Upsert(ctx context.Context, hold models.Hold) error {
	_, err := r.db.NewInsert().Model(&hold).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("archived_at = EXCLUDED.archived_at").
		Exec(ctx)
	return err
}
