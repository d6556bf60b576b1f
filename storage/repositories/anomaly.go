package repositories

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/openfreight/freightsim/storage/models"
)

// AnomalyRepository defines the interface for anomaly-log database
// operations
type AnomalyRepository interface {
	Repository[models.Anomaly]

	// Domain-specific methods
	GetByKind(ctx context.Context, kind string) ([]models.Anomaly, error)
	GetRecent(ctx context.Context, limit int) ([]models.Anomaly, error)
}

// AnomalyRepositoryImpl implements AnomalyRepository interface
type AnomalyRepositoryImpl struct {
	*BaseRepository[models.Anomaly]
}

// NewAnomalyRepository creates a new anomaly repository
func NewAnomalyRepository(db *bun.DB) AnomalyRepository {
	return &AnomalyRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Anomaly](db, "anomalies"),
	}
}

// GetByKind retrieves anomalies of one kind in record order
func (r *AnomalyRepositoryImpl) GetByKind(ctx context.Context, kind string) ([]models.Anomaly, error) {
	var anomalies []models.Anomaly
	err := r.db.NewSelect().Model(&anomalies).
		Where("kind = ?", kind).
		Order("ts ASC").
		Scan(ctx)
	return anomalies, err
}

// GetRecent retrieves the newest anomalies first
func (r *AnomalyRepositoryImpl) GetRecent(ctx context.Context, limit int) ([]models.Anomaly, error) {
	var anomalies []models.Anomaly
	err := r.db.NewSelect().Model(&anomalies).
		Order("ts DESC").
		Limit(limit).
		Scan(ctx)
	return anomalies, err
}
