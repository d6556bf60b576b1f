package repositories

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/openfreight/freightsim/storage/models"
)

// MatchRepository defines the interface for match-related database operations
type MatchRepository interface {
	Repository[models.Match]

	// Domain-specific methods
	GetByBook(ctx context.Context, bookID string) ([]models.Match, error)
	GetByTrader(ctx context.Context, trader string) ([]models.Match, error)
	GetByContract(ctx context.Context, contractID string) ([]models.Match, error)
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]models.Match, error)
}

// MatchRepositoryImpl implements MatchRepository interface
type MatchRepositoryImpl struct {
	*BaseRepository[models.Match]
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db *bun.DB) MatchRepository {
	return &MatchRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Match](db, "matches"),
	}
}

// GetByBook retrieves a book's matches in execution order
func (r *MatchRepositoryImpl) GetByBook(ctx context.Context, bookID string) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.NewSelect().Model(&matches).
		Where("book_id = ?", bookID).
		Order("match_ts ASC").
		Scan(ctx)
	return matches, err
}

// GetByTrader retrieves matches where the trader was on either side
func (r *MatchRepositoryImpl) GetByTrader(ctx context.Context, trader string) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.NewSelect().Model(&matches).
		Where("bid_trader = ? OR ask_trader = ?", trader, trader).
		Order("match_ts DESC").
		Scan(ctx)
	return matches, err
}

// GetByContract retrieves ownership matches for a contract
func (r *MatchRepositoryImpl) GetByContract(ctx context.Context, contractID string) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.NewSelect().Model(&matches).
		Where("contract_id = ?", contractID).
		Order("match_ts ASC").
		Scan(ctx)
	return matches, err
}

// GetByTimeRange retrieves matches within an execution time range
func (r *MatchRepositoryImpl) GetByTimeRange(ctx context.Context, start, end time.Time) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.NewSelect().Model(&matches).
		Where("match_ts >= ? AND match_ts <= ?", start, end).
		Order("match_ts DESC").
		Scan(ctx)
	return matches, err
}
