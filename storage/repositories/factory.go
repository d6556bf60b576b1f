package repositories

import (
	"github.com/uptrace/bun"
)

// RepositoryFactory defines the interface for creating repository instances
type RepositoryFactory interface {
	NewOrderRepository() OrderRepository
	NewMatchRepository() MatchRepository
	NewHoldRepository() HoldRepository
	NewAnomalyRepository() AnomalyRepository
}

// RepositoryFactoryImpl implements RepositoryFactory interface
type RepositoryFactoryImpl struct {
	db *bun.DB
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(db *bun.DB) RepositoryFactory {
	return &RepositoryFactoryImpl{
		db: db,
	}
}

// NewOrderRepository creates a new order repository
func (f *RepositoryFactoryImpl) NewOrderRepository() OrderRepository {
	return NewOrderRepository(f.db)
}

// NewMatchRepository creates a new match repository
func (f *RepositoryFactoryImpl) NewMatchRepository() MatchRepository {
	return NewMatchRepository(f.db)
}

// NewHoldRepository creates a new hold repository
func (f *RepositoryFactoryImpl) NewHoldRepository() HoldRepository {
	return NewHoldRepository(f.db)
}

// NewAnomalyRepository creates a new anomaly repository
func (f *RepositoryFactoryImpl) NewAnomalyRepository() AnomalyRepository {
	return NewAnomalyRepository(f.db)
}
