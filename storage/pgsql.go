package storage

import (
	"context"
	"database/sql"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/storage/models"
	"github.com/openfreight/freightsim/storage/repositories"
)

// PgDB is the archive side of the split: a PostgreSQL mirror fed by the
// RabbitMQ event stream. It never sits on the matching hot path.
type PgDB struct {
	db          *bun.DB
	amqp        *amqp.Connection
	rabbitmqCfg *RabbitMQConfig
	factory     repositories.RepositoryFactory
	handler     *PgSQLHandler
	logger      *zap.Logger
}

func NewPgDB(conn string, amqpConn *amqp.Connection, rabbitmqCfg *RabbitMQConfig, logger *zap.Logger) (*PgDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(conn),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	pgdb := &PgDB{
		db:          db,
		amqp:        amqpConn,
		rabbitmqCfg: rabbitmqCfg,
		factory:     repositories.NewRepositoryFactory(db),
		handler:     NewPgSQLHandler(db, logger),
		logger:      logger,
	}

	if err := pgdb.setupDb(); err != nil {
		logger.Error("failed to setup PostgreSQL database", zap.Error(err))
		return nil, err
	}
	if err := pgdb.launchConsumer(); err != nil {
		logger.Error("failed to launch PostgreSQL consumer", zap.Error(err))
		return nil, err
	}

	logger.Info("PostgreSQL archive initialized")
	return pgdb, nil
}

func (pg *PgDB) setupDb() error {
	ctx := context.Background()

	// One transaction so a half-created schema never survives a failure
	return pg.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewCreateTable().Model((*models.Order)(nil)).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateTable().Model((*models.Match)(nil)).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateTable().Model((*models.Hold)(nil)).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateTable().Model((*models.Anomaly)(nil)).IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		// Order indexes: book replay and per-trader views
		_, err = tx.NewCreateIndex().Model((*models.Order)(nil)).Index("idx_orders_book_id").Column("book_id").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateIndex().Model((*models.Order)(nil)).Index("idx_orders_trader").Column("trader").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateIndex().Model((*models.Order)(nil)).Index("idx_orders_trader_book_id").Column("trader", "book_id").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		// Match indexes
		_, err = tx.NewCreateIndex().Model((*models.Match)(nil)).Index("idx_matches_book_id").Column("book_id").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateIndex().Model((*models.Match)(nil)).Index("idx_matches_contract_id").Column("contract_id").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		// Hold indexes: delivery settles by (leg, contract)
		_, err = tx.NewCreateIndex().Model((*models.Hold)(nil)).Index("idx_holds_leg_contract").Column("leg_id", "contract_id").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		_, err = tx.NewCreateIndex().Model((*models.Hold)(nil)).Index("idx_holds_status").Column("status").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		// Anomaly index
		_, err = tx.NewCreateIndex().Model((*models.Anomaly)(nil)).Index("idx_anomalies_kind").Column("kind").IfNotExists().Exec(ctx)
		if err != nil {
			return err
		}

		pg.logger.Info("archive tables and indexes created")
		return nil
	})
}

func (pg *PgDB) launchConsumer() error {
	consumer, err := NewRabbitMQConsumer(pg.amqp, pg.rabbitmqCfg)
	if err != nil {
		return err
	}

	if err := consumer.SetupQueue(); err != nil {
		return err
	}

	go func() {
		defer consumer.Close()

		msgs, err := consumer.Consume()
		if err != nil {
			pg.logger.Error("failed to start consumer", zap.Error(err))
			return
		}

		pg.logger.Info("archive consumer started, waiting for events")

		for msg := range msgs {
			pg.handleMessage(msg)
		}
	}()

	return nil
}

func (pg *PgDB) handleMessage(msg amqp.Delivery) {
	if err := pg.handler.HandleMessage(msg); err != nil {
		pg.logger.Error("failed to handle archive event", zap.String("messageID", msg.MessageId), zap.Error(err))
	} else {
		pg.logger.Debug("archived event", zap.String("messageID", msg.MessageId))
	}
}

// GetHandler returns the archive event handler
func (pg *PgDB) GetHandler() *PgSQLHandler {
	return pg.handler
}

// Close closes the database connection
func (pg *PgDB) Close() error {
	pg.logger.Info("closing PostgreSQL archive connection")
	return pg.db.Close()
}

// GetDB returns the Bun database instance
func (pg *PgDB) GetDB() *bun.DB {
	return pg.db
}

// GetFactory returns the repository factory
func (pg *PgDB) GetFactory() repositories.RepositoryFactory {
	return pg.factory
}

// Repository accessor methods for convenience
func (pg *PgDB) OrderRepository() repositories.OrderRepository {
	return pg.factory.NewOrderRepository()
}

func (pg *PgDB) MatchRepository() repositories.MatchRepository {
	return pg.factory.NewMatchRepository()
}

func (pg *PgDB) HoldRepository() repositories.HoldRepository {
	return pg.factory.NewHoldRepository()
}

func (pg *PgDB) AnomalyRepository() repositories.AnomalyRepository {
	return pg.factory.NewAnomalyRepository()
}
