package node

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/api"
	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/core/sim"
	"github.com/openfreight/freightsim/logger"
	"github.com/openfreight/freightsim/storage"
)

// Node is one fully wired simulator: matching engine, escrow ledger,
// scripted scheduler, HTTP/websocket surface and the optional archive.
type Node struct {
	cfg       *Config
	kvdb      *storage.KvDB
	amqpConn  *amqp.Connection
	producer  *storage.RabbitMQProducer
	pgdb      *storage.PgDB
	ledger    *ledger.Ledger
	books     *orderbook.Registry
	contracts *contract.Manager
	engine    *engine.Engine
	sched     *sim.Scheduler
	api       *api.Server
	logger    *zap.Logger
}

func NewNode(cfg *Config) (*Node, error) {
	log := logger.Get()

	kvdb, err := storage.NewDB(cfg.KvdbPath, log)
	if err != nil {
		log.Error("failed to open kv store", zap.Error(err))
		return nil, err
	}

	n := &Node{cfg: cfg, kvdb: kvdb, logger: log}

	// Archive is strictly optional: without a broker and a database the
	// node runs hot-path only.
	var producer storage.EventProducer
	if cfg.ArchiveEnabled {
		amqpConn, err := storage.CreateAmqpConnection(cfg.AmqpURL)
		if err != nil {
			log.Error("failed to connect to RabbitMQ", zap.Error(err))
			return nil, err
		}
		n.amqpConn = amqpConn

		rmq, err := storage.NewRabbitMQProducer(amqpConn, &cfg.RabbitmqCfg, log)
		if err != nil {
			log.Error("failed to create archive producer", zap.Error(err))
			return nil, err
		}
		n.producer = rmq
		producer = rmq

		pgdb, err := storage.NewPgDB(cfg.PgDSN, amqpConn, &cfg.RabbitmqCfg, log)
		if err != nil {
			log.Error("failed to initialize PostgreSQL archive", zap.Error(err))
			return nil, err
		}
		n.pgdb = pgdb
	}

	store := storage.NewArchivingStore(kvdb, producer, log)
	sink := store.RecordAnomaly

	n.ledger = ledger.NewLedger(log, sink)
	n.books = orderbook.NewRegistry()
	n.contracts = contract.NewManager(n.ledger, kvdb, log)
	settler := settle.NewSettler(n.ledger, store, n.contracts, cfg.FeeRate, cfg.PlatformAccount, sink, log)
	n.engine = engine.New(n.books, n.ledger, store, settler, n.contracts, sink, log)

	maker := sim.NewMaker(n.engine, n.books, cfg.MakerTrader, log)
	script := sim.NewDemoScript(sim.Deps{
		Ledger:    n.ledger,
		Engine:    n.engine,
		Contracts: n.contracts,
		Settler:   settler,
		Maker:     maker,
		Logger:    log,
	})

	wipe := func() {
		n.ledger.Reset()
		n.books.Reset()
		n.contracts.Reset()
		settler.Reset()
		if err := kvdb.Wipe(); err != nil {
			log.Error("kv wipe failed during reset", zap.Error(err))
		}
		script.Reset()
	}
	n.sched = sim.NewScheduler(script.Timeline(), wipe, sink, cfg.Tick, log)
	kvdb.SetSimClock(n.sched.Now)

	n.api = api.NewServer(&api.Config{
		Engine:    n.engine,
		Scheduler: n.sched,
		Books:     n.books,
		Ledger:    n.ledger,
		Contracts: n.contracts,
		KvDB:      kvdb,
		Logger:    log,
	})

	return n, nil
}

// Start launches the API server and blocks until ctx is cancelled.
func (n *Node) Start(ctx context.Context) error {
	n.logger.Info("starting freightsim node",
		zap.String("addr", n.cfg.HTTPAddr),
		zap.Bool("archive", n.cfg.ArchiveEnabled))

	errCh := make(chan error, 1)
	go func() {
		if err := n.api.Start(n.cfg.HTTPAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		n.logger.Error("api server exited", zap.Error(err))
		return err
	}
}

// Stop tears down in reverse wiring order.
func (n *Node) Stop() error {
	n.logger.Info("stopping freightsim node")

	if err := n.api.Stop(); err != nil {
		n.logger.Error("failed to stop API server", zap.Error(err))
	}

	// A running timeline holds the worker goroutine; reset joins it.
	if n.sched.State().Running {
		if err := n.sched.Reset(); err != nil {
			n.logger.Error("failed to stop scheduler", zap.Error(err))
		}
	}

	if n.producer != nil {
		if err := n.producer.Close(); err != nil {
			n.logger.Error("failed to close archive producer", zap.Error(err))
		}
	}
	if n.pgdb != nil {
		if err := n.pgdb.Close(); err != nil {
			n.logger.Error("failed to close PostgreSQL archive", zap.Error(err))
		}
	}
	if n.amqpConn != nil {
		if err := n.amqpConn.Close(); err != nil {
			n.logger.Error("failed to close AMQP connection", zap.Error(err))
		}
	}
	if err := n.kvdb.Close(); err != nil {
		n.logger.Error("failed to close kv store", zap.Error(err))
	}

	n.logger.Info("freightsim node stopped")
	return nil
}

// Scheduler returns the simulation scheduler
func (n *Node) Scheduler() *sim.Scheduler {
	return n.sched
}

// APIServer returns the API server instance
func (n *Node) APIServer() *api.Server {
	return n.api
}

// KvDB returns the hot-path store
func (n *Node) KvDB() *storage.KvDB {
	return n.kvdb
}

// Ledger returns the escrow ledger
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Contracts returns the contract manager
func (n *Node) Contracts() *contract.Manager {
	return n.contracts
}
