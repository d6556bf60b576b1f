package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/rpc"
	"github.com/openfreight/freightsim/storage/models"
	"github.com/openfreight/freightsim/storage/repositories"
)

// PgSQLHandler consumes archive envelopes off RabbitMQ and applies them
// to the PostgreSQL mirror.
type PgSQLHandler struct {
	db          *bun.DB
	factory     repositories.RepositoryFactory
	orderRepo   repositories.OrderRepository
	matchRepo   repositories.MatchRepository
	holdRepo    repositories.HoldRepository
	anomalyRepo repositories.AnomalyRepository
	logger      *zap.Logger
}

// NewPgSQLHandler creates a new archive event handler
func NewPgSQLHandler(db *bun.DB, logger *zap.Logger) *PgSQLHandler {
	factory := repositories.NewRepositoryFactory(db)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PgSQLHandler{
		db:          db,
		factory:     factory,
		orderRepo:   factory.NewOrderRepository(),
		matchRepo:   factory.NewMatchRepository(),
		holdRepo:    factory.NewHoldRepository(),
		anomalyRepo: factory.NewAnomalyRepository(),
		logger:      logger,
	}
}

// HandleMessage processes one delivery: decode, validate, apply, ack.
func (h *PgSQLHandler) HandleMessage(msg amqp.Delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	internalMsg, err := rpc.FromBytes(msg.Body)
	if err != nil {
		h.logger.Error("failed to decode archive envelope", zap.Error(err))
		return h.ackMessage(msg, false)
	}

	if err := h.validateMessage(internalMsg); err != nil {
		h.logger.Error("archive envelope validation failed", zap.Error(err))
		return h.ackMessage(msg, false)
	}

	if err := h.processMessage(ctx, internalMsg); err != nil {
		h.logger.Error("failed to apply archive event",
			zap.String("messageID", internalMsg.ID), zap.Error(err))
		return h.ackMessage(msg, false)
	}

	return h.ackMessage(msg, true)
}

// validateMessage validates the envelope structure
func (h *PgSQLHandler) validateMessage(msg *rpc.InternalMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	if msg.ID == "" {
		return fmt.Errorf("message ID is empty")
	}

	if len(msg.Data) == 0 {
		return fmt.Errorf("message data is empty")
	}

	switch msg.Type {
	case rpc.ORDER_PUT, rpc.ORDER_DELETE, rpc.MATCH_PUT, rpc.HOLD_PUT, rpc.HOLD_UPDATE, rpc.ANOMALY_PUT:
		return nil
	default:
		return fmt.Errorf("unknown message type: %v", msg.Type)
	}
}

// processMessage dispatches on the envelope type
func (h *PgSQLHandler) processMessage(ctx context.Context, msg *rpc.InternalMessage) error {
	switch msg.Type {
	case rpc.ORDER_PUT:
		return h.handleOrderPut(ctx, msg)
	case rpc.ORDER_DELETE:
		return h.handleOrderDelete(ctx, msg)
	case rpc.MATCH_PUT:
		return h.handleMatchPut(ctx, msg)
	case rpc.HOLD_PUT, rpc.HOLD_UPDATE:
		return h.handleHoldUpsert(ctx, msg)
	case rpc.ANOMALY_PUT:
		return h.handleAnomalyPut(ctx, msg)
	default:
		return fmt.Errorf("unsupported message type: %v", msg.Type)
	}
}

func (h *PgSQLHandler) handleOrderPut(ctx context.Context, msg *rpc.InternalMessage) error {
	var order orderbook.Order
	if err := msg.UnmarshalData(&order); err != nil {
		return fmt.Errorf("failed to unmarshal order: %w", err)
	}

	if err := h.validateOrder(&order); err != nil {
		return fmt.Errorf("order validation failed: %w", err)
	}

	modelOrder := models.NewOrderModel(&order)

	// The producer may redeliver; first write wins
	existing, err := h.orderRepo.GetByID(ctx, modelOrder.ID)
	if err == nil && existing.ID != "" {
		h.logger.Debug("order already archived, skipping", zap.String("orderID", modelOrder.ID))
		return nil
	}

	if err := h.orderRepo.Create(ctx, *modelOrder); err != nil {
		return fmt.Errorf("failed to archive order: %w", err)
	}

	return nil
}

// handleOrderDelete flips the deleted flag; the mirror keeps the row.
func (h *PgSQLHandler) handleOrderDelete(ctx context.Context, msg *rpc.InternalMessage) error {
	var order orderbook.Order
	if err := msg.UnmarshalData(&order); err != nil {
		return fmt.Errorf("failed to unmarshal order: %w", err)
	}

	if order.ID == "" {
		return fmt.Errorf("order ID is empty")
	}

	// A delete may outrun its put when confirms race. Write the full
	// row flagged deleted if the put has not landed yet.
	_, err := h.orderRepo.GetByID(ctx, order.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			modelOrder := models.NewOrderModel(&order)
			modelOrder.Deleted = true
			return h.orderRepo.Create(ctx, *modelOrder)
		}
		return err
	}

	if err := h.orderRepo.MarkDeleted(ctx, order.ID); err != nil {
		return fmt.Errorf("failed to mark order deleted: %w", err)
	}

	return nil
}

func (h *PgSQLHandler) handleMatchPut(ctx context.Context, msg *rpc.InternalMessage) error {
	var match orderbook.Match
	if err := msg.UnmarshalData(&match); err != nil {
		return fmt.Errorf("failed to unmarshal match: %w", err)
	}

	if err := h.validateMatch(&match); err != nil {
		return fmt.Errorf("match validation failed: %w", err)
	}

	modelMatch := models.NewMatchModel(&match)

	existing, err := h.matchRepo.GetByID(ctx, modelMatch.ID)
	if err == nil && existing.ID != "" {
		h.logger.Debug("match already archived, skipping", zap.String("matchID", modelMatch.ID))
		return nil
	}

	if err := h.matchRepo.Create(ctx, *modelMatch); err != nil {
		return fmt.Errorf("failed to archive match: %w", err)
	}

	return nil
}

// handleHoldUpsert covers both HOLD_PUT and HOLD_UPDATE: the payload is
// the full hold either way, so an upsert keeps the row at latest state.
func (h *PgSQLHandler) handleHoldUpsert(ctx context.Context, msg *rpc.InternalMessage) error {
	var hold settle.Hold
	if err := msg.UnmarshalData(&hold); err != nil {
		return fmt.Errorf("failed to unmarshal hold: %w", err)
	}

	if err := h.validateHold(&hold); err != nil {
		return fmt.Errorf("hold validation failed: %w", err)
	}

	modelHold := models.NewHoldModel(&hold)
	if err := h.holdRepo.Upsert(ctx, *modelHold); err != nil {
		return fmt.Errorf("failed to archive hold: %w", err)
	}

	return nil
}

func (h *PgSQLHandler) handleAnomalyPut(ctx context.Context, msg *rpc.InternalMessage) error {
	var anomaly Anomaly
	if err := msg.UnmarshalData(&anomaly); err != nil {
		return fmt.Errorf("failed to unmarshal anomaly: %w", err)
	}

	if anomaly.Kind == "" {
		return fmt.Errorf("anomaly kind is empty")
	}

	modelAnomaly := models.NewAnomalyModel(anomaly.Seq, anomaly.Kind, anomaly.Detail, anomaly.SimTime, anomaly.Ts)
	if err := h.anomalyRepo.Create(ctx, *modelAnomaly); err != nil {
		return fmt.Errorf("failed to archive anomaly: %w", err)
	}

	return nil
}

// validateOrder validates an orderbook.Order payload
func (h *PgSQLHandler) validateOrder(order *orderbook.Order) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}

	if order.ID == "" {
		return fmt.Errorf("order ID is empty")
	}

	if order.Trader == "" {
		return fmt.Errorf("order trader is empty")
	}

	if order.Qty <= 0 {
		return fmt.Errorf("order quantity is not positive")
	}

	return nil
}

// validateMatch validates an orderbook.Match payload
func (h *PgSQLHandler) validateMatch(match *orderbook.Match) error {
	if match == nil {
		return fmt.Errorf("match is nil")
	}

	if match.ID == "" {
		return fmt.Errorf("match ID is empty")
	}

	if match.BookID == "" {
		return fmt.Errorf("match book ID is empty")
	}

	if match.Price.Compare(fpdecimal.Zero) <= 0 {
		return fmt.Errorf("match price is not positive")
	}

	return nil
}

// validateHold validates a settle.Hold payload
func (h *PgSQLHandler) validateHold(hold *settle.Hold) error {
	if hold == nil {
		return fmt.Errorf("hold is nil")
	}

	if hold.ID == "" {
		return fmt.Errorf("hold ID is empty")
	}

	if hold.LegID == "" || hold.ContractID == "" {
		return fmt.Errorf("hold leg or contract ID is empty")
	}

	if hold.Amount.Compare(fpdecimal.Zero) < 0 {
		return fmt.Errorf("hold amount is negative")
	}

	return nil
}

// ackMessage acknowledges or nacks a RabbitMQ message
func (h *PgSQLHandler) ackMessage(msg amqp.Delivery, ack bool) error {
	if ack {
		return msg.Ack(false)
	}
	return msg.Nack(false, true) // Requeue the message
}

// GetStats returns archive row counts per table
func (h *PgSQLHandler) GetStats(ctx context.Context) (map[string]interface{}, error) {
	orderCount, err := h.orderRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order count: %w", err)
	}

	matchCount, err := h.matchRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get match count: %w", err)
	}

	holdCount, err := h.holdRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get hold count: %w", err)
	}

	anomalyCount, err := h.anomalyRepo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly count: %w", err)
	}

	return map[string]interface{}{
		"orders":    orderCount,
		"matches":   matchCount,
		"holds":     holdCount,
		"anomalies": anomalyCount,
		"timestamp": time.Now(),
	}, nil
}
