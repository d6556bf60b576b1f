package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/storage"
)

// HandlerResult represents the result from business handlers
type HandlerResult struct {
	Data    interface{}
	Error   error
	Message string
}

// OrderHandler handles order-related business logic. Matching, escrow
// and persistence all live behind the engine; the handler adds logging
// and read access to the acceptance records.
type OrderHandler struct {
	engine *engine.Engine
	kvdb   *storage.KvDB
	logger *zap.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(eng *engine.Engine, kvdb *storage.KvDB, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{
		engine: eng,
		kvdb:   kvdb,
		logger: logger,
	}
}

// SubmitOrder runs one submission through the engine
func (h *OrderHandler) SubmitOrder(ctx context.Context, req engine.SubmitRequest) *HandlerResult {
	h.logger.Info("submitting order",
		zap.String("book", req.BookID),
		zap.String("trader", req.Trader),
		zap.String("side", string(req.Side)),
		zap.String("price", req.Price.String()),
		zap.Int64("qty", req.Qty))

	receipt, err := h.engine.Submit(req)
	if err != nil {
		h.logger.Warn("order rejected",
			zap.String("book", req.BookID),
			zap.String("trader", req.Trader),
			zap.Error(err))
		return &HandlerResult{
			Error:   err,
			Message: "Order rejected",
		}
	}

	h.logger.Info("order accepted",
		zap.String("orderID", receipt.OrderID),
		zap.String("book", receipt.BookID),
		zap.Int64("filled", receipt.FilledQty()),
		zap.Int64("resting", receipt.RestingQty))
	return &HandlerResult{
		Data:    receipt,
		Message: "Order accepted",
	}
}

// CancelOrder pulls a resting order and refunds its escrow
func (h *OrderHandler) CancelOrder(ctx context.Context, orderID string) *HandlerResult {
	order, err := h.engine.Cancel(orderID)
	if err != nil {
		h.logger.Warn("cancel failed", zap.String("orderID", orderID), zap.Error(err))
		return &HandlerResult{
			Error:   err,
			Message: "Order cancellation failed",
		}
	}

	h.logger.Info("order cancelled", zap.String("orderID", orderID), zap.String("book", order.BookID))
	return &HandlerResult{
		Data:    order,
		Message: "Order cancelled",
	}
}

// GetOrder retrieves the acceptance record by ID
func (h *OrderHandler) GetOrder(ctx context.Context, orderID string) *HandlerResult {
	order, err := h.kvdb.GetOrder(orderID)
	if err != nil {
		return &HandlerResult{
			Error:   err,
			Message: "Order retrieval failed",
		}
	}

	return &HandlerResult{
		Data:    order,
		Message: "Order retrieved",
	}
}
