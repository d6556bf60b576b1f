package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nikolaydubina/fpdecimal"

	"github.com/openfreight/freightsim/api/handlers"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/storage"
)

// OrderController handles HTTP requests for orders
type OrderController struct {
	orderHandler *handlers.OrderHandler
}

// NewOrderController creates a new order controller
func NewOrderController(orderHandler *handlers.OrderHandler) *OrderController {
	return &OrderController{
		orderHandler: orderHandler,
	}
}

// CreateOrder handles POST /orders
func (c *OrderController) CreateOrder(ctx echo.Context) error {
	var req CreateOrderRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Invalid request body", "Failed to parse request"))
	}

	submitReq, err := c.submitRequestFrom(&req)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse(err.Error(), "Validation failed"))
	}

	result := c.orderHandler.SubmitOrder(ctx.Request().Context(), submitReq)
	if result.Error != nil {
		return ctx.JSON(submitStatus(result.Error), NewErrorResponse(result.Error.Error(), result.Message))
	}

	return ctx.JSON(http.StatusCreated, NewSuccessResponse(result.Data, result.Message))
}

// GetOrder handles GET /orders/:order_id
func (c *OrderController) GetOrder(ctx echo.Context) error {
	orderID := ctx.Param("order_id")
	if orderID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Order ID is required", "Missing order ID"))
	}

	result := c.orderHandler.GetOrder(ctx.Request().Context(), orderID)
	if result.Error != nil {
		return ctx.JSON(http.StatusNotFound, NewErrorResponse(result.Error.Error(), result.Message))
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// CancelOrder handles DELETE /orders/:order_id
func (c *OrderController) CancelOrder(ctx echo.Context) error {
	orderID := ctx.Param("order_id")
	if orderID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Order ID is required", "Missing order ID"))
	}

	result := c.orderHandler.CancelOrder(ctx.Request().Context(), orderID)
	if result.Error != nil {
		status := http.StatusInternalServerError
		if errors.Is(result.Error, engine.ErrUnknownOrder) || errors.Is(result.Error, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		return ctx.JSON(status, NewErrorResponse(result.Error.Error(), result.Message))
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// submitRequestFrom validates the DTO and resolves the target book
func (c *OrderController) submitRequestFrom(req *CreateOrderRequest) (engine.SubmitRequest, error) {
	var out engine.SubmitRequest

	if req.Trader == "" {
		return out, errors.New("trader is required")
	}
	if !orderbook.IsAllowedSide(req.Side) {
		return out, errors.New("side must be bid or ask")
	}
	if req.Price == "" {
		return out, errors.New("price is required")
	}

	price, err := fpdecimal.FromString(req.Price)
	if err != nil {
		return out, errors.New("price is not a valid decimal")
	}

	bookID, err := resolveBookID(req)
	if err != nil {
		return out, err
	}

	out = engine.SubmitRequest{
		BookID: bookID,
		Trader: req.Trader,
		Side:   orderbook.Side(req.Side),
		Price:  price,
		Qty:    req.Qty,
	}
	return out, nil
}

func resolveBookID(req *CreateOrderRequest) (string, error) {
	if req.BookID != "" {
		return req.BookID, nil
	}
	if req.OrderType == string(orderbook.ContractOwnership) {
		if req.ContractID == "" {
			return "", errors.New("contract_id is required for ownership orders")
		}
		return orderbook.OwnershipBookID(req.ContractID), nil
	}
	if req.LegID != "" && req.ContractID != "" {
		return orderbook.LegBookID(req.LegID, req.ContractID), nil
	}
	return "", errors.New("book_id, or leg_id with contract_id, is required")
}

// submitStatus maps engine rejections onto HTTP statuses: validation
// failures are 400, an unfundable bid is 402, anything else is 500.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrBadOrder):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
