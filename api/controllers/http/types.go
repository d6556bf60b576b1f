package http

import (
	"time"
)

// ResponseWrapper is a common response wrapper for HTTP responses
type ResponseWrapper struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data interface{}, message string) *ResponseWrapper {
	return &ResponseWrapper{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string, message string) *ResponseWrapper {
	return &ResponseWrapper{
		Success:   false,
		Error:     err,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// Request DTOs

// CreateOrderRequest targets a book either directly (book_id) or by
// naming the instrument: leg_id+contract_id for freight,
// order_type=CONTRACT_OWNERSHIP with contract_id for ownership.
type CreateOrderRequest struct {
	Side       string `json:"side" validate:"required,oneof=bid ask"`
	Trader     string `json:"trader" validate:"required"`
	BookID     string `json:"book_id"`
	LegID      string `json:"leg_id"`
	ContractID string `json:"contract_id"`
	OrderType  string `json:"order_type"`
	Price      string `json:"price" validate:"required"`
	Qty        int64  `json:"qty" validate:"required"`
}

// BalanceView carries one trader's balances as canonical decimal strings
type BalanceView struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// OwnerView is the current_owner projection of one contract
type OwnerView struct {
	ContractID   string `json:"contract_id"`
	CurrentOwner string `json:"current_owner"`
}
