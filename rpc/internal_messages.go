package rpc

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
)

// Internal message types for the archive stream
type InternalMessageType byte

const (
	// Order operations
	ORDER_PUT InternalMessageType = iota
	ORDER_DELETE

	// Match log (append only)
	MATCH_PUT

	// Hold lifecycle
	HOLD_PUT
	HOLD_UPDATE

	// Anomaly log (append only)
	ANOMALY_PUT
)

// InternalMessage is the envelope every archive event travels in.
type InternalMessage struct {
	ID        string              `json:"id"`
	Type      InternalMessageType `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	Data      json.RawMessage     `json:"data"`
}

// NewInternalMessage wraps a payload in a fresh envelope.
func NewInternalMessage(msgType InternalMessageType, data interface{}) (*InternalMessage, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &InternalMessage{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      jsonData,
	}, nil
}

// Helper constructors for the common payloads

func NewOrderPutMessage(order *orderbook.Order) (*InternalMessage, error) {
	return NewInternalMessage(ORDER_PUT, order)
}

func NewOrderDeleteMessage(order *orderbook.Order) (*InternalMessage, error) {
	return NewInternalMessage(ORDER_DELETE, order)
}

func NewMatchPutMessage(match *orderbook.Match) (*InternalMessage, error) {
	return NewInternalMessage(MATCH_PUT, match)
}

func NewHoldPutMessage(hold *settle.Hold) (*InternalMessage, error) {
	return NewInternalMessage(HOLD_PUT, hold)
}

func NewHoldUpdateMessage(hold *settle.Hold) (*InternalMessage, error) {
	return NewInternalMessage(HOLD_UPDATE, hold)
}

// ToBytes serializes the envelope for the wire.
func (m *InternalMessage) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// FromBytes deserializes an envelope off the wire.
func FromBytes(data []byte) (*InternalMessage, error) {
	var msg InternalMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}

// UnmarshalData decodes the payload into target.
func (m *InternalMessage) UnmarshalData(target interface{}) error {
	return json.Unmarshal(m.Data, target)
}
