package orderbook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

type Side string

const (
	Bid Side = "bid"
	Ask Side = "ask"
)

var Sides []Side

func IsAllowedSide(side string) bool {
	for _, s := range Sides {
		if side == string(s) {
			return true
		}
	}
	return false
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// OrderType discriminates the two instrument flavors. Matches carry the
// same value as their MatchType.
type OrderType string

const (
	LegFreight        OrderType = "LEG_FREIGHT"
	ContractOwnership OrderType = "CONTRACT_OWNERSHIP"
)

var OrderTypes []OrderType

func IsAllowedOrderType(t string) bool {
	for _, ot := range OrderTypes {
		if t == string(ot) {
			return true
		}
	}
	return false
}

func init() {
	Sides = []Side{Bid, Ask}
	OrderTypes = []OrderType{LegFreight, ContractOwnership}
	fpdecimal.FractionDigits = 4
}

// Order is the immutable record persisted at submission. Seq is the
// per-book acceptance sequence and the authoritative tie-break.
type Order struct {
	ID         string            `json:"id"`
	BookID     string            `json:"book_id"`
	Trader     string            `json:"trader"`
	Side       Side              `json:"side"`
	Price      fpdecimal.Decimal `json:"price"`
	Qty        int64             `json:"qty"`
	OrderType  OrderType         `json:"order_type"`
	ContractID string            `json:"contract_id,omitempty"`
	Ts         time.Time         `json:"ts"`
	Seq        uint64            `json:"seq"`
}

// Notional returns price * qty.
func (o *Order) Notional() fpdecimal.Decimal {
	return o.Price.Mul(fpdecimal.FromInt(o.Qty))
}

type orderJSON struct {
	ID         string    `json:"id"`
	BookID     string    `json:"book_id"`
	Trader     string    `json:"trader"`
	Side       Side      `json:"side"`
	Price      string    `json:"price"`
	Qty        int64     `json:"qty"`
	OrderType  OrderType `json:"order_type"`
	ContractID string    `json:"contract_id,omitempty"`
	Ts         time.Time `json:"ts"`
	Seq        uint64    `json:"seq"`
}

func (o *Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		ID:         o.ID,
		BookID:     o.BookID,
		Trader:     o.Trader,
		Side:       o.Side,
		Price:      o.Price.String(),
		Qty:        o.Qty,
		OrderType:  o.OrderType,
		ContractID: o.ContractID,
		Ts:         o.Ts,
		Seq:        o.Seq,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var aux orderJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := fpdecimal.FromString(aux.Price)
	if err != nil {
		return err
	}
	o.ID = aux.ID
	o.BookID = aux.BookID
	o.Trader = aux.Trader
	o.Side = aux.Side
	o.Price = price
	o.Qty = aux.Qty
	o.OrderType = aux.OrderType
	o.ContractID = aux.ContractID
	o.Ts = aux.Ts
	o.Seq = aux.Seq
	return nil
}

// Match is appended to the per-book match log. MatchType mirrors the
// resting/incoming orders' shared OrderType.
type Match struct {
	ID         string            `json:"id"`
	BookID     string            `json:"book_id"`
	BidID      string            `json:"bid_id"`
	AskID      string            `json:"ask_id"`
	BidTrader  string            `json:"bid_trader"`
	AskTrader  string            `json:"ask_trader"`
	Price      fpdecimal.Decimal `json:"price"`
	Qty        int64             `json:"qty"`
	MatchType  OrderType         `json:"match_type"`
	ContractID string            `json:"contract_id,omitempty"`
	Ts         time.Time         `json:"ts"`
}

func (m *Match) Amount() fpdecimal.Decimal {
	return m.Price.Mul(fpdecimal.FromInt(m.Qty))
}

type matchJSON struct {
	ID         string    `json:"id"`
	BookID     string    `json:"book_id"`
	BidID      string    `json:"bid_id"`
	AskID      string    `json:"ask_id"`
	BidTrader  string    `json:"bid_trader"`
	AskTrader  string    `json:"ask_trader"`
	Price      string    `json:"price"`
	Qty        int64     `json:"qty"`
	MatchType  OrderType `json:"match_type"`
	ContractID string    `json:"contract_id,omitempty"`
	Ts         time.Time `json:"ts"`
}

func (m *Match) MarshalJSON() ([]byte, error) {
	return json.Marshal(matchJSON{
		ID:         m.ID,
		BookID:     m.BookID,
		BidID:      m.BidID,
		AskID:      m.AskID,
		BidTrader:  m.BidTrader,
		AskTrader:  m.AskTrader,
		Price:      m.Price.String(),
		Qty:        m.Qty,
		MatchType:  m.MatchType,
		ContractID: m.ContractID,
		Ts:         m.Ts,
	})
}

func (m *Match) UnmarshalJSON(data []byte) error {
	var aux matchJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	price, err := fpdecimal.FromString(aux.Price)
	if err != nil {
		return err
	}
	m.ID = aux.ID
	m.BookID = aux.BookID
	m.BidID = aux.BidID
	m.AskID = aux.AskID
	m.BidTrader = aux.BidTrader
	m.AskTrader = aux.AskTrader
	m.Price = price
	m.Qty = aux.Qty
	m.MatchType = aux.MatchType
	m.ContractID = aux.ContractID
	m.Ts = aux.Ts
	return nil
}

const ownershipPrefix = "contract:"

// LegBookID forms the freight book id for a leg, e.g. "L1_C1".
func LegBookID(legID, contractID string) string {
	return fmt.Sprintf("%s_%s", legID, contractID)
}

// OwnershipBookID forms the ownership book id, e.g. "contract:C1".
func OwnershipBookID(contractID string) string {
	return ownershipPrefix + contractID
}

// ParseBookID recovers the instrument flavor and ids from a book id.
// Leg books are "<leg_id>_<contract_id>"; ownership books
// "contract:<contract_id>". Both round-trip bit-exactly.
func ParseBookID(bookID string) (orderType OrderType, legID, contractID string, err error) {
	if rest, ok := strings.CutPrefix(bookID, ownershipPrefix); ok {
		if rest == "" {
			return "", "", "", fmt.Errorf("malformed ownership book id %q", bookID)
		}
		return ContractOwnership, "", rest, nil
	}
	leg, contract, ok := strings.Cut(bookID, "_")
	if !ok || leg == "" || contract == "" {
		return "", "", "", fmt.Errorf("malformed leg book id %q", bookID)
	}
	return LegFreight, leg, contract, nil
}
