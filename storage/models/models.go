package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
)

// Order mirror for PostgreSQL. Decimals travel as their canonical strings.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID         string    `bun:"id,pk" json:"id"`
	BookID     string    `bun:"book_id,notnull" json:"book_id"`
	Trader     string    `bun:"trader,notnull" json:"trader"`
	Side       string    `bun:"side,notnull" json:"side"`
	Price      string    `bun:"price,notnull" json:"price"`
	Qty        int64     `bun:"qty,notnull" json:"qty"`
	OrderType  string    `bun:"order_type,notnull" json:"order_type"`
	ContractID string    `bun:"contract_id" json:"contract_id"`
	Seq        uint64    `bun:"seq,notnull" json:"seq"`
	SubmitTs   time.Time `bun:"submit_ts,notnull" json:"submit_ts"`
	Deleted    bool      `bun:"deleted,notnull,default:false" json:"deleted"`
	ArchivedAt time.Time `bun:"archived_at,notnull,default:now()" json:"archived_at"`
}

// Match mirror for PostgreSQL.
type Match struct {
	bun.BaseModel `bun:"table:matches,alias:m"`

	ID         string    `bun:"id,pk" json:"id"`
	BookID     string    `bun:"book_id,notnull" json:"book_id"`
	BidID      string    `bun:"bid_id,notnull" json:"bid_id"`
	AskID      string    `bun:"ask_id,notnull" json:"ask_id"`
	BidTrader  string    `bun:"bid_trader,notnull" json:"bid_trader"`
	AskTrader  string    `bun:"ask_trader,notnull" json:"ask_trader"`
	Price      string    `bun:"price,notnull" json:"price"`
	Qty        int64     `bun:"qty,notnull" json:"qty"`
	MatchType  string    `bun:"match_type,notnull" json:"match_type"`
	ContractID string    `bun:"contract_id" json:"contract_id"`
	MatchTs    time.Time `bun:"match_ts,notnull" json:"match_ts"`
	ArchivedAt time.Time `bun:"archived_at,notnull,default:now()" json:"archived_at"`
}

// Hold mirror for PostgreSQL. HOLD_UPDATE messages overwrite the row, so
// the status column tracks the hold's latest state.
type Hold struct {
	bun.BaseModel `bun:"table:holds,alias:h"`

	ID         string    `bun:"id,pk" json:"id"`
	MatchID    string    `bun:"match_id,notnull" json:"match_id"`
	LegID      string    `bun:"leg_id,notnull" json:"leg_id"`
	ContractID string    `bun:"contract_id,notnull" json:"contract_id"`
	Amount     string    `bun:"amount,notnull" json:"amount"`
	Payer      string    `bun:"payer,notnull" json:"payer"`
	Payee      string    `bun:"payee,notnull" json:"payee"`
	Status     string    `bun:"status,notnull" json:"status"`
	HoldTs     time.Time `bun:"hold_ts,notnull" json:"hold_ts"`
	ArchivedAt time.Time `bun:"archived_at,notnull,default:now()" json:"archived_at"`
}

// Anomaly mirror for PostgreSQL. The hot path assigns Seq per run, so the
// archive keys rows by its own id.
type Anomaly struct {
	bun.BaseModel `bun:"table:anomalies,alias:a"`

	ID         string    `bun:"id,pk" json:"id"`
	Seq        uint64    `bun:"seq,notnull" json:"seq"`
	Kind       string    `bun:"kind,notnull" json:"kind"`
	Detail     string    `bun:"detail" json:"detail"`
	SimTime    int64     `bun:"sim_time,notnull" json:"sim_time"`
	Ts         time.Time `bun:"ts,notnull" json:"ts"`
	ArchivedAt time.Time `bun:"archived_at,notnull,default:now()" json:"archived_at"`
}

// Conversion from hot-path records to archive rows

func NewOrderModel(o *orderbook.Order) *Order {
	return &Order{
		ID:         o.ID,
		BookID:     o.BookID,
		Trader:     o.Trader,
		Side:       string(o.Side),
		Price:      o.Price.String(),
		Qty:        o.Qty,
		OrderType:  string(o.OrderType),
		ContractID: o.ContractID,
		Seq:        o.Seq,
		SubmitTs:   o.Ts,
		ArchivedAt: time.Now(),
	}
}

func NewMatchModel(m *orderbook.Match) *Match {
	return &Match{
		ID:         m.ID,
		BookID:     m.BookID,
		BidID:      m.BidID,
		AskID:      m.AskID,
		BidTrader:  m.BidTrader,
		AskTrader:  m.AskTrader,
		Price:      m.Price.String(),
		Qty:        m.Qty,
		MatchType:  string(m.MatchType),
		ContractID: m.ContractID,
		MatchTs:    m.Ts,
		ArchivedAt: time.Now(),
	}
}

func NewHoldModel(h *settle.Hold) *Hold {
	return &Hold{
		ID:         h.ID,
		MatchID:    h.MatchID,
		LegID:      h.LegID,
		ContractID: h.ContractID,
		Amount:     h.Amount.String(),
		Payer:      h.Payer,
		Payee:      h.Payee,
		Status:     string(h.Status),
		HoldTs:     h.Ts,
		ArchivedAt: time.Now(),
	}
}

// NewAnomalyModel assigns the archive row id; the payload struct is the
// storage.Anomaly record decoded straight off the wire.
func NewAnomalyModel(seq uint64, kind, detail string, simTime int64, ts time.Time) *Anomaly {
	return &Anomaly{
		ID:         uuid.NewString(),
		Seq:        seq,
		Kind:       kind,
		Detail:     detail,
		SimTime:    simTime,
		Ts:         ts,
		ArchivedAt: time.Now(),
	}
}
