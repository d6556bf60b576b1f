package sim

import (
	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/orderbook"
)

// Quote offsets, per instrument flavor. Freight books trade wider than
// ownership books.
var (
	DefaultFreightOffset   = fpdecimal.FromInt(100)
	DefaultOwnershipOffset = fpdecimal.FromInt(50)
)

// Maker posts two-sided quotes for a single trading account. It carries no
// inventory model: one unit per side, centered on the book's best ask when
// one exists, else on the caller's reference price.
type Maker struct {
	engine          *engine.Engine
	books           *orderbook.Registry
	trader          string
	freightOffset   fpdecimal.Decimal
	ownershipOffset fpdecimal.Decimal
	logger          *zap.Logger
}

func NewMaker(eng *engine.Engine, books *orderbook.Registry, trader string, log *zap.Logger) *Maker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Maker{
		engine:          eng,
		books:           books,
		trader:          trader,
		freightOffset:   DefaultFreightOffset,
		ownershipOffset: DefaultOwnershipOffset,
		logger:          log,
	}
}

// Trader returns the account the maker trades as.
func (mk *Maker) Trader() string { return mk.trader }

// Quote submits bid ref-offset and ask ref+offset, quantity one each. The
// bid is skipped when the offset pushes it to zero or below. Receipts come
// back in submission order so callers can track the resting order ids.
func (mk *Maker) Quote(bookID string, defaultRef fpdecimal.Decimal) ([]*orderbook.Receipt, error) {
	orderType, _, _, err := orderbook.ParseBookID(bookID)
	if err != nil {
		return nil, err
	}
	offset := mk.freightOffset
	if orderType == orderbook.ContractOwnership {
		offset = mk.ownershipOffset
	}

	ref := defaultRef
	if book, ok := mk.books.Lookup(bookID); ok {
		if best, ok := book.BestAsk(); ok {
			ref = best
		}
	}

	var receipts []*orderbook.Receipt
	if bid := ref.Sub(offset); bid.GreaterThan(fpdecimal.Zero) {
		r, err := mk.engine.Submit(engine.SubmitRequest{
			BookID: bookID,
			Trader: mk.trader,
			Side:   orderbook.Bid,
			Price:  bid,
			Qty:    1,
		})
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, r)
	}
	r, err := mk.engine.Submit(engine.SubmitRequest{
		BookID: bookID,
		Trader: mk.trader,
		Side:   orderbook.Ask,
		Price:  ref.Add(offset),
		Qty:    1,
	})
	if err != nil {
		return receipts, err
	}
	receipts = append(receipts, r)

	mk.logger.Debug("maker quoted",
		zap.String("bookID", bookID),
		zap.String("ref", ref.String()),
		zap.String("offset", offset.String()))
	return receipts, nil
}
