package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/metrics"
)

var (
	ErrBadOrder         = errors.New("rejected bad order")
	ErrUnknownOrder     = errors.New("unknown order")
	ErrLostRestingOrder = errors.New("resting order lost")
)

// Store is the engine's persistence surface. Orders are immutable
// acceptance records; the match log is append-only per book.
type Store interface {
	PutOrder(*orderbook.Order) error
	GetOrder(id string) (*orderbook.Order, error)
	DeleteOrder(id string) error
	AppendMatch(*orderbook.Match) error
}

// SubmitRequest is one order submission. Instrument flavor and contract
// are derived from the book id, never trusted from the caller.
type SubmitRequest struct {
	BookID string
	Trader string
	Side   orderbook.Side
	Price  fpdecimal.Decimal
	Qty    int64
}

// Engine serializes all mutating work per book and owns the matching
// algorithm: match at the resting price, earliest order first.
type Engine struct {
	registry  *orderbook.Registry
	ledger    *ledger.Ledger
	store     Store
	settler   *settle.Settler
	contracts *contract.Manager
	anomaly   ledger.AnomalySink
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(reg *orderbook.Registry, led *ledger.Ledger, store Store, settler *settle.Settler, contracts *contract.Manager, sink ledger.AnomalySink, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		registry:  reg,
		ledger:    led,
		store:     store,
		settler:   settler,
		contracts: contracts,
		anomaly:   sink,
		logger:    log,
		locks:     make(map[string]*sync.Mutex),
	}
}

// bookLock returns the mutex serializing mutations of one book.
func (e *Engine) bookLock(bookID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[bookID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[bookID] = l
	}
	return l
}

func (e *Engine) record(kind, detail string) {
	e.logger.Warn("anomaly", zap.String("kind", kind), zap.String("detail", detail))
	metrics.Get().AnomalyRecorded(kind)
	if e.anomaly != nil {
		e.anomaly(kind, detail)
	}
}

func (e *Engine) validate(req SubmitRequest) (orderbook.OrderType, string, error) {
	if req.Trader == "" {
		return "", "", fmt.Errorf("%w: trader is required", ErrBadOrder)
	}
	if req.Side != orderbook.Bid && req.Side != orderbook.Ask {
		return "", "", fmt.Errorf("%w: side %q", ErrBadOrder, req.Side)
	}
	if req.Qty <= 0 {
		return "", "", fmt.Errorf("%w: qty must be positive", ErrBadOrder)
	}
	if !req.Price.GreaterThan(fpdecimal.Zero) {
		return "", "", fmt.Errorf("%w: price must be positive", ErrBadOrder)
	}
	orderType, _, contractID, err := orderbook.ParseBookID(req.BookID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadOrder, err)
	}
	return orderType, contractID, nil
}

// crosses reports whether an incoming order at price trades against the
// best resting opposite price.
func crosses(side orderbook.Side, incoming, resting fpdecimal.Decimal) bool {
	if side == orderbook.Bid {
		return incoming.Equal(resting) || incoming.GreaterThan(resting)
	}
	return resting.Equal(incoming) || resting.GreaterThan(incoming)
}

// Submit runs the full matching algorithm for one order: persist,
// pre-trade lock for bids, cross against the opposite side level by
// level at the resting price, settle each tranche, then rest any
// remainder. Bids that clear below their limit get the difference
// released back per tranche.
func (e *Engine) Submit(req SubmitRequest) (*orderbook.Receipt, error) {
	start := time.Now()
	orderType, contractID, err := e.validate(req)
	if err != nil {
		metrics.Get().OrderSubmitted(req.BookID, string(req.Side), "rejected_bad_order")
		return nil, err
	}

	lock := e.bookLock(req.BookID)
	lock.Lock()
	defer lock.Unlock()

	book := e.registry.Get(req.BookID)
	o := &orderbook.Order{
		ID:         uuid.NewString(),
		BookID:     req.BookID,
		Trader:     req.Trader,
		Side:       req.Side,
		Price:      req.Price,
		Qty:        req.Qty,
		OrderType:  orderType,
		ContractID: contractID,
		Ts:         time.Now(),
		Seq:        book.NextSeq(),
	}
	if err := e.store.PutOrder(o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	receipt := &orderbook.Receipt{
		OrderID: o.ID,
		BookID:  o.BookID,
		Trader:  o.Trader,
		Side:    o.Side,
	}

	if o.Side == orderbook.Bid {
		notional := o.Notional()
		if err := e.ledger.Lock(o.Trader, notional); err != nil {
			if delErr := e.store.DeleteOrder(o.ID); delErr != nil {
				e.logger.Error("rejected order cleanup failed", zap.String("orderID", o.ID), zap.Error(delErr))
			}
			metrics.Get().OrderSubmitted(req.BookID, string(req.Side), "rejected_insufficient_funds")
			return nil, err
		}
		receipt.Locked = notional
	}

	remaining := o.Qty
	for remaining > 0 {
		resting := book.Peek(o.Side.Opposite())
		if resting == nil || !crosses(o.Side, o.Price, resting.Price) {
			break
		}
		if _, err := e.store.GetOrder(resting.ID); err != nil {
			return nil, e.abortLostResting(book, o, resting, remaining, receipt)
		}

		matchPrice := resting.Price
		matchQty := min(remaining, resting.Qty)

		if matchQty == resting.Qty {
			book.Remove(resting.ID)
			if err := e.store.DeleteOrder(resting.ID); err != nil {
				e.logger.Error("consumed order cleanup failed", zap.String("orderID", resting.ID), zap.Error(err))
			}
		} else if err := book.Reduce(resting.ID, matchQty); err != nil {
			return nil, fmt.Errorf("reduce resting order %s: %w", resting.ID, err)
		}

		m := &orderbook.Match{
			ID:         uuid.NewString(),
			BookID:     book.ID,
			Price:      matchPrice,
			Qty:        matchQty,
			MatchType:  orderType,
			ContractID: contractID,
			Ts:         time.Now(),
		}
		if o.Side == orderbook.Bid {
			m.BidID, m.BidTrader = o.ID, o.Trader
			m.AskID, m.AskTrader = resting.ID, resting.Trader
		} else {
			m.BidID, m.BidTrader = resting.ID, resting.Trader
			m.AskID, m.AskTrader = o.ID, o.Trader
		}

		if err := e.store.AppendMatch(m); err != nil {
			e.record("match_log_append_failure", fmt.Sprintf("match %s on %s: %v", m.ID, book.ID, err))
		}
		if err := e.settler.SettleMatch(m); err != nil {
			e.record("settlement_failure", fmt.Sprintf("match %s on %s: %v", m.ID, book.ID, err))
		}

		// Price improvement: the bid pre-locked at its limit but cleared
		// at the resting price.
		if o.Side == orderbook.Bid && o.Price.GreaterThan(matchPrice) {
			improvement := o.Price.Sub(matchPrice).Mul(fpdecimal.FromInt(matchQty))
			if err := e.ledger.Release(o.Trader, improvement, "price improvement"); err != nil {
				e.logger.Error("price improvement release failed", zap.String("orderID", o.ID), zap.Error(err))
			} else {
				receipt.Released = receipt.Released.Add(improvement)
			}
		}

		remaining -= matchQty
		receipt.Matches = append(receipt.Matches, m)
		metrics.Get().MatchExecuted(book.ID, string(m.MatchType))

		e.logger.Info("match",
			zap.String("bookID", book.ID),
			zap.String("bidTrader", m.BidTrader),
			zap.String("askTrader", m.AskTrader),
			zap.String("price", m.Price.String()),
			zap.Int64("qty", m.Qty))
	}

	if remaining > 0 {
		o.Qty = remaining
		if err := book.Insert(o); err != nil {
			return nil, fmt.Errorf("rest order %s: %w", o.ID, err)
		}
		receipt.Resting = true
		receipt.RestingQty = remaining
	} else if err := e.store.DeleteOrder(o.ID); err != nil {
		e.logger.Error("consumed order cleanup failed", zap.String("orderID", o.ID), zap.Error(err))
	}

	// An admitted ownership bid that did not trade hands the contract to
	// whoever holds the top of the bid side now. A matched bid already
	// got it through settlement.
	if orderType == orderbook.ContractOwnership && o.Side == orderbook.Bid && len(receipt.Matches) == 0 && e.contracts != nil {
		if best := book.Peek(orderbook.Bid); best != nil {
			if err := e.contracts.SetCurrentOwner(contractID, best.Trader); err != nil {
				e.logger.Debug("owner update skipped",
					zap.String("contractID", contractID), zap.Error(err))
			}
		}
	}

	metrics.Get().OrderSubmitted(req.BookID, string(req.Side), "accepted")
	metrics.Get().SetRestingOrders(book.ID, string(orderbook.Bid), book.Len(orderbook.Bid))
	metrics.Get().SetRestingOrders(book.ID, string(orderbook.Ask), book.Len(orderbook.Ask))
	metrics.Get().ObserveSubmitLatency(req.BookID, time.Since(start).Seconds())
	return receipt, nil
}

// abortLostResting handles a resting order whose persisted record is
// gone: the zombie leaves the book, the submission stops, and tranches
// already settled stand. The incoming bid gets its unspent lock back.
func (e *Engine) abortLostResting(book *orderbook.Book, o, resting *orderbook.Order, remaining int64, receipt *orderbook.Receipt) error {
	book.Remove(resting.ID)
	e.record("lost_resting_order",
		fmt.Sprintf("order %s missing from store; evicted from book %s", resting.ID, book.ID))

	if o.Side == orderbook.Bid {
		refund := o.Price.Mul(fpdecimal.FromInt(remaining))
		if err := e.ledger.Release(o.Trader, refund, "submission aborted"); err != nil {
			e.logger.Error("abort refund failed", zap.String("orderID", o.ID), zap.Error(err))
		}
	}
	if err := e.store.DeleteOrder(o.ID); err != nil {
		e.logger.Error("aborted order cleanup failed", zap.String("orderID", o.ID), zap.Error(err))
	}
	return fmt.Errorf("%w: book %s order %s", ErrLostRestingOrder, book.ID, resting.ID)
}

// Cancel pulls a resting order and refunds a bid's remaining lock.
// Orders already fully consumed are gone from the store and report
// unknown.
func (e *Engine) Cancel(orderID string) (*orderbook.Order, error) {
	stored, err := e.store.GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	lock := e.bookLock(stored.BookID)
	lock.Lock()
	defer lock.Unlock()

	book := e.registry.Get(stored.BookID)
	removed := book.Remove(orderID)
	if removed == nil {
		return nil, fmt.Errorf("%w: order %s not resting in %s", ErrUnknownOrder, orderID, stored.BookID)
	}

	if removed.Side == orderbook.Bid {
		refund := removed.Price.Mul(fpdecimal.FromInt(removed.Qty))
		if err := e.ledger.Release(removed.Trader, refund, "order cancelled"); err != nil {
			e.logger.Error("cancel refund failed", zap.String("orderID", orderID), zap.Error(err))
		}
	}
	if err := e.store.DeleteOrder(orderID); err != nil {
		e.logger.Error("cancelled order cleanup failed", zap.String("orderID", orderID), zap.Error(err))
	}

	metrics.Get().SetRestingOrders(book.ID, string(orderbook.Bid), book.Len(orderbook.Bid))
	metrics.Get().SetRestingOrders(book.ID, string(orderbook.Ask), book.Len(orderbook.Ask))
	e.logger.Info("order cancelled",
		zap.String("orderID", orderID),
		zap.String("bookID", stored.BookID),
		zap.String("trader", removed.Trader))
	return removed, nil
}
