package orderbook

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/huandu/skiplist"
	"github.com/nikolaydubina/fpdecimal"
)

func cmpDecimal(a, b fpdecimal.Decimal) int {
	if a.Equal(b) {
		return 0
	}
	if a.GreaterThan(b) {
		return 1
	}
	return -1
}

// priceKeyAsc orders asks lowest-price-first.
type priceKeyAsc struct{}

func (priceKeyAsc) Compare(lhs, rhs interface{}) int {
	return cmpDecimal(lhs.(fpdecimal.Decimal), rhs.(fpdecimal.Decimal))
}

func (priceKeyAsc) CalcScore(key interface{}) float64 {
	return key.(fpdecimal.Decimal).Float64()
}

// priceKeyDesc orders bids highest-price-first.
type priceKeyDesc struct{}

func (priceKeyDesc) Compare(lhs, rhs interface{}) int {
	return -cmpDecimal(lhs.(fpdecimal.Decimal), rhs.(fpdecimal.Decimal))
}

func (priceKeyDesc) CalcScore(key interface{}) float64 {
	return -key.(fpdecimal.Decimal).Float64()
}

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price  fpdecimal.Decimal
	orders *deque.Deque[*Order]
	qty    int64
}

func newPriceLevel(price fpdecimal.Decimal) *priceLevel {
	return &priceLevel{price: price, orders: deque.New[*Order]()}
}

func (pl *priceLevel) add(o *Order) {
	pl.orders.PushBack(o)
	pl.qty += o.Qty
}

// remove drops the order with the given id, preserving FIFO order of the
// rest. Returns nil when the id is not at this level.
func (pl *priceLevel) remove(orderID string) *Order {
	var removed *Order
	for n := pl.orders.Len(); n > 0; n-- {
		o := pl.orders.PopFront()
		if o.ID == orderID && removed == nil {
			removed = o
			continue
		}
		pl.orders.PushBack(o)
	}
	if removed != nil {
		pl.qty -= removed.Qty
	}
	return removed
}

func (pl *priceLevel) empty() bool {
	return pl.orders.Len() == 0
}

func (pl *priceLevel) head() *Order {
	if pl.orders.Len() == 0 {
		return nil
	}
	return pl.orders.Front()
}

// Book is one instrument's resting-order store. Skip lists give O(log n)
// insertion and removal and O(1) best-price access; within a price level
// orders queue FIFO by acceptance.
type Book struct {
	ID string

	mu    sync.RWMutex
	bids  *skiplist.SkipList
	asks  *skiplist.SkipList
	index map[string]*Order
	seq   uint64
}

func NewBook(id string) *Book {
	return &Book{
		ID:    id,
		bids:  skiplist.New(priceKeyDesc{}),
		asks:  skiplist.New(priceKeyAsc{}),
		index: make(map[string]*Order),
	}
}

// NextSeq hands out the per-book acceptance sequence. Callers invoke it
// inside the book's submission critical section, so values also define
// the total order of admissions.
func (b *Book) NextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

func (b *Book) side(s Side) *skiplist.SkipList {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// Insert places a resting order on its side. Admission checks (crossing,
// funds) are the engine's job; the book only stores.
func (b *Book) Insert(o *Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[o.ID]; ok {
		return fmt.Errorf("order %s already resting in book %s", o.ID, b.ID)
	}

	list := b.side(o.Side)
	var level *priceLevel
	if elem := list.Get(o.Price); elem != nil {
		level = elem.Value.(*priceLevel)
	} else {
		level = newPriceLevel(o.Price)
		list.Set(o.Price, level)
	}
	level.add(o)
	b.index[o.ID] = o
	return nil
}

// Peek returns the best resting order on a side: FIFO head of the best
// price level, or nil when the side is empty.
func (b *Book) Peek(s Side) *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()

	front := b.side(s).Front()
	if front == nil {
		return nil
	}
	return front.Value.(*priceLevel).head()
}

// Remove takes a resting order out of the book by id.
func (b *Book) Remove(orderID string) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[orderID]
	if !ok {
		return nil
	}
	list := b.side(o.Side)
	elem := list.Get(o.Price)
	if elem == nil {
		return nil
	}
	level := elem.Value.(*priceLevel)
	removed := level.remove(orderID)
	if level.empty() {
		list.Remove(o.Price)
	}
	delete(b.index, orderID)
	return removed
}

// Reduce shrinks a resting order's quantity in place after a partial
// fill. The order must stay strictly positive; full consumption goes
// through Remove.
func (b *Book) Reduce(orderID string, by int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.index[orderID]
	if !ok {
		return fmt.Errorf("order %s not resting in book %s", orderID, b.ID)
	}
	if by <= 0 || by >= o.Qty {
		return fmt.Errorf("invalid reduction %d for order %s with qty %d", by, orderID, o.Qty)
	}
	o.Qty -= by
	if elem := b.side(o.Side).Get(o.Price); elem != nil {
		elem.Value.(*priceLevel).qty -= by
	}
	return nil
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (fpdecimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if front := b.bids.Front(); front != nil {
		return front.Value.(*priceLevel).price, true
	}
	return fpdecimal.Zero, false
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (fpdecimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if front := b.asks.Front(); front != nil {
		return front.Value.(*priceLevel).price, true
	}
	return fpdecimal.Zero, false
}

func (b *Book) Len(s Side) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for elem := b.side(s).Front(); elem != nil; elem = elem.Next() {
		n += elem.Value.(*priceLevel).orders.Len()
	}
	return n
}

// Clear drops every resting order and restarts the sequence.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = skiplist.New(priceKeyDesc{})
	b.asks = skiplist.New(priceKeyAsc{})
	b.index = make(map[string]*Order)
	b.seq = 0
}

// SnapshotEntry is one resting order in a snapshot, serialized as the
// triple [price, order_id, qty].
type SnapshotEntry struct {
	Price   fpdecimal.Decimal
	OrderID string
	Qty     int64
}

func (e SnapshotEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Price, e.OrderID, e.Qty})
}

func (e *SnapshotEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("snapshot entry needs 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Price); err != nil {
		return err
	}
	if err := json.Unmarshal(raw[1], &e.OrderID); err != nil {
		return err
	}
	return json.Unmarshal(raw[2], &e.Qty)
}

// Snapshot is the point-in-time view of one book: bids descending, asks
// ascending, FIFO within a level.
type Snapshot struct {
	BookID string          `json:"book_id"`
	Bids   []SnapshotEntry `json:"bids"`
	Asks   []SnapshotEntry `json:"asks"`
}

func (b *Book) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := &Snapshot{
		BookID: b.ID,
		Bids:   make([]SnapshotEntry, 0),
		Asks:   make([]SnapshotEntry, 0),
	}
	for elem := b.bids.Front(); elem != nil; elem = elem.Next() {
		level := elem.Value.(*priceLevel)
		for i := 0; i < level.orders.Len(); i++ {
			o := level.orders.At(i)
			snap.Bids = append(snap.Bids, SnapshotEntry{Price: o.Price, OrderID: o.ID, Qty: o.Qty})
		}
	}
	for elem := b.asks.Front(); elem != nil; elem = elem.Next() {
		level := elem.Value.(*priceLevel)
		for i := 0; i < level.orders.Len(); i++ {
			o := level.orders.At(i)
			snap.Asks = append(snap.Asks, SnapshotEntry{Price: o.Price, OrderID: o.ID, Qty: o.Qty})
		}
	}
	return snap
}
