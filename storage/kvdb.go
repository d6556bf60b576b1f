package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
)

// ErrNotFound hides pebble's sentinel from callers.
var ErrNotFound = errors.New("not found")

const defaultOrderCacheSize = 50000

// Anomaly is one entry of the append-only operator log. Seq orders
// entries within a single run; Reset starts over at zero.
type Anomaly struct {
	Seq     uint64    `json:"seq"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
	SimTime int64     `json:"sim_time"`
	Ts      time.Time `json:"ts"`
}

// KvDB keeps the simulation's hot state: orders, per-book match logs,
// escrow holds, contract snapshots and the anomaly log. Key layout:
//
//	order:<order_id>
//	match:<book_id>:<seq>
//	hold:<hold_id>
//	holdidx:<leg_id>:<contract_id>:<hold_id>
//	contract:<contract_id>
//	anomaly:<seq>
type KvDB struct {
	db     *pebble.DB
	cache  *OrderCache
	logger *zap.Logger

	mu         sync.Mutex
	matchSeq   map[string]uint64
	anomalySeq uint64
	simClock   func() int64
}

// NewDB opens pebble at path. An empty path means an in-memory store,
// which is what the simulator runs on by default.
func NewDB(path string, log *zap.Logger) (*KvDB, error) {
	opts := &pebble.Options{}
	if path == "" {
		path = "freightsim"
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	cache, err := NewOrderCache(defaultOrderCacheSize)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KvDB{
		db:       db,
		cache:    cache,
		logger:   log,
		matchSeq: make(map[string]uint64),
	}, nil
}

func (kv *KvDB) Close() error {
	return kv.db.Close()
}

// SetSimClock makes anomaly entries carry the simulation timestamp.
func (kv *KvDB) SetSimClock(clock func() int64) {
	kv.mu.Lock()
	kv.simClock = clock
	kv.mu.Unlock()
}

func (kv *KvDB) get(key []byte) ([]byte, error) {
	val, closer, err := kv.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	closer.Close()
	return out, nil
}

func orderKey(id string) []byte    { return []byte("order:" + id) }
func holdKey(id string) []byte     { return []byte("hold:" + id) }
func contractKey(id string) []byte { return []byte("contract:" + id) }

func holdIdxKey(legID, contractID, holdID string) []byte {
	return []byte(fmt.Sprintf("holdidx:%s:%s:%s", legID, contractID, holdID))
}

func matchKey(bookID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("match:%s:%012d", bookID, seq))
}

func anomalyKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("anomaly:%012d", seq))
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// PutOrder stores the immutable acceptance record. The cache keeps its
// own copy so later in-book quantity updates never leak into reads.
func (kv *KvDB) PutOrder(o *orderbook.Order) error {
	data, err := o.MarshalJSON()
	if err != nil {
		return err
	}
	if err := kv.db.Set(orderKey(o.ID), data, pebble.Sync); err != nil {
		return err
	}
	cp := *o
	kv.cache.Set(o.ID, &cp)
	return nil
}

func (kv *KvDB) GetOrder(id string) (*orderbook.Order, error) {
	if o, ok := kv.cache.Get(id); ok {
		cp := *o
		return &cp, nil
	}
	data, err := kv.get(orderKey(id))
	if err != nil {
		return nil, err
	}
	o := &orderbook.Order{}
	if err := o.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	kv.cache.Set(id, o)
	cp := *o
	return &cp, nil
}

func (kv *KvDB) DeleteOrder(id string) error {
	kv.cache.Remove(id)
	return kv.db.Delete(orderKey(id), pebble.Sync)
}

// AppendMatch assigns the match its position in the per-book log.
func (kv *KvDB) AppendMatch(m *orderbook.Match) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}
	kv.mu.Lock()
	kv.matchSeq[m.BookID]++
	seq := kv.matchSeq[m.BookID]
	kv.mu.Unlock()
	return kv.db.Set(matchKey(m.BookID, seq), data, pebble.Sync)
}

// MatchesByBook returns the book's match log in append order.
func (kv *KvDB) MatchesByBook(bookID string) ([]*orderbook.Match, error) {
	prefix := []byte("match:" + bookID + ":")
	iter, err := kv.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*orderbook.Match
	for iter.First(); iter.Valid(); iter.Next() {
		m := &orderbook.Match{}
		if err := m.UnmarshalJSON(iter.Value()); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

func (kv *KvDB) PutHold(h *settle.Hold) error {
	data, err := h.MarshalJSON()
	if err != nil {
		return err
	}
	if err := kv.db.Set(holdKey(h.ID), data, pebble.Sync); err != nil {
		return err
	}
	return kv.db.Set(holdIdxKey(h.LegID, h.ContractID, h.ID), []byte(h.ID), pebble.Sync)
}

func (kv *KvDB) GetHold(id string) (*settle.Hold, error) {
	data, err := kv.get(holdKey(id))
	if err != nil {
		return nil, err
	}
	h := &settle.Hold{}
	if err := h.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return h, nil
}

// HoldsByLegContract walks the secondary index so delivery never scans
// the whole hold table.
func (kv *KvDB) HoldsByLegContract(legID, contractID string) ([]*settle.Hold, error) {
	prefix := []byte(fmt.Sprintf("holdidx:%s:%s:", legID, contractID))
	iter, err := kv.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*settle.Hold
	for iter.First(); iter.Valid(); iter.Next() {
		h, err := kv.GetHold(string(iter.Value()))
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, iter.Error()
}

func (kv *KvDB) UpdateHoldStatus(id string, status settle.HoldStatus) error {
	h, err := kv.GetHold(id)
	if err != nil {
		return err
	}
	h.Status = status
	data, err := h.MarshalJSON()
	if err != nil {
		return err
	}
	return kv.db.Set(holdKey(id), data, pebble.Sync)
}

func (kv *KvDB) PutContract(c *contract.Contract) error {
	data, err := c.MarshalJSON()
	if err != nil {
		return err
	}
	return kv.db.Set(contractKey(c.ID), data, pebble.Sync)
}

func (kv *KvDB) GetContract(id string) (*contract.Contract, error) {
	data, err := kv.get(contractKey(id))
	if err != nil {
		return nil, err
	}
	c := &contract.Contract{}
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordAnomaly appends to the operator log. Never fails the caller's
// flow: settlement and matching treat anomalies as fire-and-forget.
func (kv *KvDB) RecordAnomaly(kind, detail string) {
	kv.recordAnomaly(kind, detail)
}

func (kv *KvDB) recordAnomaly(kind, detail string) *Anomaly {
	kv.mu.Lock()
	kv.anomalySeq++
	seq := kv.anomalySeq
	var simTime int64
	if kv.simClock != nil {
		simTime = kv.simClock()
	}
	kv.mu.Unlock()

	a := &Anomaly{Seq: seq, Kind: kind, Detail: detail, SimTime: simTime, Ts: time.Now()}
	data, err := json.Marshal(a)
	if err != nil {
		kv.logger.Error("anomaly marshal failed", zap.String("kind", kind), zap.Error(err))
		return a
	}
	if err := kv.db.Set(anomalyKey(seq), data, pebble.Sync); err != nil {
		kv.logger.Error("anomaly write failed", zap.String("kind", kind), zap.Error(err))
	}
	return a
}

// Anomalies returns the log in record order.
func (kv *KvDB) Anomalies() ([]*Anomaly, error) {
	prefix := []byte("anomaly:")
	iter, err := kv.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Anomaly
	for iter.First(); iter.Valid(); iter.Next() {
		a := &Anomaly{}
		if err := json.Unmarshal(iter.Value(), a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// Wipe drops every key and rewinds the sequence counters. Used by
// scheduler reset.
func (kv *KvDB) Wipe() error {
	if err := kv.db.DeleteRange([]byte{0x00}, []byte{0xff}, pebble.Sync); err != nil {
		return err
	}
	kv.cache.Purge()
	kv.mu.Lock()
	kv.matchSeq = make(map[string]uint64)
	kv.anomalySeq = 0
	kv.mu.Unlock()
	return nil
}
