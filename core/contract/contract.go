package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/ledger"
)

var (
	ErrUnknownContract   = errors.New("unknown contract")
	ErrUnknownLeg        = errors.New("unknown leg")
	ErrBadTransition     = errors.New("illegal status transition")
	ErrDuplicateContract = errors.New("contract already exists")
	ErrNoLegs            = errors.New("contract needs at least one leg")
)

type Status string

const (
	StatusBooked         Status = "BOOKED"
	StatusDeliveredFinal Status = "DELIVERED_FINAL"
)

func StatusAuctioning(leg int) Status {
	return Status(fmt.Sprintf("AUCTIONING_L%d", leg))
}

func StatusInTransit(leg int) Status {
	return Status(fmt.Sprintf("IN_TRANSIT_L%d", leg))
}

func StatusDeliveredAwaiting(leg int) Status {
	return Status(fmt.Sprintf("DELIVERED_L%d_AWAITING_L%d", leg, leg+1))
}

// statusChain builds the linear status progression for n legs:
// BOOKED, then AUCTIONING/IN_TRANSIT/DELIVERED_AWAITING per leg, ending
// in DELIVERED_FINAL after the last leg's transit.
func statusChain(n int) []Status {
	chain := []Status{StatusBooked}
	for i := 1; i <= n; i++ {
		chain = append(chain, StatusAuctioning(i), StatusInTransit(i))
		if i < n {
			chain = append(chain, StatusDeliveredAwaiting(i))
		}
	}
	return append(chain, StatusDeliveredFinal)
}

type LegStatus string

const (
	LegPendingAuction LegStatus = "PENDING_AUCTION"
	LegAuctionOpen    LegStatus = "AUCTION_OPEN"
	LegInTransit      LegStatus = "IN_TRANSIT"
	LegDelivered      LegStatus = "DELIVERED"
	LegSettled        LegStatus = "SETTLED"
)

var legOrder = []LegStatus{LegPendingAuction, LegAuctionOpen, LegInTransit, LegDelivered, LegSettled}

func legStep(from, to LegStatus) bool {
	for i, s := range legOrder {
		if s == from {
			return i+1 < len(legOrder) && legOrder[i+1] == to
		}
	}
	return false
}

// Leg is one transport segment. Optional fields stay nil until the
// auction assigns them; they never round-trip through empty strings.
type Leg struct {
	LegID        string             `json:"leg_id"`
	ContractID   string             `json:"contract_id"`
	Origin       string             `json:"origin"`
	Destination  string             `json:"destination"`
	Status       LegStatus          `json:"status"`
	Carrier      *string            `json:"carrier,omitempty"`
	FreightCost  *fpdecimal.Decimal `json:"freight_cost,omitempty"`
	StartSimTime *int64             `json:"start_sim_time,omitempty"`
	EtaDuration  *int64             `json:"eta_duration,omitempty"`
}

// Contract owns its legs; legs point back only by id.
type Contract struct {
	ID               string            `json:"id"`
	Origin           string            `json:"origin"`
	FinalDestination string            `json:"final_destination"`
	InitialShipper   string            `json:"initial_shipper"`
	CurrentOwner     string            `json:"current_owner"`
	Status           Status            `json:"status"`
	MaxPrepaidCost   fpdecimal.Decimal `json:"max_prepaid_cost"`
	CreationTs       time.Time         `json:"creation_ts"`
	Legs             []*Leg            `json:"legs"`
}

func (c *Contract) leg(legID string) (*Leg, int) {
	for i, l := range c.Legs {
		if l.LegID == legID {
			return l, i
		}
	}
	return nil, -1
}

type legJSON struct {
	LegID        string    `json:"leg_id"`
	ContractID   string    `json:"contract_id"`
	Origin       string    `json:"origin"`
	Destination  string    `json:"destination"`
	Status       LegStatus `json:"status"`
	Carrier      *string   `json:"carrier,omitempty"`
	FreightCost  *string   `json:"freight_cost,omitempty"`
	StartSimTime *int64    `json:"start_sim_time,omitempty"`
	EtaDuration  *int64    `json:"eta_duration,omitempty"`
}

func (l *Leg) MarshalJSON() ([]byte, error) {
	aux := legJSON{
		LegID:        l.LegID,
		ContractID:   l.ContractID,
		Origin:       l.Origin,
		Destination:  l.Destination,
		Status:       l.Status,
		Carrier:      l.Carrier,
		StartSimTime: l.StartSimTime,
		EtaDuration:  l.EtaDuration,
	}
	if l.FreightCost != nil {
		s := l.FreightCost.String()
		aux.FreightCost = &s
	}
	return json.Marshal(aux)
}

func (l *Leg) UnmarshalJSON(data []byte) error {
	var aux legJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.LegID = aux.LegID
	l.ContractID = aux.ContractID
	l.Origin = aux.Origin
	l.Destination = aux.Destination
	l.Status = aux.Status
	l.Carrier = aux.Carrier
	l.StartSimTime = aux.StartSimTime
	l.EtaDuration = aux.EtaDuration
	l.FreightCost = nil
	if aux.FreightCost != nil {
		cost, err := fpdecimal.FromString(*aux.FreightCost)
		if err != nil {
			return err
		}
		l.FreightCost = &cost
	}
	return nil
}

type contractJSON struct {
	ID               string    `json:"id"`
	Origin           string    `json:"origin"`
	FinalDestination string    `json:"final_destination"`
	InitialShipper   string    `json:"initial_shipper"`
	CurrentOwner     string    `json:"current_owner"`
	Status           Status    `json:"status"`
	MaxPrepaidCost   string    `json:"max_prepaid_cost"`
	CreationTs       time.Time `json:"creation_ts"`
	Legs             []*Leg    `json:"legs"`
}

func (c *Contract) MarshalJSON() ([]byte, error) {
	return json.Marshal(contractJSON{
		ID:               c.ID,
		Origin:           c.Origin,
		FinalDestination: c.FinalDestination,
		InitialShipper:   c.InitialShipper,
		CurrentOwner:     c.CurrentOwner,
		Status:           c.Status,
		MaxPrepaidCost:   c.MaxPrepaidCost.String(),
		CreationTs:       c.CreationTs,
		Legs:             c.Legs,
	})
}

func (c *Contract) UnmarshalJSON(data []byte) error {
	var aux contractJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	maxPrepaid, err := fpdecimal.FromString(aux.MaxPrepaidCost)
	if err != nil {
		return err
	}
	c.ID = aux.ID
	c.Origin = aux.Origin
	c.FinalDestination = aux.FinalDestination
	c.InitialShipper = aux.InitialShipper
	c.CurrentOwner = aux.CurrentOwner
	c.Status = aux.Status
	c.MaxPrepaidCost = maxPrepaid
	c.CreationTs = aux.CreationTs
	c.Legs = aux.Legs
	return nil
}

func (c *Contract) clone() *Contract {
	cp := *c
	cp.Legs = make([]*Leg, len(c.Legs))
	for i, l := range c.Legs {
		legCopy := *l
		cp.Legs[i] = &legCopy
	}
	return &cp
}

// LegSpec describes one leg at contract creation time.
type LegSpec struct {
	LegID        string
	Origin       string
	Destination  string
	HighEstimate fpdecimal.Decimal
}

// Store persists contract snapshots on every mutation.
type Store interface {
	PutContract(*Contract) error
	GetContract(id string) (*Contract, error)
}

// Manager is the single writer of contract state. The scheduler drives
// top-level status; settlement may only touch leg status through
// MarkLegSettled.
type Manager struct {
	mu        sync.RWMutex
	contracts map[string]*Contract
	ledger    *ledger.Ledger
	store     Store
	logger    *zap.Logger
}

func NewManager(led *ledger.Ledger, store Store, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		contracts: make(map[string]*Contract),
		ledger:    led,
		store:     store,
		logger:    log,
	}
}

// Create books a contract, locking max_prepaid_cost = sum of leg high
// estimates + margin from the shipper's available balance.
func (m *Manager) Create(id, origin, dest, shipper string, legs []LegSpec, margin fpdecimal.Decimal) (*Contract, error) {
	if len(legs) == 0 {
		return nil, ErrNoLegs
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.contracts[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateContract, id)
	}

	maxPrepaid := margin
	for _, spec := range legs {
		maxPrepaid = maxPrepaid.Add(spec.HighEstimate)
	}
	if err := m.ledger.Lock(shipper, maxPrepaid); err != nil {
		return nil, fmt.Errorf("lock prepaid escrow for %s: %w", id, err)
	}

	c := &Contract{
		ID:               id,
		Origin:           origin,
		FinalDestination: dest,
		InitialShipper:   shipper,
		CurrentOwner:     shipper,
		Status:           StatusBooked,
		MaxPrepaidCost:   maxPrepaid,
		CreationTs:       time.Now(),
	}
	for _, spec := range legs {
		c.Legs = append(c.Legs, &Leg{
			LegID:       spec.LegID,
			ContractID:  id,
			Origin:      spec.Origin,
			Destination: spec.Destination,
			Status:      LegPendingAuction,
		})
	}

	m.contracts[id] = c
	m.persist(c)
	m.logger.Info("contract booked",
		zap.String("contractID", id),
		zap.String("shipper", shipper),
		zap.String("maxPrepaid", maxPrepaid.String()),
		zap.Int("legs", len(legs)))
	return c.clone(), nil
}

func (m *Manager) persist(c *Contract) {
	if m.store == nil {
		return
	}
	if err := m.store.PutContract(c.clone()); err != nil {
		m.logger.Warn("persist contract failed", zap.String("contractID", c.ID), zap.Error(err))
	}
}

// Get returns a copy safe for concurrent readers.
func (m *Manager) Get(id string) (*Contract, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

func (m *Manager) CurrentOwner(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return c.CurrentOwner, nil
}

// SetCurrentOwner records the highest bidder (or immediate buyer) as the
// tradable contract's owner. Top-level status is untouched.
func (m *Manager) SetCurrentOwner(id, trader string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	if c.CurrentOwner == trader {
		return nil
	}
	c.CurrentOwner = trader
	m.persist(c)
	m.logger.Info("contract owner changed", zap.String("contractID", id), zap.String("owner", trader))
	return nil
}

// advance moves the top-level status forward along the chain. Legs overlap in
// practice (a later auction can open before an earlier delivery lands), so the
// status is a watermark: targets at or behind the current position are no-ops,
// forward targets win regardless of distance.
func (m *Manager) advance(c *Contract, to Status) error {
	chain := statusChain(len(c.Legs))
	cur, target := -1, -1
	for i, s := range chain {
		if s == c.Status {
			cur = i
		}
		if s == to {
			target = i
		}
	}
	if cur < 0 || target < 0 {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, c.Status, to)
	}
	if target <= cur {
		return nil
	}
	c.Status = to
	return nil
}

// OpenLegAuction marks a leg AUCTION_OPEN and advances the contract to
// AUCTIONING_Ln.
func (m *Manager) OpenLegAuction(contractID, legID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	l, idx := c.leg(legID)
	if l == nil {
		return fmt.Errorf("%w: %s in %s", ErrUnknownLeg, legID, contractID)
	}
	if !legStep(l.Status, LegAuctionOpen) {
		return fmt.Errorf("%w: leg %s %s -> %s", ErrBadTransition, legID, l.Status, LegAuctionOpen)
	}
	if err := m.advance(c, StatusAuctioning(idx+1)); err != nil {
		return err
	}
	l.Status = LegAuctionOpen
	m.persist(c)
	m.logger.Info("leg auction open", zap.String("contractID", contractID), zap.String("legID", legID))
	return nil
}

// NoteLegInTransit records the winning carrier and freight cost and
// advances both leg and contract into transit.
func (m *Manager) NoteLegInTransit(contractID, legID, carrier string, cost fpdecimal.Decimal, startSim, etaDuration int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	l, idx := c.leg(legID)
	if l == nil {
		return fmt.Errorf("%w: %s in %s", ErrUnknownLeg, legID, contractID)
	}
	if !legStep(l.Status, LegInTransit) {
		return fmt.Errorf("%w: leg %s %s -> %s", ErrBadTransition, legID, l.Status, LegInTransit)
	}
	if err := m.advance(c, StatusInTransit(idx+1)); err != nil {
		return err
	}
	l.Status = LegInTransit
	l.Carrier = &carrier
	l.FreightCost = &cost
	l.StartSimTime = &startSim
	l.EtaDuration = &etaDuration
	m.persist(c)
	m.logger.Info("leg in transit",
		zap.String("contractID", contractID),
		zap.String("legID", legID),
		zap.String("carrier", carrier),
		zap.String("cost", cost.String()))
	return nil
}

// MarkLegDelivered handles the IoT delivery transition. Delivering the
// final leg moves the contract to DELIVERED_FINAL and releases the
// shipper's residual prepaid escrow.
func (m *Manager) MarkLegDelivered(contractID, legID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	l, idx := c.leg(legID)
	if l == nil {
		return fmt.Errorf("%w: %s in %s", ErrUnknownLeg, legID, contractID)
	}
	if !legStep(l.Status, LegDelivered) {
		return fmt.Errorf("%w: leg %s %s -> %s", ErrBadTransition, legID, l.Status, LegDelivered)
	}

	var target Status
	if idx+1 == len(c.Legs) {
		target = StatusDeliveredFinal
	} else {
		target = StatusDeliveredAwaiting(idx + 1)
	}
	if err := m.advance(c, target); err != nil {
		return err
	}
	l.Status = LegDelivered

	if target == StatusDeliveredFinal {
		reason := fmt.Sprintf("contract %s residual escrow", contractID)
		if err := m.ledger.Release(c.InitialShipper, c.MaxPrepaidCost, reason); err != nil {
			m.logger.Error("residual escrow release failed", zap.String("contractID", contractID), zap.Error(err))
		}
	}
	m.persist(c)
	m.logger.Info("leg delivered", zap.String("contractID", contractID), zap.String("legID", legID), zap.String("contractStatus", string(c.Status)))
	return nil
}

// MarkLegSettled is settlement's only write: DELIVERED -> SETTLED.
// Settling an already settled leg is a no-op.
func (m *Manager) MarkLegSettled(contractID, legID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	l, _ := c.leg(legID)
	if l == nil {
		return fmt.Errorf("%w: %s in %s", ErrUnknownLeg, legID, contractID)
	}
	if l.Status == LegSettled {
		return nil
	}
	if !legStep(l.Status, LegSettled) {
		return fmt.Errorf("%w: leg %s %s -> %s", ErrBadTransition, legID, l.Status, LegSettled)
	}
	l.Status = LegSettled
	m.persist(c)
	return nil
}

// All returns copies of every contract.
func (m *Manager) All() []*Contract {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Contract, 0, len(m.contracts))
	for _, c := range m.contracts {
		out = append(out, c.clone())
	}
	return out
}

// Reset drops every contract. The ledger wipe is the scheduler's job.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contracts = make(map[string]*Contract)
}
