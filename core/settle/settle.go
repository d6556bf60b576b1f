package settle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-set"
	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/metrics"
)

var ErrUnknownMatchType = errors.New("unknown match type")

type HoldStatus string

const (
	HoldPending HoldStatus = "PENDING_DELIVERY"
	HoldSettled HoldStatus = "SETTLED"
	HoldError   HoldStatus = "ERROR"
)

// Hold is the deferred-settlement escrow created per LEG_FREIGHT match.
// While PENDING_DELIVERY the amount stays in payer.locked.
type Hold struct {
	ID         string            `json:"id"`
	MatchID    string            `json:"match_id"`
	LegID      string            `json:"leg_id"`
	ContractID string            `json:"contract_id"`
	Amount     fpdecimal.Decimal `json:"amount"`
	Payer      string            `json:"payer"`
	Payee      string            `json:"payee"`
	Status     HoldStatus        `json:"status"`
	Ts         time.Time         `json:"ts"`
}

type holdJSON struct {
	ID         string     `json:"id"`
	MatchID    string     `json:"match_id"`
	LegID      string     `json:"leg_id"`
	ContractID string     `json:"contract_id"`
	Amount     string     `json:"amount"`
	Payer      string     `json:"payer"`
	Payee      string     `json:"payee"`
	Status     HoldStatus `json:"status"`
	Ts         time.Time  `json:"ts"`
}

func (h *Hold) MarshalJSON() ([]byte, error) {
	return json.Marshal(holdJSON{
		ID:         h.ID,
		MatchID:    h.MatchID,
		LegID:      h.LegID,
		ContractID: h.ContractID,
		Amount:     h.Amount.String(),
		Payer:      h.Payer,
		Payee:      h.Payee,
		Status:     h.Status,
		Ts:         h.Ts,
	})
}

func (h *Hold) UnmarshalJSON(data []byte) error {
	var aux holdJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	amount, err := fpdecimal.FromString(aux.Amount)
	if err != nil {
		return err
	}
	h.ID = aux.ID
	h.MatchID = aux.MatchID
	h.LegID = aux.LegID
	h.ContractID = aux.ContractID
	h.Amount = amount
	h.Payer = aux.Payer
	h.Payee = aux.Payee
	h.Status = aux.Status
	h.Ts = aux.Ts
	return nil
}

// HoldStore is the persistence surface for holds, indexed by
// (leg, contract) so delivery events never scan the full log.
type HoldStore interface {
	PutHold(*Hold) error
	HoldsByLegContract(legID, contractID string) ([]*Hold, error)
	UpdateHoldStatus(id string, status HoldStatus) error
}

// Settler executes both settlement modes: immediate for ownership
// matches, hold-then-deliver for freight.
type Settler struct {
	ledger    *ledger.Ledger
	holds     HoldStore
	contracts *contract.Manager
	feeRate   fpdecimal.Decimal
	platform  string
	anomaly   ledger.AnomalySink
	logger    *zap.Logger

	mu        sync.Mutex
	delivered *set.Set[string]
}

func NewSettler(led *ledger.Ledger, holds HoldStore, contracts *contract.Manager, feeRate fpdecimal.Decimal, platform string, sink ledger.AnomalySink, log *zap.Logger) *Settler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Settler{
		ledger:    led,
		holds:     holds,
		contracts: contracts,
		feeRate:   feeRate,
		platform:  platform,
		anomaly:   sink,
		logger:    log,
		delivered: set.New[string](8),
	}
}

// Fee returns the platform's cut of a settlement amount.
func (s *Settler) Fee(amount fpdecimal.Decimal) fpdecimal.Decimal {
	return amount.Mul(s.feeRate)
}

// SettleMatch dispatches a fresh match to its settlement mode. The
// bidder's funds are already locked by the matching engine.
func (s *Settler) SettleMatch(m *orderbook.Match) error {
	switch m.MatchType {
	case orderbook.ContractOwnership:
		return s.settleOwnership(m)
	case orderbook.LegFreight:
		return s.holdFreight(m)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMatchType, m.MatchType)
	}
}

// settleOwnership pays the seller immediately out of the bidder's locked
// funds and moves current ownership to the bidder.
func (s *Settler) settleOwnership(m *orderbook.Match) error {
	amount := m.Amount()
	fee := s.Fee(amount)
	payout := amount.Sub(fee)

	if err := s.ledger.Transfer(m.BidTrader, m.AskTrader, payout, ledger.FieldLocked, ledger.FieldAvailable); err != nil {
		s.record("ownership_settlement_failure", fmt.Sprintf("match %s payout: %v", m.ID, err))
		return fmt.Errorf("ownership payout for match %s: %w", m.ID, err)
	}
	if err := s.ledger.Transfer(m.BidTrader, s.platform, fee, ledger.FieldLocked, ledger.FieldAvailable); err != nil {
		s.record("ownership_settlement_failure", fmt.Sprintf("match %s fee: %v", m.ID, err))
		return fmt.Errorf("ownership fee for match %s: %w", m.ID, err)
	}

	if s.contracts != nil && m.ContractID != "" {
		if err := s.contracts.SetCurrentOwner(m.ContractID, m.BidTrader); err != nil {
			s.logger.Warn("owner update after ownership match failed",
				zap.String("matchID", m.ID), zap.String("contractID", m.ContractID), zap.Error(err))
		}
	}

	metrics.Get().SettlementExecuted("immediate")
	s.logger.Info("ownership settled",
		zap.String("matchID", m.ID),
		zap.String("contractID", m.ContractID),
		zap.String("buyer", m.BidTrader),
		zap.String("seller", m.AskTrader),
		zap.String("payout", payout.String()),
		zap.String("fee", fee.String()))
	return nil
}

// holdFreight parks the freight amount in a PENDING_DELIVERY hold; no
// balances move until the delivery event.
func (s *Settler) holdFreight(m *orderbook.Match) error {
	_, legID, contractID, err := orderbook.ParseBookID(m.BookID)
	if err != nil {
		return fmt.Errorf("freight match %s on unparseable book: %w", m.ID, err)
	}
	if m.ContractID != "" {
		contractID = m.ContractID
	}

	h := &Hold{
		ID:         uuid.NewString(),
		MatchID:    m.ID,
		LegID:      legID,
		ContractID: contractID,
		Amount:     m.Amount(),
		Payer:      m.BidTrader,
		Payee:      m.AskTrader,
		Status:     HoldPending,
		Ts:         time.Now(),
	}
	if err := s.holds.PutHold(h); err != nil {
		return fmt.Errorf("persist hold for match %s: %w", m.ID, err)
	}

	metrics.Get().SettlementExecuted("deferred")
	s.logger.Info("freight hold created",
		zap.String("holdID", h.ID),
		zap.String("matchID", m.ID),
		zap.String("legID", legID),
		zap.String("contractID", contractID),
		zap.String("amount", h.Amount.String()),
		zap.String("payer", h.Payer),
		zap.String("payee", h.Payee))
	return nil
}

func deliveryKey(legID, contractID string) string {
	return legID + "|" + contractID
}

// Deliver finalizes every pending hold for (leg, contract): the payer's
// locked escrow pays the carrier net of fee. Holds settle independently;
// one failure marks that hold ERROR and continues with siblings.
// Replaying a delivery for an already settled leg is a no-op.
func (s *Settler) Deliver(legID, contractID string) error {
	key := deliveryKey(legID, contractID)
	s.mu.Lock()
	if s.delivered.Contains(key) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	holds, err := s.holds.HoldsByLegContract(legID, contractID)
	if err != nil {
		return fmt.Errorf("load holds for %s/%s: %w", legID, contractID, err)
	}

	for _, h := range holds {
		if h.Status != HoldPending {
			continue
		}
		fee := s.Fee(h.Amount)
		payout := h.Amount.Sub(fee)

		if err := s.ledger.Transfer(h.Payer, h.Payee, payout, ledger.FieldLocked, ledger.FieldAvailable); err != nil {
			s.failHold(h, fmt.Sprintf("payout: %v", err))
			continue
		}
		if err := s.ledger.Transfer(h.Payer, s.platform, fee, ledger.FieldLocked, ledger.FieldAvailable); err != nil {
			s.failHold(h, fmt.Sprintf("fee: %v", err))
			continue
		}
		if err := s.holds.UpdateHoldStatus(h.ID, HoldSettled); err != nil {
			s.logger.Error("hold status update failed", zap.String("holdID", h.ID), zap.Error(err))
			continue
		}
		s.logger.Info("freight hold settled",
			zap.String("holdID", h.ID),
			zap.String("legID", legID),
			zap.String("contractID", contractID),
			zap.String("payee", h.Payee),
			zap.String("payout", payout.String()),
			zap.String("fee", fee.String()))
	}

	s.mu.Lock()
	s.delivered.Insert(key)
	s.mu.Unlock()

	if s.contracts != nil {
		if err := s.contracts.MarkLegSettled(contractID, legID); err != nil {
			s.logger.Warn("leg settle mark failed",
				zap.String("legID", legID), zap.String("contractID", contractID), zap.Error(err))
		}
	}
	return nil
}

// failHold flags a hold the operator must look at. Should be impossible
// while the locking invariants hold.
func (s *Settler) failHold(h *Hold, detail string) {
	if err := s.holds.UpdateHoldStatus(h.ID, HoldError); err != nil {
		s.logger.Error("hold error-state update failed", zap.String("holdID", h.ID), zap.Error(err))
	}
	s.record("hold_settlement_failure", fmt.Sprintf("hold %s (match %s): %s", h.ID, h.MatchID, detail))
	s.logger.Error("hold settlement failed",
		zap.String("holdID", h.ID),
		zap.String("matchID", h.MatchID),
		zap.String("detail", detail))
}

func (s *Settler) record(kind, detail string) {
	metrics.Get().AnomalyRecorded(kind)
	if s.anomaly != nil {
		s.anomaly(kind, detail)
	}
}

// Reset forgets delivered-event history (the hold store wipe is the
// scheduler's job).
func (s *Settler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = set.New[string](8)
}
