package storage

import (
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
)

// EventProducer publishes archive events to the async SQL mirror. The
// archive is an observer: publish failures must never fail the hot path.
type EventProducer interface {
	PublishOrderPut(order *orderbook.Order) error
	PublishOrderDelete(order *orderbook.Order) error
	PublishMatch(match *orderbook.Match) error
	PublishHoldPut(hold *settle.Hold) error
	PublishHoldUpdate(hold *settle.Hold) error
	PublishAnomaly(anomaly *Anomaly) error
}

// ArchivingStore fronts the KvDB with archive event publication. It is
// what the engine and settler see as their store, so every order, match,
// hold and anomaly flowing through the simulation reaches the mirror,
// whether it came from the API or from the scripted scheduler. A nil
// producer degrades to the plain KvDB.
type ArchivingStore struct {
	kv       *KvDB
	producer EventProducer
	logger   *zap.Logger
}

func NewArchivingStore(kv *KvDB, producer EventProducer, log *zap.Logger) *ArchivingStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchivingStore{kv: kv, producer: producer, logger: log}
}

// KV exposes the underlying store for read-side consumers (controllers,
// stream frames) that never publish.
func (s *ArchivingStore) KV() *KvDB {
	return s.kv
}

func (s *ArchivingStore) warn(event string, err error) {
	s.logger.Warn("archive publish failed", zap.String("event", event), zap.Error(err))
}

func (s *ArchivingStore) PutOrder(o *orderbook.Order) error {
	if err := s.kv.PutOrder(o); err != nil {
		return err
	}
	if s.producer != nil {
		if err := s.producer.PublishOrderPut(o); err != nil {
			s.warn("order_put", err)
		}
	}
	return nil
}

func (s *ArchivingStore) GetOrder(id string) (*orderbook.Order, error) {
	return s.kv.GetOrder(id)
}

func (s *ArchivingStore) DeleteOrder(id string) error {
	// The delete event carries the full record, so read it before the
	// hot-path delete. A missing record still deletes silently.
	var deleted *orderbook.Order
	if s.producer != nil {
		deleted, _ = s.kv.GetOrder(id)
	}
	if err := s.kv.DeleteOrder(id); err != nil {
		return err
	}
	if s.producer != nil && deleted != nil {
		if err := s.producer.PublishOrderDelete(deleted); err != nil {
			s.warn("order_delete", err)
		}
	}
	return nil
}

func (s *ArchivingStore) AppendMatch(m *orderbook.Match) error {
	if err := s.kv.AppendMatch(m); err != nil {
		return err
	}
	if s.producer != nil {
		if err := s.producer.PublishMatch(m); err != nil {
			s.warn("match_put", err)
		}
	}
	return nil
}

func (s *ArchivingStore) PutHold(h *settle.Hold) error {
	if err := s.kv.PutHold(h); err != nil {
		return err
	}
	if s.producer != nil {
		if err := s.producer.PublishHoldPut(h); err != nil {
			s.warn("hold_put", err)
		}
	}
	return nil
}

func (s *ArchivingStore) HoldsByLegContract(legID, contractID string) ([]*settle.Hold, error) {
	return s.kv.HoldsByLegContract(legID, contractID)
}

func (s *ArchivingStore) UpdateHoldStatus(id string, status settle.HoldStatus) error {
	if err := s.kv.UpdateHoldStatus(id, status); err != nil {
		return err
	}
	if s.producer != nil {
		if h, err := s.kv.GetHold(id); err == nil {
			if err := s.producer.PublishHoldUpdate(h); err != nil {
				s.warn("hold_update", err)
			}
		}
	}
	return nil
}

// RecordAnomaly matches the ledger.AnomalySink shape.
func (s *ArchivingStore) RecordAnomaly(kind, detail string) {
	a := s.kv.recordAnomaly(kind, detail)
	if s.producer != nil && a != nil {
		if err := s.producer.PublishAnomaly(a); err != nil {
			s.warn("anomaly_put", err)
		}
	}
}
