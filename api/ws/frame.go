package ws

import (
	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/sim"
	"github.com/openfreight/freightsim/storage"
)

// matchTailLimit caps how much of the match log a frame carries.
const matchTailLimit = 50

// Frame is one per-book stream update, pushed at the broadcast tick.
type Frame struct {
	BookID          string              `json:"book_id"`
	Orderbook       *orderbook.Snapshot `json:"orderbook"`
	Matches         []*orderbook.Match  `json:"matches"`
	IotProgress     float64             `json:"iot_progress"`
	Balances        map[string]Balance  `json:"balances"`
	SimulationClock int64               `json:"simulation_clock"`
	IsRunning       bool                `json:"is_running"`
	IsPaused        bool                `json:"is_paused"`
	CurrentOwner    string              `json:"current_container_owner"`
	ContainerStatus string              `json:"container_status"`
}

// Balance mirrors one trader's ledger entry as decimal strings.
type Balance struct {
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// FrameSource reads the live world to assemble frames. All reads go
// through the same snapshot paths the HTTP views use.
type FrameSource struct {
	books     *orderbook.Registry
	ledger    *ledger.Ledger
	contracts *contract.Manager
	kvdb      *storage.KvDB
	sched     *sim.Scheduler
}

func NewFrameSource(books *orderbook.Registry, led *ledger.Ledger, contracts *contract.Manager, kvdb *storage.KvDB, sched *sim.Scheduler) *FrameSource {
	return &FrameSource{
		books:     books,
		ledger:    led,
		contracts: contracts,
		kvdb:      kvdb,
		sched:     sched,
	}
}

// Build assembles the frame for one book at the current instant.
func (f *FrameSource) Build(bookID string) *Frame {
	state := f.sched.State()

	frame := &Frame{
		BookID:          bookID,
		Matches:         []*orderbook.Match{},
		Balances:        balances(f.ledger),
		SimulationClock: state.SimClock,
		IsRunning:       state.Running,
		IsPaused:        state.Paused,
	}

	if book, ok := f.books.Lookup(bookID); ok {
		frame.Orderbook = book.Snapshot()
	} else {
		frame.Orderbook = &orderbook.Snapshot{BookID: bookID}
	}

	if matches, err := f.kvdb.MatchesByBook(bookID); err == nil && len(matches) > 0 {
		if len(matches) > matchTailLimit {
			matches = matches[len(matches)-matchTailLimit:]
		}
		frame.Matches = matches
	}

	orderType, legID, contractID, err := orderbook.ParseBookID(bookID)
	if err != nil {
		return frame
	}

	if con, ok := f.contracts.Get(contractID); ok {
		frame.CurrentOwner = con.CurrentOwner
		frame.ContainerStatus = string(con.Status)
		if orderType == orderbook.LegFreight {
			frame.IotProgress = legProgress(con, legID, state.SimClock)
		}
	}

	return frame
}

func balances(led *ledger.Ledger) map[string]Balance {
	snap := led.Snapshot()
	out := make(map[string]Balance, len(snap))
	for trader, b := range snap {
		out[trader] = Balance{
			Available: b.Available.String(),
			Locked:    b.Locked.String(),
		}
	}
	return out
}

// legProgress derives transit completion in [0,1] from the simulated
// clock. Legs past delivery read 1; legs not yet in transit read 0.
func legProgress(con *contract.Contract, legID string, clock int64) float64 {
	for _, leg := range con.Legs {
		if leg.LegID != legID {
			continue
		}
		switch leg.Status {
		case contract.LegDelivered, contract.LegSettled:
			return 1
		case contract.LegInTransit:
			if leg.StartSimTime == nil || leg.EtaDuration == nil || *leg.EtaDuration <= 0 {
				return 0
			}
			p := float64(clock-*leg.StartSimTime) / float64(*leg.EtaDuration)
			if p < 0 {
				return 0
			}
			if p > 1 {
				return 1
			}
			return p
		}
		return 0
	}
	return 0
}
