package sim

import (
	"fmt"

	"github.com/nikolaydubina/fpdecimal"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
)

// Deps is everything the scripted scenario drives.
type Deps struct {
	Ledger    *ledger.Ledger
	Engine    *engine.Engine
	Contracts *contract.Manager
	Settler   *settle.Settler
	Maker     *Maker
	Logger    *zap.Logger
}

// Demo cast and route. One contract, Shenzhen to Nenagh in three legs.
const (
	DemoContractID = "C1"

	demoShipper   = "ShipperA"
	bidderCheap   = "CheapLtd"
	bidderFast    = "FastPLC"
	bidderWealthy = "WealthyCorp"

	legTransitETA = 15
)

var (
	demoCarriers = []string{"Maersk", "Evergreen", "COSCO", "MSC", "Hapag"}
	demoBidders  = []string{bidderCheap, bidderFast, bidderWealthy}

	// Carrier quotes per leg auction, in demoCarriers order.
	demoLegAsks = map[string][]int64{
		"L1": {8000, 7500, 7000, 6500, 6000},
		"L2": {4000, 3500, 3000, 2500, 2000},
		"L3": {2000, 1500, 1000, 800, 600},
	}
)

// Script replays the canonical three-leg freight demo: booking, per-leg
// carrier auctions, deliveries with hold settlement, and an ownership
// trade halfway through the journey. It keeps just enough state between
// events to know who currently holds the contract and which maker quotes
// are still resting on the ownership book.
type Script struct {
	d        Deps
	holder   string
	mmQuotes []string
}

func NewDemoScript(d Deps) *Script {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Script{d: d, holder: demoShipper}
}

// Reset rewinds script-internal state. The scheduler's wipe callback is
// responsible for the world itself.
func (s *Script) Reset() {
	s.holder = demoShipper
	s.mmQuotes = nil
}

func (s *Script) submit(bookID, trader string, side orderbook.Side, price, qty int64) (*orderbook.Receipt, error) {
	return s.d.Engine.Submit(engine.SubmitRequest{
		BookID: bookID,
		Trader: trader,
		Side:   side,
		Price:  fpdecimal.FromInt(price),
		Qty:    qty,
	})
}

// openAuction opens the leg's book, posts the five carrier quotes, and
// lets the maker straddle the best ask.
func (s *Script) openAuction(legID string) error {
	if err := s.d.Contracts.OpenLegAuction(DemoContractID, legID); err != nil {
		return err
	}
	bookID := orderbook.LegBookID(legID, DemoContractID)
	asks := demoLegAsks[legID]
	for i, carrier := range demoCarriers {
		if _, err := s.submit(bookID, carrier, orderbook.Ask, asks[i], 1); err != nil {
			return err
		}
	}
	_, err := s.d.Maker.Quote(bookID, fpdecimal.FromInt(asks[len(asks)-1]))
	return err
}

// hireCarrier has the current holder lift the best carrier ask, then moves
// the leg into transit with the matched carrier and price.
func (s *Script) hireCarrier(legID string, bid, simTime int64) error {
	r, err := s.submit(orderbook.LegBookID(legID, DemoContractID), s.holder, orderbook.Bid, bid, 1)
	if err != nil {
		return err
	}
	m := r.LastMatch()
	if m == nil {
		return fmt.Errorf("freight bid on %s rested without a match", r.BookID)
	}
	return s.d.Contracts.NoteLegInTransit(DemoContractID, legID, m.AskTrader, m.Price, simTime, legTransitETA)
}

// deliver fires the IoT arrival for a leg and settles its freight hold.
func (s *Script) deliver(legID string) error {
	if err := s.d.Contracts.MarkLegDelivered(DemoContractID, legID); err != nil {
		return err
	}
	return s.d.Settler.Deliver(legID, DemoContractID)
}

// Timeline builds the scripted events. Safe to call once and replay after
// Reset; every closure re-reads script state when it fires.
func (s *Script) Timeline() []Event {
	return []Event{
		{At: 1, Name: "fund accounts", Action: func(int64) error {
			fund := []struct {
				trader string
				amount int64
			}{
				{demoShipper, 300000},
				{s.d.Maker.Trader(), 200000},
			}
			for _, c := range demoCarriers {
				fund = append(fund, struct {
					trader string
					amount int64
				}{c, 100000})
			}
			for _, b := range demoBidders {
				fund = append(fund, struct {
					trader string
					amount int64
				}{b, 50000})
			}
			for _, f := range fund {
				if err := s.d.Ledger.Fund(f.trader, fpdecimal.FromInt(f.amount)); err != nil {
					return err
				}
			}
			return nil
		}},

		{At: 2, Name: "book contract", Action: func(int64) error {
			legs := []contract.LegSpec{
				{LegID: "L1", Origin: "Shenzhen", Destination: "Rotterdam", HighEstimate: fpdecimal.FromInt(9000)},
				{LegID: "L2", Origin: "Rotterdam", Destination: "Dublin", HighEstimate: fpdecimal.FromInt(5000)},
				{LegID: "L3", Origin: "Dublin", Destination: "Nenagh", HighEstimate: fpdecimal.FromInt(3000)},
			}
			_, err := s.d.Contracts.Create(DemoContractID, "Shenzhen", "Nenagh", demoShipper, legs, fpdecimal.FromInt(2000))
			return err
		}},

		{At: 3, Name: "quote ownership book", Action: func(int64) error {
			c, ok := s.d.Contracts.Get(DemoContractID)
			if !ok {
				return fmt.Errorf("contract %s missing", DemoContractID)
			}
			ref := c.MaxPrepaidCost.Div(fpdecimal.FromInt(10))
			receipts, err := s.d.Maker.Quote(orderbook.OwnershipBookID(DemoContractID), ref)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				if r.Resting {
					s.mmQuotes = append(s.mmQuotes, r.OrderID)
				}
			}
			return nil
		}},

		{At: 5, Name: "open L1 auction", Action: func(int64) error {
			return s.openAuction("L1")
		}},

		{At: 10, Name: "owner hires L1 carrier", Action: func(simTime int64) error {
			return s.hireCarrier("L1", 7800, simTime)
		}},

		{At: 25, Name: "L1 delivered", Action: func(int64) error {
			return s.deliver("L1")
		}},

		{At: 30, Name: "ownership bidding opens", Action: func(int64) error {
			// The maker pulls its straddle so the holder's ask sets the
			// offer, then the lowball bids arrive.
			for _, id := range s.mmQuotes {
				if _, err := s.d.Engine.Cancel(id); err != nil {
					return err
				}
			}
			s.mmQuotes = nil

			book := orderbook.OwnershipBookID(DemoContractID)
			if _, err := s.submit(book, bidderCheap, orderbook.Bid, 1000, 1); err != nil {
				return err
			}
			if _, err := s.submit(book, bidderFast, orderbook.Bid, 1200, 1); err != nil {
				return err
			}
			_, err := s.submit(book, s.holder, orderbook.Ask, 1450, 1)
			return err
		}},

		{At: 40, Name: "ownership changes hands", Action: func(int64) error {
			book := orderbook.OwnershipBookID(DemoContractID)
			if _, err := s.submit(book, bidderWealthy, orderbook.Bid, 1500, 1); err != nil {
				return err
			}
			owner, err := s.d.Contracts.CurrentOwner(DemoContractID)
			if err != nil {
				return err
			}
			s.holder = owner
			return nil
		}},

		{At: 50, Name: "open L2 auction", Action: func(int64) error {
			return s.openAuction("L2")
		}},

		{At: 55, Name: "owner hires L2 carrier", Action: func(simTime int64) error {
			return s.hireCarrier("L2", 3800, simTime)
		}},

		{At: 57, Name: "open L3 auction", Action: func(int64) error {
			return s.openAuction("L3")
		}},

		{At: 60, Name: "owner hires L3 carrier", Action: func(simTime int64) error {
			return s.hireCarrier("L3", 1800, simTime)
		}},

		{At: 70, Name: "L2 delivered", Action: func(int64) error {
			return s.deliver("L2")
		}},

		{At: 70, Name: "L3 delivered", Action: func(int64) error {
			return s.deliver("L3")
		}},
	}
}
