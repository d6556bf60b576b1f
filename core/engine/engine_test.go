package engine_test

import (
	"testing"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/storage"
)

func d(n int) fpdecimal.Decimal { return fpdecimal.FromInt(n) }

func ds(t *testing.T, s string) fpdecimal.Decimal {
	v, err := fpdecimal.FromString(s)
	require.NoError(t, err)
	return v
}

type env struct {
	led       *ledger.Ledger
	reg       *orderbook.Registry
	db        *storage.KvDB
	settler   *settle.Settler
	contracts *contract.Manager
	eng       *engine.Engine
	anomalies []string
}

func newEnv(t *testing.T) *env {
	e := &env{}
	sink := func(kind, detail string) { e.anomalies = append(e.anomalies, kind) }

	e.led = ledger.NewLedger(zap.NewNop(), sink)
	db, err := storage.NewDB("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	e.db = db

	e.reg = orderbook.NewRegistry()
	e.contracts = contract.NewManager(e.led, db, zap.NewNop())
	feeRate := fpdecimal.FromInt(1).Div(fpdecimal.FromInt(100))
	e.settler = settle.NewSettler(e.led, db, e.contracts, feeRate, "platform", sink, zap.NewNop())
	e.eng = engine.New(e.reg, e.led, db, e.settler, e.contracts, sink, zap.NewNop())
	return e
}

func (e *env) submit(t *testing.T, bookID, trader string, side orderbook.Side, price, qty int) *orderbook.Receipt {
	r, err := e.eng.Submit(engine.SubmitRequest{
		BookID: bookID, Trader: trader, Side: side, Price: d(price), Qty: int64(qty),
	})
	require.NoError(t, err)
	return r
}

func (e *env) available(trader string) fpdecimal.Decimal { return e.led.Balance(trader).Available }
func (e *env) locked(trader string) fpdecimal.Decimal    { return e.led.Balance(trader).Locked }

// conserved asserts that nothing created or destroyed money.
func (e *env) conserved(t *testing.T) {
	t.Helper()
	assert.True(t, e.led.Total().Equal(e.led.TotalFunded()),
		"total %s != funded %s", e.led.Total().String(), e.led.TotalFunded().String())
}

// Test_Submit_EmptyBook_BidRests tests a bid landing in an empty book
func Test_Submit_EmptyBook_BidRests(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 100, 1)

	assert.Empty(t, r.Matches)
	assert.True(t, r.Resting)
	assert.Equal(t, int64(1), r.RestingQty)
	assert.True(t, e.available("T1").Equal(d(900)))
	assert.True(t, e.locked("T1").Equal(d(100)))

	snap := e.reg.Get("L1_C1").Snapshot()
	require.Len(t, snap.Bids, 1)
	assert.Empty(t, snap.Asks)
	assert.Equal(t, int64(1), snap.Bids[0].Qty)
	e.conserved(t)
}

// Test_Submit_ImmediateCross_PriceImprovement tests matching at the
// resting price with the bid's overshoot released
func Test_Submit_ImmediateCross_PriceImprovement(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))
	e.submit(t, "L1_C1", "T2", orderbook.Ask, 80, 1)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 100, 1)

	require.Len(t, r.Matches, 1)
	assert.True(t, r.Matches[0].Price.Equal(d(80)))
	assert.Equal(t, int64(1), r.Matches[0].Qty)
	assert.False(t, r.Resting)
	assert.True(t, r.Released.Equal(d(20)))

	assert.True(t, e.available("T1").Equal(d(920)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	assert.True(t, e.available("T2").Equal(ds(t, "79.2")))
	assert.True(t, e.available("platform").Equal(ds(t, "0.8")))

	book := e.reg.Get("L1_C1")
	assert.Equal(t, 0, book.Len(orderbook.Bid))
	assert.Equal(t, 0, book.Len(orderbook.Ask))
	e.conserved(t)
}

// Test_Submit_PartialFill_ReducesResting tests an incoming bid smaller
// than the resting ask
func Test_Submit_PartialFill_ReducesResting(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(300)))
	e.submit(t, "L1_C1", "T2", orderbook.Ask, 10, 50)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 10, 30)

	require.Len(t, r.Matches, 1)
	assert.Equal(t, int64(30), r.Matches[0].Qty)

	rest := e.reg.Get("L1_C1").Peek(orderbook.Ask)
	require.NotNil(t, rest)
	assert.Equal(t, int64(20), rest.Qty)

	assert.True(t, e.available("T2").Equal(d(297)))
	assert.True(t, e.available("T1").Equal(d(0)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	e.conserved(t)
}

// Test_Submit_MultiLevel_SweepsAsks tests one bid walking several price
// levels
func Test_Submit_MultiLevel_SweepsAsks(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(200)))
	e.submit(t, "L1_C1", "T2", orderbook.Ask, 80, 1)
	e.submit(t, "L1_C1", "T3", orderbook.Ask, 90, 1)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 100, 2)

	require.Len(t, r.Matches, 2)
	assert.True(t, r.Matches[0].Price.Equal(d(80)), "cheapest ask first")
	assert.True(t, r.Matches[1].Price.Equal(d(90)))
	assert.Equal(t, int64(2), r.FilledQty())
	assert.False(t, r.Resting)

	assert.True(t, e.available("T1").Equal(d(30)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	assert.True(t, e.available("T2").Equal(ds(t, "79.2")))
	assert.True(t, e.available("T3").Equal(ds(t, "89.1")))
	e.conserved(t)
}

// Test_Submit_PartialSweep_RestsBelowAsk tests that a remainder rests
// without crossing the next level
func Test_Submit_PartialSweep_RestsBelowAsk(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(200)))
	e.submit(t, "L1_C1", "T2", orderbook.Ask, 80, 1)
	e.submit(t, "L1_C1", "T3", orderbook.Ask, 90, 1)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 85, 2)

	require.Len(t, r.Matches, 1)
	assert.True(t, r.Matches[0].Price.Equal(d(80)))
	assert.True(t, r.Resting)
	assert.Equal(t, int64(1), r.RestingQty)

	book := e.reg.Get("L1_C1")
	bestBid, ok := book.BestBid()
	require.True(t, ok)
	bestAsk, ok := book.BestAsk()
	require.True(t, ok)
	assert.True(t, bestAsk.GreaterThan(bestBid), "book must never cross")

	// Locked covers exactly the resting remainder at its limit
	assert.True(t, e.locked("T1").Equal(d(85)))
	e.conserved(t)
}

// Test_Submit_InsufficientFunds_RejectsAndCleans tests the funds check
func Test_Submit_InsufficientFunds_RejectsAndCleans(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(50)))

	_, err := e.eng.Submit(engine.SubmitRequest{
		BookID: "L1_C1", Trader: "T1", Side: orderbook.Bid, Price: d(100), Qty: 1,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.True(t, e.available("T1").Equal(d(50)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	assert.Equal(t, 0, e.reg.Get("L1_C1").Len(orderbook.Bid))
	e.conserved(t)
}

// Test_Submit_Validation tests synchronous rejections
func Test_Submit_Validation(t *testing.T) {
	e := newEnv(t)
	cases := []engine.SubmitRequest{
		{BookID: "L1_C1", Trader: "T1", Side: orderbook.Bid, Price: d(100), Qty: 0},
		{BookID: "L1_C1", Trader: "T1", Side: orderbook.Bid, Price: d(0), Qty: 1},
		{BookID: "L1_C1", Trader: "T1", Side: orderbook.Bid, Price: d(-5), Qty: 1},
		{BookID: "L1_C1", Trader: "", Side: orderbook.Bid, Price: d(100), Qty: 1},
		{BookID: "L1_C1", Trader: "T1", Side: orderbook.Side("hold"), Price: d(100), Qty: 1},
		{BookID: "nounderscore", Trader: "T1", Side: orderbook.Bid, Price: d(100), Qty: 1},
		{BookID: "contract:", Trader: "T1", Side: orderbook.Bid, Price: d(100), Qty: 1},
	}
	for _, req := range cases {
		_, err := e.eng.Submit(req)
		assert.ErrorIs(t, err, engine.ErrBadOrder, "req %+v", req)
	}
	assert.True(t, e.led.Total().Equal(d(0)))
}

// Test_Submit_OwnershipTransfer tests the immediate settlement path end
// to end: fee split, refund of the overshoot, owner change
func Test_Submit_OwnershipTransfer(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("ShipperA", d(300000)))
	require.NoError(t, e.led.Fund("WealthyCorp", d(50000)))
	_, err := e.contracts.Create("C1", "Shenzhen", "Nenagh", "ShipperA",
		[]contract.LegSpec{{LegID: "L1", Origin: "Shenzhen", Destination: "Nenagh", HighEstimate: d(9000)}}, d(2000))
	require.NoError(t, err)

	e.submit(t, "contract:C1", "ShipperA", orderbook.Ask, 1450, 1)
	r := e.submit(t, "contract:C1", "WealthyCorp", orderbook.Bid, 1500, 1)

	require.Len(t, r.Matches, 1)
	assert.True(t, r.Matches[0].Price.Equal(d(1450)))
	assert.Equal(t, orderbook.ContractOwnership, r.Matches[0].MatchType)

	owner, err := e.contracts.CurrentOwner("C1")
	require.NoError(t, err)
	assert.Equal(t, "WealthyCorp", owner)

	// 289000 escrow remainder + 1435.50 sale proceeds
	assert.True(t, e.available("ShipperA").Equal(ds(t, "290435.5")))
	assert.True(t, e.available("platform").Equal(ds(t, "14.5")))
	assert.True(t, e.available("WealthyCorp").Equal(d(48550)))
	assert.True(t, e.locked("WealthyCorp").Equal(d(0)))
	e.conserved(t)
}

// Test_Submit_OwnershipBid_Resting_UpdatesOwner tests the highest-bid
// owner rule when nothing crosses
func Test_Submit_OwnershipBid_Resting_UpdatesOwner(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("ShipperA", d(300000)))
	require.NoError(t, e.led.Fund("WealthyCorp", d(5000)))
	require.NoError(t, e.led.Fund("OtherCorp", d(5000)))
	_, err := e.contracts.Create("C1", "Shenzhen", "Nenagh", "ShipperA",
		[]contract.LegSpec{{LegID: "L1", Origin: "Shenzhen", Destination: "Nenagh", HighEstimate: d(9000)}}, d(2000))
	require.NoError(t, err)

	e.submit(t, "contract:C1", "WealthyCorp", orderbook.Bid, 1200, 1)
	owner, err := e.contracts.CurrentOwner("C1")
	require.NoError(t, err)
	assert.Equal(t, "WealthyCorp", owner)

	// A lower bid does not displace the leader
	e.submit(t, "contract:C1", "OtherCorp", orderbook.Bid, 1100, 1)
	owner, err = e.contracts.CurrentOwner("C1")
	require.NoError(t, err)
	assert.Equal(t, "WealthyCorp", owner)

	// A higher one does
	e.submit(t, "contract:C1", "OtherCorp", orderbook.Bid, 1300, 1)
	owner, err = e.contracts.CurrentOwner("C1")
	require.NoError(t, err)
	assert.Equal(t, "OtherCorp", owner)
}

// Test_Submit_FreightMatch_HoldThenDeliver tests deferred settlement
// through the engine
func Test_Submit_FreightMatch_HoldThenDeliver(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("ShipperA", d(300000)))

	e.submit(t, "L1_C1", "Maersk", orderbook.Ask, 7800, 1)
	r := e.submit(t, "L1_C1", "ShipperA", orderbook.Bid, 7800, 1)
	require.Len(t, r.Matches, 1)

	// Money parked, not paid
	assert.True(t, e.locked("ShipperA").Equal(d(7800)))
	assert.True(t, e.available("Maersk").Equal(d(0)))
	holds, err := e.db.HoldsByLegContract("L1", "C1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.Equal(t, settle.HoldPending, holds[0].Status)

	require.NoError(t, e.settler.Deliver("L1", "C1"))

	assert.True(t, e.locked("ShipperA").Equal(d(0)))
	assert.True(t, e.available("Maersk").Equal(d(7722)))
	assert.True(t, e.available("platform").Equal(d(78)))
	e.conserved(t)
}

// Test_Submit_TimePriority_FIFOWithinLevel tests earliest-first at one
// price
func Test_Submit_TimePriority_FIFOWithinLevel(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))

	first := e.submit(t, "L1_C1", "CarrierA", orderbook.Ask, 90, 1)
	e.submit(t, "L1_C1", "CarrierB", orderbook.Ask, 90, 1)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 90, 1)
	require.Len(t, r.Matches, 1)
	assert.Equal(t, first.OrderID, r.Matches[0].AskID)
	assert.Equal(t, "CarrierA", r.Matches[0].AskTrader)

	rest := e.reg.Get("L1_C1").Peek(orderbook.Ask)
	require.NotNil(t, rest)
	assert.Equal(t, "CarrierB", rest.Trader)
}

// Test_Cancel_RestoresLedger tests the submit-then-cancel round trip
func Test_Cancel_RestoresLedger(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 100, 1)
	removed, err := e.eng.Cancel(r.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "T1", removed.Trader)

	assert.True(t, e.available("T1").Equal(d(1000)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	assert.Equal(t, 0, e.reg.Get("L1_C1").Len(orderbook.Bid))

	_, err = e.eng.Cancel(r.OrderID)
	assert.ErrorIs(t, err, engine.ErrUnknownOrder)
	e.conserved(t)
}

// Test_Cancel_PartiallyFilled_RefundsRemainder tests cancelling what is
// left of a part-filled bid
func Test_Cancel_PartiallyFilled_RefundsRemainder(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))
	e.submit(t, "L1_C1", "T2", orderbook.Ask, 100, 1)

	r := e.submit(t, "L1_C1", "T1", orderbook.Bid, 100, 3)
	require.Len(t, r.Matches, 1)
	require.True(t, r.Resting)
	require.Equal(t, int64(2), r.RestingQty)
	require.True(t, e.locked("T1").Equal(d(200)))

	_, err := e.eng.Cancel(r.OrderID)
	require.NoError(t, err)

	assert.True(t, e.available("T1").Equal(d(900)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	assert.True(t, e.available("T2").Equal(d(99)))
	e.conserved(t)
}

// Test_Submit_LostRestingOrder_Aborts tests the zombie-order abort path
func Test_Submit_LostRestingOrder_Aborts(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.led.Fund("T1", d(1000)))

	ask := e.submit(t, "L1_C1", "T2", orderbook.Ask, 80, 1)
	// Simulate a vanished record behind the book's back
	require.NoError(t, e.db.DeleteOrder(ask.OrderID))

	_, err := e.eng.Submit(engine.SubmitRequest{
		BookID: "L1_C1", Trader: "T1", Side: orderbook.Bid, Price: d(100), Qty: 1,
	})
	require.ErrorIs(t, err, engine.ErrLostRestingOrder)
	assert.Contains(t, e.anomalies, "lost_resting_order")

	// Bid refunded in full, zombie evicted, nothing rests
	assert.True(t, e.available("T1").Equal(d(1000)))
	assert.True(t, e.locked("T1").Equal(d(0)))
	book := e.reg.Get("L1_C1")
	assert.Equal(t, 0, book.Len(orderbook.Ask))
	assert.Equal(t, 0, book.Len(orderbook.Bid))
	e.conserved(t)
}
