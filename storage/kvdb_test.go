package storage_test

import (
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/storage"
)

func newTestDB(t *testing.T) *storage.KvDB {
	db, err := storage.NewDB("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testOrder(id string) *orderbook.Order {
	return &orderbook.Order{
		ID:        id,
		BookID:    "L1_C1",
		Trader:    "Maersk",
		Side:      orderbook.Ask,
		Price:     fpdecimal.FromInt(7800),
		Qty:       1,
		OrderType: orderbook.LegFreight,
		Ts:        time.Now(),
		Seq:       7,
	}
}

func TestKvDB_OrderOperations(t *testing.T) {
	db := newTestDB(t)

	t.Run("Put and Get Order", func(t *testing.T) {
		order := testOrder("order_1")
		require.NoError(t, db.PutOrder(order))

		got, err := db.GetOrder("order_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, order.ID, got.ID)
		assert.Equal(t, order.BookID, got.BookID)
		assert.Equal(t, order.Side, got.Side)
		assert.Equal(t, order.Price.String(), got.Price.String())
		assert.Equal(t, order.Qty, got.Qty)
		assert.Equal(t, order.Seq, got.Seq)
	})

	t.Run("Decimal Precision Preservation", func(t *testing.T) {
		price, err := fpdecimal.FromString("123.4567")
		require.NoError(t, err)
		order := testOrder("precision_test")
		order.Price = price
		require.NoError(t, db.PutOrder(order))

		got, err := db.GetOrder("precision_test")
		require.NoError(t, err)
		assert.Equal(t, "123.4567", got.Price.String())
	})

	t.Run("Get Non-existent Order", func(t *testing.T) {
		order, err := db.GetOrder("non_existent")
		require.ErrorIs(t, err, storage.ErrNotFound)
		assert.Nil(t, order)
	})

	t.Run("Delete Order", func(t *testing.T) {
		require.NoError(t, db.PutOrder(testOrder("order_4")))
		require.NoError(t, db.DeleteOrder("order_4"))

		got, err := db.GetOrder("order_4")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Nil(t, got)
	})

	t.Run("Update Order Remaining Quantity", func(t *testing.T) {
		order := testOrder("order_5")
		order.Qty = 10
		require.NoError(t, db.PutOrder(order))

		order.Qty = 4
		require.NoError(t, db.PutOrder(order))

		got, err := db.GetOrder("order_5")
		require.NoError(t, err)
		assert.Equal(t, int64(4), got.Qty)
	})
}

func TestKvDB_MatchLog(t *testing.T) {
	db := newTestDB(t)

	mk := func(id, bookID string, price int) *orderbook.Match {
		return &orderbook.Match{
			ID:        id,
			BookID:    bookID,
			BidID:     "b_" + id,
			AskID:     "a_" + id,
			BidTrader: "ShipperA",
			AskTrader: "Maersk",
			Price:     fpdecimal.FromInt(price),
			Qty:       1,
			MatchType: orderbook.LegFreight,
			Ts:        time.Now(),
		}
	}

	require.NoError(t, db.AppendMatch(mk("m1", "L1_C1", 900)))
	require.NoError(t, db.AppendMatch(mk("m2", "L2_C1", 500)))
	require.NoError(t, db.AppendMatch(mk("m3", "L1_C1", 920)))

	t.Run("Per-book Log Order", func(t *testing.T) {
		got, err := db.MatchesByBook("L1_C1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].ID)
		assert.Equal(t, "m3", got[1].ID)
		assert.Equal(t, "900", got[0].Price.String())
	})

	t.Run("Other Book Untouched", func(t *testing.T) {
		got, err := db.MatchesByBook("L2_C1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "m2", got[0].ID)
	})

	t.Run("Empty Book", func(t *testing.T) {
		got, err := db.MatchesByBook("L9_C9")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestKvDB_HoldOperations(t *testing.T) {
	db := newTestDB(t)

	hold := &settle.Hold{
		ID:         "hold_1",
		MatchID:    "m1",
		LegID:      "L1",
		ContractID: "C1",
		Amount:     fpdecimal.FromInt(7800),
		Payer:      "ShipperA",
		Payee:      "Maersk",
		Status:     settle.HoldPending,
		Ts:         time.Now(),
	}
	require.NoError(t, db.PutHold(hold))
	require.NoError(t, db.PutHold(&settle.Hold{
		ID: "hold_2", MatchID: "m2", LegID: "L2", ContractID: "C1",
		Amount: fpdecimal.FromInt(500), Payer: "ShipperA", Payee: "DHL",
		Status: settle.HoldPending, Ts: time.Now(),
	}))

	t.Run("Get Hold", func(t *testing.T) {
		got, err := db.GetHold("hold_1")
		require.NoError(t, err)
		assert.Equal(t, "7800", got.Amount.String())
		assert.Equal(t, settle.HoldPending, got.Status)
	})

	t.Run("Index By Leg And Contract", func(t *testing.T) {
		got, err := db.HoldsByLegContract("L1", "C1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "hold_1", got[0].ID)
	})

	t.Run("Update Status", func(t *testing.T) {
		require.NoError(t, db.UpdateHoldStatus("hold_1", settle.HoldSettled))
		got, err := db.GetHold("hold_1")
		require.NoError(t, err)
		assert.Equal(t, settle.HoldSettled, got.Status)
	})

	t.Run("Update Unknown Hold", func(t *testing.T) {
		assert.ErrorIs(t, db.UpdateHoldStatus("nope", settle.HoldSettled), storage.ErrNotFound)
	})
}

func TestKvDB_ContractOperations(t *testing.T) {
	db := newTestDB(t)

	carrier := "Maersk"
	cost := fpdecimal.FromInt(7800)
	start := int64(10)
	c := &contract.Contract{
		ID:               "C1",
		Origin:           "Shenzhen",
		FinalDestination: "Nenagh",
		InitialShipper:   "ShipperA",
		CurrentOwner:     "ShipperA",
		Status:           contract.StatusBooked,
		MaxPrepaidCost:   fpdecimal.FromInt(19000),
		CreationTs:       time.Now(),
		Legs: []*contract.Leg{
			{
				LegID: "L1", ContractID: "C1", Origin: "Shenzhen", Destination: "Rotterdam",
				Status: contract.LegInTransit, Carrier: &carrier, FreightCost: &cost, StartSimTime: &start,
			},
			{
				LegID: "L2", ContractID: "C1", Origin: "Rotterdam", Destination: "Nenagh",
				Status: contract.LegPendingAuction,
			},
		},
	}
	require.NoError(t, db.PutContract(c))

	got, err := db.GetContract("C1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "19000", got.MaxPrepaidCost.String())
	require.Len(t, got.Legs, 2)
	require.NotNil(t, got.Legs[0].FreightCost)
	assert.Equal(t, "7800", got.Legs[0].FreightCost.String())
	assert.Equal(t, "Maersk", *got.Legs[0].Carrier)
	assert.Nil(t, got.Legs[1].Carrier)

	_, err = db.GetContract("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKvDB_AnomalyLog(t *testing.T) {
	db := newTestDB(t)
	db.SetSimClock(func() int64 { return 42 })

	db.RecordAnomaly("escrow_shortfall", "release clamped for ShipperA")
	db.RecordAnomaly("lost_resting_order", "order abc vanished from book L1_C1")

	got, err := db.Anomalies()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, "escrow_shortfall", got[0].Kind)
	assert.Equal(t, int64(42), got[0].SimTime)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestKvDB_Wipe(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.PutOrder(testOrder("order_1")))
	require.NoError(t, db.AppendMatch(&orderbook.Match{
		ID: "m1", BookID: "L1_C1", Price: fpdecimal.FromInt(900), Qty: 1,
		MatchType: orderbook.LegFreight, Ts: time.Now(),
	}))
	db.RecordAnomaly("escrow_shortfall", "x")

	require.NoError(t, db.Wipe())

	_, err := db.GetOrder("order_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	matches, err := db.MatchesByBook("L1_C1")
	require.NoError(t, err)
	assert.Empty(t, matches)

	anomalies, err := db.Anomalies()
	require.NoError(t, err)
	assert.Empty(t, anomalies)

	// Counters rewind with the data
	require.NoError(t, db.AppendMatch(&orderbook.Match{
		ID: "m2", BookID: "L1_C1", Price: fpdecimal.FromInt(910), Qty: 1,
		MatchType: orderbook.LegFreight, Ts: time.Now(),
	}))
	matches, err = db.MatchesByBook("L1_C1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m2", matches[0].ID)
}
