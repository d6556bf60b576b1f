package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/settle"
	"github.com/openfreight/freightsim/core/sim"
	"github.com/openfreight/freightsim/storage"
)

type world struct {
	server *Server
	ledger *ledger.Ledger
	kvdb   *storage.KvDB
}

func newWorld(t *testing.T) *world {
	t.Helper()
	log := zap.NewNop()

	kvdb, err := storage.NewDB("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvdb.Close() })

	store := storage.NewArchivingStore(kvdb, nil, log)
	sink := store.RecordAnomaly

	led := ledger.NewLedger(log, sink)
	books := orderbook.NewRegistry()
	contracts := contract.NewManager(led, kvdb, log)

	feeRate := fpdecimal.FromInt(1).Div(fpdecimal.FromInt(100))
	settler := settle.NewSettler(led, store, contracts, feeRate, "platform", sink, log)
	eng := engine.New(books, led, store, settler, contracts, sink, log)

	sched := sim.NewScheduler(nil, func() {}, sink, time.Millisecond, log)
	kvdb.SetSimClock(sched.Now)

	srv := NewServer(&Config{
		Engine:    eng,
		Scheduler: sched,
		Books:     books,
		Ledger:    led,
		Contracts: contracts,
		KvDB:      kvdb,
		Logger:    log,
	})
	return &world{server: srv, ledger: led, kvdb: kvdb}
}

func (w *world) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	w.server.GetEcho().ServeHTTP(rec, req)
	return rec
}

func orderBody(side, trader, legID, price string) map[string]interface{} {
	return map[string]interface{}{
		"side":        side,
		"trader":      trader,
		"leg_id":      legID,
		"contract_id": "C1",
		"price":       price,
		"qty":         1,
	}
}

func Test_Health_Responds(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func Test_CreateOrder_FundedBid_Created(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.ledger.Fund("ShipperA", fpdecimal.FromInt(10000)))

	rec := w.do(t, http.MethodPost, "/orders", orderBody("bid", "ShipperA", "L1", "5000"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID string
			BookID  string
			Resting bool
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.OrderID)
	assert.Equal(t, "L1_C1", resp.Data.BookID)
	assert.True(t, resp.Data.Resting, "no asks to cross, the bid must rest")

	bal := w.ledger.Balance("ShipperA")
	assert.True(t, bal.Locked.Equal(fpdecimal.FromInt(5000)), "resting bid escrows notional")

	// The resting order is fetchable by id.
	rec = w.do(t, http.MethodGet, "/orders/"+resp.Data.OrderID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_CreateOrder_AskThenBid_Matches(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.ledger.Fund("ShipperA", fpdecimal.FromInt(10000)))

	rec := w.do(t, http.MethodPost, "/orders", orderBody("ask", "Maersk", "L1", "4000"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = w.do(t, http.MethodPost, "/orders", orderBody("bid", "ShipperA", "L1", "4500"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = w.do(t, http.MethodGet, "/matches/L1_C1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []struct {
			BidTrader string `json:"bid_trader"`
			AskTrader string `json:"ask_trader"`
			Price     string `json:"price"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "ShipperA", resp.Data[0].BidTrader)
	assert.Equal(t, "Maersk", resp.Data[0].AskTrader)
	assert.Equal(t, "4000", resp.Data[0].Price, "fill lands at the resting ask")
}

func Test_CreateOrder_Rejections(t *testing.T) {
	w := newWorld(t)

	t.Run("bad side", func(t *testing.T) {
		rec := w.do(t, http.MethodPost, "/orders", orderBody("buy", "ShipperA", "L1", "100"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad price", func(t *testing.T) {
		rec := w.do(t, http.MethodPost, "/orders", orderBody("bid", "ShipperA", "L1", "not-a-number"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no target book", func(t *testing.T) {
		rec := w.do(t, http.MethodPost, "/orders", map[string]interface{}{
			"side": "bid", "trader": "ShipperA", "price": "100", "qty": 1,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unfunded bid", func(t *testing.T) {
		rec := w.do(t, http.MethodPost, "/orders", orderBody("bid", "Pauper", "L1", "100"))
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	})
}

func Test_CancelOrder_Unknown_NotFound(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodDelete, "/orders/no-such-order", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Orderbook_UnknownBook_EmptySnapshot(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodGet, "/orderbook/L9_C9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			BookID string                    `json:"book_id"`
			Bids   []orderbook.SnapshotEntry `json:"bids"`
			Asks   []orderbook.SnapshotEntry `json:"asks"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "L9_C9", resp.Data.BookID)
	assert.Empty(t, resp.Data.Bids)
	assert.Empty(t, resp.Data.Asks)
}

func Test_Balances_ReflectFunding(t *testing.T) {
	w := newWorld(t)
	require.NoError(t, w.ledger.Fund("ShipperA", fpdecimal.FromInt(250)))

	rec := w.do(t, http.MethodGet, "/balances", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data map[string]struct {
			Available string `json:"available"`
			Locked    string `json:"locked"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "250", resp.Data["ShipperA"].Available)
	assert.Equal(t, "0", resp.Data["ShipperA"].Locked)
}

func Test_Contract_Unknown_NotFound(t *testing.T) {
	w := newWorld(t)

	rec := w.do(t, http.MethodGet, "/contracts/C9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = w.do(t, http.MethodGet, "/current_owner/C9", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Pause_WhileIdle_Conflict(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodPost, "/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_Metrics_Exposed(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "freightsim_")
}

func Test_WS_MissingBookID_BadRequest(t *testing.T) {
	w := newWorld(t)
	rec := w.do(t, http.MethodGet, "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Validation_RejectsUnsupportedMethod(t *testing.T) {
	w := newWorld(t)
	req := httptest.NewRequest(http.MethodPut, "/orders", nil)
	rec := httptest.NewRecorder()
	w.server.GetEcho().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
