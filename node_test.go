package main

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

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/sim"
	"github.com/openfreight/freightsim/node"
)

func newTestNode(t *testing.T) *node.Node {
	t.Helper()
	cfg := node.DefaultConfig()
	cfg.Tick = time.Millisecond
	cfg.ArchiveEnabled = false
	n, err := node.NewNode(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	return n
}

// do runs one request through the router without a live listener.
func do(t *testing.T, n *node.Node, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	n.APIServer().GetEcho().ServeHTTP(rec, req)
	return rec
}

func runDemo(t *testing.T, n *node.Node) {
	t.Helper()
	rec := do(t, n, http.MethodPost, "/play", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		return !n.Scheduler().State().Running
	}, 15*time.Second, 5*time.Millisecond, "demo timeline must run to completion")
}

func Test_Node_DemoRun_EndState(t *testing.T) {
	n := newTestNode(t)
	runDemo(t, n)

	c, ok := n.Contracts().Get(sim.DemoContractID)
	require.True(t, ok)
	assert.Equal(t, contract.StatusDeliveredFinal, c.Status)
	assert.Equal(t, "WealthyCorp", c.CurrentOwner)
	require.Len(t, c.Legs, 3)
	for _, l := range c.Legs {
		assert.Equal(t, contract.LegSettled, l.Status, l.LegID)
	}

	led := n.Ledger()
	assert.True(t, led.Total().Equal(led.TotalFunded()), "conservation")

	anomalies, err := n.KvDB().Anomalies()
	require.NoError(t, err)
	assert.Empty(t, anomalies, "demo must run clean")
}

func Test_Node_DemoRun_HTTPViews(t *testing.T) {
	n := newTestNode(t)
	runDemo(t, n)

	t.Run("balances carry decimal strings", func(t *testing.T) {
		rec := do(t, n, http.MethodGet, "/balances", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success bool `json:"success"`
			Data    map[string]struct {
				Available string `json:"available"`
				Locked    string `json:"locked"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.True(t, resp.Success)

		hapag, ok := resp.Data["Hapag"]
		require.True(t, ok)
		got, err := fpdecimal.FromString(hapag.Available)
		require.NoError(t, err)
		assert.True(t, got.Equal(fpdecimal.FromInt(108514)), hapag.Available)
	})

	t.Run("current owner", func(t *testing.T) {
		rec := do(t, n, http.MethodGet, "/current_owner/"+sim.DemoContractID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data struct {
				ContractID   string `json:"contract_id"`
				CurrentOwner string `json:"current_owner"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "WealthyCorp", resp.Data.CurrentOwner)
	})

	t.Run("contract view", func(t *testing.T) {
		rec := do(t, n, http.MethodGet, "/contracts/"+sim.DemoContractID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "DELIVERED_FINAL")
	})

	t.Run("ownership match log", func(t *testing.T) {
		rec := do(t, n, http.MethodGet, "/matches/contract:"+sim.DemoContractID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data []struct {
				BidTrader string `json:"bid_trader"`
				Price     string `json:"price"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "WealthyCorp", resp.Data[0].BidTrader)
		assert.Equal(t, "1450", resp.Data[0].Price)
	})

	t.Run("anomaly log empty", func(t *testing.T) {
		rec := do(t, n, http.MethodGet, "/anomalies", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_Node_Reset_LeavesQuiescentWorld(t *testing.T) {
	n := newTestNode(t)
	runDemo(t, n)

	rec := do(t, n, http.MethodPost, "/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	st := n.Scheduler().State()
	assert.False(t, st.Running)
	assert.Zero(t, st.SimClock)

	_, ok := n.Contracts().Get(sim.DemoContractID)
	assert.False(t, ok)
	assert.True(t, n.Ledger().TotalFunded().Equal(fpdecimal.FromInt(0)))

	// A second run lands on the same end state.
	runDemo(t, n)
	c, ok := n.Contracts().Get(sim.DemoContractID)
	require.True(t, ok)
	assert.Equal(t, contract.StatusDeliveredFinal, c.Status)
}

func Test_Node_ControlConflicts(t *testing.T) {
	n := newTestNode(t)

	rec := do(t, n, http.MethodPost, "/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pause while idle")

	rec = do(t, n, http.MethodPost, "/resume", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "resume while idle")

	require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/play", nil).Code)
	rec = do(t, n, http.MethodPost, "/play", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "play while running")

	require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/pause", nil).Code)
	require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/resume", nil).Code)
	require.Equal(t, http.StatusOK, do(t, n, http.MethodPost, "/reset", nil).Code)
}

func Test_Node_HealthAndMetrics(t *testing.T) {
	n := newTestNode(t)

	rec := do(t, n, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, n, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "freightsim_")
}
