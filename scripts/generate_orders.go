package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// OrderRequest mirrors the POST /orders payload
type OrderRequest struct {
	Side       string `json:"side"`
	Trader     string `json:"trader"`
	LegID      string `json:"leg_id"`
	ContractID string `json:"contract_id"`
	OrderType  string `json:"order_type"`
	Price      string `json:"price"`
	Qty        int64  `json:"qty"`
}

// OrderResponse mirrors the API response wrapper
type OrderResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

const (
	contractID = "C1"
	ownership  = "CONTRACT_OWNERSHIP"
)

var (
	legs = []string{"L1", "L2", "L3"}

	carriers = []string{"Maersk", "Evergreen", "COSCO", "MSC", "Hapag"}
	bidders  = []string{"CheapLtd", "FastPLC", "WealthyCorp"}

	// Price bands per leg, roughly around the demo's carrier quotes.
	legBands = map[string][2]int{
		"L1": {6000, 9000},
		"L2": {2000, 5000},
		"L3": {600, 3000},
	}
)

func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	fmt.Printf("generating freight orders against %s\n", baseURL)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		order := randomOrder(rng)

		if err := sendOrder(baseURL, order); err != nil {
			fmt.Printf("order rejected: %v\n", err)
		} else {
			target := order.LegID
			if target == "" {
				target = "ownership"
			}
			fmt.Printf("sent %s %s %s x%d @ %s\n",
				order.Side, order.Trader, target, order.Qty, order.Price)
		}

		time.Sleep(time.Duration(rng.Intn(4)+1) * time.Second)
	}
}

// randomOrder produces a plausible quote: carriers ask on leg books,
// traders occasionally bid on the ownership book.
func randomOrder(rng *rand.Rand) OrderRequest {
	// 1 in 5 orders targets the ownership book
	if rng.Intn(5) == 0 {
		return OrderRequest{
			Side:       "bid",
			Trader:     bidders[rng.Intn(len(bidders))],
			ContractID: contractID,
			OrderType:  ownership,
			Price:      fmt.Sprintf("%d", rng.Intn(1400)+600),
			Qty:        1,
		}
	}

	legID := legs[rng.Intn(len(legs))]
	band := legBands[legID]
	price := rng.Intn(band[1]-band[0]) + band[0]

	return OrderRequest{
		Side:       "ask",
		Trader:     carriers[rng.Intn(len(carriers))],
		LegID:      legID,
		ContractID: contractID,
		Price:      fmt.Sprintf("%d", price),
		Qty:        1,
	}
}

func sendOrder(baseURL string, order OrderRequest) error {
	jsonData, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %v", err)
	}

	resp, err := http.Post(baseURL+"/orders", "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var body OrderResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Error)
	}

	return nil
}
