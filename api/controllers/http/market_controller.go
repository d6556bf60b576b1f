package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/storage"
)

// MarketController serves the read-only market views: book snapshots,
// balances, contracts, match and anomaly logs.
type MarketController struct {
	books     *orderbook.Registry
	ledger    *ledger.Ledger
	contracts *contract.Manager
	kvdb      *storage.KvDB
}

// NewMarketController creates a new market view controller
func NewMarketController(books *orderbook.Registry, led *ledger.Ledger, contracts *contract.Manager, kvdb *storage.KvDB) *MarketController {
	return &MarketController{
		books:     books,
		ledger:    led,
		contracts: contracts,
		kvdb:      kvdb,
	}
}

// GetOrderbook handles GET /orderbook/:book_id. An unknown book reads
// as empty, matching what a trader would see before the first order.
func (c *MarketController) GetOrderbook(ctx echo.Context) error {
	bookID := ctx.Param("book_id")
	if bookID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Book ID is required", "Missing book ID"))
	}

	book, ok := c.books.Lookup(bookID)
	if !ok {
		return ctx.JSON(http.StatusOK, NewSuccessResponse(&orderbook.Snapshot{BookID: bookID}, "Orderbook snapshot"))
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(book.Snapshot(), "Orderbook snapshot"))
}

// GetBalances handles GET /balances
func (c *MarketController) GetBalances(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, NewSuccessResponse(BalancesView(c.ledger), "Ledger balances"))
}

// BalancesView projects the ledger snapshot onto decimal strings
func BalancesView(led *ledger.Ledger) map[string]BalanceView {
	snap := led.Snapshot()
	out := make(map[string]BalanceView, len(snap))
	for trader, b := range snap {
		out[trader] = BalanceView{
			Available: b.Available.String(),
			Locked:    b.Locked.String(),
		}
	}
	return out
}

// GetCurrentOwner handles GET /current_owner/:contract_id
func (c *MarketController) GetCurrentOwner(ctx echo.Context) error {
	contractID := ctx.Param("contract_id")
	if contractID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Contract ID is required", "Missing contract ID"))
	}

	owner, err := c.contracts.CurrentOwner(contractID)
	if err != nil {
		return ctx.JSON(http.StatusNotFound, NewErrorResponse(err.Error(), "Contract lookup failed"))
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(&OwnerView{
		ContractID:   contractID,
		CurrentOwner: owner,
	}, "Current owner"))
}

// GetContract handles GET /contracts/:contract_id
func (c *MarketController) GetContract(ctx echo.Context) error {
	contractID := ctx.Param("contract_id")
	if contractID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Contract ID is required", "Missing contract ID"))
	}

	con, ok := c.contracts.Get(contractID)
	if !ok {
		return ctx.JSON(http.StatusNotFound, NewErrorResponse("contract not found", "Contract lookup failed"))
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(con, "Contract"))
}

// GetMatches handles GET /matches/:book_id
func (c *MarketController) GetMatches(ctx echo.Context) error {
	bookID := ctx.Param("book_id")
	if bookID == "" {
		return ctx.JSON(http.StatusBadRequest, NewErrorResponse("Book ID is required", "Missing book ID"))
	}

	matches, err := c.kvdb.MatchesByBook(bookID)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error(), "Match log read failed"))
	}
	if matches == nil {
		matches = []*orderbook.Match{}
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(matches, "Match log"))
}

// GetAnomalies handles GET /anomalies
func (c *MarketController) GetAnomalies(ctx echo.Context) error {
	anomalies, err := c.kvdb.Anomalies()
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error(), "Anomaly log read failed"))
	}
	if anomalies == nil {
		anomalies = []*storage.Anomaly{}
	}

	return ctx.JSON(http.StatusOK, NewSuccessResponse(anomalies, "Anomaly log"))
}
