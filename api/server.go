package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	httpctl "github.com/openfreight/freightsim/api/controllers/http"
	"github.com/openfreight/freightsim/api/handlers"
	"github.com/openfreight/freightsim/api/middleware"
	"github.com/openfreight/freightsim/api/ws"
	"github.com/openfreight/freightsim/core/contract"
	"github.com/openfreight/freightsim/core/engine"
	"github.com/openfreight/freightsim/core/ledger"
	"github.com/openfreight/freightsim/core/orderbook"
	"github.com/openfreight/freightsim/core/sim"
	"github.com/openfreight/freightsim/metrics"
	"github.com/openfreight/freightsim/storage"
)

// Server is the HTTP surface of one simulator node.
type Server struct {
	echo   *echo.Echo
	hub    *ws.Hub
	logger *zap.Logger
}

// Config holds server dependencies
type Config struct {
	Engine    *engine.Engine
	Scheduler *sim.Scheduler
	Books     *orderbook.Registry
	Ledger    *ledger.Ledger
	Contracts *contract.Manager
	KvDB      *storage.KvDB
	Logger    *zap.Logger
}

// NewServer creates the API server and wires all routes
func NewServer(config *Config) *Server {
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Handlers
	orderHandler := handlers.NewOrderHandler(config.Engine, config.KvDB, log)
	simHandler := handlers.NewSimHandler(config.Scheduler, log)

	// Controllers
	orderCtl := httpctl.NewOrderController(orderHandler)
	simCtl := httpctl.NewSimController(simHandler)
	marketCtl := httpctl.NewMarketController(config.Books, config.Ledger, config.Contracts, config.KvDB)

	// Streaming hub
	source := ws.NewFrameSource(config.Books, config.Ledger, config.Contracts, config.KvDB, config.Scheduler)
	hub := ws.NewHub(source, log)

	// Middleware
	e.Use(echomw.Recover())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(middleware.LoggingMiddleware())
	e.Use(middleware.ValidationMiddleware())

	setupRoutes(e, orderCtl, simCtl, marketCtl, hub)

	return &Server{
		echo:   e,
		hub:    hub,
		logger: log,
	}
}

// setupRoutes configures the HTTP routes
func setupRoutes(
	e *echo.Echo,
	orderCtl *httpctl.OrderController,
	simCtl *httpctl.SimController,
	marketCtl *httpctl.MarketController,
	hub *ws.Hub,
) {
	// Simulation control
	e.POST("/play", simCtl.Play)
	e.POST("/pause", simCtl.Pause)
	e.POST("/resume", simCtl.Resume)
	e.POST("/reset", simCtl.Reset)

	// Orders
	e.POST("/orders", orderCtl.CreateOrder)
	e.GET("/orders/:order_id", orderCtl.GetOrder)
	e.DELETE("/orders/:order_id", orderCtl.CancelOrder)

	// Market views
	e.GET("/orderbook/:book_id", marketCtl.GetOrderbook)
	e.GET("/balances", marketCtl.GetBalances)
	e.GET("/current_owner/:contract_id", marketCtl.GetCurrentOwner)
	e.GET("/contracts/:contract_id", marketCtl.GetContract)
	e.GET("/matches/:book_id", marketCtl.GetMatches)
	e.GET("/anomalies", marketCtl.GetAnomalies)

	// Operational
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Streaming
	e.GET("/ws", hub.Serve)
}

// Start launches the broadcast hub and the HTTP listener. Blocks until
// the server closes.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.logger.Info("api server listening", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Stop stops the hub and the HTTP server
func (s *Server) Stop() error {
	s.hub.Stop()
	return s.echo.Close()
}

// GetEcho returns the Echo instance for tests
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}
