package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/openfreight/freightsim/metrics"
)

// broadcastPeriod is the frame rate of the stream.
const broadcastPeriod = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local simulator, browsers connect from anywhere
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns the subscriber set and the broadcast loop: every tick it
// builds one frame per subscribed book and fans it out.
type Hub struct {
	source *FrameSource
	logger *zap.Logger

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
}

func NewHub(source *FrameSource, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		source:     source,
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run drives registration and the broadcast tick. Call in a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			metrics.Get().WSConnection(1)
			h.logger.Info("stream client connected", zap.String("book", client.bookID))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().WSConnection(-1)
				h.logger.Info("stream client disconnected", zap.String("book", client.bookID))
			}

		case <-ticker.C:
			h.broadcast()

		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
				metrics.Get().WSConnection(-1)
			}
			return
		}
	}
}

// Stop tears down the loop and closes every subscriber.
func (h *Hub) Stop() {
	close(h.stop)
}

// broadcast builds each subscribed book's frame once and fans it out.
func (h *Hub) broadcast() {
	if len(h.clients) == 0 {
		return
	}

	frames := make(map[string][]byte)
	for client := range h.clients {
		payload, ok := frames[client.bookID]
		if !ok {
			frame := h.source.Build(client.bookID)
			data, err := json.Marshal(frame)
			if err != nil {
				h.logger.Error("frame marshal failed", zap.String("book", client.bookID), zap.Error(err))
				continue
			}
			frames[client.bookID] = data
			payload = data
		}
		client.deliver(payload)
	}
}

// Serve handles GET /ws: upgrade, register, start the pumps.
func (h *Hub) Serve(c echo.Context) error {
	bookID := c.QueryParam("book_id")
	if bookID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "book_id query parameter is required",
		})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, bookID, h.logger)
	h.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}
