package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/lorawan-server/lorawan-virtual-lab/internal/models"
	"github.com/lorawan-server/lorawan-virtual-lab/internal/simulation"
)

// Event types pushed to WebSocket clients
const (
	EventSnapshot   = "snapshot"
	EventConnection = "connection"
	EventReadings   = "readings"
	EventStats      = "stats"
	EventLog        = "log"
	EventPacket     = "packet"
)

// Event is the envelope of every WebSocket message
type Event struct {
	Type string      `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// WSHub manages WebSocket connections and broadcasts lab events. It
// implements simulation.Presenter.
type WSHub struct {
	clients map[*wsClient]struct{}
	mu      sync.RWMutex

	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Event

	done     chan struct{}
	stopOnce sync.Once
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

var _ simulation.Presenter = (*WSHub)(nil)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			// Close all remaining clients on shutdown
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("total", total).Msg("ws client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Debug().Int("total", total).Msg("ws client disconnected")

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("type", ev.Type).Msg("ws marshal")
				continue
			}
			h.mu.Lock()
			var slow []*wsClient
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client too slow, mark for eviction
					slow = append(slow, client)
				}
			}
			for _, client := range slow {
				delete(h.clients, client)
				close(client.send)
				log.Warn().Msg("ws client evicted (too slow)")
			}
			h.mu.Unlock()
		}
	}
}

// Stop signals the hub to shut down. Safe to call multiple times.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Clients returns the number of connected clients
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for all connected clients. It never blocks.
func (h *WSHub) Broadcast(eventType string, data interface{}) {
	select {
	case h.broadcast <- Event{Type: eventType, Time: time.Now(), Data: data}:
	default:
		log.Warn().Str("type", eventType).Msg("ws broadcast channel full, dropping message")
	}
}

func (h *WSHub) OnConnectionStateChanged(status models.ConnectionStatus) {
	h.Broadcast(EventConnection, status)
}

func (h *WSHub) OnReadingsUpdated(readings []models.SensorReading, history map[models.SensorKind][]float64) {
	h.Broadcast(EventReadings, map[string]interface{}{
		"readings": readings,
		"history":  history,
	})
}

func (h *WSHub) OnStatsUpdated(stats models.Stats) {
	h.Broadcast(EventStats, stats)
}

func (h *WSHub) OnLogAppended(entry models.LogEntry) {
	h.Broadcast(EventLog, entry)
}

func (h *WSHub) OnPacketStage(packet models.Packet, stage models.RelayStage) {
	h.Broadcast(EventPacket, packet)
}

// HandleWS upgrades the request and streams lab events, starting with a
// full snapshot.
func (s *RESTServer) HandleWS(w http.ResponseWriter, r *http.Request) {
	var snap simulation.Snapshot
	if !s.run(w, r, func() { snap = s.lab.Snapshot() }) {
		return
	}

	opts := &websocket.AcceptOptions{}
	if origins := s.config.API.AllowedOrigins; len(origins) > 0 {
		opts.OriginPatterns = origins
	}

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		log.Error().Err(err).Msg("ws accept")
		return
	}

	conn.SetReadLimit(4096)

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	if data, err := json.Marshal(Event{Type: EventSnapshot, Time: time.Now(), Data: snap}); err == nil {
		client.send <- data
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go s.wsWritePump(client)
	s.wsReadPump(client)
}

func (s *RESTServer) wsWritePump(client *wsClient) {
	for msg := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	// Channel closed by hub; close connection.
	client.conn.Close(websocket.StatusNormalClosure, "")
}

func (s *RESTServer) wsReadPump(client *wsClient) {
	defer func() {
		select {
		case s.hub.unregister <- client:
		case <-s.hub.done:
			// Hub already shut down; close connection directly.
			client.conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel read context when hub shuts down.
	go func() {
		select {
		case <-s.hub.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		// clients only listen; reads detect the close
		if _, _, err := client.conn.Read(ctx); err != nil {
			return
		}
	}
}
