package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// MaxSpectatorsTotal caps the hub-wide connection count.
	MaxSpectatorsTotal = 100

	// MaxSpectatorsPerIP caps connections from one address.
	MaxSpectatorsPerIP = 5

	// spectatorFeedInterval is the state push cadence, slower than the UDP
	// tick because dashboards do not need 20 Hz.
	spectatorFeedInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("⚠️ Spectator rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

type wsClient struct {
	conn *websocket.Conn
	ip   string
}

// SpectatorHub fans the game state out to WebSocket spectators.
type SpectatorHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	connLimiter *SpectatorConnLimiter
}

// NewSpectatorHub builds a hub; no goroutines start until Run.
func NewSpectatorHub() *SpectatorHub {
	return &SpectatorHub{
		clients:     make(map[*websocket.Conn]*wsClient),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *wsClient),
		unregister:  make(chan *websocket.Conn),
		connLimiter: NewSpectatorConnLimiter(MaxSpectatorsPerIP),
	}
}

// Run processes registrations and fan-out. Call in its own goroutine.
func (h *SpectatorHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📺 Spectator connected from %s (%d total)", client.ip, count)
			UpdateSpectatorCount(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[conn]; ok {
				h.connLimiter.Release(client.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📺 Spectator disconnected (%d remaining)", count)
			UpdateSpectatorCount(count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for conn, client := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					h.connLimiter.Release(client.ip)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
			IncrementSpectatorMessages()
		}
	}
}

// Broadcast queues an event for all spectators; full queues drop.
func (h *SpectatorHub) Broadcast(event string, data any) {
	jsonBytes, err := json.Marshal(map[string]any{
		"event": event,
		"data":  data,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- jsonBytes:
	default:
	}
}

// ClientCount returns the number of connected spectators.
func (h *SpectatorHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// StartFeed pushes the game state to spectators on a fixed cadence.
func (h *SpectatorHub) StartFeed(engine EngineInterface) {
	ticker := time.NewTicker(spectatorFeedInterval)

	go func() {
		for range ticker.C {
			if h.ClientCount() == 0 {
				continue
			}

			v := engine.StateView()
			scores := make(map[string]int, len(v.Players))
			for id, p := range v.Players {
				scores[id] = p.Score
			}

			h.Broadcast("game:state", map[string]any{
				"grid_size":     v.GridSize,
				"claimed_cells": v.ClaimedCells,
				"positions":     v.Positions,
				"scores":        scores,
				"game_over":     v.GameOver,
				"winner_id":     v.WinnerID,
			})
		}
	}()
}

// HandleWebSocket upgrades a spectator connection, enforcing both caps.
func (h *SpectatorHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	h.mu.RLock()
	total := len(h.clients)
	h.mu.RUnlock()

	if total >= MaxSpectatorsTotal {
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.connLimiter.Allow(ip) {
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.connLimiter.Release(ip)
		return
	}

	h.register <- &wsClient{conn: conn, ip: ip}

	// Spectators are read-only; inbound messages are drained and ignored.
	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
