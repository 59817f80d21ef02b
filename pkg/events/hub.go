package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const hubWriteTimeout = 5 * time.Second

// Hub streams events to websocket clients. Clients may narrow the stream
// with ?entity=task,vsession.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*hubClient
}

type hubClient struct {
	id     string
	conn   *websocket.Conn
	filter map[EntityType]bool
	mu     sync.Mutex
}

func (c *hubClient) wants(t EntityType) bool {
	return len(c.filter) == 0 || c.filter[t]
}

func (c *hubClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub creates a websocket hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[string]*hubClient),
	}
}

func (h *Hub) Name() string { return "websocket" }

// ServeHTTP upgrades the request and registers the client until it hangs up.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		_ = conn.Close()
		return
	}

	c := &hubClient{id: id, conn: conn, filter: parseEntityFilter(r.URL.Query().Get("entity"))}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()

	h.logger.Debug().Str("client_id", id).Msg("Event client connected")

	// Clients never send anything meaningful; reading detects hang-ups.
	go func() {
		defer h.remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func parseEntityFilter(raw string) map[EntityType]bool {
	if raw == "" {
		return nil
	}
	out := make(map[EntityType]bool)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[EntityType(part)] = true
		}
	}
	return out
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		h.logger.Debug().Str("client_id", id).Msg("Event client disconnected")
	}
}

// Deliver writes the event to every interested client. Clients whose write
// fails are dropped.
func (h *Hub) Deliver(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	h.mu.RLock()
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		if c.wants(e.EntityType) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	failed := 0
	for _, c := range clients {
		if err := c.write(data); err != nil {
			failed++
			h.logger.Warn().Err(err).Str("client_id", c.id).Int64("seq", e.Seq).Msg("Failed to push event to client")
			h.remove(c.id)
		}
	}

	if failed > 0 && failed == len(clients) {
		return fmt.Errorf("event %d reached none of %d clients", e.Seq, failed)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.remove(id)
	}
}
