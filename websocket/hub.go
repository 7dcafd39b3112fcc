// Package websocket pushes in-app notifications and case updates to
// connected stakeholders.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"leaseexit/middleware"
	"leaseexit/models"
	"leaseexit/notifications"
	"leaseexit/workflow"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type broadcastMessage struct {
	// roles nil means every connected client.
	roles   []models.Role
	message []byte
}

// Hub keeps the connected clients grouped by role.
type Hub struct {
	clients    map[models.Role]map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.Mutex
	logger     zerolog.Logger
}

type Client struct {
	userID string
	role   models.Role
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	once   sync.Once
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[models.Role]map[*Client]bool),
		broadcast:  make(chan broadcastMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "websocket").Logger(),
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("websocket hub started")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for role, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, role)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			if _, ok := h.clients[client.role]; !ok {
				h.clients[client.role] = make(map[*Client]bool)
			}
			h.clients[client.role][client] = true
			h.mutex.Unlock()

		case client := <-h.unregister:
			h.mutex.Lock()
			h.remove(client)
			h.mutex.Unlock()

		case bm := <-h.broadcast:
			h.mutex.Lock()
			roles := bm.roles
			if roles == nil {
				roles = make([]models.Role, 0, len(h.clients))
				for r := range h.clients {
					roles = append(roles, r)
				}
			}
			for _, role := range roles {
				for client := range h.clients[role] {
					select {
					case client.send <- bm.message:
					default:
						// Slow client; drop it.
						h.remove(client)
					}
				}
			}
			h.mutex.Unlock()
		}
	}
}

// remove must be called with the mutex held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.role]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.role)
	}
}

// Connected returns the number of clients for role.
func (h *Hub) Connected(role models.Role) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients[role])
}

func (h *Hub) publish(ctx context.Context, roles []models.Role, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal websocket message: %w", err)
	}
	select {
	case h.broadcast <- broadcastMessage{roles: roles, message: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InAppMessage is the payload of an in-app notification.
type InAppMessage struct {
	Type string `json:"type"`
	notifications.Message
}

// Name makes the hub a notification channel.
func (h *Hub) Name() string { return "in_app" }

// Deliver pushes msg to the clients of its role. Offline roles still have the
// stored record, so no connected client is not an error.
func (h *Hub) Deliver(ctx context.Context, msg notifications.Message) error {
	msg.Emails = nil
	return h.publish(ctx, []models.Role{msg.Role}, InAppMessage{Type: "NOTIFICATION", Message: msg})
}

// BroadcastCaseUpdate tells every connected stakeholder that a case moved.
func (h *Hub) BroadcastCaseUpdate(u workflow.CaseUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := h.publish(ctx, nil, u); err != nil {
		h.logger.Warn().Err(err).Str("case_id", u.CaseID).Msg("case update not broadcast")
	}
}

// ServeWS upgrades an authenticated request and registers the caller under
// its token role.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Authentication token required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		userID: claims.UserID,
		role:   claims.Role,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}

	// Queued before registering: once registered, only the hub may close send.
	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "WELCOME",
		"userID":    client.userID,
		"role":      client.role,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	client.send <- welcome

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) close() {
	c.once.Do(func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
