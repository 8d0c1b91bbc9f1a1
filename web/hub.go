// Package web serves the status API and a websocket feed of entity changes
// on the monitor server.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from anywhere on the LAN
	},
}

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn *websocket.Conn
	send chan WebSocketMessage
	hub  *WSHub
}

// WSHub maintains the set of active clients and broadcasts messages
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan WebSocketMessage
	register   chan *WSClient
	unregister chan *WSClient
	count      chan chan int
	done       chan struct{}
}

// NewHub creates a new WebSocket hub
func NewHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WebSocketMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run starts the WebSocket hub
func (h *WSHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			util.Logger.Info().Msg("Client connected to WebSocket")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				util.Logger.Info().Msg("Client disconnected from WebSocket")
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

// Clients reports the number of connected clients. It needs Run.
func (h *WSHub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// BroadcastUpdate sends an update to all connected clients
func (h *WSHub) BroadcastUpdate(messageType string, data interface{}) {
	select {
	case h.broadcast <- WebSocketMessage{Type: messageType, Data: data}:
	default:
		// Channel is full, skip this update
	}
}

// OnChange is the registry listener feeding the hub.
func (h *WSHub) OnChange(c state.Change) {
	view := NewEntityView(c.Entity, c.Snapshot)
	if c.Removed {
		h.BroadcastUpdate("entity_removed", view)
		return
	}
	h.BroadcastUpdate("entity", view)
}

// readPump pumps messages from the websocket connection to the hub
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		if err := c.conn.Close(); err != nil {
			util.Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *WSClient) writePump() {
	defer func() {
		if err := c.conn.Close(); err != nil {
			util.Logger.Debug().Err(err).Msg("Error closing WebSocket connection")
		}
	}()

	for message := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.conn.WriteJSON(message); err != nil {
			return
		}
	}
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		util.Logger.Debug().Err(err).Msg("Error writing close message")
	}
}

// ServeWebSocket upgrades the request and sends the current entities
// before any change.
func (h *WSHub) ServeWebSocket(registry *state.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			util.Logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := &WSClient{
			conn: conn,
			send: make(chan WebSocketMessage, 256),
			hub:  h,
		}
		client.send <- WebSocketMessage{Type: "snapshot", Data: EntityViews(registry)}

		select {
		case h.register <- client:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
