package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/events"
	"github.com/uhyunpark/custodex/pkg/util"
)

const (
	ChannelOrders        = "orders"
	channelAccountPrefix = "account:"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

// AccountChannel is the channel carrying events that touch addr.
func AccountChannel(addr common.Address) string {
	return channelAccountPrefix + addr.Hex()
}

// normalizeChannel checksums account addresses so "account:0xabc..." in any
// case matches what Publish sends.
func normalizeChannel(ch string) string {
	if rest, ok := strings.CutPrefix(ch, channelAccountPrefix); ok && common.IsHexAddress(rest) {
		return AccountChannel(common.HexToAddress(rest))
	}
	return ch
}

type outbound struct {
	channel string
	data    []byte
}

// Hub maintains active WebSocket connections and fans engine events out to
// subscribed clients. It implements events.Publisher.
type Hub struct {
	// Registered clients; written only by Run.
	clients map[*Client]bool
	mu      sync.RWMutex

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	// done is closed when Run returns.
	done chan struct{}

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        util.Sugar(log),
	}
}

// Run starts the hub's main loop. It disconnects every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Infow("ws_client_connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.log.Infow("ws_client_disconnected", "client", client.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.IsSubscribed(msg.channel) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client send buffer full, disconnect
					delete(h.clients, client)
					close(client.send)
					h.log.Warnw("ws_client_dropped", "client", client.id, "reason", "slow_consumer")
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish routes each event to the orders channel (order events) and to the
// account channels of everyone it touches. It never blocks: when the hub is
// backed up the message is dropped.
func (h *Hub) Publish(_ context.Context, evs ...events.Event) error {
	for _, ev := range evs {
		for _, ch := range channelsFor(ev) {
			h.BroadcastToChannel(ch, WSEvent{Type: "event", Channel: ch, Event: ev})
		}
	}
	return nil
}

func channelsFor(ev events.Event) []string {
	chans := []string{AccountChannel(ev.Account)}
	if ev.Counterparty != nil && *ev.Counterparty != ev.Account {
		chans = append(chans, AccountChannel(*ev.Counterparty))
	}
	switch ev.Type {
	case events.TypeOrderPlaced, events.TypeOrderFilled, events.TypeOrderClosed:
		chans = append(chans, ChannelOrders)
	}
	return chans
}

// BroadcastToChannel queues data for every client subscribed to channel.
func (h *Hub) BroadcastToChannel(channel string, data interface{}) {
	message, err := json.Marshal(data)
	if err != nil {
		h.log.Warnw("ws_marshal_failed", "channel", channel, "err", err)
		return
	}
	select {
	case h.broadcast <- outbound{channel: channel, data: message}:
	default:
		h.log.Warnw("ws_broadcast_dropped", "channel", channel)
	}
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	subscriptions map[string]bool
	subsMu        sync.RWMutex
}

func (c *Client) IsSubscribed(channel string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) Subscribe(channel string) {
	c.subsMu.Lock()
	c.subscriptions[normalizeChannel(channel)] = true
	c.subsMu.Unlock()
}

func (c *Client) Unsubscribe(channel string) {
	c.subsMu.Lock()
	delete(c.subscriptions, normalizeChannel(channel))
	c.subsMu.Unlock()
}

// ack is queued like any other message; if the buffer is full the client is
// already too slow and the ack is skipped.
func (c *Client) ack(kind string, channels []string) {
	data, err := json.Marshal(WSAck{Type: kind, Channels: channels})
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump pumps subscription requests from the connection.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debugw("ws_read_failed", "client", c.id, "err", err)
			}
			break
		}

		var req WSSubscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.log.Debugw("ws_invalid_message", "client", c.id, "err", err)
			continue
		}

		switch req.Op {
		case "subscribe":
			for _, channel := range req.Channels {
				c.Subscribe(channel)
			}
			c.ack("subscribed", req.Channels)
		case "unsubscribe":
			for _, channel := range req.Channels {
				c.Unsubscribe(channel)
			}
			c.ack("unsubscribed", req.Channels)
		default:
			c.hub.log.Debugw("ws_unknown_op", "client", c.id, "op", req.Op)
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection. Each
// message is its own frame.
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("ws_upgrade_failed", "err", err)
		return
	}

	client := &Client{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		id:            conn.RemoteAddr().String(),
		subscriptions: make(map[string]bool),
	}

	select {
	case client.hub.register <- client:
	case <-client.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
