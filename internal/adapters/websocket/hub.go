// Package websocket provides the real-time relay between the storefront widget,
// the admin dashboard and server-side producers
package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
	"shop-assist/internal/metrics"
)

var _ ports.Relay = (*Hub)(nil)

const (
	// clientBufferSize bounds frames queued for one connection; a client that
	// falls this far behind is disconnected.
	clientBufferSize = 64

	// WebSocket timeouts
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultTypingTimeout = 3 * time.Second
)

// HubConfig tunes the relay
type HubConfig struct {
	TypingTimeout  time.Duration
	AllowedOrigins []string // empty or "*" allows any origin
}

// Hub tracks live connections, conversation rooms and typing timers.
// All state lives under one mutex so a room observes events in the order
// the hub processed them.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	typing  map[string]*time.Timer // socketID:conversationID
	closed  bool

	auth          *Authenticator
	typingTimeout time.Duration
	upgrader      websocket.Upgrader
	log           zerolog.Logger
	now           func() time.Time
}

// NewHub creates a relay hub
func NewHub(authenticator *Authenticator, cfg HubConfig, log zerolog.Logger) *Hub {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = defaultTypingTimeout
	}
	h := &Hub{
		clients:       make(map[*Client]struct{}),
		rooms:         make(map[string]map[*Client]struct{}),
		typing:        make(map[string]*time.Timer),
		auth:          authenticator,
		typingTimeout: cfg.TypingTimeout,
		log:           log.With().Str("component", "relay").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS authenticates and upgrades a connection.
// Route: GET /ws?token=<admin jwt> or /ws?session_id=<customer session>
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket authentication failed")
		status := http.StatusUnauthorized
		if !errors.Is(err, domain.ErrUnauthorized) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "Authentication failed", status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, clientBufferSize),
		id:       uuid.NewString(),
		identity: *identity,
		rooms:    make(map[string]struct{}),
	}
	if !h.register(client) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// ============================================================================
// Registration
// ============================================================================

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}

	h.clients[c] = struct{}{}
	metrics.RelayConnections.Set(float64(len(h.clients)))

	h.log.Info().
		Str("socket_id", c.id).
		Str("user_id", c.identity.UserID).
		Str("role", c.identity.Role).
		Int("total", len(h.clients)).
		Msg("client connected")

	h.sendLocked(c, encode(EventAuthenticated, AuthenticatedPayload{
		UserID:   c.identity.UserID,
		UserName: c.identity.UserName,
		Role:     c.identity.Role,
	}, nil))
	h.broadcastPresenceLocked(c.identity.UserID, StatusOnline)
	return true
}

// unregister removes c. It is safe to call from every disconnect path;
// only the first call has an effect.
func (h *Hub) unregister(c *Client, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, reason)
}

func (h *Hub) removeLocked(c *Client, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveRoomLocked(c, room)
	}
	prefix := c.id + ":"
	for key, timer := range h.typing {
		if strings.HasPrefix(key, prefix) {
			timer.Stop()
			delete(h.typing, key)
		}
	}
	close(c.send)
	metrics.RelayConnections.Set(float64(len(h.clients)))

	h.log.Info().
		Str("socket_id", c.id).
		Str("user_id", c.identity.UserID).
		Str("reason", reason).
		Int("total", len(h.clients)).
		Msg("client disconnected")

	h.broadcastPresenceLocked(c.identity.UserID, StatusOffline)
}

// Close disconnects every client and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c, "shutdown")
	}
}

// ConnectionCount returns the number of live connections
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ============================================================================
// Delivery
// ============================================================================

// sendLocked queues frame for c without blocking. It reports false when c
// could not keep up; the caller must then remove it.
func (h *Hub) sendLocked(c *Client, frame []byte) bool {
	if _, ok := h.clients[c]; !ok {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// deliverLocked sends frame to targets (except skip) and evicts slow clients.
func (h *Hub) deliverLocked(targets map[*Client]struct{}, skip *Client, frame []byte) {
	var slow []*Client
	for c := range targets {
		if c == skip {
			continue
		}
		if !h.sendLocked(c, frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.log.Warn().Str("socket_id", c.id).Msg("client send buffer full, disconnecting")
		h.removeLocked(c, "slow consumer")
	}
}

func (h *Hub) emitLocked(c *Client, event string, data any, ack *int64) {
	if !h.sendLocked(c, encode(event, data, ack)) {
		h.removeLocked(c, "slow consumer")
	}
}

func (h *Hub) broadcastPresenceLocked(userID, status string) {
	metrics.RelayBroadcasts.WithLabelValues(EventPresenceUpdate).Inc()
	h.deliverLocked(h.clients, nil, encode(EventPresenceUpdate, PresencePayload{
		UserID:    userID,
		Status:    status,
		Timestamp: h.now(),
	}, nil))
}

func (h *Hub) broadcastRoomLocked(conversationID string, skip *Client, event string, data any) {
	room := h.rooms[RoomName(conversationID)]
	if len(room) == 0 {
		return
	}
	metrics.RelayBroadcasts.WithLabelValues(event).Inc()
	h.deliverLocked(room, skip, encode(event, data, nil))
}

// PublishMessage fans a server-originated message out to a conversation room.
func (h *Hub) PublishMessage(conversationID string, msg domain.RelayMessage) {
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = h.now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastRoomLocked(conversationID, nil, EventMessageReceived, msg)
	h.log.Debug().Str("conversation_id", conversationID).Msg("message published to room")
}

// ============================================================================
// Rooms
// ============================================================================

func (h *Hub) joinRoomLocked(c *Client, conversationID string) {
	room := RoomName(conversationID)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
	c.lastConversation = conversationID
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) inRoomLocked(c *Client, conversationID string) bool {
	_, ok := c.rooms[RoomName(conversationID)]
	return ok
}

// ============================================================================
// Client events
// ============================================================================

// handle processes one decoded client frame.
func (h *Hub) handle(c *Client, env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}

	switch env.Event {
	case EventJoinConversation:
		id, err := decodeConversationID(env.Data)
		if err != nil {
			h.rejectLocked(c, env, err)
			return
		}
		h.joinRoomLocked(c, id)
		h.log.Info().Str("socket_id", c.id).Str("conversation_id", id).Msg("client joined conversation")
		h.emitLocked(c, EventJoinedConversation, ConversationRef{ConversationID: id}, nil)

	case EventLeaveConversation:
		id, err := decodeConversationID(env.Data)
		if err != nil {
			h.rejectLocked(c, env, err)
			return
		}
		if h.cancelTypingLocked(c, id) {
			h.broadcastTypingLocked(c, id, false)
		}
		h.leaveRoomLocked(c, RoomName(id))
		h.emitLocked(c, EventLeftConversation, ConversationRef{ConversationID: id}, nil)

	case EventSendMessage:
		err := h.sendMessageLocked(c, env.Data)
		if env.Ack != nil {
			ack := AckPayload{Success: err == nil}
			if err != nil {
				ack.Error = err.Error()
			}
			h.emitLocked(c, EventAck, ack, env.Ack)
			return
		}
		if err != nil {
			h.rejectLocked(c, env, err)
		}

	case EventTypingStart:
		id, err := h.typingTargetLocked(c, env.Data)
		if err != nil {
			h.rejectLocked(c, env, err)
			return
		}
		h.startTypingLocked(c, id)

	case EventTypingStop:
		id, err := h.typingTargetLocked(c, env.Data)
		if err != nil {
			h.rejectLocked(c, env, err)
			return
		}
		h.cancelTypingLocked(c, id)
		h.broadcastTypingLocked(c, id, false)

	case EventPing:
		h.emitLocked(c, EventPong, nil, env.Ack)

	default:
		h.rejectLocked(c, env, errors.New("unknown event"))
	}
}

func (h *Hub) rejectLocked(c *Client, env Envelope, err error) {
	h.emitLocked(c, EventError, ErrorPayload{Event: env.Event, Message: err.Error()}, env.Ack)
}

// sendMessageLocked validates and broadcasts a client message. Persistence is
// the HTTP layer's job; the relay only fans out.
func (h *Hub) sendMessageLocked(c *Client, raw json.RawMessage) error {
	var in SendMessagePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return errors.New("invalid message payload")
		}
	}
	if strings.TrimSpace(in.ConversationID) == "" || in.Content == "" {
		return errors.New("conversationId and content are required")
	}
	if !h.inRoomLocked(c, in.ConversationID) {
		return domain.ErrNotJoined
	}

	h.log.Info().
		Str("socket_id", c.id).
		Str("user_id", c.identity.UserID).
		Str("conversation_id", in.ConversationID).
		Int("content_length", len(in.Content)).
		Msg("message relayed")

	h.broadcastRoomLocked(in.ConversationID, nil, EventMessageReceived, domain.RelayMessage{
		ConversationID: in.ConversationID,
		Content:        in.Content,
		Sender: domain.Sender{
			UserID:   c.identity.UserID,
			UserName: c.identity.UserName,
			Role:     c.identity.Role,
		},
		Timestamp: h.now(),
	})
	return nil
}

// ============================================================================
// Typing indicators
// ============================================================================

func typingKey(c *Client, conversationID string) string {
	return c.id + ":" + conversationID
}

func (h *Hub) typingTargetLocked(c *Client, raw json.RawMessage) (string, error) {
	id, err := decodeConversationID(raw)
	if err != nil {
		return "", err
	}
	if !h.inRoomLocked(c, id) {
		return "", domain.ErrNotJoined
	}
	return id, nil
}

func (h *Hub) broadcastTypingLocked(c *Client, conversationID string, typing bool) {
	h.broadcastRoomLocked(conversationID, c, EventTypingIndicator, TypingPayload{
		ConversationID: conversationID,
		UserID:         c.identity.UserID,
		UserName:       c.identity.UserName,
		IsTyping:       typing,
	})
}

// startTypingLocked announces typing and (re)arms the auto-expiry timer.
func (h *Hub) startTypingLocked(c *Client, conversationID string) {
	h.cancelTypingLocked(c, conversationID)
	h.broadcastTypingLocked(c, conversationID, true)

	key := typingKey(c, conversationID)
	var timer *time.Timer
	timer = time.AfterFunc(h.typingTimeout, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		// A stop, restart or disconnect may have replaced this timer.
		if h.typing[key] != timer {
			return
		}
		delete(h.typing, key)
		if _, ok := h.clients[c]; ok && h.inRoomLocked(c, conversationID) {
			h.broadcastTypingLocked(c, conversationID, false)
		}
	})
	h.typing[key] = timer
}

// cancelTypingLocked stops a pending expiry and reports whether one existed.
func (h *Hub) cancelTypingLocked(c *Client, conversationID string) bool {
	key := typingKey(c, conversationID)
	timer, ok := h.typing[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(h.typing, key)
	return true
}
