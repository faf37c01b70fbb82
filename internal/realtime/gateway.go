package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/model"
	natsclient "github.com/capitalize-ai/helpdesk/internal/nats"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
)

// Authenticator resolves the attendant behind an upgrade request.
type Authenticator interface {
	Identify(r *http.Request) (string, model.Role, error)
}

// DepartmentDirectory looks up persisted department membership.
type DepartmentDirectory interface {
	DepartmentsForAttendant(ctx context.Context, attendantID string) ([]string, error)
}

// PresenceTracker records which attendants are online.
type PresenceTracker interface {
	Connect(ctx context.Context, attendantID, connectionID string, departmentIDs []string) error
	Disconnect(ctx context.Context, attendantID string, departmentIDs []string) error
	ConnectionID(ctx context.Context, attendantID string) (string, bool, error)
}

// Relay forwards emissions to gateways on other instances.
type Relay interface {
	Publish(b natsclient.Broadcast) error
}

// Config tunes connection handling.
type Config struct {
	AllowedOrigins  []string
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	PresenceTimeout time.Duration
}

// DefaultConfig returns the production connection settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    25 * time.Second,
		SendBuffer:      64,
		MaxMessageBytes: 8 << 10,
		PresenceTimeout: 5 * time.Second,
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithConfig overrides the connection settings. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(g *Gateway) {
		def := g.cfg
		if cfg.WriteTimeout == 0 {
			cfg.WriteTimeout = def.WriteTimeout
		}
		if cfg.PongTimeout == 0 {
			cfg.PongTimeout = def.PongTimeout
		}
		if cfg.PingInterval == 0 {
			cfg.PingInterval = def.PingInterval
		}
		if cfg.SendBuffer == 0 {
			cfg.SendBuffer = def.SendBuffer
		}
		if cfg.MaxMessageBytes == 0 {
			cfg.MaxMessageBytes = def.MaxMessageBytes
		}
		if cfg.PresenceTimeout == 0 {
			cfg.PresenceTimeout = def.PresenceTimeout
		}
		g.cfg = cfg
	}
}

// WithRelay fans emissions out to peer instances.
func WithRelay(relay Relay) Option {
	return func(g *Gateway) {
		g.relay = relay
	}
}

// Gateway owns the live connections of this instance and their rooms.
type Gateway struct {
	auth      Authenticator
	directory DepartmentDirectory
	presence  PresenceTracker
	relay     Relay
	logger    *logger.Logger
	cfg       Config
	upgrader  websocket.Upgrader

	mu    sync.RWMutex
	conns map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}
}

// NewGateway creates a gateway.
func NewGateway(auth Authenticator, directory DepartmentDirectory, presence PresenceTracker, log *logger.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		auth:      auth,
		directory: directory,
		presence:  presence,
		logger:    log,
		cfg:       DefaultConfig(),
		conns:     make(map[*Conn]struct{}),
		rooms:     make(map[string]map[*Conn]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.upgrader = websocket.Upgrader{CheckOrigin: g.originAllowed}
	return g
}

// ServeHTTP authenticates and upgrades a console connection, then serves it
// until the peer goes away.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attendantID, role, err := g.auth.Identify(r)
	if err != nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	departments := g.departments(r.Context(), attendantID)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.String("attendant_id", attendantID), zap.Error(err))
		return
	}

	c := &Conn{
		id:          uuid.New().String(),
		attendantID: attendantID,
		role:        role,
		departments: departments,
		ws:          ws,
		send:        make(chan []byte, g.cfg.SendBuffer),
		rooms:       make(map[string]struct{}),
		gateway:     g,
	}
	g.register(c)
	defer g.unregister(c)

	go c.writePump()
	c.readPump()
}

// Close drops every live connection, for shutdown.
func (g *Gateway) Close() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.conns {
		c.drop()
	}
}

// ConnectionCount reports live connections on this instance.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) register(c *Conn) {
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.joinLocked(c, QueueRoom)
	for _, dept := range c.departments {
		g.joinLocked(c, DepartmentRoom(dept))
	}
	g.mu.Unlock()

	metrics.IncrementWebsocketConnections()

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PresenceTimeout)
	defer cancel()
	if err := g.presence.Connect(ctx, c.attendantID, c.id, c.departments); err != nil {
		metrics.PresenceErrorsTotal.WithLabelValues("connect").Inc()
		g.logger.Error("failed to register presence",
			zap.String("attendant_id", c.attendantID),
			zap.Error(err),
		)
	}

	g.logger.Info("attendant connected",
		zap.String("attendant_id", c.attendantID),
		zap.String("connection_id", c.id),
		zap.Strings("departments", c.departments),
	)
	g.emit(nil, EventAttendantOnline, PresenceEvent{AttendantID: c.attendantID}, c.attendantID)
}

func (g *Gateway) unregister(c *Conn) {
	g.mu.Lock()
	delete(g.conns, c)
	for room := range c.rooms {
		g.leaveLocked(c, room)
	}
	close(c.send)
	stillConnected := false
	for other := range g.conns {
		if other.attendantID == c.attendantID {
			stillConnected = true
			break
		}
	}
	g.mu.Unlock()

	metrics.DecrementWebsocketConnections()
	g.logger.Info("attendant disconnected",
		zap.String("attendant_id", c.attendantID),
		zap.String("connection_id", c.id),
	)

	if stillConnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.PresenceTimeout)
	defer cancel()

	// A reconnect on another instance has already replaced this connection.
	current, found, err := g.presence.ConnectionID(ctx, c.attendantID)
	if err == nil && found && current != c.id {
		g.logger.Debug("presence held by a newer connection, skipping cleanup",
			zap.String("attendant_id", c.attendantID),
			zap.String("connection_id", c.id),
			zap.String("current_connection_id", current),
		)
		return
	}

	departments, err := g.directory.DepartmentsForAttendant(ctx, c.attendantID)
	if err != nil {
		g.logger.Warn("using connect-time departments for presence cleanup",
			zap.String("attendant_id", c.attendantID),
			zap.Error(err),
		)
		departments = c.departments
	}
	if err := g.presence.Disconnect(ctx, c.attendantID, departments); err != nil {
		metrics.PresenceErrorsTotal.WithLabelValues("disconnect").Inc()
		g.logger.Error("failed to clear presence",
			zap.String("attendant_id", c.attendantID),
			zap.Error(err),
		)
	}
	g.emit(nil, EventAttendantOffline, PresenceEvent{AttendantID: c.attendantID}, c.attendantID)
}

func (g *Gateway) departments(ctx context.Context, attendantID string) []string {
	departments, err := g.directory.DepartmentsForAttendant(ctx, attendantID)
	if err != nil {
		g.logger.Warn("failed to load departments", zap.String("attendant_id", attendantID), zap.Error(err))
		return nil
	}
	return departments
}

func (g *Gateway) join(c *Conn, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, live := g.conns[c]; live {
		g.joinLocked(c, room)
	}
}

func (g *Gateway) leave(c *Conn, room string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(c, room)
}

func (g *Gateway) joinLocked(c *Conn, room string) {
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		g.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (g *Gateway) leaveLocked(c *Conn, room string) {
	delete(c.rooms, room)
	members, ok := g.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(g.rooms, room)
	}
}

// emit delivers locally and relays to peers. No rooms means every connection.
func (g *Gateway) emit(rooms []string, event string, payload any, except string) {
	data, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("failed to marshal realtime payload", zap.String("event", event), zap.Error(err))
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(event).Inc()
	g.deliver(rooms, Frame{Event: event, Data: data}, except)

	if g.relay == nil {
		return
	}
	if err := g.relay.Publish(natsclient.Broadcast{Rooms: rooms, Event: event, Data: data, Except: except}); err != nil {
		g.logger.Warn("failed to relay realtime event", zap.String("event", event), zap.Error(err))
	}
}

// DeliverRelayed hands a peer instance's emission to local connections.
func (g *Gateway) DeliverRelayed(b natsclient.Broadcast) {
	g.deliver(b.Rooms, Frame{Event: b.Event, Data: b.Data}, b.Except)
}

func (g *Gateway) deliver(rooms []string, frame Frame, except string) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		g.logger.Error("failed to marshal frame", zap.String("event", frame.Event), zap.Error(err))
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	targets := g.conns
	if len(rooms) > 0 {
		targets = make(map[*Conn]struct{})
		for _, room := range rooms {
			for c := range g.rooms[room] {
				targets[c] = struct{}{}
			}
		}
	}
	for c := range targets {
		if except != "" && c.attendantID == except {
			continue
		}
		c.enqueue(encoded)
	}
}

// EmitNewMessage announces a persisted message to the conversation room.
func (g *Gateway) EmitNewMessage(conversationID string, msg *model.Message) {
	g.emit([]string{ConversationRoom(conversationID)}, EventNewMessage,
		NewMessageEvent{ConversationID: conversationID, Message: msg}, "")
}

// EmitConversationUpdate announces a status or ownership change to the
// conversation room and the department queue it sits in.
func (g *Gateway) EmitConversationUpdate(conv *model.Conversation) {
	g.emit([]string{ConversationRoom(conv.ID), queueRoomFor(conv)}, EventConversationUpdate, conv, "")
}

// EmitNewConversation announces a conversation that just opened.
func (g *Gateway) EmitNewConversation(conv *model.Conversation) {
	g.emit([]string{queueRoomFor(conv)}, EventNewConversation, conv, "")
}

func queueRoomFor(conv *model.Conversation) string {
	if conv.DepartmentID != nil && *conv.DepartmentID != "" {
		return DepartmentRoom(*conv.DepartmentID)
	}
	return QueueRoom
}

// originAllowed admits non-browser clients, same-host pages and the
// configured console origins.
func (g *Gateway) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
