package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
)

// Conn is one console connection. rooms is guarded by the gateway lock.
type Conn struct {
	id          string
	attendantID string
	role        model.Role
	departments []string

	ws       *websocket.Conn
	send     chan []byte
	rooms    map[string]struct{}
	gateway  *Gateway
	dropOnce sync.Once
}

// enqueue hands a frame to the writer. A full buffer means the console
// stopped reading; it is disconnected rather than stalling other rooms.
func (c *Conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.gateway.logger.Warn("dropping slow realtime consumer",
			zap.String("attendant_id", c.attendantID),
			zap.String("connection_id", c.id),
		)
		c.drop()
	}
}

// reply sends an error frame to this connection only.
func (c *Conn) reply(event, message string) {
	data, err := json.Marshal(ErrorEvent{Event: event, Message: message})
	if err != nil {
		return
	}
	frame, err := json.Marshal(Frame{Event: EventError, Data: data})
	if err != nil {
		return
	}
	metrics.RealtimeEventsTotal.WithLabelValues(EventError).Inc()
	c.enqueue(frame)
}

func (c *Conn) drop() {
	c.dropOnce.Do(func() {
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump() {
	cfg := c.gateway.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gateway.logger.Debug("websocket read ended", zap.String("connection_id", c.id), zap.Error(err))
			}
			c.drop()
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.gateway.logger.Debug("ignoring malformed frame", zap.String("connection_id", c.id), zap.Error(err))
			c.reply("", "malformed frame")
			continue
		}
		c.handle(frame)
	}
}

func (c *Conn) handle(frame Frame) {
	g := c.gateway
	switch frame.Event {
	case EventSubscribeConversation, EventUnsubscribeConversation, EventTyping:
	default:
		g.logger.Debug("ignoring unknown realtime event",
			zap.String("event", frame.Event),
			zap.String("connection_id", c.id),
		)
		c.reply(frame.Event, "unknown event")
		return
	}

	id := conversationID(frame.Data)
	if id == "" {
		c.reply(frame.Event, "conversation_id is required")
		return
	}
	switch frame.Event {
	case EventSubscribeConversation:
		g.join(c, ConversationRoom(id))
	case EventUnsubscribeConversation:
		g.leave(c, ConversationRoom(id))
	case EventTyping:
		g.emit([]string{ConversationRoom(id)}, EventUserTyping,
			TypingEvent{ConversationID: id, AttendantID: c.attendantID}, c.attendantID)
	}
}

func (c *Conn) writePump() {
	cfg := c.gateway.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.drop()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
