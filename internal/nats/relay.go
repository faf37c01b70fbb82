package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// BroadcastSubject carries realtime broadcasts between gateway instances.
const BroadcastSubject = "helpdesk.realtime.broadcast"

// Broadcast is one emission relayed between instances. No rooms means every
// connection.
type Broadcast struct {
	Origin string          `json:"origin"`
	Rooms  []string        `json:"rooms,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	// Except is the attendant excluded from delivery, if any.
	Except string `json:"except,omitempty"`
}

// Relay publishes local broadcasts and delivers peer broadcasts.
type Relay struct {
	conn       *nats.Conn
	instanceID string
	logger     *logger.Logger
	sub        *nats.Subscription
}

// NewRelay creates a relay identified by instanceID.
func NewRelay(client *Client, instanceID string, log *logger.Logger) *Relay {
	return &Relay{
		conn:       client.Conn(),
		instanceID: instanceID,
		logger:     log,
	}
}

// Publish sends a broadcast to peer instances.
func (r *Relay) Publish(b Broadcast) error {
	b.Origin = r.instanceID
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}
	if err := r.conn.Publish(BroadcastSubject, data); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

// Subscribe delivers broadcasts published by other instances to deliver.
func (r *Relay) Subscribe(deliver func(Broadcast)) error {
	sub, err := r.conn.Subscribe(BroadcastSubject, func(msg *nats.Msg) {
		b, ok := r.accept(msg.Data)
		if ok {
			deliver(b)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to broadcasts: %w", err)
	}
	r.sub = sub
	return nil
}

// Close removes the subscription.
func (r *Relay) Close() error {
	if r.sub == nil {
		return nil
	}
	return r.sub.Unsubscribe()
}

// accept decodes a relayed broadcast and drops this instance's own echoes.
func (r *Relay) accept(data []byte) (Broadcast, bool) {
	var b Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		r.logger.Warn("dropping malformed broadcast", zap.Error(err))
		return Broadcast{}, false
	}
	if b.Origin == r.instanceID || b.Event == "" {
		return Broadcast{}, false
	}
	return b, true
}
