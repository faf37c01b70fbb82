package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

const (
	// StreamName is the name of the conversation event stream.
	StreamName = "HELPDESK"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "helpdesk.conv"
)

// StreamManager owns the conversation event log.
type StreamManager struct {
	js jetstream.JetStream
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream()}
}

// NewStreamManagerWithJetStream builds a manager on an existing JetStream context.
func NewStreamManagerWithJetStream(js jetstream.JetStream) *StreamManager {
	return &StreamManager{js: js}
}

// EnsureStream ensures the event stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Conversation ownership events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.event.%s", SubjectPrefix, conversationID, eventType)
}

// ConversationFilter returns the filter subject for all events of a conversation.
func ConversationFilter(conversationID string) string {
	return fmt.Sprintf("%s.%s.event.>", SubjectPrefix, conversationID)
}

// PublishEvent appends an event to the log and returns its stream sequence.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.js.Publish(ctx, EventSubject(event.ConversationID, event.Type), data,
		jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// Events reads up to limit events of a conversation, oldest first.
func (m *StreamManager) Events(ctx context.Context, conversationID string, limit int) ([]model.ConversationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := m.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.FetchNoWait(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	events := make([]model.ConversationEvent, 0, limit)
	for msg := range batch.Messages() {
		event, err := decodeEvent(msg.Data())
		if err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
		}
		events = append(events, event)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("batch error: %w", err)
	}

	return events, nil
}

func decodeEvent(data []byte) (model.ConversationEvent, error) {
	var event model.ConversationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return model.ConversationEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}
