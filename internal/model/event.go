package model

import (
	"time"
)

// EventType represents the type of conversation event.
type EventType string

const (
	EventTypeCreated     EventType = "created"
	EventTypeBotTransfer EventType = "bot_transfer"
	EventTypeTakeover    EventType = "takeover"
	EventTypeTransfer    EventType = "transfer"
	EventTypeClose       EventType = "close"
)

// ConversationEvent is an entry in the ownership audit log.
type ConversationEvent struct {
	ID              string         `json:"id"`
	ConversationID  string         `json:"conversation_id"`
	Type            EventType      `json:"type"`
	ActorID         string         `json:"actor_id,omitempty"`
	FromAttendantID string         `json:"from_attendant_id,omitempty"`
	ToAttendantID   string         `json:"to_attendant_id,omitempty"`
	DepartmentID    string         `json:"department_id,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	Sequence        uint64         `json:"sequence,omitempty"`
}
