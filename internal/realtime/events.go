// Package realtime implements the websocket gateway that pushes conversation
// activity to attendant consoles.
package realtime

import (
	"encoding/json"
	"strings"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// Event names exchanged with consoles.
const (
	EventSubscribeConversation   = "subscribe:conversation"
	EventUnsubscribeConversation = "unsubscribe:conversation"
	EventTyping                  = "typing"

	EventNewMessage         = "new_message"
	EventConversationUpdate = "conversation_update"
	EventUserTyping         = "user_typing"
	EventNewConversation    = "new_conversation"
	EventAttendantOnline    = "attendant_online"
	EventAttendantOffline   = "attendant_offline"
	EventError              = "error"
)

// QueueRoom is joined by every connection. Conversations without a
// department are announced there.
const QueueRoom = "queue"

// ConversationRoom names the room for a single conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// DepartmentRoom names the room watched by a department's attendants.
func DepartmentRoom(departmentID string) string {
	return "department:" + departmentID
}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConversationRef is the payload of client subscribe, unsubscribe and typing frames.
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
}

// TypingEvent is relayed to the other members of a conversation room.
type TypingEvent struct {
	ConversationID string `json:"conversation_id"`
	AttendantID    string `json:"attendant_id"`
}

// PresenceEvent announces an attendant going online or offline.
type PresenceEvent struct {
	AttendantID string `json:"attendant_id"`
}

// ErrorEvent tells a console that one of its frames was rejected.
type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// NewMessageEvent carries a persisted message to a conversation room.
type NewMessageEvent struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

// conversationID accepts either {"conversation_id":"..."} or a bare JSON string.
func conversationID(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var ref ConversationRef
	if err := json.Unmarshal(data, &ref); err == nil && ref.ConversationID != "" {
		return strings.TrimSpace(ref.ConversationID)
	}
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		return strings.TrimSpace(bare)
	}
	return ""
}
