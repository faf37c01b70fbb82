package model

import (
	"time"
)

// SenderKind identifies who authored a message.
type SenderKind string

const (
	SenderCustomer  SenderKind = "customer"
	SenderAttendant SenderKind = "attendant"
	SenderBot       SenderKind = "bot"
)

// Message is an immutable record of one inbound or outbound communication unit.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderKind     SenderKind `json:"sender_kind"`
	SenderID       *string    `json:"sender_id,omitempty"`
	Content        string     `json:"content"`
	MediaURL       *string    `json:"media_url,omitempty"`
	ExternalID     *string    `json:"external_id,omitempty"`
	Read           bool       `json:"read"`
	SentAt         time.Time  `json:"sent_at"`
}

// SendMessageRequest is the request for an attendant to send a message.
type SendMessageRequest struct {
	Content string `json:"content" validate:"required,max=4096"`
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// InboundMessage is a customer message received from the WhatsApp webhook.
type InboundMessage struct {
	Phone      string
	Name       string
	Text       string
	MediaURL   string
	ExternalID string
	ReceivedAt time.Time
}
