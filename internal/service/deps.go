package service

import (
	"context"
	"time"

	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/store"
)

// Repository is the persistence the services need. *store.Store satisfies it.
type Repository interface {
	CreateConversation(ctx context.Context, c *model.Conversation) error
	FindConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindActiveConversationByCustomer(ctx context.Context, customerID string) (*model.Conversation, error)
	ConditionallyUpdateConversation(ctx context.Context, id string, expect store.Expectation, update store.ConversationUpdate) (bool, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
	ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, int64, error)
	CountConversations(ctx context.Context, filter model.ConversationFilter) ([]store.StatusCount, error)

	InsertMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, int64, error)
	SetMessageExternalID(ctx context.Context, id, externalID string) error
	FindMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string) (int64, error)

	UpsertCustomer(ctx context.Context, phone, name string) (*model.Customer, error)
	FindAttendant(ctx context.Context, id string) (*model.Attendant, error)
	FindDepartment(ctx context.Context, id string) (*model.Department, error)
	DepartmentsForAttendant(ctx context.Context, attendantID string) ([]string, error)
}

// EventLog is the append-only conversation event log.
type EventLog interface {
	PublishEvent(ctx context.Context, event *model.ConversationEvent) (uint64, error)
	Events(ctx context.Context, conversationID string, limit int) ([]model.ConversationEvent, error)
}

// Notifier pushes state changes to connected consoles.
type Notifier interface {
	EmitNewMessage(conversationID string, msg *model.Message)
	EmitConversationUpdate(conv *model.Conversation)
	EmitNewConversation(conv *model.Conversation)
}

// Sender delivers text to a customer over WhatsApp and returns the delivery id.
type Sender interface {
	SendText(ctx context.Context, phone, body string) (string, error)
}

type nopNotifier struct{}

func (nopNotifier) EmitNewMessage(string, *model.Message) {}
func (nopNotifier) EmitConversationUpdate(*model.Conversation) {}
func (nopNotifier) EmitNewConversation(*model.Conversation) {}
