package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/bot"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/store"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
)

// MessageService handles inbound customer messages and outbound attendant
// messages. Messages are persisted before they are broadcast.
type MessageService struct {
	repo                Repository
	conversationService *ConversationService
	engine              *bot.Engine
	tree                *bot.Tree
	sender              Sender
	notifier            Notifier
	logger              *logger.Logger
}

// NewMessageService creates a new message service. sender and notifier may be nil.
func NewMessageService(
	repo Repository,
	conversationService *ConversationService,
	engine *bot.Engine,
	tree *bot.Tree,
	sender Sender,
	notifier Notifier,
	log *logger.Logger,
) *MessageService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if tree == nil {
		tree = bot.DefaultTree()
	}
	return &MessageService{
		repo:                repo,
		conversationService: conversationService,
		engine:              engine,
		tree:                tree,
		sender:              sender,
		notifier:            notifier,
		logger:              log,
	}
}

// HandleInbound records a customer message from the webhook and runs the bot
// when the conversation is still in bot status. Redelivered messages with a
// known external id are returned without side effects.
func (s *MessageService) HandleInbound(ctx context.Context, in model.InboundMessage) (*model.Message, error) {
	if strings.TrimSpace(in.Phone) == "" {
		return nil, fmt.Errorf("%w: inbound message without phone", ErrValidation)
	}

	if in.ExternalID != "" {
		existing, err := s.repo.FindMessageByExternalID(ctx, in.ExternalID)
		if err == nil {
			s.logger.Debug("duplicate inbound message ignored", zap.String("external_id", in.ExternalID))
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	customer, err := s.repo.UpsertCustomer(ctx, in.Phone, in.Name)
	if err != nil {
		return nil, err
	}

	conv, _, err := s.conversationService.EnsureConversation(ctx, customer)
	if err != nil {
		return nil, err
	}

	sentAt := in.ReceivedAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderKind:     model.SenderCustomer,
		Content:        in.Text,
		SentAt:         sentAt,
	}
	if in.MediaURL != "" {
		msg.MediaURL = &in.MediaURL
	}
	if in.ExternalID != "" {
		msg.ExternalID = &in.ExternalID
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}
	s.notifier.EmitNewMessage(conv.ID, msg)

	if conv.Status == model.StatusBot && s.engine != nil {
		s.runBot(ctx, conv, customer, in.Text)
	}

	return msg, nil
}

// runBot executes one bot turn and delivers its single reply. Failures are
// logged; the customer message is already stored.
func (s *MessageService) runBot(ctx context.Context, conv *model.Conversation, customer *model.Customer, text string) {
	res := s.engine.HandleInboundText(ctx, s.tree, deref(conv.MenuLevel), text)

	_, applied, err := s.conversationService.ApplyBotResult(ctx, conv, res)
	if err != nil {
		s.logger.Error("failed to apply bot result",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}
	if !applied {
		return
	}

	reply := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderKind:     model.SenderBot,
		Content:        res.Text,
		SentAt:         time.Now().UTC(),
	}
	if err := s.persist(ctx, reply); err != nil {
		s.logger.Error("failed to store bot reply",
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return
	}
	s.deliver(ctx, customer.Phone, reply)
	s.notifier.EmitNewMessage(conv.ID, reply)
}

// SendAgentMessage stores an attendant reply and delivers it to the customer.
// Delivery failure keeps the stored message.
func (s *MessageService) SendAgentMessage(ctx context.Context, actor model.Actor, conversationID string, req model.SendMessageRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	conv, err := s.conversationService.find(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.OwnedBy(actor.ID) {
		return nil, fmt.Errorf("%w: take over conversation %s before replying", ErrForbidden, conversationID)
	}

	senderID := actor.ID
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderKind:     model.SenderAttendant,
		SenderID:       &senderID,
		Content:        content,
		SentAt:         time.Now().UTC(),
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}

	if conv.Customer != nil {
		s.deliver(ctx, conv.Customer.Phone, msg)
	}
	s.notifier.EmitNewMessage(conv.ID, msg)
	return msg, nil
}

// ListMessages returns a page of history, oldest first.
func (s *MessageService) ListMessages(ctx context.Context, actor model.Actor, conversationID string, page, limit int) (*model.ListMessagesResponse, error) {
	if _, err := s.conversationService.Get(ctx, actor, conversationID); err != nil {
		return nil, err
	}

	page, limit = model.NormalizePage(page, limit)
	msgs, total, err := s.repo.ListMessages(ctx, conversationID, page, limit)
	if err != nil {
		return nil, err
	}

	return &model.ListMessagesResponse{
		Messages:   msgs,
		Pagination: model.NewPagination(page, limit, total),
	}, nil
}

// MarkRead flags the customer messages of a conversation as read.
func (s *MessageService) MarkRead(ctx context.Context, actor model.Actor, conversationID string) (int64, error) {
	if _, err := s.conversationService.Get(ctx, actor, conversationID); err != nil {
		return 0, err
	}
	return s.repo.MarkMessagesRead(ctx, conversationID)
}

func (s *MessageService) persist(ctx context.Context, msg *model.Message) error {
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.SenderKind)).Inc()
	if err := s.repo.TouchConversation(ctx, msg.ConversationID, msg.SentAt); err != nil {
		s.logger.Warn("failed to bump conversation activity",
			zap.String("conversation_id", msg.ConversationID),
			zap.Error(err),
		)
	}
	return nil
}

// deliver sends msg over WhatsApp. It is best-effort.
func (s *MessageService) deliver(ctx context.Context, phone string, msg *model.Message) {
	if s.sender == nil {
		return
	}
	deliveryID, err := s.sender.SendText(ctx, phone, msg.Content)
	if err != nil {
		metrics.DeliveryFailuresTotal.Inc()
		s.logger.Warn("whatsapp delivery failed",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)),
		)
		return
	}
	if deliveryID == "" {
		return
	}
	if err := s.repo.SetMessageExternalID(ctx, msg.ID, deliveryID); err != nil {
		s.logger.Warn("failed to store delivery id",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	msg.ExternalID = &deliveryID
}
