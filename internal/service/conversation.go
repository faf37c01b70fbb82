// Package service provides the conversation router and message flow of the helpdesk.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/bot"
	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/internal/store"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
	"github.com/capitalize-ai/helpdesk/pkg/tracing"
)

// UnassignedDepartment keys conversations without a department in Stats.
const UnassignedDepartment = "unassigned"

// ConversationService owns every transition that changes conversation
// ownership. Transitions are single conditional updates against the store.
type ConversationService struct {
	repo     Repository
	events   EventLog
	notifier Notifier
	tracer   trace.Tracer
	logger   *logger.Logger
}

// NewConversationService creates a new conversation service. events and
// notifier may be nil.
func NewConversationService(repo Repository, events EventLog, notifier Notifier, log *logger.Logger) *ConversationService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ConversationService{
		repo:     repo,
		events:   events,
		notifier: notifier,
		tracer:   tracing.Tracer("helpdesk/service"),
		logger:   log,
	}
}

// Actor resolves the caller's department memberships.
func (s *ConversationService) Actor(ctx context.Context, attendantID string, role model.Role) (model.Actor, error) {
	depts, err := s.repo.DepartmentsForAttendant(ctx, attendantID)
	if err != nil {
		return model.Actor{}, err
	}
	return model.Actor{ID: attendantID, Role: role, DepartmentIDs: depts}, nil
}

// List returns one page of the queue visible to actor, newest activity first.
func (s *ConversationService) List(ctx context.Context, actor model.Actor, filter model.ConversationFilter) (*model.ListConversationsResponse, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	scopeFilter(actor, &filter)
	filter.Page, filter.Limit = model.NormalizePage(filter.Page, filter.Limit)

	convs, total, err := s.repo.ListConversations(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Pagination:    model.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

// Get loads a conversation the actor may see.
func (s *ConversationService) Get(ctx context.Context, actor model.Actor, id string) (*model.Conversation, error) {
	conv, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, conv) {
		return nil, fmt.Errorf("%w: conversation %s is outside your departments", ErrForbidden, id)
	}
	return conv, nil
}

// Takeover assigns attendantID to an unowned conversation and opens it.
// Repeating the call as the current owner succeeds without changes.
func (s *ConversationService) Takeover(ctx context.Context, id, attendantID string) (conv *model.Conversation, err error) {
	ctx, span := s.startSpan(ctx, "ConversationService.Takeover", id)
	defer func() { s.endSpan(span, "takeover", err) }()

	now := time.Now().UTC()
	ok, err := s.repo.ConditionallyUpdateConversation(ctx, id,
		store.Expectation{Statuses: []model.Status{model.StatusBot, model.StatusWaiting}},
		store.ConversationUpdate{
			Status:         model.StatusOpen,
			AttendantID:    &attendantID,
			ClearMenuLevel: true,
			LastActivity:   &now,
		},
	)
	if err != nil {
		return nil, err
	}

	conv, err = s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if conv.OwnedBy(attendantID) {
			return conv, nil
		}
		return nil, fmt.Errorf("%w: conversation %s is %s", ErrConflict, id, describeOwner(conv))
	}

	s.logger.Info("conversation taken over",
		zap.String("conversation_id", id),
		zap.String("attendant_id", attendantID),
	)
	s.record(ctx, &model.ConversationEvent{
		ConversationID: id,
		Type:           model.EventTypeTakeover,
		ActorID:        attendantID,
		ToAttendantID:  attendantID,
		DepartmentID:   deref(conv.DepartmentID),
	})
	s.notifier.EmitConversationUpdate(conv)
	return conv, nil
}

// Transfer hands an open conversation to another attendant or back to a
// department queue. Only the current owner, an admin, or a supervisor of the
// conversation's department may transfer.
func (s *ConversationService) Transfer(ctx context.Context, actor model.Actor, id string, req model.TransferRequest) (conv *model.Conversation, err error) {
	ctx, span := s.startSpan(ctx, "ConversationService.Transfer", id)
	defer func() { s.endSpan(span, "transfer", err) }()

	if (req.ToAttendantID == "") == (req.ToDepartmentID == "") {
		return nil, fmt.Errorf("%w: exactly one of to_attendant_id or to_department_id is required", ErrValidation)
	}

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.OwnedBy(actor.ID) && !actor.Manages(current) {
		return nil, fmt.Errorf("%w: conversation %s is not yours to transfer", ErrForbidden, id)
	}
	if current.Status != model.StatusOpen || current.AttendantID == nil {
		return nil, fmt.Errorf("%w: conversation %s is %s", ErrConflict, id, current.Status)
	}

	event := &model.ConversationEvent{
		ConversationID:  id,
		Type:            model.EventTypeTransfer,
		ActorID:         actor.ID,
		FromAttendantID: *current.AttendantID,
		Reason:          req.Reason,
	}

	now := time.Now().UTC()
	update := store.ConversationUpdate{LastActivity: &now}
	switch {
	case req.ToAttendantID != "":
		if req.ToAttendantID == *current.AttendantID {
			return nil, fmt.Errorf("%w: conversation already belongs to %s", ErrValidation, req.ToAttendantID)
		}
		if err := s.requireAttendant(ctx, req.ToAttendantID); err != nil {
			return nil, err
		}
		update.AttendantID = &req.ToAttendantID
		event.ToAttendantID = req.ToAttendantID
		event.DepartmentID = deref(current.DepartmentID)
	default:
		if err := s.requireDepartment(ctx, req.ToDepartmentID); err != nil {
			return nil, err
		}
		update.Status = model.StatusWaiting
		update.ClearAttendant = true
		update.DepartmentID = &req.ToDepartmentID
		event.DepartmentID = req.ToDepartmentID
	}

	ok, err := s.repo.ConditionallyUpdateConversation(ctx, id,
		store.Expectation{Statuses: []model.Status{model.StatusOpen}, AttendantID: current.AttendantID},
		update,
	)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s changed during transfer", ErrConflict, id)
	}

	conv, err = s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("conversation transferred",
		zap.String("conversation_id", id),
		zap.String("from_attendant_id", event.FromAttendantID),
		zap.String("to_attendant_id", event.ToAttendantID),
		zap.String("department_id", event.DepartmentID),
	)
	s.record(ctx, event)
	s.notifier.EmitConversationUpdate(conv)
	return conv, nil
}

// Close ends a conversation. Closing an already closed conversation succeeds.
func (s *ConversationService) Close(ctx context.Context, actor model.Actor, id string) (conv *model.Conversation, err error) {
	ctx, span := s.startSpan(ctx, "ConversationService.Close", id)
	defer func() { s.endSpan(span, "close", err) }()

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case model.StatusClosed:
		return current, nil
	case model.StatusBot:
		return nil, fmt.Errorf("%w: conversation %s is still with the bot", ErrConflict, id)
	case model.StatusOpen:
		if !current.OwnedBy(actor.ID) && !actor.Manages(current) {
			return nil, fmt.Errorf("%w: conversation %s is not yours to close", ErrForbidden, id)
		}
	case model.StatusWaiting:
		if !canView(actor, current) {
			return nil, fmt.Errorf("%w: conversation %s is outside your departments", ErrForbidden, id)
		}
	}

	now := time.Now().UTC()
	ok, err := s.repo.ConditionallyUpdateConversation(ctx, id,
		store.Expectation{Statuses: []model.Status{current.Status}, AttendantID: current.AttendantID},
		store.ConversationUpdate{
			Status:         model.StatusClosed,
			ClearMenuLevel: true,
			ClosedAt:       &now,
			LastActivity:   &now,
		},
	)
	if err != nil {
		return nil, err
	}

	conv, err = s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if conv.Status == model.StatusClosed {
			return conv, nil
		}
		return nil, fmt.Errorf("%w: conversation %s changed while closing", ErrConflict, id)
	}

	s.logger.Info("conversation closed",
		zap.String("conversation_id", id),
		zap.String("actor_id", actor.ID),
	)
	s.record(ctx, &model.ConversationEvent{
		ConversationID:  id,
		Type:            model.EventTypeClose,
		ActorID:         actor.ID,
		FromAttendantID: deref(conv.AttendantID),
		DepartmentID:    deref(conv.DepartmentID),
	})
	s.notifier.EmitConversationUpdate(conv)
	return conv, nil
}

// Stats aggregates the conversations visible to actor by status and department.
func (s *ConversationService) Stats(ctx context.Context, actor model.Actor) (*model.Stats, error) {
	var filter model.ConversationFilter
	scopeFilter(actor, &filter)

	counts, err := s.repo.CountConversations(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{
		ByStatus:     map[model.Status]int64{},
		ByDepartment: map[string]map[model.Status]int64{},
	}
	for _, st := range []model.Status{model.StatusBot, model.StatusWaiting, model.StatusOpen, model.StatusClosed} {
		stats.ByStatus[st] = 0
	}
	for _, c := range counts {
		status := model.Status(c.Status)
		dept := UnassignedDepartment
		if c.DepartmentID != nil {
			dept = *c.DepartmentID
		}
		if stats.ByDepartment[dept] == nil {
			stats.ByDepartment[dept] = map[model.Status]int64{}
		}
		stats.ByStatus[status] += c.Count
		stats.ByDepartment[dept][status] += c.Count
		stats.Total += c.Count
	}
	return stats, nil
}

// Events returns the ownership history of a conversation the actor may see.
func (s *ConversationService) Events(ctx context.Context, actor model.Actor, id string, limit int) ([]model.ConversationEvent, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	if s.events == nil {
		return []model.ConversationEvent{}, nil
	}
	events, err := s.events.Events(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return events, nil
}

// EnsureConversation returns the customer's active conversation, opening a
// new one in bot status when none exists. A concurrent delivery that opened
// the conversation first wins and its conversation is returned.
func (s *ConversationService) EnsureConversation(ctx context.Context, customer *model.Customer) (*model.Conversation, bool, error) {
	conv, err := s.repo.FindActiveConversationByCustomer(ctx, customer.ID)
	if err == nil {
		conv.Customer = customer
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	conv = &model.Conversation{
		ID:           uuid.NewString(),
		CustomerID:   customer.ID,
		Status:       model.StatusBot,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
		Customer:     customer,
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, false, err
		}
		existing, findErr := s.repo.FindActiveConversationByCustomer(ctx, customer.ID)
		if findErr != nil {
			return nil, false, findErr
		}
		existing.Customer = customer
		return existing, false, nil
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("customer_id", customer.ID),
	)
	s.record(ctx, &model.ConversationEvent{ConversationID: conv.ID, Type: model.EventTypeCreated})
	s.notifier.EmitNewConversation(conv)
	return conv, true, nil
}

// ApplyBotResult persists the outcome of a bot turn. Every write is guarded
// on bot status, so a concurrent takeover wins; applied is false then.
func (s *ConversationService) ApplyBotResult(ctx context.Context, conv *model.Conversation, res bot.Result) (updated *model.Conversation, applied bool, err error) {
	ctx, span := s.startSpan(ctx, "ConversationService.ApplyBotResult", conv.ID)
	defer func() { s.endSpan(span, "bot_"+string(res.Action), err) }()

	now := time.Now().UTC()
	update := store.ConversationUpdate{LastActivity: &now}
	switch res.Action {
	case bot.ActionNavigate, bot.ActionMessage:
		if res.NextLevel != "" {
			update.MenuLevel = &res.NextLevel
		}
	case bot.ActionTransfer:
		update.Status = model.StatusWaiting
		update.ClearMenuLevel = true
		if res.DepartmentID != "" {
			update.DepartmentID = &res.DepartmentID
		}
	default:
		return nil, false, fmt.Errorf("%w: unknown bot action %q", ErrValidation, res.Action)
	}

	ok, err := s.repo.ConditionallyUpdateConversation(ctx, conv.ID,
		store.Expectation{Statuses: []model.Status{model.StatusBot}},
		update,
	)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.logger.Debug("bot result discarded, conversation left bot status",
			zap.String("conversation_id", conv.ID))
		return nil, false, nil
	}

	updated, err = s.find(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}

	if res.Action == bot.ActionTransfer {
		s.logger.Info("conversation handed to humans",
			zap.String("conversation_id", conv.ID),
			zap.String("department_id", res.DepartmentID),
			zap.String("strategy", res.Strategy),
		)
		s.record(ctx, &model.ConversationEvent{
			ConversationID: conv.ID,
			Type:           model.EventTypeBotTransfer,
			DepartmentID:   res.DepartmentID,
			Metadata:       map[string]any{"strategy": res.Strategy},
		})
		s.notifier.EmitConversationUpdate(updated)
	}
	return updated, true, nil
}

func (s *ConversationService) find(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := s.repo.FindConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
		}
		return nil, err
	}
	return conv, nil
}

func (s *ConversationService) requireAttendant(ctx context.Context, id string) error {
	a, err := s.repo.FindAttendant(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: attendant %s does not exist", ErrValidation, id)
		}
		return err
	}
	if !a.Active {
		return fmt.Errorf("%w: attendant %s is inactive", ErrValidation, id)
	}
	return nil
}

func (s *ConversationService) requireDepartment(ctx context.Context, id string) error {
	d, err := s.repo.FindDepartment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: department %s does not exist", ErrValidation, id)
		}
		return err
	}
	if !d.Active {
		return fmt.Errorf("%w: department %s is inactive", ErrValidation, id)
	}
	return nil
}

// record appends to the event log. Failures are logged and swallowed.
func (s *ConversationService) record(ctx context.Context, event *model.ConversationEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if _, err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("failed to record conversation event",
			zap.String("conversation_id", event.ConversationID),
			zap.String("type", string(event.Type)),
			zap.Error(err),
		)
	}
}

func (s *ConversationService) startSpan(ctx context.Context, name, conversationID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("conversation.id", conversationID)))
}

func (s *ConversationService) endSpan(span trace.Span, transition string, err error) {
	metrics.RecordTransition(transition, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func scopeFilter(actor model.Actor, filter *model.ConversationFilter) {
	if actor.IsAdmin() {
		filter.Restricted = false
		filter.DepartmentIDs = nil
		return
	}
	filter.Restricted = true
	filter.ViewerID = actor.ID
	filter.DepartmentIDs = actor.DepartmentIDs
}

// canView mirrors the restricted store scope: admins, the assigned attendant,
// members of the conversation's department, and anyone for unrouted
// conversations that are still active.
func canView(actor model.Actor, conv *model.Conversation) bool {
	if actor.IsAdmin() {
		return true
	}
	if conv.DepartmentID == nil && conv.Status != model.StatusClosed {
		return true
	}
	if conv.AttendantID != nil && *conv.AttendantID == actor.ID {
		return true
	}
	return conv.DepartmentID != nil && slices.Contains(actor.DepartmentIDs, *conv.DepartmentID)
}

func describeOwner(conv *model.Conversation) string {
	if conv.Status == model.StatusOpen && conv.AttendantID != nil {
		return "owned by " + *conv.AttendantID
	}
	return string(conv.Status)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
