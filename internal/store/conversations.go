package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// Expectation is the guard of a conditional conversation update.
type Expectation struct {
	// Statuses the row must currently be in. Empty means any.
	Statuses []model.Status
	// AttendantID, when set, must equal the current owner.
	AttendantID *string
}

// ConversationUpdate lists the columns written by a conditional update.
// Clear* flags write NULL and take precedence over the matching value.
type ConversationUpdate struct {
	Status          model.Status
	AttendantID     *string
	ClearAttendant  bool
	DepartmentID    *string
	ClearDepartment bool
	MenuLevel       *string
	ClearMenuLevel  bool
	ClosedAt        *time.Time
	LastActivity    *time.Time
}

func (u ConversationUpdate) columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if u.Status != "" {
		cols["status"] = string(u.Status)
	}
	switch {
	case u.ClearAttendant:
		cols["attendant_id"] = nil
	case u.AttendantID != nil:
		cols["attendant_id"] = *u.AttendantID
	}
	switch {
	case u.ClearDepartment:
		cols["department_id"] = nil
	case u.DepartmentID != nil:
		cols["department_id"] = *u.DepartmentID
	}
	switch {
	case u.ClearMenuLevel:
		cols["menu_level"] = nil
	case u.MenuLevel != nil:
		cols["menu_level"] = *u.MenuLevel
	}
	if u.ClosedAt != nil {
		cols["closed_at"] = *u.ClosedAt
	}
	if u.LastActivity != nil {
		cols["last_activity_at"] = *u.LastActivity
	}
	return cols
}

// CreateConversation inserts a new conversation. It returns ErrDuplicate when
// the customer already has an active one.
func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	row := conversationRowFromModel(c)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if c.Status != model.StatusClosed {
			if _, findErr := s.FindActiveConversationByCustomer(ctx, c.CustomerID); findErr == nil {
				return fmt.Errorf("%w: customer %s already has an active conversation", ErrDuplicate, c.CustomerID)
			}
		}
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// FindConversation loads a conversation with its customer.
func (s *Store) FindConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv := row.toModel()
	if err := s.attachCustomers(ctx, []*model.Conversation{&conv}); err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindActiveConversationByCustomer returns the newest non-closed conversation.
func (s *Store) FindActiveConversationByCustomer(ctx context.Context, customerID string) (*model.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND status <> ?", customerID, string(model.StatusClosed)).
		Order("created_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get active conversation: %w", err)
	}
	conv := row.toModel()
	return &conv, nil
}

// ConditionallyUpdateConversation applies update only when the row still
// matches expect, as one UPDATE statement. It reports whether a row changed.
func (s *Store) ConditionallyUpdateConversation(ctx context.Context, id string, expect Expectation, update ConversationUpdate) (bool, error) {
	query := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id)
	if len(expect.Statuses) > 0 {
		statuses := make([]string, len(expect.Statuses))
		for i, st := range expect.Statuses {
			statuses[i] = string(st)
		}
		query = query.Where("status IN ?", statuses)
	}
	if expect.AttendantID != nil {
		query = query.Where("attendant_id = ?", *expect.AttendantID)
	}

	res := query.Updates(update.columns(time.Now().UTC()))
	if res.Error != nil {
		return false, fmt.Errorf("update conversation: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TouchConversation bumps the last activity timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).
		Updates(map[string]any{"last_activity_at": at, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("touch conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListConversations returns one page ordered by last activity, newest first,
// plus the total row count for the filter.
func (s *Store) ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, int64, error) {
	page, limit := model.NormalizePage(filter.Page, filter.Limit)

	var total int64
	if err := s.conversationScope(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	var rows []conversationRow
	if err := s.conversationScope(ctx, filter).
		Order("last_activity_at DESC").
		Offset(model.Offset(page, limit)).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]model.Conversation, len(rows))
	ptrs := make([]*model.Conversation, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
		ptrs[i] = &out[i]
	}
	if err := s.attachCustomers(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// StatusCount is one group of the stats aggregation.
type StatusCount struct {
	DepartmentID *string
	Status       string
	Count        int64
}

// CountConversations groups conversations by department and status.
func (s *Store) CountConversations(ctx context.Context, filter model.ConversationFilter) ([]StatusCount, error) {
	var out []StatusCount
	err := s.conversationScope(ctx, filter).
		Select("department_id, status, COUNT(*) AS count").
		Group("department_id, status").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}
	return out, nil
}

func (s *Store) conversationScope(ctx context.Context, filter model.ConversationFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&conversationRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.AttendantID != "" {
		query = query.Where("attendant_id = ?", filter.AttendantID)
	}
	if filter.Restricted {
		visible := s.db.Where("department_id IS NULL AND status <> ?", string(model.StatusClosed))
		if filter.ViewerID != "" {
			visible = visible.Or("attendant_id = ?", filter.ViewerID)
		}
		if len(filter.DepartmentIDs) > 0 {
			visible = visible.Or("department_id IN ?", filter.DepartmentIDs)
		}
		query = query.Where(visible)
	}
	return query
}

func (s *Store) attachCustomers(ctx context.Context, convs []*model.Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.CustomerID)
	}
	var rows []customerRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return fmt.Errorf("load customers: %w", err)
	}
	byID := make(map[string]model.Customer, len(rows))
	for _, row := range rows {
		byID[row.ID] = row.toModel()
	}
	for _, c := range convs {
		if cust, ok := byID[c.CustomerID]; ok {
			cust := cust
			c.Customer = &cust
		}
	}
	return nil
}
