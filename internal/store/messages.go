package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// InsertMessage persists a new message.
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	row := messageRowFromModel(msg)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a page of a conversation's history, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, page, limit int) ([]model.Message, int64, error) {
	page, limit = model.NormalizePage(page, limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	var rows []messageRow
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at ASC").
		Offset(model.Offset(page, limit)).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	out := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, total, nil
}

// SetMessageExternalID records the provider delivery id after sending.
func (s *Store) SetMessageExternalID(ctx context.Context, id, externalID string) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id).Update("external_id", externalID)
	if res.Error != nil {
		return fmt.Errorf("set external id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMessageByExternalID looks up a message by provider id.
func (s *Store) FindMessageByExternalID(ctx context.Context, externalID string) (*model.Message, error) {
	var row messageRow
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	msg := row.toModel()
	return &msg, nil
}

// MarkMessagesRead flags every unread customer message in a conversation.
func (s *Store) MarkMessagesRead(ctx context.Context, conversationID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&messageRow{}).
		Where("conversation_id = ? AND sender_kind = ? AND read = ?", conversationID, string(model.SenderCustomer), false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
