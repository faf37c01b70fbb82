package store

import (
	"time"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

type customerRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Phone     string    `gorm:"size:32;uniqueIndex;not null"`
	Name      string    `gorm:"size:191"`
	CreatedAt time.Time `gorm:"not null"`
}

func (customerRow) TableName() string { return "customers" }

func (r customerRow) toModel() model.Customer {
	return model.Customer{ID: r.ID, Phone: r.Phone, Name: r.Name, CreatedAt: r.CreatedAt}
}

type attendantRow struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"size:191;not null"`
	Email     string    `gorm:"size:191;uniqueIndex;not null"`
	Role      string    `gorm:"size:32;not null"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (attendantRow) TableName() string { return "attendants" }

func (r attendantRow) toModel() model.Attendant {
	return model.Attendant{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Role:      model.Role(r.Role),
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}

type departmentRow struct {
	ID     string `gorm:"primaryKey;size:36"`
	Name   string `gorm:"size:191;not null"`
	Active bool   `gorm:"not null"`
}

func (departmentRow) TableName() string { return "departments" }

type membershipRow struct {
	AttendantID  string `gorm:"primaryKey;size:36"`
	DepartmentID string `gorm:"primaryKey;size:36;index"`
}

func (membershipRow) TableName() string { return "attendant_departments" }

type conversationRow struct {
	ID             string     `gorm:"primaryKey;size:36"`
	CustomerID     string     `gorm:"size:36;index;not null"`
	Status         string     `gorm:"size:16;index;not null"`
	AttendantID    *string    `gorm:"size:36;index"`
	DepartmentID   *string    `gorm:"size:36;index"`
	MenuLevel      *string    `gorm:"size:64"`
	LastActivityAt time.Time  `gorm:"index;not null"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
	ClosedAt       *time.Time `gorm:"index"`
}

func (conversationRow) TableName() string { return "conversations" }

func (r conversationRow) toModel() model.Conversation {
	return model.Conversation{
		ID:           r.ID,
		CustomerID:   r.CustomerID,
		Status:       model.Status(r.Status),
		AttendantID:  r.AttendantID,
		DepartmentID: r.DepartmentID,
		MenuLevel:    r.MenuLevel,
		LastActivity: r.LastActivityAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		ClosedAt:     r.ClosedAt,
	}
}

func conversationRowFromModel(c *model.Conversation) conversationRow {
	return conversationRow{
		ID:             c.ID,
		CustomerID:     c.CustomerID,
		Status:         string(c.Status),
		AttendantID:    c.AttendantID,
		DepartmentID:   c.DepartmentID,
		MenuLevel:      c.MenuLevel,
		LastActivityAt: c.LastActivity,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		ClosedAt:       c.ClosedAt,
	}
}

type messageRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"size:36;not null;index:idx_messages_conversation_sent,priority:1"`
	SenderKind     string    `gorm:"size:16;not null"`
	SenderID       *string   `gorm:"size:36"`
	Content        string    `gorm:"type:text;not null"`
	MediaURL       *string   `gorm:"type:text"`
	ExternalID     *string   `gorm:"size:191;index"`
	Read           bool      `gorm:"not null;default:false"`
	SentAt         time.Time `gorm:"not null;index:idx_messages_conversation_sent,priority:2"`
}

func (messageRow) TableName() string { return "messages" }

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderKind:     model.SenderKind(r.SenderKind),
		SenderID:       r.SenderID,
		Content:        r.Content,
		MediaURL:       r.MediaURL,
		ExternalID:     r.ExternalID,
		Read:           r.Read,
		SentAt:         r.SentAt,
	}
}

func messageRowFromModel(m *model.Message) messageRow {
	return messageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderKind:     string(m.SenderKind),
		SenderID:       m.SenderID,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
		ExternalID:     m.ExternalID,
		Read:           m.Read,
		SentAt:         m.SentAt,
	}
}
