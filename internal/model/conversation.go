// Package model defines data structures for the helpdesk.
package model

import (
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusBot     Status = "bot"
	StatusWaiting Status = "waiting"
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusBot, StatusWaiting, StatusOpen, StatusClosed:
		return true
	}
	return false
}

// Conversation represents one ongoing customer interaction.
type Conversation struct {
	ID           string     `json:"id"`
	CustomerID   string     `json:"customer_id"`
	Status       Status     `json:"status"`
	AttendantID  *string    `json:"attendant_id,omitempty"`
	DepartmentID *string    `json:"department_id,omitempty"`
	MenuLevel    *string    `json:"menu_level,omitempty"`
	LastActivity time.Time  `json:"last_activity_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`

	Customer *Customer `json:"customer,omitempty"`
}

// OwnedBy reports whether attendantID currently holds the conversation.
func (c *Conversation) OwnedBy(attendantID string) bool {
	return c.Status == StatusOpen && c.AttendantID != nil && *c.AttendantID == attendantID
}

// InDepartment reports whether the conversation is routed to departmentID.
func (c *Conversation) InDepartment(departmentID string) bool {
	return c.DepartmentID != nil && *c.DepartmentID == departmentID
}

// Customer is the WhatsApp contact on the other side of a conversation.
type Customer struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationFilter narrows a conversation listing.
type ConversationFilter struct {
	Status      Status
	AttendantID string
	// With Restricted set, results are limited to DepartmentIDs, conversations
	// assigned to ViewerID, and unrouted conversations that are not closed.
	DepartmentIDs []string
	ViewerID      string
	Restricted    bool
	Page          int
	Limit         int
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Pagination    Pagination     `json:"pagination"`
}

// TransferRequest reassigns an open conversation.
type TransferRequest struct {
	ToAttendantID  string `json:"to_attendant_id" validate:"required_without=ToDepartmentID"`
	ToDepartmentID string `json:"to_department_id" validate:"required_without=ToAttendantID"`
	Reason         string `json:"reason,omitempty" validate:"max=500"`
}

// Stats is the dashboard projection of the conversation queue.
type Stats struct {
	ByStatus     map[Status]int64            `json:"by_status"`
	ByDepartment map[string]map[Status]int64 `json:"by_department"`
	Total        int64                       `json:"total"`
}
