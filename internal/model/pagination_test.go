package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginationThirtyMessages(t *testing.T) {
	assert.Equal(t, 10, Offset(2, 10))

	p := NewPagination(2, 10, 30)
	assert.Equal(t, Pagination{Page: 2, Limit: 10, Total: 30, TotalPages: 3}, p)
}

func TestPaginationRoundsUp(t *testing.T) {
	assert.Equal(t, 4, NewPagination(1, 10, 31).TotalPages)
	assert.Equal(t, 0, NewPagination(1, 10, 0).TotalPages)
}

func TestNormalizePage(t *testing.T) {
	page, limit := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageLimit, limit)

	_, limit = NormalizePage(3, 1000)
	assert.Equal(t, MaxPageLimit, limit)
	assert.Equal(t, 0, Offset(-4, 10))
}

func TestConversationOwnedBy(t *testing.T) {
	owner := "a1"
	c := Conversation{Status: StatusOpen, AttendantID: &owner}
	assert.True(t, c.OwnedBy("a1"))
	assert.False(t, c.OwnedBy("a2"))

	c.Status = StatusClosed
	assert.False(t, c.OwnedBy("a1"))
}
