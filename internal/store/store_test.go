package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "nested", "helpdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedConversation(t *testing.T, s *Store, status model.Status, dept *string, lastActivity time.Time) *model.Conversation {
	t.Helper()
	ctx := context.Background()
	cust, err := s.UpsertCustomer(ctx, "55"+uuid.NewString()[:8], "Cliente")
	require.NoError(t, err)
	conv := &model.Conversation{
		ID:           uuid.NewString(),
		CustomerID:   cust.ID,
		Status:       status,
		DepartmentID: dept,
		LastActivity: lastActivity,
		CreatedAt:    lastActivity,
		UpdatedAt:    lastActivity,
	}
	require.NoError(t, s.CreateConversation(ctx, conv))
	return conv
}

func TestOpenInvalidDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	assert.Error(t, err)
}

func TestSQLiteFilePath(t *testing.T) {
	_, ok := sqliteFilePath(":memory:")
	assert.False(t, ok)
	_, ok = sqliteFilePath("file:test.db?mode=memory")
	assert.False(t, ok)
	path, ok := sqliteFilePath("data/helpdesk.db?_pragma=busy_timeout(5000)")
	assert.True(t, ok)
	assert.Equal(t, "data/helpdesk.db", path)
}

func TestConditionalUpdateGuardsStatusAndOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := seedConversation(t, s, model.StatusWaiting, nil, time.Now().UTC())

	owner := "attendant-1"
	ok, err := s.ConditionallyUpdateConversation(ctx, conv.ID,
		Expectation{Statuses: []model.Status{model.StatusWaiting}},
		ConversationUpdate{Status: model.StatusOpen, AttendantID: &owner})
	require.NoError(t, err)
	assert.True(t, ok)

	// A second writer expecting waiting loses.
	other := "attendant-2"
	ok, err = s.ConditionallyUpdateConversation(ctx, conv.ID,
		Expectation{Statuses: []model.Status{model.StatusWaiting}},
		ConversationUpdate{Status: model.StatusOpen, AttendantID: &other})
	require.NoError(t, err)
	assert.False(t, ok)

	// Owner guard mismatch.
	ok, err = s.ConditionallyUpdateConversation(ctx, conv.ID,
		Expectation{Statuses: []model.Status{model.StatusOpen}, AttendantID: &other},
		ConversationUpdate{ClearAttendant: true})
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOpen, loaded.Status)
	require.NotNil(t, loaded.AttendantID)
	assert.Equal(t, owner, *loaded.AttendantID)
	require.NotNil(t, loaded.Customer)
	assert.Equal(t, "Cliente", loaded.Customer.Name)
}

func TestConditionalUpdateClearsColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := seedConversation(t, s, model.StatusBot, nil, time.Now().UTC())

	level := "support"
	ok, err := s.ConditionallyUpdateConversation(ctx, conv.ID,
		Expectation{Statuses: []model.Status{model.StatusBot}},
		ConversationUpdate{MenuLevel: &level})
	require.NoError(t, err)
	require.True(t, ok)

	dept := "dept-1"
	ok, err = s.ConditionallyUpdateConversation(ctx, conv.ID,
		Expectation{Statuses: []model.Status{model.StatusBot}},
		ConversationUpdate{Status: model.StatusWaiting, ClearMenuLevel: true, DepartmentID: &dept})
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := s.FindConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.MenuLevel)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
	assert.True(t, loaded.InDepartment("dept-1"))
}

func TestListConversationsOrderingAndRestriction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	d1, d2 := "d1", "d2"
	base := time.Now().UTC().Add(-time.Hour)
	oldest := seedConversation(t, s, model.StatusWaiting, &d1, base)
	newest := seedConversation(t, s, model.StatusWaiting, &d1, base.Add(30*time.Minute))
	seedConversation(t, s, model.StatusWaiting, &d2, base.Add(10*time.Minute))

	convs, total, err := s.ListConversations(ctx, model.ConversationFilter{
		Status:        model.StatusWaiting,
		Restricted:    true,
		DepartmentIDs: []string{"d1"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, convs, 2)
	assert.Equal(t, newest.ID, convs[0].ID)
	assert.Equal(t, oldest.ID, convs[1].ID)

	_, total, err = s.ListConversations(ctx, model.ConversationFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	convs, total, err = s.ListConversations(ctx, model.ConversationFilter{Restricted: true})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, convs)
}

func TestRestrictedScopeIncludesOwnAndUnrouted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	support, billing := "support", "billing"
	now := time.Now().UTC()

	inSupport := seedConversation(t, s, model.StatusWaiting, &support, now)
	mine := seedConversation(t, s, model.StatusWaiting, &billing, now)
	owner := "att-1"
	ok, err := s.ConditionallyUpdateConversation(ctx, mine.ID,
		Expectation{Statuses: []model.Status{model.StatusWaiting}},
		ConversationUpdate{Status: model.StatusOpen, AttendantID: &owner})
	require.NoError(t, err)
	require.True(t, ok)
	seedConversation(t, s, model.StatusWaiting, &billing, now)
	unrouted := seedConversation(t, s, model.StatusWaiting, nil, now)
	seedConversation(t, s, model.StatusClosed, nil, now)

	filter := model.ConversationFilter{Restricted: true, ViewerID: owner, DepartmentIDs: []string{support}}
	convs, total, err := s.ListConversations(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{inSupport.ID, mine.ID, unrouted.ID}, ids)

	counts, err := s.CountConversations(ctx, filter)
	require.NoError(t, err)
	var counted int64
	for _, c := range counts {
		counted += c.Count
	}
	assert.EqualValues(t, 3, counted)

	_, total, err = s.ListConversations(ctx, model.ConversationFilter{Restricted: true, ViewerID: "att-2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestOneActiveConversationPerCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := seedConversation(t, s, model.StatusBot, nil, time.Now().UTC())

	now := time.Now().UTC()
	dup := &model.Conversation{
		ID:           uuid.NewString(),
		CustomerID:   first.CustomerID,
		Status:       model.StatusBot,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	assert.ErrorIs(t, s.CreateConversation(ctx, dup), ErrDuplicate)

	ok, err := s.ConditionallyUpdateConversation(ctx, first.ID,
		Expectation{Statuses: []model.Status{model.StatusBot}},
		ConversationUpdate{Status: model.StatusClosed})
	require.NoError(t, err)
	require.True(t, ok)
	assert.NoError(t, s.CreateConversation(ctx, dup))
}

func TestMessagesPagingAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := seedConversation(t, s, model.StatusOpen, nil, time.Now().UTC())

	start := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 30; i++ {
		require.NoError(t, s.InsertMessage(ctx, &model.Message{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			SenderKind:     model.SenderCustomer,
			Content:        "msg",
			SentAt:         start.Add(time.Duration(i) * time.Second),
		}))
	}

	msgs, total, err := s.ListMessages(ctx, conv.ID, 2, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 30, total)
	require.Len(t, msgs, 10)
	assert.Equal(t, start.Add(10*time.Second).Unix(), msgs[0].SentAt.Unix())

	n, err := s.MarkMessagesRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 30, n)

	n, err = s.MarkMessagesRead(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMembershipIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &model.Attendant{Name: "Ana", Email: "ana@example.com", Role: model.RoleAttendant, Active: true}
	require.NoError(t, s.CreateAttendant(ctx, a))
	require.NoError(t, s.AddMembership(ctx, a.ID, "d2"))
	require.NoError(t, s.AddMembership(ctx, a.ID, "d1"))
	require.NoError(t, s.AddMembership(ctx, a.ID, "d1"))

	depts, err := s.DepartmentsForAttendant(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2"}, depts)

	_, err = s.FindAttendant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertCustomerRefreshesName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertCustomer(ctx, "5511999990000", "")
	require.NoError(t, err)
	second, err := s.UpsertCustomer(ctx, "5511999990000", "Maria")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Maria", second.Name)
}
