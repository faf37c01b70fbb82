package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/helpdesk/internal/model"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetAttendantID(r.Context()) + "|" + string(GetRole(r.Context()))))
	})
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	v := NewTokenValidator("secret")
	token, err := v.Sign("att-1", model.RoleSupervisor, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Auth(v)(echoIdentity()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "att-1|supervisor", rec.Body.String())
}

func TestAuthRejects(t *testing.T) {
	v := NewTokenValidator("secret")
	other, err := NewTokenValidator("other").Sign("att-1", model.RoleAdmin, time.Minute)
	require.NoError(t, err)
	expired, err := v.Sign("att-1", model.RoleAdmin, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"malformed", "Token abc"},
		{"wrong secret", "Bearer " + other},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(v)(echoIdentity()).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuthIgnoresQueryToken(t *testing.T) {
	v := NewTokenValidator("secret")
	token, err := v.Sign("att-1", model.RoleAttendant, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	rec := httptest.NewRecorder()
	Auth(v)(echoIdentity()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIdentifyAcceptsQueryToken(t *testing.T) {
	v := NewTokenValidator("secret")
	token, err := v.Sign("att-2", "", time.Minute)
	require.NoError(t, err)

	id, role, err := v.Identify(httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, "att-2", id)
	assert.Equal(t, model.RoleAttendant, role)

	_, _, err = v.Identify(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRequireRole(t *testing.T) {
	v := NewTokenValidator("secret")
	h := Auth(v)(RequireRole(model.RoleAdmin, model.RoleSupervisor)(echoIdentity()))

	for role, want := range map[model.Role]int{
		model.RoleAdmin:      http.StatusOK,
		model.RoleSupervisor: http.StatusOK,
		model.RoleAttendant:  http.StatusForbidden,
	} {
		token, err := v.Sign("att-1", role, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "corr-1", seen)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestAttendantRateLimit(t *testing.T) {
	v := NewTokenValidator("secret")
	h := Auth(v)(AttendantRateLimit(2, time.Minute)(echoIdentity()))

	call := func(attendantID string) int {
		token, err := v.Sign(attendantID, model.RoleAttendant, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusOK, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusOK, call("b"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(model.SendMessageRequest{Content: "ola"}))

	err := Validate(model.SendMessageRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content is required")

	assert.Error(t, Validate(model.TransferRequest{}))
	assert.NoError(t, Validate(model.TransferRequest{ToDepartmentID: "d1"}))
}

func TestValidateConversationID(t *testing.T) {
	assert.NoError(t, ValidateConversationID("7c9e6679-7425-40de-944b-e07fc1f90ae7"))
	assert.Error(t, ValidateConversationID("nope"))
}
