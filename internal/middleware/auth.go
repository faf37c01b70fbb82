// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AttendantIDKey is the context key for the authenticated attendant.
	AttendantIDKey ContextKey = "attendant_id"
	// RoleKey is the context key for the attendant role.
	RoleKey ContextKey = "role"
)

// ErrUnauthorized is returned when no valid token is presented.
var ErrUnauthorized = errors.New("unauthorized")

// Claims represents JWT claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// TokenValidator validates HS256 tokens shared by the REST API and the websocket.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator for secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses and verifies a raw token.
func (v *TokenValidator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	if claims.Role == "" {
		claims.Role = string(model.RoleAttendant)
	}
	return claims, nil
}

// Identify authenticates a request from the Authorization header or, for
// browser websockets, the token query parameter.
func (v *TokenValidator) Identify(r *http.Request) (string, model.Role, error) {
	raw, err := tokenFromRequest(r, true)
	if err != nil {
		return "", "", err
	}
	claims, err := v.Validate(raw)
	if err != nil {
		return "", "", err
	}
	return claims.Subject, model.Role(claims.Role), nil
}

// Sign issues a token. It exists for tooling and tests; production tokens
// come from the identity service.
func (v *TokenValidator) Sign(attendantID string, role model.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   attendantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Auth creates JWT authentication middleware.
func Auth(validator *TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := tokenFromRequest(r, false)
			if err != nil {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims, err := validator.Validate(raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AttendantIDKey, claims.Subject)
			ctx = context.WithValue(ctx, RoleKey, model.Role(claims.Role))
			noteAttendant(ctx, claims.Subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request, allowQuery bool) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", ErrUnauthorized
		}
		return parts[1], nil
	}
	if allowQuery {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, nil
		}
	}
	return "", ErrUnauthorized
}

// GetAttendantID gets the attendant ID from context.
func GetAttendantID(ctx context.Context) string {
	if v, ok := ctx.Value(AttendantIDKey).(string); ok {
		return v
	}
	return ""
}

// GetRole gets the attendant role from context.
func GetRole(ctx context.Context) model.Role {
	if v, ok := ctx.Value(RoleKey).(model.Role); ok {
		return v
	}
	return ""
}

// RequireRole creates middleware that admits only the listed roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
		})
	}
}
