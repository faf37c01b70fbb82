// Package presence tracks which attendants are online and in which
// department queues, backed by a shared key-value store.
package presence

import (
	"context"
	"errors"
	"fmt"
)

const (
	// OnlineAttendantsKey is the set of online attendant ids.
	OnlineAttendantsKey = "online:attendants"
)

// SocketKey is the direct attendant → connection key.
func SocketKey(attendantID string) string {
	return "socket:user:" + attendantID
}

// DepartmentKey is the set of online attendants serving a department.
func DepartmentKey(departmentID string) string {
	return "department:" + departmentID + ":attendants"
}

// KV is the subset of key-value operations presence needs. Every operation
// must be idempotent: deleting a missing key or removing a missing member
// succeeds.
type KV interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, set, member string) error
	SRem(ctx context.Context, set, member string) error
	SMembers(ctx context.Context, set string) ([]string, error)
}

// Store registers and removes attendant presence.
type Store struct {
	kv KV
}

// New creates a presence store over kv.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// Connect records attendantID as online through connectionID and adds it to
// every department set.
func (s *Store) Connect(ctx context.Context, attendantID, connectionID string, departmentIDs []string) error {
	if attendantID == "" {
		return errors.New("attendant id is required")
	}
	if err := s.kv.Set(ctx, SocketKey(attendantID), connectionID); err != nil {
		return fmt.Errorf("set socket key: %w", err)
	}
	if err := s.kv.SAdd(ctx, OnlineAttendantsKey, attendantID); err != nil {
		return fmt.Errorf("add online: %w", err)
	}
	for _, dept := range departmentIDs {
		if err := s.kv.SAdd(ctx, DepartmentKey(dept), attendantID); err != nil {
			return fmt.Errorf("add department %s: %w", dept, err)
		}
	}
	return nil
}

// Disconnect reverses Connect. It attempts every removal even when one fails
// and returns the joined errors. Running it twice is a no-op.
func (s *Store) Disconnect(ctx context.Context, attendantID string, departmentIDs []string) error {
	var errs []error
	if err := s.kv.Del(ctx, SocketKey(attendantID)); err != nil {
		errs = append(errs, fmt.Errorf("delete socket key: %w", err))
	}
	if err := s.kv.SRem(ctx, OnlineAttendantsKey, attendantID); err != nil {
		errs = append(errs, fmt.Errorf("remove online: %w", err))
	}
	for _, dept := range departmentIDs {
		if err := s.kv.SRem(ctx, DepartmentKey(dept), attendantID); err != nil {
			errs = append(errs, fmt.Errorf("remove department %s: %w", dept, err))
		}
	}
	return errors.Join(errs...)
}

// ConnectionID returns the connection currently registered for attendantID.
func (s *Store) ConnectionID(ctx context.Context, attendantID string) (string, bool, error) {
	return s.kv.Get(ctx, SocketKey(attendantID))
}

// OnlineAttendants lists every online attendant id.
func (s *Store) OnlineAttendants(ctx context.Context) ([]string, error) {
	return s.kv.SMembers(ctx, OnlineAttendantsKey)
}

// DepartmentAttendants lists online attendants of one department.
func (s *Store) DepartmentAttendants(ctx context.Context, departmentID string) ([]string, error) {
	return s.kv.SMembers(ctx, DepartmentKey(departmentID))
}
