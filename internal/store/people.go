package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/capitalize-ai/helpdesk/internal/model"
)

// UpsertCustomer returns the customer for phone, creating it on first contact
// and refreshing the display name when the provider sends a new one.
func (s *Store) UpsertCustomer(ctx context.Context, phone, name string) (*model.Customer, error) {
	var row customerRow
	err := s.db.WithContext(ctx).Where("phone = ?", phone).Take(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get customer: %w", err)
		}
		row = customerRow{
			ID:        uuid.NewString(),
			Phone:     phone,
			Name:      name,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			// A concurrent delivery may have created the same phone first.
			var existing customerRow
			if takeErr := s.db.WithContext(ctx).Where("phone = ?", phone).Take(&existing).Error; takeErr != nil {
				return nil, fmt.Errorf("create customer: %w", err)
			}
			row = existing
		}
		c := row.toModel()
		return &c, nil
	}

	if name != "" && name != row.Name {
		if err := s.db.WithContext(ctx).Model(&customerRow{}).Where("id = ?", row.ID).Update("name", name).Error; err != nil {
			return nil, fmt.Errorf("update customer: %w", err)
		}
		row.Name = name
	}
	c := row.toModel()
	return &c, nil
}

// FindAttendant loads an attendant by id.
func (s *Store) FindAttendant(ctx context.Context, id string) (*model.Attendant, error) {
	var row attendantRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get attendant: %w", err)
	}
	a := row.toModel()
	return &a, nil
}

// CreateAttendant inserts an attendant. A missing id is generated.
func (s *Store) CreateAttendant(ctx context.Context, a *model.Attendant) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	row := attendantRow{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Role:      string(a.Role),
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create attendant: %w", err)
	}
	return nil
}

// CreateDepartment inserts a department. A missing id is generated.
func (s *Store) CreateDepartment(ctx context.Context, d *model.Department) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	row := departmentRow{ID: d.ID, Name: d.Name, Active: d.Active}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("create department: %w", err)
	}
	return nil
}

// FindDepartment loads a department by id.
func (s *Store) FindDepartment(ctx context.Context, id string) (*model.Department, error) {
	var row departmentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get department: %w", err)
	}
	return &model.Department{ID: row.ID, Name: row.Name, Active: row.Active}, nil
}

// AddMembership puts an attendant in a department. Repeating it is a no-op.
func (s *Store) AddMembership(ctx context.Context, attendantID, departmentID string) error {
	row := membershipRow{AttendantID: attendantID, DepartmentID: departmentID}
	err := s.db.WithContext(ctx).
		Where(membershipRow{AttendantID: attendantID, DepartmentID: departmentID}).
		FirstOrCreate(&row).Error
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

// DepartmentsForAttendant lists the department ids an attendant belongs to.
func (s *Store) DepartmentsForAttendant(ctx context.Context, attendantID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&membershipRow{}).
		Where("attendant_id = ?", attendantID).
		Order("department_id ASC").
		Pluck("department_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ids, nil
}
