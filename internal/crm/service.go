package crm

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"veriflow.io/internal/ids"
)

// Service defines contact operations. All operations are tenant-scoped.
type Service interface {
	CreateContact(ctx context.Context, c Contact) (Contact, error)
	GetContact(ctx context.Context, tenantID, id string) (Contact, error)
	UpdateContact(ctx context.Context, tenantID, id string, upd ContactUpdate) (Contact, error)
	ListContacts(ctx context.Context, tenantID string, f Filter) ([]Contact, error)
}

// InMemory implements Service for tests and local development.
type InMemory struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
	order    []string

	now func() time.Time
}

// NewInMemory creates an empty contact book.
func NewInMemory() *InMemory {
	return &InMemory{
		contacts: make(map[string]*Contact),
		now:      time.Now,
	}
}

func (s *InMemory) CreateContact(ctx context.Context, c Contact) (Contact, error) {
	c.FirstName = strings.TrimSpace(c.FirstName)
	if c.TenantID == "" {
		return Contact{}, fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	if c.FirstName == "" {
		return Contact{}, fmt.Errorf("%w: first name is required", ErrInvalidInput)
	}
	if c.Status == "" {
		c.Status = StatusLead
	}
	if !ValidContactStatus(c.Status) {
		return Contact{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, c.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	c.ID = ids.New()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := c
	s.contacts[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return cp, nil
}

func (s *InMemory) GetContact(ctx context.Context, tenantID, id string) (Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return Contact{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemory) UpdateContact(ctx context.Context, tenantID, id string, upd ContactUpdate) (Contact, error) {
	if upd.Status != nil && !ValidContactStatus(*upd.Status) {
		return Contact{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || c.TenantID != tenantID {
		return Contact{}, ErrNotFound
	}
	if upd.FirstName != nil {
		if strings.TrimSpace(*upd.FirstName) == "" {
			return Contact{}, fmt.Errorf("%w: first name cannot be empty", ErrInvalidInput)
		}
		c.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		c.LastName = strings.TrimSpace(*upd.LastName)
	}
	if upd.Email != nil {
		c.Email = strings.TrimSpace(*upd.Email)
	}
	if upd.Phone != nil {
		c.Phone = strings.TrimSpace(*upd.Phone)
	}
	if upd.Status != nil {
		c.Status = *upd.Status
	}
	if upd.Tags != nil {
		c.Tags = slices.Clone(upd.Tags)
	}
	if upd.Notes != nil {
		c.Notes = *upd.Notes
	}
	c.UpdatedAt = s.now().UTC()
	return *c, nil
}

func (s *InMemory) ListContacts(ctx context.Context, tenantID string, f Filter) ([]Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Contact{}
	for _, id := range s.order {
		c := s.contacts[id]
		if c.TenantID != tenantID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Tag != "" && !slices.Contains(c.Tags, f.Tag) {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}
