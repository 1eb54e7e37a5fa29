package tenant

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"veriflow.io/internal/ids"
)

// Service defines tenant, membership and module entitlement operations.
type Service interface {
	CreateTenant(ctx context.Context, name, slug string, tier Tier) (Tenant, error)
	GetTenant(ctx context.Context, id string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)

	CreateUser(ctx context.Context, email, name, passwordHash string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)

	AddMember(ctx context.Context, tenantID, userID string, role Role) error
	RoleOf(ctx context.Context, tenantID, userID string) (Role, error)

	EnabledModules(ctx context.Context, tenantID string) ([]Module, error)
	EnableModule(ctx context.Context, tenantID string, m Module) error
	DisableModule(ctx context.Context, tenantID string, m Module) error
}

// InMemory implements Service with in-process state. It backs tests and local
// development; production uses the Postgres store.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	users   map[string]*User
	byEmail map[string]string
	members map[string]map[string]Role // tenantID -> userID -> role
	modules map[string]map[Module]bool // tenantID -> enabled set
	order   []string

	now func() time.Time
}

// NewInMemory creates an empty tenant registry.
func NewInMemory() *InMemory {
	return &InMemory{
		tenants: make(map[string]*Tenant),
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
		members: make(map[string]map[string]Role),
		modules: make(map[string]map[Module]bool),
		now:     time.Now,
	}
}

func (s *InMemory) CreateTenant(ctx context.Context, name, slug string, tier Tier) (Tenant, error) {
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || slug == "" {
		return Tenant{}, fmt.Errorf("%w: name and slug are required", ErrInvalidInput)
	}
	if !ValidTier(tier) {
		return Tenant{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tenants {
		if t.Slug == slug {
			return Tenant{}, ErrAlreadyExists
		}
	}

	now := s.now().UTC()
	t := &Tenant{
		ID:        ids.New(),
		Name:      name,
		Slug:      slug,
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tenants[t.ID] = t
	s.order = append(s.order, t.ID)
	s.members[t.ID] = make(map[string]Role)
	s.modules[t.ID] = make(map[Module]bool)
	return *t, nil
}

func (s *InMemory) GetTenant(ctx context.Context, id string) (Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return *t, nil
}

func (s *InMemory) ListTenants(ctx context.Context) ([]Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tenant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tenants[id])
	}
	return out, nil
}

func (s *InMemory) CreateUser(ctx context.Context, email, name, passwordHash string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if passwordHash == "" {
		return User{}, fmt.Errorf("%w: password hash is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return User{}, ErrAlreadyExists
	}
	u := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	s.byEmail[email] = u.ID
	return *u, nil
}

func (s *InMemory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return *s.users[id], nil
}

func (s *InMemory) AddMember(ctx context.Context, tenantID, userID string, role Role) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[tenantID]; !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	s.members[tenantID][userID] = role
	return nil
}

func (s *InMemory) RoleOf(ctx context.Context, tenantID, userID string) (Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tenants[tenantID]; !ok {
		return "", ErrNotFound
	}
	role, ok := s.members[tenantID][userID]
	if !ok {
		return "", ErrNotMember
	}
	return role, nil
}

func (s *InMemory) EnabledModules(ctx context.Context, tenantID string) ([]Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.modules[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	// Stable order for API responses.
	all := []Module{ModuleCRM, ModuleCompliance, ModuleAppointments, ModuleInvoicing, ModuleAIInsights}
	var out []Module
	for _, m := range all {
		if set[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *InMemory) EnableModule(ctx context.Context, tenantID string, m Module) error {
	if !ValidModule(m) {
		return fmt.Errorf("%w: unknown module %q", ErrInvalidInput, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	if !TierAllows(t.Tier, m) {
		return fmt.Errorf("%w: %s requires a higher tier than %s", ErrModuleNotInTier, m, t.Tier)
	}
	s.modules[tenantID][m] = true
	t.UpdatedAt = s.now().UTC()
	return nil
}

func (s *InMemory) DisableModule(ctx context.Context, tenantID string, m Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	delete(s.modules[tenantID], m)
	t.UpdatedAt = s.now().UTC()
	return nil
}
