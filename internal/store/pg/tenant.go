package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"veriflow.io/internal/ids"
	"veriflow.io/internal/tenant"
)

func (s *Store) CreateTenant(ctx context.Context, name, slug string, tier tenant.Tier) (tenant.Tenant, error) {
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" || slug == "" {
		return tenant.Tenant{}, fmt.Errorf("%w: name and slug are required", tenant.ErrInvalidInput)
	}
	if !tenant.ValidTier(tier) {
		return tenant.Tenant{}, fmt.Errorf("%w: unknown tier %q", tenant.ErrInvalidInput, tier)
	}

	now := s.now().UTC()
	t := tenant.Tenant{
		ID:        ids.New(),
		Name:      name,
		Slug:      slug,
		Tier:      tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		insert into tenants(id, name, slug, tier, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$5)
	`, t.ID, t.Name, t.Slug, t.Tier, now)
	if isUniqueViolation(err) {
		return tenant.Tenant{}, tenant.ErrAlreadyExists
	}
	if err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := s.db.QueryRowContext(ctx, `
		select id, name, slug, tier, created_at, updated_at from tenants where id=$1
	`, id).Scan(&t.ID, &t.Name, &t.Slug, &t.Tier, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, slug, tier, created_at, updated_at from tenants order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []tenant.Tenant{}
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Slug, &t.Tier, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, email, name, passwordHash string) (tenant.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return tenant.User{}, fmt.Errorf("%w: valid email is required", tenant.ErrInvalidInput)
	}
	if passwordHash == "" {
		return tenant.User{}, fmt.Errorf("%w: password hash is required", tenant.ErrInvalidInput)
	}

	u := tenant.User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, name, password_hash, created_at)
		values ($1,$2,$3,$4,$5)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return tenant.User{}, tenant.ErrAlreadyExists
	}
	if err != nil {
		return tenant.User{}, err
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (tenant.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u tenant.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, name, password_hash, created_at from users where email=$1
	`, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.User{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.User{}, err
	}
	return u, nil
}

func (s *Store) AddMember(ctx context.Context, tenantID, userID string, role tenant.Role) error {
	if !tenant.ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", tenant.ErrInvalidInput, role)
	}
	res, err := s.db.ExecContext(ctx, `
		insert into memberships(tenant_id, user_id, role, created_at)
		select t.id, u.id, $3, $4 from tenants t, users u where t.id=$1 and u.id=$2
		on conflict (tenant_id, user_id) do update set role=excluded.role
	`, tenantID, userID, role, s.now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

func (s *Store) RoleOf(ctx context.Context, tenantID, userID string) (tenant.Role, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return "", err
	}
	var role tenant.Role
	err := s.db.QueryRowContext(ctx, `
		select role from memberships where tenant_id=$1 and user_id=$2
	`, tenantID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", tenant.ErrNotMember
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *Store) EnabledModules(ctx context.Context, tenantID string) ([]tenant.Module, error) {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select module from tenant_modules where tenant_id=$1
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := map[tenant.Module]bool{}
	for rows.Next() {
		var m tenant.Module
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		set[m] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Stable order for API responses.
	all := []tenant.Module{tenant.ModuleCRM, tenant.ModuleCompliance, tenant.ModuleAppointments, tenant.ModuleInvoicing, tenant.ModuleAIInsights}
	var out []tenant.Module
	for _, m := range all {
		if set[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) EnableModule(ctx context.Context, tenantID string, m tenant.Module) error {
	if !tenant.ValidModule(m) {
		return fmt.Errorf("%w: unknown module %q", tenant.ErrInvalidInput, m)
	}
	t, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if !tenant.TierAllows(t.Tier, m) {
		return fmt.Errorf("%w: %s requires a higher tier than %s", tenant.ErrModuleNotInTier, m, t.Tier)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into tenant_modules(tenant_id, module, created_at)
		values ($1,$2,$3)
		on conflict (tenant_id, module) do nothing
	`, tenantID, m, s.now().UTC())
	return err
}

func (s *Store) DisableModule(ctx context.Context, tenantID string, m tenant.Module) error {
	if _, err := s.GetTenant(ctx, tenantID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		delete from tenant_modules where tenant_id=$1 and module=$2
	`, tenantID, m)
	return err
}
