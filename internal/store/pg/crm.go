package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"veriflow.io/internal/crm"
	"veriflow.io/internal/ids"
)

const contactColumns = `id, tenant_id, first_name, last_name, email, phone, status, tags, notes, created_at, updated_at`

func (s *Store) CreateContact(ctx context.Context, c crm.Contact) (crm.Contact, error) {
	c.FirstName = strings.TrimSpace(c.FirstName)
	if c.TenantID == "" {
		return crm.Contact{}, fmt.Errorf("%w: tenant id is required", crm.ErrInvalidInput)
	}
	if c.FirstName == "" {
		return crm.Contact{}, fmt.Errorf("%w: first name is required", crm.ErrInvalidInput)
	}
	if c.Status == "" {
		c.Status = crm.StatusLead
	}
	if !crm.ValidContactStatus(c.Status) {
		return crm.Contact{}, fmt.Errorf("%w: unknown status %q", crm.ErrInvalidInput, c.Status)
	}

	now := s.now().UTC()
	c.ID = ids.New()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into contacts(`+contactColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, c.ID, c.TenantID, c.FirstName, nullString(c.LastName), nullString(c.Email),
		nullString(c.Phone), c.Status, marshalJSON(c.Tags), nullString(c.Notes), now)
	if err != nil {
		return crm.Contact{}, err
	}
	return c, nil
}

func (s *Store) GetContact(ctx context.Context, tenantID, id string) (crm.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+contactColumns+` from contacts where id=$1 and tenant_id=$2
	`, id, tenantID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Contact{}, crm.ErrNotFound
	}
	return c, err
}

func (s *Store) UpdateContact(ctx context.Context, tenantID, id string, upd crm.ContactUpdate) (crm.Contact, error) {
	if upd.Status != nil && !crm.ValidContactStatus(*upd.Status) {
		return crm.Contact{}, fmt.Errorf("%w: unknown status %q", crm.ErrInvalidInput, *upd.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return crm.Contact{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		select `+contactColumns+` from contacts where id=$1 and tenant_id=$2 for update
	`, id, tenantID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crm.Contact{}, crm.ErrNotFound
	}
	if err != nil {
		return crm.Contact{}, err
	}

	if upd.FirstName != nil {
		if strings.TrimSpace(*upd.FirstName) == "" {
			return crm.Contact{}, fmt.Errorf("%w: first name cannot be empty", crm.ErrInvalidInput)
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

	if _, err := tx.ExecContext(ctx, `
		update contacts
		set first_name=$3, last_name=$4, email=$5, phone=$6, status=$7, tags=$8, notes=$9, updated_at=$10
		where id=$1 and tenant_id=$2
	`, c.ID, c.TenantID, c.FirstName, nullString(c.LastName), nullString(c.Email),
		nullString(c.Phone), c.Status, marshalJSON(c.Tags), nullString(c.Notes), c.UpdatedAt); err != nil {
		return crm.Contact{}, err
	}
	if err := tx.Commit(); err != nil {
		return crm.Contact{}, err
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, tenantID string, f crm.Filter) ([]crm.Contact, error) {
	query := `select ` + contactColumns + ` from contacts where tenant_id=$1`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" and status=$%d", len(args))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		query += fmt.Sprintf(" and tags ? $%d", len(args))
	}
	query += " order by created_at asc, id asc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []crm.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row rowScanner) (crm.Contact, error) {
	var (
		c        crm.Contact
		lastName sql.NullString
		email    sql.NullString
		phone    sql.NullString
		notes    sql.NullString
		tags     []byte
	)
	if err := row.Scan(&c.ID, &c.TenantID, &c.FirstName, &lastName, &email, &phone,
		&c.Status, &tags, &notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return crm.Contact{}, err
	}
	c.LastName = lastName.String
	c.Email = email.String
	c.Phone = phone.String
	c.Notes = notes.String
	unmarshalJSON(tags, &c.Tags)
	return c, nil
}
