package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/ids"
)

const trackingColumns = `id, tenant_id, checklist_id, item_id, status, completed_at, completed_by,
	notes, attachments, history, next_due_date, reminder_sent, created_at, updated_at`

const reminderColumns = `id, tenant_id, compliance_id, reminder_type, scheduled_for, sent, sent_at,
	claimed_at, message, metadata, created_at`

func (s *Store) UpsertTemplate(ctx context.Context, tpl compliance.ChecklistTemplate) (compliance.ChecklistTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return compliance.ChecklistTemplate{}, err
	}
	if tpl.ID == "" {
		tpl.ID = ids.New()
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		insert into checklist_templates(id, title, version, region, business_type, sections, metadata, is_active, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, tpl.ID, tpl.Title, tpl.Version, nullString(tpl.Region), nullString(tpl.BusinessType),
		marshalJSON(tpl.Sections), marshalJSON(tpl.Metadata), tpl.IsActive, tpl.CreatedAt)
	if err != nil {
		return compliance.ChecklistTemplate{}, err
	}
	return tpl, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (compliance.ChecklistTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, title, version, coalesce(region,''), coalesce(business_type,''), sections, metadata, is_active, created_at
		from checklist_templates where id=$1
	`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.ChecklistTemplate{}, compliance.ErrNotFound
	}
	return tpl, err
}

func (s *Store) ListActiveTemplates(ctx context.Context, region, businessType string) ([]compliance.ChecklistTemplate, error) {
	query := `
		select id, title, version, coalesce(region,''), coalesce(business_type,''), sections, metadata, is_active, created_at
		from checklist_templates where is_active`
	var args []any
	if region != "" {
		args = append(args, region)
		query += fmt.Sprintf(" and region=$%d", len(args))
	}
	if businessType != "" {
		args = append(args, businessType)
		query += fmt.Sprintf(" and business_type=$%d", len(args))
	}
	query += " order by created_at asc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []compliance.ChecklistTemplate{}
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (compliance.ChecklistTemplate, error) {
	var (
		tpl      compliance.ChecklistTemplate
		sections []byte
		metadata []byte
	)
	if err := row.Scan(&tpl.ID, &tpl.Title, &tpl.Version, &tpl.Region, &tpl.BusinessType,
		&sections, &metadata, &tpl.IsActive, &tpl.CreatedAt); err != nil {
		return compliance.ChecklistTemplate{}, err
	}
	unmarshalJSON(sections, &tpl.Sections)
	unmarshalJSON(metadata, &tpl.Metadata)
	return tpl, nil
}

// InitializeTracking creates one not_started record per template item inside
// a single transaction, so a tenant never ends up with a partial set.
func (s *Store) InitializeTracking(ctx context.Context, tenantID, templateID string) ([]compliance.TrackingRecord, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", compliance.ErrValidation)
	}

	tpl, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx, `
		select count(1) from tracking_records where tenant_id=$1 and checklist_id=$2
	`, tenantID, templateID).Scan(&existing); err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, compliance.ErrAlreadyInitialized
	}

	now := s.now().UTC()
	var out []compliance.TrackingRecord
	for _, item := range tpl.Items() {
		rec := compliance.TrackingRecord{
			ID:          ids.New(),
			TenantID:    tenantID,
			ChecklistID: templateID,
			ItemID:      item.ID,
			Status:      compliance.StatusNotStarted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if item.DueDate != nil {
			due := *item.DueDate
			rec.NextDueDate = &due
		}
		if _, err := tx.ExecContext(ctx, `
			insert into tracking_records(id, tenant_id, checklist_id, item_id, status, next_due_date, reminder_sent, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6,false,$7,$7)
		`, rec.ID, rec.TenantID, rec.ChecklistID, rec.ItemID, rec.Status, nullTime(rec.NextDueDate), now); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListTracking(ctx context.Context, tenantID, checklistID string) ([]compliance.TrackingRecord, error) {
	query := `select ` + trackingColumns + ` from tracking_records where tenant_id=$1`
	args := []any{tenantID}
	if checklistID != "" {
		args = append(args, checklistID)
		query += " and checklist_id=$2"
	}
	query += " order by created_at asc, id asc"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []compliance.TrackingRecord{}
	for rows.Next() {
		rec, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetRecord(ctx context.Context, id string) (compliance.TrackingRecord, error) {
	row := s.db.QueryRowContext(ctx, `select `+trackingColumns+` from tracking_records where id=$1`, id)
	rec, err := scanTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.TrackingRecord{}, compliance.ErrNotFound
	}
	return rec, err
}

func scanTracking(row rowScanner) (compliance.TrackingRecord, error) {
	var (
		rec         compliance.TrackingRecord
		completedAt sql.NullTime
		completedBy sql.NullString
		notes       sql.NullString
		attachments []byte
		history     []byte
		nextDue     sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.ChecklistID, &rec.ItemID, &rec.Status,
		&completedAt, &completedBy, &notes, &attachments, &history, &nextDue,
		&rec.ReminderSent, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return compliance.TrackingRecord{}, err
	}
	rec.CompletedAt = timePtr(completedAt)
	rec.CompletedBy = completedBy.String
	rec.Notes = notes.String
	unmarshalJSON(attachments, &rec.Attachments)
	unmarshalJSON(history, &rec.History)
	rec.NextDueDate = timePtr(nextDue)
	return rec, nil
}

func (s *Store) UpdateStatus(ctx context.Context, recordID string, newStatus compliance.Status, actingUserID string, upd compliance.StatusUpdate) (compliance.TrackingRecord, error) {
	if !compliance.ValidStatus(newStatus) {
		return compliance.TrackingRecord{}, fmt.Errorf("%w: unknown status %q", compliance.ErrValidation, newStatus)
	}
	if strings.TrimSpace(actingUserID) == "" {
		return compliance.TrackingRecord{}, fmt.Errorf("%w: acting user is required", compliance.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.TrackingRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `select `+trackingColumns+` from tracking_records where id=$1 for update`, recordID)
	rec, err := scanTracking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.TrackingRecord{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.TrackingRecord{}, err
	}

	now := s.now().UTC()
	rec.History = append(rec.History, compliance.StatusChange{From: rec.Status, To: newStatus, Actor: actingUserID, At: now})
	rec.Status = newStatus

	if newStatus == compliance.StatusCompleted {
		// First completion wins; reopening later does not clear it.
		if rec.CompletedAt == nil {
			completed := now
			rec.CompletedAt = &completed
			rec.CompletedBy = actingUserID
		}
		if tpl, err := s.GetTemplate(ctx, rec.ChecklistID); err == nil {
			if item, ok := tpl.ItemByID(rec.ItemID); ok {
				next := compliance.NextDueDate(item.Frequency, rec.NextDueDate, now)
				rec.NextDueDate = next
				if next != nil {
					rec.ReminderSent = false
				}
			}
		}
	}

	if upd.Notes != nil {
		rec.Notes = *upd.Notes
	}
	if upd.Attachments != nil {
		rec.Attachments = append(rec.Attachments, upd.Attachments...)
	}
	rec.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		update tracking_records
		set status=$2, completed_at=$3, completed_by=$4, notes=$5, attachments=$6,
			history=$7, next_due_date=$8, reminder_sent=$9, updated_at=$10
		where id=$1
	`, rec.ID, rec.Status, nullTime(rec.CompletedAt), nullString(rec.CompletedBy), nullString(rec.Notes),
		marshalJSON(rec.Attachments), marshalJSON(rec.History), nullTime(rec.NextDueDate),
		rec.ReminderSent, rec.UpdatedAt); err != nil {
		return compliance.TrackingRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return compliance.TrackingRecord{}, err
	}
	return rec, nil
}

func (s *Store) ScheduleReminder(ctx context.Context, rem compliance.Reminder) (compliance.Reminder, error) {
	if !compliance.ValidChannel(rem.Channel) {
		return compliance.Reminder{}, fmt.Errorf("%w: unknown channel %q", compliance.ErrValidation, rem.Channel)
	}
	if strings.TrimSpace(rem.TenantID) == "" || strings.TrimSpace(rem.RecordID) == "" {
		return compliance.Reminder{}, fmt.Errorf("%w: tenant and record ids are required", compliance.ErrValidation)
	}
	if rem.ScheduledFor.IsZero() {
		return compliance.Reminder{}, fmt.Errorf("%w: scheduled_for is required", compliance.ErrValidation)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from tracking_records where id=$1`, rem.RecordID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.Reminder{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.Reminder{}, err
	}

	rem.ID = ids.New()
	rem.Sent = false
	rem.SentAt = nil
	rem.ClaimedAt = nil
	rem.CreatedAt = s.now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		insert into reminders(id, tenant_id, compliance_id, reminder_type, scheduled_for, sent, message, metadata, created_at)
		values ($1,$2,$3,$4,$5,false,$6,$7,$8)
	`, rem.ID, rem.TenantID, rem.RecordID, rem.Channel, rem.ScheduledFor, rem.Message,
		marshalJSON(rem.Metadata), rem.CreatedAt); err != nil {
		return compliance.Reminder{}, err
	}
	return rem, nil
}

func (s *Store) ScheduleQuarterlyTaxReminders(ctx context.Context, tenantID, recordID string) ([]compliance.Reminder, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `select 1 from tracking_records where id=$1`, recordID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, compliance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reminders := compliance.QuarterlyTaxReminders(tenantID, recordID, now)
	if len(reminders) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range reminders {
		reminders[i].ID = ids.New()
		reminders[i].CreatedAt = now
		if _, err := tx.ExecContext(ctx, `
			insert into reminders(id, tenant_id, compliance_id, reminder_type, scheduled_for, sent, message, metadata, created_at)
			values ($1,$2,$3,$4,$5,false,$6,$7,$8)
		`, reminders[i].ID, reminders[i].TenantID, reminders[i].RecordID, reminders[i].Channel,
			reminders[i].ScheduledFor, reminders[i].Message, marshalJSON(reminders[i].Metadata), now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return reminders, nil
}

func (s *Store) ListPendingReminders(ctx context.Context) ([]compliance.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+reminderColumns+`
		from reminders
		where sent=false and scheduled_for < now()
		order by scheduled_for asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ClaimDueReminders atomically claims a batch of due reminders. SKIP LOCKED
// plus the claim timestamp keeps concurrent dispatchers from double-sending;
// claims lapse after five minutes so a crashed dispatcher's batch is
// re-delivered (delivery is at-least-once).
func (s *Store) ClaimDueReminders(ctx context.Context, limit int) ([]compliance.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		update reminders set claimed_at = now()
		where id in (
			select id from reminders
			where sent=false
			  and scheduled_for < now()
			  and (claimed_at is null or claimed_at < now() - interval '5 minutes')
			order by scheduled_for asc
			limit $1
			for update skip locked
		)
		returning `+reminderColumns+`
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *Store) MarkSent(ctx context.Context, reminderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var recordID string
	err = tx.QueryRowContext(ctx, `
		update reminders set sent=true, sent_at=now()
		where id=$1 and sent=false
		returning compliance_id
	`, reminderID).Scan(&recordID)
	if errors.Is(err, sql.ErrNoRows) {
		// Either unknown or already sent; the latter is a no-op.
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from reminders where id=$1`, reminderID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return compliance.ErrNotFound
			}
			return err
		}
		return tx.Commit()
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		update tracking_records set reminder_sent=true where id=$1
	`, recordID); err != nil {
		return err
	}
	return tx.Commit()
}

func collectReminders(rows *sql.Rows) ([]compliance.Reminder, error) {
	out := []compliance.Reminder{}
	for rows.Next() {
		var (
			rem       compliance.Reminder
			sentAt    sql.NullTime
			claimedAt sql.NullTime
			metadata  []byte
		)
		if err := rows.Scan(&rem.ID, &rem.TenantID, &rem.RecordID, &rem.Channel, &rem.ScheduledFor,
			&rem.Sent, &sentAt, &claimedAt, &rem.Message, &metadata, &rem.CreatedAt); err != nil {
			return nil, err
		}
		rem.SentAt = timePtr(sentAt)
		rem.ClaimedAt = timePtr(claimedAt)
		unmarshalJSON(metadata, &rem.Metadata)
		out = append(out, rem)
	}
	return out, rows.Err()
}
