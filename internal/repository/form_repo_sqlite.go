package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SQLiteFormRepository struct {
	db *sqlx.DB
}

func (r *SQLiteFormRepository) Create(ctx context.Context, form *domain.Form) error {
	const op = "create form"

	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	if form.Status == "" {
		form.Status = domain.FormStatusDraft
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sqliteError(op, err)
	}
	defer tx.Rollback()

	now := unixNow()
	_, err = tx.ExecContext(ctx, `INSERT INTO forms (id, owner_id, title, location, description, time_zone, default_capacity, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		form.ID.String(), form.OwnerID, form.Title, form.Location, form.Description, form.Timezone, form.DefaultCapacity, string(form.Status), now, now)
	if err != nil {
		return sqliteError(op, err)
	}

	for i := range form.Fields {
		field := &form.Fields[i]
		if field.ID == uuid.Nil {
			field.ID = uuid.New()
		}
		options, err := json.Marshal(nonNilOptions(field.Options))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO form_fields (id, form_id, name, field_type, label, placeholder, is_required, options, field_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			field.ID.String(), form.ID.String(), field.Name, string(field.Type), field.Label, field.Placeholder, field.Required, string(options), field.Order); err != nil {
			return sqliteError(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sqliteError(op, err)
	}
	form.CreatedAt, form.UpdatedAt = fromUnix(now), fromUnix(now)
	return nil
}

func (r *SQLiteFormRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Form, error) {
	var row formRow
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM forms WHERE id = ?`, id.String()); err != nil {
		return nil, sqliteError("get form", err)
	}
	form := row.toDomain()

	var fields []fieldRow
	if err := r.db.SelectContext(ctx, &fields, `SELECT id, name, field_type, label, placeholder, is_required, options, field_order
		FROM form_fields WHERE form_id = ? ORDER BY field_order, name`, id.String()); err != nil {
		return nil, sqliteError("get form fields", err)
	}
	for _, f := range fields {
		field, err := f.toDomain()
		if err != nil {
			return nil, fmt.Errorf("get form fields: %w", err)
		}
		form.Fields = append(form.Fields, field)
	}
	return form, nil
}

func (r *SQLiteFormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.FormStatus) (*domain.Form, error) {
	op := fmt.Sprintf("set form status %s", to)
	res, err := r.db.ExecContext(ctx, `UPDATE forms SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), unixNow(), id.String(), string(from))
	if err != nil {
		return nil, sqliteError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *SQLiteFormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM forms WHERE id = ?`, id.String())
	if err != nil {
		return sqliteError("delete form", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete form: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *SQLiteFormRepository) ListByStatus(ctx context.Context, status domain.FormStatus) ([]domain.Form, error) {
	var rows []formRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM forms WHERE status = ? ORDER BY created_at`, string(status)); err != nil {
		return nil, sqliteError("list forms", err)
	}
	forms := make([]domain.Form, 0, len(rows))
	for _, row := range rows {
		forms = append(forms, *row.toDomain())
	}
	return forms, nil
}

type SQLiteRegistrationRepository struct {
	db *sqlx.DB
}

func (r *SQLiteRegistrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	answers, err := marshalAnswers(reg.Answers)
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	now := unixNow()
	if _, err := r.db.ExecContext(ctx, `INSERT INTO registrations (id, form_id, name, email, answers, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		reg.ID.String(), reg.FormID.String(), reg.Name, reg.Email, answers, now); err != nil {
		return sqliteError("create registration", err)
	}
	reg.CreatedAt = fromUnix(now)
	return nil
}

func (r *SQLiteRegistrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	var row struct {
		ID        uuid.UUID `db:"id"`
		FormID    uuid.UUID `db:"form_id"`
		Name      string    `db:"name"`
		Email     string    `db:"email"`
		Answers   string    `db:"answers"`
		CreatedAt int64     `db:"created_at"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT * FROM registrations WHERE id = ?`, id.String()); err != nil {
		return nil, sqliteError("get registration", err)
	}
	answers, err := unmarshalAnswers([]byte(row.Answers))
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &domain.Registration{
		ID:        row.ID,
		FormID:    row.FormID,
		Name:      row.Name,
		Email:     row.Email,
		Answers:   answers,
		CreatedAt: fromUnix(row.CreatedAt),
	}, nil
}

func (r *SQLiteRegistrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "delete registration"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sqliteError(op, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE timeslots SET booked_count = booked_count - 1, updated_at = ?
		WHERE id IN (SELECT timeslot_id FROM registration_timeslots WHERE registration_id = ?)`, unixNow(), id.String()); err != nil {
		return sqliteError(op, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, id.String())
	if err != nil {
		return sqliteError(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return sqliteError(op, tx.Commit())
}

var (
	_ FormRepository         = (*SQLiteFormRepository)(nil)
	_ RegistrationRepository = (*SQLiteRegistrationRepository)(nil)
)
