package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const formColumns = `id, owner_id, title, location, description, time_zone, default_capacity, status, created_at, updated_at`

type PGFormRepository struct {
	db *pgxpool.Pool
}

func NewFormRepository(db *pgxpool.Pool) FormRepository {
	return &PGFormRepository{db: db}
}

func scanForm(row pgx.Row) (*domain.Form, error) {
	var f domain.Form
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Title, &f.Location, &f.Description, &f.Timezone, &f.DefaultCapacity, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// Create stores the form and its custom fields in one transaction.
func (r *PGFormRepository) Create(ctx context.Context, form *domain.Form) error {
	const op = "create form"

	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}
	if form.Status == "" {
		form.Status = domain.FormStatusDraft
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return pgError(op, err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `INSERT INTO forms (id, owner_id, title, location, description, time_zone, default_capacity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		form.ID, form.OwnerID, form.Title, form.Location, form.Description, form.Timezone, form.DefaultCapacity, form.Status).
		Scan(&form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		return pgError(op, err)
	}

	if len(form.Fields) > 0 {
		batch := &pgx.Batch{}
		for i := range form.Fields {
			field := &form.Fields[i]
			if field.ID == uuid.Nil {
				field.ID = uuid.New()
			}
			options, err := json.Marshal(nonNilOptions(field.Options))
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			batch.Queue(`INSERT INTO form_fields (id, form_id, name, field_type, label, placeholder, is_required, options, field_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)`,
				field.ID, form.ID, field.Name, field.Type, field.Label, field.Placeholder, field.Required, string(options), field.Order)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return pgError(op, err)
		}
	}
	return pgError(op, tx.Commit(ctx))
}

func (r *PGFormRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Form, error) {
	f, err := scanForm(r.db.QueryRow(ctx, `SELECT `+formColumns+` FROM forms WHERE id=$1`, id))
	if err != nil {
		return nil, pgError("get form", err)
	}
	if f.Fields, err = r.fields(ctx, id); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PGFormRepository) fields(ctx context.Context, formID uuid.UUID) ([]domain.FormField, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, field_type, label, placeholder, is_required, options, field_order
		FROM form_fields WHERE form_id=$1 ORDER BY field_order, name`, formID)
	if err != nil {
		return nil, pgError("get form fields", err)
	}
	defer rows.Close()

	var fields []domain.FormField
	for rows.Next() {
		var f domain.FormField
		var options []byte
		if err := rows.Scan(&f.ID, &f.Name, &f.Type, &f.Label, &f.Placeholder, &f.Required, &options, &f.Order); err != nil {
			return nil, pgError("get form fields", err)
		}
		if err := json.Unmarshal(options, &f.Options); err != nil {
			return nil, fmt.Errorf("get form fields: options of %s: %w", f.Name, err)
		}
		if len(f.Options) == 0 {
			f.Options = nil
		}
		fields = append(fields, f)
	}
	return fields, pgError("get form fields", rows.Err())
}

// UpdateStatus moves the form from one status to another. It fails with
// ErrNotFound when the form is missing or no longer in the from status.
func (r *PGFormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.FormStatus) (*domain.Form, error) {
	f, err := scanForm(r.db.QueryRow(ctx, `UPDATE forms SET status=$1, updated_at=now()
		WHERE id=$2 AND status=$3
		RETURNING `+formColumns, to, id, from))
	if err != nil {
		return nil, pgError(fmt.Sprintf("set form status %s", to), err)
	}
	if f.Fields, err = r.fields(ctx, id); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PGFormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM forms WHERE id=$1`, id)
	if err != nil {
		return pgError("delete form", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("delete form: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *PGFormRepository) ListByStatus(ctx context.Context, status domain.FormStatus) ([]domain.Form, error) {
	rows, err := r.db.Query(ctx, `SELECT `+formColumns+` FROM forms WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, pgError("list forms", err)
	}
	defer rows.Close()

	var forms []domain.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, pgError("list forms", err)
		}
		forms = append(forms, *f)
	}
	return forms, pgError("list forms", rows.Err())
}

type PGRegistrationRepository struct {
	db *pgxpool.Pool
}

func NewRegistrationRepository(db *pgxpool.Pool) RegistrationRepository {
	return &PGRegistrationRepository{db: db}
}

func (r *PGRegistrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	answers, err := marshalAnswers(reg.Answers)
	if err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	err = r.db.QueryRow(ctx, `INSERT INTO registrations (id, form_id, name, email, answers) VALUES ($1, $2, $3, $4, $5::jsonb) RETURNING created_at`,
		reg.ID, reg.FormID, reg.Name, reg.Email, answers).Scan(&reg.CreatedAt)
	return pgError("create registration", err)
}

func (r *PGRegistrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	var reg domain.Registration
	var answers []byte
	err := r.db.QueryRow(ctx, `SELECT id, form_id, name, email, answers, created_at FROM registrations WHERE id=$1`, id).
		Scan(&reg.ID, &reg.FormID, &reg.Name, &reg.Email, &answers, &reg.CreatedAt)
	if err != nil {
		return nil, pgError("get registration", err)
	}
	if reg.Answers, err = unmarshalAnswers(answers); err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return &reg, nil
}

func (r *PGRegistrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "delete registration"

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return pgError(op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE timeslots SET booked_count = booked_count - 1, updated_at = now()
		WHERE id IN (SELECT timeslot_id FROM registration_timeslots WHERE registration_id=$1)`, id); err != nil {
		return pgError(op, err)
	}
	cmd, err := tx.Exec(ctx, `DELETE FROM registrations WHERE id=$1`, id)
	if err != nil {
		return pgError(op, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return pgError(op, tx.Commit(ctx))
}

// NewPostgresStore opens a pgx pool and wires the Postgres repositories.
func NewPostgresStore(ctx context.Context, dsn string, lockTimeout time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{
		Slots:         NewSlotRepository(pool, lockTimeout),
		Forms:         NewFormRepository(pool),
		Registrations: NewRegistrationRepository(pool),
		close:         pool.Close,
	}, nil
}

var (
	_ FormRepository         = (*PGFormRepository)(nil)
	_ RegistrationRepository = (*PGRegistrationRepository)(nil)
)
