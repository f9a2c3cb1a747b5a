package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/migrations"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// NewSQLiteStore opens a SQLite database and applies the embedded schema.
// All access goes through one connection, so write transactions are
// serialised by the pool itself.
func NewSQLiteStore(ctx context.Context, dsn string) (*Store, error) {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{`PRAGMA foreign_keys = ON`, `PRAGMA busy_timeout = 5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if err := migrations.Run(db, migrations.DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		Slots:         &SQLiteSlotRepository{db: db},
		Forms:         &SQLiteFormRepository{db: db},
		Registrations: &SQLiteRegistrationRepository{db: db},
		close:         func() { db.Close() },
	}, nil
}

func sqliteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.TransientStoreError{Op: op, Err: err}
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &domain.TransientStoreError{Op: op, Err: err}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unixNow() int64 {
	return time.Now().Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

type slotRow struct {
	ID          uuid.UUID `db:"id"`
	FormID      uuid.UUID `db:"form_id"`
	StartAt     int64     `db:"start_at"`
	EndAt       int64     `db:"end_at"`
	Capacity    int       `db:"capacity"`
	BookedCount int       `db:"booked_count"`
	CreatedAt   int64     `db:"created_at"`
	UpdatedAt   int64     `db:"updated_at"`
}

func (r slotRow) toDomain() domain.Slot {
	return domain.Slot{
		ID:          r.ID,
		FormID:      r.FormID,
		StartAt:     fromUnix(r.StartAt),
		EndAt:       fromUnix(r.EndAt),
		Capacity:    r.Capacity,
		BookedCount: r.BookedCount,
		CreatedAt:   fromUnix(r.CreatedAt),
		UpdatedAt:   fromUnix(r.UpdatedAt),
	}
}

func toSlots(rows []slotRow) []domain.Slot {
	slots := make([]domain.Slot, 0, len(rows))
	for _, r := range rows {
		slots = append(slots, r.toDomain())
	}
	return slots
}

type formRow struct {
	ID              uuid.UUID         `db:"id"`
	OwnerID         string            `db:"owner_id"`
	Title           string            `db:"title"`
	Location        string            `db:"location"`
	Description     string            `db:"description"`
	Timezone        string            `db:"time_zone"`
	DefaultCapacity int               `db:"default_capacity"`
	Status          domain.FormStatus `db:"status"`
	CreatedAt       int64             `db:"created_at"`
	UpdatedAt       int64             `db:"updated_at"`
}

func (r formRow) toDomain() *domain.Form {
	return &domain.Form{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Title:           r.Title,
		Location:        r.Location,
		Description:     r.Description,
		Timezone:        r.Timezone,
		DefaultCapacity: r.DefaultCapacity,
		Status:          r.Status,
		CreatedAt:       fromUnix(r.CreatedAt),
		UpdatedAt:       fromUnix(r.UpdatedAt),
	}
}

type fieldRow struct {
	ID          uuid.UUID        `db:"id"`
	Name        string           `db:"name"`
	Type        domain.FieldType `db:"field_type"`
	Label       string           `db:"label"`
	Placeholder string           `db:"placeholder"`
	Required    bool             `db:"is_required"`
	Options     string           `db:"options"`
	Order       int              `db:"field_order"`
}

func (r fieldRow) toDomain() (domain.FormField, error) {
	field := domain.FormField{
		ID:          r.ID,
		Name:        r.Name,
		Type:        r.Type,
		Label:       r.Label,
		Placeholder: r.Placeholder,
		Required:    r.Required,
		Order:       r.Order,
	}
	if err := json.Unmarshal([]byte(r.Options), &field.Options); err != nil {
		return field, fmt.Errorf("options of %s: %w", r.Name, err)
	}
	if len(field.Options) == 0 {
		field.Options = nil
	}
	return field, nil
}
