package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const slotColumns = `id, form_id, start_at, end_at, capacity, booked_count, created_at, updated_at`

type PGSlotRepository struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

func NewSlotRepository(db *pgxpool.Pool, lockTimeout time.Duration) SlotRepository {
	return &PGSlotRepository{db: db, lockTimeout: lockTimeout}
}

func scanSlot(row pgx.Row) (domain.Slot, error) {
	var s domain.Slot
	err := row.Scan(&s.ID, &s.FormID, &s.StartAt, &s.EndAt, &s.Capacity, &s.BookedCount, &s.CreatedAt, &s.UpdatedAt)
	s.StartAt, s.EndAt = s.StartAt.UTC(), s.EndAt.UTC()
	return s, err
}

func collectSlots(rows pgx.Rows) ([]domain.Slot, error) {
	defer rows.Close()
	var slots []domain.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// lockDraftForm takes the form row lock that serialises schedule edits and
// checks the form still accepts them.
func lockDraftForm(ctx context.Context, tx pgx.Tx, formID uuid.UUID) error {
	var status domain.FormStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM forms WHERE id=$1 FOR UPDATE`, formID).Scan(&status); err != nil {
		return err
	}
	if status != domain.FormStatusDraft {
		return &domain.FormNotEditableError{FormID: formID, Status: status}
	}
	return nil
}

// lockOpenForm holds the form row in share mode for the rest of the
// reservation, so a status change waits for it, and checks the form is open.
func lockOpenForm(ctx context.Context, tx pgx.Tx, formID uuid.UUID) error {
	var status domain.FormStatus
	if err := tx.QueryRow(ctx, `SELECT status FROM forms WHERE id=$1 FOR SHARE`, formID).Scan(&status); err != nil {
		return err
	}
	return checkOpenForm(formID, status)
}

func (r *PGSlotRepository) PersistNew(ctx context.Context, formID uuid.UUID, candidates []domain.SlotWindow, capacity, maxPerForm int) (domain.AddResult, error) {
	const op = "persist slots"

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.AddResult{}, pgError(op, err)
	}
	defer tx.Rollback(ctx)

	if err := lockDraftForm(ctx, tx, formID); err != nil {
		return domain.AddResult{}, passDomain(op, err)
	}

	rows, err := tx.Query(ctx, `SELECT start_at, end_at FROM timeslots WHERE form_id=$1`, formID)
	if err != nil {
		return domain.AddResult{}, pgError(op, err)
	}
	existing := make(map[windowKey]bool)
	for rows.Next() {
		var w domain.SlotWindow
		if err := rows.Scan(&w.StartAt, &w.EndAt); err != nil {
			rows.Close()
			return domain.AddResult{}, pgError(op, err)
		}
		existing[keyOf(w)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.AddResult{}, pgError(op, err)
	}

	stored := len(existing)
	fresh := freshWindows(existing, candidates)
	result := domain.AddResult{SkippedExisting: len(candidates) - len(fresh)}
	if maxPerForm > 0 && stored+len(fresh) > maxPerForm {
		return domain.AddResult{}, &domain.CapacityExceededError{Existing: stored, Adding: len(fresh), Limit: maxPerForm}
	}
	if len(fresh) == 0 {
		return result, nil
	}

	batch := &pgx.Batch{}
	for _, w := range fresh {
		batch.Queue(`INSERT INTO timeslots (id, form_id, start_at, end_at, capacity)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (form_id, start_at, end_at) DO NOTHING`, uuid.New(), formID, w.StartAt, w.EndAt, capacity)
	}
	br := tx.SendBatch(ctx, batch)
	for range fresh {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return domain.AddResult{}, pgError(op, err)
		}
		result.Added += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return domain.AddResult{}, pgError(op, err)
	}
	result.SkippedExisting = len(candidates) - result.Added

	if err := tx.Commit(ctx); err != nil {
		return domain.AddResult{}, pgError(op, err)
	}
	return result, nil
}

func (r *PGSlotRepository) ListAvailable(ctx context.Context, q domain.AvailabilityQuery) (domain.SlotPage, error) {
	rows, err := r.db.Query(ctx, `SELECT `+slotColumns+` FROM timeslots
		WHERE form_id=$1 AND start_at >= $2 AND booked_count < capacity
		AND ($3::timestamptz IS NULL OR start_at >= $3)
		AND ($4::timestamptz IS NULL OR start_at < $4)
		ORDER BY start_at, id
		LIMIT $5 OFFSET $6`, q.FormID, q.AsOf, q.From, q.To, q.PageSize()+1, q.Offset)
	if err != nil {
		return domain.SlotPage{}, pgError("list available slots", err)
	}
	slots, err := collectSlots(rows)
	if err != nil {
		return domain.SlotPage{}, pgError("list available slots", err)
	}
	return pageOf(slots, q.PageSize()), nil
}

func (r *PGSlotRepository) DeleteUnbooked(ctx context.Context, formID uuid.UUID, filter domain.SlotFilter) (domain.RemovalResult, error) {
	const op = "delete unbooked slots"

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.RemovalResult{}, pgError(op, err)
	}
	defer tx.Rollback(ctx)

	if err := lockDraftForm(ctx, tx, formID); err != nil {
		return domain.RemovalResult{}, passDomain(op, err)
	}

	rows, err := tx.Query(ctx, `SELECT `+slotColumns+` FROM timeslots
		WHERE form_id=$1
		AND ($2::timestamptz IS NULL OR start_at >= $2)
		AND ($3::timestamptz IS NULL OR start_at < $3)
		ORDER BY id
		FOR UPDATE`, formID, optionalTime(filter.From), optionalTime(filter.To))
	if err != nil {
		return domain.RemovalResult{}, pgError(op, err)
	}
	slots, err := collectSlots(rows)
	if err != nil {
		return domain.RemovalResult{}, pgError(op, err)
	}

	var result domain.RemovalResult
	var doomed []uuid.UUID
	for _, s := range slots {
		if !filter.Matches(s) {
			continue
		}
		if s.BookedCount > 0 {
			result.SkippedBooked++
			continue
		}
		doomed = append(doomed, s.ID)
	}
	if len(doomed) == 0 {
		return result, nil
	}

	tag, err := tx.Exec(ctx, `DELETE FROM timeslots WHERE id = ANY($1) AND booked_count = 0`, doomed)
	if err != nil {
		return domain.RemovalResult{}, pgError(op, err)
	}
	result.Removed = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return domain.RemovalResult{}, pgError(op, err)
	}
	return result, nil
}

func (r *PGSlotRepository) Reserve(ctx context.Context, formID, registrationID uuid.UUID, slotIDs []uuid.UUID) (*domain.Reservation, error) {
	const op = "reserve slots"
	if len(slotIDs) == 0 {
		return nil, errNoSlotIDs
	}
	ids := uniqueIDs(slotIDs)

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, pgError(op, err)
	}
	defer tx.Rollback(ctx)

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())); err != nil {
			return nil, pgError(op, err)
		}
	}

	if err := lockOpenForm(ctx, tx, formID); err != nil {
		return nil, passDomain(op, err)
	}

	var owner uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT form_id FROM registrations WHERE id=$1`, registrationID).Scan(&owner); err != nil {
		return nil, pgError(op, err)
	}
	if owner != formID {
		return nil, fmt.Errorf("%s: registration %s: %w", op, registrationID, domain.ErrNotFound)
	}

	// Ownership is checked before any slot lock is taken.
	rows, err := tx.Query(ctx, `SELECT id FROM timeslots WHERE id = ANY($1) AND form_id=$2`, ids, formID)
	if err != nil {
		return nil, pgError(op, err)
	}
	owned := make(map[uuid.UUID]bool, len(ids))
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, pgError(op, err)
		}
		owned[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, pgError(op, err)
	}
	if foreign := missingIDs(ids, owned); len(foreign) > 0 {
		return nil, &domain.SlotNotInFormError{FormID: formID, SlotIDs: foreign}
	}

	rows, err = tx.Query(ctx, `SELECT `+slotColumns+` FROM timeslots WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, pgError(op, err)
	}
	locked, err := collectSlots(rows)
	if err != nil {
		return nil, pgError(op, err)
	}

	rows, err = tx.Query(ctx, `SELECT timeslot_id FROM registration_timeslots WHERE registration_id=$1 AND timeslot_id = ANY($2)`, registrationID, ids)
	if err != nil {
		return nil, pgError(op, err)
	}
	held := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, pgError(op, err)
		}
		held[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, pgError(op, err)
	}

	res, err := planReservation(formID, registrationID, ids, locked, held)
	if err != nil {
		return nil, err
	}
	if len(res.NewlyBooked) == 0 {
		return res, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE timeslots SET booked_count = booked_count + 1, updated_at = now() WHERE id = ANY($1)`, res.NewlyBooked); err != nil {
		return nil, pgError(op, err)
	}
	batch := &pgx.Batch{}
	for _, id := range res.NewlyBooked {
		batch.Queue(`INSERT INTO registration_timeslots (id, registration_id, timeslot_id) VALUES ($1, $2, $3)`, uuid.New(), registrationID, id)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, pgError(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgError(op, err)
	}
	return res, nil
}

func (r *PGSlotRepository) BookedForRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error) {
	rows, err := r.db.Query(ctx, `SELECT t.id, t.form_id, t.start_at, t.end_at, t.capacity, t.booked_count, t.created_at, t.updated_at
		FROM timeslots t
		JOIN registration_timeslots rt ON rt.timeslot_id = t.id
		WHERE rt.registration_id=$1
		ORDER BY t.start_at`, registrationID)
	if err != nil {
		return nil, pgError("booked slots", err)
	}
	slots, err := collectSlots(rows)
	if err != nil {
		return nil, pgError("booked slots", err)
	}
	return slots, nil
}

func (r *PGSlotRepository) Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error) {
	stats := domain.SlotStats{FormID: formID}
	err := r.db.QueryRow(ctx, `SELECT count(*),
			count(*) FILTER (WHERE booked_count >= capacity),
			COALESCE(sum(capacity), 0),
			COALESCE(sum(booked_count), 0)
		FROM timeslots WHERE form_id=$1`, formID).
		Scan(&stats.TotalSlots, &stats.FullSlots, &stats.TotalCapacity, &stats.TotalBooked)
	if err != nil {
		return domain.SlotStats{}, pgError("slot stats", err)
	}
	return stats, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// passDomain keeps domain errors as they are and maps everything else.
func passDomain(op string, err error) error {
	var notEditable *domain.FormNotEditableError
	if errors.As(err, &notEditable) || errors.Is(err, domain.ErrFormClosed) {
		return err
	}
	return pgError(op, err)
}

var _ SlotRepository = (*PGSlotRepository)(nil)
