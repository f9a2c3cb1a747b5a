package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type SQLiteSlotRepository struct {
	db *sqlx.DB
}

func sqliteLockDraftForm(ctx context.Context, tx *sqlx.Tx, formID uuid.UUID) error {
	var status domain.FormStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM forms WHERE id = ?`, formID.String()); err != nil {
		return sqliteError("load form", err)
	}
	if status != domain.FormStatusDraft {
		return &domain.FormNotEditableError{FormID: formID, Status: status}
	}
	return nil
}

func (r *SQLiteSlotRepository) PersistNew(ctx context.Context, formID uuid.UUID, candidates []domain.SlotWindow, capacity, maxPerForm int) (domain.AddResult, error) {
	const op = "persist slots"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.AddResult{}, sqliteError(op, err)
	}
	defer tx.Rollback()

	if err := sqliteLockDraftForm(ctx, tx, formID); err != nil {
		return domain.AddResult{}, err
	}

	var stored []struct {
		StartAt int64 `db:"start_at"`
		EndAt   int64 `db:"end_at"`
	}
	if err := tx.SelectContext(ctx, &stored, `SELECT start_at, end_at FROM timeslots WHERE form_id = ?`, formID.String()); err != nil {
		return domain.AddResult{}, sqliteError(op, err)
	}
	existing := make(map[windowKey]bool, len(stored))
	for _, s := range stored {
		existing[windowKey{start: s.StartAt, end: s.EndAt}] = true
	}

	fresh := freshWindows(existing, candidates)
	if maxPerForm > 0 && len(stored)+len(fresh) > maxPerForm {
		return domain.AddResult{}, &domain.CapacityExceededError{Existing: len(stored), Adding: len(fresh), Limit: maxPerForm}
	}

	now := unixNow()
	result := domain.AddResult{SkippedExisting: len(candidates) - len(fresh)}
	for _, w := range fresh {
		res, err := tx.ExecContext(ctx, `INSERT INTO timeslots (id, form_id, start_at, end_at, capacity, booked_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT (form_id, start_at, end_at) DO NOTHING`,
			uuid.NewString(), formID.String(), w.StartAt.Unix(), w.EndAt.Unix(), capacity, now, now)
		if err != nil {
			return domain.AddResult{}, sqliteError(op, err)
		}
		n, _ := res.RowsAffected()
		result.Added += int(n)
	}
	result.SkippedExisting = len(candidates) - result.Added

	if err := tx.Commit(); err != nil {
		return domain.AddResult{}, sqliteError(op, err)
	}
	return result, nil
}

func (r *SQLiteSlotRepository) ListAvailable(ctx context.Context, q domain.AvailabilityQuery) (domain.SlotPage, error) {
	query := `SELECT * FROM timeslots WHERE form_id = ? AND start_at >= ? AND booked_count < capacity`
	args := []any{q.FormID.String(), q.AsOf.Unix()}
	if q.From != nil {
		query += ` AND start_at >= ?`
		args = append(args, q.From.Unix())
	}
	if q.To != nil {
		query += ` AND start_at < ?`
		args = append(args, q.To.Unix())
	}
	query += ` ORDER BY start_at, id LIMIT ? OFFSET ?`
	args = append(args, q.PageSize()+1, q.Offset)

	var rows []slotRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return domain.SlotPage{}, sqliteError("list available slots", err)
	}
	return pageOf(toSlots(rows), q.PageSize()), nil
}

func (r *SQLiteSlotRepository) DeleteUnbooked(ctx context.Context, formID uuid.UUID, filter domain.SlotFilter) (domain.RemovalResult, error) {
	const op = "delete unbooked slots"

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.RemovalResult{}, sqliteError(op, err)
	}
	defer tx.Rollback()

	if err := sqliteLockDraftForm(ctx, tx, formID); err != nil {
		return domain.RemovalResult{}, err
	}

	query := `SELECT * FROM timeslots WHERE form_id = ?`
	args := []any{formID.String()}
	if !filter.From.IsZero() {
		query += ` AND start_at >= ?`
		args = append(args, filter.From.Unix())
	}
	if !filter.To.IsZero() {
		query += ` AND start_at < ?`
		args = append(args, filter.To.Unix())
	}
	var rows []slotRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return domain.RemovalResult{}, sqliteError(op, err)
	}

	var result domain.RemovalResult
	var doomed []string
	for _, s := range toSlots(rows) {
		if !filter.Matches(s) {
			continue
		}
		if s.BookedCount > 0 {
			result.SkippedBooked++
			continue
		}
		doomed = append(doomed, s.ID.String())
	}
	if len(doomed) == 0 {
		return result, nil
	}

	query, inArgs, err := sqlx.In(`DELETE FROM timeslots WHERE id IN (?) AND booked_count = 0`, doomed)
	if err != nil {
		return domain.RemovalResult{}, fmt.Errorf("%s: %w", op, err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(query), inArgs...)
	if err != nil {
		return domain.RemovalResult{}, sqliteError(op, err)
	}
	n, _ := res.RowsAffected()
	result.Removed = int(n)

	if err := tx.Commit(); err != nil {
		return domain.RemovalResult{}, sqliteError(op, err)
	}
	return result, nil
}

// Reserve runs on the single connection, so the transaction is the lock.
func (r *SQLiteSlotRepository) Reserve(ctx context.Context, formID, registrationID uuid.UUID, slotIDs []uuid.UUID) (*domain.Reservation, error) {
	const op = "reserve slots"
	if len(slotIDs) == 0 {
		return nil, errNoSlotIDs
	}
	ids := uniqueIDs(slotIDs)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, sqliteError(op, err)
	}
	defer tx.Rollback()

	var status domain.FormStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM forms WHERE id = ?`, formID.String()); err != nil {
		return nil, sqliteError(op, err)
	}
	if err := checkOpenForm(formID, status); err != nil {
		return nil, err
	}

	var owner uuid.UUID
	if err := tx.GetContext(ctx, &owner, `SELECT form_id FROM registrations WHERE id = ?`, registrationID.String()); err != nil {
		return nil, sqliteError(op, err)
	}
	if owner != formID {
		return nil, fmt.Errorf("%s: registration %s: %w", op, registrationID, domain.ErrNotFound)
	}

	query, args, err := sqlx.In(`SELECT * FROM timeslots WHERE id IN (?) ORDER BY id`, idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var rows []slotRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, sqliteError(op, err)
	}

	owned := make(map[uuid.UUID]bool, len(rows))
	var locked []domain.Slot
	for _, row := range rows {
		if row.FormID == formID {
			owned[row.ID] = true
			locked = append(locked, row.toDomain())
		}
	}
	if foreign := missingIDs(ids, owned); len(foreign) > 0 {
		return nil, &domain.SlotNotInFormError{FormID: formID, SlotIDs: foreign}
	}

	query, args, err = sqlx.In(`SELECT timeslot_id FROM registration_timeslots WHERE registration_id = ? AND timeslot_id IN (?)`,
		registrationID.String(), idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var heldIDs []uuid.UUID
	if err := tx.SelectContext(ctx, &heldIDs, tx.Rebind(query), args...); err != nil {
		return nil, sqliteError(op, err)
	}
	held := make(map[uuid.UUID]bool, len(heldIDs))
	for _, id := range heldIDs {
		held[id] = true
	}

	res, err := planReservation(formID, registrationID, ids, locked, held)
	if err != nil {
		return nil, err
	}
	if len(res.NewlyBooked) == 0 {
		return res, nil
	}

	now := unixNow()
	for _, id := range res.NewlyBooked {
		// The guard keeps the capacity check and the increment in one statement.
		upd, err := tx.ExecContext(ctx, `UPDATE timeslots SET booked_count = booked_count + 1, updated_at = ?
			WHERE id = ? AND booked_count < capacity`, now, id.String())
		if err != nil {
			return nil, sqliteError(op, err)
		}
		if n, _ := upd.RowsAffected(); n == 0 {
			return nil, &domain.CapacityUnavailableError{SlotIDs: []uuid.UUID{id}}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO registration_timeslots (id, registration_id, timeslot_id, created_at) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), registrationID.String(), id.String(), now); err != nil {
			return nil, sqliteError(op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, sqliteError(op, err)
	}
	return res, nil
}

func (r *SQLiteSlotRepository) BookedForRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error) {
	var rows []slotRow
	err := r.db.SelectContext(ctx, &rows, `SELECT t.* FROM timeslots t
		JOIN registration_timeslots rt ON rt.timeslot_id = t.id
		WHERE rt.registration_id = ?
		ORDER BY t.start_at`, registrationID.String())
	if err != nil {
		return nil, sqliteError("booked slots", err)
	}
	return toSlots(rows), nil
}

func (r *SQLiteSlotRepository) Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error) {
	var row struct {
		Total    int `db:"total_slots"`
		Full     int `db:"full_slots"`
		Capacity int `db:"total_capacity"`
		Booked   int `db:"total_booked"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT count(*) AS total_slots,
			COALESCE(sum(CASE WHEN booked_count >= capacity THEN 1 ELSE 0 END), 0) AS full_slots,
			COALESCE(sum(capacity), 0) AS total_capacity,
			COALESCE(sum(booked_count), 0) AS total_booked
		FROM timeslots WHERE form_id = ?`, formID.String())
	if err != nil {
		return domain.SlotStats{}, sqliteError("slot stats", err)
	}
	return domain.SlotStats{
		FormID:        formID,
		TotalSlots:    row.Total,
		FullSlots:     row.Full,
		TotalCapacity: row.Capacity,
		TotalBooked:   row.Booked,
	}, nil
}

var _ SlotRepository = (*SQLiteSlotRepository)(nil)
