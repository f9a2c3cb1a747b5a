package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Domenick1991/signupslots/config"
	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
)

// SlotRepository is the slot store. Every method that writes runs in a single
// transaction; a returned error means nothing was written.
type SlotRepository interface {
	// PersistNew inserts the candidates not yet present for the form. Existing
	// slots are left untouched. maxPerForm <= 0 disables the ceiling.
	PersistNew(ctx context.Context, formID uuid.UUID, candidates []domain.SlotWindow, capacity, maxPerForm int) (domain.AddResult, error)
	ListAvailable(ctx context.Context, query domain.AvailabilityQuery) (domain.SlotPage, error)
	// DeleteUnbooked removes matching slots with no bookings and counts the booked ones it kept.
	DeleteUnbooked(ctx context.Context, formID uuid.UUID, filter domain.SlotFilter) (domain.RemovalResult, error)
	// Reserve books one unit on every slot or on none of them.
	Reserve(ctx context.Context, formID, registrationID uuid.UUID, slotIDs []uuid.UUID) (*domain.Reservation, error)
	BookedForRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error)
	Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error)
}

type FormRepository interface {
	Create(ctx context.Context, form *domain.Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Form, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.FormStatus) (*domain.Form, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByStatus(ctx context.Context, status domain.FormStatus) ([]domain.Form, error)
}

type RegistrationRepository interface {
	Create(ctx context.Context, registration *domain.Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	// Delete removes the registration and gives its booked capacity back.
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Slots         SlotRepository
	Forms         FormRepository
	Registrations RegistrationRepository
	close         func()
}

// Open connects the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN(), cfg.LockTimeout())
	case config.DriverSQLite:
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (s *Store) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

func nonNilOptions(options []string) []string {
	if options == nil {
		return []string{}
	}
	return options
}

func marshalAnswers(answers map[string]any) (string, error) {
	if len(answers) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("encode answers: %w", err)
	}
	return string(data), nil
}

func unmarshalAnswers(data []byte) (map[string]any, error) {
	var answers map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if len(answers) == 0 {
		return nil, nil
	}
	return answers, nil
}

var errNoSlotIDs = domain.InvalidSpec("slot_ids", "pick at least one time slot")

func checkOpenForm(formID uuid.UUID, status domain.FormStatus) error {
	if !status.AcceptsRegistrations() {
		return fmt.Errorf("form %s is %s: %w", formID, status, domain.ErrFormClosed)
	}
	return nil
}

// uniqueIDs returns ids without duplicates in ascending byte order, the lock order for reservations.
func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

type windowKey struct {
	start, end int64
}

func keyOf(w domain.SlotWindow) windowKey {
	return windowKey{start: w.StartAt.Unix(), end: w.EndAt.Unix()}
}

// freshWindows drops candidates already stored or repeated within the batch.
func freshWindows(existing map[windowKey]bool, candidates []domain.SlotWindow) []domain.SlotWindow {
	fresh := make([]domain.SlotWindow, 0, len(candidates))
	for _, w := range candidates {
		k := keyOf(w)
		if existing[k] {
			continue
		}
		existing[k] = true
		fresh = append(fresh, w)
	}
	return fresh
}

func missingIDs(ids []uuid.UUID, present map[uuid.UUID]bool) []uuid.UUID {
	var missing []uuid.UUID
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func pageOf(slots []domain.Slot, limit int) domain.SlotPage {
	page := domain.SlotPage{Slots: slots}
	if len(slots) > limit {
		page.Slots = slots[:limit]
		page.HasMore = true
	}
	if page.Slots == nil {
		page.Slots = []domain.Slot{}
	}
	return page
}

// planReservation decides the outcome of a reservation from slots read under
// lock. held lists the slots this registration already booked; those count as
// satisfied so a retried call succeeds without booking twice. Requested ids
// that vanished before the lock was taken are reported as unavailable.
func planReservation(formID, registrationID uuid.UUID, requested []uuid.UUID, locked []domain.Slot, held map[uuid.UUID]bool) (*domain.Reservation, error) {
	res := &domain.Reservation{
		RegistrationID: registrationID,
		FormID:         formID,
		Slots:          locked,
		NewlyBooked:    []uuid.UUID{},
		AlreadyBooked:  []uuid.UUID{},
	}

	found := make(map[uuid.UUID]bool, len(locked))
	var unavailable []uuid.UUID
	for _, s := range locked {
		found[s.ID] = true
		switch {
		case held[s.ID]:
			res.AlreadyBooked = append(res.AlreadyBooked, s.ID)
		case s.BookedCount >= s.Capacity:
			unavailable = append(unavailable, s.ID)
		default:
			res.NewlyBooked = append(res.NewlyBooked, s.ID)
		}
	}
	unavailable = append(unavailable, missingIDs(requested, found)...)
	if len(unavailable) > 0 {
		return nil, &domain.CapacityUnavailableError{SlotIDs: uniqueIDs(unavailable)}
	}

	newly := make(map[uuid.UUID]bool, len(res.NewlyBooked))
	for _, id := range res.NewlyBooked {
		newly[id] = true
	}
	for i := range res.Slots {
		if newly[res.Slots[i].ID] {
			res.Slots[i].BookedCount++
		}
	}
	return res, nil
}
