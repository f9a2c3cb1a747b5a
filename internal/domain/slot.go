package domain

import (
	"time"

	"github.com/google/uuid"
)

// Slot is a bookable interval owned by exactly one form. Times are UTC.
type Slot struct {
	ID          uuid.UUID `json:"id"`
	FormID      uuid.UUID `json:"form_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Slot) Available() bool {
	return s.BookedCount < s.Capacity
}

func (s *Slot) Remaining() int {
	if s.BookedCount >= s.Capacity {
		return 0
	}
	return s.Capacity - s.BookedCount
}

// SlotWindow is a generated candidate interval, not yet persisted.
type SlotWindow struct {
	StartAt time.Time
	EndAt   time.Time
}

// SlotBooking records one unit of capacity on one slot taken by one registration.
type SlotBooking struct {
	ID             uuid.UUID `json:"id"`
	RegistrationID uuid.UUID `json:"registration_id"`
	SlotID         uuid.UUID `json:"slot_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// AvailabilityQuery selects upcoming, not-full slots of a form.
type AvailabilityQuery struct {
	FormID uuid.UUID
	AsOf   time.Time
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// MaxPageSize caps one availability page.
const MaxPageSize = 100

// PageSize clamps Limit to (0, MaxPageSize].
func (q AvailabilityQuery) PageSize() int {
	if q.Limit <= 0 || q.Limit > MaxPageSize {
		return MaxPageSize
	}
	return q.Limit
}

type SlotPage struct {
	Slots   []Slot `json:"slots"`
	HasMore bool   `json:"has_more"`
}

type SlotStats struct {
	FormID        uuid.UUID `json:"form_id"`
	TotalSlots    int       `json:"total_slots"`
	FullSlots     int       `json:"full_slots"`
	TotalCapacity int       `json:"total_capacity"`
	TotalBooked   int       `json:"total_booked"`
}

// Reservation is the outcome of a successful reserve call.
type Reservation struct {
	RegistrationID uuid.UUID   `json:"registration_id"`
	FormID         uuid.UUID   `json:"form_id"`
	Slots          []Slot      `json:"slots"`
	NewlyBooked    []uuid.UUID `json:"newly_booked"`
	AlreadyBooked  []uuid.UUID `json:"already_booked"`
}

// NoOp reports a retried reservation that found every slot already booked by the same registration.
func (r *Reservation) NoOp() bool {
	return len(r.NewlyBooked) == 0 && len(r.AlreadyBooked) > 0
}
