package kafka

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventSlotsBooked     = "slots_booked"
	EventScheduleChanged = "schedule_changed"
	EventFormStats       = "form_stats"
)

type BookedSlot struct {
	SlotID  uuid.UUID `json:"slot_id"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// SlotsBookedEvent is published after a reservation commits.
type SlotsBookedEvent struct {
	Type           string         `json:"type"`
	FormID         uuid.UUID      `json:"form_id"`
	FormTitle      string         `json:"form_title"`
	Location       string         `json:"location,omitempty"`
	Timezone       string         `json:"time_zone"`
	RegistrationID uuid.UUID      `json:"registration_id"`
	Name           string         `json:"name"`
	Email          string         `json:"email"`
	Answers        map[string]any `json:"answers,omitempty"`
	Slots          []BookedSlot   `json:"slots"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type ScheduleChangedEvent struct {
	Type          string    `json:"type"`
	FormID        uuid.UUID `json:"form_id"`
	Added         int       `json:"added"`
	Removed       int       `json:"removed"`
	SkippedBooked int       `json:"skipped_booked"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type FormStatsEvent struct {
	Type          string    `json:"type"`
	FormID        uuid.UUID `json:"form_id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	TotalSlots    int       `json:"total_slots"`
	FullSlots     int       `json:"full_slots"`
	TotalCapacity int       `json:"total_capacity"`
	TotalBooked   int       `json:"total_booked"`
	Summary       string    `json:"summary"`
	OccurredAt    time.Time `json:"occurred_at"`
}
