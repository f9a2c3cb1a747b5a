package domain

import (
	"time"

	"github.com/google/uuid"
)

type FormStatus string

const (
	FormStatusDraft     FormStatus = "draft"
	FormStatusPublished FormStatus = "published"
	FormStatusArchived  FormStatus = "archived"
)

type Form struct {
	ID              uuid.UUID   `json:"id"`
	OwnerID         string      `json:"owner_id"`
	Title           string      `json:"title"`
	Location        string      `json:"location,omitempty"`
	Description     string      `json:"description,omitempty"`
	Timezone        string      `json:"timezone"`
	DefaultCapacity int         `json:"default_capacity"`
	Status          FormStatus  `json:"status"`
	Fields          []FormField `json:"fields,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Editable reports whether the slot set of the form may still change.
func (f *Form) Editable() bool {
	return f.Status == FormStatusDraft
}

// CanTransition encodes the draft -> published -> archived lifecycle.
func (s FormStatus) CanTransition(to FormStatus) bool {
	switch s {
	case FormStatusDraft:
		return to == FormStatusPublished || to == FormStatusArchived
	case FormStatusPublished:
		return to == FormStatusArchived
	default:
		return false
	}
}

// AcceptsRegistrations reports whether the public may book on a form in this status.
func (s FormStatus) AcceptsRegistrations() bool {
	return s == FormStatusPublished
}

// LoadLocation resolves the form timezone, falling back to fallback and then UTC.
func (f *Form) LoadLocation(fallback string) (*time.Location, error) {
	name := f.Timezone
	if name == "" {
		name = fallback
	}
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

type Registration struct {
	ID        uuid.UUID      `json:"id"`
	FormID    uuid.UUID      `json:"form_id"`
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Answers   map[string]any `json:"answers,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
