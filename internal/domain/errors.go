package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidSpec         = errors.New("invalid schedule specification")
	ErrCapacityExceeded    = errors.New("slot limit per form exceeded")
	ErrSlotNotInForm       = errors.New("slot does not belong to form")
	ErrCapacityUnavailable = errors.New("slot capacity unavailable")
	ErrFormNotEditable     = errors.New("form is not editable")
	ErrTransientStore      = errors.New("transient store error")
	ErrFormClosed          = errors.New("form is not accepting registrations")
	ErrInvalidTransition   = errors.New("invalid form status transition")
)

type InvalidSpecError struct {
	Field  string
	Reason string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidSpecError) Is(target error) bool { return target == ErrInvalidSpec }

func InvalidSpec(field, format string, args ...any) error {
	return &InvalidSpecError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type CapacityExceededError struct {
	Existing int
	Adding   int
	Limit    int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf(
		"this operation would create %d timeslots for the form, exceeding the limit of %d; reduce the date range or days, or split the event across multiple forms",
		e.Existing+e.Adding, e.Limit,
	)
}

func (e *CapacityExceededError) Is(target error) bool { return target == ErrCapacityExceeded }

type SlotNotInFormError struct {
	FormID  uuid.UUID
	SlotIDs []uuid.UUID
}

func (e *SlotNotInFormError) Error() string {
	return fmt.Sprintf("slots %s do not belong to form %s", joinIDs(e.SlotIDs), e.FormID)
}

func (e *SlotNotInFormError) Is(target error) bool { return target == ErrSlotNotInForm }

type CapacityUnavailableError struct {
	SlotIDs []uuid.UUID
}

func (e *CapacityUnavailableError) Error() string {
	return fmt.Sprintf("slots %s are no longer available, pick different times", joinIDs(e.SlotIDs))
}

func (e *CapacityUnavailableError) Is(target error) bool { return target == ErrCapacityUnavailable }

type FormNotEditableError struct {
	FormID uuid.UUID
	Status FormStatus
}

func (e *FormNotEditableError) Error() string {
	return fmt.Sprintf("form %s is %s; timeslots can only be changed while the form is a draft", e.FormID, e.Status)
}

func (e *FormNotEditableError) Is(target error) bool { return target == ErrFormNotEditable }

// TransientStoreError marks a failure the caller may retry as a whole.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransientStore }

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ", ")
}
