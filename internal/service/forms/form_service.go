package forms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type FormUseCase interface {
	Create(ctx context.Context, input CreateFormInput) (*CreatedForm, error)
	Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error)
	Publish(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error)
	Archive(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error)
	Delete(ctx context.Context, ownerID string, id uuid.UUID) error
}

// Scheduler is the part of the slot service a new form needs.
type Scheduler interface {
	AddSchedule(ctx context.Context, formID uuid.UUID, spec domain.RecurrenceSpec) (domain.AddResult, error)
}

type Cache interface {
	InvalidateForm(ctx context.Context, formID uuid.UUID) error
}

type FormService struct {
	forms           repository.FormRepository
	scheduler       Scheduler
	cache           Cache
	defaultTimezone string
	validate        *validator.Validate
}

type CreateFormInput struct {
	OwnerID         string                 `json:"-"`
	Title           string                 `json:"title"`
	Location        string                 `json:"location"`
	Description     string                 `json:"description"`
	Timezone        string                 `json:"time_zone"`
	DefaultCapacity int                    `json:"default_capacity"`
	Schedule        *domain.RecurrenceSpec `json:"schedule,omitempty"`
	Fields          []domain.FormField     `json:"fields,omitempty"`
}

// MaxFields caps the custom questions of one form.
const MaxFields = 20

type CreatedForm struct {
	Form     *domain.Form      `json:"form"`
	Schedule *domain.AddResult `json:"schedule,omitempty"`
}

func NewFormService(forms repository.FormRepository, scheduler Scheduler, cache Cache, defaultTimezone string) *FormService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &FormService{
		forms:           forms,
		scheduler:       scheduler,
		cache:           cache,
		defaultTimezone: defaultTimezone,
		validate:        validate,
	}
}

// Create stores a draft form and, when a schedule is given, generates its
// slots. If the schedule is rejected the draft is removed again.
func (s *FormService) Create(ctx context.Context, input CreateFormInput) (*CreatedForm, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domain.InvalidSpec("title", "is required")
	}
	if input.DefaultCapacity < 0 {
		return nil, domain.InvalidSpec("default_capacity", "must be at least 1")
	}
	tz := input.Timezone
	if tz == "" {
		tz = s.defaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, domain.InvalidSpec("time_zone", "unknown timezone %q, use an IANA name such as Europe/Berlin", tz)
	}
	capacity := input.DefaultCapacity
	if capacity == 0 {
		capacity = 1
	}
	fields, err := s.checkFields(input.Fields)
	if err != nil {
		return nil, err
	}

	form := &domain.Form{
		OwnerID:         input.OwnerID,
		Title:           title,
		Location:        input.Location,
		Description:     input.Description,
		Timezone:        tz,
		DefaultCapacity: capacity,
		Status:          domain.FormStatusDraft,
		Fields:          fields,
	}
	if err := s.forms.Create(ctx, form); err != nil {
		return nil, err
	}
	log.Info().Str("form_id", form.ID.String()).Str("owner_id", form.OwnerID).Msg("form created")

	created := &CreatedForm{Form: form}
	if input.Schedule == nil {
		return created, nil
	}

	result, err := s.scheduler.AddSchedule(ctx, form.ID, *input.Schedule)
	if err != nil {
		if delErr := s.forms.Delete(ctx, form.ID); delErr != nil {
			log.Error().Err(delErr).Str("form_id", form.ID.String()).Msg("failed to remove form after rejected schedule")
		}
		return nil, err
	}
	created.Schedule = &result
	return created, nil
}

// checkFields validates the custom questions of a new form. Without explicit
// orders the fields keep the order they were given in.
func (s *FormService) checkFields(in []domain.FormField) ([]domain.FormField, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > MaxFields {
		return nil, domain.InvalidSpec("fields", "at most %d custom fields are allowed", MaxFields)
	}

	fields := make([]domain.FormField, len(in))
	ordered := false
	for i, f := range in {
		f.ID = uuid.Nil
		f.Name = strings.TrimSpace(f.Name)
		f.Label = strings.TrimSpace(f.Label)
		if err := s.validate.Struct(f); err != nil {
			return nil, fieldError(i, err)
		}
		ordered = ordered || f.Order != 0
		fields[i] = f
	}
	if err := domain.CheckFields(fields); err != nil {
		return nil, err
	}
	if !ordered {
		for i := range fields {
			fields[i].Order = i
		}
	}
	domain.SortFields(fields)
	return fields, nil
}

func fieldError(i int, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	path := fmt.Sprintf("fields[%d].%s", i, fe.Field())
	switch fe.Tag() {
	case "required":
		return domain.InvalidSpec(path, "is required")
	case "oneof":
		return domain.InvalidSpec(path, "must be one of %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return domain.InvalidSpec(path, "must be at most %s long", fe.Param())
	default:
		return domain.InvalidSpec(path, "failed %q validation", fe.Tag())
	}
}

// Get returns the form if ownerID owns it. Other owners get ErrNotFound.
func (s *FormService) Get(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error) {
	form, err := s.forms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form.OwnerID != ownerID {
		return nil, fmt.Errorf("form %s: %w", id, domain.ErrNotFound)
	}
	return form, nil
}

func (s *FormService) Publish(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error) {
	return s.transition(ctx, ownerID, id, domain.FormStatusPublished)
}

func (s *FormService) Archive(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Form, error) {
	return s.transition(ctx, ownerID, id, domain.FormStatusArchived)
}

// Delete removes the form with its slots, registrations and bookings.
func (s *FormService) Delete(ctx context.Context, ownerID string, id uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	if err := s.forms.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	log.Info().Str("form_id", id.String()).Msg("form deleted")
	return nil
}

func (s *FormService) transition(ctx context.Context, ownerID string, id uuid.UUID, to domain.FormStatus) (*domain.Form, error) {
	form, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !form.Status.CanTransition(to) {
		return nil, fmt.Errorf("form %s cannot go from %s to %s: %w", id, form.Status, to, domain.ErrInvalidTransition)
	}
	updated, err := s.forms.UpdateStatus(ctx, id, form.Status, to)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	log.Info().Str("form_id", id.String()).Str("status", string(to)).Msg("form status changed")
	return updated, nil
}

func (s *FormService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateForm(ctx, id); err != nil {
		log.Warn().Err(err).Str("form_id", id.String()).Msg("availability cache invalidation failed")
	}
}

var _ FormUseCase = (*FormService)(nil)
