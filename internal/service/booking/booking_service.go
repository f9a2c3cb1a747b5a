package booking

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Domenick1991/signupslots/internal/calendar"
	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/Domenick1991/signupslots/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type BookingUseCase interface {
	Reserve(ctx context.Context, input ReserveInput) (*domain.Reservation, error)
	Register(ctx context.Context, input RegisterInput) (*Confirmation, error)
	BookedSlots(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error)
	CalendarICS(ctx context.Context, registrationID uuid.UUID) (string, error)
}

type Cache interface {
	InvalidateForm(ctx context.Context, formID uuid.UUID) error
}

type Producer interface {
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error
}

// DefaultPublishRetries is used when no retry count is configured.
const DefaultPublishRetries = 3

type Notifier interface {
	AvailabilityChanged(formID uuid.UUID, reason string) error
}

type BookingService struct {
	slots              repository.SlotRepository
	forms              repository.FormRepository
	registrations      repository.RegistrationRepository
	cache              Cache
	producer           Producer
	notifier           Notifier
	bookingTopic       string
	notificationsTopic string
	publishRetries     int
	validate           *validator.Validate
	now                func() time.Time
}

type ReserveInput struct {
	FormID         uuid.UUID   `json:"form_id"`
	RegistrationID uuid.UUID   `json:"registration_id"`
	SlotIDs        []uuid.UUID `json:"slot_ids" validate:"required,min=1"`
}

type RegisterInput struct {
	FormID  uuid.UUID      `json:"form_id"`
	Name    string         `json:"name" validate:"required,max=200"`
	Email   string         `json:"email" validate:"required,email"`
	SlotIDs []uuid.UUID    `json:"slot_ids" validate:"required,min=1"`
	Answers map[string]any `json:"answers,omitempty"`
}

// Confirmation is the result of a public registration.
type Confirmation struct {
	Registration *domain.Registration `json:"registration"`
	Reservation  *domain.Reservation  `json:"reservation"`
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

// WithPublishRetries sets how often booking events are retried.
func WithPublishRetries(n int) BookingServiceOption {
	return func(s *BookingService) {
		if n > 0 {
			s.publishRetries = n
		}
	}
}

func WithNotifier(notifier Notifier) BookingServiceOption {
	return func(s *BookingService) {
		s.notifier = notifier
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	slots repository.SlotRepository,
	forms repository.FormRepository,
	registrations repository.RegistrationRepository,
	cache Cache,
	producer Producer,
	bookingTopic string,
	opts ...BookingServiceOption,
) *BookingService {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	service := &BookingService{
		slots:          slots,
		forms:          forms,
		registrations:  registrations,
		cache:          cache,
		producer:       producer,
		bookingTopic:   bookingTopic,
		publishRetries: DefaultPublishRetries,
		validate:       validate,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Reserve books one unit on every requested slot for an existing
// registration, or on none. Repeating a successful call is a no-op. Only
// published forms take bookings; the store checks this again inside the
// reservation transaction.
func (s *BookingService) Reserve(ctx context.Context, input ReserveInput) (*domain.Reservation, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	form, err := s.openForm(ctx, input.FormID)
	if err != nil {
		return nil, err
	}

	res, err := s.slots.Reserve(ctx, input.FormID, input.RegistrationID, input.SlotIDs)
	if err != nil {
		logReserveFailure(input.FormID, input.RegistrationID, err)
		return nil, err
	}
	if len(res.NewlyBooked) == 0 {
		return res, nil
	}

	reg, err := s.registrations.GetByID(ctx, input.RegistrationID)
	if err != nil {
		log.Warn().Err(err).Str("registration_id", input.RegistrationID.String()).Msg("booked, but registration lookup for events failed")
		s.invalidate(ctx, input.FormID)
		return res, nil
	}
	s.booked(ctx, form, reg, res)
	return res, nil
}

// Register creates a registration on a published form and reserves its slot
// selection. If the reservation fails the registration is removed again.
func (s *BookingService) Register(ctx context.Context, input RegisterInput) (*Confirmation, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	form, err := s.openForm(ctx, input.FormID)
	if err != nil {
		return nil, err
	}
	answers, err := domain.CheckAnswers(form.Fields, input.Answers)
	if err != nil {
		return nil, err
	}

	reg := &domain.Registration{
		FormID:  form.ID,
		Name:    strings.TrimSpace(input.Name),
		Email:   strings.TrimSpace(input.Email),
		Answers: answers,
	}
	if err := s.registrations.Create(ctx, reg); err != nil {
		return nil, err
	}

	res, err := s.slots.Reserve(ctx, form.ID, reg.ID, input.SlotIDs)
	if err != nil {
		logReserveFailure(form.ID, reg.ID, err)
		if delErr := s.registrations.Delete(ctx, reg.ID); delErr != nil {
			log.Error().Err(delErr).Str("registration_id", reg.ID.String()).Msg("failed to remove registration after failed reservation")
		} else {
			s.invalidate(ctx, form.ID)
		}
		return nil, err
	}

	s.booked(ctx, form, reg, res)
	return &Confirmation{Registration: reg, Reservation: res}, nil
}

func (s *BookingService) openForm(ctx context.Context, formID uuid.UUID) (*domain.Form, error) {
	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.Status.AcceptsRegistrations() {
		return nil, fmt.Errorf("form %s is %s: %w", form.ID, form.Status, domain.ErrFormClosed)
	}
	return form, nil
}

// BookedSlots is the read query for notification and analytics consumers.
func (s *BookingService) BookedSlots(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error) {
	if _, err := s.registrations.GetByID(ctx, registrationID); err != nil {
		return nil, err
	}
	return s.slots.BookedForRegistration(ctx, registrationID)
}

func (s *BookingService) CalendarICS(ctx context.Context, registrationID uuid.UUID) (string, error) {
	reg, err := s.registrations.GetByID(ctx, registrationID)
	if err != nil {
		return "", err
	}
	form, err := s.forms.GetByID(ctx, reg.FormID)
	if err != nil {
		return "", err
	}
	slots, err := s.slots.BookedForRegistration(ctx, registrationID)
	if err != nil {
		return "", err
	}

	events := make([]calendar.Event, 0, len(slots))
	for _, slot := range slots {
		events = append(events, calendar.Event{
			SlotID:      slot.ID,
			StartAt:     slot.StartAt,
			EndAt:       slot.EndAt,
			Summary:     form.Title,
			Location:    form.Location,
			Description: form.Description,
		})
	}
	return calendar.Build(events, s.now()), nil
}

func (s *BookingService) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "min":
		if fe.Field() == "slot_ids" {
			return domain.InvalidSpec(fe.Field(), "pick at least one time slot")
		}
		return domain.InvalidSpec(fe.Field(), "is required")
	case "email":
		return domain.InvalidSpec(fe.Field(), "must be a valid email address")
	default:
		return domain.InvalidSpec(fe.Field(), "failed %q validation", fe.Tag())
	}
}

// booked fans out a committed reservation. Failures are logged only.
func (s *BookingService) booked(ctx context.Context, form *domain.Form, reg *domain.Registration, res *domain.Reservation) {
	log.Info().
		Str("form_id", form.ID.String()).
		Str("registration_id", reg.ID.String()).
		Int("newly_booked", len(res.NewlyBooked)).
		Int("already_booked", len(res.AlreadyBooked)).
		Msg("slots reserved")

	if len(res.NewlyBooked) == 0 {
		return
	}
	s.invalidate(ctx, form.ID)
	if s.notifier != nil {
		if err := s.notifier.AvailabilityChanged(form.ID, kafka.EventSlotsBooked); err != nil {
			log.Warn().Err(err).Str("form_id", form.ID.String()).Msg("availability ping failed")
		}
	}
	if err := s.publish(ctx, newBookedEvent(form, reg, res, s.now())); err != nil {
		log.Warn().Err(err).Str("registration_id", reg.ID.String()).Msg("failed to publish slots_booked event")
	}
}

func (s *BookingService) invalidate(ctx context.Context, formID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateForm(ctx, formID); err != nil {
		log.Warn().Err(err).Str("form_id", formID.String()).Msg("availability cache invalidation failed")
	}
}

func (s *BookingService) publish(ctx context.Context, event kafka.SlotsBookedEvent) error {
	if s.producer == nil || s.bookingTopic == "" {
		return nil
	}
	key := event.RegistrationID.String()
	if err := s.producer.PublishWithRetry(ctx, s.bookingTopic, key, event, s.publishRetries); err != nil {
		return err
	}
	if s.notificationsTopic != "" {
		return s.producer.PublishWithRetry(ctx, s.notificationsTopic, key, event, s.publishRetries)
	}
	return nil
}

func newBookedEvent(form *domain.Form, reg *domain.Registration, res *domain.Reservation, now time.Time) kafka.SlotsBookedEvent {
	slots := make([]kafka.BookedSlot, 0, len(res.Slots))
	for _, slot := range res.Slots {
		slots = append(slots, kafka.BookedSlot{SlotID: slot.ID, StartAt: slot.StartAt, EndAt: slot.EndAt})
	}
	return kafka.SlotsBookedEvent{
		Type:           kafka.EventSlotsBooked,
		FormID:         form.ID,
		FormTitle:      form.Title,
		Location:       form.Location,
		Timezone:       form.Timezone,
		RegistrationID: reg.ID,
		Name:           reg.Name,
		Email:          reg.Email,
		Answers:        reg.Answers,
		Slots:          slots,
		OccurredAt:     now.UTC(),
	}
}

func logReserveFailure(formID, registrationID uuid.UUID, err error) {
	event := log.Warn()
	var unavailable *domain.CapacityUnavailableError
	if errors.As(err, &unavailable) {
		ids := make([]string, 0, len(unavailable.SlotIDs))
		for _, id := range unavailable.SlotIDs {
			ids = append(ids, id.String())
		}
		event = event.Strs("slot_ids", ids)
	}
	event.Err(err).
		Str("form_id", formID.String()).
		Str("registration_id", registrationID.String()).
		Msg("reservation rejected")
}

var _ BookingUseCase = (*BookingService)(nil)
