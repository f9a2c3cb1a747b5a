package slots

import (
	"context"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/Domenick1991/signupslots/internal/repository"
	"github.com/Domenick1991/signupslots/internal/schedule"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type SlotUseCase interface {
	AddSchedule(ctx context.Context, formID uuid.UUID, spec domain.RecurrenceSpec) (domain.AddResult, error)
	RemoveSchedule(ctx context.Context, formID uuid.UUID, spec domain.RemovalSpec) (domain.RemovalResult, error)
	ListAvailable(ctx context.Context, query domain.AvailabilityQuery) (domain.SlotPage, error)
	AvailableByDate(ctx context.Context, query domain.AvailabilityQuery) (*DatedPage, error)
	Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error)
}

type Cache interface {
	// GetAvailability returns the cached page (nil on a miss) and the cache
	// version of the form that a following SetAvailability must carry.
	GetAvailability(ctx context.Context, q domain.AvailabilityQuery) (*domain.SlotPage, int64, error)
	SetAvailability(ctx context.Context, q domain.AvailabilityQuery, version int64, page domain.SlotPage) error
	InvalidateForm(ctx context.Context, formID uuid.UUID) error
}

type Producer interface {
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error
}

// DefaultPublishRetries is used when WithEvents is given no retry count.
const DefaultPublishRetries = 3

// Notifier tells open registration pages that availability changed.
type Notifier interface {
	AvailabilityChanged(formID uuid.UUID, reason string) error
}

type SlotService struct {
	slots           repository.SlotRepository
	forms           repository.FormRepository
	generator       *schedule.Generator
	cache           Cache
	producer        Producer
	notifier        Notifier
	scheduleTopic   string
	publishRetries  int
	maxSlotsPerForm int
	defaultTimezone string
	now             func() time.Time
}

type SlotServiceOption func(*SlotService)

func WithCache(cache Cache) SlotServiceOption {
	return func(s *SlotService) {
		s.cache = cache
	}
}

func WithEvents(producer Producer, topic string) SlotServiceOption {
	return func(s *SlotService) {
		s.producer = producer
		s.scheduleTopic = topic
	}
}

// WithPublishRetries sets how often a schedule_changed event is retried.
func WithPublishRetries(n int) SlotServiceOption {
	return func(s *SlotService) {
		if n > 0 {
			s.publishRetries = n
		}
	}
}

func WithNotifier(notifier Notifier) SlotServiceOption {
	return func(s *SlotService) {
		s.notifier = notifier
	}
}

func WithDefaultTimezone(tz string) SlotServiceOption {
	return func(s *SlotService) {
		s.defaultTimezone = tz
	}
}

func WithClock(now func() time.Time) SlotServiceOption {
	return func(s *SlotService) {
		s.now = now
	}
}

// NewSlotService builds the schedule mutator. maxSlotsPerForm <= 0 disables the ceiling.
func NewSlotService(
	slots repository.SlotRepository,
	forms repository.FormRepository,
	generator *schedule.Generator,
	maxSlotsPerForm int,
	opts ...SlotServiceOption,
) *SlotService {
	service := &SlotService{
		slots:           slots,
		forms:           forms,
		generator:       generator,
		maxSlotsPerForm: maxSlotsPerForm,
		publishRetries:  DefaultPublishRetries,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// AddSchedule generates the slots of spec and stores the ones the form does
// not have yet. The form must be a draft; the store checks this again under
// the form lock.
func (s *SlotService) AddSchedule(ctx context.Context, formID uuid.UUID, spec domain.RecurrenceSpec) (domain.AddResult, error) {
	form, err := s.editableForm(ctx, formID)
	if err != nil {
		return domain.AddResult{}, err
	}

	if spec.Timezone == "" {
		spec.Timezone = s.timezoneOf(form)
	}
	if spec.CapacityPerSlot == 0 {
		spec.CapacityPerSlot = form.DefaultCapacity
		if spec.CapacityPerSlot == 0 {
			spec.CapacityPerSlot = 1
		}
	}

	candidates, err := s.generator.Generate(spec, s.now())
	if err != nil {
		return domain.AddResult{}, err
	}

	result, err := s.slots.PersistNew(ctx, formID, candidates, spec.CapacityPerSlot, s.maxSlotsPerForm)
	if err != nil {
		return domain.AddResult{}, err
	}

	log.Info().
		Str("form_id", formID.String()).
		Int("added", result.Added).
		Int("skipped_existing", result.SkippedExisting).
		Msg("schedule added")
	if result.Added > 0 {
		s.changed(ctx, kafka.ScheduleChangedEvent{FormID: formID, Added: result.Added})
	}
	return result, nil
}

// RemoveSchedule deletes the unbooked slots matching spec. Booked slots stay
// and are counted in SkippedBooked.
func (s *SlotService) RemoveSchedule(ctx context.Context, formID uuid.UUID, spec domain.RemovalSpec) (domain.RemovalResult, error) {
	form, err := s.editableForm(ctx, formID)
	if err != nil {
		return domain.RemovalResult{}, err
	}
	if spec.Timezone == "" {
		spec.Timezone = s.timezoneOf(form)
	}

	filter, err := s.generator.CompileRemoval(spec)
	if err != nil {
		return domain.RemovalResult{}, err
	}

	result, err := s.slots.DeleteUnbooked(ctx, formID, filter)
	if err != nil {
		return domain.RemovalResult{}, err
	}

	log.Info().
		Str("form_id", formID.String()).
		Int("removed", result.Removed).
		Int("skipped_booked", result.SkippedBooked).
		Msg("schedule removed")
	if result.Removed > 0 {
		s.changed(ctx, kafka.ScheduleChangedEvent{FormID: formID, Removed: result.Removed, SkippedBooked: result.SkippedBooked})
	}
	return result, nil
}

// ListAvailable returns upcoming slots that still have capacity. The first
// page of a query anchored at the current time is served from the cache;
// later pages shift whenever an earlier slot starts and are always read from
// the store.
func (s *SlotService) ListAvailable(ctx context.Context, query domain.AvailabilityQuery) (domain.SlotPage, error) {
	live := query.AsOf.IsZero()
	if live {
		query.AsOf = s.now()
	}
	query.Limit = query.PageSize()
	if query.Offset < 0 {
		query.Offset = 0
	}

	cached := live && query.Offset == 0 && s.cache != nil
	var version int64
	if cached {
		page, v, err := s.cache.GetAvailability(ctx, query)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("form_id", query.FormID.String()).Msg("availability cache read failed")
			cached = false
		case page != nil:
			return *page, nil
		}
		version = v
	}

	page, err := s.slots.ListAvailable(ctx, query)
	if err != nil {
		return domain.SlotPage{}, err
	}

	if cached {
		if err := s.cache.SetAvailability(ctx, query, version, page); err != nil {
			log.Warn().Err(err).Str("form_id", query.FormID.String()).Msg("availability cache write failed")
		}
	}
	return page, nil
}

func (s *SlotService) Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error) {
	if _, err := s.forms.GetByID(ctx, formID); err != nil {
		return domain.SlotStats{}, err
	}
	return s.slots.Stats(ctx, formID)
}

func (s *SlotService) editableForm(ctx context.Context, formID uuid.UUID) (*domain.Form, error) {
	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !form.Editable() {
		return nil, &domain.FormNotEditableError{FormID: formID, Status: form.Status}
	}
	return form, nil
}

func (s *SlotService) timezoneOf(form *domain.Form) string {
	if form.Timezone != "" {
		return form.Timezone
	}
	return s.defaultTimezone
}

// changed fans out a schedule change. Failures are logged: the change is
// already committed.
func (s *SlotService) changed(ctx context.Context, event kafka.ScheduleChangedEvent) {
	if s.cache != nil {
		if err := s.cache.InvalidateForm(ctx, event.FormID); err != nil {
			log.Warn().Err(err).Str("form_id", event.FormID.String()).Msg("availability cache invalidation failed")
		}
	}
	if s.producer != nil && s.scheduleTopic != "" {
		event.Type = kafka.EventScheduleChanged
		event.OccurredAt = s.now().UTC()
		if err := s.producer.PublishWithRetry(ctx, s.scheduleTopic, event.FormID.String(), event, s.publishRetries); err != nil {
			log.Warn().Err(err).Str("form_id", event.FormID.String()).Msg("failed to publish schedule_changed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.AvailabilityChanged(event.FormID, kafka.EventScheduleChanged); err != nil {
			log.Warn().Err(err).Str("form_id", event.FormID.String()).Msg("availability ping failed")
		}
	}
}

var _ SlotUseCase = (*SlotService)(nil)
