package slots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/kafka"
	"github.com/Domenick1991/signupslots/internal/schedule"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock структуры

type MockSlotRepository struct {
	mock.Mock
}

func (m *MockSlotRepository) PersistNew(ctx context.Context, formID uuid.UUID, candidates []domain.SlotWindow, capacity, maxPerForm int) (domain.AddResult, error) {
	args := m.Called(ctx, formID, candidates, capacity, maxPerForm)
	return args.Get(0).(domain.AddResult), args.Error(1)
}

func (m *MockSlotRepository) ListAvailable(ctx context.Context, query domain.AvailabilityQuery) (domain.SlotPage, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(domain.SlotPage), args.Error(1)
}

func (m *MockSlotRepository) DeleteUnbooked(ctx context.Context, formID uuid.UUID, filter domain.SlotFilter) (domain.RemovalResult, error) {
	args := m.Called(ctx, formID, filter)
	return args.Get(0).(domain.RemovalResult), args.Error(1)
}

func (m *MockSlotRepository) Reserve(ctx context.Context, formID, registrationID uuid.UUID, slotIDs []uuid.UUID) (*domain.Reservation, error) {
	args := m.Called(ctx, formID, registrationID, slotIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockSlotRepository) BookedForRegistration(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error) {
	args := m.Called(ctx, registrationID)
	return args.Get(0).([]domain.Slot), args.Error(1)
}

func (m *MockSlotRepository) Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error) {
	args := m.Called(ctx, formID)
	return args.Get(0).(domain.SlotStats), args.Error(1)
}

type MockFormRepository struct {
	mock.Mock
}

func (m *MockFormRepository) Create(ctx context.Context, form *domain.Form) error {
	args := m.Called(ctx, form)
	return args.Error(0)
}

func (m *MockFormRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Form, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Form), args.Error(1)
}

func (m *MockFormRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.FormStatus) (*domain.Form, error) {
	args := m.Called(ctx, id, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Form), args.Error(1)
}

func (m *MockFormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockFormRepository) ListByStatus(ctx context.Context, status domain.FormStatus) ([]domain.Form, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]domain.Form), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetAvailability(ctx context.Context, q domain.AvailabilityQuery) (*domain.SlotPage, int64, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).(*domain.SlotPage), args.Get(1).(int64), args.Error(2)
}

func (m *MockCache) SetAvailability(ctx context.Context, q domain.AvailabilityQuery, version int64, page domain.SlotPage) error {
	args := m.Called(ctx, q, version, page)
	return args.Error(0)
}

func (m *MockCache) InvalidateForm(ctx context.Context, formID uuid.UUID) error {
	args := m.Called(ctx, formID)
	return args.Error(0)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error {
	args := m.Called(ctx, topic, key, value, maxRetries)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) AvailabilityChanged(formID uuid.UUID, reason string) error {
	args := m.Called(formID, reason)
	return args.Error(0)
}

// ============================ Тесты для SlotService ============================

var testNow = time.Date(2030, time.January, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	slots    *MockSlotRepository
	forms    *MockFormRepository
	cache    *MockCache
	producer *MockProducer
	notifier *MockNotifier
	service  *SlotService
}

func newFixture() *fixture {
	f := &fixture{
		slots:    &MockSlotRepository{},
		forms:    &MockFormRepository{},
		cache:    &MockCache{},
		producer: &MockProducer{},
		notifier: &MockNotifier{},
	}
	f.service = NewSlotService(f.slots, f.forms, schedule.NewGenerator(), 100,
		WithCache(f.cache),
		WithEvents(f.producer, "schedule"),
		WithPublishRetries(5),
		WithNotifier(f.notifier),
		WithDefaultTimezone("UTC"),
		WithClock(func() time.Time { return testNow }),
	)
	return f
}

func draftForm(status domain.FormStatus) *domain.Form {
	return &domain.Form{ID: uuid.New(), OwnerID: "owner", Title: "Lessons", Timezone: "Europe/Berlin", DefaultCapacity: 3, Status: status}
}

func mondayMorning(t *testing.T) domain.RecurrenceSpec {
	start, err := domain.ParseClockTime("09:00")
	require.NoError(t, err)
	end, err := domain.ParseClockTime("11:00")
	require.NoError(t, err)
	from, err := domain.ParseDate("2030-01-07")
	require.NoError(t, err)
	return domain.RecurrenceSpec{
		DaysOfWeek:   []domain.Weekday{domain.Weekday(time.Monday)},
		WindowStart:  start,
		WindowEnd:    end,
		SlotMinutes:  60,
		StartFrom:    from,
		HorizonWeeks: 1,
	}
}

func TestSlotService_AddSchedule_Success(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusDraft)
	expected := []domain.SlotWindow{
		{StartAt: time.Date(2030, time.January, 7, 8, 0, 0, 0, time.UTC), EndAt: time.Date(2030, time.January, 7, 9, 0, 0, 0, time.UTC)},
		{StartAt: time.Date(2030, time.January, 7, 9, 0, 0, 0, time.UTC), EndAt: time.Date(2030, time.January, 7, 10, 0, 0, 0, time.UTC)},
	}

	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	f.slots.On("PersistNew", mock.Anything, form.ID, expected, 3, 100).Return(domain.AddResult{Added: 2}, nil)
	f.cache.On("InvalidateForm", mock.Anything, form.ID).Return(nil)
	f.producer.On("PublishWithRetry", mock.Anything, "schedule", form.ID.String(), mock.MatchedBy(func(e kafka.ScheduleChangedEvent) bool {
		return e.Type == kafka.EventScheduleChanged && e.Added == 2
	}), 5).Return(nil)
	f.notifier.On("AvailabilityChanged", form.ID, kafka.EventScheduleChanged).Return(nil)

	result, err := f.service.AddSchedule(context.Background(), form.ID, mondayMorning(t))

	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	f.forms.AssertExpectations(t)
	f.slots.AssertExpectations(t)
	f.cache.AssertExpectations(t)
	f.producer.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestSlotService_AddSchedule_NothingNewSkipsEvents(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusDraft)

	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	f.slots.On("PersistNew", mock.Anything, form.ID, mock.Anything, 3, 100).Return(domain.AddResult{SkippedExisting: 2}, nil)

	result, err := f.service.AddSchedule(context.Background(), form.ID, mondayMorning(t))

	require.NoError(t, err)
	assert.Equal(t, "Timeslots: 0 added (2 existing)", result.Summary())
	f.cache.AssertNotCalled(t, "InvalidateForm", mock.Anything, mock.Anything)
	f.producer.AssertNotCalled(t, "PublishWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_AddSchedule_FormNotEditable(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusPublished)
	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)

	_, err := f.service.AddSchedule(context.Background(), form.ID, mondayMorning(t))

	assert.ErrorIs(t, err, domain.ErrFormNotEditable)
	f.slots.AssertNotCalled(t, "PersistNew", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_AddSchedule_InvalidSpec(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusDraft)
	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)

	spec := mondayMorning(t)
	spec.SlotMinutes = 50

	_, err := f.service.AddSchedule(context.Background(), form.ID, spec)

	var invalid *domain.InvalidSpecError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "slot_minutes", invalid.Field)
	f.slots.AssertNotCalled(t, "PersistNew", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_AddSchedule_CeilingExceeded(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusDraft)
	ceiling := &domain.CapacityExceededError{Existing: 99, Adding: 2, Limit: 100}

	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	f.slots.On("PersistNew", mock.Anything, form.ID, mock.Anything, 3, 100).Return(domain.AddResult{}, ceiling)

	_, err := f.service.AddSchedule(context.Background(), form.ID, mondayMorning(t))

	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	f.producer.AssertNotCalled(t, "PublishWithRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_AddSchedule_FormMissing(t *testing.T) {
	f := newFixture()
	id := uuid.New()
	f.forms.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound)

	_, err := f.service.AddSchedule(context.Background(), id, mondayMorning(t))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSlotService_RemoveSchedule(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusDraft)

	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	f.slots.On("DeleteUnbooked", mock.Anything, form.ID, mock.MatchedBy(func(filter domain.SlotFilter) bool {
		return filter.Location.String() == "Europe/Berlin" && filter.Weekdays[time.Friday] && !filter.HasWindow()
	})).Return(domain.RemovalResult{Removed: 3, SkippedBooked: 2}, nil)
	f.cache.On("InvalidateForm", mock.Anything, form.ID).Return(nil)
	f.producer.On("PublishWithRetry", mock.Anything, "schedule", form.ID.String(), mock.MatchedBy(func(e kafka.ScheduleChangedEvent) bool {
		return e.Removed == 3 && e.SkippedBooked == 2
	}), 5).Return(nil)
	f.notifier.On("AvailabilityChanged", form.ID, kafka.EventScheduleChanged).Return(errors.New("broker offline"))

	result, err := f.service.RemoveSchedule(context.Background(), form.ID, domain.RemovalSpec{
		DaysOfWeek: []domain.Weekday{domain.Weekday(time.Friday)},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.RemovalResult{Removed: 3, SkippedBooked: 2}, result)
	assert.Equal(t, "Timeslots: 3 removed; 2 matching slots were already booked and were kept", result.Summary())
	f.slots.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

func TestSlotService_RemoveSchedule_FormNotEditable(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusArchived)
	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)

	_, err := f.service.RemoveSchedule(context.Background(), form.ID, domain.RemovalSpec{
		DaysOfWeek: []domain.Weekday{domain.Weekday(time.Friday)},
	})

	var notEditable *domain.FormNotEditableError
	require.ErrorAs(t, err, &notEditable)
	assert.Equal(t, domain.FormStatusArchived, notEditable.Status)
}

func TestSlotService_ListAvailable_CacheHit(t *testing.T) {
	f := newFixture()
	formID := uuid.New()
	cached := &domain.SlotPage{Slots: []domain.Slot{{ID: uuid.New(), FormID: formID}}}

	f.cache.On("GetAvailability", mock.Anything, mock.MatchedBy(func(q domain.AvailabilityQuery) bool {
		return q.AsOf.Equal(testNow) && q.Limit == domain.MaxPageSize
	})).Return(cached, int64(4), nil)

	page, err := f.service.ListAvailable(context.Background(), domain.AvailabilityQuery{FormID: formID})

	require.NoError(t, err)
	assert.Equal(t, *cached, page)
	f.slots.AssertNotCalled(t, "ListAvailable", mock.Anything, mock.Anything)
}

func TestSlotService_ListAvailable_CacheMiss(t *testing.T) {
	f := newFixture()
	formID := uuid.New()
	stored := domain.SlotPage{Slots: []domain.Slot{{ID: uuid.New(), FormID: formID}}, HasMore: true}

	f.cache.On("GetAvailability", mock.Anything, mock.Anything).Return(nil, int64(7), nil)
	f.slots.On("ListAvailable", mock.Anything, mock.MatchedBy(func(q domain.AvailabilityQuery) bool {
		return q.FormID == formID && q.Limit == 10 && q.Offset == 0
	})).Return(stored, nil)
	f.cache.On("SetAvailability", mock.Anything, mock.Anything, int64(7), stored).Return(nil)

	page, err := f.service.ListAvailable(context.Background(), domain.AvailabilityQuery{FormID: formID, Limit: 10, Offset: -5})

	require.NoError(t, err)
	assert.True(t, page.HasMore)
	f.cache.AssertExpectations(t)
}

func TestSlotService_ListAvailable_ExplicitAsOfBypassesCache(t *testing.T) {
	f := newFixture()
	formID := uuid.New()
	asOf := testNow.Add(48 * time.Hour)
	f.slots.On("ListAvailable", mock.Anything, mock.MatchedBy(func(q domain.AvailabilityQuery) bool {
		return q.AsOf.Equal(asOf)
	})).Return(domain.SlotPage{Slots: []domain.Slot{}}, nil)

	_, err := f.service.ListAvailable(context.Background(), domain.AvailabilityQuery{FormID: formID, AsOf: asOf})

	require.NoError(t, err)
	f.cache.AssertNotCalled(t, "GetAvailability", mock.Anything, mock.Anything)
}

func TestSlotService_ListAvailable_LaterPagesBypassCache(t *testing.T) {
	f := newFixture()
	formID := uuid.New()
	f.slots.On("ListAvailable", mock.Anything, mock.MatchedBy(func(q domain.AvailabilityQuery) bool {
		return q.Offset == 20
	})).Return(domain.SlotPage{Slots: []domain.Slot{}}, nil)

	_, err := f.service.ListAvailable(context.Background(), domain.AvailabilityQuery{FormID: formID, Limit: 20, Offset: 20})

	require.NoError(t, err)
	f.cache.AssertNotCalled(t, "GetAvailability", mock.Anything, mock.Anything)
	f.cache.AssertNotCalled(t, "SetAvailability", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_ListAvailable_CacheReadErrorSkipsWrite(t *testing.T) {
	f := newFixture()
	formID := uuid.New()
	f.cache.On("GetAvailability", mock.Anything, mock.Anything).Return(nil, int64(0), errors.New("redis down"))
	f.slots.On("ListAvailable", mock.Anything, mock.Anything).Return(domain.SlotPage{Slots: []domain.Slot{}}, nil)

	_, err := f.service.ListAvailable(context.Background(), domain.AvailabilityQuery{FormID: formID})

	require.NoError(t, err)
	f.cache.AssertNotCalled(t, "SetAvailability", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSlotService_Stats(t *testing.T) {
	f := newFixture()
	form := draftForm(domain.FormStatusPublished)
	f.forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	f.slots.On("Stats", mock.Anything, form.ID).Return(domain.SlotStats{FormID: form.ID, TotalSlots: 4}, nil)

	stats, err := f.service.Stats(context.Background(), form.ID)

	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSlots)
}
