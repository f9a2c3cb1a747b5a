package forms

import (
	"context"
	"testing"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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

type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) AddSchedule(ctx context.Context, formID uuid.UUID, spec domain.RecurrenceSpec) (domain.AddResult, error) {
	args := m.Called(ctx, formID, spec)
	return args.Get(0).(domain.AddResult), args.Error(1)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) InvalidateForm(ctx context.Context, formID uuid.UUID) error {
	args := m.Called(ctx, formID)
	return args.Error(0)
}

func TestFormService_Create_WithSchedule(t *testing.T) {
	forms, scheduler := &MockFormRepository{}, &MockScheduler{}
	formID := uuid.New()
	spec := domain.RecurrenceSpec{SlotMinutes: 30}

	forms.On("Create", mock.Anything, mock.MatchedBy(func(f *domain.Form) bool {
		return f.Title == "Tutoring" && f.Timezone == "America/Chicago" && f.DefaultCapacity == 1 && f.Status == domain.FormStatusDraft
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Form).ID = formID
	}).Return(nil)
	scheduler.On("AddSchedule", mock.Anything, formID, spec).Return(domain.AddResult{Added: 8}, nil)

	created, err := NewFormService(forms, scheduler, nil, "America/Chicago").Create(context.Background(), CreateFormInput{
		OwnerID: "owner", Title: " Tutoring ", Schedule: &spec,
	})

	require.NoError(t, err)
	assert.Equal(t, formID, created.Form.ID)
	require.NotNil(t, created.Schedule)
	assert.Equal(t, 8, created.Schedule.Added)
	forms.AssertExpectations(t)
}

func TestFormService_Create_RejectedScheduleRemovesDraft(t *testing.T) {
	forms, scheduler := &MockFormRepository{}, &MockScheduler{}
	formID := uuid.New()
	spec := domain.RecurrenceSpec{}

	forms.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Form).ID = formID
	}).Return(nil)
	scheduler.On("AddSchedule", mock.Anything, formID, spec).Return(domain.AddResult{}, domain.InvalidSpec("days_of_week", "is required"))
	forms.On("Delete", mock.Anything, formID).Return(nil)

	_, err := NewFormService(forms, scheduler, nil, "UTC").Create(context.Background(), CreateFormInput{OwnerID: "owner", Title: "x", Schedule: &spec})

	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
	forms.AssertExpectations(t)
}

func TestFormService_Create_Invalid(t *testing.T) {
	svc := NewFormService(&MockFormRepository{}, &MockScheduler{}, nil, "UTC")

	_, err := svc.Create(context.Background(), CreateFormInput{OwnerID: "o"})
	var invalid *domain.InvalidSpecError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "title", invalid.Field)

	_, err = svc.Create(context.Background(), CreateFormInput{OwnerID: "o", Title: "x", Timezone: "Mars/Olympus"})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "time_zone", invalid.Field)
}

func TestFormService_Create_WithFields(t *testing.T) {
	forms := &MockFormRepository{}
	forms.On("Create", mock.Anything, mock.MatchedBy(func(f *domain.Form) bool {
		return len(f.Fields) == 2 &&
			f.Fields[0].Name == "guest_count" && f.Fields[0].Order == 0 &&
			f.Fields[1].Name == "meal" && f.Fields[1].Order == 1 && f.Fields[1].Label == "Meal"
	})).Return(nil)

	created, err := NewFormService(forms, &MockScheduler{}, nil, "UTC").Create(context.Background(), CreateFormInput{
		OwnerID: "owner",
		Title:   "Dinner",
		Fields: []domain.FormField{
			{Name: "guest_count", Type: domain.FieldNumber, Label: "Guests", Required: true},
			{Name: " meal ", Type: domain.FieldSelect, Label: " Meal ", Options: []string{"fish", "veggie"}},
		},
	})

	require.NoError(t, err)
	assert.Len(t, created.Form.Fields, 2)
	forms.AssertExpectations(t)
}

func TestFormService_Create_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []domain.FormField
		field  string
	}{
		{"missing label", []domain.FormField{{Name: "a", Type: domain.FieldText}}, "fields[0].label"},
		{"unknown type", []domain.FormField{{Name: "a", Type: "date", Label: "A"}}, "fields[0].type"},
		{"empty option", []domain.FormField{{Name: "a", Type: domain.FieldSelect, Label: "A", Options: []string{""}}}, "fields[0].options[0]"},
		{"duplicate", []domain.FormField{{Name: "a", Type: domain.FieldText, Label: "A"}, {Name: "a", Type: domain.FieldText, Label: "B"}}, "fields[1].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forms := &MockFormRepository{}
			_, err := NewFormService(forms, &MockScheduler{}, nil, "UTC").Create(context.Background(), CreateFormInput{
				OwnerID: "owner", Title: "Dinner", Fields: tt.fields,
			})

			var invalid *domain.InvalidSpecError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			forms.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		})
	}
}

func TestFormService_Publish(t *testing.T) {
	forms, cache := &MockFormRepository{}, &MockCache{}
	form := &domain.Form{ID: uuid.New(), OwnerID: "owner", Status: domain.FormStatusDraft}
	published := *form
	published.Status = domain.FormStatusPublished

	forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	forms.On("UpdateStatus", mock.Anything, form.ID, domain.FormStatusDraft, domain.FormStatusPublished).Return(&published, nil)
	cache.On("InvalidateForm", mock.Anything, form.ID).Return(nil)

	got, err := NewFormService(forms, &MockScheduler{}, cache, "UTC").Publish(context.Background(), "owner", form.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.FormStatusPublished, got.Status)
	cache.AssertExpectations(t)
}

func TestFormService_Publish_InvalidTransition(t *testing.T) {
	forms := &MockFormRepository{}
	form := &domain.Form{ID: uuid.New(), OwnerID: "owner", Status: domain.FormStatusArchived}
	forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)

	_, err := NewFormService(forms, &MockScheduler{}, nil, "UTC").Publish(context.Background(), "owner", form.ID)

	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	forms.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFormService_OtherOwnerSeesNotFound(t *testing.T) {
	forms := &MockFormRepository{}
	form := &domain.Form{ID: uuid.New(), OwnerID: "owner", Status: domain.FormStatusDraft}
	forms.On("GetByID", mock.Anything, form.ID).Return(form, nil)
	svc := NewFormService(forms, &MockScheduler{}, nil, "UTC")

	_, err := svc.Get(context.Background(), "intruder", form.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = svc.Delete(context.Background(), "intruder", form.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	forms.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
