package slots_service_api

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/service/booking"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// Mock структуры
type MockSlotUseCase struct {
	mock.Mock
}

func (m *MockSlotUseCase) AddSchedule(ctx context.Context, formID uuid.UUID, spec domain.RecurrenceSpec) (domain.AddResult, error) {
	args := m.Called(ctx, formID, spec)
	return args.Get(0).(domain.AddResult), args.Error(1)
}

func (m *MockSlotUseCase) RemoveSchedule(ctx context.Context, formID uuid.UUID, spec domain.RemovalSpec) (domain.RemovalResult, error) {
	args := m.Called(ctx, formID, spec)
	return args.Get(0).(domain.RemovalResult), args.Error(1)
}

func (m *MockSlotUseCase) ListAvailable(ctx context.Context, query domain.AvailabilityQuery) (domain.SlotPage, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(domain.SlotPage), args.Error(1)
}

func (m *MockSlotUseCase) AvailableByDate(ctx context.Context, query domain.AvailabilityQuery) (*slots.DatedPage, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*slots.DatedPage), args.Error(1)
}

func (m *MockSlotUseCase) Stats(ctx context.Context, formID uuid.UUID) (domain.SlotStats, error) {
	args := m.Called(ctx, formID)
	return args.Get(0).(domain.SlotStats), args.Error(1)
}

type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) Reserve(ctx context.Context, input booking.ReserveInput) (*domain.Reservation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockBookingUseCase) Register(ctx context.Context, input booking.RegisterInput) (*booking.Confirmation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*booking.Confirmation), args.Error(1)
}

func (m *MockBookingUseCase) BookedSlots(ctx context.Context, registrationID uuid.UUID) ([]domain.Slot, error) {
	args := m.Called(ctx, registrationID)
	return args.Get(0).([]domain.Slot), args.Error(1)
}

func (m *MockBookingUseCase) CalendarICS(ctx context.Context, registrationID uuid.UUID) (string, error) {
	args := m.Called(ctx, registrationID)
	return args.String(0), args.Error(1)
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

// dial serves srv on an in-memory listener and returns a connected client.
func dial(t *testing.T, srv SlotsServiceServer) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	grpcServer := grpc.NewServer()
	Register(grpcServer, srv)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ============================ Тесты для ListAvailable ============================

func TestServer_ListAvailable(t *testing.T) {
	slotService := &MockSlotUseCase{}
	server := NewServer(slotService, &MockBookingUseCase{})
	formID := uuid.New()
	start := time.Date(2030, time.March, 4, 22, 0, 0, 0, time.UTC)

	slotService.On("ListAvailable", mock.Anything, domain.AvailabilityQuery{FormID: formID, Limit: 10, Offset: 5}).
		Return(domain.SlotPage{
			Slots:   []domain.Slot{{ID: uuid.New(), FormID: formID, StartAt: start, EndAt: start.Add(30 * time.Minute), Capacity: 2}},
			HasMore: true,
		}, nil)

	resp, err := server.ListAvailable(context.Background(), mustStruct(t, map[string]any{
		"form_id": formID.String(),
		"limit":   10,
		"offset":  5,
	}))

	require.NoError(t, err)
	assert.True(t, resp.Fields["has_more"].GetBoolValue())
	assert.Len(t, resp.Fields["slots"].GetListValue().GetValues(), 1)
	slotService.AssertExpectations(t)
}

func TestServer_ListAvailable_BadFormID(t *testing.T) {
	server := NewServer(&MockSlotUseCase{}, &MockBookingUseCase{})

	_, err := server.ListAvailable(context.Background(), mustStruct(t, map[string]any{"form_id": "nope"}))

	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// ============================ Тесты для Reserve ============================

func TestServer_Reserve_OverGRPC(t *testing.T) {
	bookingService := &MockBookingUseCase{}
	conn := dial(t, NewServer(&MockSlotUseCase{}, bookingService))
	formID, regID, slotID := uuid.New(), uuid.New(), uuid.New()

	bookingService.On("Reserve", mock.Anything, booking.ReserveInput{FormID: formID, RegistrationID: regID, SlotIDs: []uuid.UUID{slotID}}).
		Return(&domain.Reservation{RegistrationID: regID, FormID: formID, NewlyBooked: []uuid.UUID{slotID}}, nil)

	req := mustStruct(t, map[string]any{
		"form_id":         formID.String(),
		"registration_id": regID.String(),
		"slot_ids":        []any{slotID.String()},
	})
	resp := new(structpb.Struct)
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/Reserve", req, resp)

	require.NoError(t, err)
	newly := resp.Fields["newly_booked"].GetListValue().GetValues()
	require.Len(t, newly, 1)
	assert.Equal(t, slotID.String(), newly[0].GetStringValue())
	bookingService.AssertExpectations(t)
}

func TestServer_Reserve_Unavailable(t *testing.T) {
	bookingService := &MockBookingUseCase{}
	conn := dial(t, NewServer(&MockSlotUseCase{}, bookingService))
	slotID := uuid.New()

	bookingService.On("Reserve", mock.Anything, mock.Anything).
		Return(nil, &domain.CapacityUnavailableError{SlotIDs: []uuid.UUID{slotID}})

	req := mustStruct(t, map[string]any{
		"form_id":         uuid.NewString(),
		"registration_id": uuid.NewString(),
		"slot_ids":        []any{slotID.String()},
	})
	err := conn.Invoke(context.Background(), "/"+ServiceName+"/Reserve", req, new(structpb.Struct))

	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Aborted, st.Code())
	assert.Contains(t, st.Message(), slotID.String())
}

// ============================ Тесты для BookedSlots ============================

func TestServer_BookedSlots(t *testing.T) {
	bookingService := &MockBookingUseCase{}
	server := NewServer(&MockSlotUseCase{}, bookingService)
	regID := uuid.New()

	bookingService.On("BookedSlots", mock.Anything, regID).Return([]domain.Slot{{ID: uuid.New()}, {ID: uuid.New()}}, nil)

	resp, err := server.BookedSlots(context.Background(), mustStruct(t, map[string]any{"registration_id": regID.String()}))

	require.NoError(t, err)
	assert.Equal(t, regID.String(), resp.Fields["registration_id"].GetStringValue())
	assert.Len(t, resp.Fields["slots"].GetListValue().GetValues(), 2)
}

// ============================ Тесты для toStatus ============================

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{domain.InvalidSpec("days", "empty"), codes.InvalidArgument},
		{&domain.CapacityExceededError{Existing: 1, Adding: 2, Limit: 2}, codes.ResourceExhausted},
		{&domain.SlotNotInFormError{FormID: uuid.New()}, codes.PermissionDenied},
		{&domain.FormNotEditableError{FormID: uuid.New(), Status: domain.FormStatusPublished}, codes.FailedPrecondition},
		{domain.ErrFormClosed, codes.FailedPrecondition},
		{domain.ErrNotFound, codes.NotFound},
		{&domain.TransientStoreError{Op: "reserve", Err: context.DeadlineExceeded}, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
}
