package slots_service_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Domenick1991/signupslots/internal/domain"
	"github.com/Domenick1991/signupslots/internal/service/booking"
	"github.com/Domenick1991/signupslots/internal/service/slots"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "signupslots.v1.SlotsService"

// SlotsServiceServer exposes availability and reservations over gRPC.
// Messages are google.protobuf.Struct with the same field names as the JSON API.
type SlotsServiceServer interface {
	ListAvailable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reserve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	BookedSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	slots    slots.SlotUseCase
	bookings booking.BookingUseCase
}

func NewServer(slots slots.SlotUseCase, bookings booking.BookingUseCase) *Server {
	return &Server{slots: slots, bookings: bookings}
}

type listRequest struct {
	FormID uuid.UUID `json:"form_id"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type reserveRequest struct {
	FormID         uuid.UUID   `json:"form_id"`
	RegistrationID uuid.UUID   `json:"registration_id"`
	SlotIDs        []uuid.UUID `json:"slot_ids"`
}

type bookedRequest struct {
	RegistrationID uuid.UUID `json:"registration_id"`
}

func (s *Server) ListAvailable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	page, err := s.slots.ListAvailable(ctx, domain.AvailabilityQuery{FormID: in.FormID, Limit: in.Limit, Offset: in.Offset})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(page)
}

func (s *Server) Reserve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in reserveRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	res, err := s.bookings.Reserve(ctx, booking.ReserveInput{FormID: in.FormID, RegistrationID: in.RegistrationID, SlotIDs: in.SlotIDs})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(res)
}

func (s *Server) BookedSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in bookedRequest
	if err := decode(req, &in); err != nil {
		return nil, err
	}
	booked, err := s.bookings.BookedSlots(ctx, in.RegistrationID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(map[string]any{"registration_id": in.RegistrationID, "slots": booked})
}

func decode(req *structpb.Struct, out any) error {
	data, err := protojson.Marshal(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	var unavailable *domain.CapacityUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return status.Error(codes.Aborted, unavailable.Error())
	case errors.Is(err, domain.ErrInvalidSpec):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrCapacityExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrSlotNotInForm):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrFormNotEditable), errors.Is(err, domain.ErrFormClosed), errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrTransientStore):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
	}
}

func unaryHandler(method string, call func(SlotsServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SlotsServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SlotsServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SlotsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("ListAvailable", SlotsServiceServer.ListAvailable),
		unaryHandler("Reserve", SlotsServiceServer.Reserve),
		unaryHandler("BookedSlots", SlotsServiceServer.BookedSlots),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "signupslots/v1/slots.proto",
}

func Register(registrar grpc.ServiceRegistrar, server SlotsServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

var _ SlotsServiceServer = (*Server)(nil)
