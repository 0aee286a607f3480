package handler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/movie-rental/internal/adapter/handler/pb"
	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/core/service"
)

type GRPCHandler struct {
	pb.UnimplementedRentalServiceServer
	rentalService *service.RentalService
	logger        *zap.Logger
	now           func() time.Time
}

type GRPCOption func(*GRPCHandler)

// WithGRPCClock sets the clock used when a request omits its timestamps.
func WithGRPCClock(now func() time.Time) GRPCOption {
	return func(h *GRPCHandler) { h.now = now }
}

func NewGRPCHandler(rentalService *service.RentalService, logger *zap.Logger, opts ...GRPCOption) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &GRPCHandler{rentalService: rentalService, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *GRPCHandler) CreateRental(ctx context.Context, req *pb.CreateRentalRequest) (*pb.Rental, error) {
	if req.GetMovieId() <= 0 || req.GetUserId() == "" || req.GetDueDate().IsZero() {
		return nil, status.Error(codes.InvalidArgument, "missing required fields")
	}
	rentalDate := req.GetRentalDate()
	if rentalDate.IsZero() {
		rentalDate = h.now()
	}

	rental, err := h.rentalService.CreateRentalIdempotent(ctx,
		req.GetRequestId(), req.GetMovieId(), req.GetUserId(), rentalDate, req.GetDueDate())
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toPBRental(rental), nil
}

func (h *GRPCHandler) ReturnRental(ctx context.Context, req *pb.ReturnRentalRequest) (*pb.Rental, error) {
	returnedAt := req.GetReturnedAt()
	if returnedAt.IsZero() {
		returnedAt = h.now()
	}

	rental, err := h.rentalService.ReturnRental(ctx, req.GetRentalId(), returnedAt)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toPBRental(rental), nil
}

func (h *GRPCHandler) GetRental(ctx context.Context, req *pb.GetRentalRequest) (*pb.Rental, error) {
	rental, err := h.rentalService.GetRental(ctx, req.GetRentalId())
	if err != nil {
		return nil, h.toStatus(err)
	}
	return toPBRental(rental), nil
}

// ListOverdue streams the overdue rentals one message each, in due date order.
func (h *GRPCHandler) ListOverdue(req *pb.ListOverdueRequest, stream grpc.ServerStreamingServer[pb.Rental]) error {
	asOf := req.GetAsOf()
	if asOf.IsZero() {
		asOf = h.now()
	}

	for rental, err := range h.rentalService.ListOverdue(stream.Context(), asOf) {
		if err != nil {
			return h.toStatus(err)
		}
		if err := stream.Send(toPBRental(rental)); err != nil {
			return err
		}
	}
	return nil
}

func (h *GRPCHandler) toStatus(err error) error {
	code := grpcCodeOf(err)
	if code == codes.Internal || code == codes.Unknown {
		h.logger.Error("rpc failed", zap.Error(err))
	}
	return status.Error(code, err.Error())
}

func grpcCodeOf(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, service.ErrDuplicateRequest), errors.Is(err, domain.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrOutOfStock):
		return codes.ResourceExhausted
	case errors.Is(err, domain.ErrAlreadyReturned), errors.Is(err, domain.ErrTitleQuarantined):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrInvalidReturnDate),
		errors.Is(err, domain.ErrInvalidRentalPeriod),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidStock):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrConflict):
		return codes.Aborted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func toPBRental(r domain.Rental) *pb.Rental {
	return &pb.Rental{
		Id:         r.ID,
		MovieId:    r.MovieID,
		UserId:     r.UserID,
		RentalDate: r.RentalDate,
		DueDate:    r.DueDate,
		ReturnedAt: r.ReturnedAt,
		Status:     string(r.Status),
	}
}
