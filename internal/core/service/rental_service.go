package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

const tracerName = "github.com/rl1809/movie-rental/internal/core/service"

const (
	opCreateRental      = "create_rental"
	opReturnRental      = "return_rental"
	opListOverdue       = "list_overdue"
	opAdjustStock       = "adjust_stock"
	opAuditTitle        = "audit_title"
	opReleaseQuarantine = "release_quarantine"
	opQuarantine        = "quarantine"
)

const defaultPublishTimeout = 2 * time.Second

type RentalService struct {
	store       port.Store
	idempotency port.IdempotencyRepository
	publisher   port.EventPublisher
	metrics     port.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	retry       retryPolicy
	now         func() time.Time

	publishTimeout time.Duration
}

type Option func(*RentalService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *RentalService) { s.logger = logger }
}

func WithPublisher(publisher port.EventPublisher) Option {
	return func(s *RentalService) { s.publisher = publisher }
}

func WithMetrics(metrics port.Metrics) Option {
	return func(s *RentalService) { s.metrics = metrics }
}

func WithIdempotency(repo port.IdempotencyRepository) Option {
	return func(s *RentalService) { s.idempotency = repo }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *RentalService) { s.tracer = tracer }
}

// WithRetryPolicy overrides the conflict retry budget. Non-positive values keep the defaults.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *RentalService) {
		if maxAttempts > 0 {
			s.retry.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			s.retry.baseDelay = baseDelay
		}
	}
}

// WithPublishTimeout bounds how long a committed operation waits on the event publisher.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *RentalService) {
		if d > 0 {
			s.publishTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *RentalService) { s.now = now }
}

func NewRentalService(store port.Store, opts ...Option) *RentalService {
	s := &RentalService{
		store:     store,
		publisher: noopPublisher{},
		metrics:   noopMetrics{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(tracerName),
		retry:     defaultRetryPolicy(),
		now:       time.Now,

		publishTimeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRental reserves one copy of movieID for userID.
func (s *RentalService) CreateRental(ctx context.Context, movieID int64, userID string, rentalDate, dueDate time.Time) (domain.Rental, error) {
	ctx, span := s.tracer.Start(ctx, "RentalService.CreateRental", trace.WithAttributes(
		attribute.Int64("movie.id", movieID),
		attribute.String("user.id", userID),
	))
	defer span.End()
	start := time.Now()

	rental, err := domain.NewRental(movieID, userID, rentalDate, dueDate)
	if err != nil {
		s.finish(span, opCreateRental, start, err)
		return domain.Rental{}, err
	}

	var created domain.Rental
	err = s.retryOnConflict(ctx, opCreateRental, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx port.Tx) error {
			inv, err := tx.GetInventory(ctx, movieID)
			if err != nil {
				return err
			}
			if err := inv.Reserve(); err != nil {
				return err
			}
			if err := tx.UpdateInventory(ctx, inv); err != nil {
				return err
			}

			id, err := tx.InsertRental(ctx, rental)
			if err != nil {
				return err
			}
			created = rental
			created.ID = id
			return nil
		})
	})
	if errors.Is(err, domain.ErrInvariantViolation) {
		s.quarantine(ctx, movieID, err)
	}
	s.finish(span, opCreateRental, start, err)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("create rental for movie %d: %w", movieID, err)
	}

	span.SetAttributes(attribute.Int64("rental.id", created.ID))
	s.logger.Info("rental created",
		zap.Int64("rental_id", created.ID),
		zap.Int64("movie_id", movieID),
		zap.String("user_id", userID),
	)
	s.publish(ctx, domain.Event{
		Type:     domain.EventRentalCreated,
		MovieID:  movieID,
		RentalID: created.ID,
		UserID:   userID,
	})
	return created, nil
}

// ReturnRental closes an active rental and puts its copy back in stock.
func (s *RentalService) ReturnRental(ctx context.Context, rentalID int64, returnedAt time.Time) (domain.Rental, error) {
	ctx, span := s.tracer.Start(ctx, "RentalService.ReturnRental", trace.WithAttributes(
		attribute.Int64("rental.id", rentalID),
	))
	defer span.End()
	start := time.Now()

	var (
		returned domain.Rental
		movieID  int64
		found    bool
	)
	err := s.retryOnConflict(ctx, opReturnRental, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx port.Tx) error {
			rental, err := tx.GetRental(ctx, rentalID)
			if err != nil {
				return err
			}
			movieID, found = rental.MovieID, true

			if err := rental.MarkReturned(returnedAt); err != nil {
				return err
			}

			inv, err := tx.GetInventory(ctx, rental.MovieID)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("rental %d references missing movie %d: %w",
					rentalID, rental.MovieID, domain.ErrInvariantViolation)
			}
			if err != nil {
				return err
			}
			if err := inv.Release(); err != nil {
				return err
			}

			if err := tx.UpdateRental(ctx, rental); err != nil {
				return err
			}
			if err := tx.UpdateInventory(ctx, inv); err != nil {
				return err
			}
			returned = rental
			return nil
		})
	})
	if errors.Is(err, domain.ErrInvariantViolation) && found {
		s.quarantine(ctx, movieID, err)
	}
	s.finish(span, opReturnRental, start, err)
	if err != nil {
		return domain.Rental{}, fmt.Errorf("return rental %d: %w", rentalID, err)
	}

	s.logger.Info("rental returned",
		zap.Int64("rental_id", rentalID),
		zap.Int64("movie_id", returned.MovieID),
	)
	s.publish(ctx, domain.Event{
		Type:     domain.EventRentalReturned,
		MovieID:  returned.MovieID,
		RentalID: returned.ID,
		UserID:   returned.UserID,
	})
	return returned, nil
}

// ListOverdue yields active rentals due before asOf, earliest due date first.
// Nothing is read until the sequence is ranged over; every pass re-reads the
// store at a fresh consistent point. The loop body runs while the read is
// open, so callers should not block inside it.
func (s *RentalService) ListOverdue(ctx context.Context, asOf time.Time) iter.Seq2[domain.Rental, error] {
	return func(yield func(domain.Rental, error) bool) {
		scanCtx, span := s.tracer.Start(ctx, "RentalService.ListOverdue", trace.WithAttributes(
			attribute.String("as_of", asOf.Format(time.RFC3339)),
		))
		defer span.End()
		start := time.Now()

		stopped := false
		count := 0
		err := s.store.ScanOverdue(scanCtx, asOf, func(r domain.Rental) bool {
			count++
			if !yield(r, nil) {
				stopped = true
				return false
			}
			return true
		})
		span.SetAttributes(attribute.Int("rental.count", count))
		s.finish(span, opListOverdue, start, err)

		if err != nil && !stopped {
			yield(domain.Rental{}, fmt.Errorf("list overdue rentals: %w", err))
		}
	}
}

func (s *RentalService) GetRental(ctx context.Context, rentalID int64) (domain.Rental, error) {
	var rental domain.Rental
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		var err error
		rental, err = tx.GetRental(ctx, rentalID)
		return err
	})
	if err != nil {
		return domain.Rental{}, fmt.Errorf("get rental %d: %w", rentalID, err)
	}
	return rental, nil
}

// finish records the outcome of one operation on the span and in metrics.
func (s *RentalService) finish(span trace.Span, op string, start time.Time, err error) {
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(start))

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil && isFault(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *RentalService) publish(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.OccurredAt = s.now().UTC()

	// The unit already committed; a lost event must not undo it.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("movie_id", event.MovieID),
			zap.Error(err),
		)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, domain.ErrInvalidReturnDate),
		errors.Is(err, domain.ErrInvalidRentalPeriod),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidStock):
		return "invalid"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrTitleQuarantined):
		return "quarantined"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// isFault separates internal failures from business rejections.
func isFault(err error) bool {
	switch outcomeOf(err) {
	case "conflict", "invariant_violation", "error":
		return true
	}
	return false
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) error { return nil }

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string, time.Duration) {}
func (noopMetrics) IncConflictRetry(string)                        {}
func (noopMetrics) IncInvariantViolation(int64)                    {}
