package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

type AuditReport struct {
	MovieID        int64
	TotalStock     int
	AvailableStock int
	ActiveRentals  int
	Quarantined    bool
}

// Consistent reports whether total - available matches the active rentals.
func (r AuditReport) Consistent() bool {
	return r.TotalStock-r.AvailableStock == r.ActiveRentals &&
		r.AvailableStock >= 0 && r.AvailableStock <= r.TotalStock
}

// AddTitle registers stock for a new title with every copy available.
func (s *RentalService) AddTitle(ctx context.Context, movieID int64, totalStock int) (domain.Inventory, error) {
	inv, err := domain.NewInventory(movieID, totalStock)
	if err != nil {
		return domain.Inventory{}, err
	}

	err = s.store.WithinTx(ctx, func(tx port.Tx) error {
		return tx.InsertInventory(ctx, inv)
	})
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("add title %d: %w", movieID, err)
	}

	s.logger.Info("title added", zap.Int64("movie_id", movieID), zap.Int("total_stock", totalStock))
	return inv, nil
}

func (s *RentalService) GetInventory(ctx context.Context, movieID int64) (domain.Inventory, error) {
	var inv domain.Inventory
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		var err error
		inv, err = tx.GetInventory(ctx, movieID)
		return err
	})
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("get inventory %d: %w", movieID, err)
	}
	return inv, nil
}

// AdjustTotalStock resizes a title. Copies out on loan stay out of the pool,
// so the new total may not drop below the active rental count.
func (s *RentalService) AdjustTotalStock(ctx context.Context, movieID int64, totalStock int) (domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "RentalService.AdjustTotalStock", trace.WithAttributes(
		attribute.Int64("movie.id", movieID),
		attribute.Int("stock.total", totalStock),
	))
	defer span.End()
	start := time.Now()

	var updated domain.Inventory
	err := s.retryOnConflict(ctx, opAdjustStock, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx port.Tx) error {
			inv, err := tx.GetInventory(ctx, movieID)
			if err != nil {
				return err
			}
			if inv.Quarantined {
				return fmt.Errorf("movie %d: %w", movieID, domain.ErrTitleQuarantined)
			}

			active, err := tx.CountActiveRentals(ctx, movieID)
			if err != nil {
				return err
			}
			if inv.Rented() != active {
				return fmt.Errorf("movie %d: %d copies out, %d active rentals: %w",
					movieID, inv.Rented(), active, domain.ErrInvariantViolation)
			}

			if err := inv.SetTotalStock(totalStock, active); err != nil {
				return err
			}
			if err := tx.UpdateInventory(ctx, inv); err != nil {
				return err
			}
			updated = inv
			return nil
		})
	})
	if errors.Is(err, domain.ErrInvariantViolation) {
		s.quarantine(ctx, movieID, err)
	}
	s.finish(span, opAdjustStock, start, err)
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("adjust stock of movie %d: %w", movieID, err)
	}

	s.logger.Info("total stock adjusted",
		zap.Int64("movie_id", movieID),
		zap.Int("total_stock", updated.TotalStock),
		zap.Int("available_stock", updated.AvailableStock),
	)
	return updated, nil
}

// AuditTitle checks the title's counters against its active rentals and
// quarantines it on mismatch.
func (s *RentalService) AuditTitle(ctx context.Context, movieID int64) (AuditReport, error) {
	ctx, span := s.tracer.Start(ctx, "RentalService.AuditTitle", trace.WithAttributes(
		attribute.Int64("movie.id", movieID),
	))
	defer span.End()
	start := time.Now()

	var report AuditReport
	err := s.store.WithinTx(ctx, func(tx port.Tx) error {
		inv, err := tx.GetInventory(ctx, movieID)
		if err != nil {
			return err
		}
		active, err := tx.CountActiveRentals(ctx, movieID)
		if err != nil {
			return err
		}
		report = AuditReport{
			MovieID:        movieID,
			TotalStock:     inv.TotalStock,
			AvailableStock: inv.AvailableStock,
			ActiveRentals:  active,
			Quarantined:    inv.Quarantined,
		}
		return nil
	})
	if err == nil && !report.Consistent() {
		err = fmt.Errorf("movie %d: total %d, available %d, active rentals %d: %w",
			movieID, report.TotalStock, report.AvailableStock, report.ActiveRentals, domain.ErrInvariantViolation)
		if !report.Quarantined {
			s.quarantine(ctx, movieID, err)
			report.Quarantined = true
		}
	}
	s.finish(span, opAuditTitle, start, err)
	if err != nil {
		return report, fmt.Errorf("audit movie %d: %w", movieID, err)
	}
	return report, nil
}

// ReleaseQuarantine is the operator action after review: available stock is
// recomputed from the active rentals and writes are served again.
func (s *RentalService) ReleaseQuarantine(ctx context.Context, movieID int64) (domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "RentalService.ReleaseQuarantine", trace.WithAttributes(
		attribute.Int64("movie.id", movieID),
	))
	defer span.End()
	start := time.Now()

	var released domain.Inventory
	err := s.retryOnConflict(ctx, opReleaseQuarantine, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx port.Tx) error {
			inv, err := tx.GetInventory(ctx, movieID)
			if err != nil {
				return err
			}
			active, err := tx.CountActiveRentals(ctx, movieID)
			if err != nil {
				return err
			}
			if err := inv.Reconcile(active); err != nil {
				return err
			}
			if err := tx.UpdateInventory(ctx, inv); err != nil {
				return err
			}
			released = inv
			return nil
		})
	})
	s.finish(span, opReleaseQuarantine, start, err)
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("release quarantine of movie %d: %w", movieID, err)
	}

	s.logger.Warn("title quarantine released",
		zap.Int64("movie_id", movieID),
		zap.Int("available_stock", released.AvailableStock),
	)
	s.publish(ctx, domain.Event{Type: domain.EventTitleReleased, MovieID: movieID})
	return released, nil
}

// quarantine stops further writes on a title after an invariant violation.
// It runs in its own atomic unit since the failing one was rolled back, and
// survives caller cancellation.
func (s *RentalService) quarantine(ctx context.Context, movieID int64, cause error) {
	s.metrics.IncInvariantViolation(movieID)
	s.logger.Error("inventory invariant violated, quarantining title",
		zap.Int64("movie_id", movieID),
		zap.Error(cause),
	)

	ctx = context.WithoutCancel(ctx)
	changed := false
	err := s.retryOnConflict(ctx, opQuarantine, func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(tx port.Tx) error {
			inv, err := tx.GetInventory(ctx, movieID)
			if err != nil {
				return err
			}
			if inv.Quarantined {
				return nil
			}
			inv.Quarantined = true
			if err := tx.UpdateInventory(ctx, inv); err != nil {
				return err
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		s.logger.Error("failed to quarantine title", zap.Int64("movie_id", movieID), zap.Error(err))
		return
	}
	if changed {
		s.publish(ctx, domain.Event{
			Type:    domain.EventTitleQuarantined,
			MovieID: movieID,
			Reason:  cause.Error(),
		})
	}
}
