package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/adapter/storage"
	"github.com/rl1809/movie-rental/internal/config"
	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/core/service"
	"github.com/rl1809/movie-rental/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	maxAttempts   = 10
)

func main() {
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	rentalService := service.NewRentalService(store,
		service.WithLogger(logger),
		service.WithRetryPolicy(maxAttempts, 0),
	)

	movieID := time.Now().UnixNano() / int64(time.Millisecond)
	if _, err := rentalService.AddTitle(ctx, movieID, initialStock); err != nil {
		logger.Fatal("failed to add title", zap.Error(err))
	}

	// Counters
	var successCount, outOfStockCount, conflictCount, errorCount atomic.Int32
	var mu sync.Mutex
	var rentalIDs []int64

	// Spawn concurrent rentals
	var wg sync.WaitGroup
	start := time.Now()
	rentalDate := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			rental, err := rentalService.CreateRental(ctx, movieID, fmt.Sprintf("user-%d", userID),
				rentalDate, rentalDate.Add(72*time.Hour))
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				rentalIDs = append(rentalIDs, rental.ID)
				mu.Unlock()
			case errors.Is(err, domain.ErrOutOfStock):
				outOfStockCount.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflictCount.Add(1)
			default:
				errorCount.Add(1)
				logger.Warn("rental failed", zap.Int("user", userID), zap.Error(err))
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Return every rental twice, concurrently; only one return per rental may count.
	var returnedCount, doubleReturnCount atomic.Int32
	for _, id := range rentalIDs {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				_, err := rentalService.ReturnRental(ctx, id, time.Now())
				switch {
				case err == nil:
					returnedCount.Add(1)
				case errors.Is(err, domain.ErrAlreadyReturned), errors.Is(err, domain.ErrConflict):
					doubleReturnCount.Add(1)
				default:
					errorCount.Add(1)
					logger.Warn("return failed", zap.Int64("rental_id", id), zap.Error(err))
				}
			}(id)
		}
	}
	wg.Wait()

	report, auditErr := rentalService.AuditTitle(ctx, movieID)

	// Results
	success := successCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store / Lock Mode: %s / %s\n", cfg.StoreDriver, cfg.LockMode)
	fmt.Printf("Initial Stock:     %d\n", initialStock)
	fmt.Printf("Total Requests:    %d\n", totalRequests)
	fmt.Printf("Rented:            %d\n", success)
	fmt.Printf("Out Of Stock:      %d\n", outOfStockCount.Load())
	fmt.Printf("Gave Up (Conflict): %d\n", conflictCount.Load())
	fmt.Printf("Errors:            %d\n", errorCount.Load())
	fmt.Printf("Returned:          %d\n", returnedCount.Load())
	fmt.Printf("Rejected Returns:  %d\n", doubleReturnCount.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false

	// Assertions
	if success <= int32(initialStock) {
		fmt.Printf("PASS: %d rentals for %d copies\n", success, initialStock)
	} else {
		fmt.Printf("FAIL: %d rentals exceed %d copies\n", success, initialStock)
		failed = true
	}

	if returnedCount.Load() == success {
		fmt.Println("PASS: Every rental returned exactly once")
	} else {
		fmt.Printf("FAIL: Expected %d returns, got %d\n", success, returnedCount.Load())
		failed = true
	}

	if auditErr == nil && report.Consistent() && report.AvailableStock == initialStock {
		fmt.Printf("PASS: Inventory consistent, %d/%d available\n", report.AvailableStock, report.TotalStock)
	} else {
		fmt.Printf("FAIL: Inventory audit %+v: %v\n", report, auditErr)
		failed = true
	}

	if errorCount.Load() > 0 || failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.Store, func()) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		adapter := storage.NewMySQLAdapter(db, cfg.LockMode)
		if err := adapter.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare mysql", zap.Error(err))
		}
		return adapter, func() { db.Close() }

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		adapter := storage.NewPostgresAdapter(pool, cfg.LockMode)
		if err := adapter.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to prepare postgres", zap.Error(err))
		}
		return adapter, pool.Close

	default:
		return storage.NewMemoryAdapter(cfg.LockMode), func() {}
	}
}
