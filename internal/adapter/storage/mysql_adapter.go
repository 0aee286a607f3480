package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

const (
	mysqlErrDuplicateEntry   = 1062
	mysqlErrLockWaitTimeout  = 1205
	mysqlErrDeadlock         = 1213
	mysqlErrCheckConstraint  = 3819
	mysqlInventoryColumns    = "movie_id, total_stock, available_stock, version, quarantined, updated_at"
	mysqlRentalColumns       = "id, movie_id, user_id, rental_date, due_date, returned_at, status"
	mysqlSelectInventory     = "SELECT " + mysqlInventoryColumns + " FROM inventory WHERE movie_id = ?"
	mysqlSelectRental        = "SELECT " + mysqlRentalColumns + " FROM rentals WHERE id = ?"
	mysqlSelectOverdue       = "SELECT " + mysqlRentalColumns + " FROM rentals WHERE status = ? AND due_date < ? ORDER BY due_date, id"
	mysqlCountActiveRentals  = "SELECT COUNT(*) FROM rentals WHERE movie_id = ? AND status = ?"
	mysqlLockClauseForUpdate = " FOR UPDATE"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		movie_id        BIGINT PRIMARY KEY,
		total_stock     INT NOT NULL,
		available_stock INT NOT NULL,
		version         BIGINT NOT NULL DEFAULT 0,
		quarantined     BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at      DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		CONSTRAINT chk_inventory_stock CHECK (available_stock >= 0 AND available_stock <= total_stock)
	)`,
	`CREATE TABLE IF NOT EXISTS rentals (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		movie_id    BIGINT NOT NULL,
		user_id     VARCHAR(255) NOT NULL,
		rental_date DATETIME(6) NOT NULL,
		due_date    DATETIME(6) NOT NULL,
		returned_at DATETIME(6) NULL,
		status      VARCHAR(16) NOT NULL,
		INDEX idx_rentals_overdue (status, due_date, id),
		INDEX idx_rentals_movie (movie_id, status)
	)`,
}

// MySQLAdapter implements port.Store on InnoDB. The DSN must set parseTime=true.
type MySQLAdapter struct {
	db   *sql.DB
	mode port.LockMode
}

func NewMySQLAdapter(db *sql.DB, mode port.LockMode) *MySQLAdapter {
	if mode == "" {
		mode = port.LockOptimistic
	}
	return &MySQLAdapter{db: db, mode: mode}
}

// EnsureSchema creates the tables when missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapMySQLError(err))
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx, mode: m.mode}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapMySQLError(err))
	}
	return nil
}

// ScanOverdue runs a single statement, which InnoDB serves from one snapshot.
func (m *MySQLAdapter) ScanOverdue(ctx context.Context, asOf time.Time, fn func(domain.Rental) bool) error {
	rows, err := m.db.QueryContext(ctx, mysqlSelectOverdue, string(domain.RentalStatusActive), asOf.UTC())
	if err != nil {
		return fmt.Errorf("query overdue: %w", mapMySQLError(err))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRental(rows)
		if err != nil {
			return fmt.Errorf("scan rental: %w", err)
		}
		if !fn(r) {
			return nil
		}
	}
	return rows.Err()
}

type mysqlTx struct {
	tx   *sql.Tx
	mode port.LockMode
}

func (t *mysqlTx) GetInventory(ctx context.Context, movieID int64) (domain.Inventory, error) {
	query := mysqlSelectInventory
	if t.mode == port.LockPessimistic {
		query += mysqlLockClauseForUpdate
	}

	inv, err := scanInventory(t.tx.QueryRowContext(ctx, query, movieID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Inventory{}, fmt.Errorf("movie %d: %w", movieID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("query inventory: %w", mapMySQLError(err))
	}
	return inv, nil
}

func (t *mysqlTx) InsertInventory(ctx context.Context, inv domain.Inventory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory (movie_id, total_stock, available_stock, version, quarantined, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(6))`,
		inv.ID, inv.TotalStock, inv.AvailableStock, inv.Version, inv.Quarantined,
	)
	if err != nil {
		return fmt.Errorf("insert inventory %d: %w", inv.ID, mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) UpdateInventory(ctx context.Context, inv domain.Inventory) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE inventory
		SET total_stock = ?, available_stock = ?, quarantined = ?, version = version + 1, updated_at = NOW(6)
		WHERE movie_id = ? AND version = ?`,
		inv.TotalStock, inv.AvailableStock, inv.Quarantined, inv.ID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("update inventory: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("movie %d version %d: %w", inv.ID, inv.Version, domain.ErrConflict)
	}
	return nil
}

func (t *mysqlTx) InsertRental(ctx context.Context, rental domain.Rental) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO rentals (movie_id, user_id, rental_date, due_date, returned_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rental.MovieID, rental.UserID, rental.RentalDate.UTC(), rental.DueDate.UTC(),
		nullTime(rental.ReturnedAt), string(rental.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("insert rental: %w", mapMySQLError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rental id: %w", err)
	}
	return id, nil
}

func (t *mysqlTx) GetRental(ctx context.Context, rentalID int64) (domain.Rental, error) {
	r, err := scanRental(t.tx.QueryRowContext(ctx, mysqlSelectRental, rentalID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Rental{}, fmt.Errorf("rental %d: %w", rentalID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Rental{}, fmt.Errorf("query rental: %w", mapMySQLError(err))
	}
	return r, nil
}

func (t *mysqlTx) UpdateRental(ctx context.Context, rental domain.Rental) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rentals SET status = ?, returned_at = ?
		WHERE id = ? AND status = ?`,
		string(rental.Status), nullTime(rental.ReturnedAt), rental.ID, string(domain.RentalStatusActive),
	)
	if err != nil {
		return fmt.Errorf("update rental: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("rental %d no longer active: %w", rental.ID, domain.ErrConflict)
	}
	return nil
}

func (t *mysqlTx) CountActiveRentals(ctx context.Context, movieID int64) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, mysqlCountActiveRentals, movieID, string(domain.RentalStatusActive)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active rentals: %w", mapMySQLError(err))
	}
	return count, nil
}

// mapMySQLError turns lock contention into domain.ErrConflict so the service retries it.
func mapMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}

	switch myErr.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case mysqlErrDuplicateEntry:
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case mysqlErrCheckConstraint:
		return fmt.Errorf("%w: %w", domain.ErrInvariantViolation, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInventory(row rowScanner) (domain.Inventory, error) {
	var inv domain.Inventory
	err := row.Scan(&inv.ID, &inv.TotalStock, &inv.AvailableStock, &inv.Version, &inv.Quarantined, &inv.UpdatedAt)
	return inv, err
}

func scanRental(row rowScanner) (domain.Rental, error) {
	var (
		r          domain.Rental
		returnedAt sql.NullTime
		status     string
	)
	err := row.Scan(&r.ID, &r.MovieID, &r.UserID, &r.RentalDate, &r.DueDate, &returnedAt, &status)
	if err != nil {
		return domain.Rental{}, err
	}

	r.Status = domain.RentalStatus(status)
	if returnedAt.Valid {
		at := returnedAt.Time
		r.ReturnedAt = &at
	}
	return r, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ port.Store = (*MySQLAdapter)(nil)
