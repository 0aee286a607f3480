package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	tableInventory         = "inventory"
	tableRentals           = "rentals"
	colMovieID             = "movie_id"
	colTotalStock          = "total_stock"
	colAvailableStock      = "available_stock"
	colVersion             = "version"
	colQuarantined         = "quarantined"
	colUpdatedAt           = "updated_at"
	colID                  = "id"
	colUserID              = "user_id"
	colRentalDate          = "rental_date"
	colDueDate             = "due_date"
	colReturnedAt          = "returned_at"
	colStatus              = "status"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory (
		movie_id        BIGINT PRIMARY KEY,
		total_stock     INTEGER NOT NULL,
		available_stock INTEGER NOT NULL,
		version         BIGINT NOT NULL DEFAULT 0,
		quarantined     BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT inventory_stock_bounds CHECK (available_stock >= 0 AND available_stock <= total_stock)
	)`,
	`CREATE TABLE IF NOT EXISTS rentals (
		id          BIGSERIAL PRIMARY KEY,
		movie_id    BIGINT NOT NULL REFERENCES inventory (movie_id),
		user_id     TEXT NOT NULL,
		rental_date TIMESTAMPTZ NOT NULL,
		due_date    TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ,
		status      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS rentals_overdue_idx ON rentals (due_date, id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS rentals_movie_status_idx ON rentals (movie_id, status)`,
}

var (
	inventoryColumns = []any{colMovieID, colTotalStock, colAvailableStock, colVersion, colQuarantined, colUpdatedAt}
	rentalColumns    = []any{colID, colMovieID, colUserID, colRentalDate, colDueDate, colReturnedAt, colStatus}
)

// PostgresAdapter implements port.Store on a pgx pool. Units run at
// REPEATABLE READ so every read inside one sees the same snapshot; a
// concurrent update of a row written by the unit fails with 40001, which is
// reported as domain.ErrConflict.
type PostgresAdapter struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
	mode    port.LockMode
}

func NewPostgresAdapter(pool *pgxpool.Pool, mode port.LockMode) *PostgresAdapter {
	if mode == "" {
		mode = port.LockOptimistic
	}
	return &PostgresAdapter{
		pool:    pool,
		dialect: goqu.Dialect("postgres"),
		mode:    mode,
	}
}

func (p *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// isoLevel is RepeatableRead for optimistic units. Pessimistic units run at
// ReadCommitted: a waiter on FOR UPDATE must read the row its predecessor
// committed, where RepeatableRead would fail it with 40001.
func (p *PostgresAdapter) isoLevel() pgx.TxIsoLevel {
	if p.mode == port.LockPessimistic {
		return pgx.ReadCommitted
	}
	return pgx.RepeatableRead
}

func (p *PostgresAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: p.isoLevel()})
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapPostgresError(err))
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(&postgresTx{tx: tx, dialect: p.dialect, mode: p.mode}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", mapPostgresError(err))
	}
	return nil
}

func (p *PostgresAdapter) ScanOverdue(ctx context.Context, asOf time.Time, fn func(domain.Rental) bool) error {
	query, args, err := p.dialect.From(tableRentals).
		Select(rentalColumns...).
		Where(
			goqu.C(colStatus).Eq(string(domain.RentalStatusActive)),
			goqu.C(colDueDate).Lt(asOf.UTC()),
		).
		Order(goqu.C(colDueDate).Asc(), goqu.C(colID).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build overdue query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query overdue: %w", mapPostgresError(err))
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanPgRental(rows)
		if err != nil {
			return fmt.Errorf("scan rental: %w", err)
		}
		if !fn(r) {
			return nil
		}
	}
	return mapPostgresError(rows.Err())
}

type postgresTx struct {
	tx      pgx.Tx
	dialect goqu.DialectWrapper
	mode    port.LockMode
}

func (t *postgresTx) GetInventory(ctx context.Context, movieID int64) (domain.Inventory, error) {
	ds := t.dialect.From(tableInventory).
		Select(inventoryColumns...).
		Where(goqu.C(colMovieID).Eq(movieID))
	if t.mode == port.LockPessimistic {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("build inventory query: %w", err)
	}

	var inv domain.Inventory
	err = t.tx.QueryRow(ctx, query, args...).Scan(
		&inv.ID, &inv.TotalStock, &inv.AvailableStock, &inv.Version, &inv.Quarantined, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Inventory{}, fmt.Errorf("movie %d: %w", movieID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("query inventory: %w", mapPostgresError(err))
	}
	return inv, nil
}

func (t *postgresTx) InsertInventory(ctx context.Context, inv domain.Inventory) error {
	query, args, err := t.dialect.Insert(tableInventory).
		Rows(goqu.Record{
			colMovieID:        inv.ID,
			colTotalStock:     inv.TotalStock,
			colAvailableStock: inv.AvailableStock,
			colVersion:        inv.Version,
			colQuarantined:    inv.Quarantined,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build inventory insert: %w", err)
	}

	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert inventory %d: %w", inv.ID, mapPostgresError(err))
	}
	return nil
}

func (t *postgresTx) UpdateInventory(ctx context.Context, inv domain.Inventory) error {
	query, args, err := t.dialect.Update(tableInventory).
		Set(goqu.Record{
			colTotalStock:     inv.TotalStock,
			colAvailableStock: inv.AvailableStock,
			colQuarantined:    inv.Quarantined,
			colVersion:        goqu.L(colVersion + " + 1"),
			colUpdatedAt:      goqu.L("now()"),
		}).
		Where(
			goqu.C(colMovieID).Eq(inv.ID),
			goqu.C(colVersion).Eq(inv.Version),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build inventory update: %w", err)
	}

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update inventory: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("movie %d version %d: %w", inv.ID, inv.Version, domain.ErrConflict)
	}
	return nil
}

func (t *postgresTx) InsertRental(ctx context.Context, rental domain.Rental) (int64, error) {
	query, args, err := t.dialect.Insert(tableRentals).
		Rows(goqu.Record{
			colMovieID:    rental.MovieID,
			colUserID:     rental.UserID,
			colRentalDate: rental.RentalDate.UTC(),
			colDueDate:    rental.DueDate.UTC(),
			colReturnedAt: pgTime(rental.ReturnedAt),
			colStatus:     string(rental.Status),
		}).
		Returning(colID).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build rental insert: %w", err)
	}

	var id int64
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert rental: %w", mapPostgresError(err))
	}
	return id, nil
}

func (t *postgresTx) GetRental(ctx context.Context, rentalID int64) (domain.Rental, error) {
	query, args, err := t.dialect.From(tableRentals).
		Select(rentalColumns...).
		Where(goqu.C(colID).Eq(rentalID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return domain.Rental{}, fmt.Errorf("build rental query: %w", err)
	}

	r, err := scanPgRental(t.tx.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Rental{}, fmt.Errorf("rental %d: %w", rentalID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Rental{}, fmt.Errorf("query rental: %w", mapPostgresError(err))
	}
	return r, nil
}

func (t *postgresTx) UpdateRental(ctx context.Context, rental domain.Rental) error {
	query, args, err := t.dialect.Update(tableRentals).
		Set(goqu.Record{
			colStatus:     string(rental.Status),
			colReturnedAt: pgTime(rental.ReturnedAt),
		}).
		Where(
			goqu.C(colID).Eq(rental.ID),
			goqu.C(colStatus).Eq(string(domain.RentalStatusActive)),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build rental update: %w", err)
	}

	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update rental: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rental %d no longer active: %w", rental.ID, domain.ErrConflict)
	}
	return nil
}

func (t *postgresTx) CountActiveRentals(ctx context.Context, movieID int64) (int, error) {
	query, args, err := t.dialect.From(tableRentals).
		Select(goqu.COUNT("*")).
		Where(
			goqu.C(colMovieID).Eq(movieID),
			goqu.C(colStatus).Eq(string(domain.RentalStatusActive)),
		).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}

	var count int
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active rentals: %w", mapPostgresError(err))
	}
	return count, nil
}

func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected:
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	case pgUniqueViolation:
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	case pgCheckViolation:
		return fmt.Errorf("%w: %w", domain.ErrInvariantViolation, err)
	}
	return err
}

func scanPgRental(row pgx.Row) (domain.Rental, error) {
	var (
		r      domain.Rental
		status string
	)
	if err := row.Scan(&r.ID, &r.MovieID, &r.UserID, &r.RentalDate, &r.DueDate, &r.ReturnedAt, &status); err != nil {
		return domain.Rental{}, err
	}
	r.Status = domain.RentalStatus(status)
	return r, nil
}

func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

var _ port.Store = (*PostgresAdapter)(nil)
