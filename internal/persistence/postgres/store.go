// Package postgres implements the enrollment Store on PostgreSQL. Every
// operation runs inside one serializable transaction so concurrent claims
// against the last free slot resolve to exactly one winner.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/enrollment/internal/domain"
)

// Store provides Postgres-backed persistence for enrollments, feedback, and
// outbox events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinTx implements domain.Store with a serializable pgx transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&storeTx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates storage failures into the domain taxonomy. A
// serialization failure means no partial state was committed and the caller
// may retry.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return domain.ErrConflict
		case "23505":
			if pgErr.ConstraintName == "enrollments_active_pair" {
				return domain.ErrAlreadyEnrolled
			}
		}
	}
	return err
}
