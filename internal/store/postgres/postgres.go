// Package postgres implements store.Store on top of a pgx connection pool.
package postgres

import (
	"context"

	"hermes/server/internal/apperr"
	"hermes/server/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool  *pgxpool.Pool
	clock *store.Clock
	log   *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, clock: store.NewClock(), log: log}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	if err := pgx.BeginFunc(ctx, s.pool, fn); err != nil {
		return fail(op, err)
	}
	return nil
}

// fail passes application errors through and turns anything else into an
// UNAVAILABLE error carrying the wrapped driver error.
func fail(op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Unavailable("storage unavailable", errors.Wrap(err, op))
}

func pgCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error) bool {
	code, _ := pgCode(err)
	return code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	code, _ := pgCode(err)
	return code == foreignKeyViolation
}

func usersExist(ctx context.Context, q querier, names ...string) error {
	var n int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE username = ANY($1)`, names).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "store.usersExist")
	}
	want := map[string]struct{}{}
	for _, name := range names {
		want[name] = struct{}{}
	}
	if n != len(want) {
		return apperr.ErrUserNotFound
	}
	return nil
}
