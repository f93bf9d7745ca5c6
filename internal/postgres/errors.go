package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeQueryCanceled    = "57014"
)

var (
	ErrDeadlock      = errors.New("deadlock detected")
	ErrQueryCanceled = errors.New("query canceled")
)

// classify tags well known server errors with a sentinel while keeping the driver error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %w", orders.ErrLockTimeout, err)
	case codeDeadlock:
		return fmt.Errorf("%w: %w", ErrDeadlock, err)
	case codeQueryCanceled:
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	return err
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
