package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, classify(plain))
	assert.NoError(t, classify(nil))

	lock := classify(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})
	assert.ErrorIs(t, lock, orders.ErrLockTimeout)
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(lock, &pgErr))

	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "40P01"}), ErrDeadlock)
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: "57014"}), ErrQueryCanceled)
	assert.NotErrorIs(t, classify(&pgconn.PgError{Code: "23505"}), orders.ErrLockTimeout)
}

func TestLockTimeoutSetting(t *testing.T) {
	assert.Equal(t, "5000ms", lockTimeoutSetting(5*time.Second))
	assert.Equal(t, "250ms", lockTimeoutSetting(250*time.Millisecond))
	assert.Equal(t, "1ms", lockTimeoutSetting(time.Microsecond))
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@h:5432/db?sslmode=disable", migrateURL("postgres://u:p@h:5432/db?sslmode=disable"))
	assert.Equal(t, "pgx5://h/db", migrateURL("postgresql://h/db"))
	assert.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}
