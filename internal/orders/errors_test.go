package orders_test

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

func TestPersistence(t *testing.T) {
	assert.Nil(t, orders.Persistence("noop", nil))

	cause := errors.New("disk full")
	err := orders.Persistence("insert order", cause)
	assert.ErrorIs(t, err, orders.ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence failure: insert order: disk full", err.Error())

	// Already classified errors keep their original step.
	again := orders.Persistence("checkout", pkgerrors.Wrap(err, "outer"))
	var pe *orders.PersistenceError
	assert.True(t, errors.As(again, &pe))
	assert.Equal(t, "insert order", pe.Op)
}
