package orders

import (
	"context"
	"time"
)

type TxOptions struct {
	// LockTimeout caps the wait for any row lock taken inside the transaction. Zero keeps the store default.
	LockTimeout time.Duration
}

// Tx is the set of writes a checkout performs. Implementations must hold the lock
// taken by LockProduct until the surrounding transaction commits or rolls back.
type Tx interface {
	// LockProduct reads the product under an exclusive row lock. Returns ErrNotFound for a missing row.
	LockProduct(ctx context.Context, id int64) (Product, error)
	UpdateStock(ctx context.Context, productID int64, stock int) error
	// InsertOrder assigns ID and timestamps on o.
	InsertOrder(ctx context.Context, o *Order) error
	// InsertOrderItem assigns ID on it.
	InsertOrderItem(ctx context.Context, it *OrderItem) error
	AppendEvent(ctx context.Context, topic string, key []byte, env Envelope) error
}

// UnitOfWork runs fn inside one transaction. fn returning an error rolls everything back;
// returning nil commits. A commit failure is reported as a PersistenceError.
type UnitOfWork interface {
	WithinTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
