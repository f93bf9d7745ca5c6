package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
	"github.com/ilham-s-saksena/race-condition/internal/outbox"
)

// Store is the postgres backed unit of work for checkout.
type Store struct{ Pool *pgxpool.Pool }

var _ orders.UnitOfWork = (*Store)(nil)

func (s *Store) WithinTx(ctx context.Context, opts orders.TxOptions, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return orders.Persistence("begin", classify(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if opts.LockTimeout > 0 {
		// transaction scoped, same as SET LOCAL
		if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(opts.LockTimeout)); err != nil {
			return orders.Persistence("set lock_timeout", classify(err))
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return orders.Persistence("commit", classify(err))
	}
	return nil
}

func lockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProduct(ctx context.Context, id int64) (orders.Product, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, name, description, stock, price::text, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Product{}, classify(err)
	}
	return p, nil
}

func (t *pgTx) UpdateStock(ctx context.Context, productID int64, stock int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, productID, stock)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() != 1 {
		return errors.Errorf("update stock: %d rows affected", tag.RowsAffected())
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, total_amount, status)
		VALUES ($1, $2::text::numeric, $3)
		RETURNING id, created_at, updated_at`,
		o.UserID, o.TotalAmount.String(), string(o.Status),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	return classify(err)
}

func (t *pgTx) InsertOrderItem(ctx context.Context, it *orders.OrderItem) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_items(order_id, product_id, quantity, price)
		VALUES ($1, $2, $3, $4::text::numeric)
		RETURNING id`,
		it.OrderID, it.ProductID, it.Quantity, it.Price.String(),
	).Scan(&it.ID)
	return classify(err)
}

func (t *pgTx) AppendEvent(ctx context.Context, topic string, key []byte, env orders.Envelope) error {
	return classify(outbox.Insert(ctx, t.tx, topic, key, env))
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Stock, &price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return orders.Product{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return orders.Product{}, errors.Wrapf(err, "parse price %q", price)
	}
	p.Price = d
	return p, nil
}
