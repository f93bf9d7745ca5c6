package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

// SampleProduct is the single limited-stock product used to demonstrate checkout contention.
func SampleProduct() orders.Product {
	return orders.Product{
		Name:        "Sample Product",
		Description: "This is a sample product description.",
		Stock:       1,
		Price:       decimal.RequireFromString("100.00"),
	}
}

// Seed inserts the sample product unless a product with the same name already exists.
// With reset an existing sample product gets its stock and price restored, so the
// contention demo can be run again.
func (s *Store) Seed(ctx context.Context, reset bool) (orders.Product, error) {
	want := SampleProduct()
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, description, stock, price::text, created_at, updated_at
		FROM products
		WHERE name = $1
		ORDER BY id
		LIMIT 1`, want.Name)
	p, err := scanProduct(row)
	if err == nil {
		if !reset {
			return p, nil
		}
		return s.resetProduct(ctx, p.ID, want)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, errors.Wrap(err, "find sample product")
	}
	if err := s.CreateProduct(ctx, &want); err != nil {
		return orders.Product{}, errors.Wrap(err, "create sample product")
	}
	return want, nil
}

func (s *Store) resetProduct(ctx context.Context, id int64, want orders.Product) (orders.Product, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE products
		SET stock = $2, price = $3::text::numeric, updated_at = now()
		WHERE id = $1
		RETURNING id, name, description, stock, price::text, created_at, updated_at`,
		id, want.Stock, want.Price.String())
	p, err := scanProduct(row)
	if err != nil {
		return orders.Product{}, errors.Wrap(err, "reset sample product")
	}
	return p, nil
}
