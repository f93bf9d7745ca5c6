package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ilham-s-saksena/race-condition/internal/auth"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, description, stock, price::text, created_at, updated_at
		FROM products
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetProduct(ctx context.Context, id int64) (orders.Product, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, description, stock, price::text, created_at, updated_at
		FROM products
		WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	return s.Pool.QueryRow(ctx, `
		INSERT INTO products(name, description, stock, price)
		VALUES ($1, $2, $3, $4::text::numeric)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Description, p.Stock, p.Price.String(),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetOrder loads an order with its items. Returns orders.ErrOrderNotFound for a missing row.
func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	var (
		o             orders.Order
		total, status string
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, user_id, total_amount::text, status, created_at, updated_at
		FROM orders
		WHERE id = $1`, id,
	).Scan(&o.ID, &o.UserID, &total, &status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, errors.Wrap(err, "parse total")
	}
	o.Status = orders.Status(status)
	if !o.Status.Valid() {
		return orders.Order{}, errors.Errorf("order %d: unknown status %q", o.ID, status)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, order_id, product_id, quantity, price::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`, id)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()

	o.Items = []orders.OrderItem{}
	for rows.Next() {
		var (
			it    orders.OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return orders.Order{}, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return orders.Order{}, errors.Wrap(err, "parse item price")
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (orders.User, error) {
	u := orders.User{Name: name, Email: email}
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO users(name, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id`, name, email, passwordHash,
	).Scan(&u.ID)
	if isCode(err, codeUniqueViolation) {
		return orders.User{}, auth.ErrEmailTaken
	}
	return u, err
}

func (s *Store) FindCredentials(ctx context.Context, email string) (auth.Credentials, error) {
	var c auth.Credentials
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash
		FROM users
		WHERE email = $1`, email,
	).Scan(&c.User.ID, &c.User.Name, &c.User.Email, &c.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return auth.Credentials{}, auth.ErrUserNotFound
	}
	return c, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (orders.User, error) {
	var u orders.User
	err := s.Pool.QueryRow(ctx, `SELECT id, name, email FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.User{}, auth.ErrUserNotFound
	}
	return u, err
}
