// Package memstore is an in-process orders.UnitOfWork. Each product has an exclusive
// lock that a transaction keeps from LockProduct until commit or rollback, which gives
// the same serialization as SELECT ... FOR UPDATE. Writes are buffered per transaction
// and become visible only on commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

// Op names accepted by FailOn.
const (
	OpLock        = "lock product"
	OpUpdateStock = "update stock"
	OpInsertOrder = "insert order"
	OpInsertItem  = "insert order item"
	OpAppendEvent = "append event"
	OpCommit      = "commit"
)

var errNegativeStock = errors.New(`new row for relation "products" violates check constraint "products_stock_check"`)

type Event struct {
	Topic    string
	Key      []byte
	Envelope orders.Envelope
}

type Store struct {
	mu       sync.Mutex
	products map[int64]orders.Product
	orders   map[int64]orders.Order
	events   []Event
	locks    map[int64]chan struct{}
	failures map[string]error

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
}

func New() *Store {
	return &Store{
		products: make(map[int64]orders.Product),
		orders:   make(map[int64]orders.Order),
		locks:    make(map[int64]chan struct{}),
		failures: make(map[string]error),
	}
}

// AddProduct stores p, assigning an ID when p.ID is zero.
func (s *Store) AddProduct(p orders.Product) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextProductID++
		p.ID = s.nextProductID
	} else if p.ID > s.nextProductID {
		s.nextProductID = p.ID
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = p
	return p
}

func (s *Store) Product(id int64) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

// SetPrice changes the catalog price outside of any checkout.
func (s *Store) SetPrice(id int64, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Price = price
	s.products[id] = p
}

// Orders returns committed orders sorted by ID.
func (s *Store) Orders() []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// FailOn makes the next call of op return err. The injection is consumed once.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return err
}

func (s *Store) lockFor(id int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) WithinTx(ctx context.Context, opts orders.TxOptions, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return orders.Persistence("begin", err)
	}
	tx := &memTx{
		store: s,
		opts:  opts,
		held:  make(map[int64]chan struct{}),
		stock: make(map[int64]int),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.injected(OpCommit); err != nil {
		return orders.Persistence(OpCommit, err)
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, stock := range tx.stock {
		p := s.products[id]
		p.Stock = stock
		p.UpdatedAt = now
		s.products[id] = p
	}
	for _, o := range tx.orders {
		for _, it := range tx.items {
			if it.OrderID == o.ID {
				o.Items = append(o.Items, it)
			}
		}
		s.orders[o.ID] = o
	}
	s.events = append(s.events, tx.events...)
}

type memTx struct {
	store *Store
	opts  orders.TxOptions
	held  map[int64]chan struct{}

	stock  map[int64]int
	orders []orders.Order
	items  []orders.OrderItem
	events []Event
}

func (t *memTx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
}

func (t *memTx) LockProduct(ctx context.Context, id int64) (orders.Product, error) {
	if err := t.store.injected(OpLock); err != nil {
		return orders.Product{}, err
	}
	// A missing row takes no lock.
	if _, ok := t.store.Product(id); !ok {
		return orders.Product{}, orders.ErrNotFound
	}

	if _, ok := t.held[id]; !ok {
		lock := t.store.lockFor(id)
		var timeout <-chan time.Time
		if t.opts.LockTimeout > 0 {
			timer := time.NewTimer(t.opts.LockTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case lock <- struct{}{}:
			t.held[id] = lock
		case <-timeout:
			return orders.Product{}, orders.ErrLockTimeout
		case <-ctx.Done():
			return orders.Product{}, ctx.Err()
		}
	}

	p, _ := t.store.Product(id)
	if stock, ok := t.stock[id]; ok {
		p.Stock = stock
	}
	return p, nil
}

func (t *memTx) UpdateStock(_ context.Context, productID int64, stock int) error {
	if err := t.store.injected(OpUpdateStock); err != nil {
		return err
	}
	if _, ok := t.held[productID]; !ok {
		return errors.Errorf("product %d updated without holding its lock", productID)
	}
	if stock < 0 {
		return errNegativeStock
	}
	t.stock[productID] = stock
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, o *orders.Order) error {
	if err := t.store.injected(OpInsertOrder); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.nextOrderID++
	o.ID = t.store.nextOrderID
	t.store.mu.Unlock()

	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	saved := *o
	saved.Items = nil
	t.orders = append(t.orders, saved)
	return nil
}

func (t *memTx) InsertOrderItem(_ context.Context, it *orders.OrderItem) error {
	if err := t.store.injected(OpInsertItem); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.nextItemID++
	it.ID = t.store.nextItemID
	t.store.mu.Unlock()

	t.items = append(t.items, *it)
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, topic string, key []byte, env orders.Envelope) error {
	if err := t.store.injected(OpAppendEvent); err != nil {
		return err
	}
	t.events = append(t.events, Event{Topic: topic, Key: key, Envelope: env})
	return nil
}

// ListProducts returns the committed catalog sorted by ID.
func (s *Store) ListProducts(context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (orders.Product, error) {
	p, ok := s.Product(id)
	if !ok {
		return orders.Product{}, orders.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	return o, nil
}
