package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
	"github.com/ilham-s-saksena/race-condition/internal/orders/memstore"
)

var buyer = orders.User{ID: 42, Name: "buyer", Email: "buyer@example.com"}

func setup(t *testing.T, stock int, price string) (*orders.Service, *memstore.Store, orders.Product) {
	t.Helper()
	store := memstore.New()
	p := store.AddProduct(orders.Product{
		Name:  "Sample Product",
		Stock: stock,
		Price: decimal.RequireFromString(price),
	})
	return orders.NewService(store, time.Second, "checkout-test"), store, p
}

func stockOf(t *testing.T, store *memstore.Store, id int64) int {
	t.Helper()
	p, ok := store.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestCheckout_Success(t *testing.T) {
	svc, store, p := setup(t, 5, "100.00")

	order, err := svc.Checkout(context.Background(), buyer, p.ID, 2)
	require.NoError(t, err)

	assert.NotZero(t, order.ID)
	assert.Equal(t, buyer.ID, order.UserID)
	assert.Equal(t, orders.StatusPending, order.Status)
	assert.True(t, decimal.RequireFromString("200.00").Equal(order.TotalAmount), "total %s", order.TotalAmount)
	require.Len(t, order.Items, 1)
	assert.Equal(t, order.ID, order.Items[0].OrderID)
	assert.Equal(t, p.ID, order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.True(t, p.Price.Equal(order.Items[0].Price))

	assert.Equal(t, 3, stockOf(t, store, p.ID))
	assert.Len(t, store.Orders(), 1)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, orders.TopicOrderCreated, events[0].Topic)
	assert.Equal(t, orders.EventOrderCreated, events[0].Envelope.EventType)
	assert.Equal(t, "checkout-test", events[0].Envelope.Producer)

	var payload orders.OrderCreatedPayload
	require.NoError(t, json.Unmarshal(events[0].Envelope.Payload, &payload))
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, 3, payload.RemainingStock)
}

func TestCheckout_QuantityBoundary(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		quantity  int
		wantErr   error
		wantStock int
	}{
		{name: "quantity equals stock", stock: 3, quantity: 3, wantStock: 0},
		{name: "quantity exceeds stock by one", stock: 3, quantity: 4, wantErr: orders.ErrInsufficientStock, wantStock: 3},
		{name: "out of stock", stock: 0, quantity: 1, wantErr: orders.ErrInsufficientStock, wantStock: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, p := setup(t, tc.stock, "10.50")

			_, err := svc.Checkout(context.Background(), buyer, p.ID, tc.quantity)

			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Empty(t, store.Orders())
				assert.Empty(t, store.Events())
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.wantStock, stockOf(t, store, p.ID))
		})
	}
}

func TestCheckout_ProductNotFound(t *testing.T) {
	svc, store, p := setup(t, 1, "100.00")

	for _, id := range []int64{p.ID + 100, 0, -1} {
		_, err := svc.Checkout(context.Background(), buyer, id, 1)
		assert.ErrorIs(t, err, orders.ErrNotFound)
		assert.NotErrorIs(t, err, orders.ErrPersistence)
	}
	assert.Empty(t, store.Orders())
	assert.Empty(t, store.Events())
	assert.Equal(t, 1, stockOf(t, store, p.ID))
}

func TestCheckout_InvalidQuantity(t *testing.T) {
	svc, store, p := setup(t, 1, "100.00")

	for _, q := range []int{0, -3} {
		_, err := svc.Checkout(context.Background(), buyer, p.ID, q)
		assert.ErrorIs(t, err, orders.ErrInvalidQuantity)
	}
	assert.Equal(t, 1, stockOf(t, store, p.ID))
}

func TestCheckout_FailureRollsBackEverything(t *testing.T) {
	ops := []string{
		memstore.OpLock,
		memstore.OpUpdateStock,
		memstore.OpInsertOrder,
		memstore.OpInsertItem,
		memstore.OpAppendEvent,
		memstore.OpCommit,
	}

	for _, op := range ops {
		t.Run(op, func(t *testing.T) {
			svc, store, p := setup(t, 2, "100.00")
			store.FailOn(op, errors.New("connection reset by peer"))

			_, err := svc.Checkout(context.Background(), buyer, p.ID, 1)

			require.Error(t, err)
			assert.ErrorIs(t, err, orders.ErrPersistence)
			assert.ErrorContains(t, err, "connection reset by peer")
			assert.Equal(t, 2, stockOf(t, store, p.ID))
			assert.Empty(t, store.Orders())
			assert.Empty(t, store.Events())

			// The failed attempt must not leave the row locked.
			_, err = svc.Checkout(context.Background(), buyer, p.ID, 1)
			assert.NoError(t, err)
		})
	}
}

func TestCheckout_PriceSnapshot(t *testing.T) {
	svc, store, p := setup(t, 2, "100.00")

	order, err := svc.Checkout(context.Background(), buyer, p.ID, 1)
	require.NoError(t, err)

	store.SetPrice(p.ID, decimal.RequireFromString("250.00"))

	saved := store.Orders()
	require.Len(t, saved, 1)
	require.Len(t, saved[0].Items, 1)
	assert.True(t, decimal.RequireFromString("100.00").Equal(saved[0].Items[0].Price))
	assert.True(t, decimal.RequireFromString("100.00").Equal(order.TotalAmount))

	next, err := svc.Checkout(context.Background(), buyer, p.ID, 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("250.00").Equal(next.Items[0].Price))
}

// runConcurrent fires k single-unit checkouts at once and returns success and insufficient-stock counts.
func runConcurrent(t *testing.T, svc *orders.Service, productID int64, k int) (int64, int64) {
	t.Helper()
	var ok, insufficient int64
	start := make(chan struct{})

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < k; i++ {
		user := orders.User{ID: int64(i + 1)}
		g.Go(func() error {
			<-start
			_, err := svc.Checkout(ctx, user, productID, 1)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, orders.ErrInsufficientStock):
				atomic.AddInt64(&insufficient, 1)
			default:
				return err
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	return ok, insufficient
}

func TestCheckout_ConcurrentSingleUnitExactlyOneWinner(t *testing.T) {
	for _, k := range []int{1, 2, 10, 100} {
		svc, store, p := setup(t, 1, "100.00")

		ok, insufficient := runConcurrent(t, svc, p.ID, k)

		assert.EqualValues(t, 1, ok, "k=%d", k)
		assert.EqualValues(t, k-1, insufficient, "k=%d", k)
		assert.Equal(t, 0, stockOf(t, store, p.ID))

		saved := store.Orders()
		require.Len(t, saved, 1)
		assert.True(t, decimal.RequireFromString("100.00").Equal(saved[0].TotalAmount))
	}
}

func TestCheckout_ConcurrentNoOversell(t *testing.T) {
	tests := []struct{ stock, callers int }{
		{stock: 5, callers: 50},
		{stock: 20, callers: 20},
		{stock: 30, callers: 10},
	}
	for _, tc := range tests {
		svc, store, p := setup(t, tc.stock, "1.99")

		ok, insufficient := runConcurrent(t, svc, p.ID, tc.callers)

		want := tc.stock
		if tc.callers < want {
			want = tc.callers
		}
		assert.EqualValues(t, want, ok)
		assert.EqualValues(t, tc.callers-want, insufficient)
		assert.Equal(t, tc.stock-int(ok), stockOf(t, store, p.ID))
		assert.Len(t, store.Orders(), int(ok))
		assert.Len(t, store.Events(), int(ok))
	}
}

func TestCheckout_LockTimeoutIsPersistenceFailure(t *testing.T) {
	store := memstore.New()
	p := store.AddProduct(orders.Product{Name: "hot", Stock: 1, Price: decimal.NewFromInt(5)})
	svc := orders.NewService(store, 50*time.Millisecond, "checkout-test")

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithinTx(context.Background(), orders.TxOptions{}, func(ctx context.Context, tx orders.Tx) error {
			if _, err := tx.LockProduct(ctx, p.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return errors.New("abort holder")
		})
	}()
	<-locked

	_, err := svc.Checkout(context.Background(), buyer, p.ID, 1)
	assert.ErrorIs(t, err, orders.ErrPersistence)
	assert.ErrorIs(t, err, orders.ErrLockTimeout)

	close(release)
	wg.Wait()

	assert.Equal(t, 1, stockOf(t, store, p.ID))
	_, err = svc.Checkout(context.Background(), buyer, p.ID, 1)
	assert.NoError(t, err)
}

func TestCheckout_DifferentProductsDoNotContend(t *testing.T) {
	store := memstore.New()
	hot := store.AddProduct(orders.Product{Name: "hot", Stock: 1, Price: decimal.NewFromInt(5)})
	cold := store.AddProduct(orders.Product{Name: "cold", Stock: 1, Price: decimal.NewFromInt(7)})
	svc := orders.NewService(store, 50*time.Millisecond, "checkout-test")

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithinTx(context.Background(), orders.TxOptions{}, func(ctx context.Context, tx orders.Tx) error {
			if _, err := tx.LockProduct(ctx, hot.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	order, err := svc.Checkout(context.Background(), buyer, cold.ID, 1)
	assert.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7).Equal(order.TotalAmount))

	close(release)
	wg.Wait()
}

func TestCheckout_CancelledWhileWaiting(t *testing.T) {
	store := memstore.New()
	p := store.AddProduct(orders.Product{Name: "hot", Stock: 1, Price: decimal.NewFromInt(5)})
	svc := orders.NewService(store, time.Minute, "checkout-test")

	locked := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = store.WithinTx(context.Background(), orders.TxOptions{}, func(ctx context.Context, tx orders.Tx) error {
			if _, err := tx.LockProduct(ctx, p.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return errors.New("abort holder")
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Checkout(ctx, buyer, p.ID, 1)
	assert.ErrorIs(t, err, orders.ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	wg.Wait()
}

type brokenUoW struct{ err error }

func (b brokenUoW) WithinTx(context.Context, orders.TxOptions, func(context.Context, orders.Tx) error) error {
	return b.err
}

func TestCheckout_UnknownErrorsAreClassifiedAsPersistence(t *testing.T) {
	svc := orders.NewService(brokenUoW{err: errors.New("dial tcp: connection refused")}, time.Second, "x")

	_, err := svc.Checkout(context.Background(), buyer, 1, 1)
	assert.ErrorIs(t, err, orders.ErrPersistence)
	assert.ErrorContains(t, err, "connection refused")
}
