package orders

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Service struct {
	uow         UnitOfWork
	lockTimeout time.Duration
	producer    string
	now         func() time.Time
}

func NewService(uow UnitOfWork, lockTimeout time.Duration, producer string) *Service {
	return &Service{
		uow:         uow,
		lockTimeout: lockTimeout,
		producer:    producer,
		now:         time.Now,
	}
}

// Checkout debits quantity units of the product and records a pending order for principal.
//
// The product row is locked for the whole transaction, so concurrent checkouts of the same
// product run their check-and-decrement one at a time. On any error nothing is written.
func (s *Service) Checkout(ctx context.Context, principal User, productID int64, quantity int) (Order, error) {
	if quantity < 1 {
		return Order{}, ErrInvalidQuantity
	}
	if productID < 1 {
		return Order{}, ErrNotFound
	}

	var created Order
	err := s.uow.WithinTx(ctx, TxOptions{LockTimeout: s.lockTimeout}, func(ctx context.Context, tx Tx) error {
		product, err := tx.LockProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return Persistence("lock product", err)
		}
		if product.Stock < quantity {
			return ErrInsufficientStock
		}

		remaining := product.Stock - quantity
		if err := tx.UpdateStock(ctx, product.ID, remaining); err != nil {
			return Persistence("update stock", err)
		}

		order := Order{
			UserID:      principal.ID,
			TotalAmount: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
			Status:      StatusPending,
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return Persistence("insert order", err)
		}

		item := OrderItem{
			OrderID:   order.ID,
			ProductID: product.ID,
			Quantity:  quantity,
			Price:     product.Price,
		}
		if err := tx.InsertOrderItem(ctx, &item); err != nil {
			return Persistence("insert order item", err)
		}
		order.Items = []OrderItem{item}

		env, err := s.orderCreated(order, remaining)
		if err != nil {
			return Persistence("encode event", err)
		}
		if err := tx.AppendEvent(ctx, TopicOrderCreated, PartitionKey(order.ID), env); err != nil {
			return Persistence("append event", err)
		}

		created = order
		return nil
	})
	if err != nil {
		return Order{}, classify(err)
	}
	return created, nil
}

func (s *Service) orderCreated(o Order, remaining int) (Envelope, error) {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	payload, err := json.Marshal(OrderCreatedPayload{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Items:          items,
		TotalAmount:    o.TotalAmount,
		RemainingStock: remaining,
	})
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderCreated,
		EventVersion:  1,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		CorrelationID: strconv.FormatInt(o.ID, 10),
		Payload:       payload,
	}, nil
}

// classify keeps business errors as they are and folds everything else into ErrPersistence.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrPersistence):
		return err
	default:
		return Persistence("checkout", err)
	}
}
