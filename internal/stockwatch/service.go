package stockwatch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ilham-s-saksena/race-condition/internal/kafka"
	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

type Publisher interface {
	Send(ctx context.Context, msgs ...kafkago.Message) error
}

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Service watches committed checkouts and announces products whose stock hit zero.
type Service struct {
	Dedup       Deduper
	Producer    Publisher // bound to orders.TopicProductSoldOut
	ServiceName string
	Log         *logrus.Entry
}

// HandleOrderCreated is installed as the order.created consumer handler.
//
// The event is marked processed only after ProductSoldOut is acked, so any failure
// returns an error and the message is handled again. A crash between publish and
// mark can announce the same product twice.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m, "x-event-type"); t != "" && t != orders.EventOrderCreated {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.WithError(err).WithField("offset", m.Offset).Warn("skip malformed envelope")
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		s.Log.WithError(err).WithField("event_id", env.EventID).Warn("skip malformed payload")
		return nil
	}

	seen, err := s.Dedup.Seen(ctx, env.EventID)
	if err != nil {
		return errors.Wrap(err, "dedup lookup")
	}
	if seen {
		return nil
	}

	log := s.Log.WithFields(logrus.Fields{"order_id": p.OrderID, "remaining_stock": p.RemainingStock})
	if p.RemainingStock == 0 && len(p.Items) > 0 {
		msgs := make([]kafkago.Message, 0, len(p.Items))
		for _, it := range p.Items {
			msgs = append(msgs, s.soldOut(it.ProductID, p.OrderID, env.TraceID))
		}
		if err := s.Producer.Send(ctx, msgs...); err != nil {
			return errors.Wrap(err, "publish sold out")
		}
		for _, it := range p.Items {
			log.WithField("product_id", it.ProductID).Info("product sold out")
		}
	} else {
		log.Debug("stock left")
	}

	return errors.Wrap(s.Dedup.Mark(ctx, env.EventID), "dedup mark")
}

func (s *Service) soldOut(productID, orderID int64, trace string) kafkago.Message {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventProductSoldOut,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: strconv.FormatInt(orderID, 10),
		Payload:       kafkax.MustMarshal(orders.ProductSoldOutPayload{ProductID: productID, LastOrderID: orderID}),
	}
	return kafkago.Message{
		Key:     orders.ProductKey(productID),
		Value:   kafkax.MustMarshal(ev),
		Time:    ev.OccurredAt,
		Headers: kafkax.EventHeaders(ev.EventType, ev.EventID, ev.EventVersion),
	}
}
