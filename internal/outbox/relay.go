package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/ilham-s-saksena/race-condition/internal/kafka"
)

type Publisher interface {
	Send(ctx context.Context, msgs ...kafkago.Message) error
}

// Relay moves committed outbox records to kafka. Delivery is at-least-once; consumers dedup by event id.
type Relay struct {
	Store     Store
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
	Log       *logrus.Entry
	Published prometheus.Counter
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		// drain while full batches keep coming
		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.Log.WithError(err).Warn("outbox flush failed")
				}
				break
			}
			if n < r.BatchSize {
				break
			}
		}
	}
}

// Flush publishes one batch and returns how many records were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	n, err := r.Store.Claim(ctx, r.BatchSize, func(ctx context.Context, recs []Record) error {
		msgs := make([]kafkago.Message, 0, len(recs))
		for _, rec := range recs {
			msgs = append(msgs, kafkago.Message{
				Topic:   rec.Topic,
				Key:     []byte(rec.Key),
				Value:   rec.Payload,
				Time:    rec.CreatedAt,
				Headers: kafkax.EventHeaders(rec.EventType, rec.EventID, 1),
			})
		}
		return r.Publisher.Send(ctx, msgs...)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if r.Published != nil {
			r.Published.Add(float64(n))
		}
		r.Log.WithField("count", n).Debug("outbox published")
	}
	return n, nil
}
