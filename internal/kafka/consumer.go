package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler returns nil only when the message is fully processed and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// Reader is the part of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r        Reader
	workers  int
	attempts int
	backoff  time.Duration
	log      *logrus.Entry
}

func NewConsumer(brokers []string, group, topic string, workers int, log *logrus.Entry) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r Reader, workers int, log *logrus.Entry) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, attempts: 3, backoff: 200 * time.Millisecond, log: log}
}

type job struct {
	m    kafka.Message
	done chan error
}

// Start handles messages on a pool of workers until ctx is cancelled.
//
// Offsets are committed in fetch order, each one only after every earlier message
// succeeded. A message that still fails after the retries stops the consumer with
// an error, leaving its offset uncommitted so the group reads it again.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, c.workers)
	inflight := make(chan job, 2*c.workers)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				j.done <- c.handle(runCtx, h, j.m)
			}
		}()
	}

	commitErr := make(chan error, 1)
	go func() {
		commitErr <- c.commitInOrder(ctx, runCtx, inflight)
		cancel()
	}()

	var fetchErr error
dispatch:
	for {
		m, err := c.r.FetchMessage(runCtx)
		if err != nil {
			fetchErr = err
			break
		}
		j := job{m: m, done: make(chan error, 1)}
		select {
		case jobs <- j:
		case <-runCtx.Done():
			break dispatch
		}
		select {
		case inflight <- j:
		case <-runCtx.Done():
			break dispatch
		}
	}
	close(jobs)
	close(inflight)
	wg.Wait()

	if err := <-commitErr; err != nil {
		return err
	}
	if fetchErr != nil && ctx.Err() == nil && runCtx.Err() == nil {
		return fetchErr
	}
	return nil
}

// handle retries h with a linear backoff before giving up on m.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"partition": m.Partition,
			"offset":    m.Offset,
			"attempt":   attempt,
		}).Warn("consumer handler failed")
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return err
}

func (c *Consumer) commitInOrder(parent, runCtx context.Context, inflight <-chan job) error {
	// commits of finished work still go through during shutdown
	commitCtx := context.WithoutCancel(parent)
	for j := range inflight {
		var err error
		select {
		case err = <-j.done:
		case <-runCtx.Done():
			return nil
		}
		if err != nil {
			if parent.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "handle message partition=%d offset=%d", j.m.Partition, j.m.Offset)
		}
		if err := c.r.CommitMessages(commitCtx, j.m); err != nil {
			return errors.Wrap(err, "commit")
		}
	}
	return nil
}
