package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/ilham-s-saksena/race-condition/internal/orders"
)

type Record struct {
	ID        int64
	EventID   string
	EventType string
	Topic     string
	Key       string
	Payload   []byte // the marshalled envelope
	CreatedAt time.Time
}

// Insert stores env as a pending record within tx, so it commits or rolls back with the caller's writes.
func Insert(ctx context.Context, tx pgx.Tx, topic string, key []byte, env orders.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox(event_id, event_type, topic, key, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		env.EventID, env.EventType, topic, string(key), data,
	)
	return err
}

// Store hands out batches of pending records. publish runs while the batch is claimed;
// the records are marked sent only if publish returns nil.
type Store interface {
	Claim(ctx context.Context, limit int, publish func(ctx context.Context, recs []Record) error) (int, error)
}

type PGStore struct {
	Pool *pgxpool.Pool
}

// Claim locks up to limit pending rows with SKIP LOCKED so several relays can run side by side.
func (s *PGStore) Claim(ctx context.Context, limit int, publish func(ctx context.Context, recs []Record) error) (int, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, event_type, topic, key, payload, created_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, err
	}
	var recs []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.EventID, &r.EventType, &r.Topic, &r.Key, &r.Payload, &r.CreatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		recs = append(recs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	if err := publish(ctx, recs); err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(recs), nil
}
