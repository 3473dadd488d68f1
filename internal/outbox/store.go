package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store is the Postgres-backed outbox.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Insert writes a PENDING outbox row in the same transaction as the
// ledger row that produced it (I2), and issues a NOTIFY on the commit's
// channel so a listener wakes up immediately. tx must be the same
// transaction the ledger insert used.
func Insert(ctx context.Context, tx *sql.Tx, aggregateID string, payload Payload) (int64, error) {
	body, err := MarshalPayload(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal outbox payload: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO outbox
			(aggregate_type, aggregate_id, event_type, payload, status, retry_count, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, now())
		RETURNING id
	`, AggregateTypeOrderLedger, aggregateID, EventTypeOrderAuthorized, body, Pending).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outbox row for %s: %w", aggregateID, err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, EventTypeOrderAuthorized); err != nil {
		return 0, fmt.Errorf("notify %s: %w", NotifyChannel, err)
	}

	return id, nil
}

// Claim transactionally leases up to batch PENDING-and-due rows, skipping
// rows already leased by a concurrent claimant. Callers
// must process every returned event and call MarkProcessed/MarkFailed/
// MarkRetry on tx before committing — the lease lasts exactly as long as
// tx is open.
func Claim(ctx context.Context, tx *sql.Tx, batch int) ([]Event, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
		       status, retry_count, next_retry_at, created_at, processed_at
		FROM outbox
		WHERE status = 'PENDING'
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batch)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var rawPayload []byte
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &rawPayload,
			&e.Status, &e.RetryCount, &e.NextRetryAt, &e.CreatedAt, &e.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		e.Payload, err = unmarshalPayload(rawPayload)
		if err != nil {
			return nil, fmt.Errorf("decode outbox payload for event %d: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessed records a successful saga run.
func MarkProcessed(ctx context.Context, tx *sql.Tx, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox SET status = 'PROCESSED', processed_at = now() WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("mark outbox %d processed: %w", eventID, err)
	}
	return nil
}

// MarkFailed records a permanent failure, after compensation has been
// decided.
func MarkFailed(ctx context.Context, tx *sql.Tx, eventID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox SET status = 'FAILED', processed_at = now() WHERE id = $1
	`, eventID)
	if err != nil {
		return fmt.Errorf("mark outbox %d failed: %w", eventID, err)
	}
	return nil
}

// MarkRetry bumps retry bookkeeping for a transient failure and leaves the
// row PENDING.
func MarkRetry(ctx context.Context, tx *sql.Tx, eventID int64, nextRetryAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1, next_retry_at = $2
		WHERE id = $1
	`, eventID, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark outbox %d retry: %w", eventID, err)
	}
	return nil
}
