package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// Store is the Postgres-backed ledger store. All status writes go
// through Tx so they commit or abort together with the outbox write that
// produced or consumed them (§4.2).
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Tx is the subset of *sql.Tx the ledger store needs, so callers (the
// saga executor, the compensation executor) can pass in the same
// transaction that also claims and updates the outbox row.
type Tx interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// FindByIDWithItems returns a single consistent snapshot of an aggregate
// and its line items.
func FindByIDWithItems(ctx context.Context, tx Tx, id string) (*WithItems, error) {
	var a Aggregate
	row := tx.QueryRowContext(ctx, `
		SELECT id, client_request_id, user_id, email, status,
		       total_amount_cents, currency, payment_authorization_id, order_id,
		       created_at, updated_at
		FROM order_ledger
		WHERE id = $1
	`, id)

	if err := row.Scan(
		&a.ID, &a.ClientRequestID, &a.UserID, &a.Email, &a.Status,
		&a.TotalAmountCents, &a.Currency, &a.PaymentAuthorizationID, &a.OrderID,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find ledger %s: %w", id, err)
	}

	items, err := findItems(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	return &WithItems{Aggregate: a, Items: items}, nil
}

func findItems(ctx context.Context, tx Tx, ledgerID string) ([]LineItem, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price_cents
		FROM order_ledger_items
		WHERE order_ledger_id = $1
		ORDER BY id ASC
	`, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("find ledger items %s: %w", ledgerID, err)
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan ledger item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// FindByClientRequestID drives idempotent order acceptance at the edge.
// Returns ErrNotFound if no aggregate carries this key.
func (s *Store) FindByClientRequestID(ctx context.Context, clientRequestID string) (*Aggregate, error) {
	var a Aggregate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_request_id, user_id, email, status,
		       total_amount_cents, currency, payment_authorization_id, order_id,
		       created_at, updated_at
		FROM order_ledger
		WHERE client_request_id = $1
	`, clientRequestID).Scan(
		&a.ID, &a.ClientRequestID, &a.UserID, &a.Email, &a.Status,
		&a.TotalAmountCents, &a.Currency, &a.PaymentAuthorizationID, &a.OrderID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger by client_request_id: %w", err)
	}
	return &a, nil
}

// UpdateStatus advances the aggregate's status within tx. It fails the
// whole transaction (I1) if from -> to is not a legal edge, or if the
// row's current status has since diverged from from.
func UpdateStatus(ctx context.Context, tx Tx, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_ledger
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("update ledger status %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer in status %s", ErrIllegalTransition, id, from)
	}
	return nil
}

// UpdateStatusWithOrderID advances the status and persists the downstream
// orderId in the same write (step 1 of the saga, §4.4).
func UpdateStatusWithOrderID(ctx context.Context, tx Tx, id string, from, to Status, orderID string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_ledger
		SET status = $1, order_id = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, to, orderID, id, from)
	if err != nil {
		return fmt.Errorf("update ledger status+order_id %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer in status %s", ErrIllegalTransition, id, from)
	}
	return nil
}

// UpdateStatusWithPaymentAuthorization is used by the edge API's
// AWAITING_AUTHORIZATION -> AUTHORIZED transition, the one status write
// this package exposes that is not driven by the saga executor.
func UpdateStatusWithPaymentAuthorization(ctx context.Context, tx Tx, id string, to Status, paymentAuthorizationID string) error {
	if !CanTransition(AwaitingAuthorization, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, AwaitingAuthorization, to)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE order_ledger
		SET status = $1, payment_authorization_id = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`, to, paymentAuthorizationID, id, AwaitingAuthorization)
	if err != nil {
		return fmt.Errorf("update ledger status+payment_authorization_id %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is no longer AWAITING_AUTHORIZATION", ErrIllegalTransition, id)
	}
	return nil
}

// CreateAuthorized inserts a new aggregate directly in AUTHORIZED status,
// together with its items, within tx. It does not write the outbox row
// that hands the aggregate to the saga (I2); the caller does that with
// outbox.Insert on the same tx. Prices on items must already be resolved
// by the caller.
func CreateAuthorized(ctx context.Context, tx Tx, a Aggregate, items []LineItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_ledger
			(id, client_request_id, user_id, email, status,
			 total_amount_cents, currency, payment_authorization_id, order_id,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, now(), now())
	`, a.ID, a.ClientRequestID, a.UserID, a.Email, Authorized,
		a.TotalAmountCents, a.Currency, a.PaymentAuthorizationID)
	if err != nil {
		return fmt.Errorf("insert ledger %s: %w", a.ID, err)
	}

	for _, it := range items {
		if it.Quantity < 1 {
			return fmt.Errorf("ledger item %s: quantity must be >= 1", it.ProductID)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_ledger_items (order_ledger_id, product_id, quantity, unit_price_cents, created_at)
			VALUES ($1, $2, $3, $4, now())
		`, a.ID, it.ProductID, it.Quantity, it.UnitPriceCents)
		if err != nil {
			return fmt.Errorf("insert ledger item %s/%s: %w", a.ID, it.ProductID, err)
		}
	}

	return nil
}
