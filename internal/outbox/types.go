// Package outbox implements the transactional outbox and the skip-locked
// event claimant.
package outbox

import (
	"encoding/json"
	"time"
)

// Status is the outbox row's lifecycle state.
type Status string

const (
	Pending   Status = "PENDING"
	Processed Status = "PROCESSED"
	Failed    Status = "FAILED"
)

const (
	AggregateTypeOrderLedger = "OrderLedger"
	EventTypeOrderAuthorized = "OrderAuthorized"

	// NotifyChannel is the Postgres LISTEN/NOTIFY channel producers fire on.
	NotifyChannel = "order_events"
)

// Payload is the snapshot of the aggregate written with the outbox row.
// The saga executor does not read it: each invocation loads the aggregate
// and its line items from the ledger (ledger.FindByIDWithItems).
type Payload struct {
	AggregateID            string `json:"aggregate_id"`
	UserID                 string `json:"user_id"`
	Email                  string `json:"email"`
	TotalAmountCents       int64  `json:"total_amount_cents"`
	Currency               string `json:"currency"`
	PaymentAuthorizationID string `json:"payment_authorization_id"`
}

// Event is one outbox row.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       Payload
	Status        Status
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// MarshalPayload encodes p for storage in the outbox's JSON payload column.
func MarshalPayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func unmarshalPayload(raw []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(raw, &p)
	return p, err
}
