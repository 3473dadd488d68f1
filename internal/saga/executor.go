package saga

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timour/order-saga-orchestrator/internal/clients"
	"github.com/timour/order-saga-orchestrator/internal/ledger"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
	"github.com/timour/order-saga-orchestrator/internal/outbox"
)

var tracer = otel.Tracer("saga")

// OrdersClient, InventoryClient and PaymentsClient are the narrow
// interfaces the executor depends on, satisfied by internal/clients'
// concrete types and by fakes in tests.
type OrdersClient interface {
	CreateOrder(ctx context.Context, req clients.CreateOrderRequest) (string, *clients.Error)
	ConfirmOrder(ctx context.Context, aggregateID, orderID string) *clients.Error
}

type InventoryClient interface {
	ReserveStock(ctx context.Context, aggregateID, orderID string, items []ledger.LineItem) ([]string, *clients.Error)
}

type PaymentsClient interface {
	CapturePayment(ctx context.Context, aggregateID, authorizationID string) (string, *clients.Error)
}

// Executor drives one aggregate's remaining steps. It is pure with respect
// to the event: repeated invocations from any attainable status converge
// on the same terminal outcome.
type Executor struct {
	orders   OrdersClient
	inv      InventoryClient
	payments PaymentsClient
	metrics  *metrics.SagaMetrics
	log      *slog.Logger
}

func NewExecutor(orders OrdersClient, inv InventoryClient, payments PaymentsClient, m *metrics.SagaMetrics, log *slog.Logger) *Executor {
	return &Executor{orders: orders, inv: inv, payments: payments, metrics: m, log: log}
}

// Execute drives one outbox event's aggregate as far forward as it can in
// a single invocation, falling through step by step. tx is the claim
// cycle's transaction: every ledger write here commits or aborts together
// with the event's lease.
func (e *Executor) Execute(ctx context.Context, tx *sql.Tx, event outbox.Event) Outcome {
	ctx, span := tracer.Start(ctx, "saga.execute",
		attribute.String("aggregate_id", event.AggregateID),
		attribute.Int64("event_id", event.ID))
	defer span.End()

	agg, err := ledger.FindByIDWithItems(ctx, tx, event.AggregateID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return failedOutcome("aggregate not found", err)
		}
		return failedOutcome("ledger read failed", err)
	}

	for {
		outcome, advanced := e.step(ctx, tx, agg)
		if !advanced {
			return outcome
		}
		// step() wrote a transition within tx and updated agg in place; loop to
		// dispatch the next step in the same invocation.
	}
}

// step executes exactly one remote call for agg's current status and
// writes the resulting ledger transition. advanced is true when the loop
// in Execute should continue to the next status; it is false whenever the
// outcome is final for this invocation (retry, compensation, terminal
// failure, or a genuine COMPLETED).
func (e *Executor) step(ctx context.Context, tx *sql.Tx, agg *ledger.WithItems) (Outcome, bool) {
	a := &agg.Aggregate

	switch a.Status {
	case ledger.AwaitingAuthorization:
		return failedOutcome("event dispatched for an aggregate still awaiting authorization", nil), false

	case ledger.Authorized:
		return e.runStep(ctx, a, "create_order", func() *clients.Error {
			if a.PaymentAuthorizationID == nil {
				return &clients.Error{Operation: "create_order", Reason: "missing payment authorization id", Retryable: false}
			}
			orderID, cerr := e.orders.CreateOrder(ctx, clients.CreateOrderRequest{
				AggregateID: a.ID,
				UserID:      a.UserID,
				Total:       a.TotalAmountCents,
				Currency:    a.Currency,
				Items:       agg.Items,
			})
			if cerr != nil {
				return cerr
			}
			if err := ledger.UpdateStatusWithOrderID(ctx, tx, a.ID, ledger.Authorized, ledger.OrderCreated, orderID); err != nil {
				return &clients.Error{Operation: "create_order", Reason: "commit order_created: " + err.Error(), Retryable: false}
			}
			a.Status = ledger.OrderCreated
			a.OrderID = &orderID
			return nil
		})

	case ledger.OrderCreated:
		return e.runStep(ctx, a, "reserve_stock", func() *clients.Error {
			if a.OrderID == nil {
				return &clients.Error{Operation: "reserve_stock", Reason: "missing order id", Retryable: false}
			}
			if _, cerr := e.inv.ReserveStock(ctx, a.ID, *a.OrderID, agg.Items); cerr != nil {
				return cerr
			}
			if err := ledger.UpdateStatus(ctx, tx, a.ID, ledger.OrderCreated, ledger.InventoryReserved); err != nil {
				return &clients.Error{Operation: "reserve_stock", Reason: "commit inventory_reserved: " + err.Error(), Retryable: false}
			}
			a.Status = ledger.InventoryReserved
			return nil
		})

	case ledger.InventoryReserved:
		return e.runStep(ctx, a, "capture_payment", func() *clients.Error {
			if a.PaymentAuthorizationID == nil {
				return &clients.Error{Operation: "capture_payment", Reason: "missing payment authorization id", Retryable: false}
			}
			if _, cerr := e.payments.CapturePayment(ctx, a.ID, *a.PaymentAuthorizationID); cerr != nil {
				return cerr
			}
			if err := ledger.UpdateStatus(ctx, tx, a.ID, ledger.InventoryReserved, ledger.PaymentCaptured); err != nil {
				return &clients.Error{Operation: "capture_payment", Reason: "commit payment_captured: " + err.Error(), Retryable: false}
			}
			a.Status = ledger.PaymentCaptured
			return nil
		})

	case ledger.PaymentCaptured:
		return e.runStep(ctx, a, "confirm_order", func() *clients.Error {
			if a.OrderID == nil {
				return &clients.Error{Operation: "confirm_order", Reason: "missing order id", Retryable: false}
			}
			if cerr := e.orders.ConfirmOrder(ctx, a.ID, *a.OrderID); cerr != nil {
				return cerr
			}
			if err := ledger.UpdateStatus(ctx, tx, a.ID, ledger.PaymentCaptured, ledger.Completed); err != nil {
				return &clients.Error{Operation: "confirm_order", Reason: "commit completed: " + err.Error(), Retryable: false}
			}
			a.Status = ledger.Completed
			return nil
		})

	case ledger.Completed:
		return completedOutcome(), false

	case ledger.Compensating, ledger.Failed, ledger.AuthorizationFailed:
		return failedOutcome(fmt.Sprintf("event dispatched for terminal-bound status %s", a.Status), nil), false

	default:
		return failedOutcome(fmt.Sprintf("unknown status %s", a.Status), nil), false
	}
}

// runStep calls fn, classifies any *clients.Error into a retry/compensate
// decision, records metrics, and reports whether the caller should fall
// through to dispatch the next step.
func (e *Executor) runStep(ctx context.Context, a *ledger.Aggregate, step string, fn func() *clients.Error) (Outcome, bool) {
	start := time.Now()
	cerr := fn()
	duration := time.Since(start)

	if cerr == nil {
		e.metrics.RecordStep(step, "ok", duration)
		e.log.Info("saga step succeeded", "aggregate_id", a.ID, "step", step, "new_status", a.Status)
		if a.Status == ledger.Completed {
			e.metrics.AggregatesCompleted.Inc()
			return completedOutcome(), false
		}
		return completedOutcome(), true
	}

	if cerr.IsRetryable() {
		e.metrics.RecordStep(step, "retry", duration)
		e.log.Warn("saga step requires retry", "aggregate_id", a.ID, "step", step, "reason", cerr.Reason)
		return retryOutcome(cerr.Error()), false
	}

	e.metrics.RecordStep(step, "compensate", duration)
	e.log.Warn("saga step requires compensation", "aggregate_id", a.ID, "step", step, "reason", cerr.Reason)
	return compensateOutcome(cerr.Error()), false
}
