package compensation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timour/order-saga-orchestrator/internal/clients"
	"github.com/timour/order-saga-orchestrator/internal/ledger"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
)

var tracer = otel.Tracer("compensation")

type PaymentsClient interface {
	VoidPayment(ctx context.Context, aggregateID, authorizationID string) *clients.Error
}

type InventoryClient interface {
	ReleaseStock(ctx context.Context, aggregateID, orderID string) *clients.Error
}

type OrdersClient interface {
	CancelOrder(ctx context.Context, aggregateID, orderID string) *clients.Error
}

// Input is what the compensation executor needs to decide which steps
// apply.
type Input struct {
	AggregateID            string
	OrderID                *string
	PaymentAuthorizationID *string
	LastSuccessfulStatus   ledger.Status
}

// Executor runs void -> release -> cancel, each step best-effort and
// independent.
type Executor struct {
	payments PaymentsClient
	inv      InventoryClient
	orders   OrdersClient
	metrics  *metrics.SagaMetrics
	log      *slog.Logger
}

func NewExecutor(payments PaymentsClient, inv InventoryClient, orders OrdersClient, m *metrics.SagaMetrics, log *slog.Logger) *Executor {
	return &Executor{payments: payments, inv: inv, orders: orders, metrics: m, log: log}
}

// Run executes the steps required by in.LastSuccessfulStatus, in order
// void -> release -> cancel, and reports which (if any) failed.
func (e *Executor) Run(ctx context.Context, in Input) Outcome {
	ctx, span := tracer.Start(ctx, "compensation.run",
		attribute.String("aggregate_id", in.AggregateID),
		attribute.String("last_successful_status", string(in.LastSuccessfulStatus)))
	defer span.End()

	voidPayment, releaseInventory, cancelOrder := stepsFor(in.LastSuccessfulStatus)

	var failing []string

	if voidPayment {
		if in.PaymentAuthorizationID == nil {
			e.log.Warn("compensation skipped void_payment: no authorization id recorded", "aggregate_id", in.AggregateID)
		} else if cerr := e.payments.VoidPayment(ctx, in.AggregateID, *in.PaymentAuthorizationID); cerr != nil {
			e.recordStep("void_payment", false, in.AggregateID, cerr)
			failing = append(failing, "void_payment")
		} else {
			e.recordStep("void_payment", true, in.AggregateID, nil)
		}
	} else if in.LastSuccessfulStatus == ledger.PaymentCaptured {
		e.log.Warn("payment already captured; compensation requires a manual refund", "aggregate_id", in.AggregateID, "authorization_id", derefOrEmpty(in.PaymentAuthorizationID))
	}

	if releaseInventory {
		if in.OrderID == nil {
			e.log.Warn("compensation skipped release_stock: no order id recorded", "aggregate_id", in.AggregateID)
		} else if cerr := e.inv.ReleaseStock(ctx, in.AggregateID, *in.OrderID); cerr != nil {
			e.recordStep("release_stock", false, in.AggregateID, cerr)
			failing = append(failing, "release_stock")
		} else {
			e.recordStep("release_stock", true, in.AggregateID, nil)
		}
	}

	if cancelOrder {
		if in.OrderID == nil {
			e.log.Warn("compensation skipped cancel_order: no order id recorded", "aggregate_id", in.AggregateID)
		} else if cerr := e.orders.CancelOrder(ctx, in.AggregateID, *in.OrderID); cerr != nil {
			e.recordStep("cancel_order", false, in.AggregateID, cerr)
			failing = append(failing, "cancel_order")
		} else {
			e.recordStep("cancel_order", true, in.AggregateID, nil)
		}
	}

	if len(failing) > 0 {
		e.metrics.CompensationFailed.Inc()
		return Outcome{Kind: PartiallyCompensated, FailingSteps: failing}
	}
	return Outcome{Kind: Compensated}
}

// stepsFor decides which undo steps apply for the last successful status.
func stepsFor(status ledger.Status) (voidPayment, releaseInventory, cancelOrder bool) {
	switch status {
	case ledger.Authorized:
		return true, false, false
	case ledger.OrderCreated:
		return true, false, true
	case ledger.InventoryReserved:
		return true, true, true
	case ledger.PaymentCaptured:
		return false, true, true
	default:
		return false, false, false
	}
}

func (e *Executor) recordStep(step string, ok bool, aggregateID string, cerr *clients.Error) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
		e.log.Error("compensation step failed", "aggregate_id", aggregateID, "step", step, "reason", cerr.Reason)
	} else {
		e.log.Info("compensation step succeeded", "aggregate_id", aggregateID, "step", step)
	}
	e.metrics.RecordCompensationStep(step, outcome)
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
