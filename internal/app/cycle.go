package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/timour/order-saga-orchestrator/internal/compensation"
	"github.com/timour/order-saga-orchestrator/internal/ledger"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
	"github.com/timour/order-saga-orchestrator/internal/outbox"
	"github.com/timour/order-saga-orchestrator/internal/retry"
	"github.com/timour/order-saga-orchestrator/internal/saga"
)

// Processor ties the event claimant to the saga executor, the retry policy
// and the compensation executor: one claim-and-process cycle handles a
// batch end to end inside a single transaction shared by every event of
// the batch.
type Processor struct {
	db          *sql.DB
	batchSize   int
	sagaExec    *saga.Executor
	compExec    *compensation.Executor
	retryPolicy retry.Policy
	metrics     *metrics.SagaMetrics
	log         *slog.Logger
}

func NewProcessor(db *sql.DB, batchSize int, sagaExec *saga.Executor, compExec *compensation.Executor, policy retry.Policy, m *metrics.SagaMetrics, log *slog.Logger) *Processor {
	return &Processor{db: db, batchSize: batchSize, sagaExec: sagaExec, compExec: compExec, retryPolicy: policy, metrics: m, log: log}
}

// RunCycle claims one batch of due outbox events and drives each to a
// terminal-for-this-invocation outcome, all within one transaction so the
// lease, ledger writes and outbox bookkeeping commit or abort together.
func (p *Processor) RunCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { p.metrics.SagaCycleDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	events, err := outbox.Claim(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := p.processEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// processEvent runs the saga for one event and applies the resulting
// outbox/ledger bookkeeping, all within the caller's transaction.
// Returning an error aborts the whole cycle (infrastructure failure); a
// business outcome never returns an error.
func (p *Processor) processEvent(ctx context.Context, tx *sql.Tx, event outbox.Event) error {
	if p.retryPolicy.IsMaxRetriesExceeded(event.RetryCount) {
		p.log.Warn("retries exhausted, compensating without another attempt", "aggregate_id", event.AggregateID, "event_id", event.ID, "retry_count", event.RetryCount)
		return p.compensate(ctx, tx, event)
	}

	outcome := p.sagaExec.Execute(ctx, tx, event)

	switch outcome.Kind {
	case saga.Completed:
		p.log.Info("saga completed", "aggregate_id", event.AggregateID, "event_id", event.ID)
		return outbox.MarkProcessed(ctx, tx, event.ID)

	case saga.RequiresRetry:
		nextRetryAt := p.retryPolicy.NextRetryAt(time.Now(), event.RetryCount)
		p.metrics.RetriesScheduled.Inc()
		p.log.Info("saga step requires retry", "aggregate_id", event.AggregateID, "event_id", event.ID, "retry_count", event.RetryCount+1, "next_retry_at", nextRetryAt)
		return outbox.MarkRetry(ctx, tx, event.ID, nextRetryAt)

	case saga.RequiresCompensation:
		return p.compensate(ctx, tx, event)

	case saga.Failed:
		p.log.Error("saga failed without forward progress", "aggregate_id", event.AggregateID, "event_id", event.ID, "reason", outcome.Reason)
		p.metrics.AggregatesFailed.Inc()
		return outbox.MarkFailed(ctx, tx, event.ID)

	default:
		return outbox.MarkFailed(ctx, tx, event.ID)
	}
}

// compensate reads the aggregate's current (last-successful) status,
// transitions it to COMPENSATING, runs the compensation executor, and
// moves it to FAILED, recording the outcome on the outbox row.
func (p *Processor) compensate(ctx context.Context, tx *sql.Tx, event outbox.Event) error {
	agg, err := ledger.FindByIDWithItems(ctx, tx, event.AggregateID)
	if err != nil {
		return err
	}
	a := &agg.Aggregate
	lastSuccessful := a.Status

	if ledger.CanTransition(lastSuccessful, ledger.Compensating) {
		if err := ledger.UpdateStatus(ctx, tx, a.ID, lastSuccessful, ledger.Compensating); err != nil {
			return err
		}
	}

	result := p.compExec.Run(ctx, compensation.Input{
		AggregateID:            a.ID,
		OrderID:                a.OrderID,
		PaymentAuthorizationID: a.PaymentAuthorizationID,
		LastSuccessfulStatus:   lastSuccessful,
	})

	if err := ledger.UpdateStatus(ctx, tx, a.ID, ledger.Compensating, ledger.Failed); err != nil {
		return err
	}
	p.metrics.AggregatesFailed.Inc()

	if result.Kind == compensation.PartiallyCompensated {
		p.log.Error("compensation incomplete, operator follow-up required", "aggregate_id", a.ID, "failing_steps", result.FailingSteps)
	} else {
		p.log.Info("compensation completed", "aggregate_id", a.ID)
	}

	return outbox.MarkFailed(ctx, tx, event.ID)
}
