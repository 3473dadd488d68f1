package compensation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timour/order-saga-orchestrator/internal/clients"
	"github.com/timour/order-saga-orchestrator/internal/ledger"
	"github.com/timour/order-saga-orchestrator/internal/logger"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
)

type fakePayments struct {
	voidErr   *clients.Error
	voidCalls []string
}

func (f *fakePayments) VoidPayment(ctx context.Context, aggregateID, authorizationID string) *clients.Error {
	f.voidCalls = append(f.voidCalls, authorizationID)
	return f.voidErr
}

type fakeInventory struct {
	releaseErr   *clients.Error
	releaseCalls []string
}

func (f *fakeInventory) ReleaseStock(ctx context.Context, aggregateID, orderID string) *clients.Error {
	f.releaseCalls = append(f.releaseCalls, orderID)
	return f.releaseErr
}

type fakeOrders struct {
	cancelErr   *clients.Error
	cancelCalls []string
}

func (f *fakeOrders) CancelOrder(ctx context.Context, aggregateID, orderID string) *clients.Error {
	f.cancelCalls = append(f.cancelCalls, orderID)
	return f.cancelErr
}

// testMetrics is built once: promauto registers globally, and registering
// the same metric names a second time panics.
var testMetrics = metrics.NewSagaMetrics("compensation_test")

func newTestExecutor(p *fakePayments, i *fakeInventory, o *fakeOrders) *Executor {
	return NewExecutor(p, i, o, testMetrics, logger.NewLogger("compensation-test"))
}

var orderID = "order-1"
var authorizationID = "auth-1"

func TestRun_AuthorizedOnly_VoidsPaymentOnly(t *testing.T) {
	p, i, o := &fakePayments{}, &fakeInventory{}, &fakeOrders{}
	exec := newTestExecutor(p, i, o)

	outcome := exec.Run(context.Background(), Input{
		AggregateID:            "agg-1",
		PaymentAuthorizationID: &authorizationID,
		LastSuccessfulStatus:   ledger.Authorized,
	})

	require.Equal(t, Compensated, outcome.Kind)
	assert.Equal(t, []string{authorizationID}, p.voidCalls)
	assert.Empty(t, i.releaseCalls)
	assert.Empty(t, o.cancelCalls)
}

func TestRun_OrderCreated_VoidsAndCancelsNoRelease(t *testing.T) {
	p, i, o := &fakePayments{}, &fakeInventory{}, &fakeOrders{}
	exec := newTestExecutor(p, i, o)

	outcome := exec.Run(context.Background(), Input{
		AggregateID:            "agg-2",
		OrderID:                &orderID,
		PaymentAuthorizationID: &authorizationID,
		LastSuccessfulStatus:   ledger.OrderCreated,
	})

	require.Equal(t, Compensated, outcome.Kind)
	assert.Equal(t, []string{authorizationID}, p.voidCalls)
	assert.Empty(t, i.releaseCalls)
	assert.Equal(t, []string{orderID}, o.cancelCalls)
}

func TestRun_InventoryReserved_RunsAllThreeSteps(t *testing.T) {
	p, i, o := &fakePayments{}, &fakeInventory{}, &fakeOrders{}
	exec := newTestExecutor(p, i, o)

	outcome := exec.Run(context.Background(), Input{
		AggregateID:            "agg-3",
		OrderID:                &orderID,
		PaymentAuthorizationID: &authorizationID,
		LastSuccessfulStatus:   ledger.InventoryReserved,
	})

	require.Equal(t, Compensated, outcome.Kind)
	assert.Equal(t, []string{authorizationID}, p.voidCalls)
	assert.Equal(t, []string{orderID}, i.releaseCalls)
	assert.Equal(t, []string{orderID}, o.cancelCalls)
}

func TestRun_PaymentCaptured_ReleasesAndCancelsButNeverVoids(t *testing.T) {
	p, i, o := &fakePayments{}, &fakeInventory{}, &fakeOrders{}
	exec := newTestExecutor(p, i, o)

	outcome := exec.Run(context.Background(), Input{
		AggregateID:            "agg-4",
		OrderID:                &orderID,
		PaymentAuthorizationID: &authorizationID,
		LastSuccessfulStatus:   ledger.PaymentCaptured,
	})

	require.Equal(t, Compensated, outcome.Kind)
	assert.Empty(t, p.voidCalls, "a captured payment is never voided; it needs a manual refund")
	assert.Equal(t, []string{orderID}, i.releaseCalls)
	assert.Equal(t, []string{orderID}, o.cancelCalls)
}

func TestRun_PartialFailure_ReportsFailingStepsButStillCompensatesOthers(t *testing.T) {
	p := &fakePayments{voidErr: &clients.Error{Operation: "void_payment", Reason: "down", Retryable: true}}
	i := &fakeInventory{}
	o := &fakeOrders{}
	exec := newTestExecutor(p, i, o)

	outcome := exec.Run(context.Background(), Input{
		AggregateID:            "agg-5",
		OrderID:                &orderID,
		PaymentAuthorizationID: &authorizationID,
		LastSuccessfulStatus:   ledger.InventoryReserved,
	})

	require.Equal(t, PartiallyCompensated, outcome.Kind)
	assert.Equal(t, []string{"void_payment"}, outcome.FailingSteps)
	assert.Equal(t, []string{orderID}, i.releaseCalls, "a failing void must not prevent release")
	assert.Equal(t, []string{orderID}, o.cancelCalls, "a failing void must not prevent cancel")
}
