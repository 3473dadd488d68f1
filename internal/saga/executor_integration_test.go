//go:build integration

package saga

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/timour/order-saga-orchestrator/internal/clients"
	"github.com/timour/order-saga-orchestrator/internal/ledger"
	"github.com/timour/order-saga-orchestrator/internal/logger"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
	"github.com/timour/order-saga-orchestrator/internal/outbox"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("orchestrator_test"),
		postgres.WithUsername("orchestrator"),
		postgres.WithPassword("orchestrator"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.Eventually(t, func() bool { return db.PingContext(ctx) == nil }, 30*time.Second, 200*time.Millisecond)

	schema, err := os.ReadFile("../../db/schema.sql")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, string(schema))
	require.NoError(t, err)

	return db
}

func authID(s string) *string { return &s }

func seedAuthorizedAggregate(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	err = ledger.CreateAuthorized(ctx, tx, ledger.Aggregate{
		ID:                     id,
		ClientRequestID:        id + "-req",
		UserID:                 "user-1",
		Email:                  "user1@example.com",
		TotalAmountCents:       2000,
		Currency:               "USD",
		PaymentAuthorizationID: authID("auth-" + id),
	}, []ledger.LineItem{{ProductID: "sku-1", Quantity: 2, UnitPriceCents: 1000}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

// fakeOrders, fakeInventory and fakePayments implement the executor's
// client interfaces with scripted responses, per-call, for scenario tests.
type fakeOrders struct {
	createErr    *clients.Error
	confirmErr   *clients.Error
	createCalls  int
	confirmCalls int
}

func (f *fakeOrders) CreateOrder(ctx context.Context, req clients.CreateOrderRequest) (string, *clients.Error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return "order-" + req.AggregateID, nil
}

func (f *fakeOrders) ConfirmOrder(ctx context.Context, aggregateID, orderID string) *clients.Error {
	f.confirmCalls++
	return f.confirmErr
}

type fakeInventory struct {
	reserveErr   *clients.Error
	reserveCalls int
}

func (f *fakeInventory) ReserveStock(ctx context.Context, aggregateID, orderID string, items []ledger.LineItem) ([]string, *clients.Error) {
	f.reserveCalls++
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	return []string{"reservation-1"}, nil
}

type fakePayments struct {
	captureErr   *clients.Error
	captureCalls int
}

func (f *fakePayments) CapturePayment(ctx context.Context, aggregateID, authorizationID string) (string, *clients.Error) {
	f.captureCalls++
	if f.captureErr != nil {
		return "", f.captureErr
	}
	return "capture-1", nil
}

func newExecutor(orders OrdersClient, inv InventoryClient, payments PaymentsClient) *Executor {
	return NewExecutor(orders, inv, payments, metrics.NewSagaMetrics("saga_test_"+randSuffix()), logger.NewLogger("saga-test"))
}

var suffixCounter int

func randSuffix() string {
	suffixCounter++
	return string(rune('a' + suffixCounter%26))
}

func TestExecute_HappyPath_ReachesCompletedInOneInvocation(t *testing.T) {
	db := setupPostgres(t)
	seedAuthorizedAggregate(t, db, "agg-happy")

	orders := &fakeOrders{}
	inv := &fakeInventory{}
	payments := &fakePayments{}
	exec := newExecutor(orders, inv, payments)

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	outcome := exec.Execute(ctx, tx, outbox.Event{AggregateID: "agg-happy"})
	require.NoError(t, tx.Commit())

	require.Equal(t, Completed, outcome.Kind)
	require.Equal(t, 1, orders.createCalls)
	require.Equal(t, 1, inv.reserveCalls)
	require.Equal(t, 1, payments.captureCalls)
	require.Equal(t, 1, orders.confirmCalls)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM order_ledger WHERE id = $1`, "agg-happy").Scan(&status))
	require.Equal(t, string(ledger.Completed), status)
}

func TestExecute_ReplayOfCompleted_IsNoOp(t *testing.T) {
	db := setupPostgres(t)
	seedAuthorizedAggregate(t, db, "agg-replay")

	exec := newExecutor(&fakeOrders{}, &fakeInventory{}, &fakePayments{})
	ctx := context.Background()

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, Completed, exec.Execute(ctx, tx1, outbox.Event{AggregateID: "agg-replay"}).Kind)
	require.NoError(t, tx1.Commit())

	orders2 := &fakeOrders{}
	exec2 := newExecutor(orders2, &fakeInventory{}, &fakePayments{})
	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	outcome := exec2.Execute(ctx, tx2, outbox.Event{AggregateID: "agg-replay"})
	require.NoError(t, tx2.Commit())

	require.Equal(t, Completed, outcome.Kind)
	require.Equal(t, 0, orders2.createCalls, "a replay against a COMPLETED aggregate must not re-invoke any client")
}

func TestExecute_PermanentInventoryFailure_RequiresCompensation(t *testing.T) {
	db := setupPostgres(t)
	seedAuthorizedAggregate(t, db, "agg-insufficient")

	inv := &fakeInventory{reserveErr: &clients.Error{Operation: "reserve_stock", Reason: "insufficient stock", StatusCode: 409, Retryable: false}}
	exec := newExecutor(&fakeOrders{}, inv, &fakePayments{})

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	outcome := exec.Execute(ctx, tx, outbox.Event{AggregateID: "agg-insufficient"})
	require.NoError(t, tx.Commit())

	require.Equal(t, RequiresCompensation, outcome.Kind)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM order_ledger WHERE id = $1`, "agg-insufficient").Scan(&status))
	require.Equal(t, string(ledger.OrderCreated), status, "a permanent failure mid-saga leaves status at the last successful step")
}

func TestExecute_TransientPaymentsFailure_RequiresRetryWithoutAdvancingStatus(t *testing.T) {
	db := setupPostgres(t)
	seedAuthorizedAggregate(t, db, "agg-transient")

	payments := &fakePayments{captureErr: &clients.Error{Operation: "capture_payment", Reason: "service unavailable", StatusCode: 503, Retryable: true}}
	exec := newExecutor(&fakeOrders{}, &fakeInventory{}, payments)

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	outcome := exec.Execute(ctx, tx, outbox.Event{AggregateID: "agg-transient"})
	require.NoError(t, tx.Commit())

	require.Equal(t, RequiresRetry, outcome.Kind)

	var status string
	require.NoError(t, db.QueryRow(`SELECT status FROM order_ledger WHERE id = $1`, "agg-transient").Scan(&status))
	require.Equal(t, string(ledger.InventoryReserved), status)
}

func TestExecute_UnknownAggregate_Fails(t *testing.T) {
	db := setupPostgres(t)
	exec := newExecutor(&fakeOrders{}, &fakeInventory{}, &fakePayments{})

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	outcome := exec.Execute(ctx, tx, outbox.Event{AggregateID: "does-not-exist"})
	require.NoError(t, tx.Rollback())

	require.Equal(t, Failed, outcome.Kind)
}
