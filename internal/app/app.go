// Package app wires the orchestrator's components together: the database
// pool, the notify listener and poller, the saga and compensation
// executors, the remote-service clients, the admin HTTP surface and
// service registration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/timour/order-saga-orchestrator/internal/clients"
	"github.com/timour/order-saga-orchestrator/internal/compensation"
	"github.com/timour/order-saga-orchestrator/internal/config"
	"github.com/timour/order-saga-orchestrator/internal/discovery"
	"github.com/timour/order-saga-orchestrator/internal/discovery/consul"
	"github.com/timour/order-saga-orchestrator/internal/httpapi"
	"github.com/timour/order-saga-orchestrator/internal/metrics"
	"github.com/timour/order-saga-orchestrator/internal/notify"
	"github.com/timour/order-saga-orchestrator/internal/poller"
	"github.com/timour/order-saga-orchestrator/internal/retry"
	"github.com/timour/order-saga-orchestrator/internal/saga"
)

// App owns every long-lived resource of one orchestrator process.
type App struct {
	config     config.Config
	log        *slog.Logger
	db         *sql.DB
	registry   discovery.Registry
	registered bool

	notifyListener *notify.Listener
	poller         *poller.Poller
	adminServer    *http.Server

	cancel context.CancelFunc
}

// NewApp opens the database pool, dials the notify listener, and builds
// every component, including the discovery registry if configured. It
// neither registers the process nor starts the poller or the admin
// server — call Start for that.
func NewApp(cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	registry, err := createRegistry(cfg.ConsulAddr, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	notifyListener, err := notify.New(cfg.DatabaseURL, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("start notify listener: %w", err)
	}

	m := metrics.NewSagaMetrics(cfg.ServiceName)
	httpMetrics := metrics.NewHTTPMetrics(cfg.ServiceName)

	ordersClient := clients.NewOrdersClient(cfg.OrdersServiceURL)
	inventoryClient := clients.NewInventoryClient(cfg.InventoryServiceURL)
	paymentsClient := clients.NewPaymentsClient(cfg.PaymentsServiceURL)

	sagaExec := saga.NewExecutor(ordersClient, inventoryClient, paymentsClient, m, log)
	compExec := compensation.NewExecutor(paymentsClient, inventoryClient, ordersClient, m, log)

	policy := retry.Policy{
		BaseDelay:   time.Duration(cfg.RetryBaseDelayMS) * time.Millisecond,
		Multiplier:  cfg.RetryBackoffMultiplier,
		MaxAttempts: cfg.MaxRetryAttempts,
	}

	processor := NewProcessor(db, cfg.ClaimBatchSize, sagaExec, compExec, policy, m, log)

	interval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	p := poller.New(interval, notifyListener.Wake(), processor.RunCycle, log)

	admin := httpapi.NewHandler(db, log, httpMetrics)
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: admin.Router(),
	}

	return &App{
		config:         cfg,
		log:            log,
		db:             db,
		registry:       registry,
		notifyListener: notifyListener,
		poller:         p,
		adminServer:    adminServer,
	}, nil
}

// Start registers the process (if discovery is configured), runs the
// admin HTTP server and the poller loop, and blocks until ctx is
// cancelled.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.registerWithDiscovery(ctx); err != nil {
		return err
	}

	go func() {
		a.log.Info("starting admin http server", "addr", a.config.AdminAddr)
		if err := a.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("admin http server error", "error", err)
		}
	}()

	a.log.Info("starting poller", "poll_interval_ms", a.config.PollIntervalMS)
	a.poller.Run(ctx)
	return nil
}

// Shutdown tears down resources in order: cancel the run context, close
// listener, close admin server, deregister, close the database pool. It
// does not wait for an in-flight cycle to finish: cancelling the context
// that cycle's transaction was begun with rolls the transaction back, so
// its events stay PENDING for the next process.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down gracefully")

	if a.cancel != nil {
		a.cancel()
	}

	if err := a.notifyListener.Close(); err != nil {
		a.log.Error("error closing notify listener", "error", err)
	}

	if err := a.adminServer.Shutdown(ctx); err != nil {
		a.log.Error("error shutting down admin server", "error", err)
	}

	a.deregisterFromDiscovery(ctx)

	return a.db.Close()
}

// registerWithDiscovery registers the process with a.registry, if
// discovery is configured. Extracted from Start so it can be exercised
// against a fake discovery.Registry without standing up the rest of App.
func (a *App) registerWithDiscovery(ctx context.Context) error {
	if a.registry == nil {
		return nil
	}
	hostPort := a.config.AdminAddr
	if err := a.registry.Register(ctx, a.config.InstanceID, a.config.ServiceName, hostPort); err != nil {
		return fmt.Errorf("register with discovery: %w", err)
	}
	a.registered = true
	a.log.Info("registered with service discovery", "instance_id", a.config.InstanceID)
	return nil
}

// deregisterFromDiscovery undoes registerWithDiscovery; it is a no-op if
// registration never happened or never succeeded.
func (a *App) deregisterFromDiscovery(ctx context.Context) {
	if !a.registered {
		return
	}
	if err := a.registry.Deregister(ctx, a.config.InstanceID, a.config.ServiceName); err != nil {
		a.log.Error("error deregistering from discovery", "error", err)
	}
}

func createRegistry(addr string, log *slog.Logger) (discovery.Registry, error) {
	if addr == "" {
		log.Info("consul address not provided, service discovery disabled")
		return nil, nil
	}
	return consul.NewRegistry(addr, log)
}
