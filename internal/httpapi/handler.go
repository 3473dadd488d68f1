// Package httpapi implements the admin/health HTTP surface: liveness
// and readiness probes, Prometheus scraping, and read-only operator
// visibility into stuck aggregates and failed outbox events.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timour/order-saga-orchestrator/internal/metrics"
)

type Handler struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.HTTPMetrics
}

func NewHandler(db *sql.DB, logger *slog.Logger, m *metrics.HTTPMetrics) *Handler {
	return &Handler{db: db, logger: logger, metrics: m}
}

// Router returns the mux for the admin surface. Bind it to config.AdminAddr.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(h.metricsMiddleware)

	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/admin/stuck-aggregates", h.handleStuckAggregates)
	r.Get("/admin/failed-events", h.handleFailedEvents)

	return r
}

// metricsMiddleware records request count and duration for every route
// except /metrics itself, which would otherwise grow unboundedly from
// scrape traffic scraping its own counter.
func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		h.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(recorder.statusCode), time.Since(start))
	})
}

// responseRecorder wraps http.ResponseWriter to capture the status code
// written by the handler, since http.ResponseWriter doesn't expose it.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// stuckAggregate is a row of order_ledger stuck in COMPENSATING or FAILED,
// surfaced for operator follow-up.
type stuckAggregate struct {
	ID                     string  `json:"id"`
	ClientRequestID        string  `json:"client_request_id"`
	Status                 string  `json:"status"`
	OrderID                *string `json:"order_id"`
	PaymentAuthorizationID *string `json:"payment_authorization_id"`
	UpdatedAt              string  `json:"updated_at"`
}

func (h *Handler) handleStuckAggregates(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, client_request_id, status, order_id, payment_authorization_id, updated_at
		FROM order_ledger
		WHERE status IN ('COMPENSATING', 'FAILED')
		ORDER BY updated_at DESC
		LIMIT 200
	`)
	if err != nil {
		h.logger.Error("query stuck aggregates failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var out []stuckAggregate
	for rows.Next() {
		var a stuckAggregate
		var updatedAt time.Time
		if err := rows.Scan(&a.ID, &a.ClientRequestID, &a.Status, &a.OrderID, &a.PaymentAuthorizationID, &updatedAt); err != nil {
			h.logger.Error("scan stuck aggregate failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		a.UpdatedAt = updatedAt.Format(time.RFC3339)
		out = append(out, a)
	}

	writeJSON(w, out)
}

// failedEvent is a row of outbox stuck in FAILED, surfaced alongside the
// aggregate it belongs to.
type failedEvent struct {
	ID          int64  `json:"id"`
	AggregateID string `json:"aggregate_id"`
	EventType   string `json:"event_type"`
	RetryCount  int    `json:"retry_count"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handler) handleFailedEvents(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `
		SELECT id, aggregate_id, event_type, retry_count, created_at
		FROM outbox
		WHERE status = 'FAILED'
		ORDER BY created_at DESC
		LIMIT 200
	`)
	if err != nil {
		h.logger.Error("query failed events failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var out []failedEvent
	for rows.Next() {
		var e failedEvent
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.RetryCount, &createdAt); err != nil {
			h.logger.Error("scan failed event failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		e.CreatedAt = createdAt.Format(time.RFC3339)
		out = append(out, e)
	}

	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
