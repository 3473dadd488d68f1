// Package clients implements the idempotent HTTP clients for orders-svc,
// inventory-svc and payments-svc.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// requestTimeout is the shared per-request timeout.
const requestTimeout = 10 * time.Second

var validate = validator.New()

// newHTTPClient wraps an *http.Client with otelhttp so every outbound call
// carries a W3C traceparent header derived from ctx's span, without
// hand-rolled header injection.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   requestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// doJSON issues method to url with an optional JSON body and decodes the
// response body into out (if non-nil), regardless of status class — callers
// like ConfirmOrder branch on fields of a non-2xx body (e.g. 409
// current_status). It validates the decoded struct with validator/v10 only
// for a 2xx status, since error bodies legitimately don't satisfy a
// success response's required fields. A body that is not valid JSON is a
// decode error only for a 2xx status; for any other status it is ignored
// and the caller classifies the response by status code. Idempotency keys go in the
// Idempotency-Key header, the de-facto convention the downstream services
// assume.
func doJSON(ctx context.Context, hc *http.Client, operation, method, url, idempotencyKey string, body any, out any) (status int, raw []byte, err *Error) {
	var reader io.Reader
	if body != nil {
		b, merr := json.Marshal(body)
		if merr != nil {
			return 0, nil, decodeErr(operation, merr)
		}
		reader = bytes.NewReader(b)
	}

	req, rerr := http.NewRequestWithContext(ctx, method, url, reader)
	if rerr != nil {
		return 0, nil, transportErr(operation, rerr)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, derr := hc.Do(req)
	if derr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, nil, timeoutErr(operation)
		}
		return 0, nil, transportErr(operation, derr)
	}
	defer resp.Body.Close()

	respBody, rerr2 := io.ReadAll(resp.Body)
	if rerr2 != nil {
		return resp.StatusCode, nil, decodeErr(operation, rerr2)
	}

	if out != nil && len(respBody) > 0 {
		is2xx := resp.StatusCode >= 200 && resp.StatusCode < 300
		if err := json.Unmarshal(respBody, out); err != nil {
			if is2xx {
				return resp.StatusCode, respBody, decodeErr(operation, err)
			}
		} else if is2xx {
			if verr := validate.Struct(out); verr != nil {
				return resp.StatusCode, respBody, decodeErr(operation, verr)
			}
		}
	}

	return resp.StatusCode, respBody, nil
}

// idempotencyKeyFor derives a deterministic key from the aggregate id, so
// retries and cross-worker duplicates collapse on the remote side without
// extra bookkeeping.
func idempotencyKeyFor(aggregateID string) string {
	return aggregateID
}

// idempotencyKeyForStep derives a deterministic, step-scoped key (e.g.
// void-{aggregateID}).
func idempotencyKeyForStep(step, aggregateID string) string {
	return fmt.Sprintf("%s-%s", step, aggregateID)
}
