package clients

import (
	"context"
	"fmt"
	"net/http"
)

// PaymentsClient is the HTTP client for payments-svc: capturing a payment
// authorization and voiding it as compensation.
type PaymentsClient struct {
	baseURL string
	hc      *http.Client
}

func NewPaymentsClient(baseURL string) *PaymentsClient {
	return &PaymentsClient{baseURL: baseURL, hc: newHTTPClient()}
}

type capturePaymentResponse struct {
	CaptureID       string `json:"capture_id" validate:"required"`
	AuthorizationID string `json:"authorization_id"`
	Status          string `json:"status" validate:"required"`
}

type voidPaymentResponse struct {
	VoidID string `json:"void_id"`
	Status string `json:"status"`
}

type paymentErrorBody struct {
	Error string `json:"error"`
}

// CapturePayment is idempotent on aggregateID. A 404 (unknown
// authorization) or 409 (already voided) is permanent; 503 and
// other 5xx are retryable.
func (c *PaymentsClient) CapturePayment(ctx context.Context, aggregateID, authorizationID string) (captureID string, cerr *Error) {
	url := fmt.Sprintf("%s/payments/capture/%s", c.baseURL, authorizationID)

	var out capturePaymentResponse
	status, raw, err := doJSON(ctx, c.hc, "capture_payment", http.MethodPost,
		url, idempotencyKeyFor(aggregateID), nil, &out)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusOK:
		return out.CaptureID, nil
	case status == http.StatusNotFound:
		return "", statusErr("capture_payment", "unknown authorization: "+string(raw), status, false)
	case status == http.StatusConflict:
		return "", statusErr("capture_payment", "authorization already voided: "+string(raw), status, false)
	case status >= 500:
		return "", classifyStatus("capture_payment", status, string(raw))
	default:
		return "", statusErr("capture_payment", string(raw), status, false)
	}
}

// VoidPayment is a compensation call, idempotent on a void-scoped key. A
// 404 (nothing to void) is treated as success; a
// 409 (already captured) is permanent, since voiding a captured payment is
// not something a retry will fix.
func (c *PaymentsClient) VoidPayment(ctx context.Context, aggregateID, authorizationID string) *Error {
	url := fmt.Sprintf("%s/payments/void/%s", c.baseURL, authorizationID)

	status, raw, err := doJSON(ctx, c.hc, "void_payment", http.MethodPost,
		url, idempotencyKeyForStep("void", aggregateID), nil, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNotFound:
		return nil
	case status == http.StatusConflict:
		return statusErr("void_payment", "authorization already captured: "+string(raw), status, false)
	case status >= 500:
		return classifyStatus("void_payment", status, string(raw))
	default:
		return statusErr("void_payment", string(raw), status, false)
	}
}
