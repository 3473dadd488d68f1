package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/timour/order-saga-orchestrator/internal/ledger"
)

// OrdersClient is the HTTP client for orders-svc: creating and confirming
// an order, and cancelling one as compensation.
type OrdersClient struct {
	baseURL string
	hc      *http.Client
}

func NewOrdersClient(baseURL string) *OrdersClient {
	return &OrdersClient{baseURL: baseURL, hc: newHTTPClient()}
}

// CreateOrderRequest is what orders-svc needs to materialize an order.
type CreateOrderRequest struct {
	AggregateID string
	UserID      string
	Total       int64
	Currency    string
	Items       []ledger.LineItem
}

type createOrderBody struct {
	OrderLedgerID string     `json:"orderLedgerId"`
	UserID        string     `json:"userId"`
	Total         int64      `json:"total"`
	Currency      string     `json:"currency"`
	Items         []itemBody `json:"items"`
}

type itemBody struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type createOrderResponse struct {
	ID     string `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// CreateOrder is idempotent on aggregateId.
func (c *OrdersClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (orderID string, cerr *Error) {
	items := make([]itemBody, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, itemBody{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var out createOrderResponse
	status, body, err := doJSON(ctx, c.hc, "create_order", http.MethodPost,
		c.baseURL+"/orders", idempotencyKeyFor(req.AggregateID),
		createOrderBody{
			OrderLedgerID: req.AggregateID,
			UserID:        req.UserID,
			Total:         req.Total,
			Currency:      req.Currency,
			Items:         items,
		}, &out)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusOK || status == http.StatusCreated:
		return out.ID, nil
	case status >= 500:
		return "", classifyStatus("create_order", status, string(body))
	default:
		return "", statusErr("create_order", string(body), status, false)
	}
}

type confirmOrderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CurrentStatus string `json:"current_status"`
}

// ConfirmOrder is idempotent on orderID. A 409 reporting the order is
// already confirmed is treated as success.
func (c *OrdersClient) ConfirmOrder(ctx context.Context, aggregateID, orderID string) *Error {
	url := fmt.Sprintf("%s/orders/%s/confirmation", c.baseURL, orderID)

	var out confirmOrderResponse
	status, body, err := doJSON(ctx, c.hc, "confirm_order", http.MethodPost,
		url, idempotencyKeyFor(aggregateID), nil, &out)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusConflict && out.CurrentStatus == "CONFIRMED":
		return nil
	case status >= 500:
		return classifyStatus("confirm_order", status, string(body))
	default:
		return statusErr("confirm_order", string(body), status, false)
	}
}

// CancelOrder is a compensation call: best-effort, idempotent on orderID.
func (c *OrdersClient) CancelOrder(ctx context.Context, aggregateID, orderID string) *Error {
	url := fmt.Sprintf("%s/orders/%s/cancellation", c.baseURL, orderID)

	status, body, err := doJSON(ctx, c.hc, "cancel_order", http.MethodPost,
		url, idempotencyKeyForStep("cancel", aggregateID), nil, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNotFound || status == http.StatusConflict:
		return nil
	case status >= 500:
		return classifyStatus("cancel_order", status, string(body))
	default:
		return statusErr("cancel_order", string(body), status, false)
	}
}
