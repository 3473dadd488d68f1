package clients

import (
	"context"
	"fmt"
	"net/http"

	"github.com/timour/order-saga-orchestrator/internal/ledger"
)

// InventoryClient is the HTTP client for inventory-svc: reserving stock
// and releasing it as compensation.
type InventoryClient struct {
	baseURL string
	hc      *http.Client
}

func NewInventoryClient(baseURL string) *InventoryClient {
	return &InventoryClient{baseURL: baseURL, hc: newHTTPClient()}
}

type reserveStockBody struct {
	OrderID string     `json:"orderId"`
	Items   []itemBody `json:"items"`
}

type reserveStockResponse struct {
	ReservationIDs        []string `json:"reservation_ids" validate:"required"`
	TotalQuantityReserved int32    `json:"total_quantity_reserved"`
}

type insufficientStockBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id"`
	Requested int32  `json:"requested"`
	Available int32  `json:"available"`
}

// ReserveStock is idempotent on orderID. A 409 insufficient_stock or 404
// unknown product is permanent; 5xx is retryable.
func (c *InventoryClient) ReserveStock(ctx context.Context, aggregateID, orderID string, items []ledger.LineItem) (reservationIDs []string, cerr *Error) {
	body := make([]itemBody, 0, len(items))
	for _, it := range items {
		body = append(body, itemBody{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	var out reserveStockResponse
	status, raw, err := doJSON(ctx, c.hc, "reserve_stock", http.MethodPost,
		c.baseURL+"/reservations", idempotencyKeyFor(aggregateID),
		reserveStockBody{OrderID: orderID, Items: body}, &out)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusCreated || status == http.StatusOK:
		return out.ReservationIDs, nil
	case status == http.StatusConflict:
		return nil, statusErr("reserve_stock", "insufficient stock: "+string(raw), status, false)
	case status == http.StatusNotFound:
		return nil, statusErr("reserve_stock", "unknown product: "+string(raw), status, false)
	case status >= 500:
		return nil, classifyStatus("reserve_stock", status, string(raw))
	default:
		return nil, statusErr("reserve_stock", string(raw), status, false)
	}
}

// ReleaseStock is a compensation call, idempotent on orderID. A 404
// (nothing reserved) is treated as success.
func (c *InventoryClient) ReleaseStock(ctx context.Context, aggregateID, orderID string) *Error {
	url := fmt.Sprintf("%s/reservations/%s", c.baseURL, orderID)

	status, raw, err := doJSON(ctx, c.hc, "release_stock", http.MethodDelete,
		url, idempotencyKeyForStep("release", aggregateID), nil, nil)
	if err != nil {
		return err
	}

	switch {
	case status == http.StatusOK || status == http.StatusNoContent || status == http.StatusNotFound:
		return nil
	case status >= 500:
		return classifyStatus("release_stock", status, string(raw))
	default:
		return statusErr("release_stock", string(raw), status, false)
	}
}
