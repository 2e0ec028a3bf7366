package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simplecartfees/api/internal/platform/httpx"
	"github.com/simplecartfees/api/internal/services"
)

const maxOrderWebhookBodySize = 16 * 1024

// OrderFeeHandlers serves the signed server-to-server endpoints used by the shop platform.
type OrderFeeHandlers struct {
	orders services.OrderFeeService
}

// NewOrderFeeHandlers constructs the order fee handlers.
func NewOrderFeeHandlers(orders services.OrderFeeService) *OrderFeeHandlers {
	return &OrderFeeHandlers{orders: orders}
}

// WebhookRoutes registers the /webhooks endpoints.
func (h *OrderFeeHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.recordOrderFees)
}

// Routes registers the /orders endpoints.
func (h *OrderFeeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderID}/fees/email", h.emailFeeLines)
}

type orderCreatedRequest struct {
	OrderID   looseString `json:"order_id"`
	SessionID string      `json:"session_id"`
	Subtotal  looseString `json:"subtotal"`
}

type appliedFeeSnapshotPayload struct {
	FeeID        string `json:"fee_id"`
	InternalName string `json:"internal_name"`
	PublicName   string `json:"public_name"`
	Type         string `json:"type"`
	GrossPrice   string `json:"gross_price"`
	NetAmount    string `json:"net_amount"`
	TaxClass     string `json:"tax_class"`
}

type appliedFeeRecordResponse struct {
	OrderID    string                      `json:"order_id"`
	Fees       []appliedFeeSnapshotPayload `json:"fees"`
	Subtotal   string                      `json:"subtotal"`
	NetTotal   string                      `json:"net_total"`
	RecordedAt string                      `json:"recorded_at"`
}

func (h *OrderFeeHandlers) recordOrderFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_fee_service_unavailable", "order fee service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxOrderWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req orderCreatedRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest))
		return
	}
	subtotal, err := parseSubtotal(string(req.Subtotal))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_subtotal", err.Error(), http.StatusBadRequest))
		return
	}

	record, err := h.orders.RecordAppliedFees(ctx, services.RecordOrderFeesCommand{
		OrderID:   string(req.OrderID),
		SessionID: req.SessionID,
		Subtotal:  subtotal,
	})
	if err != nil {
		writeOrderFeeError(ctx, w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s/fees/email", record.OrderID))
	writeJSONResponse(w, http.StatusCreated, buildAppliedFeeRecordResponse(record))
}

func (h *OrderFeeHandlers) emailFeeLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_fee_service_unavailable", "order fee service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := chi.URLParam(r, "orderID")
	lines, err := h.orders.EmailFeeLines(ctx, orderID)
	if err != nil {
		writeOrderFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderFeeLinesResponse(orderID, lines))
}

func buildAppliedFeeRecordResponse(record services.AppliedFeeRecord) appliedFeeRecordResponse {
	resp := appliedFeeRecordResponse{
		OrderID:    strings.TrimSpace(record.OrderID),
		Fees:       make([]appliedFeeSnapshotPayload, 0, len(record.Fees)),
		Subtotal:   record.Subtotal.String(),
		RecordedAt: formatTime(record.RecordedAt),
	}
	total := decimal.Zero
	for _, fee := range record.Fees {
		resp.Fees = append(resp.Fees, appliedFeeSnapshotPayload{
			FeeID:        fee.FeeID,
			InternalName: fee.InternalName,
			PublicName:   fee.PublicName,
			Type:         string(fee.Type),
			GrossPrice:   fee.GrossPrice.String(),
			NetAmount:    fee.NetAmount.String(),
			TaxClass:     fee.TaxClass,
		})
		total = total.Add(fee.NetAmount)
	}
	resp.NetTotal = total.String()
	return resp
}

func writeOrderFeeError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderFeesInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAppliedFeesAlreadyRecorded):
		httpx.WriteError(ctx, w, httpx.NewError("order_fees_already_recorded", "fees already recorded for order", http.StatusConflict))
	case errors.Is(err, services.ErrAppliedFeesNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_fees_not_found", "no fees recorded for order", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderFeesUnavailable),
		errors.Is(err, services.ErrFeeConfigUnavailable),
		errors.Is(err, services.ErrSelectionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fee_store_unavailable", "fee storage temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_fee_error", "failed to process order fees", http.StatusInternalServerError))
	}
}
