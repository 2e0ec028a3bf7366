package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/platform/httpx"
	"github.com/simplecartfees/api/internal/services"
)

const (
	maxAdminFeesBodySize    = 256 * 1024
	maxAdminPreviewBodySize = 16 * 1024
)

// AdminFeeHandlers exposes fee configuration and order fee lines to shop managers.
type AdminFeeHandlers struct {
	authn  *auth.Authenticator
	roles  []string
	fees   services.FeeConfigService
	carts  services.CartFeeService
	orders services.OrderFeeService
}

// AdminFeeHandlersDeps bundles the services behind the admin routes.
type AdminFeeHandlersDeps struct {
	Authenticator *auth.Authenticator
	Roles         []string
	Fees          services.FeeConfigService
	Carts         services.CartFeeService
	Orders        services.OrderFeeService
}

// NewAdminFeeHandlers constructs the admin handlers. Roles defaults to shop_manager and admin.
func NewAdminFeeHandlers(deps AdminFeeHandlersDeps) *AdminFeeHandlers {
	roles := deps.Roles
	if len(roles) == 0 {
		roles = []string{auth.RoleShopManager, auth.RoleAdmin}
	}
	return &AdminFeeHandlers{
		authn:  deps.Authenticator,
		roles:  roles,
		fees:   deps.Fees,
		carts:  deps.Carts,
		orders: deps.Orders,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminFeeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(h.roles...))
	}
	r.Get("/fees", h.listFees)
	r.Put("/fees", h.saveFees)
	r.Post("/fees:preview", h.previewFees)
	r.Get("/fees/{feeID}", h.getFee)
	r.Get("/orders/{orderID}/fees", h.orderFees)
}

type feePayload struct {
	ID               string `json:"id"`
	InternalName     string `json:"internal_name"`
	PublicName       string `json:"public_name"`
	Price            string `json:"price"`
	TaxClass         string `json:"tax_class"`
	Type             string `json:"type"`
	CheckboxText     string `json:"checkbox_text,omitempty"`
	HelpText         string `json:"help_text,omitempty"`
	Condition        string `json:"condition"`
	ConditionMinimum string `json:"condition_minimum"`
	Order            int    `json:"order"`
	Active           bool   `json:"active"`
}

type feeListResponse struct {
	Fees      []feePayload `json:"fees"`
	Revision  int64        `json:"revision"`
	UpdatedAt string       `json:"updated_at,omitempty"`
	UpdatedBy string       `json:"updated_by,omitempty"`
}

type feeInputPayload struct {
	ID               looseString  `json:"id"`
	InternalName     looseString  `json:"internal_name"`
	PublicName       looseString  `json:"public_name"`
	Price            looseString  `json:"price"`
	TaxClass         looseString  `json:"tax_class"`
	Type             looseString  `json:"type"`
	CheckboxText     looseString  `json:"checkbox_text"`
	HelpText         looseString  `json:"help_text"`
	Condition        looseString  `json:"condition"`
	ConditionMinimum looseString  `json:"condition_minimum"`
	// Order is accepted so listed rows can be saved back unchanged; the
	// list position decides the stored order.
	Order            *looseString `json:"order"`
	Active           *looseBool   `json:"active"`
}

type saveFeesRequest struct {
	Fees             []feeInputPayload `json:"fees"`
	ExpectedRevision *int64            `json:"expected_revision"`
}

type previewFeesRequest struct {
	Subtotal       looseString `json:"subtotal"`
	SelectedFeeIDs []string    `json:"selected_fee_ids"`
}

type appliedFeePayload struct {
	FeeID    string `json:"fee_id"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
	Taxable  bool   `json:"taxable"`
	TaxClass string `json:"tax_class"`
}

type cartFeesResponse struct {
	Fees     []appliedFeePayload `json:"fees"`
	Total    string              `json:"total"`
	Revision int64               `json:"revision"`
}

type orderFeeLinePayload struct {
	FeeID    string `json:"fee_id"`
	Name     string `json:"name"`
	Amount   string `json:"amount"`
	TaxClass string `json:"tax_class"`
}

type orderFeeLinesResponse struct {
	OrderID string                `json:"order_id"`
	Fees    []orderFeeLinePayload `json:"fees"`
	Total   string                `json:"total"`
}

func (h *AdminFeeHandlers) listFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fee_service_unavailable", "fee configuration service unavailable", http.StatusServiceUnavailable))
		return
	}
	cfg, err := h.fees.ListFees(ctx)
	if err != nil {
		writeAdminFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildFeeListResponse(cfg))
}

func (h *AdminFeeHandlers) getFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fee_service_unavailable", "fee configuration service unavailable", http.StatusServiceUnavailable))
		return
	}
	fee, err := h.fees.GetFee(ctx, chi.URLParam(r, "feeID"))
	if err != nil {
		writeAdminFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"fee": buildFeePayload(fee)})
}

func (h *AdminFeeHandlers) saveFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fee_service_unavailable", "fee configuration service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxAdminFeesBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req saveFeesRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest))
		return
	}
	if req.Fees == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fees is required", http.StatusBadRequest))
		return
	}

	cmd := services.SaveFeesCommand{
		Rows:             make([]services.FeeInput, 0, len(req.Fees)),
		ActorID:          identity.Actor(),
		ExpectedRevision: req.ExpectedRevision,
	}
	for _, row := range req.Fees {
		active := true
		if row.Active != nil {
			active = bool(*row.Active)
		}
		cmd.Rows = append(cmd.Rows, services.FeeInput{
			ID:               string(row.ID),
			InternalName:     string(row.InternalName),
			PublicName:       string(row.PublicName),
			Price:            string(row.Price),
			TaxClass:         string(row.TaxClass),
			Type:             string(row.Type),
			CheckboxText:     string(row.CheckboxText),
			HelpText:         string(row.HelpText),
			Condition:        string(row.Condition),
			ConditionMinimum: string(row.ConditionMinimum),
			Active:           active,
		})
	}

	cfg, err := h.fees.SaveFees(ctx, cmd)
	if err != nil {
		writeAdminFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildFeeListResponse(cfg))
}

func (h *AdminFeeHandlers) previewFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_fee_service_unavailable", "cart fee service unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := readLimitedBody(r, maxAdminPreviewBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req previewFeesRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest))
		return
	}
	subtotal, err := parseSubtotal(string(req.Subtotal))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_subtotal", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.carts.PreviewFees(ctx, services.PreviewFeesCommand{
		Subtotal:    subtotal,
		SelectedIDs: req.SelectedFeeIDs,
	})
	if err != nil {
		writeAdminFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildCartFeesResponse(result))
}

func (h *AdminFeeHandlers) orderFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_fee_service_unavailable", "order fee service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := chi.URLParam(r, "orderID")
	lines, err := h.orders.AdminFeeLines(ctx, orderID)
	if err != nil {
		writeAdminFeeError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderFeeLinesResponse(orderID, lines))
}

func buildFeeListResponse(cfg services.FeeConfiguration) feeListResponse {
	resp := feeListResponse{
		Fees:      make([]feePayload, 0, len(cfg.Fees)),
		Revision:  cfg.Revision,
		UpdatedAt: formatTime(cfg.UpdatedAt),
		UpdatedBy: cfg.UpdatedBy,
	}
	for _, fee := range cfg.Fees {
		resp.Fees = append(resp.Fees, buildFeePayload(fee))
	}
	return resp
}

func buildFeePayload(fee services.FeeDefinition) feePayload {
	return feePayload{
		ID:               fee.ID,
		InternalName:     fee.InternalName,
		PublicName:       fee.PublicName,
		Price:            fee.Price.String(),
		TaxClass:         fee.TaxClass,
		Type:             string(fee.Type),
		CheckboxText:     fee.CheckboxText,
		HelpText:         fee.HelpText,
		Condition:        string(fee.Condition),
		ConditionMinimum: fee.ConditionMinimum.String(),
		Order:            fee.Order,
		Active:           fee.Active,
	}
}

func buildCartFeesResponse(result services.CartFees) cartFeesResponse {
	return cartFeesResponse{
		Fees:     buildAppliedFeePayloads(result.Fees),
		Total:    result.Total.String(),
		Revision: result.Revision,
	}
}

func buildAppliedFeePayloads(fees []services.AppliedFee) []appliedFeePayload {
	out := make([]appliedFeePayload, 0, len(fees))
	for _, fee := range fees {
		out = append(out, appliedFeePayload{
			FeeID:    fee.FeeID,
			Name:     fee.Name,
			Amount:   fee.NetAmount.String(),
			Taxable:  fee.Taxable,
			TaxClass: fee.TaxClass,
		})
	}
	return out
}

func buildOrderFeeLinesResponse(orderID string, lines []services.OrderFeeLine) orderFeeLinesResponse {
	resp := orderFeeLinesResponse{
		OrderID: strings.TrimSpace(orderID),
		Fees:    make([]orderFeeLinePayload, 0, len(lines)),
	}
	total := decimal.Zero
	for _, line := range lines {
		resp.Fees = append(resp.Fees, orderFeeLinePayload{
			FeeID:    line.FeeID,
			Name:     line.Name,
			Amount:   line.NetAmount.String(),
			TaxClass: line.TaxClass,
		})
		total = total.Add(line.NetAmount)
	}
	resp.Total = total.String()
	return resp
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeAdminFeeError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var validation *services.FeeValidationError
	if errors.As(err, &validation) {
		fields := make([]httpx.FieldError, 0, len(validation.Fields))
		for _, field := range validation.Fields {
			fields = append(fields, httpx.FieldError{Row: field.Row, Field: field.Field, Message: field.Message})
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_fees", "one or more fees are invalid", http.StatusUnprocessableEntity).
			WithFields(fields...))
		return
	}
	switch {
	case errors.Is(err, services.ErrFeeNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("fee_not_found", "fee not found", http.StatusNotFound))
	case errors.Is(err, services.ErrFeeConfigConflict):
		httpx.WriteError(ctx, w, httpx.NewError("fee_config_conflict", "fee configuration changed; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrFeeConfigInvalidInput),
		errors.Is(err, services.ErrCartFeesInvalidInput),
		errors.Is(err, services.ErrOrderFeesInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAppliedFeesNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_fees_not_found", "no fees recorded for order", http.StatusNotFound))
	case errors.Is(err, services.ErrFeeConfigUnavailable),
		errors.Is(err, services.ErrOrderFeesUnavailable),
		errors.Is(err, services.ErrSelectionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fee_store_unavailable", "fee storage temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("fee_admin_error", "failed to process fee request", http.StatusInternalServerError))
	}
}
