package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/simplecartfees/api/internal/platform/httpx"
	"github.com/simplecartfees/api/internal/platform/observability"
	"github.com/simplecartfees/api/internal/platform/requestctx"
	"github.com/simplecartfees/api/internal/services"
)

const (
	// BlocksNamespace is the extension namespace block checkout uses for fee updates.
	BlocksNamespace = "simple-cart-fees"

	defaultSessionHeader   = "X-Cart-Session"
	defaultSessionCookie   = "cart_session"
	maxCheckoutBodySize    = 8 * 1024
	defaultToggleRateLimit = 60
	defaultToggleWindow    = time.Minute
)

// CheckoutHandlers serves the classic and block checkout fee endpoints for one cart session.
type CheckoutHandlers struct {
	selections    services.SelectionService
	carts         services.CartFeeService
	sessionHeader string
	sessionCookie string
	limiter       rateLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithSessionSource overrides where the cart session id is read from.
func WithSessionSource(header, cookie string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if header = strings.TrimSpace(header); header != "" {
			h.sessionHeader = header
		}
		if cookie = strings.TrimSpace(cookie); cookie != "" {
			h.sessionCookie = cookie
		}
	}
}

// WithToggleRateLimit caps toggles per session within window. A zero limit disables the cap.
func WithToggleRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newToggleLimiter(limit, window, clock)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(selections services.SelectionService, carts services.CartFeeService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		selections:    selections,
		carts:         carts,
		sessionHeader: defaultSessionHeader,
		sessionCookie: defaultSessionCookie,
		limiter:       newToggleLimiter(defaultToggleRateLimit, defaultToggleWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.requireSession)
	r.Get("/fees", h.getFees)
	r.Post("/fees/toggle", h.toggleClassic)
	r.Post("/blocks/fees", h.updateBlocks)
}

// requireSession binds the cart session to the request context and logger.
func (h *CheckoutHandlers) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := strings.TrimSpace(r.Header.Get(h.sessionHeader))
		if sessionID == "" && h.sessionCookie != "" {
			if cookie, err := r.Cookie(h.sessionCookie); err == nil {
				sessionID = strings.TrimSpace(cookie.Value)
			}
		}
		if sessionID == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("session_required", "cart session is required", http.StatusBadRequest))
			return
		}
		ctx := requestctx.WithSession(r.Context(), sessionID)
		ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("session_id", observability.MaskSessionID(sessionID))))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type optionalFeePayload struct {
	ID           string `json:"id"`
	PublicName   string `json:"public_name"`
	CheckboxText string `json:"checkbox_text"`
	HelpText     string `json:"help_text"`
	Price        string `json:"price"`
	Selected     bool   `json:"selected"`
}

type checkoutFeesResponse struct {
	OptionalFees []optionalFeePayload `json:"optional_fees"`
	Fees         []appliedFeePayload  `json:"fees"`
	Total        string               `json:"total"`
	Revision     int64                `json:"revision"`
}

type classicToggleRequest struct {
	FeeID   looseString `json:"fee_id"`
	Checked looseBool   `json:"checked"`
}

type classicToggleResponse struct {
	Success bool `json:"success"`
	Applied bool `json:"applied"`
	Refresh bool `json:"refresh"`
}

type blocksUpdateRequest struct {
	Namespace string           `json:"namespace"`
	Data      blocksUpdateData `json:"data"`
}

type blocksUpdateData struct {
	FeeID      looseString `json:"fee_id"`
	FeeIDCamel looseString `json:"feeId"`
	Checked    looseBool   `json:"checked"`
	Subtotal   looseString `json:"subtotal"`
}

func (h *CheckoutHandlers) getFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_fee_service_unavailable", "cart fee service unavailable", http.StatusServiceUnavailable))
		return
	}
	subtotal, err := parseSubtotal(r.URL.Query().Get("subtotal"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_subtotal", err.Error(), http.StatusBadRequest))
		return
	}
	resp, err := h.checkoutState(ctx, services.CalculateFeesCommand{
		SessionID: requestctx.Session(ctx),
		Subtotal:  subtotal,
		Surface:   services.SurfaceClassic,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// toggleClassic accepts form posts (fee_id, checked=true) or the same fields as JSON.
func (h *CheckoutHandlers) toggleClassic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.selections == nil {
		httpx.WriteError(ctx, w, httpx.NewError("selection_service_unavailable", "selection service unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := requestctx.Session(ctx)
	if !h.allowToggle(sessionID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many fee updates; slow down", http.StatusTooManyRequests))
		return
	}

	feeID, checked, err := parseClassicToggle(r)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if feeID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_fee", "fee_id is required", http.StatusBadRequest))
		return
	}

	result, err := h.selections.Toggle(ctx, services.ToggleSelectionCommand{
		SessionID: sessionID,
		FeeID:     feeID,
		Checked:   checked,
		Surface:   services.SurfaceClassic,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, classicToggleResponse{
		Success: true,
		Applied: result.Applied,
		Refresh: true,
	})
}

// updateBlocks mirrors the store API extension update: unknown fee ids are ignored and the
// refreshed extension data is returned either way.
func (h *CheckoutHandlers) updateBlocks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.selections == nil || h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("selection_service_unavailable", "selection service unavailable", http.StatusServiceUnavailable))
		return
	}
	sessionID := requestctx.Session(ctx)
	if !h.allowToggle(sessionID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many fee updates; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req blocksUpdateRequest
	if err := decodeStrictJSON(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Namespace) != BlocksNamespace {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_namespace", fmt.Sprintf("namespace must be %q", BlocksNamespace), http.StatusBadRequest))
		return
	}
	subtotal, err := parseSubtotal(string(req.Data.Subtotal))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_subtotal", err.Error(), http.StatusBadRequest))
		return
	}

	feeID := strings.TrimSpace(string(req.Data.FeeID))
	if feeID == "" {
		feeID = strings.TrimSpace(string(req.Data.FeeIDCamel))
	}
	if feeID != "" {
		if _, err := h.selections.Toggle(ctx, services.ToggleSelectionCommand{
			SessionID: sessionID,
			FeeID:     feeID,
			Checked:   bool(req.Data.Checked),
			Surface:   services.SurfaceBlocks,
		}); err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
	}

	resp, err := h.checkoutState(ctx, services.CalculateFeesCommand{
		SessionID: sessionID,
		Subtotal:  subtotal,
		Surface:   services.SurfaceBlocks,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *CheckoutHandlers) checkoutState(ctx context.Context, cmd services.CalculateFeesCommand) (checkoutFeesResponse, error) {
	state, err := h.carts.CheckoutFees(ctx, cmd)
	if err != nil {
		return checkoutFeesResponse{}, err
	}
	resp := checkoutFeesResponse{
		OptionalFees: make([]optionalFeePayload, 0, len(state.Optional)),
		Fees:         buildAppliedFeePayloads(state.Fees),
		Total:        state.Total.String(),
		Revision:     state.Revision,
	}
	for _, view := range state.Optional {
		resp.OptionalFees = append(resp.OptionalFees, optionalFeePayload{
			ID:           view.ID,
			PublicName:   view.PublicName,
			CheckboxText: view.CheckboxText,
			HelpText:     view.HelpText,
			Price:        view.Price.String(),
			Selected:     view.Selected,
		})
	}
	return resp, nil
}

func (h *CheckoutHandlers) allowToggle(sessionID string) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(sessionID)
}

func parseClassicToggle(r *http.Request) (string, bool, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	body, err := readLimitedBody(r, maxCheckoutBodySize)
	if err != nil {
		return "", false, err
	}
	if mediaType == "application/json" {
		var req classicToggleRequest
		if err := decodeStrictJSON(body, &req); err != nil {
			return "", false, fmt.Errorf("invalid request body: %w", err)
		}
		return strings.TrimSpace(string(req.FeeID)), bool(req.Checked), nil
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", false, fmt.Errorf("invalid form body: %w", err)
	}
	// The classic page posts checked as the literal string "true".
	return strings.TrimSpace(values.Get("fee_id")), values.Get("checked") == "true", nil
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrSelectionInvalidInput),
		errors.Is(err, services.ErrCartFeesInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSelectionUnavailable),
		errors.Is(err, services.ErrFeeConfigUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fee_store_unavailable", "fee storage temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_fee_error", "failed to update checkout fees", http.StatusInternalServerError))
	}
}
