package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/services"
)

func newAdminTestRouter(deps AdminFeeHandlersDeps) chi.Router {
	deps.Authenticator = auth.NewAuthenticator(&stubTokenVerifier{tokens: map[string]*firebaseauth.Token{
		"manager-token": {
			UID:    "manager-1",
			Claims: map[string]interface{}{"role": "shop_manager"},
		},
		"customer-token": {
			UID:    "customer-1",
			Claims: map[string]interface{}{},
		},
	}})
	handlers := NewAdminFeeHandlers(deps)
	return NewRouter(WithAdminRoutes(handlers.Routes))
}

func adminRequest(method, path, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer manager-token")
	return req
}

func TestAdminFeeHandlers_ListFees(t *testing.T) {
	updated := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fees := &stubFeeConfigService{
		listFn: func(context.Context) (services.FeeConfiguration, error) {
			return services.FeeConfiguration{
				Fees: []services.FeeDefinition{{
					ID:           "fee_gift",
					InternalName: "gift",
					PublicName:   "Gift wrap",
					Price:        decimal.RequireFromString("5.95"),
					Type:         domain.FeeTypeOptional,
					Condition:    domain.FeeConditionAlways,
					Active:       true,
				}},
				Revision:  3,
				UpdatedAt: updated,
				UpdatedBy: "manager-1",
			}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/admin/fees", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body feeListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Revision != 3 || len(body.Fees) != 1 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Fees[0].Price != "5.95" || body.Fees[0].Type != string(domain.FeeTypeOptional) {
		t.Fatalf("unexpected fee payload %+v", body.Fees[0])
	}
	if body.UpdatedAt != updated.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected updated_at %q", body.UpdatedAt)
	}
}

func TestAdminFeeHandlers_GetFeeNotFound(t *testing.T) {
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: &stubFeeConfigService{}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/admin/fees/missing", ""))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminFeeHandlers_SaveFeesPassesRowsAndActor(t *testing.T) {
	var captured services.SaveFeesCommand
	fees := &stubFeeConfigService{
		saveFn: func(_ context.Context, cmd services.SaveFeesCommand) (services.FeeConfiguration, error) {
			captured = cmd
			return services.FeeConfiguration{Revision: 8}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})

	body := `{"expected_revision":7,"fees":[{"internal_name":"gift","public_name":"Gift wrap","price":5.95,"type":"optional","condition":"always"},{"internal_name":"handling","price":"2","active":"0"}]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/api/v1/admin/fees", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "manager-1" {
		t.Fatalf("expected actor manager-1, got %q", captured.ActorID)
	}
	if captured.ExpectedRevision == nil || *captured.ExpectedRevision != 7 {
		t.Fatalf("expected revision 7, got %v", captured.ExpectedRevision)
	}
	if len(captured.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(captured.Rows))
	}
	if captured.Rows[0].Price != "5.95" || !captured.Rows[0].Active {
		t.Fatalf("unexpected first row %+v", captured.Rows[0])
	}
	if captured.Rows[1].Active {
		t.Fatalf("expected second row inactive")
	}
}

func TestAdminFeeHandlers_SaveFeesAcceptsListedRows(t *testing.T) {
	var captured services.SaveFeesCommand
	fees := &stubFeeConfigService{
		saveFn: func(_ context.Context, cmd services.SaveFeesCommand) (services.FeeConfiguration, error) {
			captured = cmd
			return services.FeeConfiguration{Revision: 3}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})

	body := `{"fees":[` +
		`{"id":"fee_b","internal_name":"handling","public_name":"Handling","price":"2.00","tax_class":"","type":"fixed","checkbox_text":"","help_text":"","condition":"always","condition_minimum":"","order":1,"active":true},` +
		`{"id":"fee_a","internal_name":"gift","public_name":"Gift wrap","price":"5.95","tax_class":"reduced","type":"optional","checkbox_text":"Wrap it","help_text":"","condition":"always","condition_minimum":"","order":0,"active":false}` +
		`]}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/api/v1/admin/fees", body))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(captured.Rows))
	}
	if captured.Rows[0].ID != "fee_b" || captured.Rows[1].ID != "fee_a" {
		t.Fatalf("expected rows in list order, got %q then %q", captured.Rows[0].ID, captured.Rows[1].ID)
	}
	if captured.Rows[1].Active || captured.Rows[1].CheckboxText != "Wrap it" {
		t.Fatalf("unexpected second row %+v", captured.Rows[1])
	}
}

func TestAdminFeeHandlers_SaveFeesRejectsUnknownField(t *testing.T) {
	called := false
	fees := &stubFeeConfigService{
		saveFn: func(context.Context, services.SaveFeesCommand) (services.FeeConfiguration, error) {
			called = true
			return services.FeeConfiguration{}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/api/v1/admin/fees", `{"fees":[{"internal_name":"gift","price":"1","colour":"red"}]}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if called {
		t.Fatalf("expected save not to be called")
	}
}

func TestAdminFeeHandlers_SaveFeesValidationError(t *testing.T) {
	fees := &stubFeeConfigService{
		saveFn: func(context.Context, services.SaveFeesCommand) (services.FeeConfiguration, error) {
			return services.FeeConfiguration{}, &services.FeeValidationError{Fields: []services.FeeFieldError{
				{Row: 0, Field: "price", Message: "must be a non-negative amount"},
			}}
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/api/v1/admin/fees", `{"fees":[{"price":"abc"}]}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var body struct {
		Error  string `json:"error"`
		Fields []struct {
			Row   int    `json:"row"`
			Field string `json:"field"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Error != "invalid_fees" || len(body.Fields) != 1 || body.Fields[0].Field != "price" {
		t.Fatalf("unexpected error body %s", rr.Body.String())
	}
}

func TestAdminFeeHandlers_SaveFeesErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "conflict", body: `{"fees":[]}`, err: fmt.Errorf("save: %w", services.ErrFeeConfigConflict), status: http.StatusConflict},
		{name: "unavailable", body: `{"fees":[]}`, err: services.ErrFeeConfigUnavailable, status: http.StatusServiceUnavailable},
		{name: "missing fees", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"fees":[],"extra":1}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fees := &stubFeeConfigService{
				saveFn: func(context.Context, services.SaveFeesCommand) (services.FeeConfiguration, error) {
					return services.FeeConfiguration{}, tc.err
				},
			}
			router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: fees})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, adminRequest(http.MethodPut, "/api/v1/admin/fees", tc.body))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAdminFeeHandlers_PreviewFees(t *testing.T) {
	var captured services.PreviewFeesCommand
	carts := &stubCartFeeService{
		previewFn: func(_ context.Context, cmd services.PreviewFeesCommand) (services.CartFees, error) {
			captured = cmd
			return services.CartFees{
				Fees: []services.AppliedFee{{
					FeeID:     "fee_gift",
					Name:      "Gift wrap",
					NetAmount: decimal.RequireFromString("5"),
					Taxable:   true,
					TaxClass:  "standard",
				}},
				Total:    decimal.RequireFromString("5"),
				Revision: 2,
			}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Carts: carts})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/admin/fees:preview", `{"subtotal":"120.50","selected_fee_ids":["fee_gift"]}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Subtotal.Equal(decimal.RequireFromString("120.5")) || len(captured.SelectedIDs) != 1 {
		t.Fatalf("unexpected preview command %+v", captured)
	}
	var body cartFeesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Total != "5" || len(body.Fees) != 1 || !body.Fees[0].Taxable {
		t.Fatalf("unexpected preview body %+v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/api/v1/admin/fees:preview", `{"subtotal":"-1"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative subtotal, got %d", rr.Code)
	}
}

func TestAdminFeeHandlers_OrderFeeLines(t *testing.T) {
	orders := &stubOrderFeeService{
		adminFn: func(_ context.Context, orderID string) ([]services.OrderFeeLine, error) {
			if orderID != "1001" {
				return nil, services.ErrAppliedFeesNotFound
			}
			return []services.OrderFeeLine{
				{FeeID: "fee_a", Name: "Handling", NetAmount: decimal.RequireFromString("2.50")},
				{FeeID: "fee_b", Name: "Gift wrap", NetAmount: decimal.RequireFromString("5")},
			}, nil
		},
	}
	router := newAdminTestRouter(AdminFeeHandlersDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/admin/orders/1001/fees", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body orderFeeLinesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Total != "7.5" || len(body.Fees) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/api/v1/admin/orders/2002/fees", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminFeeHandlers_RequiresManagerRole(t *testing.T) {
	router := newAdminTestRouter(AdminFeeHandlersDeps{Fees: &stubFeeConfigService{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/fees", nil)
	req.Header.Set("Authorization", "Bearer customer-token")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/fees", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}
