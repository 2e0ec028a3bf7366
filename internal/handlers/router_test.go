package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/simplecartfees/api/internal/domain"
	"github.com/simplecartfees/api/internal/services"
)

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestRouterProbesAndFallbacks(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	health := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			GeneratedAt: now,
			Checks:      map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
		}}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := serve(router, http.MethodGet, path); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}

	rr := serve(router, http.MethodGet, APIPrefix+"/admin/fees")
	body := errorBody(t, rr)
	if rr.Code != http.StatusNotFound || body["error"] != "route_not_found" {
		t.Fatalf("groups without a registrar should not be mounted, got %d %s", rr.Code, rr.Body.String())
	}
	if id, _ := body["request_id"].(string); id == "" {
		t.Fatalf("expected a request id on the error envelope")
	}

	if rr := serve(router, http.MethodGet, "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("metrics should be absent without a handler, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/healthz"); rr.Code != http.StatusMethodNotAllowed || errorBody(t, rr)["error"] != "method_not_allowed" {
		t.Fatalf("expected method_not_allowed, got %d", rr.Code)
	}
}

func TestRouterGroupsGuardsAndMetrics(t *testing.T) {
	var hits []string
	guard := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits = append(hits, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	routes := func(name string) RouteRegistrar {
		return func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-Group", name)
				w.WriteHeader(http.StatusNoContent)
			})
		}
	}

	router := NewRouter(
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})),
		WithOrderMiddlewares(guard("orders")),
		WithOrderRoutes(routes("orders")),
		WithWebhookRoutes(routes("webhooks")),
		WithWebhookMiddlewares(guard("webhooks")),
		WithCheckoutRoutes(routes("checkout")),
	)

	for _, group := range []string{"orders", "webhooks", "checkout"} {
		rr := serve(router, http.MethodGet, APIPrefix+"/"+group+"/ping")
		if rr.Code != http.StatusNoContent || rr.Header().Get("X-Group") != group {
			t.Fatalf("%s: expected 204 from its own group, got %d", group, rr.Code)
		}
	}
	if len(hits) != 2 || hits[0] != "orders" || hits[1] != "webhooks" {
		t.Fatalf("guards should run once for their own group only, got %v", hits)
	}

	if rr := serve(router, http.MethodGet, APIPrefix+"//orders/./ping"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected cleaned path to route, got %d", rr.Code)
	}

	rr := serve(router, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || rr.Body.String() != "# metrics" {
		t.Fatalf("expected metrics body, got %d %q", rr.Code, rr.Body.String())
	}
}
