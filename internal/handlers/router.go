package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/simplecartfees/api/internal/platform/httpx"
)

// APIPrefix is where the fee route groups are mounted.
const APIPrefix = "/api/v1"

const requestTimeout = 30 * time.Second

// RouteRegistrar adds one group's routes to r.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

type routeGroup struct {
	register RouteRegistrar
	guards   []middlewareFunc
}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	metrics     http.Handler
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(path string) *routeGroup {
	g, ok := c.groups[path]
	if !ok {
		g = &routeGroup{}
		c.groups[path] = g
	}
	return g
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the service router. Probes and /metrics sit at the root. Admin, checkout,
// order and webhook groups live under APIPrefix and are only mounted when a registrar is given.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{groups: map[string]*routeGroup{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.CleanPath, middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(APIPrefix, func(api chi.Router) {
		for path, g := range cfg.groups {
			if g.register == nil {
				continue
			}
			api.Route(path, func(sub chi.Router) {
				for _, guard := range g.guards {
					if guard != nil {
						sub.Use(guard)
					}
				}
				g.register(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends router-wide middleware after the request id, real ip, path cleaning
// and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithMetricsHandler serves the Prometheus scrape endpoint at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) { cfg.metrics = h }
}

// WithAdminRoutes mounts reg at /admin. Admin routes apply their own bearer authentication.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/admin").register = reg }
}

// WithCheckoutRoutes mounts reg at /checkout.
func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/checkout").register = reg }
}

// WithOrderRoutes mounts reg at /orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/orders").register = reg }
}

// WithOrderMiddlewares guards the /orders group, typically with HMAC verification.
func WithOrderMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/orders")
		g.guards = append(g.guards, mw...)
	}
}

// WithWebhookRoutes mounts reg at /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group("/webhooks").register = reg }
}

// WithWebhookMiddlewares guards the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/webhooks")
		g.guards = append(g.guards, mw...)
	}
}
