package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tdpos/backend/internal/apperr"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/logger"
	"tdpos/backend/internal/metrics"
	"tdpos/backend/internal/service"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *logger.Logger
	metrics       *metrics.POSMetrics
	gatherer      prometheus.Gatherer
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

type Options struct {
	AllowedOrigin string
	Logger        *logger.Logger
	Metrics       *metrics.POSMetrics
	// Gatherer backs GET /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	allowedOrigin := strings.TrimSpace(opts.AllowedOrigin)
	if allowedOrigin == "" {
		allowedOrigin = "http://127.0.0.1:3000"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		log:           log,
		metrics:       opts.Metrics,
		gatherer:      opts.Gatherer,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	entries   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time), now: time.Now}
}

// Allow records an attempt for key and reports whether it fits the window.
func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

// sweep forgets keys whose newest attempt is outside the window.
func (l *attemptLimiter) sweep(cutoff time.Time) {
	for key, history := range l.entries {
		if len(history) == 0 || !history[len(history)-1].After(cutoff) {
			delete(l.entries, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		a.securityHeaders,
		a.requestLogging,
		middleware.Recoverer,
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.writeError(w, r, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})

	r.Get("/healthz", a.handleHealth)
	if a.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth())

			r.Get("/auth/me", a.handleMe)
			r.Post("/auth/password", a.handleChangePassword)

			r.Get("/branches", a.handleListBranches)
			r.Get("/branches/{id}", a.handleGetBranch)
			r.Get("/products", a.handleListProducts)
			r.Get("/products/{id}", a.handleGetProduct)

			r.Route("/pos", func(r chi.Router) {
				r.Get("/cart", a.handleCart)
				r.Delete("/cart", a.handleClearCart)
				r.Post("/cart/items", a.handleAddToCart)
				r.Put("/cart/items/{productID}", a.handleSetQuantity)
				r.Delete("/cart/items/{productID}", a.handleRemoveFromCart)
				r.Post("/cart/items/{productID}/increment", a.handleIncrement)
				r.Post("/cart/items/{productID}/decrement", a.handleDecrement)
				r.Post("/cart/items/{productID}/discount", a.handleLineDiscount)
				r.Post("/cart/discount", a.handleCartDiscount)
				r.Delete("/cart/discount", a.handleRemoveCartDiscount)
				r.Post("/cart/checkout", a.handleCheckout)
				r.Post("/cart/hold", a.handleHoldCart)
				r.Get("/cart/held", a.handleHeldCarts)
				r.Post("/cart/resume/{holdID}", a.handleResumeCart)
				r.Delete("/cart/held/{holdID}", a.handleDiscardHeldCart)
				r.Post("/drawer", a.handleOpenDrawer)
			})

			r.Get("/orders", a.handleListOrders)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Get("/orders/{id}/receipt", a.handleReceipt)

			r.Group(func(r chi.Router) {
				r.Use(a.requireAuth(domain.RoleManager, domain.RoleAdmin))

				r.Post("/branches", a.handleCreateBranch)
				r.Put("/branches/{id}", a.handleUpdateBranch)
				r.Delete("/branches/{id}", a.handleDeleteBranch)
				r.Post("/products", a.handleCreateProduct)
				r.Put("/products/{id}", a.handleUpdateProduct)
				r.Delete("/products/{id}", a.handleDeleteProduct)

				r.Get("/employees", a.handleListEmployees)
				r.Get("/employees/{id}", a.handleGetEmployee)
				r.Post("/employees", a.handleCreateEmployee)
				r.Put("/employees/{id}", a.handleUpdateEmployee)
				r.Delete("/employees/{id}", a.handleDeleteEmployee)

				r.Get("/dashboard", a.handleDashboard)
				r.Get("/dashboard/metrics/{metric}", a.handleMetric)
				r.Get("/dashboard/export.xlsx", a.handleExportDashboard)
			})
		})
	})

	return r
}

// requireAuth resolves the bearer token into an actor, reusing one already
// placed on the context by an outer group. With roles given, the actor's role
// must be one of them.
func (a *API) requireAuth(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok {
				authorization := strings.TrimSpace(r.Header.Get("Authorization"))
				if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
					a.writeError(w, r, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
					return
				}
				var err error
				actor, err = a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
				if err != nil {
					a.writeError(w, r, apperr.Wrap(apperr.CodeUnauthorized, err, err.Error()))
					return
				}
			}

			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, r, apperr.New(apperr.CodeForbidden, "forbidden role"))
				return
			}

			ctx := service.WithActor(r.Context(), actor)
			ctx = a.log.WithEmployee(ctx, actor.EmployeeID, string(actor.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isRoleAllowed(role domain.Role, allowed []domain.Role) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogging attaches the request id to the context logger and records
// the route-level duration histogram.
func (a *API) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ctx := a.log.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(startedAt)
		a.metrics.ObserveRequest(r.Method, route, status, elapsed)
		a.log.Debug(a.log.WithFields(ctx, map[string]any{
			"method":      r.Method,
			"route":       route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}), "request served")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request body: "+err.Error())
	}
	return nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.CodeValidation, name+" must be a non-negative integer")
	}
	return n, nil
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError maps err onto its code's HTTP status. Server-side failures are
// logged and answered with the code's public message only.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.Lookup(typed.Code())

	body := errorBody{
		Error:     meta.PublicMessage,
		Code:      string(typed.Code()),
		Retryable: meta.Retryable,
	}
	if meta.HTTPStatus >= http.StatusInternalServerError {
		a.log.Error(r.Context(), "request failed", err)
	} else if msg := typed.Message(); msg != "" {
		body.Error = msg
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}
	writeJSON(w, meta.HTTPStatus, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
