package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/offlinequeue"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

// OfflineQueue is the terminal-side queue the API exposes for inspection
// and manual drains.
type OfflineQueue interface {
	Enqueue(ctx context.Context, opType string, payload any) (domain.QueuedOperation, error)
	Pending(ctx context.Context) ([]offlinequeue.Entry, error)
	Drain(ctx context.Context) (int, error)
	Online() bool
	SetOnline(online bool)
}

type Options struct {
	Logger        *zap.Logger
	AllowedOrigin string
	Queue         OfflineQueue
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *zap.Logger
	allowedOrigin string
	queue         OfflineQueue
	metrics       http.Handler
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		log:           logger,
		allowedOrigin: opts.AllowedOrigin,
		queue:         opts.Queue,
		metrics:       opts.Metrics,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour).
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

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
	r.Use(a.requestLogger)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{a.allowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token", "X-Manager-PIN"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limitJSONBody)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(domain.RoleCashier, domain.RoleAdmin))

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Post("/products/scan", a.handleScanProduct)
			r.Get("/products/sku/{sku}", a.handleProductBySKU)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeactivateProduct)

			r.Get("/customers", a.handleFindCustomer)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{id}", a.handleGetCustomer)

			r.Get("/offers", a.handleListOffers)
			r.Post("/offers", a.handleCreateOffer)
			r.Post("/offers/best", a.handleBestOffer)

			r.Post("/pricing/preview", a.handlePricingPreview)
			r.Post("/checkout", a.handleCheckout)

			r.Get("/invoices", a.handleFindInvoice)
			r.Get("/invoices/{id}", a.handleGetInvoice)
			r.Get("/invoices/{id}/exchanges", a.handleInvoiceExchanges)

			r.Post("/exchanges", a.handleExchange)
			r.Post("/exchanges/preview", a.handleExchangePreview)

			r.Post("/sync/operations", a.handleSyncOperations)

			r.Route("/offline", func(r chi.Router) {
				r.Get("/queue", a.handleOfflinePending)
				r.Post("/queue", a.handleOfflineEnqueue)
				r.Post("/drain", a.handleOfflineDrain)
				r.Put("/status", a.handleOfflineStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(a.requireAdmin)

				r.Post("/inventory/receive", a.handleReceiveStock)
				r.Post("/inventory/adjust", a.handleAdjustStock)
				r.Get("/inventory/logs", a.handleInventoryLogs)
				r.Get("/inventory/movements", a.handleStockMovements)

				r.Get("/settings", a.handleGetSettings)
				r.Patch("/settings", a.handleUpdateSettings)

				r.Get("/users/cashiers", a.handleListCashiers)
				r.Post("/users/cashiers", a.handleCreateCashier)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) requireAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorization := strings.TrimSpace(r.Header.Get("Authorization"))
			if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
				a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
			if err != nil {
				a.writeError(w, http.StatusUnauthorized, err)
				return
			}
			if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
				a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
		})
	}
}

// requireAdmin passes admins through. A cashier may act as admin for one
// request by sending a valid manager PIN in X-Manager-PIN.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := service.ActorFromContext(r.Context())
		if actor.Role == domain.RoleAdmin {
			next.ServeHTTP(w, r)
			return
		}

		pin := strings.TrimSpace(r.Header.Get("X-Manager-PIN"))
		if pin == "" {
			a.writeError(w, http.StatusForbidden, service.ErrForbidden)
			return
		}
		if !a.pinLimiter.Allow(clientKey(r)) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(pin) {
			a.writeError(w, http.StatusForbidden, errors.New("invalid manager PIN"))
			return
		}

		a.log.Info("manager override",
			zap.String("user", actor.Username),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		actor.Role = domain.RoleAdmin
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// csrfExemptPaths are called without a prior CSRF token fetch.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/sync/operations",
}

// checkCSRF enforces a CSRF token on every state-changing request.
func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}
		for _, exempt := range csrfExemptPaths {
			if r.URL.Path == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}
		if !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// classify maps service and store errors to an HTTP status and a stable
// machine-readable code.
func classify(err error) (int, string) {
	var (
		validation *service.ValidationError
		notFound   *service.NotFoundError
		stock      *service.InsufficientStockError
		window     *service.ReturnWindowExceededError
		qty        *service.InvalidReturnQuantityError
		notOnInv   *service.ProductNotInOriginalInvoiceError
		conflict   *service.TransactionConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_failed"
	case errors.As(err, &notFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &stock):
		return http.StatusConflict, "insufficient_stock"
	case errors.As(err, &window):
		return http.StatusUnprocessableEntity, "return_window_exceeded"
	case errors.As(err, &qty):
		return http.StatusUnprocessableEntity, "invalid_return_quantity"
	case errors.As(err, &notOnInv):
		return http.StatusUnprocessableEntity, "product_not_in_original_invoice"
	case errors.As(err, &conflict):
		return http.StatusServiceUnavailable, "transaction_conflict"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, offlinequeue.ErrOffline):
		return http.StatusConflict, "offline"
	default:
		return http.StatusInternalServerError, ""
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	body := errorBody{Error: err.Error(), Code: code}
	var validation *service.ValidationError
	if errors.As(err, &validation) {
		body.Field = validation.Field
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= 500 && code == "" {
		a.log.Error("internal error", zap.Error(err))
		body.Error = "internal server error"
	}
	writeJSON(w, status, body)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies never carry internal details.
	msg := err.Error()
	if status >= 500 {
		a.log.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
