package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/domain"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token clients send back in
// X-CSRF-Token on mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.generateCSRFToken()})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	products, err := a.service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleProductBySKU(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.FindProductBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleDeactivateProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.DeactivateProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleScanProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ScanProduct(r.Context(), req.Scan)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleFindCustomer(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("phone query parameter is required"))
		return
	}
	customer, err := a.service.FindCustomerByPhone(r.Context(), phone)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customer": customer})
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"customer": customer})
}

func (a *API) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := a.service.ListOffers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (a *API) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.OfferCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	offer, err := a.service.CreateOffer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"offer": offer})
}

func (a *API) handleBestOffer(w http.ResponseWriter, r *http.Request) {
	var req domain.BestOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.BestOffer(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePricingPreview(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	preview, err := a.service.PreviewCheckout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Checkout(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleFindInvoice(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(r.URL.Query().Get("number"))
	if number == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("number query parameter is required"))
		return
	}
	invoice, err := a.service.FindInvoiceByNumber(r.Context(), number)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := a.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleInvoiceExchanges(w http.ResponseWriter, r *http.Request) {
	exchanges, err := a.service.ListExchanges(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": exchanges})
}

func (a *API) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req domain.ExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Exchange(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleExchangePreview(w http.ResponseWriter, r *http.Request) {
	var req domain.ExchangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.PreviewExchange(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSyncOperations(w http.ResponseWriter, r *http.Request) {
	var req domain.SyncOperationsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Operations) == 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("operations are required"))
		return
	}
	writeJSON(w, http.StatusOK, a.service.SyncOperations(r.Context(), req))
}

type offlineEnqueueRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type offlineStatusRequest struct {
	Online bool `json:"online"`
}

func (a *API) offlineQueue(w http.ResponseWriter) (OfflineQueue, bool) {
	if a.queue == nil {
		a.writeError(w, http.StatusNotFound, errors.New("offline queue is not enabled"))
		return nil, false
	}
	return a.queue, true
}

func (a *API) handleOfflinePending(w http.ResponseWriter, r *http.Request) {
	queue, ok := a.offlineQueue(w)
	if !ok {
		return
	}
	entries, err := queue.Pending(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": queue.Online(), "operations": entries})
}

func (a *API) handleOfflineEnqueue(w http.ResponseWriter, r *http.Request) {
	queue, ok := a.offlineQueue(w)
	if !ok {
		return
	}
	var req offlineEnqueueRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Payload) == 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("payload is required"))
		return
	}
	op, err := queue.Enqueue(r.Context(), req.Type, req.Payload)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"operation": op})
}

func (a *API) handleOfflineDrain(w http.ResponseWriter, r *http.Request) {
	queue, ok := a.offlineQueue(w)
	if !ok {
		return
	}
	applied, err := queue.Drain(r.Context())
	if err != nil {
		status, _ := classify(err)
		if status == http.StatusInternalServerError {
			// The failed entry stays queued with its error recorded.
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"applied": applied, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (a *API) handleOfflineStatus(w http.ResponseWriter, r *http.Request) {
	queue, ok := a.offlineQueue(w)
	if !ok {
		return
	}
	var req offlineStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	queue.SetOnline(req.Online)
	writeJSON(w, http.StatusOK, map[string]any{"online": queue.Online()})
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiveStockRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ReceiveStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.AdjustStock(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func logFilterFromQuery(r *http.Request) (domain.InventoryLogFilter, error) {
	q := r.URL.Query()
	filter := domain.InventoryLogFilter{
		ProductID: strings.TrimSpace(q.Get("product_id")),
		Type:      strings.TrimSpace(q.Get("type")),
		Limit:     parsePositiveLimit(q.Get("limit"), 100, 500),
	}
	for key, dest := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.InventoryLogFilter{}, errors.New(key + " must be an RFC3339 timestamp")
		}
		*dest = parsed.UTC()
	}
	return filter, nil
}

func (a *API) handleInventoryLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFromQuery(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := a.service.ListInventoryLogs(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleStockMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilterFromQuery(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	movements, err := a.service.StockMovements(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
