package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shopline/queue-service/internal/models"
	"shopline/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.QueueStore
}

func NewHandler(store store.QueueStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queue/join", h.handleJoinQueue)
	mux.HandleFunc("/api/queue/status", h.handleQueueStatus)
	mux.HandleFunc("/api/queue", h.handleListQueue)
	mux.HandleFunc("/api/queue/", h.handleEntryActions)
	mux.HandleFunc("/api/visits", h.handleListVisits)
	mux.HandleFunc("/api/visits/analytics", h.handleVisitAnalytics)
	mux.HandleFunc("/api/visits/", h.handleVisitByID)
	mux.HandleFunc("/api/shops/", h.handleShopByID)
	mux.HandleFunc("/api/subscriptions", h.handleSubscriptions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type joinQueueRequest struct {
	ShopID     string `json:"shop_id"`
	CustomerID string `json:"customer_id"`
}

func (h *Handler) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req joinQueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.ShopID = strings.TrimSpace(req.ShopID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)

	if req.ShopID == "" || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id and customer_id are required")
		return
	}
	if !isValidUUID(req.ShopID) || !isValidUUID(req.CustomerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id and customer_id must be UUIDs")
		return
	}

	entry, err := h.store.JoinQueue(r.Context(), store.JoinQueueInput{
		ShopID:     req.ShopID,
		CustomerID: req.CustomerID,
		JoinedAt:   time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	customerID := strings.TrimSpace(r.URL.Query().Get("customer_id"))
	if shopID == "" || customerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id and customer_id are required")
		return
	}
	if !isValidUUID(shopID) || !isValidUUID(customerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id and customer_id must be UUIDs")
		return
	}

	status, err := h.store.GetQueueStatus(r.Context(), shopID, customerID)
	if err != nil {
		httpStatus, code, msg := mapError(err)
		writeError(w, httpStatus, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

type listResponse struct {
	Data       interface{}      `json:"data"`
	Pagination store.Pagination `json:"pagination"`
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	if shopID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id is required")
		return
	}
	if !isValidUUID(shopID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id must be a UUID")
		return
	}

	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if state == "" {
		state = models.StateInQueue
	}
	if !store.KnownState(state) {
		writeError(w, http.StatusBadRequest, "invalid_request", "state must be one of in_queue, picked, served")
		return
	}

	page, limit, ok := parsePagination(w, r)
	if !ok {
		return
	}

	entries, pagination, err := h.store.ListQueueByState(r.Context(), store.ListQueueInput{
		ShopID: shopID,
		State:  state,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.QueueEntryDetail{}
	}

	writeJSON(w, http.StatusOK, listResponse{Data: entries, Pagination: pagination})
}

func (h *Handler) handleEntryActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCancelEntry(w, r, entryID)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "state":
		h.handleUpdateState(w, r, entryID)
	case "complete":
		h.handleCompleteVisit(w, r, entryID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type updateStateRequest struct {
	State string `json:"state"`
}

func (h *Handler) handleUpdateState(w http.ResponseWriter, r *http.Request, entryID string) {
	var req updateStateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.State = strings.TrimSpace(req.State)
	if req.State == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "state is required")
		return
	}
	if !store.KnownState(req.State) {
		writeError(w, http.StatusBadRequest, "invalid_request", "state must be one of in_queue, picked, served")
		return
	}

	entry, err := h.store.UpdateState(r.Context(), store.TransitionInput{
		EntryID:     entryID,
		TargetState: req.State,
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type completeVisitRequest struct {
	CustomerID string                   `json:"customer_id"`
	Guest      *guestRequest            `json:"guest"`
	Services   []completeServiceRequest `json:"services"`
}

type guestRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type completeServiceRequest struct {
	ServiceID    string `json:"service_id"`
	ChargedPrice int64  `json:"charged_price"`
}

type completeVisitResponse struct {
	Entry models.QueueEntry `json:"entry"`
	Visit models.Visit      `json:"visit"`
}

func (h *Handler) handleCompleteVisit(w http.ResponseWriter, r *http.Request, entryID string) {
	var req completeVisitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID != "" && !isValidUUID(req.CustomerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID when provided")
		return
	}
	if len(req.Services) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "at least one service is required")
		return
	}

	items := make([]store.LineItemInput, 0, len(req.Services))
	for _, svc := range req.Services {
		serviceID := strings.TrimSpace(svc.ServiceID)
		if !isValidUUID(serviceID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "service_id must be a UUID")
			return
		}
		if svc.ChargedPrice < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "charged_price must not be negative")
			return
		}
		items = append(items, store.LineItemInput{
			ServiceID:    serviceID,
			ChargedPrice: svc.ChargedPrice,
		})
	}

	var guest *store.GuestInfo
	if req.Guest != nil {
		guest = &store.GuestInfo{
			FirstName: strings.TrimSpace(req.Guest.FirstName),
			LastName:  strings.TrimSpace(req.Guest.LastName),
			Phone:     strings.TrimSpace(req.Guest.Phone),
		}
		if guest.Phone != "" && !isValidPhone(guest.Phone) {
			writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 8-16 digits")
			return
		}
	}

	entry, visit, err := h.store.CompleteVisit(r.Context(), store.CompleteVisitInput{
		EntryID:    entryID,
		CustomerID: req.CustomerID,
		LineItems:  items,
		Guest:      guest,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, completeVisitResponse{Entry: entry, Visit: visit})
}

func (h *Handler) handleCancelEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	entry, err := h.store.CancelEntry(r.Context(), entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleListVisits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	customerID := strings.TrimSpace(r.URL.Query().Get("customer_id"))
	if shopID != "" && !isValidUUID(shopID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id must be a UUID when provided")
		return
	}
	if customerID != "" && !isValidUUID(customerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID when provided")
		return
	}

	page, limit, ok := parsePagination(w, r)
	if !ok {
		return
	}

	visits, pagination, err := h.store.ListVisits(r.Context(), store.ListVisitsInput{
		ShopID:     shopID,
		CustomerID: customerID,
		Page:       page,
		Limit:      limit,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if visits == nil {
		visits = []models.Visit{}
	}

	writeJSON(w, http.StatusOK, listResponse{Data: visits, Pagination: pagination})
}

func (h *Handler) handleVisitAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID := strings.TrimSpace(r.URL.Query().Get("shop_id"))
	if shopID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id is required")
		return
	}
	if !isValidUUID(shopID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id must be a UUID")
		return
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -6)
	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start must be YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end must be YYYY-MM-DD")
			return
		}
		end = parsed
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "invalid_request", "end must not be before start")
		return
	}

	analytics, err := h.store.VisitAnalytics(r.Context(), shopID, start, end)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, analytics)
}

func (h *Handler) handleVisitByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	visitID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/visits/"), "/")
	if !isValidUUID(visitID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "visit_id must be a UUID")
		return
	}

	visit, err := h.store.DeactivateVisit(r.Context(), visitID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleShopByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	shopID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/shops/"), "/")
	if !isValidUUID(shopID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "shop_id must be a UUID")
		return
	}

	shop, err := h.store.GetShopWithActiveServices(r.Context(), shopID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, shop)
}

type subscriptionRequest struct {
	CustomerID string `json:"customer_id"`
	Endpoint   string `json:"endpoint"`
	KeysAuth   string `json:"keys_auth"`
	KeysP256DH string `json:"keys_p256dh"`
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req subscriptionRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Endpoint = strings.TrimSpace(req.Endpoint)
	if req.CustomerID == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id and endpoint are required")
		return
	}
	if !isValidUUID(req.CustomerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer_id must be a UUID")
		return
	}

	sub, err := h.store.UpsertPushSubscription(r.Context(), store.PushSubscription{
		CustomerID: req.CustomerID,
		Endpoint:   req.Endpoint,
		KeysAuth:   strings.TrimSpace(req.KeysAuth),
		KeysP256DH: strings.TrimSpace(req.KeysP256DH),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, sub)
}

func parsePagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "page must be a positive integer")
			return 0, 0, false
		}
		page = parsed
	}
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 100")
			return 0, 0, false
		}
		limit = parsed
	}
	return page, limit, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	if len(value) < 8 || len(value) > 16 {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func mapError(err error) (int, string, string) {
	var invalidServices *store.InvalidServicesError
	if errors.As(err, &invalidServices) {
		return http.StatusBadRequest, "invalid_services", invalidServices.Error()
	}

	switch {
	case errors.Is(err, store.ErrShopNotFound):
		return http.StatusNotFound, "shop_not_found", "shop not found"
	case errors.Is(err, store.ErrShopClosed):
		return http.StatusConflict, "shop_closed", "shop is not open"
	case errors.Is(err, store.ErrCustomerNotFound):
		return http.StatusNotFound, "customer_not_found", "customer not found"
	case errors.Is(err, store.ErrNotCustomer):
		return http.StatusForbidden, "not_customer", "only customers can join the queue"
	case errors.Is(err, store.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry", "customer already has an active queue entry"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrNotInQueue):
		return http.StatusNotFound, "not_in_queue", "customer is not in the queue"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "entry state does not allow this action"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", "entry was updated concurrently"
	case errors.Is(err, store.ErrInvalidService):
		return http.StatusBadRequest, "invalid_services", "one or more services do not belong to this shop"
	case errors.Is(err, store.ErrVisitNotFound):
		return http.StatusNotFound, "visit_not_found", "visit not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
