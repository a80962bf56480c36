package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/psantana5/phoenix-oracle/pkg/auth"
	"github.com/psantana5/phoenix-oracle/pkg/consumer"
	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/oracle"
	"github.com/psantana5/phoenix-oracle/pkg/ratelimit"
	"github.com/psantana5/phoenix-oracle/pkg/store"
)

const (
	defaultListLimit  = 100
	defaultEventLimit = 500
	maxBodyBytes      = 1 << 20
	maxEventWait      = 25 * time.Second
)

// OracleHandler serves the oracle HTTP API
type OracleHandler struct {
	oracle    *oracle.Oracle
	consumers *consumer.Set
	limiter   *ratelimit.Limiter
	logger    *logging.Logger
	storeType string
	hostStats func() models.HostStats
}

// NewOracleHandler creates a new oracle handler
func NewOracleHandler(o *oracle.Oracle, consumers *consumer.Set, logger *logging.Logger) *OracleHandler {
	if consumers == nil {
		consumers = consumer.NewSet()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &OracleHandler{
		oracle:    o,
		consumers: consumers,
		logger:    logger,
		storeType: "unknown",
		hostStats: func() models.HostStats { return models.HostStats{} },
	}
}

// SetRateLimiter limits request intake per caller identity
func (h *OracleHandler) SetRateLimiter(l *ratelimit.Limiter) {
	h.limiter = l
}

// SetStoreType names the backend reported by /health
func (h *OracleHandler) SetStoreType(t string) {
	h.storeType = t
}

// SetHostStats sets the sampler used by /health
func (h *OracleHandler) SetHostStats(fn func() models.HostStats) {
	h.hostStats = fn
}

// RegisterRoutes registers all API routes
func (h *OracleHandler) RegisterRoutes(r *mux.Router) {
	var intake http.Handler = http.HandlerFunc(h.SubmitRequest)
	if h.limiter != nil {
		intake = h.limiter.Middleware(ratelimit.IdentityKeyFunc)(intake)
	}

	r.Handle("/requests", intake).Methods("POST")
	r.HandleFunc("/requests", h.ListRequests).Methods("GET")
	r.HandleFunc("/requests/{id}", h.GetRequest).Methods("GET")
	r.HandleFunc("/requests/{id}/fulfill", h.FulfillRequest).Methods("POST")
	r.HandleFunc("/requests/{id}/cancel", h.CancelRequest).Methods("POST")

	r.HandleFunc("/owner", h.GetOwner).Methods("GET")
	r.HandleFunc("/owner/transfer", h.TransferOwnership).Methods("POST")

	r.HandleFunc("/events", h.ListEvents).Methods("GET")
	r.HandleFunc("/consumers/{id}", h.GetConsumer).Methods("GET")
	r.HandleFunc("/selectors", h.ListSelectors).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// SubmitRequest handles request intake
func (h *OracleHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var body models.IntakeRequest
	if !h.decode(w, r, &body) {
		return
	}
	target, err := models.ParseIdentity(body.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	selector, err := models.ParseSelector(body.Selector)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	req, err := h.oracle.RequestData(r.Context(), caller, target, selector)
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListRequests handles GET /requests
func (h *OracleHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RequestFilter{Limit: defaultListLimit}

	status, err := models.ParseRequestStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	filter.Status = status

	for param, dst := range map[string]*models.Identity{
		"requester": &filter.Requester,
		"target":    &filter.Target,
	} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		id, err := models.ParseIdentity(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("%s: %v", param, err))
			return
		}
		*dst = id
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	reqs, err := h.oracle.Requests(filter)
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []*models.Request{}
	}
	writeJSON(w, http.StatusOK, models.RequestList{Requests: reqs, Count: len(reqs)})
}

// GetRequest looks a request up by nonce or uid
func (h *OracleHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["id"]

	var (
		req *models.Request
		err error
	)
	if id, parseErr := strconv.ParseUint(ref, 10, 64); parseErr == nil {
		req, err = h.oracle.Request(id)
	} else {
		req, err = h.oracle.RequestByUID(ref)
	}
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// FulfillRequest delivers an owner-supplied payload
func (h *OracleHandler) FulfillRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	// Non-owners learn nothing about the id or payload they sent.
	if caller != h.oracle.Owner() {
		h.writeOracleError(w, r, oracle.ErrUnauthorized)
		return
	}
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	var body models.FulfillmentRequest
	if !h.decode(w, r, &body) {
		return
	}
	payload, err := decodeHex(body.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "payload: "+err.Error())
		return
	}

	req, err := h.oracle.FulfillData(r.Context(), caller, id, payload)
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelRequest withdraws a pending request on behalf of its requester
func (h *OracleHandler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := requestID(w, r)
	if !ok {
		return
	}

	req, err := h.oracle.CancelRequest(r.Context(), caller, id)
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// GetOwner returns the current owner
func (h *OracleHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.OwnerInfo{Owner: h.oracle.Owner()})
}

// TransferOwnership hands the owner role to another identity
func (h *OracleHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var body models.OwnershipTransferRequest
	if !h.decode(w, r, &body) {
		return
	}
	// Malformed identities are passed through so the oracle reports them
	// as invalid_identity rather than a generic bad request.
	newOwner := models.Identity(strings.TrimSpace(body.NewOwner))
	if parsed, err := models.ParseIdentity(body.NewOwner); err == nil {
		newOwner = parsed
	}

	if err := h.oracle.TransferOwnership(r.Context(), caller, newOwner); err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.OwnerInfo{Owner: h.oracle.Owner()})
}

// ListEvents returns the event log after a cursor
func (h *OracleHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "after must be an unsigned integer")
			return
		}
		after = v
	}
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = v
	}
	var wait time.Duration
	if raw := q.Get("wait"); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "wait must be a non-negative duration")
			return
		}
		wait = min(v, maxEventWait)
	}

	events, err := h.waitForEvents(r.Context(), after, limit, wait)
	if err != nil {
		h.writeOracleError(w, r, err)
		return
	}
	next := after
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	} else {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, models.EventList{Events: events, Next: next})
}

// waitForEvents reads the log after the cursor. When it is empty and wait is
// set, it blocks until the emitter announces a new event or wait elapses.
func (h *OracleHandler) waitForEvents(ctx context.Context, after uint64, limit int, wait time.Duration) ([]models.Event, error) {
	if wait <= 0 {
		return h.oracle.Events(after, limit)
	}

	notify, cancel := h.oracle.Emitter().Subscribe(1)
	defer cancel()

	// Subscribe before reading so an event committed in between is not missed
	events, err := h.oracle.Events(after, limit)
	if err != nil || len(events) > 0 {
		return events, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-notify:
	case <-timer.C:
		return events, nil
	case <-ctx.Done():
		return events, nil
	}
	return h.oracle.Events(after, limit)
}

// GetConsumer returns the latest values held by a consumer target
func (h *OracleHandler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseIdentity(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, ok := h.consumers.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_consumer", "no consumer registered under "+id.String())
		return
	}
	writeJSON(w, http.StatusOK, c.Snapshot())
}

// ListSelectors lists the supported handler variants
func (h *OracleHandler) ListSelectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HandlerVariants())
}

// Health reports store reachability and host load
func (h *OracleHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:    "healthy",
		Store:     h.storeType,
		Owner:     h.oracle.Owner(),
		Consumers: len(h.consumers.All()),
		Host:      h.hostStats(),
	}
	status := http.StatusOK
	if err := h.oracle.Store().HealthCheck(); err != nil {
		h.logger.Error("Store health check failed", map[string]interface{}{"error": err.Error()})
		health.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else if last, err := h.oracle.Store().LastRequestID(); err == nil {
		health.LastID = last
	}
	writeJSON(w, status, health)
}

func (h *OracleHandler) caller(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, err := auth.GetIdentity(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
		return "", false
	}
	return id, true
}

func (h *OracleHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *OracleHandler) writeOracleError(w http.ResponseWriter, r *http.Request, err error) {
	kind := oracle.ErrorKind(err)
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error("Request failed", map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		})
	}
	writeError(w, status, kind, err.Error())
}

// statusFor maps oracle errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, oracle.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, oracle.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, oracle.ErrAlreadyFulfilled), errors.Is(err, oracle.ErrRequestClosed):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrRequestExpired):
		return http.StatusGone
	case errors.Is(err, oracle.ErrDispatchFailed):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func requestID(w http.ResponseWriter, r *http.Request) (models.Nonce, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("request id %q is not a nonce", raw))
		return 0, false
	}
	return id, true
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: kind, Message: message})
}
