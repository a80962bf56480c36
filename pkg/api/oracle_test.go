package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/psantana5/phoenix-oracle/pkg/api"
	"github.com/psantana5/phoenix-oracle/pkg/auth"
	"github.com/psantana5/phoenix-oracle/pkg/consumer"
	"github.com/psantana5/phoenix-oracle/pkg/logging"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/oracle"
	"github.com/psantana5/phoenix-oracle/pkg/ratelimit"
	"github.com/psantana5/phoenix-oracle/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	owner     = models.MustParseIdentity("0x00000000000000000000000000000000000000aa")
	requester = models.MustParseIdentity("0x00000000000000000000000000000000000000bb")
	target    = models.MustParseIdentity("0x00000000000000000000000000000000000000cc")
)

type testServer struct {
	router   *mux.Router
	oracle   *oracle.Oracle
	consumer *consumer.Consumer
	keys     map[models.Identity]string
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *testServer {
	t.Helper()

	c := consumer.New(target, "demo")
	targets := oracle.NewTargetRegistry()
	require.NoError(t, targets.Register(target, c))
	set := consumer.NewSet()
	set.Add(c)

	o, err := oracle.New(store.NewMemoryStore(), targets, oracle.Config{Owner: owner})
	require.NoError(t, err)

	ring := auth.NewKeyRing(bcrypt.MinCost)
	keys := make(map[models.Identity]string)
	for _, id := range []models.Identity{owner, requester} {
		key, err := ring.GenerateKey(id, "", 0)
		require.NoError(t, err)
		keys[id] = key
	}

	handler := api.NewOracleHandler(o, set, logging.Nop())
	handler.SetStoreType("memory")
	if limiter != nil {
		handler.SetRateLimiter(limiter)
	}

	router := mux.NewRouter()
	router.Use(auth.Middleware(ring, logging.Nop(), "/health"))
	handler.RegisterRoutes(router)

	return &testServer{router: router, oracle: o, consumer: c, keys: keys}
}

func (s *testServer) call(t *testing.T, as models.Identity, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		req.Header.Set(auth.IdentityHeader, as.String())
		req.Header.Set("Authorization", "Bearer "+s.keys[as])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var er models.ErrorResponse
	decodeBody(t, w, &er)
	return er.Error
}

func TestRequestLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: "value"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var req models.Request
	decodeBody(t, w, &req)
	assert.Equal(t, models.Nonce(1), req.ID)
	assert.Equal(t, requester, req.Requester)
	assert.Equal(t, models.SelectorSetValue, req.Selector)
	assert.Equal(t, models.RequestStatusPending, req.Status)

	w = s.call(t, requester, "GET", "/requests/"+req.UID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.call(t, owner, "POST", "/requests/1/fulfill", models.FulfillmentRequest{Payload: "0xdeadbeef"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &req)
	assert.Equal(t, models.RequestStatusFulfilled, req.Status)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, s.consumer.Value())

	w = s.call(t, owner, "POST", "/requests/1/fulfill", models.FulfillmentRequest{Payload: "0x00"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_fulfilled", errorKind(t, w))

	w = s.call(t, requester, "GET", "/consumers/"+target.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap consumer.Snapshot
	decodeBody(t, w, &snap)
	assert.Equal(t, "0xdeadbeef", snap.Value)
	require.Len(t, snap.Deliveries, 1)

	w = s.call(t, requester, "GET", "/events?after=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events models.EventList
	decodeBody(t, w, &events)
	require.Len(t, events.Events, 2)
	assert.Equal(t, models.EventRequestLogged, events.Events[0].Kind)
	assert.Equal(t, models.EventFulfilled, events.Events[1].Kind)
	assert.Equal(t, events.Events[1].Seq, events.Next)

	w = s.call(t, requester, "GET", "/events?after=2", nil)
	decodeBody(t, w, &events)
	assert.Empty(t, events.Events)
	assert.Equal(t, uint64(2), events.Next)
}

func TestFulfillErrorStatuses(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: "bytes32"})
	require.Equal(t, http.StatusCreated, w.Code)
	unregistered := models.MustParseIdentity("0x00000000000000000000000000000000000000dd")
	w = s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: unregistered.String(), Selector: "text"})
	require.Equal(t, http.StatusCreated, w.Code)

	tests := []struct {
		name   string
		as     models.Identity
		path   string
		body   models.FulfillmentRequest
		status int
		kind   string
	}{
		{"non-owner", requester, "/requests/1/fulfill", models.FulfillmentRequest{Payload: "0x01"}, http.StatusForbidden, "unauthorized"},
		{"non-owner bad hex", requester, "/requests/1/fulfill", models.FulfillmentRequest{Payload: "zz"}, http.StatusForbidden, "unauthorized"},
		{"non-owner non-numeric id", requester, "/requests/abc/fulfill", models.FulfillmentRequest{Payload: "zz"}, http.StatusForbidden, "unauthorized"},
		{"unknown id", owner, "/requests/99/fulfill", models.FulfillmentRequest{Payload: "0x01"}, http.StatusNotFound, "unknown_request"},
		{"oversized bytes32", owner, "/requests/1/fulfill", models.FulfillmentRequest{Payload: "0x" + string(bytes.Repeat([]byte("ab"), 33))}, http.StatusUnprocessableEntity, "dispatch_failed"},
		{"unknown target", owner, "/requests/2/fulfill", models.FulfillmentRequest{Payload: "0x6869"}, http.StatusUnprocessableEntity, "dispatch_failed"},
		{"bad hex", owner, "/requests/1/fulfill", models.FulfillmentRequest{Payload: "zz"}, http.StatusBadRequest, "bad_request"},
		{"non-numeric id", owner, "/requests/abc/fulfill", models.FulfillmentRequest{Payload: "0x01"}, http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.call(t, tt.as, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, errorKind(t, w))
		})
	}

	req, err := s.oracle.Request(1)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status, "failed fulfillments leave the request pending")
}

func TestCancelRequest(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: "price"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.call(t, owner, "POST", "/requests/1/cancel", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.call(t, requester, "POST", "/requests/1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.call(t, requester, "POST", "/requests/1/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "request_closed", errorKind(t, w))

	w = s.call(t, owner, "POST", "/requests/1/fulfill", models.FulfillmentRequest{Payload: "0x01"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "request_closed", errorKind(t, w))
}

func TestListRequestsFilters(t *testing.T) {
	s := newTestServer(t, nil)
	for _, sel := range []string{"value", "text", "price"} {
		w := s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: sel})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := s.call(t, owner, "POST", "/requests/2/fulfill", models.FulfillmentRequest{Payload: "0x6869"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var list models.RequestList
	w = s.call(t, requester, "GET", "/requests?status=pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	assert.Equal(t, 2, list.Count)

	w = s.call(t, requester, "GET", "/requests?requester="+owner.String(), nil)
	decodeBody(t, w, &list)
	assert.Zero(t, list.Count)
	assert.NotNil(t, list.Requests)

	w = s.call(t, requester, "GET", "/requests?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.call(t, requester, "GET", "/requests?target=nothex", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIntakeValidation(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: "0x12", Selector: "value"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: "0x1234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Opaque selectors are accepted at intake and rejected at fulfillment
	w = s.call(t, requester, "POST", "/requests", models.IntakeRequest{Target: target.String(), Selector: "0x12345678"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.call(t, requester, "POST", "/requests", map[string]string{"target": target.String(), "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOwnershipEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	var info models.OwnerInfo
	w := s.call(t, requester, "GET", "/owner", nil)
	decodeBody(t, w, &info)
	assert.Equal(t, owner, info.Owner)

	w = s.call(t, requester, "POST", "/owner/transfer", models.OwnershipTransferRequest{NewOwner: requester.String()})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.call(t, owner, "POST", "/owner/transfer", models.OwnershipTransferRequest{NewOwner: string(models.ZeroIdentity)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_identity", errorKind(t, w))

	w = s.call(t, owner, "POST", "/owner/transfer", models.OwnershipTransferRequest{NewOwner: "garbage"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_identity", errorKind(t, w))

	w = s.call(t, owner, "POST", "/owner/transfer", models.OwnershipTransferRequest{NewOwner: requester.String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decodeBody(t, w, &info)
	assert.Equal(t, requester, info.Owner)

	w = s.call(t, owner, "POST", "/owner/transfer", models.OwnershipTransferRequest{NewOwner: owner.String()})
	assert.Equal(t, http.StatusForbidden, w.Code, "previous owner lost its rights")
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, "", "GET", "/requests", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", errorKind(t, w))

	w = s.call(t, "", "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health models.Health
	decodeBody(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Store)
	assert.Equal(t, owner, health.Owner)
	assert.Equal(t, 1, health.Consumers)
}

func TestIntakeRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimit.NewLimiter(0.001, 2))
	body := models.IntakeRequest{Target: target.String(), Selector: "value"}

	assert.Equal(t, http.StatusCreated, s.call(t, requester, "POST", "/requests", body).Code)
	assert.Equal(t, http.StatusCreated, s.call(t, requester, "POST", "/requests", body).Code)
	w := s.call(t, requester, "POST", "/requests", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", errorKind(t, w))

	// Buckets are per identity
	assert.Equal(t, http.StatusCreated, s.call(t, owner, "POST", "/requests", body).Code)
	// Reads are not limited
	assert.Equal(t, http.StatusOK, s.call(t, requester, "GET", "/requests", nil).Code)
}

func TestSelectorsAndUnknownConsumer(t *testing.T) {
	s := newTestServer(t, nil)

	var variants []models.HandlerVariant
	w := s.call(t, requester, "GET", "/selectors", nil)
	decodeBody(t, w, &variants)
	assert.Len(t, variants, 4)

	w = s.call(t, requester, "GET", "/consumers/"+owner.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEventsLongPoll(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.call(t, requester, "GET", "/events?wait=50ms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list models.EventList
	decodeBody(t, w, &list)
	assert.Empty(t, list.Events)
	assert.Equal(t, uint64(0), list.Next)

	w = s.call(t, requester, "GET", "/events?wait=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest("GET", "/events?after=0&wait=5s", nil)
		req.Header.Set(auth.IdentityHeader, requester.String())
		req.Header.Set("Authorization", "Bearer "+s.keys[requester])
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		done <- rec
	}()

	require.Eventually(t, func() bool {
		return s.oracle.Emitter().Subscribers() == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.oracle.RequestData(context.Background(), requester, target, models.SelectorSetText)
	require.NoError(t, err)

	select {
	case w = <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not return after a new event")
	}
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &list)
	require.Len(t, list.Events, 1)
	assert.Equal(t, models.EventRequestLogged, list.Events[0].Kind)
	assert.Equal(t, list.Events[0].Seq, list.Next)
	assert.Equal(t, 0, s.oracle.Emitter().Subscribers())
}
