package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	auditdomain "github.com/tripdeal/bargain/internal/auditlog/domain"
	"github.com/tripdeal/bargain/internal/config"
	negotiationdomain "github.com/tripdeal/bargain/internal/negotiation/domain"
	"github.com/tripdeal/bargain/internal/observability"
	obsmetrics "github.com/tripdeal/bargain/internal/observability/metrics"
	"github.com/tripdeal/bargain/internal/server"
	sessiondomain "github.com/tripdeal/bargain/internal/session/domain"
)

type stubNegotiationService struct {
	startResp  *negotiationdomain.StartResponse
	offerResp  *negotiationdomain.OfferResponse
	acceptResp *negotiationdomain.AcceptResponse
	replayResp *negotiationdomain.ReplayResponse
	err        error
}

func (s *stubNegotiationService) Start(context.Context, negotiationdomain.StartRequest) (*negotiationdomain.StartResponse, error) {
	return s.startResp, s.err
}

func (s *stubNegotiationService) Offer(context.Context, negotiationdomain.OfferRequest) (*negotiationdomain.OfferResponse, error) {
	return s.offerResp, s.err
}

func (s *stubNegotiationService) Accept(context.Context, negotiationdomain.AcceptRequest) (*negotiationdomain.AcceptResponse, error) {
	return s.acceptResp, s.err
}

func (s *stubNegotiationService) Replay(context.Context, string) (*negotiationdomain.ReplayResponse, error) {
	return s.replayResp, s.err
}

type stubRecorder struct {
	events []*auditdomain.NegotiationEvent
}

func (r *stubRecorder) Record(_ context.Context, event *auditdomain.NegotiationEvent) {
	r.events = append(r.events, event)
}

func (r *stubRecorder) List(context.Context, string) ([]*auditdomain.NegotiationEvent, error) {
	return r.events, nil
}

func newTestServer(t *testing.T, svc negotiationdomain.Service, recorder auditdomain.Recorder) *server.Server {
	t.Helper()

	httpMetrics, err := obsmetrics.NewHTTPMetrics()
	require.NoError(t, err)

	engine := server.NewEngine(observability.Config{}, httpMetrics)
	return server.NewServer(server.ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		NegotiationSvc: svc,
		AuditSvc:       recorder,
	})
}

func doJSON(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestStartSessionReturnsOffer(t *testing.T) {
	svc := &stubNegotiationService{
		startResp: &negotiationdomain.StartResponse{
			SessionID:    "01JSESSION",
			InitialOffer: negotiationdomain.OfferView{Price: 232.5, Explanation: "We can start at 232.50"},
			MinFloor:     198,
		},
	}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/session/start", map[string]any{
		"user":    map[string]string{"id": "buyer-1", "tier": "standard"},
		"product": "hotel:taj-exotica:deluxe",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp negotiationdomain.StartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "01JSESSION", resp.SessionID)
	assert.Equal(t, 232.5, resp.InitialOffer.Price)
}

func TestStartSessionRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubNegotiationService{}, &stubRecorder{})

	req := httptest.NewRequest(http.MethodPost, "/session/start", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestOfferMapsNeverLossTo409(t *testing.T) {
	svc := &stubNegotiationService{err: negotiationdomain.ErrNeverLossViolation}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/session/offer", map[string]any{
		"sessionId": "01JSESSION",
		"userOffer": 120.0,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "never_loss_violation")
	// Internals must not leak.
	assert.NotContains(t, w.Body.String(), "floor")
	assert.NotContains(t, w.Body.String(), "cost")
}

func TestOfferMapsExpiredTo410(t *testing.T) {
	svc := &stubNegotiationService{err: negotiationdomain.ErrSessionExpired}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/session/offer", map[string]any{
		"sessionId": "01JSESSION",
	})

	assert.Equal(t, http.StatusGone, w.Code)
	assert.Contains(t, w.Body.String(), "session_expired")
}

func TestOfferMapsUnknownSessionTo404(t *testing.T) {
	svc := &stubNegotiationService{err: sessiondomain.ErrNotFound}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/session/offer", map[string]any{
		"sessionId": "01JMISSING",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAcceptMapsInventoryChangeTo409(t *testing.T) {
	svc := &stubNegotiationService{err: negotiationdomain.ErrInventoryChanged}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/session/accept", map[string]any{
		"sessionId": "01JSESSION",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "inventory_changed")
}

func TestLogClientEventsFansIntoQueue(t *testing.T) {
	recorder := &stubRecorder{}
	srv := newTestServer(t, &stubNegotiationService{}, recorder)

	w := doJSON(t, srv, http.MethodPost, "/event/log", map[string]any{
		"eventType": "client_telemetry",
		"batchId":   "batch-7",
		"events": []map[string]any{
			{"sessionId": "01JSESSION", "payload": map[string]any{"scroll_depth": 0.8}},
			{"sessionId": "01JSESSION", "payload": map[string]any{"dwell_ms": 1200}},
		},
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, recorder.events, 2)
	assert.Equal(t, auditdomain.EventClientTelemetry, recorder.events[0].EventType)
	assert.Equal(t, "batch-7", recorder.events[0].Signals["batch_id"])
}

func TestLogClientEventsRejectsEmptyBatch(t *testing.T) {
	srv := newTestServer(t, &stubNegotiationService{}, &stubRecorder{})

	w := doJSON(t, srv, http.MethodPost, "/event/log", map[string]any{
		"eventType": "client_telemetry",
		"events":    []map[string]any{},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplayReturnsHistory(t *testing.T) {
	svc := &stubNegotiationService{
		replayResp: &negotiationdomain.ReplayResponse{
			Session:        &sessiondomain.NegotiationSession{ID: "01JSESSION"},
			SignatureValid: true,
		},
	}
	srv := newTestServer(t, svc, &stubRecorder{})

	w := doJSON(t, srv, http.MethodGet, "/session/replay/01JSESSION", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"signatureValid":true`)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubNegotiationService{}, &stubRecorder{})

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
