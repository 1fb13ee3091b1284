package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	mgadapter "github.com/target/inkwell/internal/adapters/mailgun"
	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/data/memstore"
	"github.com/target/inkwell/internal/domain/model"
	"github.com/target/inkwell/internal/observability/metrics"
	"github.com/target/inkwell/internal/service"
)

const (
	testSecret     = "cron-secret"
	testSigningKey = "whsec-key"
)

var testNow = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

const testContent = `{
  "title": "Weekly AI",
  "preheader": "Five things worth reading",
  "intro": "Hello there",
  "sections": [
    {"title": "Models", "summary": "New releases", "linkSuggestions": ["https://example.com/a"]}
  ],
  "outro": "See you next week"
}`

type stubGenerator struct {
	mu   sync.Mutex
	raw  string
	reqs []core.GenerateRequest
}

func (g *stubGenerator) Generate(_ context.Context, req core.GenerateRequest) (core.GenerateResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return core.GenerateResponse{Raw: g.raw, Model: "gemini-test"}, nil
}

type stubSender struct {
	mu   sync.Mutex
	msgs []core.EmailMessage
}

func (s *stubSender) Send(_ context.Context, msg core.EmailMessage) (core.SendReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return core.SendReceipt{MessageID: "msg-1@mg.example.com"}, nil
}

func (s *stubSender) sent() []core.EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.EmailMessage(nil), s.msgs...)
}

type httpFixture struct {
	store    *memstore.Store
	clock    *data.FixedTimeProvider
	gen      *stubGenerator
	sender   *stubSender
	registry *prometheus.Registry
	services RouterServices
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	clock := data.NewFixedTimeProvider(testNow)
	store := memstore.New(clock)
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &stubGenerator{raw: testContent}
	sender := &stubSender{}

	deps := service.WorkerDeps{Jobs: store.Jobs(), TimeProvider: clock, Metrics: rec, Logger: logger}

	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Jobs:         store.Jobs(),
		Issues:       store.Issues(),
		Deliveries:   store.Deliveries(),
		TimeProvider: clock,
		Metrics:      rec,
		Logger:       logger,
	})
	require.NoError(t, err)

	generation, err := service.NewGenerationWorker(service.GenerationWorkerOptions{
		WorkerDeps:  deps,
		Issues:      store.Issues(),
		Preferences: store.Preferences(),
		Generator:   gen,
	})
	require.NoError(t, err)

	send, err := service.NewSendWorker(service.SendWorkerOptions{
		WorkerDeps:  deps,
		Issues:      store.Issues(),
		Deliveries:  store.Deliveries(),
		Preferences: store.Preferences(),
		Sender:      sender,
		Config:      service.SendConfig{FromName: "Inkwell", FromAddress: "newsletter@example.com"},
	})
	require.NoError(t, err)

	editor, err := service.NewEditorService(service.EditorServiceOptions{
		Issues:       store.Issues(),
		Preferences:  store.Preferences(),
		Generator:    gen,
		TimeProvider: clock,
		Logger:       logger,
	})
	require.NoError(t, err)

	events, err := service.NewDeliveryEventService(service.DeliveryEventServiceOptions{
		Events:       store.Events(),
		Deliveries:   store.Deliveries(),
		TimeProvider: clock,
		Metrics:      rec,
		Logger:       logger,
	})
	require.NoError(t, err)

	return &httpFixture{
		store:    store,
		clock:    clock,
		gen:      gen,
		sender:   sender,
		registry: reg,
		services: RouterServices{
			Dispatcher:       dispatcher,
			Generation:       generation,
			Send:             send,
			Jobs:             service.MustNewJobService(service.JobServiceOptions{Jobs: store.Jobs(), Issues: store.Issues(), Deliveries: store.Deliveries()}),
			Editor:           editor,
			DeliveryEvents:   events,
			TriggerSecret:    testSecret,
			WebhookVerifier:  mgadapter.NewWebhookVerifier("mg.example.com", testSigningKey),
			WebhookTolerance: 5 * time.Minute,
			Clock:            clock,
			Metrics:          reg,
			MaxBodyBytes:     1 << 20,
			Logger:           logger,
		},
	}
}

func newTestRouter(t *testing.T, f *httpFixture) http.Handler {
	t.Helper()
	return NewRouter(f.services)
}

type call struct {
	method string
	path   string
	body   any
	// secret is sent as a bearer token when non-empty.
	secret string
}

func (f *httpFixture) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	switch b := c.body.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	rec := httptest.NewRecorder()
	newTestRouter(t, f).ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) authed(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, call{method: method, path: path, body: body, secret: testSecret})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *httpFixture) pendingIssue(t *testing.T, userID string) *model.Issue {
	t.Helper()
	issue, err := f.store.Issues().Create(context.Background(), &model.CreateIssueRequest{
		UserID:      userID,
		ScheduledAt: testNow.Add(-time.Minute),
	})
	require.NoError(t, err)
	return issue
}

func (f *httpFixture) generatedIssue(t *testing.T, userID string) *model.Issue {
	t.Helper()
	issue, err := f.store.Issues().Create(context.Background(), &model.CreateIssueRequest{
		UserID:      userID,
		Status:      model.IssueStatusGenerated,
		ScheduledAt: testNow.Add(-time.Hour),
		Subject:     "Weekly AI",
		ContentJSON: json.RawMessage(testContent),
	})
	require.NoError(t, err)
	return issue
}

func (f *httpFixture) delivery(t *testing.T, issueID, to string) *model.Delivery {
	t.Helper()
	d, err := f.store.Deliveries().Create(context.Background(), &model.CreateDeliveryRequest{
		IssueID: issueID,
		ToEmail: to,
		SendAt:  testNow.Add(-time.Minute),
	})
	require.NoError(t, err)
	return d
}
