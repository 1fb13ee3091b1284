package httpx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/target/inkwell/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher     Dispatcher
	Generation     JobWorker
	Send           JobWorker
	Jobs           *service.JobService
	Editor         *service.EditorService
	DeliveryEvents *service.DeliveryEventService

	// TriggerSecret guards every route except liveness, metrics and the webhook.
	TriggerSecret string

	// WebhookVerifier checks Mailgun signatures. Nil disables verification.
	WebhookVerifier  SignatureVerifier
	WebhookTolerance time.Duration
	Clock            Clock

	// Metrics is scraped at MetricsPath when set.
	Metrics     prometheus.Gatherer
	MetricsPath string

	MaxBodyBytes int64
	Logger       *slog.Logger // Optional: defaults to slog.Default()
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	protect := RequireSharedSecret(services.TriggerSecret)

	workers := &WorkerHandlers{
		Dispatcher: services.Dispatcher,
		Generation: services.Generation,
		Send:       services.Send,
		Logger:     logger,
	}
	registerWorkerRoutes(mux, workers, protect)

	if services.Jobs != nil {
		registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs}, protect)
	}
	if services.Editor != nil {
		registerEditorRoutes(mux, &EditorHandlers{Svc: services.Editor}, protect)
	}
	if services.DeliveryEvents != nil {
		webhooks := &WebhookHandlers{
			Svc:       services.DeliveryEvents,
			Verifier:  services.WebhookVerifier,
			Tolerance: services.WebhookTolerance,
			Clock:     services.Clock,
			Logger:    logger,
		}
		mux.HandleFunc("POST /webhooks/email", webhooks.EmailEvent)
	}

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	if services.Metrics != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.HandlerFor(services.Metrics, promhttp.HandlerOpts{}))
	}

	return Chain(mux, Recover(logger), Logging(logger), LimitBody(services.MaxBodyBytes))
}

func registerWorkerRoutes(mux *http.ServeMux, h *WorkerHandlers, protect func(http.Handler) http.Handler) {
	if h.Dispatcher != nil {
		mux.Handle("POST /dispatch/generate", protect(http.HandlerFunc(h.DispatchGeneration)))
		mux.Handle("POST /dispatch/send", protect(http.HandlerFunc(h.DispatchSend)))
	}
	if h.Generation != nil {
		mux.Handle("POST /jobs/generate", protect(http.HandlerFunc(h.ProcessGeneration)))
	}
	if h.Send != nil {
		mux.Handle("POST /jobs/send", protect(http.HandlerFunc(h.ProcessSend)))
	}
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers, protect func(http.Handler) http.Handler) {
	mux.Handle("GET /api/jobs/stats", protect(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/jobs/{id}", protect(http.HandlerFunc(h.GetJob)))
	mux.Handle("GET /api/issues/{id}/jobs", protect(http.HandlerFunc(h.ListIssueJobs)))
	mux.Handle("GET /api/issues/{id}/deliveries", protect(http.HandlerFunc(h.ListIssueDeliveries)))
}

func registerEditorRoutes(mux *http.ServeMux, h *EditorHandlers, protect func(http.Handler) http.Handler) {
	mux.Handle("PUT /api/issues/{id}/content", protect(http.HandlerFunc(h.SaveIssue)))
	mux.Handle("POST /api/ai/preview", protect(http.HandlerFunc(h.Preview)))
	mux.Handle("POST /api/users/{userId}/first-issue", protect(http.HandlerFunc(h.CreateFirstIssue)))
}
