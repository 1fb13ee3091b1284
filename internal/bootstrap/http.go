package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/adapters/mailgun"
	httpx "github.com/target/inkwell/internal/http"
)

// NewRouterServices maps the container onto the HTTP router's dependencies.
func NewRouterServices(cfg *config.AppConfig, svc *ServiceContainer, logger *slog.Logger) httpx.RouterServices {
	if logger == nil {
		logger = slog.Default()
	}
	rs := httpx.RouterServices{
		Dispatcher:       svc.Dispatcher,
		Generation:       svc.Generation,
		Send:             svc.Send,
		Jobs:             svc.Jobs,
		Editor:           svc.Editor,
		DeliveryEvents:   svc.DeliveryEvents,
		TriggerSecret:    cfg.Auth.TriggerSecret,
		WebhookTolerance: cfg.Auth.WebhookTolerance,
		Clock:            svc.Clock,
		MaxBodyBytes:     cfg.HTTP.MaxBodyBytes,
		Logger:           logger,
	}
	if cfg.Observability.Metrics.IsEnabled() && svc.Registry != nil {
		rs.Metrics = svc.Registry
		rs.MetricsPath = cfg.Observability.Metrics.Path
	}
	if cfg.Auth.WebhookVerificationEnabled() {
		rs.WebhookVerifier = mailgun.NewWebhookVerifier(cfg.Email.MailgunDomain, cfg.Auth.WebhookSigningKey)
	} else {
		logger.Warn("EMAIL_WEBHOOK_SIGNING_KEY is empty; webhook signatures are not verified")
	}
	return rs
}

// NewHTTPServer builds the HTTP server without starting it.
func NewHTTPServer(cfg *config.AppConfig, svc *ServiceContainer, logger *slog.Logger) *http.Server {
	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(NewRouterServices(cfg, svc, logger)),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// ServeHTTP runs server until ctx is done, then shuts it down within timeout.
func ServeHTTP(ctx context.Context, server *http.Server, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
