package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/target/inkwell/config"
	"github.com/target/inkwell/internal/data"
	"github.com/target/inkwell/internal/data/memstore"
	"github.com/target/inkwell/internal/domain/model"
	httpx "github.com/target/inkwell/internal/http"
)

func testConfig(t *testing.T, vars map[string]string) *config.AppConfig {
	t.Helper()
	if vars == nil {
		vars = map[string]string{}
	}
	var cfg config.AppConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()
	return &cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memRepos(store *memstore.Store) *Repositories {
	return &Repositories{
		Jobs:        store.Jobs(),
		Issues:      store.Issues(),
		Deliveries:  store.Deliveries(),
		Preferences: store.Preferences(),
		Events:      store.Events(),
		Reaper:      store.Jobs(),
	}
}

func TestGetEnabledServices(t *testing.T) {
	tests := []struct {
		services string
		want     string
	}{
		{"http", "http"},
		{"reaper,trigger,http", "http,trigger,reaper"},
		{"bogus", ""},
	}
	for _, tt := range tests {
		t.Run(tt.services, func(t *testing.T) {
			cfg := &config.AppConfig{Services: tt.services}
			if got := strings.Join(GetEnabledServices(cfg), ","); got != tt.want {
				t.Fatalf("GetEnabledServices(%q) = %q, want %q", tt.services, got, tt.want)
			}
		})
	}
	if got := GetEnabledServices(nil); len(got) != 0 {
		t.Fatalf("GetEnabledServices(nil) = %v", got)
	}
}

func TestValidateServiceConfig(t *testing.T) {
	if err := ValidateServiceConfig(nil); err == nil {
		t.Fatal("nil config should fail")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "http,rules-engine"}); err == nil {
		t.Fatal("unknown service should fail")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "trigger"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostgresDSN_EscapesCredentials(t *testing.T) {
	dsn := PostgresDSN(config.DBConfig{
		Host: "db", Port: 5432, User: "ink", Password: "p@ss/word", Name: "inkwell", SSLMode: "require",
	})
	want := "postgres://ink:p%40ss%2Fword@db:5432/inkwell?sslmode=require"
	if dsn != want {
		t.Fatalf("PostgresDSN() = %q, want %q", dsn, want)
	}
}

func TestConnectRedis_DisabledReturnsNil(t *testing.T) {
	client, err := ConnectRedis(context.Background(), DatabaseConfig{})
	if err != nil || client != nil {
		t.Fatalf("ConnectRedis() = %v, %v; want nil, nil", client, err)
	}
	locker, err := NewLocker(nil)
	if err != nil || locker != nil {
		t.Fatalf("NewLocker(nil) = %v, %v; want nil, nil", locker, err)
	}
}

func TestNewRedisClient_Validation(t *testing.T) {
	if _, _, err := newRedisClient(config.RedisConfig{UseCluster: true, ClusterNodes: []string{" "}}); err == nil {
		t.Fatal("cluster without nodes should fail")
	}
	if _, _, err := newRedisClient(config.RedisConfig{UseSentinel: true}); err == nil {
		t.Fatal("sentinel without nodes should fail")
	}
	client, addr, err := newRedisClient(config.RedisConfig{URI: "redis://:secret@cache:6380/0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer client.Close()
	if addr != "cache:6380" {
		t.Fatalf("addr = %q, want credentials stripped", addr)
	}
}

func TestNewServices_RequiresStorage(t *testing.T) {
	if _, err := NewServices(context.Background(), &ServiceDeps{Config: testConfig(t, nil), Logger: discardLogger()}); err == nil {
		t.Fatal("expected error without DB or repositories")
	}
}

func TestNewServices_UnconfiguredGeneratorFailsJobs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	clock := data.NewFixedTimeProvider(now)
	store := memstore.New(clock)

	svc, err := NewServices(ctx, &ServiceDeps{
		Config:       testConfig(t, nil),
		Repos:        memRepos(store),
		TimeProvider: clock,
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}

	store.Preferences().Put(&model.Preferences{UserID: "user-1", Topics: []string{"agents"}})
	if _, err := store.Issues().Create(ctx, &model.CreateIssueRequest{UserID: "user-1", ScheduledAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("create issue: %v", err)
	}

	res, err := svc.Dispatcher.DispatchGeneration(ctx)
	if err != nil || res.Queued != 1 {
		t.Fatalf("DispatchGeneration() = %+v, %v", res, err)
	}
	work, err := svc.Generation.Process(ctx, "")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	job, err := store.Jobs().GetByID(ctx, work.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.JobStatusFailed || job.Error == nil || *job.Error != ErrGeneratorNotConfigured.Error() {
		t.Fatalf("job = %+v, want failed with %q", job, ErrGeneratorNotConfigured)
	}
}

func TestNewRouterServices_ServesHealthAndMetrics(t *testing.T) {
	cfg := testConfig(t, map[string]string{"TRIGGER_SECRET": "s"})
	svc, err := NewServices(context.Background(), &ServiceDeps{
		Config: cfg,
		Repos:  memRepos(memstore.New(nil)),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	h := httpx.NewRouter(NewRouterServices(cfg, svc, discardLogger()))

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dispatch/send", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("POST /dispatch/send without secret = %d, want 401", rec.Code)
	}
}

func TestNewRouterServices_MetricsDisabled(t *testing.T) {
	cfg := testConfig(t, map[string]string{"OBSERVABILITY_METRICS_ENABLED": "false"})
	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Repos: memRepos(memstore.New(nil)), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	if rs := NewRouterServices(cfg, svc, discardLogger()); rs.Metrics != nil {
		t.Fatal("metrics gatherer should be nil when disabled")
	}
}

func TestBuildBackgroundServices(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SERVICES": "reaper,trigger,http"})
	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Repos: memRepos(memstore.New(nil)), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	got, err := buildBackgroundServices(&RunConfig{Config: cfg, Services: svc, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("buildBackgroundServices() error = %v", err)
	}
	names := make([]string, 0, len(got))
	for _, s := range got {
		names = append(names, s.name)
	}
	if strings.Join(names, ",") != "http server,trigger,reaper" {
		t.Fatalf("services = %v", names)
	}
}

func TestRunServices_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t, map[string]string{"SERVICES": "trigger", "TRIGGER_GENERATE_SCHEDULE": "0 0 0 1 1 *"})
	svc, err := NewServices(context.Background(), &ServiceDeps{Config: cfg, Repos: memRepos(memstore.New(nil)), Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunServices(ctx, &RunConfig{Config: cfg, Services: svc, Logger: discardLogger()}) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunServices() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunServices did not stop")
	}
}

func TestBuildFailureNotifier(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ObservabilityNotificationsConfig
		want bool
	}{
		{"disabled", config.ObservabilityNotificationsConfig{}, false},
		{"enabled without sinks", config.ObservabilityNotificationsConfig{Enabled: true}, false},
		{
			"slack",
			config.ObservabilityNotificationsConfig{
				Enabled: true,
				Slack:   config.SlackNotificationConfig{Enabled: true, WebhookURL: "https://hooks.slack.test/x"},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildFailureNotifier(discardLogger(), tt.cfg).Enabled(); got != tt.want {
				t.Fatalf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}
