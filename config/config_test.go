package config

import (
	"log/slog"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - trigger",
			input:    "trigger",
			expected: map[ServiceMode]bool{ServiceModeTrigger: true},
		},
		{
			name:  "all services with spaces and case",
			input: " http , Trigger , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:    true,
				ServiceModeTrigger: true,
				ServiceModeReaper:  true,
			},
		},
		{
			name:  "duplicate services",
			input: "http,http,reaper",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeReaper: true,
			},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only spaces and commas", input: " , , ", expectError: true},
		{name: "invalid service name", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if len(result) != len(tt.expected) {
				t.Errorf("expected %d services, got %d", len(tt.expected), len(result))
				return
			}

			for service, expected := range tt.expected {
				if result[service] != expected {
					t.Errorf("expected service %s to be %v, got %v", service, expected, result[service])
				}
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name            string
		services        string
		expectedHTTP    bool
		expectedTrigger bool
		expectedReaper  bool
	}{
		{name: "default - http only", services: "http", expectedHTTP: true},
		{name: "http and trigger", services: "http,trigger", expectedHTTP: true, expectedTrigger: true},
		{name: "reaper only", services: "reaper", expectedReaper: true},
		{name: "invalid config disables everything", services: "invalid-service"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if cfg.IsHTTPServerEnabled() != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v, got %v", tt.expectedHTTP, cfg.IsHTTPServerEnabled())
			}
			if cfg.IsTriggerEnabled() != tt.expectedTrigger {
				t.Errorf("IsTriggerEnabled(): expected %v, got %v", tt.expectedTrigger, cfg.IsTriggerEnabled())
			}
			if cfg.IsReaperEnabled() != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, cfg.IsReaperEnabled())
			}
		})
	}
}

func TestValidServiceModes(t *testing.T) {
	modes := ValidServiceModes()
	expected := []ServiceMode{ServiceModeHTTP, ServiceModeTrigger, ServiceModeReaper}

	if len(modes) != len(expected) {
		t.Fatalf("expected %d service modes, got %d", len(expected), len(modes))
	}
	for i, mode := range modes {
		if mode != expected[i] {
			t.Errorf("expected service mode %s at index %d, got %s", expected[i], i, mode)
		}
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Dispatch.BatchSize != 25 {
		t.Errorf("Dispatch.BatchSize = %d, want 25", cfg.Dispatch.BatchSize)
	}
	if cfg.Worker.SendBatchSize != 20 {
		t.Errorf("Worker.SendBatchSize = %d, want 20", cfg.Worker.SendBatchSize)
	}
	if cfg.Worker.SendPaceInterval != 600*time.Millisecond {
		t.Errorf("Worker.SendPaceInterval = %v, want 600ms", cfg.Worker.SendPaceInterval)
	}
	if cfg.Worker.AITimeout != 60*time.Second || cfg.Worker.EmailTimeout != 30*time.Second {
		t.Errorf("unexpected worker timeouts: %+v", cfg.Worker)
	}
	if cfg.AI.Temperature != 0.7 || cfg.AI.MaxTokens != 2000 {
		t.Errorf("unexpected AI defaults: %+v", cfg.AI)
	}
	if cfg.Reaper.StaleAfter != 15*time.Minute || cfg.Reaper.MaxAttempts != 3 {
		t.Errorf("unexpected reaper defaults: %+v", cfg.Reaper)
	}
	if cfg.Auth.WebhookTolerance != 5*time.Minute {
		t.Errorf("Auth.WebhookTolerance = %v, want 5m", cfg.Auth.WebhookTolerance)
	}
	if cfg.Postgres.Name != "inkwell" {
		t.Errorf("Postgres.Name = %q, want inkwell", cfg.Postgres.Name)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
	if cfg.AI.Enabled() || cfg.Email.Enabled() {
		t.Error("providers should be disabled without credentials")
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("SERVICES", "http,trigger")
	t.Setenv("TRIGGER_SECRET", "  s3cret ")
	t.Setenv("DISPATCH_BATCH_SIZE", "5")
	t.Setenv("SEND_PACE_INTERVAL", "1s")
	t.Setenv("AI_API_KEY", "key")
	t.Setenv("AI_TEMPERATURE", "0.2")
	t.Setenv("MAILGUN_DOMAIN", "mg.example.com")
	t.Setenv("MAILGUN_API_KEY", "mg-key")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("OBSERVABILITY_NOTIFICATIONS_SLACK_CHANNEL", "#alerts")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Auth.TriggerSecret != "s3cret" {
		t.Errorf("TriggerSecret = %q, want trimmed value", cfg.Auth.TriggerSecret)
	}
	if cfg.Dispatch.BatchSize != 5 {
		t.Errorf("Dispatch.BatchSize = %d, want 5", cfg.Dispatch.BatchSize)
	}
	if cfg.Worker.SendPaceInterval != time.Second {
		t.Errorf("SendPaceInterval = %v, want 1s", cfg.Worker.SendPaceInterval)
	}
	if !cfg.AI.Enabled() || cfg.AI.Temperature != 0.2 {
		t.Errorf("unexpected AI config: %+v", cfg.AI)
	}
	if !cfg.Email.Enabled() {
		t.Error("email should be enabled with domain and key")
	}
	if cfg.Postgres.Host != "db.internal" || !cfg.Redis.Enabled {
		t.Errorf("unexpected store config: %+v %+v", cfg.Postgres, cfg.Redis)
	}
	if cfg.Observability.Notifications.Slack.Channel != "#alerts" {
		t.Errorf("Slack.Channel = %q", cfg.Observability.Notifications.Slack.Channel)
	}
	if !cfg.IsTriggerEnabled() || cfg.IsReaperEnabled() {
		t.Error("unexpected service modes")
	}
}

func TestWorkerAndDispatchSanitize(t *testing.T) {
	w := WorkerConfig{SendBatchSize: 0, SendPaceInterval: -time.Second}
	w.Sanitize()
	if w.SendBatchSize != 1 || w.SendPaceInterval != 0 {
		t.Errorf("unexpected worker config: %+v", w)
	}
	if w.AITimeout != 60*time.Second || w.EmailTimeout != 30*time.Second {
		t.Errorf("expected timeout defaults, got %+v", w)
	}

	d := DispatchConfig{BatchSize: 10000, LockTTL: 0}
	d.Sanitize()
	if d.BatchSize != 500 || d.LockTTL != time.Second || d.LockPrefix == "" {
		t.Errorf("unexpected dispatch config: %+v", d)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	r := ReaperConfig{Interval: time.Second, StaleAfter: time.Second, MaxAttempts: 0, BatchSize: 50000}
	r.Sanitize()
	if r.Interval != 10*time.Second {
		t.Errorf("Interval = %v", r.Interval)
	}
	if r.StaleAfter != 2*time.Minute {
		t.Errorf("StaleAfter = %v", r.StaleAfter)
	}
	if r.MaxAttempts != 1 || r.BatchSize != 10000 {
		t.Errorf("unexpected reaper config: %+v", r)
	}
}

func TestAIConfig_Sanitize(t *testing.T) {
	a := AIConfig{Model: " ", Temperature: 5, MaxTokens: 10}
	a.Sanitize()
	if a.Model != "gemini-2.5-flash" || a.Temperature != 2 || a.MaxTokens != 256 {
		t.Errorf("unexpected AI config: %+v", a)
	}
}

func TestEmailConfig_Validate(t *testing.T) {
	e := EmailConfig{FromAddress: "news@example.com"}
	if err := e.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	e.FromAddress = "not an address"
	if err := e.Validate(); err == nil {
		t.Error("expected invalid address error")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := AppConfig{LogLevel: in}
		if got := cfg.SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, Path: " metrics "}
	cfg.Sanitize()
	if cfg.Path != "/metrics" {
		t.Fatalf("expected normalised path, got %q", cfg.Path)
	}
	if !cfg.IsEnabled() {
		t.Fatal("expected metrics to remain enabled")
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		Enabled:    true,
		Timeout:    0,
		RetryLimit: -1,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: " ",
			Channel:    "  ",
		},
	}

	cfg.Sanitize()

	if cfg.Timeout <= 0 {
		t.Fatalf("expected timeout to fall back to default, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit < 0 {
		t.Fatalf("expected retry limit to be clamped to >= 0, got %d", cfg.RetryLimit)
	}
	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled without a webhook url")
	}
	if cfg.Slack.Username != "inkwell" {
		t.Fatalf("expected slack username default, got %q", cfg.Slack.Username)
	}

	// Disabled top-level should disable child sinks.
	cfg = ObservabilityNotificationsConfig{
		Enabled: false,
		Slack: SlackNotificationConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/services/test",
		},
	}
	cfg.Sanitize()

	if cfg.Slack.Enabled {
		t.Fatal("expected slack to be disabled when top-level notifications disabled")
	}
}
