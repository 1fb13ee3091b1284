package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeTrigger runs the in-process cron trigger for dispatch and workers.
	ServiceModeTrigger ServiceMode = "trigger"
	// ServiceModeReaper runs stale job recovery.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeTrigger, ServiceModeReaper}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.ToLower(strings.TrimSpace(part))
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeTrigger, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, trigger, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatchConfig contains dispatcher configuration.
type DispatchConfig struct {
	// BatchSize is the maximum number of candidates scanned per dispatch call.
	BatchSize int `env:"DISPATCH_BATCH_SIZE" envDefault:"25"`

	// LockTTL bounds how long one dispatch invocation holds the overlap lock.
	LockTTL time.Duration `env:"DISPATCH_LOCK_TTL" envDefault:"30s"`

	// LockPrefix namespaces dispatch lock keys in Redis.
	LockPrefix string `env:"DISPATCH_LOCK_PREFIX" envDefault:"inkwell:dispatch:"`
}

// Sanitize applies guardrails to dispatch configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.BatchSize < 1 {
		d.BatchSize = 1
	}
	if d.BatchSize > 500 {
		d.BatchSize = 500
	}
	if d.LockTTL < time.Second {
		d.LockTTL = time.Second
	}
	if strings.TrimSpace(d.LockPrefix) == "" {
		d.LockPrefix = "inkwell:dispatch:"
	}
}

// WorkerConfig contains generation and send worker configuration.
type WorkerConfig struct {
	// SendBatchSize is the maximum number of deliveries sent per send job.
	SendBatchSize int `env:"SEND_BATCH_SIZE" envDefault:"20"`

	// SendPaceInterval is the minimum gap between two provider calls.
	SendPaceInterval time.Duration `env:"SEND_PACE_INTERVAL" envDefault:"600ms"`

	// AITimeout bounds one content generation call.
	AITimeout time.Duration `env:"AI_TIMEOUT" envDefault:"60s"`

	// EmailTimeout bounds one provider send call.
	EmailTimeout time.Duration `env:"EMAIL_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.SendBatchSize < 1 {
		w.SendBatchSize = 1
	}
	if w.SendPaceInterval < 0 {
		w.SendPaceInterval = 0
	}
	if w.AITimeout <= 0 {
		w.AITimeout = 60 * time.Second
	}
	if w.EmailTimeout <= 0 {
		w.EmailTimeout = 30 * time.Second
	}
}

// TriggerConfig contains the in-process cron trigger configuration.
// Schedules use the six-field (seconds first) cron format.
type TriggerConfig struct {
	GenerateSchedule string `env:"TRIGGER_GENERATE_SCHEDULE" envDefault:"0 */5 * * * *"`
	SendSchedule     string `env:"TRIGGER_SEND_SCHEDULE"     envDefault:"30 */5 * * * *"`

	// DrainLimit is the maximum number of jobs a worker processes after each dispatch.
	// Zero only dispatches and leaves the work to /jobs/* callers.
	DrainLimit int `env:"TRIGGER_DRAIN_LIMIT" envDefault:"10"`

	// RunOnStart fires both schedules once at startup.
	RunOnStart bool `env:"TRIGGER_RUN_ON_START" envDefault:"false"`
}

// Sanitize applies guardrails to trigger configuration values.
func (t *TriggerConfig) Sanitize() {
	t.GenerateSchedule = strings.TrimSpace(t.GenerateSchedule)
	t.SendSchedule = strings.TrimSpace(t.SendSchedule)
	if t.DrainLimit < 0 {
		t.DrainLimit = 0
	}
}

// ReaperConfig contains stale job recovery configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StaleAfter is how long a job may stay processing before its claim is considered lost.
	StaleAfter time.Duration `env:"REAPER_STALE_AFTER" envDefault:"15m"`

	// MaxAttempts is the attempt count at which a stale job is failed instead of requeued.
	MaxAttempts int `env:"REAPER_MAX_ATTEMPTS" envDefault:"3"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	// A generation call may legitimately take up to AI_TIMEOUT.
	if r.StaleAfter < 2*time.Minute {
		r.StaleAfter = 2 * time.Minute
	}
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
