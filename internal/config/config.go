// Package config holds the root configuration for the waroute service.
// Values come from defaults, then an optional JSON5 config file, then
// environment variables. Secrets (database DSN, API tokens) are read from
// the environment only and never persisted to the config file.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Buffer    BufferConfig    `json:"buffer"`
	Dedup     DedupConfig     `json:"dedup"`
	Agent     AgentConfig     `json:"agent"`
	Operator  OperatorConfig  `json:"operator,omitempty"`
	Worker    WorkerConfig    `json:"worker,omitempty"`
	Janitor   JanitorConfig   `json:"janitor,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	VerifyToken  string `json:"-"` // from env WAROUTE_VERIFY_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // webhook rate limit per remote key (0 = disabled)
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from the config file — only from env WAROUTE_POSTGRES_DSN.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "sqlite" (default, standalone) or "postgres"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// WhatsAppConfig configures the Cloud API client.
type WhatsAppConfig struct {
	BaseURL       string `json:"base_url,omitempty"` // default Graph API; tests point this at httptest
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"-"` // from env WAROUTE_WA_ACCESS_TOKEN only
	SendRPS       int    `json:"send_rps,omitempty"` // outbound API pacing (0 = unlimited)
}

// BufferConfig configures the debounce batching engine.
type BufferConfig struct {
	DebounceSeconds int `json:"debounce_seconds,omitempty"` // quiet period before flush (default 3)
	PollSeconds     int `json:"poll_seconds,omitempty"`     // recheck interval while not quiet (default 1)
	MaxWaitSeconds  int `json:"max_wait_seconds,omitempty"` // hard flush deadline from first message (default 20)
}

// Debounce returns the quiet-period duration.
func (b BufferConfig) Debounce() time.Duration { return seconds(b.DebounceSeconds, 3) }

// Poll returns the recheck interval.
func (b BufferConfig) Poll() time.Duration { return seconds(b.PollSeconds, 1) }

// MaxWait returns the hard flush deadline.
func (b BufferConfig) MaxWait() time.Duration { return seconds(b.MaxWaitSeconds, 20) }

// DedupConfig configures the duplicate-delivery window.
type DedupConfig struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"` // must exceed the provider's max retry interval (default 120)
}

// TTL returns the dedup record lifetime.
func (d DedupConfig) TTL() time.Duration { return seconds(d.TTLSeconds, 120) }

// AgentConfig locates the external AI responder service.
type AgentConfig struct {
	BaseURL        string `json:"base_url"`
	Token          string `json:"-"` // from env WAROUTE_AGENT_TOKEN only
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // per-invocation deadline (default 120)
	MaxImageEdge   int    `json:"max_image_edge,omitempty"`  // downscale images larger than this before encoding (default 1280)
}

// Timeout returns the AI invocation deadline.
func (a AgentConfig) Timeout() time.Duration { return seconds(a.TimeoutSeconds, 120) }

// OperatorConfig locates the operator interface backend (sent-media downloads).
type OperatorConfig struct {
	BackendBaseURL string `json:"backend_base_url,omitempty"`
}

// WorkerConfig configures the background job pool.
type WorkerConfig struct {
	Workers        int `json:"workers,omitempty"`          // default 8
	QueueSize      int `json:"queue_size,omitempty"`       // default 256
	MaxRetries     int `json:"max_retries,omitempty"`      // default 3
	RetryBaseSecs  int `json:"retry_base_seconds,omitempty"` // default 10
	RetryMaxSecs   int `json:"retry_max_seconds,omitempty"`  // default 60
}

// JanitorConfig configures periodic maintenance.
type JanitorConfig struct {
	Schedule string `json:"schedule,omitempty"` // cron expression (default "* * * * *")
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		return time.Duration(def) * time.Second
	}
	return time.Duration(v) * time.Second
}
