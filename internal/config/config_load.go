package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			RateLimitRPM: 0,
		},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "waroute.db",
		},
		WhatsApp: WhatsAppConfig{
			BaseURL: "https://graph.facebook.com/v23.0",
		},
		Buffer: BufferConfig{
			DebounceSeconds: 3,
			PollSeconds:     1,
			MaxWaitSeconds:  20,
		},
		Dedup: DedupConfig{
			TTLSeconds: 120,
		},
		Agent: AgentConfig{
			TimeoutSeconds: 120,
			MaxImageEdge:   1280,
		},
		Worker: WorkerConfig{
			Workers:       8,
			QueueSize:     256,
			MaxRetries:    3,
			RetryBaseSecs: 10,
			RetryMaxSecs:  60,
		},
		Janitor: JanitorConfig{
			Schedule: "* * * * *",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "waroute",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("WAROUTE_VERIFY_TOKEN", &c.Server.VerifyToken)
	envStr("WAROUTE_HOST", &c.Server.Host)
	envInt("WAROUTE_PORT", &c.Server.Port)

	envStr("WAROUTE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("WAROUTE_DB_MODE", &c.Database.Mode)
	envStr("WAROUTE_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("WAROUTE_WA_ACCESS_TOKEN", &c.WhatsApp.AccessToken)
	envStr("WAROUTE_WA_PHONE_NUMBER_ID", &c.WhatsApp.PhoneNumberID)
	envStr("WAROUTE_WA_BASE_URL", &c.WhatsApp.BaseURL)

	envStr("WAROUTE_AGENT_URL", &c.Agent.BaseURL)
	envStr("WAROUTE_AGENT_TOKEN", &c.Agent.Token)

	envStr("WAROUTE_OPERATOR_BACKEND_URL", &c.Operator.BackendBaseURL)

	envInt("WAROUTE_BUFFER_DEBOUNCE_SECONDS", &c.Buffer.DebounceSeconds)
	envInt("WAROUTE_BUFFER_MAX_WAIT_SECONDS", &c.Buffer.MaxWaitSeconds)
	envInt("WAROUTE_DEDUP_TTL_SECONDS", &c.Dedup.TTLSeconds)

	envStr("WAROUTE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}

// Validate reports configuration problems that prevent startup.
func (c *Config) Validate() error {
	if c.Database.Mode == "postgres" && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database mode is postgres but WAROUTE_POSTGRES_DSN is not set")
	}
	if c.Server.VerifyToken == "" {
		return fmt.Errorf("WAROUTE_VERIFY_TOKEN is not set")
	}
	return nil
}
