package config

import "time"

// Config is the root configuration, loaded from a JSON5 file with env
// var overrides.
type Config struct {
	Assistant AssistantConfig `json:"assistant"`
	Channels  ChannelsConfig  `json:"channels"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	Runtime   RuntimeConfig   `json:"runtime"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// AssistantConfig names the identity this process is bound to.
type AssistantConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChannelsConfig groups channel collaboration knobs.
type ChannelsConfig struct {
	Injection InjectionConfig `json:"injection"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

// InjectionConfig controls unread-context injection into prompts.
type InjectionConfig struct {
	Enabled    bool `json:"enabled"`
	MaxPerTurn int  `json:"max_per_turn"`
}

// SchedulerConfig tunes the agent response scheduler.
type SchedulerConfig struct {
	MaxRounds    int   `json:"max_rounds"`
	StaggerMinMS int   `json:"stagger_min_ms"`
	StaggerMaxMS int   `json:"stagger_max_ms"`
	SettleMS     int   `json:"settle_ms"`
	Seed         int64 `json:"seed,omitempty"` // non-zero = deterministic, for tests
}

// StaggerMin returns the configured minimum inter-turn delay.
func (s SchedulerConfig) StaggerMin() time.Duration { return time.Duration(s.StaggerMinMS) * time.Millisecond }

// StaggerMax returns the configured maximum inter-turn delay.
func (s SchedulerConfig) StaggerMax() time.Duration { return time.Duration(s.StaggerMaxMS) * time.Millisecond }

// Settle returns the configured inter-round settle delay.
func (s SchedulerConfig) Settle() time.Duration { return time.Duration(s.SettleMS) * time.Millisecond }

// StorageConfig selects the store backend and retention policy.
type StorageConfig struct {
	PostgresDSN           string `json:"postgres_dsn,omitempty"` // managed mode
	SQLitePath            string `json:"sqlite_path,omitempty"`  // standalone mode
	MaxAgeDays            int    `json:"max_age_days"`
	MaxMessagesPerChannel int    `json:"max_messages_per_channel"`
	CleanupSchedule       string `json:"cleanup_schedule,omitempty"` // cron expression
}

// GatewayConfig configures the WebSocket/HTTP gateway.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPS   float64  `json:"rate_limit_rps"` // per client; 0 = disabled
	RateLimitBurst int      `json:"rate_limit_burst"`
}

// RuntimeConfig points at the external agent runtime.
type RuntimeConfig struct {
	Endpoint           string `json:"endpoint"` // OpenAI-compatible chat completions URL
	Token              string `json:"token,omitempty"`
	TurnTimeoutSeconds int    `json:"turn_timeout_seconds"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Protocol string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Endpoint string `json:"endpoint,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Assistant: AssistantConfig{
			ID:   "assistant",
			Name: "Assistant",
		},
		Channels: ChannelsConfig{
			Injection: InjectionConfig{
				Enabled:    true,
				MaxPerTurn: 10,
			},
			Scheduler: SchedulerConfig{
				MaxRounds:    1,
				StaggerMinMS: 500,
				StaggerMaxMS: 2000,
				SettleMS:     1000,
			},
		},
		Storage: StorageConfig{
			SQLitePath:            "~/.coterie/coterie.db",
			MaxAgeDays:            90,
			MaxMessagesPerChannel: 5000,
			CleanupSchedule:       "0 3 * * *",
		},
		Gateway: GatewayConfig{
			Host:           "0.0.0.0",
			Port:           18890,
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Runtime: RuntimeConfig{
			TurnTimeoutSeconds: 300,
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}
