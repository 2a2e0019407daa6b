// Package config provides configuration types and loading for linkingchat.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Providers, Routing, Draft, Kafka, Slack.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Providers ProvidersConfig `json:"providers"`
	Routing   RoutingConfig   `json:"routing"`
	Draft     DraftConfig     `json:"draft"`
	Kafka     KafkaConfig     `json:"kafka"`
	Slack     SlackConfig     `json:"slack"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProvidersConfig contains LLM provider configurations.
type ProvidersConfig struct {
	DeepSeek ProviderConfig `json:"deepseek"`
	Kimi     ProviderConfig `json:"kimi"`
}

// ProviderConfig contains settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	APIBase string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model   string `json:"model" envconfig:"MODEL"`
}

// ---------------------------------------------------------------------------
// Routing – provider selection timeouts
// ---------------------------------------------------------------------------

// RoutingConfig contains cross-provider failover settings.
type RoutingConfig struct {
	PrimaryTimeout  time.Duration `json:"primaryTimeout" envconfig:"PRIMARY_TIMEOUT"`
	FallbackTimeout time.Duration `json:"fallbackTimeout" envconfig:"FALLBACK_TIMEOUT"`
	StreamTimeout   time.Duration `json:"streamTimeout" envconfig:"STREAM_TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Draft – verification state machine
// ---------------------------------------------------------------------------

// DraftConfig contains draft lifecycle settings.
type DraftConfig struct {
	TTL           time.Duration `json:"ttl" envconfig:"TTL"`
	SweepInterval time.Duration `json:"sweepInterval" envconfig:"SWEEP_INTERVAL"`
}

// ---------------------------------------------------------------------------
// Kafka – push event mirroring
// ---------------------------------------------------------------------------

// KafkaConfig configures the Kafka push relay and event ingest.
type KafkaConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers     string `json:"brokers" envconfig:"BROKERS"`
	Topic       string `json:"topic" envconfig:"TOPIC"`
	IngestTopic string `json:"ingestTopic" envconfig:"INGEST_TOPIC"`
	Group       string `json:"group" envconfig:"GROUP"`
}

// ---------------------------------------------------------------------------
// Slack – operator notifications
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack notification mirror.
type SlackConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Token   string `json:"token" envconfig:"TOKEN"`
	Channel string `json:"channel" envconfig:"CHANNEL"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.linkingchat",
			DBPath:  "~/.linkingchat/linkingchat.db",
		},
		Providers: ProvidersConfig{
			DeepSeek: ProviderConfig{
				APIBase: "https://api.deepseek.com/v1",
				Model:   "deepseek-chat",
			},
			Kimi: ProviderConfig{
				APIBase: "https://api.moonshot.cn/v1",
				Model:   "moonshot-v1-8k",
			},
		},
		Routing: RoutingConfig{
			PrimaryTimeout:  3 * time.Second,
			FallbackTimeout: 10 * time.Second,
			StreamTimeout:   60 * time.Second,
		},
		Draft: DraftConfig{
			TTL:           5 * time.Minute,
			SweepInterval: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:     false,
			Brokers:     "localhost:9092",
			Topic:       "linkingchat.events",
			IngestTopic: "linkingchat.inbound",
			Group:       "linkingchat",
		},
		Slack: SlackConfig{
			Enabled: false,
		},
	}
}
