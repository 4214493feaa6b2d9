package config

import "time"

// Config is the root configuration for instancebot.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Slack     SlackConfig     `json:"slack"`
	Queue     QueueConfig     `json:"queue"`
	Consumer  ConsumerConfig  `json:"consumer"`
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Actions   ActionsConfig   `json:"actions"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the webhook HTTP listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // per-sender webhook rate limit
}

// SlackConfig configures the Slack workspace connection.
// BotToken and SigningSecret are secrets and are never read from the
// config file, only from INSTANCEBOT_SLACK_BOT_TOKEN and
// INSTANCEBOT_SLACK_SIGNING_SECRET.
type SlackConfig struct {
	BotToken        string `json:"-"`
	SigningSecret   string `json:"-"`
	PlaceholderText string `json:"placeholder_text,omitempty"`
}

// QueueConfig configures the durable dispatch queue.
type QueueConfig struct {
	Path              string `json:"path"`                         // sqlite database file
	VisibilityTimeout string `json:"visibility_timeout,omitempty"` // in-flight invisibility window (Go duration)
	MaxReceive        int    `json:"max_receive,omitempty"`        // delivery attempts before dead-letter
	DedupeTTL         string `json:"dedupe_ttl,omitempty"`         // ingress duplicate suppression window (Go duration)
}

// ConsumerConfig configures the dispatch consumer pool.
type ConsumerConfig struct {
	Workers        int    `json:"workers,omitempty"`
	PollInterval   string `json:"poll_interval,omitempty"`   // Go duration
	MessageTimeout string `json:"message_timeout,omitempty"` // wall-clock budget per message (Go duration)
}

// AgentConfig configures the orchestrator loop.
type AgentConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxToolIterations int     `json:"max_tool_iterations,omitempty"`
	RateLimitRPM      int     `json:"rate_limit_rpm,omitempty"` // model call budget across workers
}

// ProvidersConfig holds LLM provider credentials and endpoints.
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic,omitempty"`
	OpenAI    ProviderConfig `json:"openai,omitempty"`
}

// ProviderConfig is one provider's connection settings. APIKey is a
// secret, env only (INSTANCEBOT_ANTHROPIC_API_KEY, INSTANCEBOT_OPENAI_API_KEY).
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ActionsConfig configures the action router and handlers.
type ActionsConfig struct {
	Regions     []string `json:"regions,omitempty"` // region catalog; empty means discover at startup
	OwnerTag    string   `json:"owner_tag,omitempty"`
	FanoutLimit int      `json:"fanout_limit,omitempty"` // concurrent region queries per action
	Timeout     string   `json:"timeout,omitempty"`      // per-attempt handler budget (Go duration)
	MaxAttempts int      `json:"max_attempts,omitempty"`
	Backoff     string   `json:"backoff,omitempty"` // Go duration
}

// SessionsConfig configures conversation session storage.
// PostgresDSN is a secret, env only (INSTANCEBOT_POSTGRES_DSN); when
// set it selects the Postgres backend over the file backend.
type SessionsConfig struct {
	Storage     string `json:"storage"`               // directory for the file backend
	IdleTTL     string `json:"idle_ttl,omitempty"`    // Go duration
	SweepEvery  string `json:"sweep_every,omitempty"` // Go duration
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"` // host:port, no scheme
	Protocol    string `json:"protocol,omitempty"` // "http" or "grpc"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// parseDuration returns the parsed duration, or def when the field is
// empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

func (q QueueConfig) EffectiveVisibilityTimeout() time.Duration {
	return parseDuration(q.VisibilityTimeout, 5*time.Minute)
}

func (q QueueConfig) EffectiveDedupeTTL() time.Duration {
	return parseDuration(q.DedupeTTL, time.Hour)
}

func (q QueueConfig) EffectiveMaxReceive() int {
	if q.MaxReceive > 0 {
		return q.MaxReceive
	}
	return 5
}

func (c ConsumerConfig) EffectiveWorkers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 2
}

func (c ConsumerConfig) EffectivePollInterval() time.Duration {
	return parseDuration(c.PollInterval, time.Second)
}

func (c ConsumerConfig) EffectiveMessageTimeout() time.Duration {
	return parseDuration(c.MessageTimeout, 5*time.Minute)
}

func (a ActionsConfig) EffectiveTimeout() time.Duration {
	return parseDuration(a.Timeout, time.Minute)
}

func (a ActionsConfig) EffectiveBackoff() time.Duration {
	return parseDuration(a.Backoff, 2*time.Second)
}

func (s SessionsConfig) EffectiveIdleTTL() time.Duration {
	return parseDuration(s.IdleTTL, 30*time.Minute)
}

func (s SessionsConfig) EffectiveSweepEvery() time.Duration {
	return parseDuration(s.SweepEvery, 5*time.Minute)
}
