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
			Port:         18420,
			RateLimitRPM: 20,
		},
		Slack: SlackConfig{
			PlaceholderText: ":hourglass_flowing_sand: preparing the answer...",
		},
		Queue: QueueConfig{
			Path:              "~/.instancebot/queue.db",
			VisibilityTimeout: "5m",
			MaxReceive:        5,
			DedupeTTL:         "1h",
		},
		Consumer: ConsumerConfig{
			Workers:        2,
			PollInterval:   "1s",
			MessageTimeout: "5m",
		},
		Agent: AgentConfig{
			Provider:          "anthropic",
			MaxTokens:         4096,
			Temperature:       0,
			MaxToolIterations: 5,
			RateLimitRPM:      30,
		},
		Actions: ActionsConfig{
			OwnerTag:    "Owner",
			FanoutLimit: 4,
			Timeout:     "1m",
			MaxAttempts: 2,
			Backoff:     "2s",
		},
		Sessions: SessionsConfig{
			Storage:    "~/.instancebot/sessions",
			IdleTTL:    "30m",
			SweepEvery: "5m",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "instancebot",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults plus env apply.
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
// Env vars take precedence over file values.
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

	// Secrets live in env only.
	envStr("INSTANCEBOT_SLACK_BOT_TOKEN", &c.Slack.BotToken)
	envStr("INSTANCEBOT_SLACK_SIGNING_SECRET", &c.Slack.SigningSecret)
	envStr("INSTANCEBOT_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("INSTANCEBOT_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("INSTANCEBOT_POSTGRES_DSN", &c.Sessions.PostgresDSN)

	envStr("INSTANCEBOT_HOST", &c.Server.Host)
	envInt("INSTANCEBOT_PORT", &c.Server.Port)
	envStr("INSTANCEBOT_QUEUE_PATH", &c.Queue.Path)
	envStr("INSTANCEBOT_PROVIDER", &c.Agent.Provider)
	envStr("INSTANCEBOT_MODEL", &c.Agent.Model)
	envStr("INSTANCEBOT_OTEL_ENDPOINT", &c.Telemetry.Endpoint)
}

// Validate checks that the config is runnable.
func (c *Config) Validate() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token not set (INSTANCEBOT_SLACK_BOT_TOKEN)")
	}
	if c.Slack.SigningSecret == "" {
		return fmt.Errorf("slack signing secret not set (INSTANCEBOT_SLACK_SIGNING_SECRET)")
	}
	switch c.Agent.Provider {
	case "anthropic":
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("anthropic api key not set (INSTANCEBOT_ANTHROPIC_API_KEY)")
		}
	case "openai":
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("openai api key not set (INSTANCEBOT_OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Agent.Provider)
	}
	if p := c.Telemetry.Protocol; c.Telemetry.Enabled && p != "http" && p != "grpc" {
		return fmt.Errorf("telemetry protocol must be http or grpc, got %q", p)
	}
	return nil
}

// ExpandHome resolves a leading ~ in paths from the config file.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
