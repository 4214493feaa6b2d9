package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 18420 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Agent.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.Agent.Provider)
	}
	if got := cfg.Queue.EffectiveVisibilityTimeout(); got != 5*time.Minute {
		t.Errorf("visibility timeout = %v", got)
	}
}

func TestLoadJSON5WithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// local overrides
		server: { port: 9999 },
		queue: { visibility_timeout: "90s", max_receive: 3 },
		actions: { regions: ["ap-northeast-1"], owner_tag: "Team" },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if got := cfg.Queue.EffectiveVisibilityTimeout(); got != 90*time.Second {
		t.Errorf("visibility timeout = %v", got)
	}
	if cfg.Queue.EffectiveMaxReceive() != 3 {
		t.Errorf("max receive = %d", cfg.Queue.EffectiveMaxReceive())
	}
	if len(cfg.Actions.Regions) != 1 || cfg.Actions.Regions[0] != "ap-northeast-1" {
		t.Errorf("regions = %v", cfg.Actions.Regions)
	}
	if cfg.Actions.OwnerTag != "Team" {
		t.Errorf("owner tag = %q", cfg.Actions.OwnerTag)
	}
	// Untouched sections keep their defaults.
	if cfg.Consumer.EffectiveWorkers() != 2 {
		t.Errorf("workers = %d", cfg.Consumer.EffectiveWorkers())
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{server: {port: 1111}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INSTANCEBOT_PORT", "2222")
	t.Setenv("INSTANCEBOT_SLACK_BOT_TOKEN", "xoxb-test")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 2222 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Slack.BotToken != "xoxb-test" {
		t.Errorf("bot token = %q", cfg.Slack.BotToken)
	}
}

func TestSecretsNeverReadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{slack: {bot_token: "xoxb-leaked", signing_secret: "leaked"}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Slack.BotToken != "" || cfg.Slack.SigningSecret != "" {
		t.Error("secrets were read from the config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "complete anthropic config",
			mutate: func(c *Config) {
				c.Slack.BotToken = "xoxb"
				c.Slack.SigningSecret = "sec"
				c.Providers.Anthropic.APIKey = "sk"
			},
		},
		{
			name: "missing slack token",
			mutate: func(c *Config) {
				c.Slack.SigningSecret = "sec"
				c.Providers.Anthropic.APIKey = "sk"
			},
			wantErr: true,
		},
		{
			name: "provider without key",
			mutate: func(c *Config) {
				c.Slack.BotToken = "xoxb"
				c.Slack.SigningSecret = "sec"
				c.Agent.Provider = "openai"
			},
			wantErr: true,
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				c.Slack.BotToken = "xoxb"
				c.Slack.SigningSecret = "sec"
				c.Agent.Provider = "homebrew"
			},
			wantErr: true,
		},
		{
			name: "bad telemetry protocol",
			mutate: func(c *Config) {
				c.Slack.BotToken = "xoxb"
				c.Slack.SigningSecret = "sec"
				c.Providers.Anthropic.APIKey = "sk"
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "carrier-pigeon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationFallback(t *testing.T) {
	if got := parseDuration("not-a-duration", time.Minute); got != time.Minute {
		t.Errorf("malformed duration = %v, want fallback", got)
	}
	if got := parseDuration("-5s", time.Minute); got != time.Minute {
		t.Errorf("negative duration = %v, want fallback", got)
	}
}
