package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("REDMINE_BASE_URL", "https://redmine.example.com/")
	t.Setenv("REDMINE_API_KEY", "key-test")
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("OLLAMA_MODEL", "deepseek-r1")
	t.Setenv("TIMEZONE", "UTC")
	for _, key := range []string{"LLM_MODEL", "ANTHROPIC_API_KEY", "SLACK_BOT_TOKEN", "SLACK_CHANNEL_ID", "SWEEP_SCHEDULE"} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvWithDefaults(t *testing.T) {
	setMinimalValidConfigEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RedmineURL != "https://redmine.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.RedmineURL)
	}
	if cfg.LLMModel != "deepseek-r1" {
		t.Fatalf("unexpected model: %q", cfg.LLMModel)
	}
	if cfg.OllamaURL != "http://localhost:11434" {
		t.Fatalf("unexpected ollama url default: %q", cfg.OllamaURL)
	}
	if cfg.TrackerPageSize != 100 || cfg.TrackerPageDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected paging defaults: size=%d delay=%s", cfg.TrackerPageSize, cfg.TrackerPageDelay())
	}
	if cfg.SweepLimit != 1 {
		t.Fatalf("expected sweep limit default 1, got %d", cfg.SweepLimit)
	}
	if cfg.DBPath != "./issuetriage.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != defaultExternalHTTPTimeoutSeconds {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
	if cfg.SlackConfigured() {
		t.Fatal("slack must not be configured by default")
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
redmine_url: "https://yaml.example.com"
redmine_api_key: "yaml-key"
llm_provider: "openai"
openai_api_key: "sk-yaml"
llm_model: "gpt-4o-mini"
tracker_page_size: 50
sweep_limit: 5
sweep_schedule: "*/15 * * * *"
verify_updates: true
timezone: "UTC"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("REDMINE_API_KEY", "env-key")
	t.Setenv("LLM_MODEL", "gpt-4o")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RedmineURL != "https://yaml.example.com" {
		t.Fatalf("unexpected redmine url: %q", cfg.RedmineURL)
	}
	if cfg.RedmineAPIKey != "env-key" {
		t.Fatalf("expected env to override yaml key, got %q", cfg.RedmineAPIKey)
	}
	if cfg.LLMModel != "gpt-4o" {
		t.Fatalf("expected LLM_MODEL override, got %q", cfg.LLMModel)
	}
	if cfg.TrackerPageSize != 50 || cfg.SweepLimit != 5 {
		t.Fatalf("unexpected yaml ints: page=%d limit=%d", cfg.TrackerPageSize, cfg.SweepLimit)
	}
	if !cfg.VerifyUpdates {
		t.Fatal("expected verify_updates from yaml")
	}
	if cfg.SweepSchedule != "*/15 * * * *" {
		t.Fatalf("unexpected schedule: %q", cfg.SweepSchedule)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing api key",
			env:     map[string]string{"REDMINE_API_KEY": ""},
			wantErr: "redmine_api_key",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"LLM_PROVIDER": "bard"},
			wantErr: "llm_provider must be",
		},
		{
			name:    "anthropic without key",
			env:     map[string]string{"LLM_PROVIDER": "anthropic"},
			wantErr: "anthropic_api_key",
		},
		{
			name:    "bad cron",
			env:     map[string]string{"SWEEP_SCHEDULE": "every day"},
			wantErr: "invalid sweep_schedule",
		},
		{
			name:    "page size too large",
			env:     map[string]string{"TRACKER_PAGE_SIZE": "500"},
			wantErr: "tracker_page_size",
		},
		{
			name:    "non numeric int",
			env:     map[string]string{"SWEEP_LIMIT": "many"},
			wantErr: "SWEEP_LIMIT",
		},
		{
			name:    "slack half configured",
			env:     map[string]string{"SLACK_BOT_TOKEN": "xoxb-test"},
			wantErr: "slack_bot_token and slack_channel_id",
		},
		{
			name:    "timeout too small",
			env:     map[string]string{"EXTERNAL_HTTP_TIMEOUT_SECONDS": "1"},
			wantErr: "external_http_timeout_seconds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalValidConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * 1-5")
	if err != nil {
		t.Fatalf("ParseSchedule failed: %v", err)
	}
	// Friday 2026-02-20 10:00 UTC -> next is Monday 09:00.
	from := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	next := sched.Next(from)
	want := time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %s, want %s", next, want)
	}
}
