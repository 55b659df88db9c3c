package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Config struct {
	RedmineURL    string `yaml:"redmine_url"`
	RedmineAPIKey string `yaml:"redmine_api_key"`

	TrackerPageSize    int `yaml:"tracker_page_size"`
	TrackerPageDelayMS int `yaml:"tracker_page_delay_ms"`
	BacklogPageSize    int `yaml:"backlog_page_size"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OllamaURL       string `yaml:"ollama_url"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	SkipProjectStage bool   `yaml:"skip_project_stage"`
	VerifyUpdates    bool   `yaml:"verify_updates"`
	SweepLimit       int    `yaml:"sweep_limit"`
	SweepSchedule    string `yaml:"sweep_schedule"`

	DBPath                     string `yaml:"db_path"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	Timezone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads the YAML file at path (falling back to CONFIG_PATH, then
// ./config.yaml), applies environment overrides and defaults, and validates
// the result. A missing file is not an error; env vars can carry everything.
func Load(path string) (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if path != "" {
		configPath = path
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error parsing %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	envOverride(&cfg.RedmineURL, "REDMINE_BASE_URL")
	envOverride(&cfg.RedmineAPIKey, "REDMINE_API_KEY")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "OLLAMA_MODEL")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.OllamaURL, "OLLAMA_URL")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.SweepSchedule, "SWEEP_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverrideBool(&cfg.SkipProjectStage, "SKIP_PROJECT_STAGE")
	envOverrideBool(&cfg.VerifyUpdates, "VERIFY_UPDATES")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.SweepLimit, "SWEEP_LIMIT"},
		{&cfg.TrackerPageSize, "TRACKER_PAGE_SIZE"},
		{&cfg.TrackerPageDelayMS, "TRACKER_PAGE_DELAY_MS"},
		{&cfg.BacklogPageSize, "BACKLOG_PAGE_SIZE"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
	}
	for _, i := range ints {
		if err := envOverrideInt(i.field, i.key); err != nil {
			return err
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.RedmineURL = strings.TrimRight(strings.TrimSpace(cfg.RedmineURL), "/")
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderOllama
	}
	if cfg.OllamaURL == "" {
		cfg.OllamaURL = "http://localhost:11434"
	}
	if cfg.TrackerPageSize == 0 {
		cfg.TrackerPageSize = 100
	}
	if cfg.TrackerPageDelayMS == 0 {
		cfg.TrackerPageDelayMS = 500
	}
	if cfg.BacklogPageSize == 0 {
		cfg.BacklogPageSize = 100
	}
	if cfg.SweepLimit == 0 {
		cfg.SweepLimit = 1
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./issuetriage.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func validate(cfg *Config) error {
	required := map[string]string{
		"redmine_url":     cfg.RedmineURL,
		"redmine_api_key": cfg.RedmineAPIKey,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.LLMProvider {
	case ProviderOllama:
		if cfg.LLMModel == "" {
			return fmt.Errorf("llm_model is required when llm_provider=ollama")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		return fmt.Errorf("llm_provider must be 'ollama', 'openai' or 'anthropic', got '%s'", cfg.LLMProvider)
	}

	if (cfg.SlackBotToken == "") != (cfg.SlackChannelID == "") {
		return fmt.Errorf("slack_bot_token and slack_channel_id must be set together")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if cfg.TrackerPageSize < 1 || cfg.TrackerPageSize > 100 {
		return fmt.Errorf("invalid tracker_page_size '%d': must be between 1 and 100", cfg.TrackerPageSize)
	}
	if cfg.TrackerPageDelayMS < 0 {
		return fmt.Errorf("invalid tracker_page_delay_ms '%d': must be >= 0", cfg.TrackerPageDelayMS)
	}
	if cfg.BacklogPageSize < 1 || cfg.BacklogPageSize > 100 {
		return fmt.Errorf("invalid backlog_page_size '%d': must be between 1 and 100", cfg.BacklogPageSize)
	}
	if cfg.SweepLimit < 1 {
		return fmt.Errorf("invalid sweep_limit '%d': must be >= 1", cfg.SweepLimit)
	}
	if cfg.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", cfg.ExternalHTTPTimeoutSeconds)
	}
	if s := strings.TrimSpace(cfg.SweepSchedule); s != "" {
		if _, err := ParseSchedule(s); err != nil {
			return fmt.Errorf("invalid sweep_schedule '%s': %w", s, err)
		}
	}
	return nil
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(expr))
}

func (c Config) TrackerPageDelay() time.Duration {
	return time.Duration(c.TrackerPageDelayMS) * time.Millisecond
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}
