package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"tngtech/deepseek-r1t2-chimera:free"`
	LLMTemperature   float32     `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Sessions and gateway limits
	MaxChecks          int           `env:"SESSION_MAX_CHECKS" envDefault:"5"`
	MaxActiveSessions  int           `env:"SESSION_MAX_ACTIVE" envDefault:"20"`
	IdleTimeout        time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`
	MaxConcurrent      int64         `env:"GATEWAY_MAX_CONCURRENT" envDefault:"10"`
	MaxAttachmentBytes int64         `env:"MAX_ATTACHMENT_BYTES" envDefault:"65536"`
	CheckTimeout       time.Duration `env:"CHECK_TIMEOUT" envDefault:"5m"`

	// Prompts and texts
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/report_prompt.txt"`
	MessagesPath     string `env:"MESSAGES_PATH"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// Storage
	ChecksLogPath string `env:"CHECKS_LOG_PATH" envDefault:"logs/checks.jsonl"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR"`

	// Scheduled jobs (UTC)
	SweepSchedule       string `env:"SWEEP_SCHEDULE" envDefault:"@every 10m"`
	DailyReportSchedule string `env:"DAILY_REPORT_SCHEDULE" envDefault:"0 21 * * *"`
}

// New parses the process environment and validates the result.
func New() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MaxChecks <= 0:
		return fmt.Errorf("SESSION_MAX_CHECKS must be positive, got %d", c.MaxChecks)
	case c.MaxActiveSessions <= 0:
		return fmt.Errorf("SESSION_MAX_ACTIVE must be positive, got %d", c.MaxActiveSessions)
	case c.IdleTimeout <= 0:
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %s", c.IdleTimeout)
	case c.MaxConcurrent <= 0:
		return fmt.Errorf("GATEWAY_MAX_CONCURRENT must be positive, got %d", c.MaxConcurrent)
	case c.MaxAttachmentBytes <= 0:
		return fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive, got %d", c.MaxAttachmentBytes)
	case c.CheckTimeout < 0:
		return fmt.Errorf("CHECK_TIMEOUT must not be negative, got %s", c.CheckTimeout)
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %s", c.LLMProvider)
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			return fmt.Errorf("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for provider %s", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLMProvider)
	}
	return nil
}
