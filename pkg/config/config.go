package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LLM     LLMConfig     `json:"llm"`
	Run     RunConfig     `json:"run"`
	Output  OutputConfig  `json:"output"`
	Memory  MemoryConfig  `json:"memory"`
	Notify  NotifyConfig  `json:"notify"`
	Tracing TracingConfig `json:"tracing"`
	Log     LogConfig     `json:"log"`
}

// LLMConfig describes the completion endpoint shared by every agent.
type LLMConfig struct {
	Model             string  `json:"model" env:"AUTOREQ_LLM_MODEL"`
	BaseURL           string  `json:"base_url" env:"AUTOREQ_LLM_BASE_URL"`
	APIKey            string  `json:"api_key" env:"AUTOREQ_LLM_API_KEY"`
	Temperature       float64 `json:"temperature" env:"AUTOREQ_LLM_TEMPERATURE"`
	TimeoutSeconds    int     `json:"timeout_seconds" env:"AUTOREQ_LLM_TIMEOUT_SECONDS"`
	Seed              int     `json:"seed" env:"AUTOREQ_LLM_SEED"`
	RequestsPerSecond float64 `json:"requests_per_second" env:"AUTOREQ_LLM_REQUESTS_PER_SECOND"`
}

// RunConfig bounds a run. PlanMaxRounds and StepMaxRounds count model turns
// only; the opening message is not a round, so 10 allows 10 model replies.
type RunConfig struct {
	PromptsPath    string  `json:"prompts_path" env:"AUTOREQ_PROMPTS_PATH"`
	MaxConcurrency int     `json:"max_concurrency" env:"AUTOREQ_MAX_CONCURRENCY"`
	PlanMaxRounds  int     `json:"plan_max_rounds" env:"AUTOREQ_PLAN_MAX_ROUNDS"`
	StepMaxRounds  int     `json:"step_max_rounds" env:"AUTOREQ_STEP_MAX_ROUNDS"`
	ApprovalFloor  float64 `json:"approval_floor" env:"AUTOREQ_APPROVAL_FLOOR"`
}

type OutputConfig struct {
	Dir string `json:"dir" env:"AUTOREQ_OUTPUT_DIR"`
}

// MemoryConfig points at the SQLite transcript database. An empty path disables it.
type MemoryConfig struct {
	Path string `json:"path" env:"AUTOREQ_MEMORY_PATH"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" env:"AUTOREQ_TELEGRAM_ENABLED"`
	Token   string `json:"token" env:"AUTOREQ_TELEGRAM_TOKEN"`
	ChatID  int64  `json:"chat_id" env:"AUTOREQ_TELEGRAM_CHAT_ID"`
}

type DiscordConfig struct {
	Enabled   bool   `json:"enabled" env:"AUTOREQ_DISCORD_ENABLED"`
	Token     string `json:"token" env:"AUTOREQ_DISCORD_TOKEN"`
	ChannelID string `json:"channel_id" env:"AUTOREQ_DISCORD_CHANNEL_ID"`
}

type TracingConfig struct {
	Endpoint    string `json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `json:"service_name" env:"OTEL_SERVICE_NAME"`
}

type LogConfig struct {
	Level      string `json:"level" env:"AUTOREQ_LOG_LEVEL"`
	Format     string `json:"format" env:"AUTOREQ_LOG_FORMAT"`
	LLMLogPath string `json:"llm_log_path" env:"AUTOREQ_LLM_LOG_PATH"`
}

// DefaultConfig returns the settings used when neither a config file nor the
// environment says otherwise.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:          "hermes3:70b-llama3.1-q8_0",
			BaseURL:        "http://localhost:11434/v1",
			APIKey:         "ollama",
			Temperature:    0,
			TimeoutSeconds: 220,
			Seed:           42,
		},
		Run: RunConfig{
			PromptsPath:    "prompts.yaml",
			MaxConcurrency: 3,
			PlanMaxRounds:  5,
			StepMaxRounds:  10,
			ApprovalFloor:  5,
		},
		Output: OutputConfig{Dir: "."},
		Tracing: TracingConfig{
			ServiceName: "autoreq",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			LLMLogPath: "logs/llm.jsonl",
		},
	}
}

// LoadConfig layers defaults, the optional JSON file at path and environment
// overrides, in that order. A .env file in the working directory is honored.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the run cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout_seconds must be positive, got %d", c.LLM.TimeoutSeconds))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("llm.requests_per_second must not be negative, got %v", c.LLM.RequestsPerSecond))
	}
	if c.Run.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("run.max_concurrency must be at least 1, got %d", c.Run.MaxConcurrency))
	}
	if c.Run.PlanMaxRounds < 2 {
		errs = append(errs, fmt.Errorf("run.plan_max_rounds must be at least 2, got %d", c.Run.PlanMaxRounds))
	}
	if c.Run.StepMaxRounds < 2 {
		errs = append(errs, fmt.Errorf("run.step_max_rounds must be at least 2, got %d", c.Run.StepMaxRounds))
	}
	if c.Run.PromptsPath == "" {
		errs = append(errs, errors.New("run.prompts_path is required"))
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.Token == "" || c.Notify.Telegram.ChatID == 0) {
		errs = append(errs, errors.New("notify.telegram requires token and chat_id"))
	}
	if c.Notify.Discord.Enabled && (c.Notify.Discord.Token == "" || c.Notify.Discord.ChannelID == "") {
		errs = append(errs, errors.New("notify.discord requires token and channel_id"))
	}
	return errors.Join(errs...)
}

// Timeout is the per-call model deadline.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
