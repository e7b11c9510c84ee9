package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Config is the application configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Log       LogConfig       `yaml:"log"`
	LLM       LLMConfig       `yaml:"llm"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	// Name is the assistant name and its group trigger word.
	Name          string `yaml:"name"`
	DataDir       string `yaml:"data_dir"`
	Timezone      string `yaml:"timezone"`
	MaxConcurrent int64  `yaml:"max_concurrent"`
	HistoryLimit  int    `yaml:"history_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"` // gemini | openai
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxToolRounds  int           `yaml:"max_tool_rounds"`
	SystemPrompt   string        `yaml:"system_prompt"`
}

type SchedulerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

type LedgerConfig struct {
	Driver string `yaml:"driver"` // file | sqlite
	Path   string `yaml:"path"`
}

type TransportConfig struct {
	Kind        string        `yaml:"kind"` // telegram | tui
	Token       string        `yaml:"telegram_token"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	RatePerSec  int           `yaml:"rate_per_sec"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:          "Andy",
			DataDir:       "data",
			Timezone:      "Europe/Lisbon",
			MaxConcurrent: 5,
			HistoryLimit:  20,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		LLM: LLMConfig{
			Provider:       "gemini",
			RequestTimeout: 2 * time.Minute,
			MaxToolRounds:  4,
		},
		Scheduler: SchedulerConfig{Enabled: true, TaskTimeout: 2 * time.Minute},
		Ledger:    LedgerConfig{Driver: "file"},
		Transport: TransportConfig{Kind: "tui", PollTimeout: 10 * time.Second, RatePerSec: 20},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// LATERCLAW_CONFIG (if any) and the environment, then validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("LATERCLAW_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Name = getEnv("LATERCLAW_NAME", c.App.Name)
	c.App.DataDir = getEnv("LATERCLAW_DATA_DIR", c.App.DataDir)
	c.App.Timezone = getEnv("LATERCLAW_TIMEZONE", c.App.Timezone)
	c.App.MaxConcurrent = int64(getEnvInt("LATERCLAW_MAX_CONCURRENT", int(c.App.MaxConcurrent)))
	c.App.HistoryLimit = getEnvInt("LATERCLAW_HISTORY_LIMIT", c.App.HistoryLimit)

	c.Log.Level = getEnv("LATERCLAW_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LATERCLAW_LOG_FORMAT", c.Log.Format)

	c.LLM.Provider = getEnv("LATERCLAW_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getEnv("LATERCLAW_LLM_MODEL", c.LLM.Model)
	c.LLM.RequestTimeout = getEnvDuration("LATERCLAW_LLM_TIMEOUT", c.LLM.RequestTimeout)
	c.LLM.MaxToolRounds = getEnvInt("LATERCLAW_MAX_TOOL_ROUNDS", c.LLM.MaxToolRounds)
	switch strings.ToLower(c.LLM.Provider) {
	case "openai":
		c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
		c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
		c.LLM.Model = getEnv("OPENAI_MODEL", c.LLM.Model)
	default:
		c.LLM.APIKey = getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", c.LLM.APIKey))
	}

	c.Scheduler.Enabled = getEnvBool("LATERCLAW_SCHEDULER_ENABLED", c.Scheduler.Enabled)
	c.Scheduler.TaskTimeout = getEnvDuration("LATERCLAW_TASK_TIMEOUT", c.Scheduler.TaskTimeout)

	c.Ledger.Driver = getEnv("LATERCLAW_LEDGER_DRIVER", c.Ledger.Driver)
	c.Ledger.Path = getEnv("LATERCLAW_LEDGER_PATH", c.Ledger.Path)

	c.Transport.Kind = getEnv("LATERCLAW_TRANSPORT", c.Transport.Kind)
	c.Transport.Token = getEnv("TELEGRAM_BOT_TOKEN", c.Transport.Token)
	c.Transport.PollTimeout = getEnvDuration("TELEGRAM_POLL_TIMEOUT", c.Transport.PollTimeout)
	c.Transport.RatePerSec = getEnvInt("TELEGRAM_RATE_PER_SEC", c.Transport.RatePerSec)

	c.Metrics.Addr = getEnv("LATERCLAW_METRICS_ADDR", c.Metrics.Addr)
}

// Validate rejects configurations the application cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.App.Name) == "" {
		errs = append(errs, errors.New("app.name is empty"))
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("app.timezone: %w", err))
	}
	if c.App.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("app.max_concurrent must be > 0, got %d", c.App.MaxConcurrent))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.LLM.MaxToolRounds <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tool_rounds must be > 0, got %d", c.LLM.MaxToolRounds))
	}
	if c.LLM.RequestTimeout < 0 || c.Scheduler.TaskTimeout < 0 {
		errs = append(errs, errors.New("timeouts must be >= 0"))
	}
	switch strings.ToLower(c.Ledger.Driver) {
	case "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("ledger.driver: unknown driver %q", c.Ledger.Driver))
	}
	switch strings.ToLower(c.Transport.Kind) {
	case "tui":
	case "telegram":
		if c.Transport.Token == "" {
			errs = append(errs, errors.New("transport.telegram_token is required for telegram"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind: unknown transport %q", c.Transport.Kind))
	}
	return errors.Join(errs...)
}

// Location returns the fixed civil timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.App.DataDir, "laterclaw.db")
}

// LedgerPath returns the ledger document path for the file driver.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join(c.App.DataDir, "events.json")
}

// LogPath is where logs go while the console UI owns the terminal.
func (c *Config) LogPath() string {
	return filepath.Join(c.App.DataDir, "laterclaw.log")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
