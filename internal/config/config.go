// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Runner() RunnerConfig
	Oracle() OracleConfig
	Budget() BudgetConfig
	Report() ReportConfig

	// Browser setters, driven by CLI flags.
	SetBrowserHeadless(bool)
	SetBrowserViewport(width, height int)

	// Runner setters.
	SetRunnerMaxActions(int)
	SetRunnerMaxDuration(time.Duration)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	RunnerCfg  RunnerConfig  `mapstructure:"runner" yaml:"runner"`
	OracleCfg  OracleConfig  `mapstructure:"oracle" yaml:"oracle"`
	BudgetCfg  BudgetConfig  `mapstructure:"budget" yaml:"budget"`
	ReportCfg  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Runner() RunnerConfig   { return c.RunnerCfg }
func (c *Config) Oracle() OracleConfig   { return c.OracleCfg }
func (c *Config) Budget() BudgetConfig   { return c.BudgetCfg }
func (c *Config) Report() ReportConfig   { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserViewport(w, h int) {
	c.BrowserCfg.ViewportWidth = w
	c.BrowserCfg.ViewportHeight = h
}
func (c *Config) SetRunnerMaxActions(n int)              { c.RunnerCfg.MaxActions = n }
func (c *Config) SetRunnerMaxDuration(d time.Duration)   { c.RunnerCfg.MaxDuration = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser instance driven by
// the action executor.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// ViewportWidth and ViewportHeight are the logical (CSS pixel) viewport.
	ViewportWidth  int `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int `mapstructure:"viewport_height" yaml:"viewport_height"`
	// DeviceScaleFactor maps physical screenshot pixels to CSS pixels.
	DeviceScaleFactor float64       `mapstructure:"device_scale_factor" yaml:"device_scale_factor"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// RunnerConfig tunes the observe/decide/act loop and the stuck detector.
type RunnerConfig struct {
	MaxActions  int           `mapstructure:"max_actions" yaml:"max_actions"`
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	// SettleDelay is the pause after each executed action before the next
	// screenshot, letting animations and re-renders finish.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// StuckWarnThreshold identical fingerprints trigger tier escalation.
	StuckWarnThreshold int `mapstructure:"stuck_warn_threshold" yaml:"stuck_warn_threshold"`
	// StuckAbortThreshold identical fingerprints abort the step.
	StuckAbortThreshold int `mapstructure:"stuck_abort_threshold" yaml:"stuck_abort_threshold"`
	// ActionRepeatThreshold identical (action, target) pairs trigger escalation.
	ActionRepeatThreshold int `mapstructure:"action_repeat_threshold" yaml:"action_repeat_threshold"`
	// NoChangeAbortThreshold consecutive state_changed=false results abort.
	NoChangeAbortThreshold int `mapstructure:"no_change_abort_threshold" yaml:"no_change_abort_threshold"`
	// MaxConsecutiveStuck stuck decisions in a row abort the step.
	MaxConsecutiveStuck int `mapstructure:"max_consecutive_stuck" yaml:"max_consecutive_stuck"`
	// MaxVerificationFailures failed verification passes fail the step hard.
	MaxVerificationFailures int `mapstructure:"max_verification_failures" yaml:"max_verification_failures"`
	// HistorySize bounds the rolling action and fingerprint histories.
	HistorySize int `mapstructure:"history_size" yaml:"history_size"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// InputCostPerMTok / OutputCostPerMTok are USD per million tokens, used
	// by the cost tracker.
	InputCostPerMTok  float64           `mapstructure:"input_cost_per_mtok" yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64           `mapstructure:"output_cost_per_mtok" yaml:"output_cost_per_mtok"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// OracleConfig holds settings for the decision oracle and its model routing.
type OracleConfig struct {
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
	// RequestsPerSecond throttles oracle calls across the whole run.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// MaxConsecutiveAPIFailures failed oracle calls in a row fail the step.
	MaxConsecutiveAPIFailures int `mapstructure:"max_consecutive_api_failures" yaml:"max_consecutive_api_failures"`
	// PowerfulEveryN forces the powerful tier on every Nth action.
	PowerfulEveryN int `mapstructure:"powerful_every_n" yaml:"powerful_every_n"`
}

// BudgetConfig caps the LLM spend for one run.
type BudgetConfig struct {
	MaxUSD      float64 `mapstructure:"max_usd" yaml:"max_usd"`
	WarnPercent float64 `mapstructure:"warn_percent" yaml:"warn_percent"`
}

// ReportConfig controls run report output.
type ReportConfig struct {
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir"`
	Formats         []string `mapstructure:"formats" yaml:"formats"`
	SaveScreenshots bool   `mapstructure:"save_screenshots" yaml:"save_screenshots"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "specterqa")
	v.SetDefault("logger.log_file", "specterqa.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.device_scale_factor", 1.0)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Runner --
	v.SetDefault("runner.max_actions", 30)
	v.SetDefault("runner.max_duration", "180s")
	v.SetDefault("runner.settle_delay", "300ms")
	v.SetDefault("runner.stuck_warn_threshold", 5)
	v.SetDefault("runner.stuck_abort_threshold", 10)
	v.SetDefault("runner.action_repeat_threshold", 3)
	v.SetDefault("runner.no_change_abort_threshold", 5)
	v.SetDefault("runner.max_consecutive_stuck", 3)
	v.SetDefault("runner.max_verification_failures", 2)
	v.SetDefault("runner.history_size", 10)

	// -- Oracle --
	v.SetDefault("oracle.fast.provider", "gemini")
	v.SetDefault("oracle.fast.model", "gemini-2.5-flash")
	v.SetDefault("oracle.fast.api_timeout", "60s")
	v.SetDefault("oracle.fast.temperature", 0.2)
	v.SetDefault("oracle.fast.max_tokens", 2048)
	v.SetDefault("oracle.fast.input_cost_per_mtok", 0.30)
	v.SetDefault("oracle.fast.output_cost_per_mtok", 2.50)
	v.SetDefault("oracle.powerful.provider", "gemini")
	v.SetDefault("oracle.powerful.model", "gemini-2.5-pro")
	v.SetDefault("oracle.powerful.api_timeout", "120s")
	v.SetDefault("oracle.powerful.temperature", 0.2)
	v.SetDefault("oracle.powerful.max_tokens", 4096)
	v.SetDefault("oracle.powerful.input_cost_per_mtok", 1.25)
	v.SetDefault("oracle.powerful.output_cost_per_mtok", 10.00)
	v.SetDefault("oracle.requests_per_second", 1.0)
	v.SetDefault("oracle.max_consecutive_api_failures", 3)
	v.SetDefault("oracle.powerful_every_n", 5)

	// -- Budget --
	v.SetDefault("budget.max_usd", 5.0)
	v.SetDefault("budget.warn_percent", 80.0)

	// -- Report --
	v.SetDefault("report.output_dir", "reports")
	v.SetDefault("report.formats", []string{"markdown", "json"})
	v.SetDefault("report.save_screenshots", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("oracle.fast.api_key", "SPECTERQA_ORACLE_API_KEY", "GEMINI_API_KEY")
	v.BindEnv("oracle.powerful.api_key", "SPECTERQA_ORACLE_API_KEY", "GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the keys if Unmarshal didn't pick them up.
	if cfg.OracleCfg.Fast.APIKey == "" {
		cfg.OracleCfg.Fast.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.OracleCfg.Powerful.APIKey == "" {
		cfg.OracleCfg.Powerful.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunnerCfg.MaxActions <= 0 {
		return fmt.Errorf("runner.max_actions must be a positive integer")
	}
	if c.RunnerCfg.MaxDuration <= 0 {
		return fmt.Errorf("runner.max_duration must be a positive duration")
	}
	if c.RunnerCfg.StuckAbortThreshold <= c.RunnerCfg.StuckWarnThreshold {
		return fmt.Errorf("runner.stuck_abort_threshold must exceed runner.stuck_warn_threshold")
	}
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport dimensions must be positive")
	}
	if c.BrowserCfg.DeviceScaleFactor <= 0 {
		return fmt.Errorf("browser.device_scale_factor must be positive")
	}
	if c.BudgetCfg.MaxUSD < 0 {
		return fmt.Errorf("budget.max_usd must not be negative")
	}
	return nil
}
