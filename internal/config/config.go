// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on it so tests can hand them a trimmed config.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Engine() EngineConfig
	Timeouts() TimeoutsConfig
	LLM() LLMConfig
	Services() ServicesConfig
	Profile() ProfileConfig
	Metrics() MetricsConfig
	Apply() ApplyConfig
	SetApplyConfig(ac ApplyConfig)

	// Engine Setters
	SetEngineErrorOnly(bool)
	SetEngineMaxIterations(int)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	TimeoutsCfg TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
	LLMCfg      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	ServicesCfg ServicesConfig `mapstructure:"services" yaml:"services"`
	ProfileCfg  ProfileConfig  `mapstructure:"profile" yaml:"profile"`
	MetricsCfg  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	// apply gets its marching orders from CLI flags, not the config file.
	apply ApplyConfig
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Timeouts() TimeoutsConfig { return c.TimeoutsCfg }
func (c *Config) LLM() LLMConfig           { return c.LLMCfg }
func (c *Config) Services() ServicesConfig { return c.ServicesCfg }
func (c *Config) Profile() ProfileConfig   { return c.ProfileCfg }
func (c *Config) Metrics() MetricsConfig   { return c.MetricsCfg }
func (c *Config) Apply() ApplyConfig       { return c.apply }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetApplyConfig(ac ApplyConfig) { c.apply = ac }

func (c *Config) SetEngineErrorOnly(b bool)     { c.EngineCfg.ErrorOnly = b }
func (c *Config) SetEngineMaxIterations(n int)  { c.EngineCfg.MaxIterations = n }
func (c *Config) SetBrowserHeadless(b bool)     { c.BrowserCfg.Headless = b }

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance driving the ATS tab.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// EngineConfig carries the recognized options of the resolution engine.
type EngineConfig struct {
	ErrorOnly              bool `mapstructure:"error_only" yaml:"error_only"`
	MaxIterations          int  `mapstructure:"max_iterations" yaml:"max_iterations"`
	MaxAttemptsPerQuestion int  `mapstructure:"max_attempts_per_question" yaml:"max_attempts_per_question"`
	BatchDelayMs           int  `mapstructure:"batch_delay_ms" yaml:"batch_delay_ms"`
	// LLMCacheMaxFailures invalidates a cached LLM answer after this many
	// handler failures. Zero keeps the answer for the whole page.
	LLMCacheMaxFailures int `mapstructure:"llm_cache_max_failures" yaml:"llm_cache_max_failures"`
	// ErrorPasses is the number of errorOnly passes run after a submit that
	// left errors on the page.
	ErrorPasses int `mapstructure:"error_passes" yaml:"error_passes"`
}

// TimeoutsConfig groups every wait the engine and the page runner perform.
type TimeoutsConfig struct {
	// HandlerSeconds maps a question type (text, radio, dropdown, ...) to the
	// default handler budget in seconds.
	HandlerSeconds  map[string]int `mapstructure:"handler_seconds" yaml:"handler_seconds"`
	DefaultHandler  time.Duration  `mapstructure:"default_handler" yaml:"default_handler"`
	DOMStability    time.Duration  `mapstructure:"dom_stability" yaml:"dom_stability"`
	StabilityPoll   time.Duration  `mapstructure:"stability_poll" yaml:"stability_poll"`
	DOMChange       time.Duration  `mapstructure:"dom_change" yaml:"dom_change"`
	Submit          time.Duration  `mapstructure:"submit" yaml:"submit"`
	MutationTimeout time.Duration  `mapstructure:"mutation_timeout" yaml:"mutation_timeout"`
	ResolveRetries  int            `mapstructure:"resolve_retries" yaml:"resolve_retries"`
	ResolveDelay    time.Duration  `mapstructure:"resolve_delay" yaml:"resolve_delay"`
}

// Handler returns the handler budget for a question type, falling back to
// DefaultHandler.
func (t TimeoutsConfig) Handler(kind string) time.Duration {
	if s, ok := t.HandlerSeconds[kind]; ok && s > 0 {
		return time.Duration(s) * time.Second
	}
	return t.DefaultHandler
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderNone   LLMProvider = "none"
)

// CircuitBreakerConfig tunes the breaker wrapped around LLM calls.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests"`
	MinRequests      uint32        `mapstructure:"min_requests" yaml:"min_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold" yaml:"failure_threshold"`
}

// LLMConfig defines the remote model used for batched question answering
// and label embeddings.
type LLMConfig struct {
	Provider          LLMProvider          `mapstructure:"provider" yaml:"provider"`
	Model             string               `mapstructure:"model" yaml:"model"`
	EmbeddingModel    string               `mapstructure:"embedding_model" yaml:"embedding_model"`
	APIKey            string               `mapstructure:"api_key" yaml:"-"`
	Temperature       float32              `mapstructure:"temperature" yaml:"temperature"`
	MaxOutputTokens   int32                `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
	MaxRetries        int                  `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int                  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	LabelThreshold    float64              `mapstructure:"label_threshold" yaml:"label_threshold"`
	CircuitBreaker    CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// ServicesConfig points at the companion server that answers resume,
// address and verification lookups.
type ServicesConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	LeverToken        string        `mapstructure:"lever_token" yaml:"-"`
	LeverSearchURL    string        `mapstructure:"lever_search_url" yaml:"lever_search_url"`
	ResumeTimeout     time.Duration `mapstructure:"resume_timeout" yaml:"resume_timeout"`
	UseNearestAddress bool          `mapstructure:"use_nearest_address" yaml:"use_nearest_address"`
}

// ProfileConfig locates the user profile and the static catalogs.
type ProfileConfig struct {
	Path             string `mapstructure:"path" yaml:"path"`
	LabelCatalogPath string `mapstructure:"label_catalog_path" yaml:"label_catalog_path"`
	ResumeDir        string `mapstructure:"resume_dir" yaml:"resume_dir"`
	LabelMatcher     string `mapstructure:"label_matcher" yaml:"label_matcher"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// ApplyConfig holds settings populated from CLI flags for a single tab run.
type ApplyConfig struct {
	URL      string
	JobID    string
	Platform string
	Output   string
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
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
	v.SetDefault("logger.service_name", "autoapply")
	v.SetDefault("logger.log_file", "autoapply.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Engine --
	v.SetDefault("engine.error_only", false)
	v.SetDefault("engine.max_iterations", 8)
	v.SetDefault("engine.max_attempts_per_question", 3)
	v.SetDefault("engine.batch_delay_ms", 250)
	v.SetDefault("engine.llm_cache_max_failures", 0)
	v.SetDefault("engine.error_passes", 2)

	// -- Timeouts --
	v.SetDefault("timeouts.handler_seconds", map[string]int{
		"text":        6,
		"email":       6,
		"number":      6,
		"tel":         6,
		"url":         6,
		"search":      12,
		"password":    6,
		"textarea":    8,
		"radio":       6,
		"checkbox":    8,
		"select":      8,
		"multiselect": 20,
		"dropdown":    12,
		"file":        45,
		"date":        8,
	})
	v.SetDefault("timeouts.default_handler", "10s")
	v.SetDefault("timeouts.dom_stability", "15s")
	v.SetDefault("timeouts.stability_poll", "400ms")
	v.SetDefault("timeouts.dom_change", "20s")
	v.SetDefault("timeouts.submit", "25s")
	v.SetDefault("timeouts.mutation_timeout", "1500ms")
	v.SetDefault("timeouts.resolve_retries", 2)
	v.SetDefault("timeouts.resolve_delay", "300ms")

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.embedding_model", "text-embedding-004")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_output_tokens", 8192)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.label_threshold", 0.82)
	v.SetDefault("llm.circuit_breaker.enabled", true)
	v.SetDefault("llm.circuit_breaker.max_requests", 1)
	v.SetDefault("llm.circuit_breaker.min_requests", 3)
	v.SetDefault("llm.circuit_breaker.interval", "2m")
	v.SetDefault("llm.circuit_breaker.timeout", "1m")
	v.SetDefault("llm.circuit_breaker.failure_threshold", 0.6)

	// -- Services --
	v.SetDefault("services.base_url", "http://127.0.0.1:5001")
	v.SetDefault("services.timeout", "30s")
	v.SetDefault("services.requests_per_second", 4.0)
	v.SetDefault("services.lever_search_url", "https://jobs.lever.co/searchLocations")
	v.SetDefault("services.resume_timeout", "60s")
	v.SetDefault("services.use_nearest_address", false)

	// -- Profile --
	v.SetDefault("profile.path", "~/.autoapply/profile.json")
	v.SetDefault("profile.label_catalog_path", "")
	v.SetDefault("profile.resume_dir", "~/.autoapply/resumes")
	v.SetDefault("profile.label_matcher", "lexical")

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "127.0.0.1:9464")
	v.SetDefault("metrics.endpoint", "/metrics")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "AUTOAPPLY_LLM_API_KEY")
	_ = v.BindEnv("services.lever_token", "AUTOAPPLY_LEVER_HCAPTCHA_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the generic Gemini variable used by the genai SDK.
	if cfg.LLMCfg.Provider == ProviderGemini && cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.EngineCfg.Validate(); err != nil {
		return fmt.Errorf("engine configuration invalid: %w", err)
	}
	if c.TimeoutsCfg.DefaultHandler <= 0 {
		return fmt.Errorf("timeouts.default_handler must be a positive duration")
	}
	if c.TimeoutsCfg.ResolveRetries < 0 {
		return fmt.Errorf("timeouts.resolve_retries must not be negative")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.ServicesCfg.RequestsPerSecond <= 0 {
		return fmt.Errorf("services.requests_per_second must be positive")
	}
	if c.ProfileCfg.Path == "" {
		return fmt.Errorf("profile.path is a required configuration field")
	}
	switch c.ProfileCfg.LabelMatcher {
	case "lexical", "embedding":
	default:
		return fmt.Errorf("profile.label_matcher must be 'lexical' or 'embedding', got %q", c.ProfileCfg.LabelMatcher)
	}
	return nil
}

// Validate checks the recognized engine options.
func (e *EngineConfig) Validate() error {
	if e.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1")
	}
	if e.MaxAttemptsPerQuestion < 1 {
		return fmt.Errorf("max_attempts_per_question must be at least 1")
	}
	if e.BatchDelayMs < 0 {
		return fmt.Errorf("batch_delay_ms must not be negative")
	}
	if e.LLMCacheMaxFailures < 0 {
		return fmt.Errorf("llm_cache_max_failures must not be negative")
	}
	if e.ErrorPasses < 0 {
		return fmt.Errorf("error_passes must not be negative")
	}
	return nil
}

// Validate checks the LLM settings. A disabled provider needs nothing else.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderNone:
		return nil
	case ProviderGemini:
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if l.LabelThreshold < 0 || l.LabelThreshold > 1 {
		return fmt.Errorf("label_threshold must be between 0 and 1")
	}
	if l.CircuitBreaker.Enabled && (l.CircuitBreaker.FailureThreshold <= 0 || l.CircuitBreaker.FailureThreshold > 1) {
		return fmt.Errorf("circuit_breaker.failure_threshold must be in (0, 1]")
	}
	return nil
}
