// Package config loads docsweep settings from a YAML file, DOCSWEEP_* environment
// variables and built-in defaults, and validates them before a session starts.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/text/language"
)

// EnvPrefix is prepended to every environment override, e.g. DOCSWEEP_DOWNLOAD_MAX_CONCURRENT.
const EnvPrefix = "DOCSWEEP"

// Config is the complete configuration surface.
type Config struct {
	Search      SearchConfig      `mapstructure:"search"`
	Download    DownloadConfig    `mapstructure:"download"`
	Translation TranslationConfig `mapstructure:"translation"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Languages   []string          `mapstructure:"languages"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
}

// SearchConfig controls the provider pool.
type SearchConfig struct {
	MaxResultsPerEngine int                      `mapstructure:"max_results_per_engine"`
	RequestDelay        time.Duration            `mapstructure:"request_delay"`
	EngineDelays        map[string]time.Duration `mapstructure:"engine_delays"`
	EnabledEngines      []string                 `mapstructure:"enabled_engines"`
	Timeout             time.Duration            `mapstructure:"timeout"`
	SearxngURL          string                   `mapstructure:"searxng_url"`
}

// DelayFor returns the minimum inter-request gap for an engine, falling back to RequestDelay.
func (s SearchConfig) DelayFor(engine string) time.Duration {
	if d, ok := s.EngineDelays[strings.ToLower(engine)]; ok {
		return d
	}
	return s.RequestDelay
}

// DownloadConfig controls the downloader.
type DownloadConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxFileSize    int64         `mapstructure:"max_file_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	ProxyFile      string        `mapstructure:"proxy_file"`
	Fingerprint    string        `mapstructure:"fingerprint"`
}

// TranslationConfig selects and configures the translation backend.
type TranslationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Backend  string        `mapstructure:"backend"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// Optimize adds model-suggested query variants per language. It needs an
	// openai translation or scoring backend.
	Optimize    bool `mapstructure:"optimize"`
	MaxVariants int  `mapstructure:"max_variants"`
}

// ScoringConfig selects and configures the relevance backend.
type ScoringConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Backend         string        `mapstructure:"backend"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxContentChars int           `mapstructure:"max_content_chars"`
}

// StorageConfig holds the repository driver and the download root.
type StorageConfig struct {
	Root   string `mapstructure:"root"`
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// MetricsConfig enables the Prometheus endpoint when Port > 0.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigurationError reports an invalid option. It is returned before any session is created.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("search.max_results_per_engine", 10)
	v.SetDefault("search.request_delay", time.Second)
	v.SetDefault("search.engine_delays", map[string]time.Duration{
		"google":     time.Second,
		"bing":       1500 * time.Millisecond,
		"duckduckgo": time.Second,
		"searxng":    time.Second,
	})
	v.SetDefault("search.enabled_engines", []string{"google", "bing", "duckduckgo"})
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.searxng_url", "")

	v.SetDefault("download.max_concurrent", 5)
	v.SetDefault("download.max_file_size", int64(50*1024*1024))
	v.SetDefault("download.timeout", 30*time.Second)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.retry_base_delay", time.Second)
	v.SetDefault("download.respect_robots", false)
	v.SetDefault("download.proxy_file", "")
	v.SetDefault("download.fingerprint", "chrome")

	v.SetDefault("translation.enabled", false)
	v.SetDefault("translation.backend", "http")
	v.SetDefault("translation.endpoint", "")
	v.SetDefault("translation.api_key", "")
	v.SetDefault("translation.model", "gpt-4o-mini")
	v.SetDefault("translation.timeout", 15*time.Second)
	v.SetDefault("translation.cache_ttl", time.Duration(0))
	v.SetDefault("translation.optimize", false)
	v.SetDefault("translation.max_variants", 3)

	v.SetDefault("scoring.enabled", false)
	v.SetDefault("scoring.backend", "keyword")
	v.SetDefault("scoring.base_url", "")
	v.SetDefault("scoring.api_key", "")
	v.SetDefault("scoring.model", "gpt-4o-mini")
	v.SetDefault("scoring.timeout", 60*time.Second)
	v.SetDefault("scoring.max_content_chars", 8000)

	v.SetDefault("storage.root", "downloads")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "docsweep.db")

	v.SetDefault("languages", []string{"en", "vi", "ja", "ko", "ru", "fa", "zh"})
	v.SetDefault("metrics.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the optional config file at path, applies DOCSWEEP_* overrides and defaults,
// and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading files or environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return &cfg
}

func (c *Config) normalize() {
	for i, e := range c.Search.EnabledEngines {
		c.Search.EnabledEngines[i] = strings.ToLower(strings.TrimSpace(e))
	}
	for i, l := range c.Languages {
		c.Languages[i] = strings.TrimSpace(l)
	}
	c.Translation.Backend = strings.ToLower(c.Translation.Backend)
	c.Scoring.Backend = strings.ToLower(c.Scoring.Backend)
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
}

// Validate rejects settings no session could run with.
func (c *Config) Validate() error {
	if c.Search.MaxResultsPerEngine <= 0 {
		return &ConfigurationError{Field: "search.max_results_per_engine", Reason: "must be positive"}
	}
	if c.Search.RequestDelay < 0 {
		return &ConfigurationError{Field: "search.request_delay", Reason: "must not be negative"}
	}
	for engine, d := range c.Search.EngineDelays {
		if d < 0 {
			return &ConfigurationError{Field: "search.engine_delays." + engine, Reason: "must not be negative"}
		}
	}
	if len(c.Search.EnabledEngines) == 0 {
		return &ConfigurationError{Field: "search.enabled_engines", Reason: "at least one engine is required"}
	}

	if c.Download.MaxConcurrent <= 0 {
		return &ConfigurationError{Field: "download.max_concurrent", Reason: "must be positive"}
	}
	if c.Download.MaxFileSize <= 0 {
		return &ConfigurationError{Field: "download.max_file_size", Reason: "must be positive"}
	}
	if c.Download.Timeout <= 0 {
		return &ConfigurationError{Field: "download.timeout", Reason: "must be positive"}
	}
	if c.Download.MaxRetries < 0 {
		return &ConfigurationError{Field: "download.max_retries", Reason: "must not be negative"}
	}

	if len(c.Languages) == 0 {
		return &ConfigurationError{Field: "languages", Reason: "at least one language is required"}
	}
	for _, l := range c.Languages {
		if _, err := language.Parse(l); err != nil {
			return &ConfigurationError{Field: "languages", Reason: fmt.Sprintf("unknown language %q", l)}
		}
	}

	if c.Translation.Enabled {
		switch c.Translation.Backend {
		case "http":
			if c.Translation.Endpoint == "" {
				return &ConfigurationError{Field: "translation.endpoint", Reason: "required for the http backend"}
			}
		case "openai":
			if c.Translation.APIKey == "" {
				return &ConfigurationError{Field: "translation.api_key", Reason: "required for the openai backend"}
			}
		default:
			return &ConfigurationError{Field: "translation.backend", Reason: fmt.Sprintf("unknown backend %q", c.Translation.Backend)}
		}
	}
	if c.Translation.CacheTTL < 0 {
		return &ConfigurationError{Field: "translation.cache_ttl", Reason: "must not be negative"}
	}
	if c.Translation.MaxVariants < 0 {
		return &ConfigurationError{Field: "translation.max_variants", Reason: "must not be negative"}
	}

	if c.Scoring.Enabled {
		switch c.Scoring.Backend {
		case "keyword":
		case "openai":
			if c.Scoring.APIKey == "" {
				return &ConfigurationError{Field: "scoring.api_key", Reason: "required for the openai backend"}
			}
		default:
			return &ConfigurationError{Field: "scoring.backend", Reason: fmt.Sprintf("unknown backend %q", c.Scoring.Backend)}
		}
	}

	if c.Translation.Optimize && !c.HasChatModel() {
		return &ConfigurationError{Field: "translation.optimize", Reason: "requires the openai translation or scoring backend"}
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			return &ConfigurationError{Field: "storage.dsn", Reason: "required for " + c.Storage.Driver}
		}
	default:
		return &ConfigurationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)}
	}
	if c.Storage.Root == "" {
		return &ConfigurationError{Field: "storage.root", Reason: "must not be empty"}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return &ConfigurationError{Field: "log.format", Reason: fmt.Sprintf("unknown format %q", c.Log.Format)}
	}
	return nil
}

// HasChatModel reports whether an enabled backend talks to a chat model.
func (c *Config) HasChatModel() bool {
	return (c.Translation.Enabled && c.Translation.Backend == "openai") ||
		(c.Scoring.Enabled && c.Scoring.Backend == "openai")
}
