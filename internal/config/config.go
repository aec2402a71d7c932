// Package config loads and validates search-fetch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// Supported values for the enumerated settings.
const (
	ProviderSerpAPI = "serpapi"
	ProviderSearXNG = "searxng"
	ProviderStatic  = "static"

	EngineColly    = "colly"
	EngineHeadless = "headless"
	EngineAuto     = "auto"

	ExtractorReadability = "readability"
	ExtractorTrafilatura = "trafilatura"

	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Search    SearchConfig    `mapstructure:"search"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Transform TransformConfig `mapstructure:"transform"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Output    OutputConfig    `mapstructure:"output"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig selects and configures the search provider.
type SearchConfig struct {
	Provider   string         `mapstructure:"provider"`
	APIKey     string         `mapstructure:"api_key"`
	SerpAPIURL string         `mapstructure:"serpapi_url"`
	Engine     string         `mapstructure:"engine"`
	SearXNGURL string         `mapstructure:"searxng_url"`
	Static     []StaticResult `mapstructure:"static"`
}

// StaticResult is one canned record served by the static provider.
type StaticResult struct {
	Title   string `mapstructure:"title"`
	URL     string `mapstructure:"url"`
	Snippet string `mapstructure:"snippet"`
}

// FetchConfig selects the fetch engine. Robots compliance, depth, page
// budget and delay are fixed per task and not configurable.
type FetchConfig struct {
	Engine    string `mapstructure:"engine"`
	UserAgent string `mapstructure:"user_agent"`
	// TimeoutSeconds bounds each fetch task; 0 disables the bound.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// TransformConfig controls the output format and main-content extractor.
// Cleaning and main-content isolation always run.
type TransformConfig struct {
	Format    string `mapstructure:"format"`
	Extractor string `mapstructure:"extractor"`
}

// PipelineConfig sets run defaults and the fan-out bound.
type PipelineConfig struct {
	// Concurrency caps in-flight fetch tasks; 0 launches one per record.
	Concurrency     int  `mapstructure:"concurrency"`
	DefaultPages    uint `mapstructure:"default_pages"`
	DefaultMaxChars uint `mapstructure:"default_max_chars"`
}

// HTTPConfig configures the outbound HTTP clients.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the chromedp fetch engine.
type HeadlessConfig struct {
	MaxParallel   int `mapstructure:"max_parallel"`
	NavTimeoutSec int `mapstructure:"nav_timeout_seconds"`
	// PromotionThreshold is the body size under which a script-heavy page is
	// re-rendered headless by the auto engine.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// OutputConfig sets where the CLI writes run artifacts.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the blob backend for run artifacts.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the run archive.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	RunsTable       string `mapstructure:"runs_table"`
	PagesTable      string `mapstructure:"pages_table"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	MaxConnLifetime string `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for run completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	LogSpans    bool    `mapstructure:"log_spans"`
}

// Load builds a Config from disk/environment. With an empty path, Load looks
// for a "searchfetch" config file in the working directory,
// /etc/searchfetch/ and $HOME/.searchfetch; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCHFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("search.api_key", "SEARCHFETCH_SEARCH_API_KEY", "SERPAPI_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("searchfetch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/searchfetch/")
		v.AddConfigPath("$HOME/.searchfetch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 120)
	v.SetDefault("search.provider", ProviderSerpAPI)
	v.SetDefault("search.serpapi_url", "https://serpapi.com/search")
	v.SetDefault("search.engine", "google")
	v.SetDefault("fetch.engine", EngineColly)
	v.SetDefault("fetch.user_agent", crawler.DefaultUserAgent)
	v.SetDefault("fetch.timeout_seconds", 0)
	v.SetDefault("transform.format", string(crawler.FormatMarkdown))
	v.SetDefault("transform.extractor", ExtractorReadability)
	v.SetDefault("pipeline.concurrency", 0)
	v.SetDefault("pipeline.default_pages", 5)
	v.SetDefault("pipeline.default_max_chars", 5000)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("output.dir", "fetched_pages")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("db.runs_table", "search_runs")
	v.SetDefault("db.pages_table", "search_pages")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.service_name", "searchfetch")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Search.Provider {
	case ProviderSerpAPI:
		if c.Search.APIKey == "" {
			return fmt.Errorf("search.api_key must be set for the serpapi provider")
		}
	case ProviderSearXNG:
		if c.Search.SearXNGURL == "" {
			return fmt.Errorf("search.searxng_url must be set for the searxng provider")
		}
	case ProviderStatic:
	default:
		return fmt.Errorf("search.provider %q is not supported", c.Search.Provider)
	}
	switch c.Fetch.Engine {
	case EngineColly:
	case EngineHeadless, EngineAuto:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when the headless engine is used")
		}
	default:
		return fmt.Errorf("fetch.engine %q is not supported", c.Fetch.Engine)
	}
	if c.Fetch.TimeoutSeconds < 0 {
		return fmt.Errorf("fetch.timeout_seconds must be >= 0")
	}
	switch crawler.Format(c.Transform.Format) {
	case crawler.FormatMarkdown, crawler.FormatText, crawler.FormatHTML:
	default:
		return fmt.Errorf("transform.format %q is not supported", c.Transform.Format)
	}
	switch c.Transform.Extractor {
	case ExtractorReadability, ExtractorTrafilatura:
	default:
		return fmt.Errorf("transform.extractor %q is not supported", c.Transform.Extractor)
	}
	if c.Pipeline.Concurrency < 0 {
		return fmt.Errorf("pipeline.concurrency must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.DB.MaxConnLifetime != "" {
		if _, err := time.ParseDuration(c.DB.MaxConnLifetime); err != nil {
			return fmt.Errorf("db.max_conn_lifetime: %w", err)
		}
	}
	return nil
}

// HTTPTimeout converts http.timeout_seconds into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// TaskFetchConfig returns the single-page constraints applied to every fetch task.
func (c Config) TaskFetchConfig() crawler.FetchConfig {
	fc := crawler.DefaultFetchConfig()
	fc.Timeout = time.Duration(c.Fetch.TimeoutSeconds) * time.Second
	if c.Fetch.UserAgent != "" {
		fc.UserAgent = c.Fetch.UserAgent
	}
	return fc
}

// TaskTransformConfig returns the transform settings applied to every fetched page.
func (c Config) TaskTransformConfig() crawler.TransformConfig {
	tc := crawler.DefaultTransformConfig()
	tc.Format = crawler.Format(c.Transform.Format)
	return tc
}

// StaticRecords converts the configured static results into search records.
func (c Config) StaticRecords() []crawler.SearchRecord {
	out := make([]crawler.SearchRecord, 0, len(c.Search.Static))
	for i, r := range c.Search.Static {
		out = append(out, crawler.SearchRecord{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Position: i + 1})
	}
	return out
}

// ConnLifetime parses db.max_conn_lifetime; empty yields zero.
func (c Config) ConnLifetime() time.Duration {
	d, _ := time.ParseDuration(c.DB.MaxConnLifetime)
	return d
}
