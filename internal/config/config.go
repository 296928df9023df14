package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/mediascout/internal/orchestrator"
	"github.com/sells-group/mediascout/internal/throttle"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Jina         JinaConfig         `yaml:"jina" mapstructure:"jina"`
	Firecrawl    FirecrawlConfig    `yaml:"firecrawl" mapstructure:"firecrawl"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	Query        QueryConfig        `yaml:"query" mapstructure:"query"`
	Extract      ExtractConfig      `yaml:"extract" mapstructure:"extract"`
	Dedupe       DedupeConfig       `yaml:"dedupe" mapstructure:"dedupe"`
	Throttle     ThrottleConfig     `yaml:"throttle" mapstructure:"throttle"`
	Scrape       ScrapeConfig       `yaml:"scrape" mapstructure:"scrape"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Cleanup      CleanupConfig      `yaml:"cleanup" mapstructure:"cleanup"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (paid fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// QueryConfig configures query generation.
type QueryConfig struct {
	MaxQueries          int    `yaml:"max_queries" mapstructure:"max_queries"`
	EnableAIEnhancement bool   `yaml:"enable_ai_enhancement" mapstructure:"enable_ai_enhancement"`
	TemplatesPath       string `yaml:"templates_path" mapstructure:"templates_path"`
}

// ExtractConfig configures contact extraction.
type ExtractConfig struct {
	Strategy            string  `yaml:"strategy" mapstructure:"strategy"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// DedupeConfig configures contact deduplication.
type DedupeConfig struct {
	BioSimilarityThreshold float64 `yaml:"bio_similarity_threshold" mapstructure:"bio_similarity_threshold"`
}

// ThrottleConfig configures per-domain outbound rate limits.
type ThrottleConfig struct {
	RequestsPerSecond int     `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	RequestsPerHour   int     `yaml:"requests_per_hour" mapstructure:"requests_per_hour"`
	MinDelayMS        int     `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	MaxDelaySecs      int     `yaml:"max_delay_secs" mapstructure:"max_delay_secs"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	RespectCrawlDelay bool    `yaml:"respect_crawl_delay" mapstructure:"respect_crawl_delay"`
}

// ToThrottle converts to the throttler's own config type.
func (c ThrottleConfig) ToThrottle() throttle.Config {
	return throttle.Config{
		RequestsPerSecond: c.RequestsPerSecond,
		RequestsPerMinute: c.RequestsPerMinute,
		RequestsPerHour:   c.RequestsPerHour,
		MinDelay:          time.Duration(c.MinDelayMS) * time.Millisecond,
		MaxDelay:          time.Duration(c.MaxDelaySecs) * time.Second,
		BackoffMultiplier: c.BackoffMultiplier,
		RespectCrawlDelay: c.RespectCrawlDelay,
	}
}

// ScrapeConfig configures the scraper chain.
type ScrapeConfig struct {
	ExcludePaths []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	LocalFirst   bool     `yaml:"local_first" mapstructure:"local_first"`
}

// OrchestratorConfig configures pipeline concurrency and deadlines.
type OrchestratorConfig struct {
	MaxConcurrentSearches    int `yaml:"max_concurrent_searches" mapstructure:"max_concurrent_searches"`
	MaxConcurrentQueries     int `yaml:"max_concurrent_queries" mapstructure:"max_concurrent_queries"`
	MaxConcurrentScrapes     int `yaml:"max_concurrent_scrapes" mapstructure:"max_concurrent_scrapes"`
	MaxConcurrentExtractions int `yaml:"max_concurrent_extractions" mapstructure:"max_concurrent_extractions"`
	ResultsPerQuery          int `yaml:"results_per_query" mapstructure:"results_per_query"`

	QueryGenerationTimeoutSecs   int `yaml:"query_generation_timeout_secs" mapstructure:"query_generation_timeout_secs"`
	WebSearchTimeoutSecs         int `yaml:"web_search_timeout_secs" mapstructure:"web_search_timeout_secs"`
	ContentScrapingTimeoutSecs   int `yaml:"content_scraping_timeout_secs" mapstructure:"content_scraping_timeout_secs"`
	ContactExtractionTimeoutSecs int `yaml:"contact_extraction_timeout_secs" mapstructure:"contact_extraction_timeout_secs"`
	TotalSearchTimeoutSecs       int `yaml:"total_search_timeout_secs" mapstructure:"total_search_timeout_secs"`
}

// ToOrchestrator converts to the orchestrator's own config type.
func (c OrchestratorConfig) ToOrchestrator() orchestrator.Config {
	return orchestrator.Config{
		MaxConcurrentSearches:    c.MaxConcurrentSearches,
		MaxConcurrentQueries:     c.MaxConcurrentQueries,
		MaxConcurrentScrapes:     c.MaxConcurrentScrapes,
		MaxConcurrentExtractions: c.MaxConcurrentExtractions,
		ResultsPerQuery:          c.ResultsPerQuery,
		Timeouts: orchestrator.Timeouts{
			QueryGeneration:   time.Duration(c.QueryGenerationTimeoutSecs) * time.Second,
			WebSearch:         time.Duration(c.WebSearchTimeoutSecs) * time.Second,
			ContentScraping:   time.Duration(c.ContentScrapingTimeoutSecs) * time.Second,
			ContactExtraction: time.Duration(c.ContactExtractionTimeoutSecs) * time.Second,
			TotalSearch:       time.Duration(c.TotalSearchTimeoutSecs) * time.Second,
		},
	}
}

// CleanupConfig configures the expired-search sweep.
type CleanupConfig struct {
	RetentionHours int `yaml:"retention_hours" mapstructure:"retention_hours"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MEDIASCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "mediascout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("query.max_queries", 8)
	v.SetDefault("query.enable_ai_enhancement", true)
	v.SetDefault("extract.strategy", "hybrid")
	v.SetDefault("extract.confidence_threshold", 0.5)
	v.SetDefault("dedupe.bio_similarity_threshold", 0.75)
	v.SetDefault("throttle.requests_per_second", 2)
	v.SetDefault("throttle.requests_per_minute", 30)
	v.SetDefault("throttle.requests_per_hour", 500)
	v.SetDefault("throttle.min_delay_ms", 500)
	v.SetDefault("throttle.max_delay_secs", 30)
	v.SetDefault("throttle.backoff_multiplier", 2.0)
	v.SetDefault("throttle.respect_crawl_delay", true)
	v.SetDefault("scrape.exclude_paths", []string{})
	v.SetDefault("scrape.local_first", true)
	v.SetDefault("orchestrator.max_concurrent_searches", 3)
	v.SetDefault("orchestrator.max_concurrent_queries", 5)
	v.SetDefault("orchestrator.max_concurrent_scrapes", 4)
	v.SetDefault("orchestrator.max_concurrent_extractions", 4)
	v.SetDefault("orchestrator.results_per_query", 10)
	v.SetDefault("orchestrator.query_generation_timeout_secs", 30)
	v.SetDefault("orchestrator.web_search_timeout_secs", 120)
	v.SetDefault("orchestrator.content_scraping_timeout_secs", 300)
	v.SetDefault("orchestrator.contact_extraction_timeout_secs", 180)
	v.SetDefault("orchestrator.total_search_timeout_secs", 900)
	v.SetDefault("cleanup.retention_hours", 168)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
