package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	SerpAPI   SerpAPIConfig   `yaml:"serpapi" mapstructure:"serpapi"`
	Firecrawl FirecrawlConfig `yaml:"firecrawl" mapstructure:"firecrawl"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Queue     QueueConfig     `yaml:"queue" mapstructure:"queue"`
	Filter    FilterConfig    `yaml:"filter" mapstructure:"filter"`
	Consensus ConsensusConfig `yaml:"consensus" mapstructure:"consensus"`
	Resolver  ResolverConfig  `yaml:"resolver" mapstructure:"resolver"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SerpAPIConfig holds the offer search provider settings.
type SerpAPIConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Locale    string  `yaml:"locale" mapstructure:"locale"`
	Country   string  `yaml:"country" mapstructure:"country"`   // gl parameter
	Language  string  `yaml:"language" mapstructure:"language"` // hl parameter
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit" validate:"gte=0"`
}

// FirecrawlConfig holds the page fetch provider settings.
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// RedisConfig configures the task queue and live progress channel.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// QueueConfig configures the background worker.
type QueueConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
	MaxRetry    int `yaml:"max_retry" mapstructure:"max_retry" validate:"gte=0"`
}

// FilterConfig configures offer pre-filtering.
type FilterConfig struct {
	MinPrice      float64  `yaml:"min_price" mapstructure:"min_price" validate:"gte=0"`
	BlocklistPath string   `yaml:"blocklist_path" mapstructure:"blocklist_path"`
	Blocklist     []string `yaml:"blocklist" mapstructure:"blocklist"`
}

// ConsensusConfig holds the block-building and escalation knobs.
type ConsensusConfig struct {
	TargetCount         int     `yaml:"target_count" mapstructure:"target_count" validate:"min=1"`
	InitialTolerancePct float64 `yaml:"initial_tolerance_pct" mapstructure:"initial_tolerance_pct" validate:"gt=0"`
	ToleranceStepPct    float64 `yaml:"tolerance_step_pct" mapstructure:"tolerance_step_pct" validate:"gt=0"`
	ToleranceCeilingPct float64 `yaml:"tolerance_ceiling_pct" mapstructure:"tolerance_ceiling_pct" validate:"gt=0"`
	MaxRounds           int     `yaml:"max_rounds" mapstructure:"max_rounds" validate:"min=1"`
	MaxBlockSpan        int     `yaml:"max_block_span" mapstructure:"max_block_span" validate:"min=1"`
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency" validate:"min=1"`
}

// ResolverConfig configures store selection.
type ResolverConfig struct {
	PriceCheck      bool    `yaml:"price_check" mapstructure:"price_check"`
	MismatchPct     float64 `yaml:"mismatch_pct" mapstructure:"mismatch_pct" validate:"gt=0"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes" validate:"min=1"`
}

// ExtractConfig configures site price extraction.
type ExtractConfig struct {
	Enabled     bool     `yaml:"enabled" mapstructure:"enabled"`
	PriceSource string   `yaml:"price_source" mapstructure:"price_source" validate:"oneof=search site"`
	Selectors   []string `yaml:"selectors" mapstructure:"selectors"`
	Screenshot  bool     `yaml:"screenshot" mapstructure:"screenshot"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	SerpAPIPerSearch   float64 `yaml:"serpapi_per_search" mapstructure:"serpapi_per_search"`
	SerpAPIPerLookup   float64 `yaml:"serpapi_per_lookup" mapstructure:"serpapi_per_lookup"`
	FirecrawlPerScrape float64 `yaml:"firecrawl_per_scrape" mapstructure:"firecrawl_per_scrape"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
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
	v.SetEnvPrefix("QUOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "quote-engine.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.locale", "pt-BR")
	v.SetDefault("serpapi.country", "br")
	v.SetDefault("serpapi.language", "pt-br")
	v.SetDefault("serpapi.rate_limit", 2.0)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.max_retry", 2)
	v.SetDefault("filter.min_price", 0.0)
	v.SetDefault("consensus.target_count", 3)
	v.SetDefault("consensus.initial_tolerance_pct", 25.0)
	v.SetDefault("consensus.tolerance_step_pct", 5.0)
	v.SetDefault("consensus.tolerance_ceiling_pct", 60.0)
	v.SetDefault("consensus.max_rounds", 10)
	v.SetDefault("consensus.max_block_span", 10)
	v.SetDefault("consensus.concurrency", 3)
	v.SetDefault("resolver.price_check", true)
	v.SetDefault("resolver.mismatch_pct", 5.0)
	v.SetDefault("resolver.cache_ttl_minutes", 15)
	v.SetDefault("extract.enabled", true)
	v.SetDefault("extract.price_source", "search")
	v.SetDefault("extract.screenshot", true)
	v.SetDefault("extract.timeout_secs", 30)
	v.SetDefault("pricing.serpapi_per_search", 0.015)
	v.SetDefault("pricing.serpapi_per_lookup", 0.015)
	v.SetDefault("pricing.firecrawl_per_scrape", 0.0063)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Blocklist file entries extend the inline list.
	if cfg.Filter.BlocklistPath != "" {
		extra, err := LoadBlocklist(cfg.Filter.BlocklistPath)
		if err != nil {
			return nil, err
		}
		cfg.Filter.Blocklist = append(cfg.Filter.Blocklist, extra...)
	}

	return &cfg, nil
}

// Validate checks structural constraints beyond what viper enforces.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if c.Consensus.ToleranceCeilingPct < c.Consensus.InitialTolerancePct {
		return eris.New("config: tolerance ceiling below initial tolerance")
	}
	return nil
}

// blocklistFile is the YAML shape of a domain blocklist file.
type blocklistFile struct {
	Domains []string `yaml:"domains"`
}

// LoadBlocklist reads a YAML file of blocked marketplace/aggregator domains.
func LoadBlocklist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read blocklist %s", path)
	}
	var f blocklistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse blocklist %s", path)
	}
	return f.Domains, nil
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
