package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultUserAgent is sent on page and document requests when the caller
// supplies no headers of its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultHeaderKeywords are the column header fragments that mark a table
// row as a header rather than data.
var DefaultHeaderKeywords = []string{"r.br", "naziv", "oib", "adresa", "redni broj"}

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Blob   BlobConfig   `yaml:"blob" mapstructure:"blob"`
	Fetch  FetchConfig  `yaml:"fetch" mapstructure:"fetch"`
	Tables TablesConfig `yaml:"tables" mapstructure:"tables"`
	Parser ParserConfig `yaml:"parser" mapstructure:"parser"`
	Sync   SyncConfig   `yaml:"sync" mapstructure:"sync"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures where downloaded documents are stored.
type BlobConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Region    string `yaml:"region" mapstructure:"region"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// FetchConfig configures outbound HTTP for page and document fetches.
type FetchConfig struct {
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	PageTimeoutSecs     int    `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	DownloadTimeoutSecs int    `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	MaxRetries          int    `yaml:"max_retries" mapstructure:"max_retries"`
	MaxBodyMB           int    `yaml:"max_body_mb" mapstructure:"max_body_mb"`
	// RateLimits caps requests per second for individual hosts.
	RateLimits []HostRateLimit `yaml:"rate_limits" mapstructure:"rate_limits"`
}

// HostRateLimit is a per-host request rate. It is a list entry rather than
// a map key because viper splits keys on dots.
type HostRateLimit struct {
	Host string  `yaml:"host" mapstructure:"host"`
	RPS  float64 `yaml:"rps" mapstructure:"rps"`
}

// HostRates returns RateLimits keyed by host.
func (f FetchConfig) HostRates() map[string]float64 {
	rates := make(map[string]float64, len(f.RateLimits))
	for _, rl := range f.RateLimits {
		rates[strings.ToLower(rl.Host)] = rl.RPS
	}
	return rates
}

// PageTimeout returns the page fetch timeout.
func (f FetchConfig) PageTimeout() time.Duration {
	return time.Duration(f.PageTimeoutSecs) * time.Second
}

// DownloadTimeout returns the document download timeout.
func (f FetchConfig) DownloadTimeout() time.Duration {
	return time.Duration(f.DownloadTimeoutSecs) * time.Second
}

// TablesConfig configures PDF table extraction.
type TablesConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	HeaderRows    int    `yaml:"header_rows" mapstructure:"header_rows"`
}

// ParserConfig configures row filtering.
type ParserConfig struct {
	HeaderKeywords []string `yaml:"header_keywords" mapstructure:"header_keywords"`
	MinNameLength  int      `yaml:"min_name_length" mapstructure:"min_name_length"`
	MinColumns     int      `yaml:"min_columns" mapstructure:"min_columns"`
}

// SyncConfig configures registry reconciliation.
type SyncConfig struct {
	DefaultCategory   string `yaml:"default_category" mapstructure:"default_category"`
	CleanDisplayNames bool   `yaml:"clean_display_names" mapstructure:"clean_display_names"`
}

// ServerConfig configures the API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and REGSYNC_* env vars.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "registry.db")
	v.SetDefault("blob.backend", "fs")
	v.SetDefault("blob.dir", "data/documents")
	v.SetDefault("blob.prefix", "pdf_documents/")
	v.SetDefault("blob.region", "us-east-1")
	v.SetDefault("fetch.user_agent", DefaultUserAgent)
	v.SetDefault("fetch.page_timeout_secs", 10)
	v.SetDefault("fetch.download_timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.max_body_mb", 100)
	v.SetDefault("tables.provider", "pdftotext")
	v.SetDefault("tables.pdftotext_path", "pdftotext")
	v.SetDefault("tables.header_rows", 2)
	v.SetDefault("parser.header_keywords", DefaultHeaderKeywords)
	v.SetDefault("parser.min_name_length", 3)
	v.SetDefault("parser.min_columns", 4)
	v.SetDefault("sync.default_category", "Other")
	v.SetDefault("sync.clean_display_names", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command depends on. mode selects the
// extra checks: "serve" also requires a usable port.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch c.Blob.Backend {
	case "fs":
		if c.Blob.Dir == "" {
			problems = append(problems, "blob.dir is required for the fs backend")
		}
	case "s3", "gcs":
		if c.Blob.Bucket == "" {
			problems = append(problems, "blob.bucket is required for the "+c.Blob.Backend+" backend")
		}
	default:
		problems = append(problems, "blob.backend must be fs, s3 or gcs")
	}

	switch c.Tables.Provider {
	case "pdftotext", "native", "":
	default:
		problems = append(problems, "tables.provider must be pdftotext or native")
	}

	if c.Parser.MinColumns < 4 {
		problems = append(problems, "parser.min_columns must be at least 4")
	}

	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
