package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Blob       BlobConfig       `yaml:"blob" mapstructure:"blob"`
	Upload     UploadConfig     `yaml:"upload" mapstructure:"upload"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Confidence ConfidenceConfig `yaml:"confidence" mapstructure:"confidence"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Processing ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" mapstructure:"dispatcher"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// BlobConfig configures where uploaded documents are kept.
type BlobConfig struct {
	Root string `yaml:"root" mapstructure:"root"`
}

// UploadConfig bounds what intake accepts.
type UploadConfig struct {
	MaxSizeMB         int      `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	AllowedExtensions []string `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	RetentionDays     int      `yaml:"retention_days" mapstructure:"retention_days"`
}

// OCRConfig selects and configures the PDF table extractor.
type OCRConfig struct {
	Provider   string           `yaml:"provider" mapstructure:"provider"`
	Layout     LayoutConfig     `yaml:"layout" mapstructure:"layout"`
	DocumentAI DocumentAIConfig `yaml:"documentai" mapstructure:"documentai"`
}

// LayoutConfig holds settings for the REST layout analysis service.
type LayoutConfig struct {
	Endpoint       string  `yaml:"endpoint" mapstructure:"endpoint"`
	Key            string  `yaml:"key" mapstructure:"key"`
	ModelID        string  `yaml:"model_id" mapstructure:"model_id"`
	APIVersion     string  `yaml:"api_version" mapstructure:"api_version"`
	RateLimit      float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	PollIntervalMS int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// DocumentAIConfig holds Google Document AI processor settings.
type DocumentAIConfig struct {
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Location        string `yaml:"location" mapstructure:"location"`
	ProcessorID     string `yaml:"processor_id" mapstructure:"processor_id"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
}

// ConfidenceConfig holds the review thresholds.
type ConfidenceConfig struct {
	DocumentThreshold float64 `yaml:"document_threshold" mapstructure:"document_threshold"`
	MetricThreshold   float64 `yaml:"metric_threshold" mapstructure:"metric_threshold"`
}

// ValidationConfig points at optional range rule overrides.
type ValidationConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ProcessingConfig bounds processing time and retries.
type ProcessingConfig struct {
	TimeoutMinutes    int `yaml:"timeout_minutes" mapstructure:"timeout_minutes"`
	MaxRetries        int `yaml:"max_retries" mapstructure:"max_retries"`
	StatusCacheTTLSec int `yaml:"status_cache_ttl_secs" mapstructure:"status_cache_ttl_secs"`
	StatusLogLimit    int `yaml:"status_log_limit" mapstructure:"status_log_limit"`
}

// Timeout returns the processing timeout as a duration.
func (p ProcessingConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutMinutes) * time.Minute
}

// StatusCacheTTL returns the status cache TTL as a duration.
func (p ProcessingConfig) StatusCacheTTL() time.Duration {
	return time.Duration(p.StatusCacheTTLSec) * time.Second
}

// DispatcherConfig sizes the in-process job dispatcher.
type DispatcherConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	QueueDepth  int `yaml:"queue_depth" mapstructure:"queue_depth"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
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
	v.SetEnvPrefix("FININGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "fin-ingest.db")
	v.SetDefault("blob.root", "./data/blobs")
	v.SetDefault("upload.max_size_mb", 50)
	v.SetDefault("upload.allowed_extensions", []string{".pdf", ".xlsx"})
	v.SetDefault("upload.retention_days", 2555)
	v.SetDefault("ocr.provider", "textlayer")
	v.SetDefault("ocr.layout.model_id", "prebuilt-layout")
	v.SetDefault("ocr.layout.api_version", "2023-07-31")
	v.SetDefault("ocr.layout.rate_limit", 5)
	v.SetDefault("ocr.layout.poll_interval_ms", 1000)
	v.SetDefault("ocr.documentai.location", "us")
	v.SetDefault("confidence.document_threshold", 0.75)
	v.SetDefault("confidence.metric_threshold", 0.70)
	v.SetDefault("processing.timeout_minutes", 10)
	v.SetDefault("processing.max_retries", 5)
	v.SetDefault("processing.status_cache_ttl_secs", 10)
	v.SetDefault("processing.status_log_limit", 20)
	v.SetDefault("dispatcher.concurrency", 4)
	v.SetDefault("dispatcher.queue_depth", 64)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
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

// Validate checks the settings required by a command mode: "serve",
// "process", "query" or "migrate". Query commands only read the store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "process":
		errs = append(errs, c.validateProcessing()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "migrate", "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	errs = append(errs, c.validateStore()...)

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for sqlite"}
		}
	default:
		return []string{"store.driver must be sqlite or postgres"}
	}
	return nil
}

func (c *Config) validateProcessing() []string {
	var errs []string
	if !inUnit(c.Confidence.DocumentThreshold) {
		errs = append(errs, "confidence.document_threshold must be between 0 and 1")
	}
	if !inUnit(c.Confidence.MetricThreshold) {
		errs = append(errs, "confidence.metric_threshold must be between 0 and 1")
	}
	if c.Upload.MaxSizeMB <= 0 {
		errs = append(errs, "upload.max_size_mb must be > 0")
	}
	if c.Processing.TimeoutMinutes <= 0 {
		errs = append(errs, "processing.timeout_minutes must be > 0")
	}
	if c.Dispatcher.Concurrency < 1 || c.Dispatcher.Concurrency > 64 {
		errs = append(errs, "dispatcher.concurrency must be between 1 and 64")
	}
	switch c.OCR.Provider {
	case "textlayer":
	case "layout":
		if c.OCR.Layout.Endpoint == "" || c.OCR.Layout.Key == "" {
			errs = append(errs, "ocr.layout.endpoint and ocr.layout.key are required")
		}
	case "documentai":
		if c.OCR.DocumentAI.ProjectID == "" || c.OCR.DocumentAI.ProcessorID == "" {
			errs = append(errs, "ocr.documentai.project_id and ocr.documentai.processor_id are required")
		}
	default:
		errs = append(errs, "ocr.provider must be textlayer, layout or documentai")
	}
	return errs
}

func inUnit(v float64) bool { return v >= 0 && v <= 1 }

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
