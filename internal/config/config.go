// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	IA      IAConfig      `mapstructure:"ia"`
	Source  SourceConfig  `mapstructure:"source"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// IAConfig holds Internet Archive S3 credentials and endpoint settings.
type IAConfig struct {
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	Endpoint   string `mapstructure:"endpoint"`
	ItemPrefix string `mapstructure:"item_prefix"`
}

// SourceConfig describes the Ming Pao Canada site being mirrored.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArchiveConfig governs the crawl-and-archive pipeline.
type ArchiveConfig struct {
	StartDate         string `mapstructure:"start_date"`
	EndDate           string `mapstructure:"end_date"`
	Workers           int    `mapstructure:"workers"`
	MaxRetries        int    `mapstructure:"max_retries"`
	BatchDays         int    `mapstructure:"batch_days"`
	VerifyUploads     bool   `mapstructure:"verify_uploads"`
	MetadataQueueSize int    `mapstructure:"metadata_queue_size"`
}

// LedgerConfig locates the local sqlite progress database.
type LedgerConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig controls the optional metrics/health debug listener.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MINGPAO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvKeys(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("ia.endpoint", "https://s3.us.archive.org")
	v.SetDefault("ia.item_prefix", "mingpao-canada-tor")
	v.SetDefault("source.base_url", "https://www.mingpaocanada.com/tor")
	v.SetDefault("source.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("archive.workers", 4)
	v.SetDefault("archive.max_retries", 3)
	v.SetDefault("archive.batch_days", 30)
	v.SetDefault("archive.verify_uploads", false)
	v.SetDefault("archive.metadata_queue_size", 256)
	v.SetDefault("ledger.path", "data/archive_progress.db")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// bindEnvKeys registers every config key with viper. Unmarshal only sees
// keys viper knows about, and AutomaticEnv alone never teaches it a key
// that has no default and no config-file entry, so credentials and date
// overrides supplied purely through MINGPAO_* variables need explicit binds.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"ia.access_key",
		"ia.secret_key",
		"ia.endpoint",
		"ia.item_prefix",
		"source.base_url",
		"source.user_agent",
		"source.timeout_seconds",
		"archive.start_date",
		"archive.end_date",
		"archive.workers",
		"archive.max_retries",
		"archive.batch_days",
		"archive.verify_uploads",
		"archive.metadata_queue_size",
		"ledger.path",
		"server.enabled",
		"server.port",
		"logging.development",
		"logging.level",
	}
	for _, key := range keys {
		v.MustBindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.IA.AccessKey == "" || c.IA.SecretKey == "" {
		return fmt.Errorf("ia.access_key and ia.secret_key must be set")
	}
	if c.IA.Endpoint == "" {
		return fmt.Errorf("ia.endpoint must be set")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Archive.Workers <= 0 {
		return fmt.Errorf("archive.workers must be > 0")
	}
	if c.Archive.MaxRetries < 0 {
		return fmt.Errorf("archive.max_retries must be >= 0")
	}
	if c.Archive.BatchDays <= 0 {
		return fmt.Errorf("archive.batch_days must be > 0")
	}
	if c.Archive.MetadataQueueSize <= 0 {
		return fmt.Errorf("archive.metadata_queue_size must be > 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when server is enabled")
	}
	return nil
}

// SourceTimeout converts the configured fetch timeout into a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}
