package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type appConfig struct {
	HTTPAddr        string        `mapstructure:"http-addr"`
	DataDir         string        `mapstructure:"data-dir"`
	MaxSegmentBytes int64         `mapstructure:"max-segment-bytes"`
	MaxSegmentAge   time.Duration `mapstructure:"max-segment-age"`
	RotationCheck   time.Duration `mapstructure:"rotation-check-interval"`
	CompressAfter   time.Duration `mapstructure:"compress-after"`
	CompactInterval time.Duration `mapstructure:"compact-interval"`
	SweepInterval   time.Duration `mapstructure:"sweep-interval"`
	RetentionDays   int           `mapstructure:"retention-days"`
	ArchiveDays     int           `mapstructure:"archive-retention-days"`
	RetentionFile   string        `mapstructure:"retention-policy-file"`
	MaxBatch        int           `mapstructure:"max-batch"`
	AuthEnabled     bool          `mapstructure:"auth-enabled"`
	MasterKeyFile   string        `mapstructure:"master-key-file"`
	KeystoreFile    string        `mapstructure:"keystore-file"`
	ProducerTimeout time.Duration `mapstructure:"producer-stale-timeout"`
	LogLevel        string        `mapstructure:"log-level"`
	LogFormat       string        `mapstructure:"log-format"`

	ConfigPath string `mapstructure:"-"`
}

// loadConfig resolves settings from defaults, an optional YAML file, and
// LOGHARBOR_* environment variables, in rising precedence.
func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	v := viper.New()
	v.SetEnvPrefix("LOGHARBOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("http-addr", ":8080")
	v.SetDefault("data-dir", "./logharbor-data")
	v.SetDefault("max-segment-bytes", int64(8<<20))
	v.SetDefault("max-segment-age", 24*time.Hour)
	v.SetDefault("rotation-check-interval", time.Minute)
	v.SetDefault("compress-after", 24*time.Hour)
	v.SetDefault("compact-interval", 15*time.Minute)
	v.SetDefault("sweep-interval", time.Hour)
	v.SetDefault("retention-days", 90)
	v.SetDefault("archive-retention-days", 365)
	v.SetDefault("retention-policy-file", "")
	v.SetDefault("max-batch", 100)
	v.SetDefault("auth-enabled", false)
	v.SetDefault("master-key-file", "")
	v.SetDefault("keystore-file", "")
	v.SetDefault("producer-stale-timeout", 15*time.Minute)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")

	if configPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".config", "logharbor", "config.yml")
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if cfg.DataDir == "" {
		return cfg, fmt.Errorf("data-dir must not be empty")
	}
	if cfg.RetentionDays < 0 || cfg.ArchiveDays < 0 {
		return cfg, fmt.Errorf("retention days must not be negative")
	}
	return cfg, nil
}

// segmentsDir keeps log segments separate from the key material at the
// data directory root.
func segmentsDir(cfg appConfig) string {
	return filepath.Join(cfg.DataDir, "segments")
}

func masterKeyPath(cfg appConfig) string {
	if cfg.MasterKeyFile != "" {
		return cfg.MasterKeyFile
	}
	return filepath.Join(cfg.DataDir, "master.key")
}

func keystorePath(cfg appConfig) string {
	if cfg.KeystoreFile != "" {
		return cfg.KeystoreFile
	}
	return filepath.Join(cfg.DataDir, "keys.enc")
}
