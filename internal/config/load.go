package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"catalog-sync-service/internal/catalog"
)

// EnvPrefix prefixes every environment override, e.g. CATALOG_REMOTE_ACCESS_TOKEN.
const EnvPrefix = "CATALOG"

// LoadConfig reads the YAML file at path (optional), then .env and CATALOG_* overrides.
func LoadConfig(path string) (*Config, error) {
	// Real environment variables still win over .env
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("remote.base_url", "https://connect.squareup.com")
	v.SetDefault("remote.api_version", "2025-01-23")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.location_id", "")

	v.SetDefault("store.file_path", "catalog.db")

	v.SetDefault("sync.object_types", catalog.TypeNames(catalog.AllTypes))
	v.SetDefault("sync.max_pages", 100)
	v.SetDefault("sync.page_retry.max_attempts", 3)
	v.SetDefault("sync.page_retry.base_delay", "1s")
	v.SetDefault("sync.page_retry.max_delay", "30s")
	v.SetDefault("sync.page_retry.timeout", "60s")
	v.SetDefault("sync.write_retry.max_attempts", 3)
	v.SetDefault("sync.write_retry.base_delay", "500ms")
	v.SetDefault("sync.write_retry.max_delay", "10s")
	v.SetDefault("sync.write_retry.timeout", "30s")
	v.SetDefault("sync.prune_missing", true)
	v.SetDefault("sync.notification_batch_window", "2s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 15m")
	v.SetDefault("scheduler.initial_sync", true)

	v.SetDefault("dedup.ttl", "30s")
	v.SetDefault("dedup.size", 1024)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.webhook_secret", "")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		problems = append(problems, "remote.base_url must be set")
	}
	if c.Store.FilePath == "" {
		problems = append(problems, "store.file_path must be set")
	}
	if c.Sync.MaxPages <= 0 {
		problems = append(problems, "sync.max_pages must be positive")
	}
	retries := []struct {
		name string
		cfg  RetryConfig
	}{
		{"sync.page_retry", c.Sync.PageRetry},
		{"sync.write_retry", c.Sync.WriteRetry},
	}
	for _, r := range retries {
		if r.cfg.MaxAttempts < 1 {
			problems = append(problems, r.name+".max_attempts must be at least 1")
		}
		if r.cfg.BaseDelay > r.cfg.MaxDelay {
			problems = append(problems, r.name+".base_delay must not exceed max_delay")
		}
	}
	if _, err := catalog.ParseTypes(c.Sync.ObjectTypes); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Dedup.Size <= 0 {
		problems = append(problems, "dedup.size must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
