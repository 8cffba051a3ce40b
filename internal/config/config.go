package config

import (
	"time"
)

type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RemoteConfig describes the remote catalog API.
type RemoteConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIVersion  string        `mapstructure:"api_version"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
	LocationID  string        `mapstructure:"location_id"`
}

type StoreConfig struct {
	FilePath string `mapstructure:"file_path"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	ObjectTypes             []string      `mapstructure:"object_types"`
	MaxPages                int           `mapstructure:"max_pages"`
	PageRetry               RetryConfig   `mapstructure:"page_retry"`
	WriteRetry              RetryConfig   `mapstructure:"write_retry"`
	PruneMissing            bool          `mapstructure:"prune_missing"`
	NotificationBatchWindow time.Duration `mapstructure:"notification_batch_window"`
}

type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Interval    string `mapstructure:"interval"`
	InitialSync bool   `mapstructure:"initial_sync"`
}

// DedupConfig sizes the ledger of object IDs written by this client.
type DedupConfig struct {
	TTL  time.Duration `mapstructure:"ttl"`
	Size int           `mapstructure:"size"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	Host          string `mapstructure:"host"`
	AuthToken     string `mapstructure:"auth_token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
