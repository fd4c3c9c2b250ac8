package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxRecords       = 10000
	DefaultPageSize         = 200
	DefaultDryRunSampleSize = 5
)

type FetchConfig struct {
	PageSize              int   `koanf:"page_size" mapstructure:"page_size"`
	MaxRecords            int   `koanf:"max_records" mapstructure:"max_records"`
	RequestTimeoutSeconds int   `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxResponseBytes      int64 `koanf:"max_response_bytes" mapstructure:"max_response_bytes"`
	MaxRetries            int   `koanf:"max_retries" mapstructure:"max_retries"`
	MaxWaitSeconds        int   `koanf:"max_wait_seconds" mapstructure:"max_wait_seconds"`
}

func (c FetchConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c FetchConfig) MaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

type ImportConfig struct {
	DryRunSampleSize int  `koanf:"dry_run_sample_size" mapstructure:"dry_run_sample_size"`
	StrictTransforms bool `koanf:"strict_transforms" mapstructure:"strict_transforms"`
	LeaseTTLSeconds  int  `koanf:"lease_ttl_seconds" mapstructure:"lease_ttl_seconds"`
	ProgressInterval int  `koanf:"progress_interval" mapstructure:"progress_interval"`
}

func (c ImportConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

type PreviewConfig struct {
	CloudIdPSampleSize  int `koanf:"cloud_idp_sample_size" mapstructure:"cloud_idp_sample_size"`
	CustomURLSampleSize int `koanf:"custom_url_sample_size" mapstructure:"custom_url_sample_size"`
}

type QueueConfig struct {
	Workers     int `koanf:"workers" mapstructure:"workers"`
	Buffer      int `koanf:"buffer" mapstructure:"buffer"`
	MaxAttempts int `koanf:"max_attempts" mapstructure:"max_attempts"`
}

type SchedulerConfig struct {
	Enabled         bool `koanf:"enabled" mapstructure:"enabled"`
	IntervalSeconds int  `koanf:"interval_seconds" mapstructure:"interval_seconds"`
}

func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Fetch       FetchConfig     `koanf:"fetch" mapstructure:"fetch"`
	Import      ImportConfig    `koanf:"import" mapstructure:"import"`
	Preview     PreviewConfig   `koanf:"preview" mapstructure:"preview"`
	Queue       QueueConfig     `koanf:"queue" mapstructure:"queue"`
	Scheduler   SchedulerConfig `koanf:"scheduler" mapstructure:"scheduler"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "identity-sync",
		Fetch: FetchConfig{
			PageSize:              DefaultPageSize,
			MaxRecords:            DefaultMaxRecords,
			RequestTimeoutSeconds: 30,
			MaxResponseBytes:      10 << 20,
			MaxRetries:            3,
			MaxWaitSeconds:        60,
		},
		Import: ImportConfig{
			DryRunSampleSize: DefaultDryRunSampleSize,
			LeaseTTLSeconds:  1800,
			ProgressInterval: 50,
		},
		Preview: PreviewConfig{
			CloudIdPSampleSize:  20,
			CustomURLSampleSize: 5,
		},
		Queue: QueueConfig{
			Workers:     1,
			Buffer:      64,
			MaxAttempts: 3,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 60,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Fetch.PageSize <= 0 {
		return fmt.Errorf("core: fetch.page_size must be positive")
	}
	if c.Fetch.MaxRecords <= 0 {
		return fmt.Errorf("core: fetch.max_records must be positive")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("core: fetch.max_retries must not be negative")
	}
	if c.Import.DryRunSampleSize < 0 {
		return fmt.Errorf("core: import.dry_run_sample_size must not be negative")
	}
	if c.Import.LeaseTTLSeconds <= 0 {
		return fmt.Errorf("core: import.lease_ttl_seconds must be positive")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("core: queue.workers must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("core: scheduler.interval_seconds must be positive when the scheduler is enabled")
	}
	return nil
}
