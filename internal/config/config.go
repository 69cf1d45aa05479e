/*
Copyright 2025 lhkeeper.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads keeper configuration in layers: struct defaults,
// then an optional YAML file, then KEEPER_-prefixed environment variables.
// Nested keys use a double underscore in the environment, e.g.
// KEEPER_JOBS__DAILY__CRON overrides jobs.daily.cron.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// DefaultConfigPaths lists where config files are searched, first hit wins.
var DefaultConfigPaths = []string{
	"keeper.yaml",
	"keeper.yml",
	"/etc/longhorn-keeper/keeper.yaml",
	"/etc/longhorn-keeper/keeper.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "KEEPER_CONFIG"

const envPrefix = "KEEPER_"

// Config is the full keeper configuration.
type Config struct {
	// Kubeconfig path; empty uses in-cluster config or the default loading
	// rules.
	Kubeconfig string `koanf:"kubeconfig"`

	// LonghornNamespace is where Longhorn keeps its objects.
	LonghornNamespace string `koanf:"longhorn_namespace"`

	Jobs    JobsConfig    `koanf:"jobs"`
	Restore RestoreConfig `koanf:"restore"`
	Offsite OffsiteConfig `koanf:"offsite"`
	Notify  NotifyConfig  `koanf:"notify"`
	Index   IndexConfig   `koanf:"index"`
}

// JobConfig configures one keeper-managed recurring job.
type JobConfig struct {
	Cron        string `koanf:"cron"`
	Retain      int    `koanf:"retain"`
	Concurrency int    `koanf:"concurrency"`
}

// JobsConfig holds both backup cadences.
type JobsConfig struct {
	Daily  JobConfig `koanf:"daily"`
	Weekly JobConfig `koanf:"weekly"`
}

// RestoreConfig tunes the restore planner.
type RestoreConfig struct {
	// FallbackSize is provisioned when no size can be resolved.
	FallbackSize string `koanf:"fallback_size"`
	// FallbackSizePolicy is "default" or "fail".
	FallbackSizePolicy string `koanf:"fallback_size_policy"`
	// Timeout bounds the wait for the restored claim to bind.
	Timeout time.Duration `koanf:"timeout"`
	// PollInterval between bound checks.
	PollInterval time.Duration `koanf:"poll_interval"`
}

// OffsiteConfig configures the offsite listing, sync and audit.
type OffsiteConfig struct {
	// Lister is "rclone" or "bucket".
	Lister string `koanf:"lister"`

	// Remote is the rclone remote, e.g. "b2-crypt:backups".
	Remote string `koanf:"remote"`
	// RcloneBinary path; empty means "rclone" on PATH.
	RcloneBinary string `koanf:"rclone_binary"`
	// LocalDir is the mounted backupstore directory synced to the remote.
	LocalDir string `koanf:"local_dir"`

	// SyncSchedule is the cron schedule the offsite sync runs on; the
	// audit grace period defaults to one interval of it.
	SyncSchedule string `koanf:"sync_schedule"`
	// GracePeriod overrides the derived grace period when non-zero.
	GracePeriod time.Duration `koanf:"grace_period"`

	// Direct bucket access, used when Lister is "bucket".
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	Insecure  bool   `koanf:"insecure"`
}

// NotifyConfig configures the notification sinks.
type NotifyConfig struct {
	WebhookURL        string `koanf:"webhook_url"`
	WebhookAuthHeader string `koanf:"webhook_auth_header"`
	PushgatewayURL    string `koanf:"pushgateway_url"`
	PushgatewayJob    string `koanf:"pushgateway_job"`
}

// IndexConfig configures the index writer.
type IndexConfig struct {
	Path string `koanf:"path"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		LonghornNamespace: "longhorn-system",
		Jobs: JobsConfig{
			Daily:  JobConfig{Cron: "0 2 * * *", Retain: 7, Concurrency: 2},
			Weekly: JobConfig{Cron: "0 3 * * 0", Retain: 4, Concurrency: 2},
		},
		Restore: RestoreConfig{
			FallbackSize:       "10Gi",
			FallbackSizePolicy: "default",
			Timeout:            600 * time.Second,
			PollInterval:       5 * time.Second,
		},
		Offsite: OffsiteConfig{
			Lister:       "rclone",
			SyncSchedule: "0 4 * * *",
		},
		Index: IndexConfig{
			Path: "backup-index.json",
		},
	}
}

// Load reads configuration from defaults, the given (or discovered) file
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cron expressions, enums and quantities.
func (c *Config) Validate() error {
	if c.LonghornNamespace == "" {
		return fmt.Errorf("longhorn_namespace must not be empty")
	}

	for name, job := range map[string]JobConfig{"jobs.daily": c.Jobs.Daily, "jobs.weekly": c.Jobs.Weekly} {
		if _, err := cron.ParseStandard(job.Cron); err != nil {
			return fmt.Errorf("%s.cron: %w", name, err)
		}
		if job.Retain < 1 {
			return fmt.Errorf("%s.retain must be at least 1", name)
		}
	}

	switch c.Restore.FallbackSizePolicy {
	case "default", "fail":
	default:
		return fmt.Errorf("restore.fallback_size_policy must be \"default\" or \"fail\", got %q", c.Restore.FallbackSizePolicy)
	}
	if _, err := resource.ParseQuantity(c.Restore.FallbackSize); err != nil {
		return fmt.Errorf("restore.fallback_size: %w", err)
	}
	if c.Restore.Timeout <= 0 {
		return fmt.Errorf("restore.timeout must be positive")
	}

	switch c.Offsite.Lister {
	case "rclone", "bucket":
	default:
		return fmt.Errorf("offsite.lister must be \"rclone\" or \"bucket\", got %q", c.Offsite.Lister)
	}
	if _, err := cron.ParseStandard(c.Offsite.SyncSchedule); err != nil {
		return fmt.Errorf("offsite.sync_schedule: %w", err)
	}

	return nil
}

// FallbackSizeQuantity returns the parsed fallback size. Validate must have
// succeeded.
func (c *Config) FallbackSizeQuantity() resource.Quantity {
	return resource.MustParse(c.Restore.FallbackSize)
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
