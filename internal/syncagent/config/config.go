package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/offline"
)

var ErrInvalidConfig = errors.New("invalid sync agent config")

type Config struct {
	Environment string
	API         APIConfig
	Sync        SyncConfig
	Storage     StorageConfig
	Control     ControlConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

type APIConfig struct {
	BaseURL   string
	HealthURL string
	Token     string
	Timeout   time.Duration
}

type SyncConfig struct {
	MaxRetries       int
	Interval         time.Duration
	ConflictStrategy string
	Entities         []string
	ProbeInterval    time.Duration
}

type StorageConfig struct {
	Backend   string
	Path      string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

type ControlConfig struct {
	Host string
	Port int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("syncagent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	return load(v)
}

func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("AGENCY_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: api.baseurl is required", ErrInvalidConfig)
	}
	if c.API.Timeout <= 0 || c.Sync.Interval <= 0 || c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("%w: api timeout and sync intervals must be positive", ErrInvalidConfig)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("%w: sync.maxretries must be positive", ErrInvalidConfig)
	}
	if _, err := c.QueueConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Storage.Backend {
	case "leveldb":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for leveldb", ErrInvalidConfig)
		}
	case "s3":
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return fmt.Errorf("%w: storage.endpoint and storage.bucket are required for s3", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	return nil
}

// QueueConfig converts the sync section into typed queue settings.
func (c *Config) QueueConfig() (offline.Config, error) {
	strategy, err := offline.ParseConflictStrategy(c.Sync.ConflictStrategy)
	if err != nil {
		return offline.Config{}, err
	}

	entities := make([]offline.Entity, 0, len(c.Sync.Entities))
	for _, name := range c.Sync.Entities {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		e, err := offline.ParseEntity(name)
		if err != nil {
			return offline.Config{}, err
		}
		entities = append(entities, e)
	}

	return offline.Config{
		MaxRetries:       c.Sync.MaxRetries,
		SyncInterval:     c.Sync.Interval,
		ConflictStrategy: strategy,
		Entities:         entities,
	}, nil
}

func (c *Config) ObjectStoreConfig() offline.ObjectStoreConfig {
	return offline.ObjectStoreConfig{
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		Bucket:    c.Storage.Bucket,
		Prefix:    c.Storage.Prefix,
		UseSSL:    c.Storage.UseSSL,
		Region:    c.Storage.Region,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("api.baseurl", "http://127.0.0.1:8080/api/v1")
	v.SetDefault("api.healthurl", "http://127.0.0.1:8080/api/healthz")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", "10s")

	v.SetDefault("sync.maxretries", 3)
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.conflictstrategy", "merge")
	v.SetDefault("sync.entities", []string{"customer", "lead", "project", "message", "communication"})
	v.SetDefault("sync.probeinterval", "10s")

	v.SetDefault("storage.backend", "leveldb")
	v.SetDefault("storage.path", "./data/sync")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "syncagent")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "")

	v.SetDefault("control.host", "127.0.0.1")
	v.SetDefault("control.port", 8787)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
}
