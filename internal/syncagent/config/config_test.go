package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/offline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "environment: development\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/api/v1", cfg.API.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "leveldb", cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1", cfg.Control.Host)
	assert.Equal(t, 8787, cfg.Control.Port)

	qc, err := cfg.QueueConfig()
	require.NoError(t, err)
	assert.Equal(t, offline.DefaultConfig(), qc)
}

func TestLoadFile_Overrides(t *testing.T) {
	path := writeConfig(t, `
api:
  baseurl: https://agency.example.com/api/v1
  timeout: 3s
sync:
  maxretries: 5
  interval: 1m
  conflictstrategy: server
  entities: "lead, project"
storage:
  backend: s3
  endpoint: https://s3.example.com
  bucket: agency-sync
`)
	t.Setenv("AGENCY_SYNC_API_TOKEN", "bearer-from-env")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "bearer-from-env", cfg.API.Token)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)

	qc, err := cfg.QueueConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, qc.MaxRetries)
	assert.Equal(t, time.Minute, qc.SyncInterval)
	assert.Equal(t, offline.StrategyServer, qc.ConflictStrategy)
	assert.Equal(t, []offline.Entity{offline.EntityLead, offline.EntityProject}, qc.Entities)

	osc := cfg.ObjectStoreConfig()
	assert.Equal(t, "agency-sync", osc.Bucket)
	assert.Equal(t, "syncagent", osc.Prefix)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			API:     APIConfig{BaseURL: "http://api", Timeout: time.Second},
			Sync:    SyncConfig{MaxRetries: 3, Interval: time.Second, ProbeInterval: time.Second, ConflictStrategy: "merge"},
			Storage: StorageConfig{Backend: "leveldb", Path: "/tmp/sync"},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := map[string]func(c *Config){
		"missing base url":     func(c *Config) { c.API.BaseURL = "" },
		"zero interval":        func(c *Config) { c.Sync.Interval = 0 },
		"zero retries":         func(c *Config) { c.Sync.MaxRetries = 0 },
		"bad strategy":         func(c *Config) { c.Sync.ConflictStrategy = "newest" },
		"bad entity":           func(c *Config) { c.Sync.Entities = []string{"invoice"} },
		"unknown backend":      func(c *Config) { c.Storage.Backend = "sqlite" },
		"leveldb without path": func(c *Config) { c.Storage.Path = "" },
		"s3 without bucket":    func(c *Config) { c.Storage = StorageConfig{Backend: "s3", Endpoint: "http://s3"} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
