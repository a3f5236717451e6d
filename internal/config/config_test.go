package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	content := `
engine:
  type: static
network:
  poll_interval: "30s"
transition:
  startup_window: "5s"
  debounce: "250ms"
api:
  enabled: true
  listen: "127.0.0.1:9999"
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg := DefaultServiceConfig()
	err = Load(configFile, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "static", cfg.Engine.Type)
	assert.Equal(t, 30*time.Second, cfg.Network.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Transition.StartupWindow)
	assert.Equal(t, 250*time.Millisecond, cfg.Transition.Debounce)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	t.Setenv("HEIMDALL_API_TOKEN", "sekrit")
	content := `
api:
  enabled: true
  listen: "127.0.0.1:7390"
  token: "${HEIMDALL_API_TOKEN}"
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg := DefaultServiceConfig()
	err = Load(configFile, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "sekrit", cfg.API.Token)
}

func TestLoadMissingFile(t *testing.T) {
	var cfg ServiceConfig
	err := Load("/nonexistent/config.yaml", &cfg)
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	cfg := DefaultServiceConfig()
	cfg.API.Listen = "127.0.0.1:7777"
	cfg.Events.MaxEntries = 42

	err := Save(configFile, &cfg)
	require.NoError(t, err)

	// Config files may carry tokens; permissions must be restrictive.
	info, err := os.Stat(configFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	var reloaded ServiceConfig
	err = Load(configFile, &reloaded)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7777", reloaded.API.Listen)
	assert.Equal(t, 42, reloaded.Events.MaxEntries)
}

func TestServiceConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *ServiceConfig) {},
			wantErr: false,
		},
		{
			name: "unknown engine type",
			mutate: func(c *ServiceConfig) {
				c.Engine.Type = "openvpn"
			},
			wantErr: true,
		},
		{
			name: "bad api listen",
			mutate: func(c *ServiceConfig) {
				c.API.Listen = "not-an-address"
			},
			wantErr: true,
		},
		{
			name: "api disabled skips listen check",
			mutate: func(c *ServiceConfig) {
				c.API.Enabled = false
				c.API.Listen = "not-an-address"
			},
			wantErr: false,
		},
		{
			name: "negative debounce",
			mutate: func(c *ServiceConfig) {
				c.Transition.Debounce = -time.Second
			},
			wantErr: true,
		},
		{
			name: "negative event capacity",
			mutate: func(c *ServiceConfig) {
				c.Events.MaxEntries = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	var cfg ServiceConfig
	cfg.API.Enabled = true
	cfg.Metrics.Enabled = true

	err := cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "static", cfg.Engine.Type)
	assert.NotZero(t, cfg.Transition.StartupWindow)
	assert.NotZero(t, cfg.Reset.FailureThreshold)
	assert.Equal(t, "127.0.0.1:7390", cfg.API.Listen)
	assert.Equal(t, 500, cfg.Events.MaxEntries)
	assert.NotZero(t, cfg.Metrics.CollectionInterval)
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	content := `
transition:
  debounce: "-5s"
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg := DefaultServiceConfig()
	err = LoadAndValidate(configFile, &cfg)
	assert.Error(t, err)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	err := os.WriteFile(configFile, []byte("api:\n  enabled: true\n"), 0600)
	require.NoError(t, err)

	backupPath, err := Backup(configFile)
	require.NoError(t, err)
	assert.FileExists(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "enabled: true")
}

func TestDurationYAML(t *testing.T) {
	var out struct {
		Interval Duration `yaml:"interval"`
	}
	err := yaml.Unmarshal([]byte(`interval: "1m30s"`), &out)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, out.Interval.Duration())

	data, err := yaml.Marshal(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1m30s")
}

func TestDurationJSON(t *testing.T) {
	var out struct {
		Interval Duration `json:"interval"`
	}
	err := json.Unmarshal([]byte(`{"interval": "45s"}`), &out)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, out.Interval.Duration())

	data, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval": "45s"}`, string(data))
}

func TestDefaultTemplateParses(t *testing.T) {
	cfg := DefaultServiceConfig()
	err := yaml.Unmarshal([]byte(DefaultServiceConfigTemplate), &cfg)
	require.NoError(t, err)

	err = cfg.Validate()
	require.NoError(t, err)

	assert.Equal(t, "static", cfg.Engine.Type)
	assert.Equal(t, 3*time.Second, cfg.Transition.StartupWindow)
	assert.Equal(t, 5*time.Second, cfg.LinkHealth.GraceDelay)
	assert.Equal(t, 3, cfg.Reset.FailureThreshold)
}
