package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("STATION_REMOTE_BASE_URL", "http://data.example.com")
	t.Setenv("STATION_REMOTE_SERVICE_KEY", "key-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "equiptrack-station", cfg.App.Name)
	assert.Equal(t, "http://data.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, "key-from-env", cfg.Remote.ServiceKey)
	assert.Equal(t, 35*time.Millisecond, cfg.Scan.InterKeyTimeout)
	assert.Equal(t, 4, cfg.Scan.MinLength)
	assert.Equal(t, []string{"Enter", "Tab"}, cfg.Scan.SuffixKeys)
	assert.Equal(t, 25*time.Second, cfg.Workflow.IdleReset)
	assert.Equal(t, 300*time.Millisecond, cfg.Workflow.ScanCooldown)
	assert.Equal(t, 1500*time.Millisecond, cfg.Workflow.RepeatWindow)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Cache:  CacheConfig{Path: "x.db"},
			Remote: RemoteConfig{BaseURL: "http://x"},
			Scan:   ScanConfig{MinLength: 4},
			Workflow: WorkflowConfig{
				ScanCooldown: 300 * time.Millisecond,
				RepeatWindow: 1500 * time.Millisecond,
			},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing base url", func(t *testing.T) {
		c := base()
		c.Remote.BaseURL = ""
		assert.Error(t, c.Validate())
	})

	t.Run("cooldown above repeat window", func(t *testing.T) {
		c := base()
		c.Workflow.ScanCooldown = 2 * time.Second
		assert.Error(t, c.Validate())
	})
}
