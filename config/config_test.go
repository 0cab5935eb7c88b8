package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bastion/core"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadFrom(viper.New())
	require.NoError(t, err)
	return cfg
}

// TestLoad_Defaults verifies a config loaded with no file and no env
// vars is complete and valid.
func TestLoad_Defaults(t *testing.T) {
	cfg := loadDefaults(t)

	global, ok := cfg.RateLimit.Tiers["global"]
	require.True(t, ok, "global tier is always configured")
	assert.Equal(t, 10000, global.Limit)
	assert.Equal(t, time.Second, global.Window)
	assert.Equal(t, 100, cfg.RateLimit.Tiers["user"].Limit)
	assert.Equal(t, 0.5, cfg.RateLimit.Pressure.ReductionFactor)

	assert.Equal(t, 80.0, cfg.Session.HighRiskThreshold)
	assert.Equal(t, 50.0, cfg.Session.MediumRiskThreshold)

	assert.Len(t, cfg.Compliance.Frameworks, 4)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, 8085, cfg.API.Port)
}

// TestLoad_ConfigFileOverridesDefaults verifies file values win over
// defaults while untouched keys keep theirs.
func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	doc := `
rate_limit:
  tiers:
    user:
      limit: 42
      window: 30s
session:
  high_risk_threshold: 90
api:
  port: 9090
`
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	cfg, err := loadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.RateLimit.Tiers["user"].Limit)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Tiers["user"].Window)
	assert.Equal(t, 90.0, cfg.Session.HighRiskThreshold)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 10000, cfg.RateLimit.Tiers["global"].Limit, "defaults survive partial files")
}

// TestLoad_EnvOverride verifies BASTION_* environment variables take
// effect.
func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BASTION_API_PORT", "7070")
	t.Setenv("BASTION_REDIS_ADDR", "redis.internal:6379")

	cfg, err := loadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.API.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

// TestLoad_MalformedFileFails verifies an unreadable config file is a
// hard error rather than a silent fallback to defaults.
func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit: [not: a map"), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	_, err := loadFrom(v)
	assert.ErrorIs(t, err, core.ErrConfigurationInvalid)
}

// TestConfig_Validate covers the cross-field rejection paths.
func TestConfig_Validate(t *testing.T) {
	t.Run("missing global tier", func(t *testing.T) {
		cfg := loadDefaults(t)
		delete(cfg.RateLimit.Tiers, "global")
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("unknown tier name", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.RateLimit.Tiers["tenant"] = TierLimit{Limit: 10, Window: time.Minute}
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("inverted risk thresholds", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Session.HighRiskThreshold = 40
		cfg.Session.MediumRiskThreshold = 60
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("unknown framework", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Compliance.Frameworks = append(cfg.Compliance.Frameworks, "HIPAA")
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("notify enabled without webhook", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Notify.Enabled = true
		cfg.Notify.WebhookURL = ""
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("redis enabled without addr", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = ""
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})

	t.Run("zero window rejected by tags", func(t *testing.T) {
		cfg := loadDefaults(t)
		cfg.RateLimit.Tiers["user"] = TierLimit{Limit: 10, Window: 0}
		assert.ErrorIs(t, cfg.Validate(), core.ErrConfigurationInvalid)
	})
}

// TestConfig_Frameworks verifies the typed conversion of enabled
// framework names.
func TestConfig_Frameworks(t *testing.T) {
	cfg := loadDefaults(t)
	cfg.Compliance.Frameworks = []string{"GDPR", "SOX"}
	assert.Equal(t, []core.Framework{core.FrameworkGDPR, core.FrameworkSOX}, cfg.Frameworks())
}
