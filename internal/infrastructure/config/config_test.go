package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Security.Enabled)
	assert.False(t, cfg.Security.TrustAll)
	assert.Equal(t, "ASK_UNSIGNED", cfg.Security.Level)
	assert.Equal(t, "ALL", cfg.Security.ManifestChecks)
	assert.Equal(t, "IF_DESCRIPTOR_REQUIRES", cfg.Launch.ForkingStrategy)
	assert.Equal(t, 2*time.Second, cfg.Launch.StopGrace)
	assert.Equal(t, 3, cfg.Cache.RetryMax)
	assert.NotEmpty(t, cfg.Cache.Dir)
	assert.Equal(t, "8700", cfg.Server.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	setEnv(t, map[string]string{
		"NETLAUNCH_SECURITY_TRUST_NONE":       "true",
		"NETLAUNCH_SECURITY_LEVEL":            "DENY_UNSIGNED",
		"NETLAUNCH_SECURITY_MANIFEST_CHECKS":  "TRUSTED,ALAC",
		"NETLAUNCH_LAUNCH_FORKING_STRATEGY":   "NEVER",
		"NETLAUNCH_LAUNCH_PROPERTY_BLACKLIST": "a.b,c.d",
		"NETLAUNCH_LAUNCH_STOP_GRACE":         "500ms",
		"NETLAUNCH_CACHE_DIR":                 "/tmp/netlaunch-test",
		"NETLAUNCH_LOGGING_LEVEL":             "debug",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Security.TrustNone)
	assert.Equal(t, "DENY_UNSIGNED", cfg.Security.Level)
	assert.Equal(t, "TRUSTED,ALAC", cfg.Security.ManifestChecks)
	assert.Equal(t, "NEVER", cfg.Launch.ForkingStrategy)
	assert.Equal(t, []string{"a.b", "c.d"}, cfg.Launch.PropertyBlacklist)
	assert.Equal(t, 500*time.Millisecond, cfg.Launch.StopGrace)
	assert.Equal(t, "/tmp/netlaunch-test", cfg.Cache.Dir)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"level", map[string]string{"NETLAUNCH_SECURITY_LEVEL": "YOLO"}},
		{"forking", map[string]string{"NETLAUNCH_LAUNCH_FORKING_STRATEGY": "SOMETIMES"}},
		{"checks", map[string]string{"NETLAUNCH_SECURITY_MANIFEST_CHECKS": "TRUSTED,BOGUS"}},
		{"trust", map[string]string{
			"NETLAUNCH_SECURITY_TRUST_ALL":  "true",
			"NETLAUNCH_SECURITY_TRUST_NONE": "true",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestDeploymentFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployment.toml")
	content := `
[security]
level = "ALLOW_UNSIGNED"
manifest_checks = "NONE"

[launch]
forking_strategy = "ALWAYS"
property_blacklist = ["secret.key"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	setEnv(t, map[string]string{
		"NETLAUNCH_DEPLOYMENT_FILE": path,
		"NETLAUNCH_SECURITY_LEVEL":  "DENY_UNSIGNED",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ALLOW_UNSIGNED", cfg.Security.Level)
	assert.Equal(t, "NONE", cfg.Security.ManifestChecks)
	assert.Equal(t, "ALWAYS", cfg.Launch.ForkingStrategy)
	assert.True(t, cfg.Launch.Blacklisted("secret.key"))
	assert.False(t, cfg.Launch.Blacklisted("java.home"))
	assert.True(t, cfg.Security.Enabled)
}

func TestDeploymentFileMissing(t *testing.T) {
	setEnv(t, map[string]string{
		"NETLAUNCH_DEPLOYMENT_FILE": filepath.Join(t.TempDir(), "absent.toml"),
	})
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	setEnv(t, map[string]string{"NETLAUNCH_SECURITY_LEVEL": "YOLO"})
	cfg := LoadOrDefault()
	assert.Equal(t, "ASK_UNSIGNED", cfg.Security.Level)
}
