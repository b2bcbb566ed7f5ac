package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "NETLAUNCH"

// Config holds all launcher configuration.
type Config struct {
	DeploymentFile string `envconfig:"DEPLOYMENT_FILE" toml:"-"`

	Security SecurityConfig `toml:"security"`
	Launch   LaunchConfig   `toml:"launch"`
	Cache    CacheConfig    `toml:"cache"`
	Trust    TrustConfig    `toml:"trust"`
	Server   ServerConfig   `toml:"server"`
	Logging  LogConfig      `toml:"logging"`
}

// SecurityConfig controls sandboxing and trust decisions.
type SecurityConfig struct {
	// Enabled installs the security manager. Disabling it runs every
	// application with all permissions and is meant for debugging only.
	Enabled bool `envconfig:"ENABLED" default:"true" toml:"enabled"`
	// TrustAll answers every prompt with "allow". Automated testing only.
	TrustAll bool `envconfig:"TRUST_ALL" default:"false" toml:"trust_all"`
	// TrustNone answers every prompt with "deny".
	TrustNone bool `envconfig:"TRUST_NONE" default:"false" toml:"trust_none"`
	// Level is one of ALLOW_UNSIGNED, ASK_UNSIGNED, DENY_UNSIGNED.
	Level string `envconfig:"LEVEL" default:"ASK_UNSIGNED" toml:"level"`
	// ManifestChecks is ALL, NONE, or a comma list of
	// PERMISSIONS, CODEBASE, TRUSTED, ALAC, ENTRYPOINT.
	ManifestChecks string `envconfig:"MANIFEST_CHECKS" default:"ALL" toml:"manifest_checks"`
	// CustomTrustedPolicy caps all-permissions code to the permissions listed
	// in this YAML file.
	CustomTrustedPolicy string `envconfig:"CUSTOM_TRUSTED_POLICY" toml:"custom_trusted_policy"`
	// GrantWindowPermissions lets sandboxed code open windows without the
	// warning banner.
	GrantWindowPermissions bool `envconfig:"GRANT_WINDOW_PERMISSIONS" default:"false" toml:"grant_window_permissions"`
	// StrictParts downloads every jar of a part as soon as one of them is
	// needed.
	StrictParts bool `envconfig:"STRICT_PARTS" default:"false" toml:"strict_parts"`
}

// LaunchConfig controls how applications are started and stopped.
type LaunchConfig struct {
	// ForkingStrategy is one of NEVER, ALWAYS, IF_DESCRIPTOR_REQUIRES.
	ForkingStrategy   string        `envconfig:"FORKING_STRATEGY" default:"IF_DESCRIPTOR_REQUIRES" toml:"forking_strategy"`
	PropertyBlacklist []string      `envconfig:"PROPERTY_BLACKLIST" default:"java.home,user.home,user.dir,netlaunch.cache.dir" toml:"property_blacklist"`
	StopGrace         time.Duration `envconfig:"STOP_GRACE" default:"2s" toml:"stop_grace"`
	DesktopDir        string        `envconfig:"DESKTOP_DIR" toml:"desktop_dir"`
}

// CacheConfig controls the resource cache and its HTTP fetcher.
type CacheConfig struct {
	Dir          string        `envconfig:"DIR" toml:"dir"`
	Timeout      time.Duration `envconfig:"TIMEOUT" default:"30s" toml:"timeout"`
	RetryMax     int           `envconfig:"RETRY_MAX" default:"3" toml:"retry_max"`
	RequestsPerS float64       `envconfig:"RPS" default:"0" toml:"requests_per_second"`
	UserAgent    string        `envconfig:"USER_AGENT" default:"netlaunch/1.0" toml:"user_agent"`
}

// TrustConfig locates certificate and key material.
type TrustConfig struct {
	SystemStoreDir   string `envconfig:"SYSTEM_STORE_DIR" toml:"system_store_dir"`
	UserStoreDir     string `envconfig:"USER_STORE_DIR" toml:"user_store_dir"`
	KeystorePath     string `envconfig:"KEYSTORE_PATH" toml:"keystore_path"`
	KeystorePassword string `envconfig:"KEYSTORE_PASSWORD" toml:"-"`
	UseSystemRoots   bool   `envconfig:"USE_SYSTEM_ROOTS" default:"true" toml:"use_system_roots"`
	// Proxy settings; empty values fall back to the standard environment
	// variables.
	HTTPProxy  string `envconfig:"HTTP_PROXY" toml:"http_proxy"`
	HTTPSProxy string `envconfig:"HTTPS_PROXY" toml:"https_proxy"`
	NoProxy    string `envconfig:"NO_PROXY" toml:"no_proxy"`
}

// ServerConfig holds control API configuration.
type ServerConfig struct {
	Enabled bool   `envconfig:"ENABLED" default:"false" toml:"enabled"`
	Host    string `envconfig:"HOST" default:"127.0.0.1" toml:"host"`
	Port    string `envconfig:"PORT" default:"8700" toml:"port"`
	// AllowOrigins lists browser origins allowed to call the API. A single
	// * inside an origin matches any port or subdomain.
	AllowOrigins []string `envconfig:"ALLOW_ORIGINS" default:"http://localhost:*,http://127.0.0.1:*" toml:"allow_origins"`
	// RequestsPerSecond and Burst rate limit each client address; zero
	// disables limiting.
	RequestsPerSecond int `envconfig:"RPS" default:"20" toml:"requests_per_second"`
	Burst             int `envconfig:"BURST" default:"40" toml:"burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"DEV" default:"false" toml:"development"`
}

var (
	securityLevels   = []string{"ALLOW_UNSIGNED", "ASK_UNSIGNED", "DENY_UNSIGNED"}
	forkingValues    = []string{"NEVER", "ALWAYS", "IF_DESCRIPTOR_REQUIRES"}
	manifestCheckSet = []string{"PERMISSIONS", "CODEBASE", "TRUSTED", "ALAC", "ENTRYPOINT"}
)

// Load reads the environment, then overlays the deployment file if one is
// configured.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DeploymentFile != "" {
		if err := cfg.overlay(cfg.DeploymentFile); err != nil {
			return nil, err
		}
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	cfg := &Config{
		Security: SecurityConfig{
			Enabled:        true,
			Level:          "ASK_UNSIGNED",
			ManifestChecks: "ALL",
		},
		Launch: LaunchConfig{
			ForkingStrategy:   "IF_DESCRIPTOR_REQUIRES",
			PropertyBlacklist: []string{"java.home", "user.home", "user.dir", "netlaunch.cache.dir"},
			StopGrace:         2 * time.Second,
		},
		Cache: CacheConfig{
			Timeout:   30 * time.Second,
			RetryMax:  3,
			UserAgent: "netlaunch/1.0",
		},
		Trust: TrustConfig{
			UseSystemRoots: true,
		},
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              "8700",
			AllowOrigins:      []string{"http://localhost:*", "http://127.0.0.1:*"},
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
	cfg.fillPaths()
	return cfg
}

// overlay decodes a TOML deployment file over the current values.
func (c *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read deployment file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse deployment file %s: %w", path, err)
	}
	return nil
}

func (c *Config) fillPaths() {
	if c.Cache.Dir != "" && c.Launch.DesktopDir != "" {
		return
	}
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = base + string(os.PathSeparator) + "netlaunch" + string(os.PathSeparator) + "cache"
	}
	if c.Launch.DesktopDir == "" {
		c.Launch.DesktopDir = base + string(os.PathSeparator) + "netlaunch" + string(os.PathSeparator) + "desktop"
	}
}

// Validate checks enumerated values.
func (c *Config) Validate() error {
	if !slices.Contains(securityLevels, strings.ToUpper(c.Security.Level)) {
		return fmt.Errorf("invalid security level %q", c.Security.Level)
	}
	if !slices.Contains(forkingValues, strings.ToUpper(c.Launch.ForkingStrategy)) {
		return fmt.Errorf("invalid forking strategy %q", c.Launch.ForkingStrategy)
	}
	if c.Security.TrustAll && c.Security.TrustNone {
		return fmt.Errorf("trust-all and trust-none are mutually exclusive")
	}
	checks := strings.ToUpper(strings.TrimSpace(c.Security.ManifestChecks))
	if checks == "ALL" || checks == "NONE" || checks == "" {
		return nil
	}
	for _, part := range strings.Split(checks, ",") {
		if !slices.Contains(manifestCheckSet, strings.TrimSpace(part)) {
			return fmt.Errorf("invalid manifest check %q", part)
		}
	}
	return nil
}

// Blacklisted reports whether a descriptor may not set the given property.
func (c *LaunchConfig) Blacklisted(key string) bool {
	return slices.Contains(c.PropertyBlacklist, key)
}
