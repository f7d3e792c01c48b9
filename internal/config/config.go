// Package config provides YAML-based configuration loading for Gambit.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Gambit configuration, loaded from gambit.yaml.
type Config struct {
	Provider  ProviderConfig  `yaml:"provider"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Sync      SyncConfig      `yaml:"sync"`
	Registry  RegistryConfig  `yaml:"registry"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Notify    NotifyConfig    `yaml:"notify"`
	DB        DBConfig        `yaml:"db"`
	Paths     PathsConfig     `yaml:"paths"`
}

// ProviderConfig holds connection and provisioning settings for the compute
// provider API.
type ProviderConfig struct {
	BaseURL       string   `yaml:"base_url"`
	APIKeyEnv     string   `yaml:"api_key_env"`
	SnapshotID    string   `yaml:"snapshot_id"`
	InstanceID    string   `yaml:"instance_id"`
	VCPUs         int      `yaml:"vcpus"`
	MemoryMB      int      `yaml:"memory_mb"`
	DiskMB        int      `yaml:"disk_mb"`
	SetupCommands []string `yaml:"setup_commands"`
}

// FleetConfig describes the set of games to run. MaxGames is the provider
// capacity ceiling: a run asking for more clones than this is refused before
// any resource is provisioned.
type FleetConfig struct {
	Games     int      `yaml:"games"`
	MaxGames  int      `yaml:"max_games"`
	Roles     []string `yaml:"roles"`
	Moves     int      `yaml:"moves"`
	RemoteDir string   `yaml:"remote_dir"`
}

// SyncConfig holds the per-worker replication thresholds. Durations are Go
// duration strings (e.g. "500ms", "20s").
type SyncConfig struct {
	PollInterval      string `yaml:"poll_interval"`
	InactivityTimeout string `yaml:"inactivity_timeout"`
	MaxUnchanged      int    `yaml:"max_unchanged"`
	Deadline          string `yaml:"deadline"`
}

// PollEvery returns the parsed poll interval.
func (s SyncConfig) PollEvery() time.Duration { return mustDuration(s.PollInterval) }

// Inactivity returns the parsed inactivity window.
func (s SyncConfig) Inactivity() time.Duration { return mustDuration(s.InactivityTimeout) }

// RunDeadline returns the parsed overall replication deadline.
func (s SyncConfig) RunDeadline() time.Duration { return mustDuration(s.Deadline) }

// RegistryConfig controls presentation-layer visibility.
type RegistryConfig struct {
	VisibilityTimeout string `yaml:"visibility_timeout"`
	PruneSchedule     string `yaml:"prune_schedule"`
	RefreshInterval   string `yaml:"refresh_interval"`
}

// Visibility returns the parsed visibility timeout.
func (r RegistryConfig) Visibility() time.Duration { return mustDuration(r.VisibilityTimeout) }

// Refresh returns the parsed presenter refresh interval.
func (r RegistryConfig) Refresh() time.Duration { return mustDuration(r.RefreshInterval) }

// DashboardConfig holds the HTTP dashboard settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// NotifyConfig configures optional run-summary notifications.
type NotifyConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack notifier settings. The bot token is read from the
// environment variable named by BotTokenEnv, never from the file itself.
type SlackConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	ChannelID   string `yaml:"channel_id"`
}

// DiscordConfig holds Discord notifier settings.
type DiscordConfig struct {
	TokenEnv  string `yaml:"token_env"`
	ChannelID string `yaml:"channel_id"`
}

// DBConfig selects the fleet-state database: a local sqlite file by default,
// or a shared MySQL server.
type DBConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
}

// PathsConfig holds local filesystem layout settings.
type PathsConfig struct {
	PublishDir string `yaml:"publish_dir"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// APIKey resolves the provider API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// RoleFor returns the role tag for worker index i, cycling through the
// configured roles when there are more games than roles.
func (c *Config) RoleFor(i int) string {
	return c.Fleet.Roles[i%len(c.Fleet.Roles)]
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = "GAMBIT_API_KEY"
	}
	if c.Provider.VCPUs == 0 {
		c.Provider.VCPUs = 1
	}
	if c.Provider.MemoryMB == 0 {
		c.Provider.MemoryMB = 4096
	}
	if c.Provider.DiskMB == 0 {
		c.Provider.DiskMB = 8192
	}
	if c.Fleet.Games == 0 {
		c.Fleet.Games = 3
	}
	if c.Fleet.MaxGames == 0 {
		c.Fleet.MaxGames = 16
	}
	if len(c.Fleet.Roles) == 0 {
		c.Fleet.Roles = []string{"aggressive", "defensive", "balanced"}
	}
	if c.Fleet.Moves == 0 {
		c.Fleet.Moves = 2
	}
	if c.Fleet.RemoteDir == "" {
		c.Fleet.RemoteDir = "app/autosaves"
	}
	if c.Sync.PollInterval == "" {
		c.Sync.PollInterval = "500ms"
	}
	if c.Sync.InactivityTimeout == "" {
		c.Sync.InactivityTimeout = "20s"
	}
	if c.Sync.MaxUnchanged == 0 {
		c.Sync.MaxUnchanged = 15
	}
	if c.Sync.Deadline == "" {
		c.Sync.Deadline = "60s"
	}
	if c.Registry.VisibilityTimeout == "" {
		c.Registry.VisibilityTimeout = "30s"
	}
	if c.Registry.PruneSchedule == "" {
		c.Registry.PruneSchedule = "* * * * *"
	}
	if c.Registry.RefreshInterval == "" {
		c.Registry.RefreshInterval = "1s"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Notify.Slack.BotTokenEnv == "" {
		c.Notify.Slack.BotTokenEnv = "GAMBIT_SLACK_TOKEN"
	}
	if c.Notify.Discord.TokenEnv == "" {
		c.Notify.Discord.TokenEnv = "GAMBIT_DISCORD_TOKEN"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "gambit.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.User == "" {
		c.DB.User = "root"
	}
	if c.DB.Database == "" {
		c.DB.Database = "gambit"
	}
	if c.Paths.PublishDir == "" {
		c.Paths.PublishDir = "autosaves"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Provider.BaseURL == "" {
		errs = append(errs, "provider.base_url is required")
	}
	if c.Fleet.Games < 1 {
		errs = append(errs, "fleet.games must be at least 1")
	}
	if c.Fleet.MaxGames < 1 {
		errs = append(errs, "fleet.max_games must be at least 1")
	}
	for name, v := range map[string]string{
		"sync.poll_interval":          c.Sync.PollInterval,
		"sync.inactivity_timeout":     c.Sync.InactivityTimeout,
		"sync.deadline":               c.Sync.Deadline,
		"registry.visibility_timeout": c.Registry.VisibilityTimeout,
		"registry.refresh_interval":   c.Registry.RefreshInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", name, v))
		}
	}
	if c.Sync.Inactivity() > 0 && c.Sync.Inactivity() <= c.Sync.PollEvery() {
		errs = append(errs, "sync.inactivity_timeout must exceed sync.poll_interval")
	}
	if c.Registry.Visibility() > 0 && c.Registry.Visibility() < c.Sync.Inactivity() {
		errs = append(errs, "registry.visibility_timeout must not be shorter than sync.inactivity_timeout")
	}
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("db.driver %q is not supported (sqlite or mysql)", c.DB.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// mustDuration parses a duration string already checked by validate,
// returning 0 on malformed input.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
