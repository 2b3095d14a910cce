package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/snipline/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int               `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string            `mapstructure:"state_dir" yaml:"state_dir"`
	Trigger       TriggerConfig     `mapstructure:"trigger" yaml:"trigger"`
	Channel       ChannelConfig     `mapstructure:"channel" yaml:"channel"`
	Supervisor    SupervisorConfig  `mapstructure:"supervisor" yaml:"supervisor"`
	Backend       BackendConfig     `mapstructure:"backend" yaml:"backend"`
	HTTP          HTTPConfig        `mapstructure:"http" yaml:"http"`
	SSH           SSHConfig         `mapstructure:"ssh" yaml:"ssh"`
	MockBackend   MockBackendConfig `mapstructure:"mock_backend" yaml:"mock_backend"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Storage backends for the session cache.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// TriggerConfig controls trigger detection timing.
type TriggerConfig struct {
	Sentinel        string `mapstructure:"sentinel" yaml:"sentinel"`
	ResetTimeoutMS  int    `mapstructure:"reset_timeout_ms" yaml:"reset_timeout_ms"`
	AutoExpandMS    int    `mapstructure:"auto_expand_ms" yaml:"auto_expand_ms"`
	SuggestionTTLMS int    `mapstructure:"suggestion_ttl_ms" yaml:"suggestion_ttl_ms"`
	HighlightTTLMS  int    `mapstructure:"highlight_ttl_ms" yaml:"highlight_ttl_ms"`
}

// ChannelConfig controls the message channel between pages and the supervisor.
type ChannelConfig struct {
	TimeoutMS             int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	HealthIntervalSeconds int    `mapstructure:"health_interval_seconds" yaml:"health_interval_seconds"`
	URL                   string `mapstructure:"url" yaml:"url"`
	Token                 string `mapstructure:"token" yaml:"token"`
}

// SupervisorConfig controls the session cache owner.
type SupervisorConfig struct {
	ResyncIntervalMinutes  int    `mapstructure:"resync_interval_minutes" yaml:"resync_interval_minutes"`
	SyncTimeoutSeconds     int    `mapstructure:"sync_timeout_seconds" yaml:"sync_timeout_seconds"`
	Storage                string `mapstructure:"storage" yaml:"storage"`
	UseKeyring             bool   `mapstructure:"use_keyring" yaml:"use_keyring"`
	RefreshIntervalSeconds int    `mapstructure:"refresh_interval_seconds" yaml:"refresh_interval_seconds"`
}

// BackendConfig points at the remote shortcut service.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// HTTPConfig configures the channel endpoint.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SSHConfig configures the terminal surface.
type SSHConfig struct {
	Addr        string `mapstructure:"addr" yaml:"addr"`
	HostKeyPath string `mapstructure:"host_key_path" yaml:"host_key_path"`
	// PasswordHash is a bcrypt hash; empty accepts any login.
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
}

// MockBackendConfig configures the bundled backend used for local runs.
type MockBackendConfig struct {
	Addr          string     `mapstructure:"addr" yaml:"addr"`
	UserFile      string     `mapstructure:"user_file" yaml:"user_file"`
	SeedFile      string     `mapstructure:"seed_file" yaml:"seed_file"`
	TokenSecret   string     `mapstructure:"token_secret" yaml:"token_secret"`
	TokenTTLHours int        `mapstructure:"token_ttl_hours" yaml:"token_ttl_hours"`
	SeedUsers     []SeedUser `mapstructure:"seed_users" yaml:"seed_users"`
}

// SeedUser seeds a user record in the mock backend user store.
type SeedUser struct {
	Username     string `mapstructure:"username" yaml:"username"`
	PasswordHash string `mapstructure:"password_hash" yaml:"password_hash"`
	DisplayName  string `mapstructure:"display_name" yaml:"display_name"`
	Email        string `mapstructure:"email" yaml:"email"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	root := filepath.Join(home, ".snipline")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(root, "state"),
		Trigger: TriggerConfig{
			Sentinel:        schema.DefaultSentinel,
			ResetTimeoutMS:  3000,
			AutoExpandMS:    750,
			SuggestionTTLMS: 4000,
			HighlightTTLMS:  600,
		},
		Channel: ChannelConfig{
			TimeoutMS:             3000,
			HealthIntervalSeconds: 30,
			URL:                   "ws://127.0.0.1:27481/channel",
		},
		Supervisor: SupervisorConfig{
			ResyncIntervalMinutes:  30,
			SyncTimeoutSeconds:     15,
			Storage:                StorageFile,
			UseKeyring:             false,
			RefreshIntervalSeconds: 60,
		},
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:27490",
			TimeoutSeconds: 10,
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:27481",
		},
		SSH: SSHConfig{
			Addr:        "127.0.0.1:27482",
			HostKeyPath: filepath.Join(root, "ssh_host_key"),
			Theme:       "outrun",
		},
		MockBackend: MockBackendConfig{
			Addr:          "127.0.0.1:27490",
			UserFile:      filepath.Join(root, "users.json"),
			SeedFile:      filepath.Join(root, "shortcuts.yaml"),
			TokenTTLHours: 720,
			SeedUsers:     []SeedUser{},
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".snipline", "config.yaml"), nil
}

// EngineConfig derives the content runtime timings.
func (c Config) EngineConfig() schema.EngineConfig {
	return schema.EngineConfig{
		Sentinel:        c.Trigger.Sentinel,
		ResetTimeout:    millis(c.Trigger.ResetTimeoutMS),
		AutoExpand:      millis(c.Trigger.AutoExpandMS),
		SuggestionTTL:   millis(c.Trigger.SuggestionTTLMS),
		HighlightTTL:    millis(c.Trigger.HighlightTTLMS),
		ChannelTimeout:  millis(c.Channel.TimeoutMS),
		HealthInterval:  time.Duration(c.Channel.HealthIntervalSeconds) * time.Second,
		RefreshInterval: time.Duration(c.Supervisor.RefreshIntervalSeconds) * time.Second,
	}
}

// SupervisorSettings derives the supervisor config.
func (c Config) SupervisorSettings() schema.SupervisorConfig {
	return schema.SupervisorConfig{
		StateDir:       c.StateDir,
		ResyncInterval: time.Duration(c.Supervisor.ResyncIntervalMinutes) * time.Minute,
		SyncTimeout:    time.Duration(c.Supervisor.SyncTimeoutSeconds) * time.Second,
		Sentinel:       c.Trigger.Sentinel,
	}
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
