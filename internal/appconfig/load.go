package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
	"pkt.systems/snipline/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("trigger.sentinel", cfg.Trigger.Sentinel)
	v.SetDefault("trigger.reset_timeout_ms", cfg.Trigger.ResetTimeoutMS)
	v.SetDefault("trigger.auto_expand_ms", cfg.Trigger.AutoExpandMS)
	v.SetDefault("trigger.suggestion_ttl_ms", cfg.Trigger.SuggestionTTLMS)
	v.SetDefault("trigger.highlight_ttl_ms", cfg.Trigger.HighlightTTLMS)
	v.SetDefault("channel.timeout_ms", cfg.Channel.TimeoutMS)
	v.SetDefault("channel.health_interval_seconds", cfg.Channel.HealthIntervalSeconds)
	v.SetDefault("channel.url", cfg.Channel.URL)
	v.SetDefault("channel.token", cfg.Channel.Token)
	v.SetDefault("supervisor.resync_interval_minutes", cfg.Supervisor.ResyncIntervalMinutes)
	v.SetDefault("supervisor.sync_timeout_seconds", cfg.Supervisor.SyncTimeoutSeconds)
	v.SetDefault("supervisor.storage", cfg.Supervisor.Storage)
	v.SetDefault("supervisor.use_keyring", cfg.Supervisor.UseKeyring)
	v.SetDefault("supervisor.refresh_interval_seconds", cfg.Supervisor.RefreshIntervalSeconds)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.timeout_seconds", cfg.Backend.TimeoutSeconds)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("ssh.addr", cfg.SSH.Addr)
	v.SetDefault("ssh.host_key_path", cfg.SSH.HostKeyPath)
	v.SetDefault("ssh.password_hash", cfg.SSH.PasswordHash)
	v.SetDefault("ssh.theme", cfg.SSH.Theme)
	v.SetDefault("mock_backend.addr", cfg.MockBackend.Addr)
	v.SetDefault("mock_backend.user_file", cfg.MockBackend.UserFile)
	v.SetDefault("mock_backend.seed_file", cfg.MockBackend.SeedFile)
	v.SetDefault("mock_backend.token_secret", cfg.MockBackend.TokenSecret)
	v.SetDefault("mock_backend.token_ttl_hours", cfg.MockBackend.TokenTTLHours)
	v.SetDefault("mock_backend.seed_users", cfg.MockBackend.SeedUsers)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if err := schema.ValidateSentinel(cfg.Trigger.Sentinel); err != nil {
		return fmt.Errorf("trigger.sentinel: %w", err)
	}
	if cfg.Trigger.AutoExpandMS < 0 {
		return fmt.Errorf("trigger.auto_expand_ms must not be negative")
	}
	switch cfg.Supervisor.Storage {
	case StorageFile, StorageSQLite:
	default:
		return fmt.Errorf("unsupported supervisor.storage %q", cfg.Supervisor.Storage)
	}
	if cfg.Supervisor.ResyncIntervalMinutes < 1 {
		return fmt.Errorf("supervisor.resync_interval_minutes must be at least 1")
	}
	if raw := strings.TrimSpace(cfg.Channel.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
			return fmt.Errorf("channel.url must be a ws:// or wss:// url")
		}
	}
	if raw := strings.TrimSpace(cfg.Backend.BaseURL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("backend.base_url must include scheme and host (e.g. https://example.com)")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.SSH.HostKeyPath = expandEnv(cfg.SSH.HostKeyPath)
	cfg.MockBackend.UserFile = expandEnv(cfg.MockBackend.UserFile)
	cfg.MockBackend.SeedFile = expandEnv(cfg.MockBackend.SeedFile)
	cfg.Channel.Token = expandEnv(cfg.Channel.Token)
	cfg.MockBackend.TokenSecret = expandEnv(cfg.MockBackend.TokenSecret)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	return Write(path, cfg, overwrite)
}

// Write stores cfg as yaml at path, or DefaultConfigPath when path is empty.
func Write(path string, cfg Config, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
