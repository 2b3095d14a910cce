package schema

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// DefaultSentinel prefixes every trigger.
const DefaultSentinel = "//"

// MinAutoExpand is the floor for the idle debounce window.
const MinAutoExpand = 100 * time.Millisecond

// EngineConfig defines the timing and matching parameters of one content runtime.
type EngineConfig struct {
	Sentinel string
	// ResetTimeout drops a pending trigger buffer after this much inactivity.
	ResetTimeout time.Duration
	// AutoExpand is the idle window after which a pending trigger completes
	// on its own. It only applies in auto mode.
	AutoExpand      time.Duration
	SuggestionTTL   time.Duration
	ChannelTimeout  time.Duration
	HealthInterval  time.Duration
	RefreshInterval time.Duration
	// HighlightTTL bounds the post-insert highlight on rich surfaces.
	HighlightTTL time.Duration
}

// NormalizeEngineConfig applies defaults and validates the config.
func NormalizeEngineConfig(cfg EngineConfig) (EngineConfig, error) {
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 3 * time.Second
	}
	if cfg.AutoExpand < 0 {
		return EngineConfig{}, errors.New("auto expand window must not be negative")
	}
	if cfg.AutoExpand == 0 {
		cfg.AutoExpand = 750 * time.Millisecond
	}
	if cfg.AutoExpand < MinAutoExpand {
		cfg.AutoExpand = MinAutoExpand
	}
	if cfg.SuggestionTTL <= 0 {
		cfg.SuggestionTTL = 4 * time.Second
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 3 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 30 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Minute
	}
	if cfg.HighlightTTL <= 0 {
		cfg.HighlightTTL = 600 * time.Millisecond
	}
	if err := ValidateSentinel(cfg.Sentinel); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// SupervisorConfig defines the privileged cache owner's parameters.
type SupervisorConfig struct {
	StateDir       string
	ResyncInterval time.Duration
	// SyncTimeout bounds a single backend sync.
	SyncTimeout time.Duration
	// Sentinel is the trigger prefix ignored when ranking cached search hits.
	Sentinel string
}

// NormalizeSupervisorConfig applies defaults and validates the config.
func NormalizeSupervisorConfig(cfg SupervisorConfig) (SupervisorConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return SupervisorConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".snipline", "state")
	}
	if cfg.ResyncInterval <= 0 {
		cfg.ResyncInterval = 30 * time.Minute
	}
	if cfg.ResyncInterval < time.Minute {
		return SupervisorConfig{}, errors.New("resync interval must be at least one minute")
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 15 * time.Second
	}
	if cfg.Sentinel == "" {
		cfg.Sentinel = DefaultSentinel
	}
	if err := ValidateSentinel(cfg.Sentinel); err != nil {
		return SupervisorConfig{}, err
	}
	return cfg, nil
}
