package appconfig

import (
	"testing"
	"time"

	"pkt.systems/snipline/schema"
)

func TestDefaultConfigDerivesEngineTimings(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	engine := cfg.EngineConfig()
	if engine.Sentinel != schema.DefaultSentinel {
		t.Fatalf("expected default sentinel, got %q", engine.Sentinel)
	}
	if engine.AutoExpand != 750*time.Millisecond || engine.ChannelTimeout != 3*time.Second {
		t.Fatalf("unexpected engine timings %+v", engine)
	}
	if _, err := schema.NormalizeEngineConfig(engine); err != nil {
		t.Fatalf("default engine config must normalize: %v", err)
	}
	sup := cfg.SupervisorSettings()
	if sup.ResyncInterval != 30*time.Minute || sup.StateDir == "" || sup.Sentinel != engine.Sentinel {
		t.Fatalf("unexpected supervisor settings %+v", sup)
	}
	if cfg.Supervisor.UseKeyring {
		t.Fatalf("expected keyring to default off")
	}
}
