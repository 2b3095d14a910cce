package snipline

import (
	"context"
	"net"
	"testing"
	"time"

	"pkt.systems/snipline/httpapi"
	"pkt.systems/snipline/internal/appconfig"
	"pkt.systems/snipline/internal/backend"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/schema"
)

type stubBackend struct{}

func (stubBackend) Login(context.Context, string, string) (backend.LoginResponse, error) {
	return backend.LoginResponse{}, schema.ErrAuth
}

func (stubBackend) Shortcuts(context.Context, string) ([]schema.Shortcut, error) {
	return nil, nil
}

func (stubBackend) FindByTrigger(context.Context, string, string) (schema.Shortcut, error) {
	return schema.Shortcut{}, schema.ErrNotFound
}

func (stubBackend) Search(context.Context, string, string) ([]schema.Shortcut, error) {
	return nil, nil
}

func (stubBackend) Use(context.Context, string, schema.ShortcutID, map[string]string) (backend.UseResponse, error) {
	return backend.UseResponse{}, nil
}

func (stubBackend) Expand(context.Context, string, schema.ShortcutID, string, map[string]string) (string, error) {
	return "", schema.ErrExpansionFailed
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s", addr)
}

func testServerConfig(t *testing.T, storage string) ServerConfig {
	t.Helper()
	return ServerConfig{
		Supervisor: schema.SupervisorConfig{
			StateDir:       t.TempDir(),
			ResyncInterval: time.Hour,
			SyncTimeout:    time.Second,
		},
		Engine:  schema.EngineConfig{ChannelTimeout: time.Second},
		Storage: storage,
		Backend: BackendConfig{BaseURL: "http://127.0.0.1:1"},
		HTTP:    httpapi.Config{Addr: freeAddr(t)},
	}
}

func TestNewRequiresService(t *testing.T) {
	if _, err := New(testServerConfig(t, appconfig.StorageFile), ServerDeps{Backend: stubBackend{}}); err == nil {
		t.Fatalf("expected error without services")
	}
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	if _, err := New(testServerConfig(t, "tape"), ServerDeps{Backend: stubBackend{}}, WithHTTP()); err == nil {
		t.Fatalf("expected unknown storage to be rejected")
	}
}

func TestServerServesChannel(t *testing.T) {
	for _, storage := range []string{appconfig.StorageFile, appconfig.StorageSQLite} {
		t.Run(storage, func(t *testing.T) {
			cfg := testServerConfig(t, storage)
			srv, err := New(cfg, ServerDeps{Backend: stubBackend{}}, WithHTTP())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			ctx := context.Background()
			if err := srv.Start(ctx); err != nil {
				t.Fatalf("Start: %v", err)
			}
			if err := srv.Start(ctx); err == nil {
				t.Fatalf("expected second Start to fail")
			}
			waitListening(t, cfg.HTTP.Addr)

			client := channel.NewClient(channel.NewWSTransport("ws://"+cfg.HTTP.Addr+"/channel", channel.WSOptions{}), channel.Options{Timeout: time.Second})
			defer client.Close()
			resp, err := client.Send(ctx, schema.PingRequest{}, 0)
			if err != nil {
				t.Fatalf("ping: %v", err)
			}
			ping, ok := resp.(schema.PingResponse)
			if !ok || !ping.Alive {
				t.Fatalf("unexpected ping response %#v", resp)
			}
			if ping.Generation != srv.Supervisor().Generation() {
				t.Fatalf("generation = %q, want %q", ping.Generation, srv.Supervisor().Generation())
			}

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				t.Fatalf("Stop: %v", err)
			}
			if err := srv.Wait(); err != nil {
				t.Fatalf("Wait: %v", err)
			}
		})
	}
}

func TestServerStopBeforeStart(t *testing.T) {
	srv, err := New(testServerConfig(t, appconfig.StorageFile), ServerDeps{Backend: stubBackend{}}, WithHTTP())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected Wait to fail before Start")
	}
}

func TestServerConfigFrom(t *testing.T) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Channel.Token = "tok"
	out := ServerConfigFrom(cfg)
	if out.HTTP.ChannelToken != "tok" || out.HTTP.Addr != cfg.HTTP.Addr {
		t.Fatalf("unexpected http config %#v", out.HTTP)
	}
	if out.Backend.Timeout != 10*time.Second {
		t.Fatalf("backend timeout = %s", out.Backend.Timeout)
	}
	if out.SSH.Theme != "outrun" || out.Engine.Sentinel != schema.DefaultSentinel {
		t.Fatalf("unexpected mapping %#v", out)
	}
}
