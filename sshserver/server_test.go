package sshserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"pkt.systems/snipline/internal/auth"
	"pkt.systems/snipline/schema"
)

func startTestServer(t *testing.T, passwordHash string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		Addr:         ln.Addr().String(),
		Listener:     ln,
		HostKeyPath:  filepath.Join(t.TempDir(), "host_key"),
		PasswordHash: passwordHash,
		Supervisor: &termSupervisor{
			cached:   []schema.Shortcut{staticShortcut("sig", "//sig", "Best regards")},
			settings: schema.DefaultSettings(),
		},
		Engine: schema.EngineConfig{ChannelTimeout: time.Second},
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.ListenAndServe(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = ln.Close()
	})
	return ln.Addr().String()
}

func dialPassword(addr, password string) (*ssh.Client, error) {
	return ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            "ana",
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
}

func TestSSHPasswordAuth(t *testing.T) {
	hash, err := auth.HashPassword("letmein")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	addr := startTestServer(t, hash)
	if _, err := dialPassword(addr, "wrong"); err == nil {
		t.Fatalf("expected wrong password to be rejected")
	}
	client, err := dialPassword(addr, "letmein")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = client.Close()
}

func TestSSHSessionExpandsTrigger(t *testing.T) {
	addr := startTestServer(t, "")
	client, err := dialPassword(addr, "anything")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	if err := session.RequestPty("xterm", 40, 100, ssh.TerminalModes{}); err != nil {
		t.Fatal(err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatal(err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := session.Shell(); err != nil {
		t.Fatal(err)
	}
	output := &lockedBuffer{}
	go func() {
		_, _ = io.Copy(output, stdout)
	}()

	expectOutput(t, output, "1 shortcuts", 5*time.Second)
	if _, err := fmt.Fprint(stdin, "thanks //sig "); err != nil {
		t.Fatal(err)
	}
	expectOutput(t, output, "thanks Best regards", 5*time.Second)

	if _, err := fmt.Fprint(stdin, "\x15/quit\r"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()
	select {
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not close after /quit")
	case <-done:
	}
}

func TestSSHSessionRequiresPty(t *testing.T) {
	addr := startTestServer(t, "")
	client, err := dialPassword(addr, "anything")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	session, err := client.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	out, _ := session.CombinedOutput("")
	if !strings.Contains(string(out), "pty required") {
		t.Fatalf("expected pty rejection, got %q", out)
	}
}

func expectOutput(t *testing.T, buffer *lockedBuffer, substr string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if strings.Contains(buffer.String(), substr) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %q in output: %q", substr, buffer.String())
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}
