package sshserver

import (
	"context"
	"errors"
	"io"
	"net"

	gliderssh "github.com/gliderlabs/ssh"
	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/snipline/core"
	"pkt.systems/snipline/internal/auth"
	"pkt.systems/snipline/internal/channel"
	"pkt.systems/snipline/internal/command"
	"pkt.systems/snipline/internal/eventbus"
	"pkt.systems/snipline/internal/logx"
	"pkt.systems/snipline/internal/version"
	"pkt.systems/snipline/schema"
)

// Server exposes a terminal page over SSH. Every session runs its own
// content runtime against the shared supervisor.
type Server struct {
	Addr         string
	HostKeyPath  string
	PasswordHash string
	Theme        string
	Listener     net.Listener
	Supervisor   channel.Handler
	Engine       schema.EngineConfig
	Commands     CommandHandler
	EventBus     *eventbus.Bus
	logger       pslog.Logger
}

// ListenAndServe starts the SSH server and shuts down on context cancellation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	if s.Supervisor == nil {
		return errors.New("supervisor is required for SSH")
	}
	if s.EventBus == nil {
		s.EventBus = eventbus.New(s.logger)
	}
	if s.Commands == nil {
		s.Commands = command.NewHandler(command.HandlerConfig{})
	}

	signer, err := EnsureHostKey(s.HostKeyPath)
	if err != nil {
		return err
	}

	server := &gliderssh.Server{
		Addr:    s.Addr,
		Handler: s.handleSession,
	}
	if s.PasswordHash != "" {
		server.PasswordHandler = s.handlePassword
	}
	server.AddHostKey(signer)

	errCh := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			errCh <- server.Serve(s.Listener)
			return
		}
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("ssh server listening", "addr", s.Addr, "password", s.PasswordHash != "", "fingerprint", HostKeyFingerprint(signer))

	select {
	case <-ctx.Done():
		_ = server.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, gliderssh.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handlePassword(ctx gliderssh.Context, password string) bool {
	log := s.logger.With("user", ctx.User(), "remote", remoteAddr(ctx))
	if !auth.CheckPassword(s.PasswordHash, password) {
		log.Warn("ssh password rejected")
		return false
	}
	log.Info("ssh password accepted")
	return true
}

func remoteAddr(ctx gliderssh.Context) string {
	if ctx == nil || ctx.RemoteAddr() == nil {
		return ""
	}
	return ctx.RemoteAddr().String()
}

func (s *Server) handleSession(sess gliderssh.Session) {
	log := s.logger
	if log == nil {
		log = pslog.Ctx(sess.Context())
	}
	remote := sess.RemoteAddr().String()
	sshSession := sess.Context().SessionID()
	page := pageForSession(sshSession)
	log = log.With("user", sess.User(), "remote", remote, "page", page)

	pty, winCh, ok := sess.Pty()
	if !ok {
		log.Info("ssh session rejected", "reason", "pty required")
		_, _ = io.WriteString(sess, "pty required\n")
		_ = sess.Exit(1)
		return
	}
	ctx := logx.ContextWithPageLogger(sess.Context(), log, page)

	events, unsubscribe := s.EventBus.Subscribe(page)
	defer unsubscribe()

	ui := newTerminalSession(sess, sess, terminalOptions{
		Handler: s.Commands,
		Theme:   s.Theme,
		Events:  events,
		Banner:  banner(),
	})
	rt, err := core.NewRuntime(s.Engine, core.RuntimeDeps{
		Page:      page,
		Transport: channel.NewPipe(s.Supervisor),
		Prompter:  ui.Prompter(),
		Events:    s.EventBus,
		Logger:    log,
	})
	if err != nil {
		log.Error("ssh session runtime failed", "err", err)
		_, _ = io.WriteString(sess, "runtime unavailable\n")
		_ = sess.Exit(1)
		return
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Warn("ssh session runtime close failed", "err", err)
		}
	}()
	if err := rt.Start(ctx); err != nil {
		log.Error("ssh session runtime start failed", "err", err)
		_ = sess.Exit(1)
		return
	}
	ui.bind(rt)

	log.Info("ssh session opened", "term", pty.Term)
	ui.SetSize(pty.Window.Width, pty.Window.Height)
	if err := ui.Run(ctx, winCh); err != nil {
		log.Warn("ssh session run failed", "err", err)
	}
	_ = sess.Exit(0)
	log.Info("ssh session closed", "term", pty.Term)
}

func pageForSession(sessionID string) schema.PageID {
	if len(sessionID) > 12 {
		sessionID = sessionID[:12]
	}
	if sessionID == "" {
		sessionID = uuid.NewString()[:12]
	}
	return schema.PageID("ssh-" + sessionID)
}

func banner() []string {
	return []string{
		schema.HeaderMarker + "snipline",
		version.Summary(),
		schema.HelpMarker + "Type text and use triggers as you would in any field. /help lists commands, Ctrl+Space opens the picker.",
		"",
	}
}
