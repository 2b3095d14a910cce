package httpapi

import (
	"context"
	"net"
	"net/http"

	"pkt.systems/pslog"
)

// ListenAndServe starts an HTTP server and shuts it down on context
// cancellation. onShutdown hooks run when shutdown begins.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, onShutdown ...func()) error {
	logger := pslog.Ctx(ctx)
	server := &http.Server{
		Addr:     addr,
		Handler:  handler,
		ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	for _, fn := range onShutdown {
		if fn != nil {
			server.RegisterOnShutdown(fn)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("http listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Serve runs s on its configured address until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	return ListenAndServe(ctx, s.cfg.Addr, s.Handler(), s.hub.CloseAll)
}
