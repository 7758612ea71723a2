package server

import (
	"context"
	"net"
	"net/http"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
)

// ListenAndServe serves on addr until ctx is cancelled, then drains
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. Shutdown waits up to
// ShutdownTimeout for in-flight requests; synchronous generations are
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.setState(ServerStateRunning)
	s.logger.Infow("HTTP server listening", logger.FieldAddress, ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.setState(ServerStateStopped)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
	}

	s.setState(ServerStateDraining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Warnw("Graceful shutdown timed out, forcing close", "timeout", ShutdownTimeout, logger.FieldError, err)
		_ = s.srv.Close()
	}
	<-errCh
	s.setState(ServerStateStopped)
	return nil
}
