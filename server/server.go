package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sttmesh/server/internal/manager"
	"sttmesh/server/internal/ws"

	"github.com/labstack/echo/v4"
)

// Server holds the HTTP/websocket listener. No TLS in the default
// profile (§6): the reference design favors running behind a reverse
// proxy or on a loopback/LAN interface over bundling certificate
// management into the hot path of a speech pipeline.
type Server struct {
	addr            string
	mgr             *manager.Manager
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// NewServer builds a Server bound to addr, serving the single websocket
// route described in §4.1 through mgr.
func NewServer(addr string, mgr *manager.Manager, shutdownTimeout time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, mgr: mgr, shutdownTimeout: shutdownTimeout, log: log}
}

// Run starts the listener and blocks until ctx is canceled, which starts
// http.Server.Shutdown bounded by shutdownTimeout. Run returns as soon as
// the listener closes, without waiting for that shutdown to finish, and
// upgraded websocket connections are not tracked or drained by it.
func (s *Server) Run(ctx context.Context) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	ws.NewHandler(s.mgr).Register(e)

	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("shutdown", "err", err)
		}
	}()

	s.log.Info("listening", "addr", s.addr)

	err := httpSrv.ListenAndServe()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("server: listen: %w", err)
}
