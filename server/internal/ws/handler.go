// Package ws binds the session manager's connection handler onto an Echo
// router via a gorilla/websocket upgrade, following the same composition
// the rest of this codebase's websocket surface already uses.
package ws

import (
	"fmt"
	"log/slog"
	"net/http"

	"sttmesh/server/internal/manager"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Handler owns the websocket upgrade and hands each connection to the
// session manager.
type Handler struct {
	mgr      *manager.Manager
	upgrader websocket.Upgrader
}

// NewHandler binds a websocket handler to mgr.
func NewHandler(mgr *manager.Manager) *Handler {
	return &Handler{
		mgr: mgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the /ws upgrade route and the /healthz liveness route on
// an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
	e.GET("/healthz", h.HandleHealthz)
}

// HandleHealthz reports the manager's live session/permit counts and
// cumulative admission counters, for process liveness checks.
func (h *Handler) HandleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, h.mgr.Healthz())
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	slog.Debug("ws upgrade request", "remote", remoteAddr)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}

	h.mgr.HandleConn(c.Request().Context(), conn, remoteAddr)
	return nil
}
