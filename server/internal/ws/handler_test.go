package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sttmesh/server/internal/manager"
	"sttmesh/server/internal/protocol"
	"sttmesh/server/internal/transcriber"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct{ text string }

func (f *fakeEngine) Infer(context.Context, []float32, int) (string, float64, error) {
	return f.text, 1.0, nil
}

func TestHandleWebSocketSilenceRoundTrip(t *testing.T) {
	mgr := manager.New(transcriber.New(&fakeEngine{text: "unused"}), 10, true, 1, slog.Default())
	defer mgr.Shutdown()

	e := echo.New()
	NewHandler(mgr).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready protocol.Message
	require.NoError(t, conn.ReadJSON(&ready))
	require.Equal(t, protocol.TypeReady, ready.Type)

	require.NoError(t, conn.WriteJSON(protocol.Config(16000, "en")))
	require.NoError(t, conn.WriteJSON(protocol.End()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var final protocol.Message
	require.NoError(t, conn.ReadJSON(&final))
	require.Equal(t, protocol.TypeFinal, final.Type)
	require.Equal(t, "", final.Text)
}

func TestHandleHealthzReportsLiveCounts(t *testing.T) {
	mgr := manager.New(transcriber.New(&fakeEngine{text: "unused"}), 10, true, 1, slog.Default())
	defer mgr.Shutdown()

	e := echo.New()
	NewHandler(mgr).Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health manager.Health
	require.NoError(t, json.Unmarshal(body, &health))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 0, health.Sessions)
	require.Equal(t, 10, health.PermitsTotal)
}
