package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

// recordingHandler acknowledges every record and remembers how the session ended.
type recordingHandler struct {
	last atomic.Value
	done chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{done: make(chan struct{}, 8)}
}

func (h *recordingHandler) HandleSession(ctx context.Context, ch session.Channel) error {
	defer func() { h.done <- struct{}{} }()
	for {
		msg, err := ch.Receive(ctx, time.Now().Add(300*time.Millisecond))
		if err != nil {
			h.last.Store(err)
			return err
		}
		if msg.Type == protocol.RoomLeave {
			return ch.Send(protocol.ConnTermMsg())
		}
		if err := ch.Send(protocol.AckMsg()); err != nil {
			return err
		}
	}
}

func (h *recordingHandler) ended(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
	if err, ok := h.last.Load().(error); ok {
		return err
	}
	return nil
}

func startGateway(t *testing.T, h SessionHandler) (*Gateway, string) {
	t.Helper()
	cfg := config.WebSocketConfig{Host: "127.0.0.1", Port: 0, Path: "/ws"}
	sessCfg := config.SessionConfig{MaxRecordSize: 64, WriteTimeout: time.Second}
	gw := NewGateway(cfg, sessCfg, protocol.DefaultCatalog(), h, zaptest.NewLogger(t))
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		gw.Stop()
		srv.Close()
	})
	return gw, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *gws.Conn {
	t.Helper()
	ws, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	return ws
}

func readFrame(t *testing.T, ws *gws.Conn) string {
	t.Helper()
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, gws.TextMessage, kind)
	return string(data)
}

func TestGatewayOneRecordPerFrame(t *testing.T) {
	h := newRecordingHandler()
	_, url := startGateway(t, h)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte("NICKNAME_SET|alice")))
	assert.Equal(t, "ACK", readFrame(t, ws))

	// a trailing terminator is tolerated
	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte("ROOM_CREATE\n")))
	assert.Equal(t, "ACK", readFrame(t, ws))

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte("ROOM_LEAVE")))
	assert.Equal(t, "CONN_TERM", readFrame(t, ws))
	assert.NoError(t, h.ended(t))
}

func TestGatewayMalformedFrame(t *testing.T) {
	h := newRecordingHandler()
	_, url := startGateway(t, h)
	ws := dial(t, url)

	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte("NOT_A_TYPE")))
	assert.ErrorIs(t, h.ended(t), protocol.ErrProtocol)
}

func TestGatewayOversizeFrame(t *testing.T) {
	h := newRecordingHandler()
	_, url := startGateway(t, h)
	ws := dial(t, url)

	big := "NICKNAME_SET|" + strings.Repeat("a", 200)
	require.NoError(t, ws.WriteMessage(gws.TextMessage, []byte(big)))
	assert.ErrorIs(t, h.ended(t), protocol.ErrProtocol)
}

func TestGatewayIdleTimeout(t *testing.T) {
	h := newRecordingHandler()
	_, url := startGateway(t, h)
	dial(t, url)

	assert.ErrorIs(t, h.ended(t), session.ErrTimeout)
}

func TestGatewayPeerClose(t *testing.T) {
	h := newRecordingHandler()
	_, url := startGateway(t, h)
	ws := dial(t, url)

	require.NoError(t, ws.Close())
	assert.ErrorIs(t, h.ended(t), session.ErrClosed)
}

func TestGatewayStopCancelsSessions(t *testing.T) {
	blocking := &blockingHandler{started: make(chan struct{}), ended: make(chan error, 1)}
	gw, url := startGateway(t, blocking)
	dial(t, url)

	select {
	case <-blocking.started:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not start")
	}
	gw.Stop()
	select {
	case err := <-blocking.ended:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("session survived Stop")
	}
}

type blockingHandler struct {
	started chan struct{}
	ended   chan error
}

func (h *blockingHandler) HandleSession(ctx context.Context, ch session.Channel) error {
	close(h.started)
	_, err := ch.Receive(ctx, time.Now().Add(time.Minute))
	h.ended <- err
	return err
}

func TestGatewayRejectsPlainHTTP(t *testing.T) {
	gw := NewGateway(config.WebSocketConfig{Path: "/ws"}, config.SessionConfig{}, protocol.DefaultCatalog(), newRecordingHandler(), zaptest.NewLogger(t))
	defer gw.Stop()

	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayStopBeforeListen(t *testing.T) {
	cfg := config.WebSocketConfig{Host: "127.0.0.1", Port: 0, Path: "/ws"}
	gw := NewGateway(cfg, config.SessionConfig{}, protocol.DefaultCatalog(), newRecordingHandler(), zaptest.NewLogger(t))
	gw.Stop()

	errCh := make(chan error, 1)
	go func() { errCh <- gw.ListenAndServe() }()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe kept serving after Stop")
	}
	assert.Equal(t, "", gw.Addr())
}

func TestGatewayListenAndServeUntilStop(t *testing.T) {
	cfg := config.WebSocketConfig{Host: "127.0.0.1", Port: 0, Path: "/ws"}
	gw := NewGateway(cfg, config.SessionConfig{}, protocol.DefaultCatalog(), newRecordingHandler(), zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- gw.ListenAndServe() }()
	require.Eventually(t, func() bool { return gw.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	gw.Stop()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("ListenAndServe did not return after Stop")
	}
}
