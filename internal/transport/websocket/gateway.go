package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

const shutdownTimeout = 5 * time.Second

// SessionHandler drives one upgraded connection until it ends.
type SessionHandler interface {
	HandleSession(ctx context.Context, ch session.Channel) error
}

// Gateway upgrades HTTP requests on one path and hands each connection to a
// SessionHandler. It implements http.Handler.
type Gateway struct {
	cfg      config.WebSocketConfig
	sessCfg  config.SessionConfig
	catalog  protocol.Catalog
	handler  SessionHandler
	logger   *zap.Logger
	upgrader gws.Upgrader
	mux      *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

// NewGateway creates a gateway serving cfg.Path.
//
// Precondition: handler and logger must be non-nil; cfg.Path must start with '/'.
func NewGateway(cfg config.WebSocketConfig, sessCfg config.SessionConfig, catalog protocol.Catalog, handler SessionHandler, logger *zap.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:     cfg,
		sessCfg: sessCfg,
		catalog: catalog,
		handler: handler,
		logger:  logger,
		upgrader: gws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients are served from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux:    http.NewServeMux(),
		ctx:    ctx,
		cancel: cancel,
	}
	g.mux.HandleFunc(cfg.Path, g.serveSession)
	return g
}

// ServeHTTP dispatches to the session path.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) serveSession(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	g.wg.Add(1)
	defer g.wg.Done()

	start := time.Now()
	conn := NewConn(ws, g.catalog, g.sessCfg.MaxRecordSize, g.sessCfg.WriteTimeout)
	defer conn.Close()

	g.logger.Debug("websocket client connected", zap.String("remote_addr", conn.RemoteAddr()))
	err = g.handler.HandleSession(g.ctx, conn)
	g.logger.Debug("websocket session ended",
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.Error(err),
		zap.Duration("duration", time.Since(start)),
	)
}

// ListenAndServe blocks serving HTTP on the configured address until Stop.
// If Stop has already been called, it returns nil without serving.
func (g *Gateway) ListenAndServe() error {
	lis, err := net.Listen("tcp", g.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		lis.Close()
		return nil
	}
	g.srv = srv
	g.listener = lis
	g.mu.Unlock()

	g.logger.Info("websocket gateway listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("path", g.cfg.Path),
	)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels every session, shuts the HTTP server down and waits for
// session goroutines to return.
func (g *Gateway) Stop() {
	g.cancel()

	g.mu.Lock()
	g.stopped = true
	srv := g.srv
	g.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			g.logger.Warn("websocket gateway shutdown", zap.Error(err))
		}
	}
	g.wg.Wait()
	g.logger.Info("websocket gateway stopped")
}

// Addr returns the listening address, or "" before ListenAndServe.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}
