package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

// RunKeepAlive sends KEEP_ALIVE to every connected session once per
// interval until ctx is cancelled. Failed sends are left to the session's
// own receive path.
//
// Precondition: interval must be > 0.
func (srv *Server) RunKeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			srv.broadcastKeepAlive()
		}
	}
}

func (srv *Server) broadcastKeepAlive() {
	srv.mu.Lock()
	targets := make([]*session.Session, len(srv.connected))
	copy(targets, srv.connected)
	srv.mu.Unlock()

	failed := 0
	for _, s := range targets {
		if err := s.Send(protocol.KeepAliveMsg()); err != nil {
			failed++
		}
	}
	if failed > 0 {
		srv.logger.Debug("keep-alive not delivered", zap.Int("failed", failed), zap.Int("sessions", len(targets)))
	}
}
