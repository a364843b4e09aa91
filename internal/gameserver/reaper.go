package gameserver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

// RunReaper evicts disconnected sessions whose idle budget has run out. It
// sleeps until the earliest expiry, or for the reaper interval when nobody
// is disconnected, and wakes early whenever a session is disconnected.
// Runs until ctx is cancelled.
func (srv *Server) RunReaper(ctx context.Context) {
	for {
		srv.mu.Lock()
		wait := srv.reap(time.Now())
		srv.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-srv.nudge:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// reap evicts every disconnected session idle for TimeoutLong as of now and
// returns how long to sleep before the next expiry.
//
// Precondition: the registry lock is held.
func (srv *Server) reap(now time.Time) time.Duration {
	if len(srv.disconnected) == 0 {
		return srv.sessionCfg.ReaperInterval
	}

	var expired []*session.Session
	next := time.Duration(-1)
	for _, s := range srv.disconnected {
		expires := s.LastActive().Add(srv.sessionCfg.TimeoutLong)
		if !now.Before(expires) {
			expired = append(expired, s)
			continue
		}
		if d := expires.Sub(now); next < 0 || d < next {
			next = d
		}
	}

	for _, s := range expired {
		// an earlier expiry may already have evicted s with its room
		if !removeFrom(&srv.disconnected, s) {
			continue
		}
		srv.expire(s)
	}

	if next < 0 {
		return srv.sessionCfg.ReaperInterval
	}
	return next
}

// expire tears down the room of a reaped session. A connected opponent is
// sent back to the lobby; a disconnected one is evicted along with it.
func (srv *Server) expire(s *session.Session) {
	s.Logger().Info("disconnected session reaped", zap.Time("last_active", s.LastActive()))

	r := srv.RoomOf(s)
	if r == nil {
		return
	}
	opp, _ := r.Opponent(s)
	srv.DestroyRoom(r)
	if opp == nil {
		return
	}
	if srv.IsDisconnected(opp) {
		srv.EvictDisconnected(opp)
		return
	}
	opp.SetState(session.InLobby)
	srv.notify(opp, protocol.OpponentNoResponseMsg(protocol.Long))
}
