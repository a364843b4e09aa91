package gameserver

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

// Reconnect moves the channel of placeholder, a fresh connection that
// presented the nickname of retained, onto retained and puts retained back
// in the connected pool in placeholder's place. The old channel of retained
// is closed. The client is then resynchronized from stored room state.
//
// Precondition: placeholder is connected; retained is disconnected.
// Postcondition: retained is connected and placeholder is in no pool. An
// error means the resync burst could not be written to the client.
func (srv *Server) Reconnect(placeholder, retained *session.Session) error {
	removeFrom(&srv.disconnected, retained)

	old := retained.ReplaceChannel(placeholder.Channel())
	if old != nil {
		_ = old.Close()
	}
	if i := indexOf(srv.connected, placeholder); i >= 0 {
		srv.connected[i] = retained
	} else {
		srv.connected = append(srv.connected, retained)
	}
	retained.Touch(time.Now())

	retained.Logger().Info("session reconnected", zap.Stringer("state", retained.State()))
	return srv.resync(retained)
}

// resync sends the rejoin burst to s, and tells its opponent that s is back.
func (srv *Server) resync(s *session.Session) error {
	r := srv.RoomOf(s)
	if r == nil {
		s.SetState(session.InLobby)
		return s.Send(protocol.AckMsg())
	}

	phase := protocol.PhaseRoom
	if s.State() == session.InGame {
		phase = protocol.PhaseGame
	}
	if err := s.Send(protocol.RejoinMsg(phase, r.Code())); err != nil {
		return err
	}

	own, err := r.Board(s)
	if err != nil {
		return err
	}
	if r.IsReady(s) {
		if err := s.Send(protocol.BoardStateMsg(protocol.You, own.Snapshot(true))); err != nil {
			return err
		}
	}

	opp, err := r.Opponent(s)
	if err != nil || opp == nil {
		return err
	}
	oppBoard, err := r.Board(opp)
	if err != nil {
		return err
	}

	burst := []protocol.Message{protocol.OpponentNicknameSetMsg(opp.Nickname())}
	if r.IsReady(opp) {
		burst = append(burst, protocol.OpponentBoardReadyMsg())
	}
	oppAway := srv.IsDisconnected(opp)
	if oppAway {
		burst = append(burst, protocol.OpponentNoResponseMsg(protocol.Short))
	} else {
		srv.notify(opp, protocol.OpponentRejoinMsg())
	}
	if s.State() == session.InGame {
		burst = append(burst, protocol.BoardStateMsg(protocol.Opponent, oppBoard.Snapshot(false)))
		if !oppAway {
			srv.notify(opp, protocol.BoardStateMsg(protocol.Opponent, own.Snapshot(false)))
		}
		mine, theirs := protocol.Opponent, protocol.You
		if r.IsOnTurn(s) {
			mine, theirs = protocol.You, protocol.Opponent
		}
		burst = append(burst, protocol.TurnSetMsg(mine))
		if !oppAway {
			srv.notify(opp, protocol.TurnSetMsg(theirs))
		}
	}

	for _, m := range burst {
		if err := s.Send(m); err != nil {
			return fmt.Errorf("resync: %w", err)
		}
	}
	return nil
}
