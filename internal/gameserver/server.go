// Package gameserver implements the battleship session server: the registry
// of connected sessions, disconnected sessions and rooms, the per-connection
// protocol state machine, reconnection, and the reaper and keep-alive loops.
package gameserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/config"
	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/game/room"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/random"
	"github.com/cory-johannsen/battleship/internal/session"
	"github.com/cory-johannsen/battleship/internal/storage/postgres"
)

// ErrClientLimit is returned by HandleSession when a connection is refused
// because the connected pool is full.
var ErrClientLimit = errors.New("client limit reached")

// ErrRoomLimit is returned by CreateRoom when the room pool is full.
var ErrRoomLimit = errors.New("room limit reached")

// maxCodes is the number of distinct room codes.
const maxCodes = 10000

// Options configures a Server.
type Options struct {
	Server  config.ServerConfig
	Session config.SessionConfig
	// Fleet is the fleet every board is validated against.
	Fleet board.Fleet
	// Random draws room codes and the opening player.
	Random random.Source
	// Version is announced in WELCOME.
	Version string
	// Results receives finished games. Nil keeps results in memory only.
	Results *Recorder
	Logger  *zap.Logger
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Connected    int
	Disconnected int
	Rooms        int
	GamesStarted int
	GamesPlayed  int
}

// Server owns the three shared pools under one mutex.
//
// Invariant: a session is in at most one of connected and disconnected, and
// nicknames are unique across both.
type Server struct {
	serverCfg  config.ServerConfig
	sessionCfg config.SessionConfig
	rules      Rules
	version    string
	results    *Recorder
	logger     *zap.Logger

	mu           sync.Mutex
	connected    []*session.Session
	disconnected []*session.Session
	rooms        []*room.Room
	gamesStarted int
	gamesPlayed  int

	nudge chan struct{}
}

// NewServer creates an empty registry.
//
// Precondition: opts.Logger and opts.Random must be non-nil; opts.Fleet must be valid.
// Postcondition: Returns a Server ready to accept sessions.
func NewServer(opts Options) *Server {
	return &Server{
		serverCfg:  opts.Server,
		sessionCfg: opts.Session,
		rules: Rules{
			Fleet:  opts.Fleet,
			Random: opts.Random,
			Idle:   opts.Session.TimeoutShort,
		},
		version: opts.Version,
		results: opts.Results,
		logger:  opts.Logger,
		nudge:   make(chan struct{}, 1),
	}
}

// Lock acquires the registry lock.
func (srv *Server) Lock() { srv.mu.Lock() }

// Unlock releases the registry lock.
func (srv *Server) Unlock() { srv.mu.Unlock() }

// HandleSession greets ch, admits it if the connected pool has room, and
// drives its state machine until the session ends.
//
// Postcondition: The returned error is ErrClientLimit for refused
// connections, otherwise the error that ended the session.
func (srv *Server) HandleSession(ctx context.Context, ch session.Channel) error {
	s := session.New(ch, srv.logger)
	if err := s.Send(protocol.WelcomeMsg(srv.version, srv.serverCfg.MaxClients, srv.serverCfg.MaxRooms)); err != nil {
		return err
	}

	if err := srv.admit(s); err != nil {
		return err
	}
	s.Logger().Info("session admitted")
	return NewMachine(srv, srv.rules, s).Run(ctx)
}

// admit adds s to the connected pool, or refuses it with LIMIT_CLIENTS and
// CONN_TERM when the pool is full.
func (srv *Server) admit(s *session.Session) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if len(srv.connected) >= srv.serverCfg.MaxClients {
		_ = s.Send(protocol.LimitClientsMsg(srv.serverCfg.MaxClients))
		_ = s.Send(protocol.ConnTermMsg())
		s.Logger().Info("connection refused", zap.Int("max_clients", srv.serverCfg.MaxClients))
		return ErrClientLimit
	}
	srv.connected = append(srv.connected, s)
	return nil
}

// Stats returns the current pool sizes and game counters.
func (srv *Server) Stats() Stats {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return Stats{
		Connected:    len(srv.connected),
		Disconnected: len(srv.disconnected),
		Rooms:        len(srv.rooms),
		GamesStarted: srv.gamesStarted,
		GamesPlayed:  srv.gamesPlayed,
	}
}

// The methods below implement Registry; callers hold the registry lock.

// NicknameConnected reports whether a connected session uses nickname.
func (srv *Server) NicknameConnected(nickname string) bool {
	for _, s := range srv.connected {
		if s.Nickname() == nickname {
			return true
		}
	}
	return false
}

// FindDisconnected returns the disconnected session using nickname, or nil.
func (srv *Server) FindDisconnected(nickname string) *session.Session {
	for _, s := range srv.disconnected {
		if s.Nickname() == nickname {
			return s
		}
	}
	return nil
}

// IsDisconnected reports whether s is in the disconnected pool.
func (srv *Server) IsDisconnected(s *session.Session) bool {
	return indexOf(srv.disconnected, s) >= 0
}

// EvictDisconnected removes s from the disconnected pool for good.
func (srv *Server) EvictDisconnected(s *session.Session) {
	if removeFrom(&srv.disconnected, s) {
		s.Logger().Info("disconnected session evicted")
	}
}

// RoomLimit returns the effective room cap.
func (srv *Server) RoomLimit() int {
	return min(srv.serverCfg.MaxRooms, maxCodes)
}

// CreateRoom allocates a room with a fresh random code.
//
// Postcondition: Returns the new room, or ErrRoomLimit.
func (srv *Server) CreateRoom() (*room.Room, error) {
	if len(srv.rooms) >= srv.RoomLimit() {
		return nil, ErrRoomLimit
	}
	for {
		code := random.Digits(srv.rules.Random, room.CodeLength)
		if srv.FindRoom(code) != nil {
			continue
		}
		r := room.New(code)
		srv.rooms = append(srv.rooms, r)
		return r, nil
	}
}

// FindRoom returns the room with code, or nil.
func (srv *Server) FindRoom(code string) *room.Room {
	for _, r := range srv.rooms {
		if r.Code() == code {
			return r
		}
	}
	return nil
}

// RoomOf returns the room s is seated in, or nil.
func (srv *Server) RoomOf(s *session.Session) *room.Room {
	for _, r := range srv.rooms {
		if r.Contains(s) {
			return r
		}
	}
	return nil
}

// DestroyRoom removes r from the pool.
func (srv *Server) DestroyRoom(r *room.Room) {
	for i, x := range srv.rooms {
		if x == r {
			srv.rooms = append(srv.rooms[:i], srv.rooms[i+1:]...)
			srv.logger.Debug("room destroyed", zap.String("room", r.Code()))
			return
		}
	}
}

// GameStarted counts a game start.
func (srv *Server) GameStarted(r *room.Room) {
	srv.gamesStarted++
	srv.logger.Info("game started", zap.String("room", r.Code()))
}

// GameFinished counts a finished game and queues its result.
func (srv *Server) GameFinished(r *room.Room, winner, loser *session.Session) {
	srv.gamesPlayed++
	res := postgres.GameResult{
		ID:        uuid.New(),
		RoomCode:  r.Code(),
		Winner:    winner.Nickname(),
		Loser:     loser.Nickname(),
		Turns:     r.Turns(),
		StartedAt: r.Started(),
		EndedAt:   time.Now(),
	}
	srv.logger.Info("game finished",
		zap.String("room", res.RoomCode),
		zap.String("winner", res.Winner),
		zap.String("loser", res.Loser),
		zap.Int("turns", res.Turns),
	)
	if srv.results == nil {
		return
	}
	if err := srv.results.Push(res); err != nil {
		srv.logger.Warn("dropping game result", zap.String("result_id", res.ID.String()), zap.Error(err))
	}
}

// Disconnect removes s from the connected pool. A session that never got
// past the lobby is dropped with CONN_TERM; one seated in a room is kept in
// the disconnected pool with its room, board and turn intact, and its
// opponent is told it went quiet.
func (srv *Server) Disconnect(s *session.Session) {
	if !removeFrom(&srv.connected, s) {
		return
	}
	r := srv.RoomOf(s)
	if s.State() <= session.InLobby || r == nil {
		_ = s.Send(protocol.ConnTermMsg())
		_ = s.Close()
		s.Logger().Info("session dropped", zap.Stringer("state", s.State()))
		return
	}

	_ = s.Close()
	srv.disconnected = append(srv.disconnected, s)
	s.Logger().Info("session disconnected",
		zap.Stringer("state", s.State()),
		zap.String("room", r.Code()),
	)
	if opp, _ := r.Opponent(s); opp != nil {
		srv.notify(opp, protocol.OpponentNoResponseMsg(protocol.Short))
	}
	srv.wakeReaper()
}

// notify sends m to s, logging instead of failing. Opponents are reached
// best-effort; their own receive path detects a broken channel.
func (srv *Server) notify(s *session.Session, m protocol.Message) {
	if err := s.Send(m); err != nil {
		s.Logger().Debug("notification not delivered", zap.Stringer("type", m.Type), zap.Error(err))
	}
}

func (srv *Server) wakeReaper() {
	select {
	case srv.nudge <- struct{}{}:
	default:
	}
}

func indexOf(pool []*session.Session, s *session.Session) int {
	for i, x := range pool {
		if x == s {
			return i
		}
	}
	return -1
}

func removeFrom(pool *[]*session.Session, s *session.Session) bool {
	i := indexOf(*pool, s)
	if i < 0 {
		return false
	}
	*pool = append((*pool)[:i], (*pool)[i+1:]...)
	return true
}
