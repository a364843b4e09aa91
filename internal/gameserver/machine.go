package gameserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/game/room"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/random"
	"github.com/cory-johannsen/battleship/internal/session"
)

// ErrInconsistent is returned when a session's state disagrees with the
// registry, such as a seated state without a room.
var ErrInconsistent = errors.New("session state inconsistent with registry")

// Registry is the shared-pool surface the state machine drives. Apart from
// Lock and Unlock, every method expects the caller to hold the lock.
type Registry interface {
	sync.Locker

	NicknameConnected(nickname string) bool
	FindDisconnected(nickname string) *session.Session
	IsDisconnected(s *session.Session) bool
	EvictDisconnected(s *session.Session)
	Reconnect(placeholder, retained *session.Session) error
	Disconnect(s *session.Session)

	RoomLimit() int
	CreateRoom() (*room.Room, error)
	FindRoom(code string) *room.Room
	RoomOf(s *session.Session) *room.Room
	DestroyRoom(r *room.Room)

	GameStarted(r *room.Room)
	GameFinished(r *room.Room, winner, loser *session.Session)
}

// Rules are the game parameters a Machine applies.
type Rules struct {
	Fleet  board.Fleet
	Random random.Source
	// Idle is how long a connected session may stay silent.
	Idle time.Duration
}

// Machine drives the protocol for one connection.
type Machine struct {
	reg     Registry
	rules   Rules
	session *session.Session
}

// NewMachine binds a state machine to s.
//
// Precondition: reg and s must be non-nil; s must be in reg's connected pool.
func NewMachine(reg Registry, rules Rules, s *session.Session) *Machine {
	return &Machine{reg: reg, rules: rules, session: s}
}

// Session returns the session currently driven. It changes when the
// connection reclaims a disconnected session.
func (m *Machine) Session() *session.Session { return m.session }

// handler processes one message. advance reports whether the machine moves
// to the transition's target state; handlers that set states themselves
// return false.
type handler func(m *Machine, msg protocol.Message) (advance bool, err error)

type transitionKey struct {
	state session.State
	msg   protocol.MessageType
}

type transition struct {
	handle handler
	next   session.State
}

var transitions = map[transitionKey]transition{
	{session.Init, protocol.NicknameSet}: {(*Machine).nicknameSet, session.InLobby},

	{session.InLobby, protocol.RoomCreate}: {(*Machine).roomCreate, session.InRoom},
	{session.InLobby, protocol.RoomJoin}:   {(*Machine).roomJoin, session.InRoom},

	{session.InRoom, protocol.RoomLeave}:  {(*Machine).roomLeave, session.InLobby},
	{session.InRoom, protocol.BoardReady}: {(*Machine).boardReady, session.InRoom},

	{session.InGame, protocol.RoomLeave}: {(*Machine).roomLeave, session.InLobby},
	{session.InGame, protocol.Turn}:      {(*Machine).turn, session.InGame},
}

// Accepts reports whether t is a legal inbound type in state st.
func Accepts(st session.State, t protocol.MessageType) bool {
	_, ok := transitions[transitionKey{st, t}]
	return ok
}

// Run receives and dispatches messages until the session fails. Every
// failure (transport, protocol, timeout or cancellation) ends in Disconnect.
//
// Postcondition: The session has been disconnected and the returned error
// names the cause.
func (m *Machine) Run(ctx context.Context) error {
	for {
		msg, err := m.session.Receive(ctx, m.rules.Idle)

		m.reg.Lock()
		if err == nil {
			err = m.Dispatch(msg)
		}
		if err != nil {
			m.logEnd(err)
			m.reg.Disconnect(m.session)
		}
		m.reg.Unlock()

		if err != nil {
			return err
		}
	}
}

func (m *Machine) logEnd(err error) {
	logger := m.session.Logger()
	switch {
	case errors.Is(err, session.ErrTimeout):
		logger.Info("session timed out")
	case errors.Is(err, protocol.ErrProtocol):
		logger.Warn("protocol violation", zap.Error(err))
	case errors.Is(err, ErrInconsistent):
		logger.Error("session state inconsistent", zap.Error(err))
	case errors.Is(err, context.Canceled):
		logger.Debug("session cancelled")
	default:
		logger.Info("session transport closed", zap.Error(err))
	}
}

// Dispatch runs the handler for msg in the current state.
//
// Precondition: the registry lock is held.
// Postcondition: Returns an error wrapping protocol.ErrProtocol if msg is
// not accepted in the current state; no handler runs in that case.
func (m *Machine) Dispatch(msg protocol.Message) error {
	from := m.session.State()
	t, ok := transitions[transitionKey{from, msg.Type}]
	if !ok {
		return fmt.Errorf("%w: %s not accepted in state %s", protocol.ErrProtocol, msg.Type, from)
	}
	advance, err := t.handle(m, msg)
	if err != nil {
		return err
	}
	if advance {
		m.session.SetState(t.next)
	}
	m.session.Logger().Debug("message handled",
		zap.Stringer("type", msg.Type),
		zap.Stringer("from", from),
		zap.Stringer("to", m.session.State()),
	)
	return nil
}

// reply sends to the driven session; failures end the session.
func (m *Machine) reply(msgs ...protocol.Message) error {
	for _, msg := range msgs {
		if err := m.session.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// tell sends to another session best-effort.
func (m *Machine) tell(s *session.Session, msgs ...protocol.Message) {
	for _, msg := range msgs {
		if err := s.Send(msg); err != nil {
			m.session.Logger().Debug("opponent notification not delivered",
				zap.Stringer("type", msg.Type),
				zap.Error(err),
			)
			return
		}
	}
}

// seat returns the room of the driven session and its opponent, which may
// be nil.
func (m *Machine) seat() (*room.Room, *session.Session, error) {
	r := m.reg.RoomOf(m.session)
	if r == nil {
		return nil, nil, fmt.Errorf("%w: session in state %s has no room", ErrInconsistent, m.session.State())
	}
	opp, err := r.Opponent(m.session)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: room %s: %w", ErrInconsistent, r.Code(), err)
	}
	return r, opp, nil
}
