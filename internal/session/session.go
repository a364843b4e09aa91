// Package session tracks one player's server-side connection state: identity,
// protocol state, idle stamp and the channel the player is reachable on.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battleship/internal/protocol"
)

// ErrTimeout is returned by Receive when the idle budget elapses before a
// record arrives.
var ErrTimeout = errors.New("session idle timeout")

// ErrClosed is returned when operating on a closed channel.
var ErrClosed = errors.New("channel closed")

// State is a position in the per-connection protocol state machine.
type State int

const (
	// Init is the state of a fresh connection without a nickname.
	Init State = iota
	// InLobby is a named session outside any room.
	InLobby
	// InRoom is a session paired in a room, placing ships or between games.
	InRoom
	// InGame is a session in a running game.
	InGame
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case InLobby:
		return "in_lobby"
	case InRoom:
		return "in_room"
	case InGame:
		return "in_game"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Channel is the bidirectional record channel a session talks over.
//
// Implementations MUST allow Send and Close to be called concurrently with
// Receive, and Close MUST be safe to call more than once.
type Channel interface {
	// Receive blocks until a record is decoded, deadline passes, or ctx is
	// done. An elapsed deadline yields an error wrapping ErrTimeout; the
	// blocking read is interrupted, not abandoned.
	Receive(ctx context.Context, deadline time.Time) (protocol.Message, error)
	// Send writes one record.
	Send(m protocol.Message) error
	// Close releases the channel.
	Close() error
	// RemoteAddr names the peer for diagnostics.
	RemoteAddr() string
}

// Session is one player's connection state. Nickname and State are guarded
// by the registry lock of the owning server; the channel and idle stamp
// carry their own synchronization.
type Session struct {
	ID uuid.UUID

	nickname string
	state    State

	lastActive atomic.Int64

	mu     sync.Mutex
	ch     Channel
	logger *zap.Logger
}

// New creates a session in the Init state bound to ch.
//
// Precondition: ch and logger must be non-nil.
// Postcondition: LastActive is the creation time.
func New(ch Channel, logger *zap.Logger) *Session {
	id := uuid.New()
	s := &Session{
		ID: id,
		ch: ch,
		logger: logger.With(
			zap.String("session_id", id.String()),
			zap.String("remote_addr", ch.RemoteAddr()),
		),
	}
	s.Touch(time.Now())
	return s
}

// Nickname returns the bound nickname, or "" before NicknameSet.
func (s *Session) Nickname() string { return s.nickname }

// SetNickname binds the nickname and tags subsequent log lines with it.
func (s *Session) SetNickname(nickname string) {
	s.nickname = nickname
	s.mu.Lock()
	s.logger = s.logger.With(zap.String("nickname", nickname))
	s.mu.Unlock()
}

func (s *Session) State() State { return s.state }

func (s *Session) SetState(st State) { s.state = st }

// LastActive returns the time of the last successfully received record.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity at t.
func (s *Session) Touch(t time.Time) {
	s.lastActive.Store(t.UnixNano())
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Channel returns the channel the session currently talks over.
func (s *Session) Channel() Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// ReplaceChannel installs ch and returns the channel it replaces. Used when
// a reconnecting player's new connection is transplanted onto the retained
// session.
//
// Precondition: ch must be non-nil.
func (s *Session) ReplaceChannel(ch Channel) Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.ch
	s.ch = ch
	s.logger = s.logger.With(zap.String("remote_addr", ch.RemoteAddr()))
	return old
}

// Send writes m to the session's channel.
func (s *Session) Send(m protocol.Message) error {
	if err := s.Channel().Send(m); err != nil {
		return fmt.Errorf("sending %s: %w", m.Type, err)
	}
	return nil
}

// Close closes the session's channel.
func (s *Session) Close() error {
	return s.Channel().Close()
}

// Receive returns the next non-heartbeat message. The deadline of every
// read is LastActive plus idle; a received record of any type refreshes
// LastActive, and KEEP_ALIVE records are consumed here.
//
// Postcondition: Returns a message that is not KEEP_ALIVE, or an error
// wrapping ErrTimeout, ErrClosed, protocol.ErrProtocol or a transport error.
func (s *Session) Receive(ctx context.Context, idle time.Duration) (protocol.Message, error) {
	for {
		deadline := s.LastActive().Add(idle)
		msg, err := s.Channel().Receive(ctx, deadline)
		if err != nil {
			return protocol.Message{}, err
		}
		s.Touch(time.Now())
		if msg.Type == protocol.KeepAlive {
			continue
		}
		return msg, nil
	}
}
