// Package room pairs two sessions for a game: two slots, one board and one
// ready flag per slot, and an explicit turn pointer.
package room

import (
	"errors"
	"time"

	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/random"
	"github.com/cory-johannsen/battleship/internal/session"
)

// CodeLength is the number of digits in a room code.
const CodeLength = 4

// ErrRoomFull is returned by Join when both slots are occupied.
var ErrRoomFull = errors.New("room is full")

// ErrNotMember is returned when a session is not seated in the room.
var ErrNotMember = errors.New("session is not a member of the room")

// Room holds up to two sessions. It does not own the sessions; it owns their
// boards.
type Room struct {
	code    string
	clients [2]*session.Session
	boards  [2]*board.Board
	ready   [2]bool
	onTurn  int

	started time.Time
	turns   int
}

// New creates an empty room with the given code.
//
// Precondition: code must be unique among live rooms.
func New(code string) *Room {
	return &Room{code: code, boards: [2]*board.Board{board.New(), board.New()}}
}

// Code returns the room code.
func (r *Room) Code() string { return r.code }

func (r *Room) slot(s *session.Session) (int, bool) {
	for i, c := range r.clients {
		if c != nil && c == s {
			return i, true
		}
	}
	return 0, false
}

// Join seats s in the first empty slot.
//
// Postcondition: Returns nil with s seated, or ErrRoomFull.
func (r *Room) Join(s *session.Session) error {
	for i, c := range r.clients {
		if c == nil {
			r.clients[i] = s
			return nil
		}
	}
	return ErrRoomFull
}

// Contains reports whether s is seated in the room.
func (r *Room) Contains(s *session.Session) bool {
	_, ok := r.slot(s)
	return ok
}

// IsFull reports whether both slots are occupied.
func (r *Room) IsFull() bool {
	return r.clients[0] != nil && r.clients[1] != nil
}

// Members returns the seated sessions in slot order.
func (r *Room) Members() []*session.Session {
	out := make([]*session.Session, 0, 2)
	for _, c := range r.clients {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Opponent returns the occupant of the other slot, which is nil while that
// slot is empty.
//
// Postcondition: Returns ErrNotMember if s is not seated.
func (r *Room) Opponent(s *session.Session) (*session.Session, error) {
	i, ok := r.slot(s)
	if !ok {
		return nil, ErrNotMember
	}
	return r.clients[1-i], nil
}

// Board returns the board of s.
func (r *Room) Board(s *session.Session) (*board.Board, error) {
	i, ok := r.slot(s)
	if !ok {
		return nil, ErrNotMember
	}
	return r.boards[i], nil
}

// SetBoard stores b as the board of s and marks s ready.
func (r *Room) SetBoard(s *session.Session, b *board.Board) error {
	i, ok := r.slot(s)
	if !ok {
		return ErrNotMember
	}
	r.boards[i] = b
	r.ready[i] = true
	return nil
}

// IsReady reports whether s has a validated board in place. Sessions that
// are not seated are never ready.
func (r *Room) IsReady(s *session.Session) bool {
	i, ok := r.slot(s)
	return ok && r.ready[i]
}

// SetRandomOnTurn hands the first turn to a uniformly chosen slot and starts
// the game clock.
func (r *Room) SetRandomOnTurn(src random.Source) {
	r.onTurn = src.Intn(2)
	r.started = time.Now()
	r.turns = 0
}

// SetOpponentOnTurn passes the turn to the opponent of s.
func (r *Room) SetOpponentOnTurn(s *session.Session) error {
	i, ok := r.slot(s)
	if !ok {
		return ErrNotMember
	}
	r.onTurn = 1 - i
	return nil
}

// IsOnTurn reports whether s holds the turn.
func (r *Room) IsOnTurn(s *session.Session) bool {
	i, ok := r.slot(s)
	return ok && r.onTurn == i
}

// OnTurn returns the session holding the turn; nil if its slot is empty.
func (r *Room) OnTurn() *session.Session {
	return r.clients[r.onTurn]
}

// CountTurn records one legal guess for the game statistics.
func (r *Room) CountTurn() { r.turns++ }

// Turns returns the number of legal guesses in the running game.
func (r *Room) Turns() int { return r.turns }

// Started returns when the running game began.
func (r *Room) Started() time.Time { return r.started }

// ResetBoards clears both boards and ready flags for a rematch in the same
// room.
func (r *Room) ResetBoards() {
	r.boards = [2]*board.Board{board.New(), board.New()}
	r.ready = [2]bool{}
	r.turns = 0
}
