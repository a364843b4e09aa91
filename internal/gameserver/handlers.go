package gameserver

import (
	"errors"
	"fmt"

	"github.com/cory-johannsen/battleship/internal/game/board"
	"github.com/cory-johannsen/battleship/internal/protocol"
	"github.com/cory-johannsen/battleship/internal/session"
)

func (m *Machine) nicknameSet(msg protocol.Message) (bool, error) {
	nickname := msg.Param(0)
	if nickname == "" {
		return false, fmt.Errorf("%w: empty nickname", protocol.ErrProtocol)
	}
	if m.reg.NicknameConnected(nickname) {
		return false, m.reply(protocol.NicknameExistsMsg())
	}
	if retained := m.reg.FindDisconnected(nickname); retained != nil {
		err := m.reg.Reconnect(m.session, retained)
		m.session = retained
		return false, err
	}

	m.session.SetNickname(nickname)
	return true, m.reply(protocol.AckMsg())
}

func (m *Machine) roomCreate(protocol.Message) (bool, error) {
	r, err := m.reg.CreateRoom()
	if errors.Is(err, ErrRoomLimit) {
		return false, m.reply(protocol.LimitRoomsMsg(m.reg.RoomLimit()))
	}
	if err != nil {
		return false, err
	}
	if err := r.Join(m.session); err != nil {
		return false, err
	}
	return true, m.reply(protocol.RoomCreatedMsg(r.Code()))
}

func (m *Machine) roomJoin(msg protocol.Message) (bool, error) {
	r := m.reg.FindRoom(msg.Param(0))
	if r == nil {
		return false, m.reply(protocol.RoomNotExistsMsg())
	}
	if r.IsFull() {
		return false, m.reply(protocol.RoomFullMsg())
	}
	if err := r.Join(m.session); err != nil {
		return false, err
	}
	if err := m.reply(protocol.AckMsg()); err != nil {
		return false, err
	}

	opp, err := r.Opponent(m.session)
	if err != nil || opp == nil {
		return true, err
	}
	m.tell(opp, protocol.OpponentNicknameSetMsg(m.session.Nickname()))

	notices := []protocol.Message{protocol.OpponentNicknameSetMsg(opp.Nickname())}
	if r.IsReady(opp) {
		notices = append(notices, protocol.OpponentBoardReadyMsg())
	}
	if m.reg.IsDisconnected(opp) {
		notices = append(notices, protocol.OpponentNoResponseMsg(protocol.Short))
	}
	return true, m.reply(notices...)
}

func (m *Machine) roomLeave(protocol.Message) (bool, error) {
	r, opp, err := m.seat()
	if err != nil {
		return false, err
	}
	if err := m.reply(protocol.AckMsg()); err != nil {
		return false, err
	}
	m.session.SetState(session.InLobby)

	if opp != nil {
		opp.SetState(session.InLobby)
		if m.reg.IsDisconnected(opp) {
			m.reg.EvictDisconnected(opp)
		} else {
			m.tell(opp, protocol.OpponentRoomLeaveMsg())
		}
	}
	m.reg.DestroyRoom(r)
	return false, nil
}

func (m *Machine) boardReady(msg protocol.Message) (bool, error) {
	r, opp, err := m.seat()
	if err != nil {
		return false, err
	}
	if r.IsReady(m.session) {
		return false, fmt.Errorf("%w: board already submitted", protocol.ErrProtocol)
	}

	b, ok := m.parseBoard(msg.Params)
	if !ok {
		return false, m.reply(protocol.BoardIllegalMsg())
	}
	if err := r.SetBoard(m.session, b); err != nil {
		return false, err
	}
	if err := m.reply(protocol.AckMsg()); err != nil {
		return false, err
	}

	if opp == nil {
		return true, nil
	}
	m.tell(opp, protocol.OpponentBoardReadyMsg())
	if !r.IsReady(opp) {
		return true, nil
	}

	m.session.SetState(session.InGame)
	opp.SetState(session.InGame)
	r.SetRandomOnTurn(m.rules.Random)
	m.reg.GameStarted(r)

	mine, theirs := protocol.Opponent, protocol.You
	if r.IsOnTurn(m.session) {
		mine, theirs = protocol.You, protocol.Opponent
	}
	m.tell(opp, protocol.GameBeginMsg(m.session.Nickname()), protocol.TurnSetMsg(theirs))
	return false, m.reply(protocol.GameBeginMsg(opp.Nickname()), protocol.TurnSetMsg(mine))
}

// parseBoard builds a board from ship-cell fields and validates it against
// the fleet. Malformed or repeated fields make the placement illegal.
func (m *Machine) parseBoard(fields []string) (*board.Board, bool) {
	b := board.New()
	for _, p := range fields {
		f, err := board.ParseField(p)
		if err != nil || b.IsShip(f) {
			return nil, false
		}
		b.SetShip(f)
	}
	return b, b.IsValid(m.rules.Fleet)
}

func (m *Machine) turn(msg protocol.Message) (bool, error) {
	r, opp, err := m.seat()
	if err != nil {
		return false, err
	}
	if opp == nil {
		return false, fmt.Errorf("%w: game in room %s has no opponent", ErrInconsistent, r.Code())
	}
	if !r.IsOnTurn(m.session) {
		return false, m.reply(protocol.TurnNotYouMsg())
	}

	target, err := r.Board(opp)
	if err != nil {
		return false, err
	}
	f, err := board.ParseField(msg.Param(0))
	if err != nil || target.IsGuessed(f) || target.IsInvalidated(f) {
		return false, m.reply(protocol.TurnIllegalMsg())
	}

	r.CountTurn()
	field := f.String()
	outcome := protocol.Miss
	hit := target.Turn(f)
	if hit {
		outcome = protocol.Hit
	}

	mine := []protocol.Message{protocol.TurnResultMsg(field, outcome)}
	theirs := []protocol.Message{protocol.OpponentTurnMsg(field, outcome)}

	if !hit {
		if err := r.SetOpponentOnTurn(m.session); err != nil {
			return false, err
		}
		mine = append(mine, protocol.TurnSetMsg(protocol.Opponent))
		theirs = append(theirs, protocol.TurnSetMsg(protocol.You))
		m.tell(opp, theirs...)
		return true, m.reply(mine...)
	}

	for _, inv := range target.LatestInvalidated() {
		mine = append(mine, protocol.InvalidateFieldMsg(protocol.Opponent, inv.String()))
		theirs = append(theirs, protocol.InvalidateFieldMsg(protocol.You, inv.String()))
	}

	if target.AllShipsGuessed() {
		mine = append(mine, protocol.GameEndMsg(protocol.You))
		theirs = append(theirs, protocol.GameEndMsg(protocol.Opponent))
		m.reg.GameFinished(r, m.session, opp)
		r.ResetBoards()
		m.session.SetState(session.InRoom)
		opp.SetState(session.InRoom)
		m.tell(opp, theirs...)
		return false, m.reply(mine...)
	}

	m.tell(opp, theirs...)
	return true, m.reply(mine...)
}
