// Package protocol implements the line-framed wire format spoken between the
// battleship server and its clients: message types, the inbound arity
// catalog, escaping, and record framing.
package protocol

import "fmt"

// MessageType tags a Message.
type MessageType int

// Inbound and outbound message types.
const (
	Welcome MessageType = iota
	KeepAlive
	Ack
	LimitClients
	ConnTerm
	NicknameSet
	NicknameExists
	RoomCreate
	RoomCreated
	LimitRooms
	RoomJoin
	RoomNotExists
	RoomFull
	RoomLeave
	BoardReady
	BoardIllegal
	OpponentNicknameSet
	OpponentBoardReady
	OpponentRoomLeave
	GameBegin
	TurnSet
	Turn
	TurnResult
	OpponentTurn
	TurnNotYou
	TurnIllegal
	GameEnd
	OpponentNoResponse
	OpponentRejoin
	Rejoin
	BoardState
	InvalidateField
)

var typeTokens = map[MessageType]string{
	Welcome:             "WELCOME",
	KeepAlive:           "KEEP_ALIVE",
	Ack:                 "ACK",
	LimitClients:        "LIMIT_CLIENTS",
	ConnTerm:            "CONN_TERM",
	NicknameSet:         "NICKNAME_SET",
	NicknameExists:      "NICKNAME_EXISTS",
	RoomCreate:          "ROOM_CREATE",
	RoomCreated:         "ROOM_CREATED",
	LimitRooms:          "LIMIT_ROOMS",
	RoomJoin:            "ROOM_JOIN",
	RoomNotExists:       "ROOM_NOT_EXISTS",
	RoomFull:            "ROOM_FULL",
	RoomLeave:           "ROOM_LEAVE",
	BoardReady:          "BOARD_READY",
	BoardIllegal:        "BOARD_ILLEGAL",
	OpponentNicknameSet: "OPPONENT_NICKNAME_SET",
	OpponentBoardReady:  "OPPONENT_BOARD_READY",
	OpponentRoomLeave:   "OPPONENT_ROOM_LEAVE",
	GameBegin:           "GAME_BEGIN",
	TurnSet:             "TURN_SET",
	Turn:                "TURN",
	TurnResult:          "TURN_RESULT",
	OpponentTurn:        "OPPONENT_TURN",
	TurnNotYou:          "TURN_NOT_YOU",
	TurnIllegal:         "TURN_ILLEGAL",
	GameEnd:             "GAME_END",
	OpponentNoResponse:  "OPPONENT_NO_RESPONSE",
	OpponentRejoin:      "OPPONENT_REJOIN",
	Rejoin:              "REJOIN",
	BoardState:          "BOARD_STATE",
	InvalidateField:     "INVALIDATE_FIELD",
}

var tokenTypes = func() map[string]MessageType {
	m := make(map[string]MessageType, len(typeTokens))
	for t, tok := range typeTokens {
		m[tok] = t
	}
	return m
}()

// String returns the wire token of t.
func (t MessageType) String() string {
	if tok, ok := typeTokens[t]; ok {
		return tok
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// ParseType maps a wire token to its MessageType. Matching ignores ASCII
// case so that "Nickname_Set" and "NICKNAME_SET" name the same type; other
// bytes must match exactly.
//
// Postcondition: Returns (type, true) for a known token, or (0, false).
func ParseType(token string) (MessageType, bool) {
	t, ok := tokenTypes[upperASCII(token)]
	return t, ok
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// DefaultBoardCells is the number of ship cells in the default fleet and
// therefore the default BOARD_READY arity.
const DefaultBoardCells = 20

// Catalog declares the inbound message types and their exact parameter counts.
// A type missing from the catalog is not accepted from clients at all.
type Catalog map[MessageType]int

// DefaultCatalog returns the inbound catalog for the default fleet.
func DefaultCatalog() Catalog {
	return NewCatalog(DefaultBoardCells)
}

// NewCatalog returns the inbound catalog with BOARD_READY carrying boardCells
// field parameters.
//
// Precondition: boardCells > 0.
func NewCatalog(boardCells int) Catalog {
	return Catalog{
		KeepAlive:   0,
		Ack:         0,
		NicknameSet: 1,
		RoomCreate:  0,
		RoomJoin:    1,
		RoomLeave:   0,
		BoardReady:  boardCells,
		Turn:        1,
	}
}

// Arity returns the declared parameter count of t.
//
// Postcondition: Returns (count, true) if t is an inbound type, or (0, false).
func (c Catalog) Arity(t MessageType) (int, bool) {
	n, ok := c[t]
	return n, ok
}
