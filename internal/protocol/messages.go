package protocol

import "strconv"

// Party names a side of a game relative to the recipient of a message.
type Party string

const (
	You      Party = "YOU"
	Opponent Party = "OPPONENT"
)

// Outcome is the result of a single guess.
type Outcome string

const (
	Hit  Outcome = "HIT"
	Miss Outcome = "MISS"
)

// Silence distinguishes a briefly unresponsive opponent from one that has
// been reaped.
type Silence string

const (
	Short Silence = "SHORT"
	Long  Silence = "LONG"
)

// Phase is the stage a rejoining session resumes in.
type Phase string

const (
	PhaseRoom Phase = "ROOM"
	PhaseGame Phase = "GAME"
)

// ServerName is announced in the WELCOME record.
const ServerName = "bserver - Battleship server"

// WelcomeMsg greets a freshly accepted connection.
func WelcomeMsg(version string, maxClients, maxRooms int) Message {
	return New(Welcome, ServerName, version, strconv.Itoa(maxClients), strconv.Itoa(maxRooms))
}

func KeepAliveMsg() Message { return New(KeepAlive) }

func AckMsg() Message { return New(Ack) }

func ConnTermMsg() Message { return New(ConnTerm) }

func LimitClientsMsg(limit int) Message { return New(LimitClients, strconv.Itoa(limit)) }

func LimitRoomsMsg(limit int) Message { return New(LimitRooms, strconv.Itoa(limit)) }

func NicknameExistsMsg() Message { return New(NicknameExists) }

func RoomCreatedMsg(code string) Message { return New(RoomCreated, code) }

func RoomNotExistsMsg() Message { return New(RoomNotExists) }

func RoomFullMsg() Message { return New(RoomFull) }

func BoardIllegalMsg() Message { return New(BoardIllegal) }

func OpponentNicknameSetMsg(nickname string) Message { return New(OpponentNicknameSet, nickname) }

func OpponentBoardReadyMsg() Message { return New(OpponentBoardReady) }

func OpponentRoomLeaveMsg() Message { return New(OpponentRoomLeave) }

// GameBeginMsg announces the game start, naming the recipient's opponent.
func GameBeginMsg(opponent string) Message { return New(GameBegin, opponent) }

func TurnSetMsg(p Party) Message { return New(TurnSet, string(p)) }

func TurnResultMsg(field string, o Outcome) Message { return New(TurnResult, field, string(o)) }

func OpponentTurnMsg(field string, o Outcome) Message { return New(OpponentTurn, field, string(o)) }

func TurnNotYouMsg() Message { return New(TurnNotYou) }

func TurnIllegalMsg() Message { return New(TurnIllegal) }

// GameEndMsg names the winner relative to the recipient.
func GameEndMsg(winner Party) Message { return New(GameEnd, string(winner)) }

func OpponentNoResponseMsg(s Silence) Message { return New(OpponentNoResponse, string(s)) }

func OpponentRejoinMsg() Message { return New(OpponentRejoin) }

func RejoinMsg(p Phase, code string) Message { return New(Rejoin, string(p), code) }

// BoardStateMsg carries a full board snapshot, one parameter per cell in
// row-major order, preceded by whose board it is.
func BoardStateMsg(owner Party, cells []string) Message {
	params := make([]string, 0, len(cells)+1)
	params = append(params, string(owner))
	params = append(params, cells...)
	return New(BoardState, params...)
}

// InvalidateFieldMsg marks a field on owner's board as guaranteed empty.
func InvalidateFieldMsg(owner Party, field string) Message {
	return New(InvalidateField, string(owner), field)
}
