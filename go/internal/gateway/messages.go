package gateway

import "github.com/unmaskgame/unmask/go/internal/models"

// Server-to-client frame types.
const (
	FrameRoomState  = "room_state"
	FrameRoomClosed = "room_closed"
	FrameTimer      = "timer"
	FrameLobbyRooms = "lobby_rooms"
	FrameError      = "error"
)

// Client-to-server action names.
const (
	ActionStartGame    = "start_game"
	ActionSubmitAnswer = "submit_answer"
	ActionCastVote     = "cast_vote"
	ActionAdvanceRound = "advance_round"
	ActionRestart      = "restart"
	ActionLeave        = "leave"
)

// RoomStateFrame carries the full room snapshot after every committed change.
// VotingOrder is only set during the voting phase; it is derived from the
// round id so every client renders the ballot identically.
type RoomStateFrame struct {
	Type        string       `json:"type"`
	Room        *models.Room `json:"room"`
	VotingOrder []string     `json:"votingOrder,omitempty"`
}

// NewRoomStateFrame builds the snapshot frame for a room.
func NewRoomStateFrame(room *models.Room) RoomStateFrame {
	frame := RoomStateFrame{Type: FrameRoomState, Room: room}
	if room.Status == models.RoomStatusVoting {
		frame.VotingOrder = room.VotingOrder()
	}
	return frame
}

// RoomClosedFrame tells clients the room document no longer exists.
type RoomClosedFrame struct {
	Type string `json:"type"`
}

// TimerFrame is the advisory per-phase countdown, pushed once a second while
// a timed phase is running.
type TimerFrame struct {
	Type             string `json:"type"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// LobbyRoomsFrame carries the current set of joinable public rooms.
type LobbyRoomsFrame struct {
	Type  string        `json:"type"`
	Rooms []models.Room `json:"rooms"`
}

// ErrorFrame reports a rejected action back to the acting client only.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionFrame is an inbound player action. Fields beyond Action are
// action-specific and ignored otherwise.
type ActionFrame struct {
	Action    string `json:"action"`
	Answer    string `json:"answer,omitempty"`
	TargetUID string `json:"targetUid,omitempty"`
}
