package models

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"time"
)

// PlayerType distinguishes human seats from the AI seat.
type PlayerType string

const (
	PlayerTypeHuman PlayerType = "human"
	PlayerTypeAI    PlayerType = "ai"
)

// RoomStatus defines the phase a room is in.
type RoomStatus string

const (
	RoomStatusWaiting         RoomStatus = "WAITING_ROOM"
	RoomStatusQuestionDisplay RoomStatus = "QUESTION_DISPLAY"
	RoomStatusAnswering       RoomStatus = "ANSWERING"
	RoomStatusVoting          RoomStatus = "VOTING"
	RoomStatusResults         RoomStatus = "RESULTS"
	RoomStatusFinished        RoomStatus = "FINISHED"
)

// Session parameters and phase durations. Durations are advisory on the
// client side; the server clock is authoritative for phase advancement.
const (
	QuestionDisplaySeconds = 5
	AnswerSeconds          = 45
	VoteSeconds            = 30

	MinPlayersForRoom  = 2
	AbsoluteMaxPlayers = 20
	DefaultMaxPlayers  = 5
	MinRounds          = 1
	MaxRounds          = 10
	DefaultRounds      = 5

	AIPlayerName     = "Agent AI"
	FallbackAIAnswer = "Bleep."

	GameCodeLength = 5
)

// Player is one seat in a room, human or AI. Per-round fields (Answer,
// VotesReceived, HasAnswered, HasVoted) never outlive their round: every
// entry into QUESTION_DISPLAY resets them for all seats.
type Player struct {
	UID           string     `json:"uid"`
	Name          string     `json:"name"`
	Type          PlayerType `json:"type"`
	Answer        string     `json:"answer"`
	VotesReceived int        `json:"votesReceived"`
	HasAnswered   bool       `json:"hasAnsweredCurrentQuestion"`
	HasVoted      bool       `json:"hasVotedThisRound"`
	IsEliminated  bool       `json:"isEliminated"`
}

// Room is the single shared document for one game session.
type Room struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	HostUID         string     `json:"hostUid"`
	Players         []Player   `json:"players"`
	GameCode        string     `json:"gameCode"`
	Status          RoomStatus `json:"status"`
	CurrentQuestion string     `json:"currentQuestion"`
	QuestionIndex   int        `json:"currentQuestionIndex"`
	QuestionRoundID string     `json:"questionRoundId"`
	MaxPlayers      int        `json:"maxPlayers"`
	TotalRounds     int        `json:"totalRounds"`
	AIPlayerID      string     `json:"aiPlayerId"`
	IsPublic        bool       `json:"isPublic"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Clone returns a deep copy of the room. Stores hand out clones so callers
// can never mutate shared state behind the store's back.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Players = make([]Player, len(r.Players))
	copy(cp.Players, r.Players)
	return &cp
}

// FindPlayer returns the seat with the given uid, or nil.
func (r *Room) FindPlayer(uid string) *Player {
	for i := range r.Players {
		if r.Players[i].UID == uid {
			return &r.Players[i]
		}
	}
	return nil
}

// AIPlayer returns the AI seat, or nil if the room has none.
func (r *Room) AIPlayer() *Player {
	if r.AIPlayerID == "" {
		return nil
	}
	return r.FindPlayer(r.AIPlayerID)
}

// ActiveHumans returns all human seats that have not been eliminated.
func (r *Room) ActiveHumans() []Player {
	var out []Player
	for _, p := range r.Players {
		if p.Type == PlayerTypeHuman && !p.IsEliminated {
			out = append(out, p)
		}
	}
	return out
}

// HumanCount returns the number of human seats, eliminated or not.
func (r *Room) HumanCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Type == PlayerTypeHuman {
			n++
		}
	}
	return n
}

// IsLastRound reports whether the current round is the final one.
func (r *Room) IsLastRound() bool {
	return r.QuestionIndex+1 >= r.TotalRounds
}

// MostVoted returns the seat holding the strict maximum of VotesReceived,
// provided the maximum is greater than zero and exactly one seat holds it.
// A tie at the maximum, or an all-zero round, returns nil: nobody is voted
// out and the game continues without elimination.
func (r *Room) MostVoted() *Player {
	max := 0
	for _, p := range r.Players {
		if p.VotesReceived > max {
			max = p.VotesReceived
		}
	}
	if max == 0 {
		return nil
	}
	var candidate *Player
	for i := range r.Players {
		if r.Players[i].VotesReceived == max {
			if candidate != nil {
				return nil
			}
			candidate = &r.Players[i]
		}
	}
	return candidate
}

// VotingOrder returns the uids of votable seats (not eliminated) shuffled
// deterministically from the round id, so every client renders the ballot in
// the same order without the seat list leaking join order.
func (r *Room) VotingOrder() []string {
	var uids []string
	for _, p := range r.Players {
		if !p.IsEliminated {
			uids = append(uids, p.UID)
		}
	}
	h := fnv.New64a()
	h.Write([]byte(r.QuestionRoundID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	rng.Shuffle(len(uids), func(i, j int) {
		uids[i], uids[j] = uids[j], uids[i]
	})
	return uids
}

// ResetPlayersForRound clears every seat's per-round fields. Elimination is
// sticky and only cleared when clearEliminations is set (new game, not new
// round).
func ResetPlayersForRound(players []Player, clearEliminations bool) []Player {
	out := make([]Player, len(players))
	for i, p := range players {
		p.Answer = ""
		p.VotesReceived = 0
		p.HasAnswered = false
		p.HasVoted = false
		if clearEliminations {
			p.IsEliminated = false
		}
		out[i] = p
	}
	return out
}

const gameCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewGameCode generates a 5-character join code. Codes are not guaranteed
// globally unique; collisions are treated as acceptably rare.
func NewGameCode() string {
	var b strings.Builder
	for i := 0; i < GameCodeLength; i++ {
		b.WriteByte(gameCodeAlphabet[rand.Intn(len(gameCodeAlphabet))])
	}
	return b.String()
}

// NewQuestionRoundID builds a round identifier that changes every time a new
// question is dealt, so late-arriving writes computed against an older round
// can be detected and discarded.
func NewQuestionRoundID(questionIndex int, now time.Time) string {
	return fmt.Sprintf("q%d-%d", questionIndex, now.UnixNano())
}
