package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// EvaluateTransition decides the single authoritative phase write for the
// given snapshot. It is a pure function of (status, players' flags, clock
// expiry), so it can be exercised without any store.
//
// Transitions:
//
//	QUESTION_DISPLAY -> ANSWERING          clock expiry only
//	ANSWERING        -> VOTING             clock expiry, or everyone answered
//	VOTING           -> RESULTS            clock expiry, or everyone voted
//	VOTING           -> FINISHED           same triggers, when the unique
//	                                       most-voted seat is the AI
//	RESULTS          -> FINISHED           when the unique most-voted seat is
//	                                       the AI (safety jump)
//
// Completion-based advancement requires at least one active human: a room
// with no active humans advances on the clock alone.
func EvaluateTransition(room *models.Room, clockExpired bool) (models.RoomStatus, bool) {
	switch room.Status {
	case models.RoomStatusQuestionDisplay:
		if clockExpired {
			return models.RoomStatusAnswering, true
		}

	case models.RoomStatusAnswering:
		if clockExpired || everyoneAnswered(room) {
			return models.RoomStatusVoting, true
		}

	case models.RoomStatusVoting:
		if clockExpired || everyoneVoted(room) {
			if aiVotedOut(room) {
				return models.RoomStatusFinished, true
			}
			return models.RoomStatusResults, true
		}

	case models.RoomStatusResults:
		if aiVotedOut(room) {
			return models.RoomStatusFinished, true
		}
	}
	return "", false
}

func everyoneAnswered(room *models.Room) bool {
	humans := room.ActiveHumans()
	if len(humans) == 0 {
		return false
	}
	for _, p := range humans {
		if !p.HasAnswered {
			return false
		}
	}
	if ai := room.AIPlayer(); ai != nil && !ai.HasAnswered {
		return false
	}
	return true
}

func everyoneVoted(room *models.Room) bool {
	humans := room.ActiveHumans()
	if len(humans) == 0 {
		return false
	}
	for _, p := range humans {
		if !p.HasVoted {
			return false
		}
	}
	return true
}

func aiVotedOut(room *models.Room) bool {
	votedOut := room.MostVoted()
	return votedOut != nil && votedOut.Type == models.PlayerTypeAI
}

// Arbiter issues the authoritative phase transitions for rooms this client
// hosts. Callers gate on host identity; the arbiter itself only dedupes so a
// transition already applied (or in flight) is not written again. Repeating
// a transition would be harmless — status writes are plain field updates,
// last-write-wins — the dedupe is an optimization, not a correctness need.
type Arbiter struct {
	store store.RoomStore

	mu      sync.Mutex
	applied map[string]string // roomID -> last transition key
}

// NewArbiter creates an arbiter writing through the given store.
func NewArbiter(st store.RoomStore) *Arbiter {
	return &Arbiter{
		store:   st,
		applied: make(map[string]string),
	}
}

// Observe re-evaluates the room against the latest snapshot and applies the
// transition if one is due.
func (a *Arbiter) Observe(ctx context.Context, room *models.Room, clockExpired bool) error {
	next, ok := EvaluateTransition(room, clockExpired)
	if !ok {
		return nil
	}

	key := fmt.Sprintf("%s|%s>%s", room.QuestionRoundID, room.Status, next)
	a.mu.Lock()
	if a.applied[room.ID] == key {
		a.mu.Unlock()
		return nil
	}
	a.applied[room.ID] = key
	a.mu.Unlock()

	err := a.store.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(next)})
	if err != nil {
		// Allow a retry on the next snapshot.
		a.mu.Lock()
		if a.applied[room.ID] == key {
			delete(a.applied, room.ID)
		}
		a.mu.Unlock()
		return fmt.Errorf("apply phase transition: %w", err)
	}

	log.Info().
		Str("room_id", room.ID).
		Str("from", string(room.Status)).
		Str("to", string(next)).
		Str("round_id", room.QuestionRoundID).
		Bool("clock_expired", clockExpired).
		Msg("phase transition applied")
	return nil
}

// Forget drops dedupe state for a room, e.g. when its session ends.
func (a *Arbiter) Forget(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.applied, roomID)
}
