package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/ai"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

const generateTimeout = 20 * time.Second

// Responder fills in the AI seat's answer. Every session observation can
// trigger it; an in-flight registry keyed by round id keeps one generator
// call per round, and the commit re-checks phase, round, and seat state
// inside a transaction so a stale or duplicate answer is dropped instead of
// written.
type Responder struct {
	store store.RoomStore
	gen   ai.Generator

	mu       sync.Mutex
	inFlight map[string]string // roomID -> round id being generated
}

// NewResponder creates a responder writing through the given store.
func NewResponder(st store.RoomStore, gen ai.Generator) *Responder {
	return &Responder{
		store:    st,
		gen:      gen,
		inFlight: make(map[string]string),
	}
}

// Observe checks whether the AI seat owes an answer for the snapshot's round
// and, if so, requests one asynchronously.
func (r *Responder) Observe(ctx context.Context, room *models.Room) {
	if room.Status != models.RoomStatusAnswering || room.AIPlayerID == "" || room.CurrentQuestion == "" {
		return
	}
	seat := room.AIPlayer()
	if seat == nil || seat.HasAnswered {
		return
	}

	roundID := room.QuestionRoundID
	r.mu.Lock()
	if r.inFlight[room.ID] == roundID {
		r.mu.Unlock()
		return
	}
	r.inFlight[room.ID] = roundID
	r.mu.Unlock()

	go r.answer(ctx, room.ID, roundID, room.CurrentQuestion)
}

func (r *Responder) answer(ctx context.Context, roomID, roundID, question string) {
	defer func() {
		r.mu.Lock()
		if r.inFlight[roomID] == roundID {
			delete(r.inFlight, roomID)
		}
		r.mu.Unlock()
	}()

	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	answer, err := r.gen.Answer(genCtx, question)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("answer generator failed, using fallback")
		answer = models.FallbackAIAnswer
	}

	err = r.store.Transact(ctx, roomID, func(room *models.Room) (*store.TxResult, error) {
		// A write computed against a stale round must be discarded even
		// though it would physically succeed.
		if room.Status != models.RoomStatusAnswering || room.QuestionRoundID != roundID {
			return nil, store.ErrTxAborted
		}
		seat := room.AIPlayer()
		if seat == nil || seat.HasAnswered {
			return nil, store.ErrTxAborted
		}

		players := make([]models.Player, len(room.Players))
		copy(players, room.Players)
		for i := range players {
			if players[i].UID == room.AIPlayerID {
				players[i].Answer = answer
				players[i].HasAnswered = true
			}
		}
		return &store.TxResult{Patch: &store.RoomPatch{Players: &players}}, nil
	})
	switch {
	case err == nil:
		log.Info().Str("room_id", roomID).Str("round_id", roundID).Msg("AI answer recorded")
	case errors.Is(err, store.ErrTxAborted), errors.Is(err, store.ErrNotFound):
		log.Debug().Str("room_id", roomID).Str("round_id", roundID).Msg("AI answer dropped as stale")
	default:
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to record AI answer")
	}
}
