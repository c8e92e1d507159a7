package game

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// Session is one participant's live attachment to a room. It mirrors the
// room document from the store's change stream, drives the phase clock, and
// re-evaluates on every snapshot whether this participant is the host and
// therefore owes a phase transition. The responder is shared across
// sessions so the AI seat answers once per round no matter how many
// participants observe it.
type Session struct {
	who       Identity
	roomID    string
	store     store.RoomStore
	clock     *PhaseClock
	arbiter   *Arbiter
	responder *Responder

	// OnSnapshot, if set, receives every room state the session observes.
	OnSnapshot func(room *models.Room)
	// OnClosed, if set, fires when the room document disappears; the
	// participant is forced back to the lobby.
	OnClosed func()

	mu     sync.Mutex
	latest *models.Room
}

// NewSession wires a participant to a room.
func NewSession(who Identity, roomID string, st store.RoomStore, clk clockwork.Clock, responder *Responder) *Session {
	s := &Session{
		who:       who,
		roomID:    roomID,
		store:     st,
		arbiter:   NewArbiter(st),
		responder: responder,
	}
	s.clock = NewPhaseClock(clk, s.onClockExpired)
	return s
}

// Run subscribes to the room and processes snapshots until the context ends
// or the room is deleted.
func (s *Session) Run(ctx context.Context) error {
	sub, err := s.store.Subscribe(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("subscribe to room: %w", err)
	}
	defer sub.Close()
	defer s.arbiter.Forget(s.roomID)

	clockCtx, stopClock := context.WithCancel(ctx)
	defer stopClock()
	go s.clock.Run(clockCtx)

	// Seed from the current state; the subscription only pushes subsequent
	// changes.
	room, err := s.store.Get(ctx, s.roomID)
	if errors.Is(err, store.ErrNotFound) {
		s.closed()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read room: %w", err)
	}
	s.apply(ctx, room)

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C:
			if !ok {
				return nil
			}
			if change.Deleted {
				s.closed()
				return nil
			}
			s.apply(ctx, change.Room)
		}
	}
}

// Remaining exposes the advisory countdown for transport-level timer sync.
func (s *Session) Remaining() int {
	return s.clock.Remaining()
}

func (s *Session) apply(ctx context.Context, room *models.Room) {
	s.mu.Lock()
	s.latest = room
	s.mu.Unlock()

	s.clock.Observe(room)

	if s.OnSnapshot != nil {
		s.OnSnapshot(room)
	}
	if s.responder != nil {
		s.responder.Observe(ctx, room)
	}

	// Phase transitions are issued only by the host's session, and only
	// against the latest observed snapshot.
	if room.HostUID == s.who.UID {
		if err := s.arbiter.Observe(ctx, room, s.clock.Expired()); err != nil {
			log.Error().Err(err).Str("room_id", s.roomID).Msg("host arbiter write failed")
		}
	}
}

func (s *Session) onClockExpired() {
	s.mu.Lock()
	room := s.latest
	s.mu.Unlock()
	if room == nil || room.HostUID != s.who.UID {
		return
	}
	if err := s.arbiter.Observe(context.Background(), room, true); err != nil {
		log.Error().Err(err).Str("room_id", s.roomID).Msg("host arbiter write failed on clock expiry")
	}
}

func (s *Session) closed() {
	log.Info().Str("room_id", s.roomID).Str("uid", s.who.UID).Msg("room no longer exists")
	if s.OnClosed != nil {
		s.OnClosed()
	}
}
