package game

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/unmaskgame/unmask/go/internal/models"
)

// PhaseDuration returns the countdown, in seconds, for a phase. Phases with
// no countdown return zero.
func PhaseDuration(status models.RoomStatus) int {
	switch status {
	case models.RoomStatusQuestionDisplay:
		return models.QuestionDisplaySeconds
	case models.RoomStatusAnswering:
		return models.AnswerSeconds
	case models.RoomStatusVoting:
		return models.VoteSeconds
	default:
		return 0
	}
}

// PhaseClock is the per-session countdown. It resets whenever the observed
// phase or round changes, ticks down once per second to a floor of zero, and
// never mutates the room itself: reaching zero only triggers a host
// re-evaluation. It is advisory, not an authority.
type PhaseClock struct {
	clock    clockwork.Clock
	onExpire func()

	mu        sync.Mutex
	status    models.RoomStatus
	roundID   string
	remaining int
	fired     bool
}

// NewPhaseClock creates a stopped clock. onExpire runs once per countdown,
// when the remaining time first reaches zero.
func NewPhaseClock(clock clockwork.Clock, onExpire func()) *PhaseClock {
	return &PhaseClock{
		clock:    clock,
		onExpire: onExpire,
		fired:    true,
	}
}

// Observe resets the countdown when the room's phase or round identifier
// differs from what the clock last saw. Observing the same phase twice is a
// no-op.
func (c *PhaseClock) Observe(room *models.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if room.Status == c.status && room.QuestionRoundID == c.roundID {
		return
	}
	c.status = room.Status
	c.roundID = room.QuestionRoundID
	c.remaining = PhaseDuration(room.Status)
	// Zero-duration phases have nothing to count down, so there is nothing
	// to fire either.
	c.fired = c.remaining == 0
}

// Remaining returns the seconds left in the current countdown.
func (c *PhaseClock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the current phase's countdown has run out. Phases
// without a countdown never report expiry.
func (c *PhaseClock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining == 0 && PhaseDuration(c.status) > 0
}

// Run ticks the countdown once per second until the context ends.
func (c *PhaseClock) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.tick()
		}
	}
}

func (c *PhaseClock) tick() {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
	}
	expired := c.remaining == 0 && !c.fired
	if expired {
		c.fired = true
	}
	onExpire := c.onExpire
	c.mu.Unlock()

	if expired && onExpire != nil {
		onExpire()
	}
}
