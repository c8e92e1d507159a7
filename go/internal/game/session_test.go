package game

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// Plays a full one-round game: a lone human against the AI seat. The clock
// moves the room out of question display, the responder answers for the AI,
// completion advances to voting, and voting out the AI finishes the game
// without a results phase.
func TestSessionSoloRoundUnmasksAI(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	defer st.Close()
	clock := clockwork.NewFakeClock()

	actions := NewActions(st, clock)
	actions.pickQuestion = func() string { return "Best late night snack?" }

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{
		Name:        "one on one",
		TotalRounds: 1,
		WithAISeat:  true,
	})
	require.NoError(t, err)

	responder := NewResponder(st, &stubGenerator{answer: "Kale chips"})
	session := NewSession(alice, room.ID, st, clock, responder)
	go func() {
		require.NoError(t, session.Run(ctx))
	}()

	status := func() models.RoomStatus {
		current, err := st.Get(ctx, room.ID)
		if err != nil {
			return ""
		}
		return current.Status
	}

	require.NoError(t, actions.StartGame(ctx, alice, room.ID))
	require.Eventually(t, func() bool {
		return session.Remaining() == models.QuestionDisplaySeconds
	}, time.Second, time.Millisecond, "countdown picks up the question display phase")

	// Run the display countdown out; the host session must then move the
	// room into the answering phase.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := models.QuestionDisplaySeconds - 1; i >= 1; i-- {
		clock.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool {
			return session.Remaining() == want
		}, time.Second, time.Millisecond)
	}
	// The final tick expires the countdown and the host moves the room on;
	// the clock then immediately picks up the answering countdown.
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return status() == models.RoomStatusAnswering
	}, time.Second, time.Millisecond)

	// The responder fills in the AI seat on its own.
	require.Eventually(t, func() bool {
		current, err := st.Get(ctx, room.ID)
		if err != nil {
			return false
		}
		seat := current.AIPlayer()
		return seat != nil && seat.HasAnswered && seat.Answer == "Kale chips"
	}, time.Second, time.Millisecond)

	// The last human answer completes the phase without waiting for the
	// clock.
	require.NoError(t, actions.SubmitAnswer(ctx, alice, room.ID, "Cold pizza"))
	require.Eventually(t, func() bool {
		return status() == models.RoomStatusVoting
	}, time.Second, time.Millisecond)

	// Voting out the AI skips results and ends the game.
	require.NoError(t, actions.CastVote(ctx, alice, room.ID, room.AIPlayerID))
	require.Eventually(t, func() bool {
		return status() == models.RoomStatusFinished
	}, time.Second, time.Millisecond)
}

// Only the host's session may write phase transitions. A non-host session
// observing a fully completed phase, or its own clock running out, must
// leave the room status untouched.
func TestSessionNonHostNeverWritesTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	defer st.Close()
	clock := clockwork.NewFakeClock()
	actions := NewActions(st, clock)

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "guarded"})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	// Every human has answered, which would let a host session advance to
	// voting without waiting for the clock.
	current, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	players := make([]models.Player, len(current.Players))
	copy(players, current.Players)
	for i := range players {
		players[i].HasAnswered = true
		players[i].Answer = "done"
	}
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{
		Status:  store.Ptr(models.RoomStatusAnswering),
		Players: &players,
	}))

	session := NewSession(bob, room.ID, st, clock, nil)
	go func() {
		assert.NoError(t, session.Run(ctx))
	}()

	status := func() models.RoomStatus {
		current, err := st.Get(ctx, room.ID)
		if err != nil {
			return ""
		}
		return current.Status
	}

	require.Eventually(t, func() bool {
		return session.Remaining() == models.AnswerSeconds
	}, time.Second, time.Millisecond, "session attached to the answering phase")
	assert.Never(t, func() bool {
		return status() != models.RoomStatusAnswering
	}, 150*time.Millisecond, 10*time.Millisecond, "completed phase must wait for the host")

	// Run a timed phase's countdown all the way out on the non-host session.
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{
		Status:          store.Ptr(models.RoomStatusQuestionDisplay),
		QuestionRoundID: store.Ptr("q0-guarded"),
	}))
	require.Eventually(t, func() bool {
		return session.Remaining() == models.QuestionDisplaySeconds
	}, time.Second, time.Millisecond)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for i := models.QuestionDisplaySeconds - 1; i >= 0; i-- {
		clock.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool {
			return session.Remaining() == want
		}, time.Second, time.Millisecond)
	}
	assert.Never(t, func() bool {
		return status() != models.RoomStatusQuestionDisplay
	}, 150*time.Millisecond, 10*time.Millisecond, "clock expiry must not advance a non-host session")
}

func TestSessionClosesWhenRoomIsDeleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	defer st.Close()
	clock := clockwork.NewFakeClock()
	actions := NewActions(st, clock)

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "short lived"})
	require.NoError(t, err)

	var closed atomic.Bool
	session := NewSession(bob, room.ID, st, clock, nil)
	session.OnClosed = func() { closed.Store(true) }

	done := make(chan struct{})
	go func() {
		assert.NoError(t, session.Run(ctx))
		close(done)
	}()

	// Let the session attach before the room disappears.
	require.Eventually(t, func() bool {
		_, err := st.Get(ctx, room.ID)
		return err == nil
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, actions.Leave(ctx, alice, room.ID))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not end after room deletion")
	}
	assert.True(t, closed.Load())
}
