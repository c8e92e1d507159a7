package game

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

func arbiterRoom(status models.RoomStatus, players ...models.Player) *models.Room {
	return &models.Room{
		ID:              "room-1",
		HostUID:         "host",
		Players:         players,
		Status:          status,
		QuestionRoundID: "q0-1",
		TotalRounds:     3,
	}
}

func TestEvaluateTransitionQuestionDisplay(t *testing.T) {
	room := arbiterRoom(models.RoomStatusQuestionDisplay,
		models.Player{UID: "host", Type: models.PlayerTypeHuman},
	)

	_, ok := EvaluateTransition(room, false)
	assert.False(t, ok, "question display only advances on the clock")

	next, ok := EvaluateTransition(room, true)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusAnswering, next)
}

func TestEvaluateTransitionAnsweringCompletes(t *testing.T) {
	room := arbiterRoom(models.RoomStatusAnswering,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasAnswered: true},
		models.Player{UID: "b", Type: models.PlayerTypeHuman, HasAnswered: false},
	)

	_, ok := EvaluateTransition(room, false)
	assert.False(t, ok)

	room.Players[1].HasAnswered = true
	next, ok := EvaluateTransition(room, false)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusVoting, next)
}

func TestEvaluateTransitionAnsweringWaitsForAISeat(t *testing.T) {
	room := arbiterRoom(models.RoomStatusAnswering,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasAnswered: true},
		models.Player{UID: "ai-1", Type: models.PlayerTypeAI, HasAnswered: false},
	)
	room.AIPlayerID = "ai-1"

	_, ok := EvaluateTransition(room, false)
	assert.False(t, ok, "completion waits for the AI seat's answer")

	// The clock overrides a missing AI answer.
	next, ok := EvaluateTransition(room, true)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusVoting, next)
}

func TestEvaluateTransitionEliminatedPlayersDoNotBlock(t *testing.T) {
	room := arbiterRoom(models.RoomStatusAnswering,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasAnswered: true},
		models.Player{UID: "b", Type: models.PlayerTypeHuman, IsEliminated: true},
	)

	next, ok := EvaluateTransition(room, false)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusVoting, next)
}

func TestEvaluateTransitionVotingToResults(t *testing.T) {
	room := arbiterRoom(models.RoomStatusVoting,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasVoted: true, VotesReceived: 1},
		models.Player{UID: "b", Type: models.PlayerTypeHuman, HasVoted: true},
	)

	next, ok := EvaluateTransition(room, false)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusResults, next)
}

func TestEvaluateTransitionVotingSkipsResultsWhenAIVotedOut(t *testing.T) {
	room := arbiterRoom(models.RoomStatusVoting,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasVoted: true},
		models.Player{UID: "b", Type: models.PlayerTypeHuman, HasVoted: true, VotesReceived: 1},
		models.Player{UID: "ai-1", Type: models.PlayerTypeAI, VotesReceived: 2},
	)
	room.AIPlayerID = "ai-1"

	next, ok := EvaluateTransition(room, false)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusFinished, next, "unmasking the AI ends the game immediately")
}

func TestEvaluateTransitionVotingTieGoesToResults(t *testing.T) {
	room := arbiterRoom(models.RoomStatusVoting,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, HasVoted: true, VotesReceived: 1},
		models.Player{UID: "ai-1", Type: models.PlayerTypeAI, VotesReceived: 1},
	)
	room.AIPlayerID = "ai-1"

	next, ok := EvaluateTransition(room, true)
	require.True(t, ok)
	assert.Equal(t, models.RoomStatusResults, next)
}

func TestEvaluateTransitionNoActiveHumansNeedsClock(t *testing.T) {
	room := arbiterRoom(models.RoomStatusVoting,
		models.Player{UID: "host", Type: models.PlayerTypeHuman, IsEliminated: true},
		models.Player{UID: "ai-1", Type: models.PlayerTypeAI},
	)
	room.AIPlayerID = "ai-1"

	_, ok := EvaluateTransition(room, false)
	assert.False(t, ok, "with no active humans only the clock advances the room")

	_, ok = EvaluateTransition(room, true)
	assert.True(t, ok)
}

func TestEvaluateTransitionWaitingAndFinishedAreTerminalForTheArbiter(t *testing.T) {
	for _, status := range []models.RoomStatus{models.RoomStatusWaiting, models.RoomStatusFinished} {
		room := arbiterRoom(status, models.Player{UID: "host", Type: models.PlayerTypeHuman})
		_, ok := EvaluateTransition(room, true)
		assert.False(t, ok, "status %s must not auto-advance", status)
	}
}

func TestArbiterAppliesTransitionOnce(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	defer st.Close()

	room := arbiterRoom(models.RoomStatusQuestionDisplay,
		models.Player{UID: "host", Type: models.PlayerTypeHuman},
	)
	require.NoError(t, st.Create(ctx, room))

	arb := NewArbiter(st)
	require.NoError(t, arb.Observe(ctx, room, true))

	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusAnswering, updated.Status)

	// Re-observing the same stale snapshot must not write again.
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(models.RoomStatusVoting)}))
	require.NoError(t, arb.Observe(ctx, room, true))

	updated, err = st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusVoting, updated.Status)
}
