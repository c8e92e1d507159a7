package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

func newTestActions(t *testing.T) (*Actions, *store.MemoryStore, *clockwork.FakeClock) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	clock := clockwork.NewFakeClock()
	actions := NewActions(st, clock)
	actions.pickQuestion = func() string { return "What is your go-to karaoke song?" }
	return actions, st, clock
}

var (
	alice = Identity{UID: "alice", Name: "Alice"}
	bob   = Identity{UID: "bob", Name: "Bob"}
	carol = Identity{UID: "carol", Name: "Carol"}
)

func TestCreateRoomDefaultsAndAISeat(t *testing.T) {
	actions, _, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "Friday Night", WithAISeat: true})
	require.NoError(t, err)

	assert.Equal(t, alice.UID, room.HostUID)
	assert.Equal(t, models.RoomStatusWaiting, room.Status)
	assert.Equal(t, models.DefaultMaxPlayers, room.MaxPlayers)
	assert.Equal(t, models.DefaultRounds, room.TotalRounds)
	assert.Len(t, room.GameCode, models.GameCodeLength)
	assert.NotEmpty(t, room.QuestionRoundID)

	require.Len(t, room.Players, 2)
	ai := room.AIPlayer()
	require.NotNil(t, ai)
	assert.Equal(t, models.AIPlayerName, ai.Name)
	assert.Equal(t, models.PlayerTypeAI, ai.Type)
}

func TestCreateRoomValidation(t *testing.T) {
	actions, _, _ := newTestActions(t)
	ctx := context.Background()

	_, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "   "})
	assert.True(t, IsValidation(err))

	_, err = actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "x", MaxPlayers: 1})
	assert.True(t, IsValidation(err))

	_, err = actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "x", MaxPlayers: models.AbsoluteMaxPlayers + 1})
	assert.True(t, IsValidation(err))

	_, err = actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "x", TotalRounds: models.MaxRounds + 1})
	assert.True(t, IsValidation(err))
}

func TestJoinByCode(t *testing.T) {
	actions, _, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)

	joined, err := actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)
	assert.Len(t, joined.Players, 2)

	// Joining again is a no-op success, not a duplicate seat.
	again, err := actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)
	assert.Len(t, again.Players, 2)

	_, err = actions.JoinByCode(ctx, carol, "ZZZZZ")
	assert.True(t, IsPrecondition(err))
}

func TestJoinRejectsFullAndStartedRooms(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room", MaxPlayers: 2})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	_, err = actions.JoinByCode(ctx, carol, room.GameCode)
	assert.True(t, IsPrecondition(err), "full room rejects joins")

	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{
		Status:  store.Ptr(models.RoomStatusAnswering),
		Players: store.Ptr([]models.Player{{UID: "alice", Type: models.PlayerTypeHuman}}),
	}))
	_, err = actions.JoinByCode(ctx, carol, room.GameCode)
	assert.True(t, IsPrecondition(err), "started room rejects joins")
}

func TestLeaveHandsOffHostAndDeletesEmptyRoom(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room", WithAISeat: true})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	require.NoError(t, actions.Leave(ctx, alice, room.ID))
	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.UID, updated.HostUID, "host hands off to the first remaining human")
	assert.Nil(t, updated.FindPlayer(alice.UID))

	// Last human out deletes the room even though the AI seat remains.
	require.NoError(t, actions.Leave(ctx, bob, room.ID))
	_, err = st.Get(ctx, room.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Leaving a room you are not in, or that is gone, is a quiet no-op.
	assert.NoError(t, actions.Leave(ctx, carol, room.ID))
}

func TestSubmitAnswerGuards(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	err = actions.SubmitAnswer(ctx, alice, room.ID, "pizza")
	assert.True(t, IsPrecondition(err), "no answers outside the answering phase")

	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(models.RoomStatusAnswering)}))

	assert.True(t, IsValidation(actions.SubmitAnswer(ctx, alice, room.ID, "  ")))
	require.NoError(t, actions.SubmitAnswer(ctx, alice, room.ID, "pizza"))

	err = actions.SubmitAnswer(ctx, alice, room.ID, "tacos")
	assert.True(t, IsPrecondition(err), "one answer per round")

	err = actions.SubmitAnswer(ctx, carol, room.ID, "pizza")
	assert.True(t, IsPrecondition(err), "non-members cannot answer")

	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	self := updated.FindPlayer(alice.UID)
	require.NotNil(t, self)
	assert.Equal(t, "pizza", self.Answer)
	assert.True(t, self.HasAnswered)
}

func TestCastVoteConcurrentDoubleVoteCountsOnce(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(models.RoomStatusVoting)}))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- actions.CastVote(ctx, alice, room.ID, bob.UID)
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, IsPrecondition(err))
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one of the concurrent votes lands")

	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	target := updated.FindPlayer(bob.UID)
	require.NotNil(t, target)
	assert.Equal(t, 1, target.VotesReceived)
	assert.True(t, updated.FindPlayer(alice.UID).HasVoted)
}

func TestCastVoteGuards(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	err = actions.CastVote(ctx, alice, room.ID, bob.UID)
	assert.True(t, IsPrecondition(err), "no votes outside the voting phase")

	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(models.RoomStatusVoting)}))

	err = actions.CastVote(ctx, alice, room.ID, "nobody")
	assert.True(t, IsPrecondition(err), "target must be a live seat")

	err = actions.CastVote(ctx, carol, room.ID, bob.UID)
	assert.True(t, IsPrecondition(err), "non-members cannot vote")
}

func TestStartGameGuards(t *testing.T) {
	actions, st, clock := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)

	err = actions.StartGame(ctx, alice, room.ID)
	assert.True(t, IsPrecondition(err), "a lone human cannot start")

	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	err = actions.StartGame(ctx, bob, room.ID)
	assert.True(t, IsPrecondition(err), "only the host starts the game")

	clock.Advance(time.Second)
	require.NoError(t, actions.StartGame(ctx, alice, room.ID))

	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusQuestionDisplay, updated.Status)
	assert.NotEmpty(t, updated.CurrentQuestion)
	assert.Equal(t, 0, updated.QuestionIndex)
	assert.NotEqual(t, room.QuestionRoundID, updated.QuestionRoundID)

	err = actions.StartGame(ctx, alice, room.ID)
	assert.True(t, IsPrecondition(err), "starting twice is rejected")
}

func TestStartGameWithAISeatNeedsOneHuman(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "solo", WithAISeat: true})
	require.NoError(t, err)

	require.NoError(t, actions.StartGame(ctx, alice, room.ID))
	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusQuestionDisplay, updated.Status)
}

func TestAdvanceRoundEliminatesAndDealsNextQuestion(t *testing.T) {
	actions, st, clock := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room", TotalRounds: 2})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, carol, room.GameCode)
	require.NoError(t, err)
	require.NoError(t, actions.StartGame(ctx, alice, room.ID))

	players := []models.Player{
		{UID: "alice", Type: models.PlayerTypeHuman, HasVoted: true},
		{UID: "bob", Type: models.PlayerTypeHuman, HasVoted: true, VotesReceived: 2, Answer: "tacos", HasAnswered: true},
		{UID: "carol", Type: models.PlayerTypeHuman, HasVoted: true},
	}
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{
		Status:  store.Ptr(models.RoomStatusResults),
		Players: &players,
	}))
	before, err := st.Get(ctx, room.ID)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, actions.AdvanceRound(ctx, alice, room.ID))

	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusQuestionDisplay, updated.Status)
	assert.Equal(t, 1, updated.QuestionIndex)
	assert.NotEqual(t, before.QuestionRoundID, updated.QuestionRoundID)

	votedOut := updated.FindPlayer(bob.UID)
	require.NotNil(t, votedOut)
	assert.True(t, votedOut.IsEliminated)
	assert.Empty(t, votedOut.Answer)
	assert.Zero(t, votedOut.VotesReceived)
	assert.False(t, updated.FindPlayer(alice.UID).HasVoted)
}

func TestAdvanceRoundFinishesAfterLastRound(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room", TotalRounds: 1})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)
	require.NoError(t, actions.StartGame(ctx, alice, room.ID))
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{Status: store.Ptr(models.RoomStatusResults)}))

	err = actions.AdvanceRound(ctx, bob, room.ID)
	assert.True(t, IsPrecondition(err), "only the host advances the round")

	require.NoError(t, actions.AdvanceRound(ctx, alice, room.ID))
	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusFinished, updated.Status)
}

func TestRestartReturnsFinishedRoomToWaiting(t *testing.T) {
	actions, st, _ := newTestActions(t)
	ctx := context.Background()

	room, err := actions.CreateRoom(ctx, alice, CreateRoomRequest{Name: "room"})
	require.NoError(t, err)
	_, err = actions.JoinByCode(ctx, bob, room.GameCode)
	require.NoError(t, err)

	err = actions.Restart(ctx, alice, room.ID)
	assert.True(t, IsPrecondition(err), "only finished rooms restart")

	players := []models.Player{
		{UID: "alice", Type: models.PlayerTypeHuman},
		{UID: "bob", Type: models.PlayerTypeHuman, IsEliminated: true},
	}
	require.NoError(t, st.Update(ctx, room.ID, &store.RoomPatch{
		Status:  store.Ptr(models.RoomStatusFinished),
		Players: &players,
	}))

	require.NoError(t, actions.Restart(ctx, alice, room.ID))
	updated, err := st.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusWaiting, updated.Status)
	assert.Empty(t, updated.CurrentQuestion)
	assert.False(t, updated.FindPlayer(bob.UID).IsEliminated)
}
