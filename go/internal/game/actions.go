package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/questions"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// Identity is the acting participant. Authentication is upstream; by the
// time an action runs, the uid is trusted.
type Identity struct {
	UID  string
	Name string
}

// Actions is the set of room mutations a participant can perform. Every
// action follows the same guard pattern: read the latest state (or rely on
// the transaction's fresh read), verify phase, membership, and per-round
// flags, then write.
type Actions struct {
	store        store.RoomStore
	clock        clockwork.Clock
	pickQuestion func() string
}

// NewActions wires the action handlers to a room store.
func NewActions(st store.RoomStore, clock clockwork.Clock) *Actions {
	return &Actions{
		store:        st,
		clock:        clock,
		pickQuestion: questions.Random,
	}
}

// CreateRoomRequest carries the session parameters fixed at creation.
type CreateRoomRequest struct {
	Name        string
	MaxPlayers  int
	TotalRounds int
	IsPublic    bool
	WithAISeat  bool
}

// CreateRoom builds a new room with the caller as host and, optionally, one
// AI seat.
func (a *Actions) CreateRoom(ctx context.Context, who Identity, req CreateRoomRequest) (*models.Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, validationf("room name must not be blank")
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = models.DefaultMaxPlayers
	}
	if maxPlayers < models.MinPlayersForRoom || maxPlayers > models.AbsoluteMaxPlayers {
		return nil, validationf("room must allow between %d and %d players",
			models.MinPlayersForRoom, models.AbsoluteMaxPlayers)
	}
	rounds := req.TotalRounds
	if rounds == 0 {
		rounds = models.DefaultRounds
	}
	if rounds < models.MinRounds || rounds > models.MaxRounds {
		return nil, validationf("rounds must be between %d and %d", models.MinRounds, models.MaxRounds)
	}

	host := newHumanPlayer(who, 1)
	players := []models.Player{host}

	aiPlayerID := ""
	if req.WithAISeat {
		aiSeat := models.Player{
			UID:  "ai-" + uuid.NewString(),
			Name: models.AIPlayerName,
			Type: models.PlayerTypeAI,
		}
		if len(players)+1 > maxPlayers {
			return nil, validationf("cannot add the AI seat without exceeding the player limit")
		}
		players = append(players, aiSeat)
		aiPlayerID = aiSeat.UID
	}

	now := a.clock.Now().UTC()
	room := &models.Room{
		ID:              uuid.NewString(),
		Name:            name,
		HostUID:         who.UID,
		Players:         players,
		GameCode:        models.NewGameCode(),
		Status:          models.RoomStatusWaiting,
		QuestionRoundID: models.NewQuestionRoundID(0, now),
		MaxPlayers:      maxPlayers,
		TotalRounds:     rounds,
		AIPlayerID:      aiPlayerID,
		IsPublic:        req.IsPublic,
		CreatedAt:       now,
	}

	if err := a.store.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	log.Info().
		Str("room_id", room.ID).
		Str("host_uid", who.UID).
		Str("game_code", room.GameCode).
		Bool("public", room.IsPublic).
		Msg("room created")
	return room, nil
}

// JoinByCode joins the private room carrying the given 5-character code.
// Joining a room the caller is already in is a no-op success.
func (a *Actions) JoinByCode(ctx context.Context, who Identity, gameCode string) (*models.Room, error) {
	code := strings.ToUpper(strings.TrimSpace(gameCode))
	if code == "" {
		return nil, validationf("game code must not be blank")
	}
	room, err := a.store.GetByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, preconditionf("room not found or invalid code")
	}
	if err != nil {
		return nil, fmt.Errorf("find room by code: %w", err)
	}
	return a.join(ctx, who, room)
}

// JoinPublic joins a discoverable room by id.
func (a *Actions) JoinPublic(ctx context.Context, who Identity, roomID string) (*models.Room, error) {
	room, err := a.store.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, preconditionf("this room no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return a.join(ctx, who, room)
}

func (a *Actions) join(ctx context.Context, who Identity, room *models.Room) (*models.Room, error) {
	if room.FindPlayer(who.UID) != nil {
		return room, nil
	}
	if len(room.Players) >= room.MaxPlayers {
		return nil, preconditionf("room is full")
	}
	if room.Status != models.RoomStatusWaiting {
		return nil, preconditionf("game has already started in this room")
	}

	joiner := newHumanPlayer(who, len(room.Players)+1)
	if err := a.store.AppendPlayer(ctx, room.ID, joiner); err != nil {
		return nil, fmt.Errorf("append player: %w", err)
	}

	// Re-read so the caller gets the canonical post-join state rather than a
	// locally patched guess.
	updated, err := a.store.Get(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("re-read room after join: %w", err)
	}
	log.Info().Str("room_id", room.ID).Str("uid", who.UID).Msg("player joined room")
	return updated, nil
}

// Leave removes the caller from the room. The last human out deletes the
// room; a departing host hands authority to the first remaining human in
// join order. Two concurrent leavers mutate the same array with conflicting
// intents, so the whole step is transactional.
func (a *Actions) Leave(ctx context.Context, who Identity, roomID string) error {
	err := a.store.Transact(ctx, roomID, func(room *models.Room) (*store.TxResult, error) {
		if room.FindPlayer(who.UID) == nil {
			return nil, store.ErrTxAborted
		}

		remaining := make([]models.Player, 0, len(room.Players))
		for _, p := range room.Players {
			if p.UID != who.UID {
				remaining = append(remaining, p)
			}
		}

		humansLeft := 0
		firstHumanUID := ""
		for _, p := range remaining {
			if p.Type == models.PlayerTypeHuman {
				if humansLeft == 0 {
					firstHumanUID = p.UID
				}
				humansLeft++
			}
		}
		if humansLeft == 0 {
			return &store.TxResult{Delete: true}, nil
		}

		hostUID := room.HostUID
		if hostUID == who.UID {
			hostUID = firstHumanUID
		}
		return &store.TxResult{Patch: &store.RoomPatch{
			Players: &remaining,
			HostUID: &hostUID,
		}}, nil
	})
	if errors.Is(err, store.ErrTxAborted) || errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	log.Info().Str("room_id", roomID).Str("uid", who.UID).Msg("player left room")
	return nil
}

// SubmitAnswer records the caller's answer for the current round. Each human
// writes once, to its own seat, so a plain whole-array read-modify-write is
// tolerated here; vote casting is the transactional one.
func (a *Actions) SubmitAnswer(ctx context.Context, who Identity, roomID, answer string) error {
	text := strings.TrimSpace(answer)
	if text == "" {
		return validationf("answer must not be empty")
	}

	room, err := a.store.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return preconditionf("this room no longer exists")
	}
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}

	if room.Status != models.RoomStatusAnswering {
		return preconditionf("answers are not being accepted right now")
	}
	self := room.FindPlayer(who.UID)
	if self == nil || self.Type != models.PlayerTypeHuman || self.IsEliminated {
		return preconditionf("only active human players can submit answers")
	}
	if self.HasAnswered {
		return preconditionf("you already answered this round")
	}

	players := make([]models.Player, len(room.Players))
	copy(players, room.Players)
	for i := range players {
		if players[i].UID == who.UID {
			players[i].Answer = text
			players[i].HasAnswered = true
		}
	}
	if err := a.store.Update(ctx, roomID, &store.RoomPatch{Players: &players}); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}
	log.Info().Str("room_id", roomID).Str("uid", who.UID).Msg("answer submitted")
	return nil
}

// CastVote records one vote for the target seat. The not-yet-voted check is
// re-run inside the transaction so two concurrent attempts by the same voter
// can never double-count.
func (a *Actions) CastVote(ctx context.Context, who Identity, roomID, targetUID string) error {
	err := a.store.Transact(ctx, roomID, func(room *models.Room) (*store.TxResult, error) {
		if room.Status != models.RoomStatusVoting {
			return nil, preconditionf("the voting phase has ended")
		}
		voter := room.FindPlayer(who.UID)
		if voter == nil || voter.Type != models.PlayerTypeHuman || voter.IsEliminated {
			return nil, preconditionf("only active human players can vote")
		}
		if voter.HasVoted {
			return nil, preconditionf("you already voted this round")
		}
		target := room.FindPlayer(targetUID)
		if target == nil || target.IsEliminated {
			return nil, preconditionf("that player cannot be voted for")
		}

		players := make([]models.Player, len(room.Players))
		copy(players, room.Players)
		for i := range players {
			if players[i].UID == targetUID {
				players[i].VotesReceived++
			}
			if players[i].UID == who.UID {
				players[i].HasVoted = true
			}
		}
		return &store.TxResult{Patch: &store.RoomPatch{Players: &players}}, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return preconditionf("this room no longer exists")
	}
	if err != nil {
		if IsPrecondition(err) {
			return err
		}
		return fmt.Errorf("cast vote: %w", err)
	}
	log.Info().Str("room_id", roomID).Str("uid", who.UID).Str("target_uid", targetUID).Msg("vote cast")
	return nil
}

// StartGame deals the first question. Host only; needs at least one human
// and at least two seats in total.
func (a *Actions) StartGame(ctx context.Context, who Identity, roomID string) error {
	room, err := a.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room.HostUID != who.UID {
		return preconditionf("only the host can start the game")
	}
	if room.Status != models.RoomStatusWaiting {
		return preconditionf("the game has already started")
	}
	minHumans := models.MinPlayersForRoom
	if room.AIPlayerID != "" {
		minHumans = 1
	}
	if room.HumanCount() < minHumans || len(room.Players) < models.MinPlayersForRoom {
		return preconditionf("not enough players to start")
	}

	players := models.ResetPlayersForRound(room.Players, true)
	patch := &store.RoomPatch{
		Status:          store.Ptr(models.RoomStatusQuestionDisplay),
		CurrentQuestion: store.Ptr(a.pickQuestion()),
		QuestionIndex:   store.Ptr(0),
		QuestionRoundID: store.Ptr(models.NewQuestionRoundID(0, a.clock.Now())),
		Players:         &players,
	}
	if err := a.store.Update(ctx, roomID, patch); err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	log.Info().Str("room_id", roomID).Msg("game started")
	return nil
}

// AdvanceRound moves the room out of RESULTS: it applies the previous
// round's elimination, then either deals the next question or finishes the
// game when the final round is done.
func (a *Actions) AdvanceRound(ctx context.Context, who Identity, roomID string) error {
	room, err := a.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room.HostUID != who.UID {
		return preconditionf("only the host can advance the round")
	}
	if room.Status != models.RoomStatusResults {
		return preconditionf("the round is not over yet")
	}

	players := make([]models.Player, len(room.Players))
	copy(players, room.Players)
	if votedOut := room.MostVoted(); votedOut != nil && votedOut.Type == models.PlayerTypeHuman {
		for i := range players {
			if players[i].UID == votedOut.UID {
				players[i].IsEliminated = true
			}
		}
	}

	if room.IsLastRound() {
		patch := &store.RoomPatch{
			Status:  store.Ptr(models.RoomStatusFinished),
			Players: &players,
		}
		if err := a.store.Update(ctx, roomID, patch); err != nil {
			return fmt.Errorf("finish game: %w", err)
		}
		log.Info().Str("room_id", roomID).Msg("game finished, all rounds played")
		return nil
	}

	nextIndex := room.QuestionIndex + 1
	players = models.ResetPlayersForRound(players, false)
	patch := &store.RoomPatch{
		Status:          store.Ptr(models.RoomStatusQuestionDisplay),
		CurrentQuestion: store.Ptr(a.pickQuestion()),
		QuestionIndex:   store.Ptr(nextIndex),
		QuestionRoundID: store.Ptr(models.NewQuestionRoundID(nextIndex, a.clock.Now())),
		Players:         &players,
	}
	if err := a.store.Update(ctx, roomID, patch); err != nil {
		return fmt.Errorf("advance round: %w", err)
	}
	log.Info().Str("room_id", roomID).Int("round", nextIndex).Msg("round advanced")
	return nil
}

// Restart returns a finished room to the waiting state, reusing the room id
// and seats and clearing eliminations, so the same group can play again.
func (a *Actions) Restart(ctx context.Context, who Identity, roomID string) error {
	room, err := a.store.Get(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	if room.HostUID != who.UID {
		return preconditionf("only the host can restart the game")
	}
	if room.Status != models.RoomStatusFinished {
		return preconditionf("the game is still in progress")
	}

	players := models.ResetPlayersForRound(room.Players, true)
	patch := &store.RoomPatch{
		Status:          store.Ptr(models.RoomStatusWaiting),
		CurrentQuestion: store.Ptr(""),
		QuestionIndex:   store.Ptr(0),
		QuestionRoundID: store.Ptr(models.NewQuestionRoundID(0, a.clock.Now())),
		Players:         &players,
	}
	if err := a.store.Update(ctx, roomID, patch); err != nil {
		return fmt.Errorf("restart game: %w", err)
	}
	log.Info().Str("room_id", roomID).Msg("room reset for a new game")
	return nil
}

func newHumanPlayer(who Identity, seat int) models.Player {
	name := strings.TrimSpace(who.Name)
	if name == "" {
		name = fmt.Sprintf("Player %d", seat)
	}
	return models.Player{
		UID:  who.UID,
		Name: name,
		Type: models.PlayerTypeHuman,
	}
}
