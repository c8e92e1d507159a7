package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/game"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

const lobbyRoomLimit = 10

// Handler exposes the REST entry points and the websocket endpoints. Room
// creation and joining happen over REST; everything after that flows through
// the room websocket.
type Handler struct {
	store     store.RoomStore
	actions   *game.Actions
	responder *game.Responder
	clock     clockwork.Clock
	manager   *ConnectionManager
}

// NewHandler wires the gateway surface.
func NewHandler(st store.RoomStore, actions *game.Actions, responder *game.Responder, clk clockwork.Clock, manager *ConnectionManager) *Handler {
	return &Handler{
		store:     st,
		actions:   actions,
		responder: responder,
		clock:     clk,
		manager:   manager,
	}
}

// Routes registers all gateway endpoints on the mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.handleCreateRoom)
	mux.HandleFunc("POST /api/rooms/join", h.handleJoinByCode)
	mux.HandleFunc("POST /api/rooms/{id}/join", h.handleJoinPublic)
	mux.HandleFunc("GET /api/rooms/public", h.handleListPublic)
	mux.HandleFunc("GET /ws/rooms/{id}", h.handleRoomSocket)
	mux.HandleFunc("GET /ws/lobby", h.handleLobbySocket)
}

type createRoomRequest struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	RoomName    string `json:"roomName"`
	MaxPlayers  int    `json:"maxPlayers"`
	TotalRounds int    `json:"totalRounds"`
	IsPublic    bool   `json:"isPublic"`
	WithAISeat  bool   `json:"withAiSeat"`
}

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UID == "" {
		writeJSONError(w, http.StatusBadRequest, "uid is required")
		return
	}

	room, err := h.actions.CreateRoom(r.Context(), game.Identity{UID: req.UID, Name: req.Name}, game.CreateRoomRequest{
		Name:        req.RoomName,
		MaxPlayers:  req.MaxPlayers,
		TotalRounds: req.TotalRounds,
		IsPublic:    req.IsPublic,
		WithAISeat:  req.WithAISeat,
	})
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

type joinRequest struct {
	UID      string `json:"uid"`
	Name     string `json:"name"`
	GameCode string `json:"gameCode,omitempty"`
}

func (h *Handler) handleJoinByCode(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UID == "" {
		writeJSONError(w, http.StatusBadRequest, "uid is required")
		return
	}

	room, err := h.actions.JoinByCode(r.Context(), game.Identity{UID: req.UID, Name: req.Name}, req.GameCode)
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) handleJoinPublic(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UID == "" {
		writeJSONError(w, http.StatusBadRequest, "uid is required")
		return
	}

	room, err := h.actions.JoinPublic(r.Context(), game.Identity{UID: req.UID, Name: req.Name}, r.PathValue("id"))
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) handleListPublic(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListWaiting(r.Context(), lobbyRoomLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list public rooms")
		writeJSONError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// handleRoomSocket attaches one participant to a room. The connection
// receives room_state frames for every committed change, a timer frame each
// second during timed phases, and accepts action frames back.
func (h *Handler) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	uid := r.URL.Query().Get("uid")
	name := r.URL.Query().Get("name")
	if uid == "" {
		writeJSONError(w, http.StatusBadRequest, "uid query parameter is required")
		return
	}

	if _, err := h.store.Get(r.Context(), roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "room not found")
			return
		}
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to read room before upgrade")
		writeJSONError(w, http.StatusInternalServerError, "failed to read room")
		return
	}

	conn, err := h.manager.Upgrade(w, r, uid, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		return
	}

	who := game.Identity{UID: uid, Name: name}
	ctx, cancel := context.WithCancel(context.Background())

	session := game.NewSession(who, roomID, h.store, h.clock, h.responder)

	// Broadcasts cover steady-state updates; the first observed snapshot is
	// pushed to this connection directly so it does not join blind.
	var seedOnce sync.Once
	session.OnSnapshot = func(room *models.Room) {
		seedOnce.Do(func() {
			conn.SendJSON(NewRoomStateFrame(room))
		})
	}
	session.OnClosed = func() {
		conn.SendJSON(RoomClosedFrame{Type: FrameRoomClosed})
		cancel()
	}

	conn.OnMessage = func(data []byte) {
		h.dispatchAction(ctx, conn, who, roomID, data)
	}
	conn.OnClose = cancel

	go func() {
		if err := session.Run(ctx); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Str("uid", uid).Msg("room session ended with error")
		}
		conn.Conn.Close()
	}()
	go h.runTimerSync(ctx, conn, session)

	conn.StartPumps()
}

// runTimerSync pushes the advisory countdown once a second while a timed
// phase is running. Clients render it; only the host's transition writes act
// on it.
func (h *Handler) runTimerSync(ctx context.Context, conn *Connection, session *game.Session) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remaining := session.Remaining()
			if remaining == last {
				continue
			}
			last = remaining
			conn.SendJSON(TimerFrame{Type: FrameTimer, RemainingSeconds: remaining})
		}
	}
}

func (h *Handler) dispatchAction(ctx context.Context, conn *Connection, who game.Identity, roomID string, data []byte) {
	var frame ActionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		conn.SendJSON(ErrorFrame{Type: FrameError, Code: "validation", Message: "invalid action frame"})
		return
	}

	var err error
	switch frame.Action {
	case ActionStartGame:
		err = h.actions.StartGame(ctx, who, roomID)
	case ActionSubmitAnswer:
		err = h.actions.SubmitAnswer(ctx, who, roomID, frame.Answer)
	case ActionCastVote:
		err = h.actions.CastVote(ctx, who, roomID, frame.TargetUID)
	case ActionAdvanceRound:
		err = h.actions.AdvanceRound(ctx, who, roomID)
	case ActionRestart:
		err = h.actions.Restart(ctx, who, roomID)
	case ActionLeave:
		err = h.actions.Leave(ctx, who, roomID)
	default:
		conn.SendJSON(ErrorFrame{Type: FrameError, Code: "validation", Message: "unknown action: " + frame.Action})
		return
	}

	if err != nil {
		conn.SendJSON(actionErrorFrame(err))
	}
}

// handleLobbySocket streams the joinable public room list so the lobby
// screen updates live instead of polling.
func (h *Handler) handleLobbySocket(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")

	sub, err := h.store.SubscribeWaiting(r.Context(), lobbyRoomLimit)
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to lobby rooms")
		writeJSONError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	conn, err := h.manager.Upgrade(w, r, uid, "lobby")
	if err != nil {
		sub.Close()
		log.Error().Err(err).Msg("lobby websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn.OnClose = cancel

	go func() {
		defer sub.Close()

		// Seed with the current list before streaming changes.
		rooms, err := h.store.ListWaiting(ctx, lobbyRoomLimit)
		if err != nil {
			log.Error().Err(err).Msg("failed to seed lobby room list")
		} else {
			conn.SendJSON(LobbyRoomsFrame{Type: FrameLobbyRooms, Rooms: rooms})
		}

		for {
			select {
			case <-ctx.Done():
				return
			case rooms, ok := <-sub.C:
				if !ok {
					return
				}
				conn.SendJSON(LobbyRoomsFrame{Type: FrameLobbyRooms, Rooms: rooms})
			}
		}
	}()

	conn.StartPumps()
}

func actionErrorFrame(err error) ErrorFrame {
	switch {
	case game.IsValidation(err):
		return ErrorFrame{Type: FrameError, Code: "validation", Message: err.Error()}
	case game.IsPrecondition(err):
		return ErrorFrame{Type: FrameError, Code: "precondition", Message: err.Error()}
	default:
		log.Error().Err(err).Msg("action failed")
		return ErrorFrame{Type: FrameError, Code: "internal", Message: "something went wrong, try again"}
	}
}

func writeActionError(w http.ResponseWriter, err error) {
	switch {
	case game.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case game.IsPrecondition(err):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
