package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/unmaskgame/unmask/go/internal/models"
)

// MemoryStore is the in-process RoomStore backend. A single mutex serializes
// every mutation, which makes transactions trivially serializable. It is the
// backend used by tests and by single-instance deployments.
type MemoryStore struct {
	mu     sync.Mutex
	rooms  map[string]*models.Room
	fanout *fanout
	hook   ChangeHook
}

// NewMemoryStore creates an empty in-memory room store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:  make(map[string]*models.Room),
		fanout: newFanout(),
	}
}

// SetChangeHook registers the hook invoked after every committed mutation.
func (s *MemoryStore) SetChangeHook(hook ChangeHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Create stores a new room document. Fails if the id is already taken.
func (s *MemoryStore) Create(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	if _, exists := s.rooms[room.ID]; exists {
		s.mu.Unlock()
		return ErrAlreadyExists
	}
	s.rooms[room.ID] = room.Clone()
	s.notifyLocked(room.ID, room.Clone(), false)
	s.mu.Unlock()
	return nil
}

// Get returns the current room document.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return room.Clone(), nil
}

// GetByCode finds the room carrying the given join code.
func (s *MemoryStore) GetByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	code := strings.ToUpper(gameCode)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.GameCode == code {
			return room.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Update merges the patch into the document, last-write-wins per field.
func (s *MemoryStore) Update(ctx context.Context, id string, patch *RoomPatch) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	patch.Apply(room)
	s.notifyLocked(id, room.Clone(), false)
	s.mu.Unlock()
	return nil
}

// AppendPlayer atomically appends a seat to the players array.
func (s *MemoryStore) AppendPlayer(ctx context.Context, id string, player models.Player) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	room.Players = append(room.Players, player)
	s.notifyLocked(id, room.Clone(), false)
	s.mu.Unlock()
	return nil
}

// Transact runs fn against a fresh read of the document and commits its
// result atomically. The store mutex is held for the duration, so concurrent
// transactions on the same document are serialized.
func (s *MemoryStore) Transact(ctx context.Context, id string, fn TxFunc) error {
	s.mu.Lock()
	room, ok := s.rooms[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	result, err := fn(room.Clone())
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if result.Delete {
		delete(s.rooms, id)
		s.notifyLocked(id, nil, true)
		s.mu.Unlock()
		return nil
	}
	result.Patch.Apply(room)
	s.notifyLocked(id, room.Clone(), false)
	s.mu.Unlock()
	return nil
}

// Delete removes the room document.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.rooms[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.rooms, id)
	s.notifyLocked(id, nil, true)
	s.mu.Unlock()
	return nil
}

// ListWaiting returns joinable public rooms, oldest first, capped at limit.
func (s *MemoryStore) ListWaiting(ctx context.Context, limit int) ([]models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listWaitingLocked(limit), nil
}

func (s *MemoryStore) listWaitingLocked(limit int) []models.Room {
	var out []models.Room
	for _, room := range s.rooms {
		if room.IsPublic && room.Status == models.RoomStatusWaiting {
			out = append(out, *room.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Subscribe streams every subsequent state of the room.
func (s *MemoryStore) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	return s.fanout.subscribeRoom(id), nil
}

// SubscribeWaiting streams result sets of joinable public rooms. The current
// result set is delivered immediately.
func (s *MemoryStore) SubscribeWaiting(ctx context.Context, limit int) (*QuerySubscription, error) {
	sub := s.fanout.subscribeQuery(limit)

	s.mu.Lock()
	s.fanout.publishQuery(s.listWaitingLocked(limit))
	s.mu.Unlock()
	return sub, nil
}

// Close shuts down all subscriptions.
func (s *MemoryStore) Close() error {
	s.fanout.closeAll()
	return nil
}

// notifyLocked runs before the committing mutation releases the store mutex,
// so subscribers and the change hook observe commits in commit order. The
// fanout never blocks (full buffers evict their oldest entry), and the hook
// must not call back into the store.
func (s *MemoryStore) notifyLocked(id string, room *models.Room, deleted bool) {
	s.fanout.publish(id, Change{Room: room, Deleted: deleted})
	if s.fanout.hasQuerySubs() {
		s.fanout.publishQuery(s.listWaitingLocked(0))
	}
	if s.hook != nil {
		s.hook(id, room, deleted)
	}
}
