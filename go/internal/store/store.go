package store

import (
	"context"
	"errors"

	"github.com/unmaskgame/unmask/go/internal/models"
)

var (
	// ErrNotFound is returned when a room document does not exist.
	ErrNotFound = errors.New("room not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("room already exists")
	// ErrTxAborted signals that a transaction body observed a stale
	// precondition and dropped its write. It is a lost no-op, not a failure.
	ErrTxAborted = errors.New("transaction aborted")
)

// RoomPatch names the fields a plain update merges into a room document.
// Nil fields are left untouched; the store applies last-write-wins per field.
type RoomPatch struct {
	Name            *string
	HostUID         *string
	Players         *[]models.Player
	Status          *models.RoomStatus
	CurrentQuestion *string
	QuestionIndex   *int
	QuestionRoundID *string
	IsPublic        *bool
}

// Apply merges the set fields of the patch into the room.
func (p *RoomPatch) Apply(r *models.Room) {
	if p == nil {
		return
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.HostUID != nil {
		r.HostUID = *p.HostUID
	}
	if p.Players != nil {
		r.Players = make([]models.Player, len(*p.Players))
		copy(r.Players, *p.Players)
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CurrentQuestion != nil {
		r.CurrentQuestion = *p.CurrentQuestion
	}
	if p.QuestionIndex != nil {
		r.QuestionIndex = *p.QuestionIndex
	}
	if p.QuestionRoundID != nil {
		r.QuestionRoundID = *p.QuestionRoundID
	}
	if p.IsPublic != nil {
		r.IsPublic = *p.IsPublic
	}
}

// Fields returns the set fields keyed by their document (JSON) names.
// Backends that merge at the document level use this to build the partial
// write without touching unset fields.
func (p *RoomPatch) Fields() map[string]any {
	out := make(map[string]any)
	if p == nil {
		return out
	}
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.HostUID != nil {
		out["hostUid"] = *p.HostUID
	}
	if p.Players != nil {
		out["players"] = *p.Players
	}
	if p.Status != nil {
		out["status"] = *p.Status
	}
	if p.CurrentQuestion != nil {
		out["currentQuestion"] = *p.CurrentQuestion
	}
	if p.QuestionIndex != nil {
		out["currentQuestionIndex"] = *p.QuestionIndex
	}
	if p.QuestionRoundID != nil {
		out["questionRoundId"] = *p.QuestionRoundID
	}
	if p.IsPublic != nil {
		out["isPublic"] = *p.IsPublic
	}
	return out
}

// Ptr is a convenience for building patches.
func Ptr[T any](v T) *T { return &v }

// Change is one push from a room subscription. Deleted is set when the
// document was removed; Room is the post-change snapshot otherwise.
// Callbacks may fire without an actual field change, so consumers must be
// idempotent.
type Change struct {
	Room    *models.Room
	Deleted bool
}

// TxResult is what a transaction body returns: a patch to commit, or a
// request to delete the document outright.
type TxResult struct {
	Patch  *RoomPatch
	Delete bool
}

// TxFunc receives a freshly read room inside a transaction. Returning an
// error aborts without writing; ErrTxAborted marks the benign stale-write
// case. The read and the returned write are atomic with respect to other
// transactions on the same document.
type TxFunc func(room *models.Room) (*TxResult, error)

// Subscription streams every subsequent state of one room document.
type Subscription struct {
	C      <-chan Change
	cancel func()
}

// Close stops the subscription and releases its channel.
func (s *Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// QuerySubscription streams result sets of joinable public rooms.
type QuerySubscription struct {
	C      <-chan []models.Room
	cancel func()
}

// Close stops the subscription and releases its channel.
func (s *QuerySubscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ChangeHook observes every committed mutation, after local subscribers have
// been notified. The gateway bridge uses it to publish room events onto the
// message bus. Hooks may run on the store's notification path and must not
// call back into the store.
type ChangeHook func(roomID string, room *models.Room, deleted bool)

// RoomStore is the document-store contract the game logic is written
// against. Any backend offering per-document atomic read-modify-write (or
// optimistic locking) plus change notification can satisfy it.
type RoomStore interface {
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, id string) (*models.Room, error)
	GetByCode(ctx context.Context, gameCode string) (*models.Room, error)
	Update(ctx context.Context, id string, patch *RoomPatch) error
	AppendPlayer(ctx context.Context, id string, player models.Player) error
	Transact(ctx context.Context, id string, fn TxFunc) error
	Delete(ctx context.Context, id string) error
	ListWaiting(ctx context.Context, limit int) ([]models.Room, error)
	Subscribe(ctx context.Context, id string) (*Subscription, error)
	SubscribeWaiting(ctx context.Context, limit int) (*QuerySubscription, error)
	SetChangeHook(hook ChangeHook)
	Close() error
}
