package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
)

const roomsSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rooms_game_code_idx ON rooms ((doc->>'gameCode'));
CREATE INDEX IF NOT EXISTS rooms_waiting_idx ON rooms ((doc->>'isPublic'), (doc->>'status'));
`

const notifyChannel = "room_changes"

const txMaxRetries = 3

// PostgresStore keeps each room as one JSONB document and uses
// LISTEN/NOTIFY for change propagation, so every instance sees every
// mutation regardless of which instance committed it.
type PostgresStore struct {
	pool     *pgxpool.Pool
	fanout   *fanout
	listener *pgListener
	hook     ChangeHook
}

// NewPostgresStore connects to Postgres, ensures the schema, and starts the
// notification listener.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, roomsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure rooms schema: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		fanout: newFanout(),
	}
	listener, err := newPGListener(dsn, notifyChannel, s.dispatch)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("start room listener: %w", err)
	}
	s.listener = listener
	go listener.run(ctx)
	return s, nil
}

// SetChangeHook registers the hook invoked for every observed mutation.
func (s *PostgresStore) SetChangeHook(hook ChangeHook) {
	s.hook = hook
}

// Create stores a new room document. Fails if the id is already taken.
func (s *PostgresStore) Create(ctx context.Context, room *models.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		room.ID, doc)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return s.notifyRemote(ctx, room.ID, false)
}

// Get returns the current room document.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Room, error) {
	return s.getOne(ctx, `SELECT doc FROM rooms WHERE id = $1`, id)
}

// GetByCode finds the room carrying the given join code.
func (s *PostgresStore) GetByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	return s.getOne(ctx, `SELECT doc FROM rooms WHERE doc->>'gameCode' = $1 LIMIT 1`,
		strings.ToUpper(gameCode))
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg any) (*models.Room, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, query, arg).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room: %w", err)
	}
	return unmarshalRoom(doc)
}

// Update merges the patch into the document via JSONB concatenation, which
// gives last-write-wins per top-level field.
func (s *PostgresStore) Update(ctx context.Context, id string, patch *RoomPatch) error {
	fields, err := json.Marshal(patch.Fields())
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET doc = doc || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, fields)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.notifyRemote(ctx, id, false)
}

// AppendPlayer atomically appends a seat to the players array without
// reading the full document first.
func (s *PostgresStore) AppendPlayer(ctx context.Context, id string, player models.Player) error {
	elem, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("marshal player: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms
		 SET doc = jsonb_set(doc, '{players}', (doc->'players') || $2::jsonb),
		     updated_at = now()
		 WHERE id = $1`,
		id, elem)
	if err != nil {
		return fmt.Errorf("append player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.notifyRemote(ctx, id, false)
}

// Transact runs fn against a row locked with SELECT ... FOR UPDATE, so the
// read and the write commit atomically with respect to other transactions on
// the same room. Serialization conflicts are retried internally.
func (s *PostgresStore) Transact(ctx context.Context, id string, fn TxFunc) error {
	var lastErr error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		err := s.transactOnce(ctx, id, fn)
		if err == nil || !isSerializationError(err) {
			return err
		}
		lastErr = err
		log.Debug().Err(err).Str("room_id", id).Int("attempt", attempt+1).
			Msg("transaction conflict, retrying")
	}
	return fmt.Errorf("transaction retries exhausted: %w", lastErr)
}

func (s *PostgresStore) transactOnce(ctx context.Context, id string, fn TxFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM rooms WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock room: %w", err)
	}
	room, err := unmarshalRoom(doc)
	if err != nil {
		return err
	}

	result, err := fn(room)
	if err != nil {
		return err
	}

	deleted := false
	if result.Delete {
		if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		deleted = true
	} else {
		fields, err := json.Marshal(result.Patch.Fields())
		if err != nil {
			return fmt.Errorf("marshal patch: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE rooms SET doc = doc || $2::jsonb, updated_at = now() WHERE id = $1`,
			id, fields); err != nil {
			return fmt.Errorf("update room: %w", err)
		}
	}

	payload, _ := json.Marshal(changeNote{RoomID: id, Deleted: deleted})
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify room change: %w", err)
	}
	return tx.Commit(ctx)
}

// Delete removes the room document.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return s.notifyRemote(ctx, id, true)
}

// ListWaiting returns joinable public rooms, oldest first, capped at limit.
func (s *PostgresStore) ListWaiting(ctx context.Context, limit int) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM rooms
		 WHERE (doc->>'isPublic')::boolean AND doc->>'status' = $1
		 ORDER BY doc->>'createdAt'
		 LIMIT NULLIF($2, 0)`,
		string(models.RoomStatusWaiting), limit)
	if err != nil {
		return nil, fmt.Errorf("query waiting rooms: %w", err)
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room, err := unmarshalRoom(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *room)
	}
	return out, rows.Err()
}

// Subscribe streams every subsequent state of the room.
func (s *PostgresStore) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	return s.fanout.subscribeRoom(id), nil
}

// SubscribeWaiting streams result sets of joinable public rooms.
func (s *PostgresStore) SubscribeWaiting(ctx context.Context, limit int) (*QuerySubscription, error) {
	sub := s.fanout.subscribeQuery(limit)
	rooms, err := s.ListWaiting(ctx, limit)
	if err != nil {
		sub.Close()
		return nil, err
	}
	s.fanout.publishQuery(rooms)
	return sub, nil
}

// Close shuts down subscriptions, the listener, and the pool.
func (s *PostgresStore) Close() error {
	s.fanout.closeAll()
	err := s.listener.close()
	s.pool.Close()
	return err
}

// notifyRemote publishes a change notification outside a transaction.
func (s *PostgresStore) notifyRemote(ctx context.Context, id string, deleted bool) error {
	payload, _ := json.Marshal(changeNote{RoomID: id, Deleted: deleted})
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload)); err != nil {
		return fmt.Errorf("notify room change: %w", err)
	}
	return nil
}

// dispatch is invoked by the listener for every notification, including the
// ones this instance produced. It re-reads the document so subscribers always
// observe committed state.
func (s *PostgresStore) dispatch(note changeNote) {
	ctx := context.Background()

	var room *models.Room
	if !note.Deleted {
		var err error
		room, err = s.Get(ctx, note.RoomID)
		if errors.Is(err, ErrNotFound) {
			note.Deleted = true
		} else if err != nil {
			log.Error().Err(err).Str("room_id", note.RoomID).Msg("failed to re-read room on notification")
			return
		}
	}

	s.fanout.publish(note.RoomID, Change{Room: room, Deleted: note.Deleted})
	if s.fanout.hasQuerySubs() {
		if rooms, err := s.ListWaiting(ctx, 0); err == nil {
			s.fanout.publishQuery(rooms)
		}
	}
	if s.hook != nil {
		s.hook(note.RoomID, room, note.Deleted)
	}
}

func unmarshalRoom(doc []byte) (*models.Room, error) {
	var room models.Room
	if err := json.Unmarshal(doc, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room: %w", err)
	}
	return &room, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure / deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
