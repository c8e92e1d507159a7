package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
)

const (
	roomKeyPrefix = "room:"
	codeKeyPrefix = "roomcode:"
	redisChannel  = "room_changes"

	redisTxMaxRetries = 5
)

// RedisStore keeps each room as one JSON value. It has no server-side
// transactions, so Transact is satisfied with WATCH/MULTI optimistic locking
// and an internal retry loop; change propagation rides Redis pub/sub.
type RedisStore struct {
	rdb    *redis.Client
	fanout *fanout
	pubsub *redis.PubSub
	hook   ChangeHook
}

// NewRedisStore connects to Redis and starts the pub/sub consumer.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	s := &RedisStore{
		rdb:    rdb,
		fanout: newFanout(),
		pubsub: rdb.Subscribe(ctx, redisChannel),
	}
	go s.consume(ctx)
	return s, nil
}

// SetChangeHook registers the hook invoked for every observed mutation.
func (s *RedisStore) SetChangeHook(hook ChangeHook) {
	s.hook = hook
}

func roomKey(id string) string   { return roomKeyPrefix + id }
func codeKey(code string) string { return codeKeyPrefix + strings.ToUpper(code) }

// Create stores a new room document. Fails if the id is already taken.
func (s *RedisStore) Create(ctx context.Context, room *models.Room) error {
	doc, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, roomKey(room.ID), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("set room: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	if err := s.rdb.Set(ctx, codeKey(room.GameCode), room.ID, 0).Err(); err != nil {
		return fmt.Errorf("index game code: %w", err)
	}
	return s.publish(ctx, room.ID, false)
}

// Get returns the current room document.
func (s *RedisStore) Get(ctx context.Context, id string) (*models.Room, error) {
	doc, err := s.rdb.Get(ctx, roomKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return unmarshalRoom(doc)
}

// GetByCode finds the room carrying the given join code.
func (s *RedisStore) GetByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	id, err := s.rdb.Get(ctx, codeKey(gameCode)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve game code: %w", err)
	}
	return s.Get(ctx, id)
}

// Update merges the patch into the document under optimistic locking so a
// concurrent writer cannot be clobbered at the document level.
func (s *RedisStore) Update(ctx context.Context, id string, patch *RoomPatch) error {
	return s.Transact(ctx, id, func(room *models.Room) (*TxResult, error) {
		return &TxResult{Patch: patch}, nil
	})
}

// AppendPlayer appends a seat to the players array.
func (s *RedisStore) AppendPlayer(ctx context.Context, id string, player models.Player) error {
	return s.Transact(ctx, id, func(room *models.Room) (*TxResult, error) {
		players := append(room.Players, player)
		return &TxResult{Patch: &RoomPatch{Players: &players}}, nil
	})
}

// Transact runs fn against a fresh read under WATCH. If another client
// writes the key between read and EXEC, the transaction fails and is retried
// with a fresh read.
func (s *RedisStore) Transact(ctx context.Context, id string, fn TxFunc) error {
	key := roomKey(id)
	for attempt := 0; attempt < redisTxMaxRetries; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			doc, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("get room: %w", err)
			}
			room, err := unmarshalRoom(doc)
			if err != nil {
				return err
			}

			result, err := fn(room)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if result.Delete {
					pipe.Del(ctx, key)
					pipe.Del(ctx, codeKey(room.GameCode))
					return nil
				}
				result.Patch.Apply(room)
				updated, err := json.Marshal(room)
				if err != nil {
					return fmt.Errorf("marshal room: %w", err)
				}
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			if err != nil {
				return err
			}
			return s.publish(ctx, id, result.Delete)
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("room_id", id).Int("attempt", attempt+1).
				Msg("optimistic lock conflict, retrying")
			continue
		}
		return err
	}
	return fmt.Errorf("transaction retries exhausted for room %s", id)
}

// Delete removes the room document.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.Transact(ctx, id, func(room *models.Room) (*TxResult, error) {
		return &TxResult{Delete: true}, nil
	})
}

// ListWaiting returns joinable public rooms, oldest first, capped at limit.
func (s *RedisStore) ListWaiting(ctx context.Context, limit int) ([]models.Room, error) {
	var out []models.Room
	iter := s.rdb.Scan(ctx, 0, roomKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		doc, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get room: %w", err)
		}
		room, err := unmarshalRoom(doc)
		if err != nil {
			return nil, err
		}
		if room.IsPublic && room.Status == models.RoomStatusWaiting {
			out = append(out, *room)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan rooms: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Subscribe streams every subsequent state of the room.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	return s.fanout.subscribeRoom(id), nil
}

// SubscribeWaiting streams result sets of joinable public rooms.
func (s *RedisStore) SubscribeWaiting(ctx context.Context, limit int) (*QuerySubscription, error) {
	sub := s.fanout.subscribeQuery(limit)
	rooms, err := s.ListWaiting(ctx, limit)
	if err != nil {
		sub.Close()
		return nil, err
	}
	s.fanout.publishQuery(rooms)
	return sub, nil
}

// Close shuts down subscriptions and the connection.
func (s *RedisStore) Close() error {
	s.fanout.closeAll()
	if err := s.pubsub.Close(); err != nil {
		return err
	}
	return s.rdb.Close()
}

func (s *RedisStore) publish(ctx context.Context, id string, deleted bool) error {
	payload, _ := json.Marshal(changeNote{RoomID: id, Deleted: deleted})
	if err := s.rdb.Publish(ctx, redisChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish room change: %w", err)
	}
	return nil
}

// consume receives change notes from pub/sub and dispatches them to local
// subscribers, re-reading the document so only committed state is observed.
func (s *RedisStore) consume(ctx context.Context) {
	for msg := range s.pubsub.Channel() {
		var note changeNote
		if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
			log.Error().Err(err).Str("payload", msg.Payload).Msg("invalid room change payload")
			continue
		}

		var room *models.Room
		if !note.Deleted {
			var err error
			room, err = s.Get(ctx, note.RoomID)
			if errors.Is(err, ErrNotFound) {
				note.Deleted = true
			} else if err != nil {
				log.Error().Err(err).Str("room_id", note.RoomID).Msg("failed to re-read room on notification")
				continue
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
}
