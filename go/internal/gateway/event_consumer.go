package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/events"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// EventConsumer subscribes to the room event subjects and turns each event
// into a websocket broadcast. Every gateway instance consumes the full
// stream; each one only reaches the connections it holds.
type EventConsumer struct {
	nc      *nats.Conn
	manager *ConnectionManager
	sub     *nats.Subscription
}

// NewEventConsumer connects to NATS for consuming room events.
func NewEventConsumer(url string, manager *ConnectionManager) (*EventConsumer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &EventConsumer{nc: nc, manager: manager}, nil
}

// Start subscribes to all room event subjects.
func (ec *EventConsumer) Start() error {
	sub, err := ec.nc.Subscribe(events.SubjectWildcard, func(msg *nats.Msg) {
		var event events.RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal room event")
			return
		}
		ec.dispatch(event)
	})
	if err != nil {
		return fmt.Errorf("subscribe to room events: %w", err)
	}
	ec.sub = sub
	log.Info().Str("subject", events.SubjectWildcard).Msg("event consumer started")
	return nil
}

// LocalHook returns a store change hook that feeds the consumer directly,
// used when no message bus is configured (single instance deployments).
func (ec *EventConsumer) LocalHook() store.ChangeHook {
	return func(roomID string, room *models.Room, deleted bool) {
		event := events.RoomEvent{
			RoomID:    roomID,
			Timestamp: time.Now(),
			Room:      room,
		}
		if deleted {
			event.Type = events.EventTypeRoomDeleted
		} else {
			event.Type = events.EventTypeRoomUpdated
		}
		ec.dispatch(event)
	}
}

// NewLocalConsumer builds a consumer without a bus connection, for use with
// LocalHook only.
func NewLocalConsumer(manager *ConnectionManager) *EventConsumer {
	return &EventConsumer{manager: manager}
}

func (ec *EventConsumer) dispatch(event events.RoomEvent) {
	switch event.Type {
	case events.EventTypeRoomUpdated:
		if event.Room == nil {
			log.Warn().Str("room_id", event.RoomID).Msg("room updated event without room payload")
			return
		}
		data, err := json.Marshal(NewRoomStateFrame(event.Room))
		if err != nil {
			log.Error().Err(err).Str("room_id", event.RoomID).Msg("failed to marshal room state frame")
			return
		}
		ec.manager.BroadcastToRoom(event.RoomID, data)

	case events.EventTypeRoomDeleted:
		data, err := json.Marshal(RoomClosedFrame{Type: FrameRoomClosed})
		if err != nil {
			log.Error().Err(err).Str("room_id", event.RoomID).Msg("failed to marshal room closed frame")
			return
		}
		ec.manager.BroadcastToRoom(event.RoomID, data)

	default:
		log.Warn().Str("type", string(event.Type)).Msg("unknown room event type")
	}
}

// Close unsubscribes and drains the bus connection.
func (ec *EventConsumer) Close() {
	if ec.sub != nil {
		ec.sub.Unsubscribe()
	}
	if ec.nc != nil {
		ec.nc.Close()
	}
}
