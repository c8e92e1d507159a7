package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
	"github.com/unmaskgame/unmask/go/internal/store"
)

// Publisher pushes room events onto NATS so gateways on every instance can
// fan them out to their websocket clients.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher connects to NATS with infinite reconnects.
func NewPublisher(url string) (*Publisher, error) {
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
	return &Publisher{nc: nc}, nil
}

// Publish sends one room event.
func (p *Publisher) Publish(event RoomEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal room event: %w", err)
	}
	if err := p.nc.Publish(Subject(event.RoomID), data); err != nil {
		return fmt.Errorf("publish room event: %w", err)
	}
	return nil
}

// Hook adapts the publisher to the store's change hook, so every committed
// mutation becomes a bus event.
func (p *Publisher) Hook() store.ChangeHook {
	return func(roomID string, room *models.Room, deleted bool) {
		event := RoomEvent{
			ID:        uuid.NewString(),
			RoomID:    roomID,
			Type:      EventTypeRoomUpdated,
			Timestamp: time.Now(),
			Room:      room,
		}
		if deleted {
			event.Type = EventTypeRoomDeleted
			event.Room = nil
		}
		if err := p.Publish(event); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("failed to publish room event")
		}
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
