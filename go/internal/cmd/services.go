package main

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/ai"
	"github.com/unmaskgame/unmask/go/internal/events"
	"github.com/unmaskgame/unmask/go/internal/game"
	"github.com/unmaskgame/unmask/go/internal/gateway"
	"github.com/unmaskgame/unmask/go/internal/store"
)

type Services struct {
	Store     store.RoomStore
	Actions   *game.Actions
	Responder *game.Responder
	Manager   *gateway.ConnectionManager
	Consumer  *gateway.EventConsumer
	Publisher *events.Publisher
	Handler   *gateway.Handler
}

// setupServices wires the dependency chain: store → game actions → gateway.
// Committed store mutations flow to websocket clients either over the bus
// (multi-instance) or straight into the local consumer.
func setupServices(config *Config, st store.RoomStore) (*Services, error) {
	clock := clockwork.NewRealClock()
	actions := game.NewActions(st, clock)

	var generator ai.Generator
	if config.AI.AnswerURL != "" {
		generator = ai.NewHTTPGenerator(config.AI.AnswerURL)
		log.Info().Str("url", config.AI.AnswerURL).Msg("using HTTP answer generator")
	} else {
		generator = ai.NewStaticGenerator()
		log.Info().Msg("no answer service configured, using static answer generator")
	}
	responder := game.NewResponder(st, generator)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	services := &Services{
		Store:     st,
		Actions:   actions,
		Responder: responder,
		Manager:   manager,
	}

	if config.Bus.Enabled {
		publisher, err := events.NewPublisher(config.Bus.URL)
		if err != nil {
			return nil, fmt.Errorf("setup event publisher: %w", err)
		}
		consumer, err := gateway.NewEventConsumer(config.Bus.URL, manager)
		if err != nil {
			publisher.Close()
			return nil, fmt.Errorf("setup event consumer: %w", err)
		}
		if err := consumer.Start(); err != nil {
			publisher.Close()
			consumer.Close()
			return nil, fmt.Errorf("start event consumer: %w", err)
		}
		st.SetChangeHook(publisher.Hook())
		services.Publisher = publisher
		services.Consumer = consumer
		log.Info().Str("url", config.Bus.URL).Msg("room events flowing through NATS")
	} else {
		consumer := gateway.NewLocalConsumer(manager)
		st.SetChangeHook(consumer.LocalHook())
		services.Consumer = consumer
		log.Info().Msg("no message bus configured, room events dispatched locally")
	}

	services.Handler = gateway.NewHandler(st, actions, responder, clock, manager)
	return services, nil
}

// Close tears the services down in reverse dependency order.
func (s *Services) Close() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Consumer != nil {
		s.Consumer.Close()
	}
	if err := s.Store.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close room store")
	}
}
