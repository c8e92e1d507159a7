package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// changeNote is the LISTEN/NOTIFY payload describing one room mutation.
type changeNote struct {
	RoomID  string `json:"roomId"`
	Deleted bool   `json:"deleted"`
}

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// pgListener wraps a lib/pq LISTEN connection and forwards decoded change
// notes to the store's dispatch function.
type pgListener struct {
	listener *pq.Listener
	dispatch func(changeNote)
}

func newPGListener(dsn, channel string, dispatch func(changeNote)) (*pgListener, error) {
	l := pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("room listener event")
			}
		})
	if err := l.Listen(channel); err != nil {
		return nil, fmt.Errorf("listen on %s: %w", channel, err)
	}
	log.Info().Str("channel", channel).Msg("listening for room notifications")
	return &pgListener{listener: l, dispatch: dispatch}, nil
}

func (l *pgListener) run(ctx context.Context) {
	pingTicker := time.NewTicker(listenerPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was lost and
				// re-established; subscribers re-sync on the next change.
				continue
			}
			var change changeNote
			if err := json.Unmarshal([]byte(note.Extra), &change); err != nil {
				log.Error().Err(err).Str("payload", note.Extra).Msg("invalid room notification payload")
				continue
			}
			l.dispatch(change)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping room listener")
			}
		}
	}
}

func (l *pgListener) close() error {
	return l.listener.Close()
}
