package gateway

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegisteredConnection(cm *ConnectionManager, roomID string) *Connection {
	conn := &Connection{
		ID:          uuid.NewString(),
		UID:         "player-1",
		RoomID:      roomID,
		Send:        make(chan []byte, 4),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		done:        make(chan struct{}),
	}
	cm.registerConnection(conn)
	return conn
}

// A disconnect must leave the connection safe for senders that have not yet
// observed the teardown: the timer-sync loop and the broadcast fan-out both
// write without holding the manager lock.
func TestSendAfterUnregisterIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	conn := newRegisteredConnection(cm, "room-1")

	var closedCalls atomic.Int32
	conn.OnClose = func() { closedCalls.Add(1) }

	cm.unregisterConnection(conn)
	require.Equal(t, int32(1), closedCalls.Load())

	require.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			conn.SendJSON(TimerFrame{Type: FrameTimer, RemainingSeconds: i})
		}
	})
	assert.Zero(t, len(conn.Send), "frames queued after teardown must be dropped")

	// Tearing down twice is harmless and OnClose still runs once.
	require.NotPanics(t, func() { cm.unregisterConnection(conn) })
	assert.Equal(t, int32(1), closedCalls.Load())
}

func TestConcurrentSendsDuringDisconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	for i := 0; i < 50; i++ {
		conn := newRegisteredConnection(cm, fmt.Sprintf("room-%d", i))

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					conn.SendJSON(TimerFrame{Type: FrameTimer, RemainingSeconds: 3})
				}
			}
		}()

		cm.unregisterConnection(conn)
		close(stop)
		wg.Wait()
	}
}
