package store

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/unmaskgame/unmask/go/internal/models"
)

const subscriptionBuffer = 16

// fanout is the in-process subscriber registry shared by all backends.
// Remote backends feed it from their notification channel; the memory
// backend feeds it directly on every mutation.
type fanout struct {
	mu        sync.Mutex
	nextID    int
	roomSubs  map[string]map[int]chan Change
	querySubs map[int]*querySub
	closed    bool
}

type querySub struct {
	ch    chan []models.Room
	limit int
}

func newFanout() *fanout {
	return &fanout{
		roomSubs:  make(map[string]map[int]chan Change),
		querySubs: make(map[int]*querySub),
	}
}

func (f *fanout) subscribeRoom(roomID string) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Change, subscriptionBuffer)
	if f.roomSubs[roomID] == nil {
		f.roomSubs[roomID] = make(map[int]chan Change)
	}
	f.roomSubs[roomID][id] = ch

	return &Subscription{
		C: ch,
		cancel: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if subs, ok := f.roomSubs[roomID]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
				if len(subs) == 0 {
					delete(f.roomSubs, roomID)
				}
			}
		},
	}
}

func (f *fanout) subscribeQuery(limit int) *QuerySubscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	sub := &querySub{ch: make(chan []models.Room, subscriptionBuffer), limit: limit}
	f.querySubs[id] = sub

	return &QuerySubscription{
		C: sub.ch,
		cancel: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if s, ok := f.querySubs[id]; ok {
				delete(f.querySubs, id)
				close(s.ch)
			}
		},
	}
}

func (f *fanout) hasQuerySubs() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.querySubs) > 0
}

// publish pushes a change to every subscriber of the room. A slow consumer
// has its oldest buffered state dropped so the latest snapshot always lands.
func (f *fanout) publish(roomID string, change Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.roomSubs[roomID] {
		pushLatest(ch, change)
	}
}

func (f *fanout) publishQuery(rooms []models.Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, sub := range f.querySubs {
		page := rooms
		if sub.limit > 0 && len(page) > sub.limit {
			page = page[:sub.limit]
		}
		snapshot := make([]models.Room, len(page))
		copy(snapshot, page)
		select {
		case sub.ch <- snapshot:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snapshot:
			default:
				log.Warn().Msg("query subscriber not keeping up, dropping snapshot")
			}
		}
	}
}

func pushLatest(ch chan Change, change Change) {
	select {
	case ch <- change:
		return
	default:
	}
	// Buffer full: evict the oldest pending state and retry once.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- change:
	default:
		log.Warn().Msg("room subscriber not keeping up, dropping change")
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for roomID, subs := range f.roomSubs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(f.roomSubs, roomID)
	}
	for id, sub := range f.querySubs {
		close(sub.ch)
		delete(f.querySubs, id)
	}
}
