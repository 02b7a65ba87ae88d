package notify

import (
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// Broker is the in-process change feed. The store publishes an event after
// every committed mutation; subscribers receive the events for one session
// (or all sessions) on a buffered channel. Delivery is best-effort: a
// subscriber that cannot keep up has events dropped rather than blocking the
// publisher, so consumers must treat the feed as gap-prone and resync when
// (re)attaching.
type Broker struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscriber
	log  *zap.Logger
}

type subscriber struct {
	sessionID string // empty means all sessions
	ch        chan Event
}

func NewBroker(log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{subs: make(map[int]*subscriber), log: log}
}

// Publish fans the event out to every matching subscriber without blocking.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != ev.SessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("dropping change event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("resource", string(ev.Resource)),
				zap.String("session_id", ev.SessionID))
		}
	}
}

// Subscribe returns a channel of events scoped to one session and a cancel
// function. After cancel returns, no further events are delivered and the
// channel is closed.
func (b *Broker) Subscribe(sessionID string, buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = defaultBuffer
	}
	sub := &subscriber{sessionID: sessionID, ch: make(chan Event, buf)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// SubscribeAll is Subscribe without a session filter. The websocket hub uses
// it to route events to whichever rooms currently have clients.
func (b *Broker) SubscribeAll(buf int) (<-chan Event, func()) {
	return b.Subscribe("", buf)
}
