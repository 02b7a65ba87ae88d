package view

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
)

// Reads is the full-resync read path: before a subscription attaches to the
// incremental feed, current state is refetched through it to repair any gap.
// store.Store satisfies it.
type Reads interface {
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	Balances(ctx context.Context, sessionID string) ([]domain.Balance, error)
}

// Source hands out scoped event channels; notify.Broker satisfies it.
type Source interface {
	Subscribe(sessionID string, buf int) (<-chan notify.Event, func())
}

type scopeKey struct {
	resource  notify.Resource
	sessionID string
}

type subscription struct {
	cancel func()
	done   chan struct{}
}

// Registry manages at most one live subscription per (resource, session)
// scope. Subscribing over an existing scope tears the old subscription down
// first, then resyncs the view from the store before attaching the new
// listener, so reconnects converge even though the feed alone is not
// gap-free.
type Registry struct {
	source Source
	reads  Reads
	log    *zap.Logger

	mu   sync.Mutex
	subs map[scopeKey]*subscription
}

func NewRegistry(source Source, reads Reads, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		source: source,
		reads:  reads,
		log:    log,
		subs:   make(map[scopeKey]*subscription),
	}
}

// Subscribe attaches v to the incremental feed for one resource of one
// session. Any existing subscription for the same scope is released first and
// the scope is resynchronized with a full fetch before events flow.
func (r *Registry) Subscribe(ctx context.Context, resource notify.Resource, sessionID string, v *SessionView) error {
	key := scopeKey{resource: resource, sessionID: sessionID}
	r.Unsubscribe(resource, sessionID)

	if err := r.resync(ctx, resource, sessionID, v); err != nil {
		return fmt.Errorf("resync %s/%s: %w", resource, sessionID, err)
	}

	ch, cancel := r.source.Subscribe(sessionID, 0)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.subs[key] = sub
	r.mu.Unlock()

	go func() {
		defer close(sub.done)
		for ev := range ch {
			if ev.Resource != resource {
				continue
			}
			v.Apply(ev)
		}
	}()

	r.log.Debug("subscription attached",
		zap.String("resource", string(resource)), zap.String("session_id", sessionID))
	return nil
}

// Unsubscribe releases the subscription for one scope, if any, and waits for
// its delivery goroutine to stop so no callback fires afterwards.
func (r *Registry) Unsubscribe(resource notify.Resource, sessionID string) {
	key := scopeKey{resource: resource, sessionID: sessionID}

	r.mu.Lock()
	sub, ok := r.subs[key]
	if ok {
		delete(r.subs, key)
	}
	r.mu.Unlock()

	if ok {
		sub.cancel()
		<-sub.done
	}
}

// Close releases every live subscription.
func (r *Registry) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[scopeKey]*subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}

func (r *Registry) resync(ctx context.Context, resource notify.Resource, sessionID string, v *SessionView) error {
	switch resource {
	case notify.ResourceSessions:
		sess, err := r.reads.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		v.ResetSession(sess)
	case notify.ResourceParticipants:
		parts, err := r.reads.Participants(ctx, sessionID)
		if err != nil {
			return err
		}
		v.ResetParticipants(parts)
	case notify.ResourceBalances:
		balances, err := r.reads.Balances(ctx, sessionID)
		if err != nil {
			return err
		}
		v.ResetBalances(balances)
	}
	return nil
}
