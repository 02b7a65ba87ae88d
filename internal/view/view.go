// Package view holds the client half of the real-time sync layer: a reducer
// that folds row-level change events into a locally cached picture of one
// session, and a subscription registry that guarantees a single live feed per
// scope with a full resync on every (re)attach.
package view

import (
	"sort"
	"sync"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
)

// SessionView is the reconciled local state of one session: the session row,
// its participants and its balances, each indexed by row id. Apply is safe to
// call from subscription callbacks while readers take snapshots.
//
// Reconciliation rules: inserts are deduplicated by id, updates replace by id
// (per-row events arrive in commit order, so last write wins), deletes remove
// by id, events for other sessions are ignored. No ordering is assumed across
// rows.
type SessionView struct {
	mu        sync.RWMutex
	sessionID string

	session      *domain.Session
	participants map[string]domain.Participant
	balances     map[string]domain.Balance
}

func NewSessionView(sessionID string) *SessionView {
	return &SessionView{
		sessionID:    sessionID,
		participants: make(map[string]domain.Participant),
		balances:     make(map[string]domain.Balance),
	}
}

// Apply folds one change event into the view.
func (v *SessionView) Apply(ev notify.Event) {
	if ev.SessionID != v.sessionID {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Resource {
	case notify.ResourceSessions:
		if sess, ok := ev.Row.(domain.Session); ok {
			v.session = &sess
		}
	case notify.ResourceParticipants:
		switch ev.Kind {
		case notify.KindInsert:
			if _, exists := v.participants[ev.RowID]; exists {
				return
			}
			if p, ok := ev.Row.(domain.Participant); ok {
				v.participants[ev.RowID] = p
			}
		case notify.KindUpdate:
			if p, ok := ev.Row.(domain.Participant); ok {
				v.participants[ev.RowID] = p
			}
		case notify.KindDelete:
			delete(v.participants, ev.RowID)
		}
	case notify.ResourceBalances:
		switch ev.Kind {
		case notify.KindInsert:
			if _, exists := v.balances[ev.RowID]; exists {
				return
			}
			if b, ok := ev.Row.(domain.Balance); ok {
				v.balances[ev.RowID] = b
			}
		case notify.KindUpdate:
			if b, ok := ev.Row.(domain.Balance); ok {
				v.balances[ev.RowID] = b
			}
		case notify.KindDelete:
			delete(v.balances, ev.RowID)
		}
	}
}

// ResetSession replaces the cached session row from a resync fetch.
func (v *SessionView) ResetSession(sess *domain.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sess == nil {
		v.session = nil
		return
	}
	cp := *sess
	v.session = &cp
}

// ResetParticipants replaces the participant set from a resync fetch.
func (v *SessionView) ResetParticipants(parts []domain.Participant) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.participants = make(map[string]domain.Participant, len(parts))
	for _, p := range parts {
		v.participants[p.ID] = p
	}
}

// ResetBalances replaces the balance set from a resync fetch.
func (v *SessionView) ResetBalances(balances []domain.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = make(map[string]domain.Balance, len(balances))
	for _, b := range balances {
		v.balances[b.ID] = b
	}
}

// Session returns a copy of the cached session row, or nil if none yet.
func (v *SessionView) Session() *domain.Session {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.session == nil {
		return nil
	}
	cp := *v.session
	return &cp
}

// Participants returns the participant list sorted by join time.
func (v *SessionView) Participants() []domain.Participant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Participant, 0, len(v.participants))
	for _, p := range v.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Balances returns the balance list sorted by descending amount.
func (v *SessionView) Balances() []domain.Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Balance, 0, len(v.balances))
	for _, b := range v.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].ID < out[j].ID
	})
	return out
}
