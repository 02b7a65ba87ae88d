package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
)

var _ Store = (*Memory)(nil)

// Memory is an in-memory Store with the same semantics as Postgres. A single
// mutex stands in for row locks, which trivially serializes the
// check-then-decrement pair. Used by tests and local development.
type Memory struct {
	mu     sync.Mutex
	broker *notify.Broker

	profiles     map[string]*domain.Profile
	sessions     map[string]*domain.Session
	participants map[string][]domain.Participant          // session id -> joined order
	balances     map[string]map[string]*domain.Balance    // session id -> user id
	transactions map[string][]domain.Transaction          // session id -> insert order
}

func NewMemory(broker *notify.Broker) *Memory {
	return &Memory{
		broker:       broker,
		profiles:     make(map[string]*domain.Profile),
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string][]domain.Participant),
		balances:     make(map[string]map[string]*domain.Balance),
		transactions: make(map[string][]domain.Transaction),
	}
}

func (s *Memory) publish(evs ...notify.Event) {
	if s.broker == nil {
		return
	}
	for _, ev := range evs {
		s.broker.Publish(ev)
	}
}

// --- Profiles ---

func (s *Memory) CreateProfile(_ context.Context, userID, displayName string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[userID]; ok {
		return nil, ErrProfileExists
	}
	p := &domain.Profile{ID: userID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	s.profiles[userID] = p
	cp := *p
	return &cp, nil
}

func (s *Memory) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Memory) ProfilesByIDs(_ context.Context, userIDs []string) ([]domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Profile
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *Memory) UpdateProfileName(_ context.Context, userID, displayName string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	p.DisplayName = displayName
	cp := *p
	return &cp, nil
}

func (s *Memory) AddPoints(_ context.Context, userID string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.Points += delta
	return nil
}

// --- Session lifecycle ---

func (s *Memory) CreateSession(_ context.Context, hostUserID string, p domain.CreateSessionParams) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:              uuid.NewString(),
		HostUserID:      hostUserID,
		Name:            p.Name,
		InitialChips:    p.InitialChips,
		MaxParticipants: p.MaxParticipants,
		Rate:            p.Rate,
		Status:          domain.StatusWaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	part := domain.Participant{ID: uuid.NewString(), SessionID: sess.ID, UserID: hostUserID, JoinedAt: now}
	bal := &domain.Balance{ID: uuid.NewString(), SessionID: sess.ID, UserID: hostUserID, Amount: sess.InitialChips, UpdatedAt: now}

	s.sessions[sess.ID] = sess
	s.participants[sess.ID] = []domain.Participant{part}
	s.balances[sess.ID] = map[string]*domain.Balance{hostUserID: bal}

	s.publish(
		notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindInsert, SessionID: sess.ID, RowID: sess.ID, Row: *sess},
		notify.Event{Resource: notify.ResourceParticipants, Kind: notify.KindInsert, SessionID: sess.ID, RowID: part.ID, Row: part},
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindInsert, SessionID: sess.ID, RowID: bal.ID, Row: *bal},
	)
	cp := *sess
	return &cp, nil
}

func (s *Memory) JoinSession(_ context.Context, sessionID, userID string) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Status != domain.StatusWaiting {
		return nil, ErrSessionNotJoinable
	}
	parts := s.participants[sessionID]
	if len(parts) >= sess.MaxParticipants {
		return nil, ErrSessionFull
	}
	for _, p := range parts {
		if p.UserID == userID {
			return nil, ErrAlreadyJoined
		}
	}

	part := domain.Participant{ID: uuid.NewString(), SessionID: sessionID, UserID: userID, JoinedAt: time.Now().UTC()}
	s.participants[sessionID] = append(parts, part)

	s.publish(notify.Event{Resource: notify.ResourceParticipants, Kind: notify.KindInsert, SessionID: sessionID, RowID: part.ID, Row: part})
	return &part, nil
}

func (s *Memory) StartSession(_ context.Context, sessionID, callerID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status != domain.StatusWaiting {
		return nil, ErrWrongState
	}
	parts := s.participants[sessionID]
	if len(parts) < 2 {
		return nil, ErrInsufficientParticipants
	}

	// Validate the entry cost for everyone before mutating anything, so a
	// failed deduction aborts the whole activation.
	if sess.Rated() {
		cost := domain.EntryCost(sess.InitialChips, sess.Rate)
		for _, p := range parts {
			prof, ok := s.profiles[p.UserID]
			if !ok || prof.Points < cost {
				return nil, fmt.Errorf("user %s: %w", p.UserID, ErrInsufficientPoints)
			}
		}
		for _, p := range parts {
			s.profiles[p.UserID].Points -= cost
		}
	}

	now := time.Now().UTC()
	sessBalances := s.balances[sessionID]
	if sessBalances == nil {
		sessBalances = make(map[string]*domain.Balance)
		s.balances[sessionID] = sessBalances
	}
	var evs []notify.Event
	for _, p := range parts {
		if _, ok := sessBalances[p.UserID]; ok {
			continue
		}
		bal := &domain.Balance{ID: uuid.NewString(), SessionID: sessionID, UserID: p.UserID, Amount: sess.InitialChips, UpdatedAt: now}
		sessBalances[p.UserID] = bal
		evs = append(evs, notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindInsert, SessionID: sessionID, RowID: bal.ID, Row: *bal})
	}

	sess.Status = domain.StatusActive
	sess.UpdatedAt = now
	evs = append(evs, notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})
	s.publish(evs...)

	cp := *sess
	return &cp, nil
}

func (s *Memory) EndSession(_ context.Context, sessionID, callerID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status != domain.StatusActive {
		return nil, ErrWrongState
	}

	sess.Status = domain.StatusCompleted
	sess.UpdatedAt = time.Now().UTC()
	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})

	cp := *sess
	return &cp, nil
}

func (s *Memory) LeaveSession(_ context.Context, sessionID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.HostUserID == userID {
		return ErrHostCannotLeave
	}
	if sess.Status != domain.StatusWaiting {
		return ErrCannotLeaveActive
	}

	parts := s.participants[sessionID]
	idx := -1
	for i, p := range parts {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotParticipant
	}
	removed := parts[idx]
	s.participants[sessionID] = append(parts[:idx:idx], parts[idx+1:]...)

	evs := []notify.Event{
		{Resource: notify.ResourceParticipants, Kind: notify.KindDelete, SessionID: sessionID, RowID: removed.ID},
	}
	if bal, ok := s.balances[sessionID][userID]; ok {
		delete(s.balances[sessionID], userID)
		evs = append(evs, notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindDelete, SessionID: sessionID, RowID: bal.ID})
	}
	s.publish(evs...)
	return nil
}

func (s *Memory) UpdateSessionRate(_ context.Context, sessionID, callerID string, rate float64) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status == domain.StatusCompleted {
		return nil, ErrWrongState
	}

	sess.Rate = rate
	sess.UpdatedAt = time.Now().UTC()
	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})

	cp := *sess
	return &cp, nil
}

// --- Transfer ---

func (s *Memory) ExecTransfer(_ context.Context, sessionID, fromUserID, toUserID string, amount int64) (*domain.TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Status != domain.StatusActive {
		return nil, ErrSessionNotActive
	}

	from, ok := s.balances[sessionID][fromUserID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", fromUserID, ErrNotParticipant)
	}
	to, ok := s.balances[sessionID][toUserID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", toUserID, ErrNotParticipant)
	}
	if from.Amount < amount {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	from.Amount -= amount
	from.UpdatedAt = now
	to.Amount += amount
	to.UpdatedAt = now

	txn := domain.Transaction{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Amount:     amount,
		CreatedAt:  now,
	}
	s.transactions[sessionID] = append(s.transactions[sessionID], txn)

	s.publish(
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindUpdate, SessionID: sessionID, RowID: from.ID, Row: *from},
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindUpdate, SessionID: sessionID, RowID: to.ID, Row: *to},
		notify.Event{Resource: notify.ResourceTransactions, Kind: notify.KindInsert, SessionID: sessionID, RowID: txn.ID, Row: txn},
	)
	return &domain.TransferResult{Transaction: txn, FromBalance: from.Amount, ToBalance: to.Amount}, nil
}

// --- Settlement ---

func (s *Memory) MarkSettled(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Status != domain.StatusCompleted {
		return nil, ErrSessionNotCompleted
	}
	if sess.SettledAt != nil {
		return nil, ErrAlreadySettled
	}

	now := time.Now().UTC()
	sess.SettledAt = &now
	sess.UpdatedAt = now
	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})

	cp := *sess
	return &cp, nil
}

// --- Reads ---

func (s *Memory) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Memory) SessionsByUser(_ context.Context, userID string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for id, parts := range s.participants {
		for _, p := range parts {
			if p.UserID == userID {
				out = append(out, *s.sessions[id])
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) ActiveSessionByUser(ctx context.Context, userID string) (*domain.Session, error) {
	sessions, err := s.SessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.Status == domain.StatusActive {
			cp := sess
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Memory) Participants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]domain.Participant, len(s.participants[sessionID]))
	copy(out, s.participants[sessionID])
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *Memory) Balances(_ context.Context, sessionID string) ([]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	var out []domain.Balance
	for _, b := range s.balances[sessionID] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Memory) Balance(_ context.Context, sessionID, userID string) (*domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.balances[sessionID][userID]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Memory) Transactions(_ context.Context, sessionID string, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txns := s.transactions[sessionID]
	out := make([]domain.Transaction, len(txns))
	for i, t := range txns { // newest first
		out[len(txns)-1-i] = t
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
