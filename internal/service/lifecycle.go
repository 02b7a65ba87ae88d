package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/store"
)

const (
	defaultInitialChips    = 1000
	defaultMaxParticipants = 10
	minParticipants        = 2
	maxParticipantsLimit   = 20
)

var (
	ErrInvalidInitialChips    = errors.New("initial chips must be a positive integer")
	ErrInvalidMaxParticipants = errors.New("max participants must be between 2 and 20")
	ErrInvalidRate            = errors.New("rate must be a positive number")
)

// SessionService drives the session state machine:
// waiting -> active -> completed, strictly forward.
type SessionService struct {
	store store.Store
	log   *zap.Logger
}

func NewSessionService(s store.Store, log *zap.Logger) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{store: s, log: log}
}

// Create opens a new waiting session with the caller as host. The host is
// auto-added as participant with a seeded balance, in the same commit unit as
// the session row.
func (s *SessionService) Create(ctx context.Context, callerID string, p domain.CreateSessionParams) (*domain.Session, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if p.InitialChips == 0 {
		p.InitialChips = defaultInitialChips
	}
	if p.MaxParticipants == 0 {
		p.MaxParticipants = defaultMaxParticipants
	}
	if p.InitialChips < 0 {
		return nil, ErrInvalidInitialChips
	}
	if p.MaxParticipants < minParticipants || p.MaxParticipants > maxParticipantsLimit {
		return nil, ErrInvalidMaxParticipants
	}
	if p.Rate < 0 {
		return nil, ErrInvalidRate
	}

	sess, err := s.store.CreateSession(ctx, callerID, p)
	if err != nil {
		return nil, err
	}
	s.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("host", callerID),
		zap.Int64("initial_chips", sess.InitialChips))
	return sess, nil
}

// Join adds the caller to a waiting session. The joiner's balance is seeded
// at session start, not here; every participant has exactly one balance row
// by the time the session becomes active.
func (s *SessionService) Join(ctx context.Context, callerID, sessionID string) (*domain.Participant, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	part, err := s.store.JoinSession(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	s.log.Info("participant joined",
		zap.String("session_id", sessionID), zap.String("user_id", callerID))
	return part, nil
}

// Start flips waiting -> active. Host only, needs at least two participants.
func (s *SessionService) Start(ctx context.Context, callerID, sessionID string) (*domain.Session, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.store.StartSession(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	s.log.Info("session started", zap.String("session_id", sessionID))
	return sess, nil
}

// End flips active -> completed and freezes balances; the transfer engine
// rejects anything further.
func (s *SessionService) End(ctx context.Context, callerID, sessionID string) (*domain.Session, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.store.EndSession(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	s.log.Info("session ended", zap.String("session_id", sessionID))
	return sess, nil
}

// Leave removes the caller from a waiting session. Hosts cannot leave.
func (s *SessionService) Leave(ctx context.Context, callerID, sessionID string) error {
	if callerID == "" {
		return ErrUnauthenticated
	}
	if err := s.store.LeaveSession(ctx, sessionID, callerID); err != nil {
		return err
	}
	s.log.Info("participant left",
		zap.String("session_id", sessionID), zap.String("user_id", callerID))
	return nil
}

// UpdateRate sets the chips-to-points conversion rate. Host only; completed
// sessions are immutable.
func (s *SessionService) UpdateRate(ctx context.Context, callerID, sessionID string, rate float64) (*domain.Session, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}
	if rate <= 0 {
		return nil, ErrInvalidRate
	}
	return s.store.UpdateSessionRate(ctx, sessionID, callerID, rate)
}
