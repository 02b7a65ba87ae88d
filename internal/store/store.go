package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/chipledger/internal/domain"
)

// Sentinel errors returned by Store implementations. The API layer maps these
// to HTTP statuses; callers check them with errors.Is.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrBalanceNotFound = errors.New("balance not found")

	ErrNotParticipant    = errors.New("user is not a participant of the session")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSessionNotActive  = errors.New("session is not active")

	ErrSessionNotJoinable       = errors.New("session is not accepting participants")
	ErrSessionFull              = errors.New("session is full")
	ErrAlreadyJoined            = errors.New("user already joined the session")
	ErrNotHost                  = errors.New("caller is not the session host")
	ErrWrongState               = errors.New("session is in the wrong state")
	ErrInsufficientParticipants = errors.New("at least two participants required")
	ErrInsufficientPoints       = errors.New("participant lacks points for the entry cost")
	ErrCannotLeaveActive        = errors.New("cannot leave a session that already started")
	ErrHostCannotLeave          = errors.New("host cannot leave the session")

	ErrSessionNotCompleted = errors.New("session is not completed")
	ErrAlreadySettled      = errors.New("settlement already confirmed")
	ErrNoParticipants      = errors.New("session has no participants")

	ErrProfileExists = errors.New("profile already exists")
)

// Store is the persistence boundary of the ledger. Every method that names a
// multi-row effect (CreateSession, StartSession, ExecTransfer, settlement
// gating) executes it as a single atomic commit unit: either all of its rows
// land or none do. Concurrent calls touching the same balance row serialize
// inside the implementation.
type Store interface {
	// Profiles.
	CreateProfile(ctx context.Context, userID, displayName string) (*domain.Profile, error)
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	ProfilesByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error)
	UpdateProfileName(ctx context.Context, userID, displayName string) (*domain.Profile, error)

	// Session lifecycle. Atomic units per spec: create = session + host
	// participant + host balance; start = balance seeding + entry-cost
	// deduction + status flip.
	CreateSession(ctx context.Context, hostUserID string, p domain.CreateSessionParams) (*domain.Session, error)
	JoinSession(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	StartSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error)
	EndSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error)
	LeaveSession(ctx context.Context, sessionID, userID string) error
	UpdateSessionRate(ctx context.Context, sessionID, callerID string, rate float64) (*domain.Session, error)

	// Reads.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	SessionsByUser(ctx context.Context, userID string) ([]domain.Session, error)
	ActiveSessionByUser(ctx context.Context, userID string) (*domain.Session, error)
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	Balances(ctx context.Context, sessionID string) ([]domain.Balance, error)
	Balance(ctx context.Context, sessionID, userID string) (*domain.Balance, error)
	Transactions(ctx context.Context, sessionID string, limit int) ([]domain.Transaction, error)

	// ExecTransfer moves amount between two balances of an active session and
	// appends the transaction row, all in one commit unit. The sender's
	// check-then-decrement is serialized against concurrent transfers from
	// the same balance.
	ExecTransfer(ctx context.Context, sessionID, fromUserID, toUserID string, amount int64) (*domain.TransferResult, error)

	// MarkSettled flips the one-time settlement marker of a completed
	// session. It is the idempotence gate for confirmation: the second call
	// fails with ErrAlreadySettled and no points move again.
	MarkSettled(ctx context.Context, sessionID string) (*domain.Session, error)

	// AddPoints credits (or debits) one profile's persistent points.
	AddPoints(ctx context.Context, userID string, delta int64) error
}
