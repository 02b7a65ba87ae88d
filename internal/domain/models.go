package domain

import "time"

// SessionStatus is the lifecycle state of a session. Transitions are linear:
// waiting -> active -> completed. No backward transitions, no skipping.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Session is one bounded game instance with a host, participants and a chip
// economy. Only the lifecycle controller mutates Status; once completed the
// row is immutable except for the SettledAt marker.
type Session struct {
	ID              string        `json:"id"`
	HostUserID      string        `json:"host_user_id"`
	Name            string        `json:"name,omitempty"`
	InitialChips    int64         `json:"initial_chips"`
	MaxParticipants int           `json:"max_participants"`
	Rate            float64       `json:"rate,omitempty"`
	Status          SessionStatus `json:"status"`
	SettledAt       *time.Time    `json:"settled_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Rated reports whether the session converts chips to persistent points.
func (s *Session) Rated() bool { return s.Rate > 0 }

// Participant is a user's membership in one session. Unique per
// (session, user); removable only while the session is still waiting.
type Participant struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Balance is a participant's current chip count within one session. It is
// seeded once (host at creation, everyone else by session start) and after
// that mutated only by transfers.
type Balance struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is the immutable record of one chip transfer. Amount is always
// positive; the direction is carried by the from/to pair.
type Transaction struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Amount     int64     `json:"amount"`
	CreatedAt  time.Time `json:"created_at"`
}

// Profile is the persistent per-user record. Points survive sessions and are
// mutated only by session start (entry cost) and settlement confirmation.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	Points      int64     `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
}

// TransferResult is what a successful transfer reports back: the appended
// transaction plus both post-transfer balances.
type TransferResult struct {
	Transaction Transaction `json:"transaction"`
	FromBalance int64       `json:"from_balance"`
	ToBalance   int64       `json:"to_balance"`
}

// CreateSessionParams carries the host's session settings.
type CreateSessionParams struct {
	Name            string  `json:"name"`
	InitialChips    int64   `json:"initial_chips"`
	MaxParticipants int     `json:"max_participants"`
	Rate            float64 `json:"rate"`
}
