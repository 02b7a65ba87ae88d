package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
)

const uniqueViolation = "23505"

var _ Store = (*Postgres)(nil)

// Postgres is the pgx-backed Store. Multi-row operations run inside a
// RepeatableRead transaction with FOR UPDATE row locks; balance rows are
// always locked in user-id order so two concurrent transfers over the same
// pair cannot deadlock. Change events are published only after commit.
type Postgres struct {
	db     *pgxpool.Pool
	broker *notify.Broker
	log    *zap.Logger
}

func NewPostgres(db *pgxpool.Pool, broker *notify.Broker, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: db, broker: broker, log: log}
}

func (s *Postgres) publish(evs ...notify.Event) {
	if s.broker == nil {
		return
	}
	for _, ev := range evs {
		s.broker.Publish(ev)
	}
}

func (s *Postgres) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	return tx, nil
}

// --- Profiles ---

func (s *Postgres) CreateProfile(ctx context.Context, userID, displayName string) (*domain.Profile, error) {
	p := domain.Profile{ID: userID, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	_, err := s.db.Exec(ctx,
		"INSERT INTO profiles (id, display_name, points, created_at) VALUES ($1, $2, 0, $3)",
		p.ID, p.DisplayName, p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("profile insert failed: %w", err)
	}
	return &p, nil
}

func (s *Postgres) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRow(ctx,
		"SELECT id, display_name, points, created_at FROM profiles WHERE id = $1",
		userID).Scan(&p.ID, &p.DisplayName, &p.Points, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) ProfilesByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	rows, err := s.db.Query(ctx,
		"SELECT id, display_name, points, created_at FROM profiles WHERE id = ANY($1)",
		userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.Points, &p.CreatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (s *Postgres) UpdateProfileName(ctx context.Context, userID, displayName string) (*domain.Profile, error) {
	var p domain.Profile
	err := s.db.QueryRow(ctx,
		"UPDATE profiles SET display_name = $1 WHERE id = $2 RETURNING id, display_name, points, created_at",
		displayName, userID).Scan(&p.ID, &p.DisplayName, &p.Points, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) AddPoints(ctx context.Context, userID string, delta int64) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE profiles SET points = points + $1 WHERE id = $2", delta, userID)
	if err != nil {
		return fmt.Errorf("points update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// --- Session lifecycle ---

func (s *Postgres) CreateSession(ctx context.Context, hostUserID string, p domain.CreateSessionParams) (*domain.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	sess := domain.Session{
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
	_, err = tx.Exec(ctx,
		`INSERT INTO sessions (id, host_user_id, name, initial_chips, max_participants, rate, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.HostUserID, sess.Name, sess.InitialChips, sess.MaxParticipants,
		sess.Rate, sess.Status, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("session insert failed: %w", err)
	}

	part := domain.Participant{ID: uuid.NewString(), SessionID: sess.ID, UserID: hostUserID, JoinedAt: now}
	_, err = tx.Exec(ctx,
		"INSERT INTO session_participants (id, session_id, user_id, joined_at) VALUES ($1, $2, $3, $4)",
		part.ID, part.SessionID, part.UserID, part.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("host participant insert failed: %w", err)
	}

	bal := domain.Balance{ID: uuid.NewString(), SessionID: sess.ID, UserID: hostUserID, Amount: sess.InitialChips, UpdatedAt: now}
	_, err = tx.Exec(ctx,
		"INSERT INTO balances (id, session_id, user_id, amount, updated_at) VALUES ($1, $2, $3, $4, $5)",
		bal.ID, bal.SessionID, bal.UserID, bal.Amount, bal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("host balance insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(
		notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindInsert, SessionID: sess.ID, RowID: sess.ID, Row: sess},
		notify.Event{Resource: notify.ResourceParticipants, Kind: notify.KindInsert, SessionID: sess.ID, RowID: part.ID, Row: part},
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindInsert, SessionID: sess.ID, RowID: bal.ID, Row: bal},
	)
	return &sess, nil
}

func (s *Postgres) JoinSession(ctx context.Context, sessionID, userID string) (*domain.Participant, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusWaiting {
		return nil, ErrSessionNotJoinable
	}

	var count int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM session_participants WHERE session_id = $1", sessionID).Scan(&count); err != nil {
		return nil, err
	}
	if count >= sess.MaxParticipants {
		return nil, ErrSessionFull
	}

	part := domain.Participant{ID: uuid.NewString(), SessionID: sessionID, UserID: userID, JoinedAt: time.Now().UTC()}
	_, err = tx.Exec(ctx,
		"INSERT INTO session_participants (id, session_id, user_id, joined_at) VALUES ($1, $2, $3, $4)",
		part.ID, part.SessionID, part.UserID, part.JoinedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyJoined
		}
		return nil, fmt.Errorf("participant insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(notify.Event{Resource: notify.ResourceParticipants, Kind: notify.KindInsert, SessionID: sessionID, RowID: part.ID, Row: part})
	return &part, nil
}

// StartSession seeds a balance for every participant still lacking one,
// charges the entry cost on rated sessions and flips waiting -> active. Any
// failure aborts the whole activation.
func (s *Postgres) StartSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status != domain.StatusWaiting {
		return nil, ErrWrongState
	}

	rows, err := tx.Query(ctx,
		"SELECT user_id FROM session_participants WHERE session_id = $1 ORDER BY joined_at", sessionID)
	if err != nil {
		return nil, err
	}
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(userIDs) < 2 {
		return nil, ErrInsufficientParticipants
	}

	seeded := make(map[string]bool)
	balRows, err := tx.Query(ctx, "SELECT user_id FROM balances WHERE session_id = $1", sessionID)
	if err != nil {
		return nil, err
	}
	for balRows.Next() {
		var id string
		if err := balRows.Scan(&id); err != nil {
			balRows.Close()
			return nil, err
		}
		seeded[id] = true
	}
	balRows.Close()
	if err := balRows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var newBalances []domain.Balance
	for _, uid := range userIDs {
		if seeded[uid] {
			continue
		}
		bal := domain.Balance{ID: uuid.NewString(), SessionID: sessionID, UserID: uid, Amount: sess.InitialChips, UpdatedAt: now}
		_, err = tx.Exec(ctx,
			"INSERT INTO balances (id, session_id, user_id, amount, updated_at) VALUES ($1, $2, $3, $4, $5)",
			bal.ID, bal.SessionID, bal.UserID, bal.Amount, bal.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("balance seeding failed: %w", err)
		}
		newBalances = append(newBalances, bal)
	}

	if sess.Rated() {
		cost := domain.EntryCost(sess.InitialChips, sess.Rate)
		for _, uid := range userIDs {
			tag, err := tx.Exec(ctx,
				"UPDATE profiles SET points = points - $1 WHERE id = $2 AND points >= $1", cost, uid)
			if err != nil {
				return nil, fmt.Errorf("entry cost deduction failed: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return nil, fmt.Errorf("user %s: %w", uid, ErrInsufficientPoints)
			}
		}
	}

	sess.Status = domain.StatusActive
	sess.UpdatedAt = now
	_, err = tx.Exec(ctx,
		"UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3",
		sess.Status, sess.UpdatedAt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	evs := make([]notify.Event, 0, len(newBalances)+1)
	for _, bal := range newBalances {
		evs = append(evs, notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindInsert, SessionID: sessionID, RowID: bal.ID, Row: bal})
	}
	evs = append(evs, notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})
	s.publish(evs...)
	return sess, nil
}

func (s *Postgres) EndSession(ctx context.Context, sessionID, callerID string) (*domain.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status != domain.StatusActive {
		return nil, ErrWrongState
	}

	sess.Status = domain.StatusCompleted
	sess.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		"UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3",
		sess.Status, sess.UpdatedAt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("status update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})
	return sess, nil
}

func (s *Postgres) LeaveSession(ctx context.Context, sessionID, userID string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	if sess.HostUserID == userID {
		return ErrHostCannotLeave
	}
	if sess.Status != domain.StatusWaiting {
		return ErrCannotLeaveActive
	}

	var partID string
	err = tx.QueryRow(ctx,
		"DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2 RETURNING id",
		sessionID, userID).Scan(&partID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotParticipant
	}
	if err != nil {
		return fmt.Errorf("participant delete failed: %w", err)
	}

	// Joiners normally have no balance until start, but clean up if present.
	var balID string
	err = tx.QueryRow(ctx,
		"DELETE FROM balances WHERE session_id = $1 AND user_id = $2 RETURNING id",
		sessionID, userID).Scan(&balID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("balance delete failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}

	evs := []notify.Event{
		{Resource: notify.ResourceParticipants, Kind: notify.KindDelete, SessionID: sessionID, RowID: partID},
	}
	if balID != "" {
		evs = append(evs, notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindDelete, SessionID: sessionID, RowID: balID})
	}
	s.publish(evs...)
	return nil
}

func (s *Postgres) UpdateSessionRate(ctx context.Context, sessionID, callerID string, rate float64) (*domain.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.HostUserID != callerID {
		return nil, ErrNotHost
	}
	if sess.Status == domain.StatusCompleted {
		return nil, ErrWrongState
	}

	sess.Rate = rate
	sess.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		"UPDATE sessions SET rate = $1, updated_at = $2 WHERE id = $3",
		sess.Rate, sess.UpdatedAt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rate update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})
	return sess, nil
}

// --- Transfer ---

// ExecTransfer locks both balance rows in user-id order (deadlock
// prevention), verifies funds under the lock and applies the mutation pair
// together with the transaction insert in one commit unit.
func (s *Postgres) ExecTransfer(ctx context.Context, sessionID, fromUserID, toUserID string, amount int64) (*domain.TransferResult, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var status domain.SessionStatus
	err = tx.QueryRow(ctx, "SELECT status FROM sessions WHERE id = $1", sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != domain.StatusActive {
		return nil, ErrSessionNotActive
	}

	first, second := fromUserID, toUserID
	if first > second {
		first, second = second, first
	}
	balances := make(map[string]int64, 2)
	for _, uid := range []string{first, second} {
		var amt int64
		err = tx.QueryRow(ctx,
			"SELECT amount FROM balances WHERE session_id = $1 AND user_id = $2 FOR UPDATE",
			sessionID, uid).Scan(&amt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", uid, ErrNotParticipant)
		}
		if err != nil {
			return nil, fmt.Errorf("lock acquisition failed: %w", err)
		}
		balances[uid] = amt
	}

	if balances[fromUserID] < amount {
		return nil, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	txn := domain.Transaction{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Amount:     amount,
		CreatedAt:  now,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, session_id, from_user_id, to_user_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		txn.ID, txn.SessionID, txn.FromUserID, txn.ToUserID, txn.Amount, txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("transaction insert failed: %w", err)
	}

	var fromBal, toBal domain.Balance
	err = tx.QueryRow(ctx,
		`UPDATE balances SET amount = amount - $1, updated_at = $2
		 WHERE session_id = $3 AND user_id = $4
		 RETURNING id, session_id, user_id, amount, updated_at`,
		amount, now, sessionID, fromUserID).
		Scan(&fromBal.ID, &fromBal.SessionID, &fromBal.UserID, &fromBal.Amount, &fromBal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("sender debit failed: %w", err)
	}
	err = tx.QueryRow(ctx,
		`UPDATE balances SET amount = amount + $1, updated_at = $2
		 WHERE session_id = $3 AND user_id = $4
		 RETURNING id, session_id, user_id, amount, updated_at`,
		amount, now, sessionID, toUserID).
		Scan(&toBal.ID, &toBal.SessionID, &toBal.UserID, &toBal.Amount, &toBal.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("recipient credit failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindUpdate, SessionID: sessionID, RowID: fromBal.ID, Row: fromBal},
		notify.Event{Resource: notify.ResourceBalances, Kind: notify.KindUpdate, SessionID: sessionID, RowID: toBal.ID, Row: toBal},
		notify.Event{Resource: notify.ResourceTransactions, Kind: notify.KindInsert, SessionID: sessionID, RowID: txn.ID, Row: txn},
	)
	return &domain.TransferResult{Transaction: txn, FromBalance: fromBal.Amount, ToBalance: toBal.Amount}, nil
}

// --- Settlement ---

func (s *Postgres) MarkSettled(ctx context.Context, sessionID string) (*domain.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	sess, err := lockSession(ctx, tx, sessionID)
	if err != nil {
		return nil, err
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
	_, err = tx.Exec(ctx,
		"UPDATE sessions SET settled_at = $1, updated_at = $1 WHERE id = $2", now, sessionID)
	if err != nil {
		return nil, fmt.Errorf("settlement marker update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.publish(notify.Event{Resource: notify.ResourceSessions, Kind: notify.KindUpdate, SessionID: sessionID, RowID: sessionID, Row: *sess})
	return sess, nil
}

// --- Reads ---

const sessionColumns = "id, host_user_id, name, initial_chips, max_participants, rate, status, settled_at, created_at, updated_at"

func scanSession(row pgx.Row) (*domain.Session, error) {
	var sess domain.Session
	err := row.Scan(&sess.ID, &sess.HostUserID, &sess.Name, &sess.InitialChips,
		&sess.MaxParticipants, &sess.Rate, &sess.Status, &sess.SettledAt,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func lockSession(ctx context.Context, tx pgx.Tx, sessionID string) (*domain.Session, error) {
	return scanSession(tx.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1 FOR UPDATE", sessionID))
}

func (s *Postgres) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return scanSession(s.db.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", sessionID))
}

func (s *Postgres) SessionsByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.host_user_id, s.name, s.initial_chips, s.max_participants, s.rate, s.status, s.settled_at, s.created_at, s.updated_at
		 FROM sessions s
		 JOIN session_participants p ON p.session_id = s.id
		 WHERE p.user_id = $1
		 ORDER BY s.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Postgres) ActiveSessionByUser(ctx context.Context, userID string) (*domain.Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT s.id, s.host_user_id, s.name, s.initial_chips, s.max_participants, s.rate, s.status, s.settled_at, s.created_at, s.updated_at
		 FROM sessions s
		 JOIN session_participants p ON p.session_id = s.id
		 WHERE p.user_id = $1 AND s.status = 'active'
		 ORDER BY s.created_at DESC
		 LIMIT 1`, userID))
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	return sess, err
}

func collectSessions(rows pgx.Rows) ([]domain.Session, error) {
	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.HostUserID, &sess.Name, &sess.InitialChips,
			&sess.MaxParticipants, &sess.Rate, &sess.Status, &sess.SettledAt,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Postgres) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, user_id, joined_at FROM session_participants
		 WHERE session_id = $1 ORDER BY joined_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.SessionID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (s *Postgres) Balances(ctx context.Context, sessionID string) ([]domain.Balance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, session_id, user_id, amount, updated_at FROM balances
		 WHERE session_id = $1 ORDER BY amount DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.ID, &b.SessionID, &b.UserID, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (s *Postgres) Balance(ctx context.Context, sessionID, userID string) (*domain.Balance, error) {
	var b domain.Balance
	err := s.db.QueryRow(ctx,
		"SELECT id, session_id, user_id, amount, updated_at FROM balances WHERE session_id = $1 AND user_id = $2",
		sessionID, userID).Scan(&b.ID, &b.SessionID, &b.UserID, &b.Amount, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Postgres) Transactions(ctx context.Context, sessionID string, limit int) ([]domain.Transaction, error) {
	q := `SELECT id, session_id, from_user_id, to_user_id, amount, created_at
	      FROM transactions WHERE session_id = $1 ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.SessionID, &t.FromUserID, &t.ToUserID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
