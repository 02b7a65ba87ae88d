package service

import (
	"context"
	"errors"
	"testing"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/store"
)

func newLifecycleEnv(t *testing.T) (*store.Memory, *SessionService) {
	t.Helper()
	st := store.NewMemory(nil)
	return st, NewSessionService(st, nil)
}

func mustProfile(t *testing.T, st *store.Memory, id string, points int64) {
	t.Helper()
	if _, err := st.CreateProfile(context.Background(), id, "Player "+id); err != nil {
		t.Fatalf("CreateProfile(%s): %v", id, err)
	}
	if points != 0 {
		if err := st.AddPoints(context.Background(), id, points); err != nil {
			t.Fatalf("AddPoints(%s): %v", id, err)
		}
	}
}

func TestCreateSeedsHostParticipantAndBalance(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "host", domain.CreateSessionParams{InitialChips: 500, MaxParticipants: 4})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting, got %s", sess.Status)
	}

	parts, err := st.Participants(ctx, sess.ID)
	if err != nil || len(parts) != 1 || parts[0].UserID != "host" {
		t.Fatalf("expected host participant, got %v (%v)", parts, err)
	}
	bal, err := st.Balance(ctx, sess.ID, "host")
	if err != nil || bal.Amount != 500 {
		t.Fatalf("expected host balance 500, got %v (%v)", bal, err)
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	_, svc := newLifecycleEnv(t)

	sess, err := svc.Create(context.Background(), "host", domain.CreateSessionParams{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.InitialChips != 1000 || sess.MaxParticipants != 10 {
		t.Fatalf("unexpected defaults: chips=%d max=%d", sess.InitialChips, sess.MaxParticipants)
	}
}

func TestCreateRejectsBadParams(t *testing.T) {
	_, svc := newLifecycleEnv(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params domain.CreateSessionParams
		want   error
	}{
		{"max participants too low", domain.CreateSessionParams{MaxParticipants: 1}, ErrInvalidMaxParticipants},
		{"max participants too high", domain.CreateSessionParams{MaxParticipants: 21}, ErrInvalidMaxParticipants},
		{"negative rate", domain.CreateSessionParams{Rate: -1}, ErrInvalidRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, "host", tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestJoinRules(t *testing.T) {
	_, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "host", domain.CreateSessionParams{MaxParticipants: 2})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Join(ctx, "host", sess.ID); !errors.Is(err, store.ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined for host, got %v", err)
	}
	if _, err := svc.Join(ctx, "b", sess.ID); err != nil {
		t.Fatalf("Join(b): %v", err)
	}
	if _, err := svc.Join(ctx, "c", sess.ID); !errors.Is(err, store.ErrSessionFull) {
		t.Fatalf("expected ErrSessionFull, got %v", err)
	}
	if _, err := svc.Join(ctx, "b", "no-such-session"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestJoinRejectedOnceStarted(t *testing.T) {
	_, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{})
	svc.Join(ctx, "b", sess.ID)
	if _, err := svc.Start(ctx, "host", sess.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Join(ctx, "c", sess.ID); !errors.Is(err, store.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable, got %v", err)
	}
}

func TestStartSeedsEveryParticipantExactlyOnce(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{InitialChips: 1000})
	svc.Join(ctx, "b", sess.ID)
	svc.Join(ctx, "c", sess.ID)

	started, err := svc.Start(ctx, "host", sess.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != domain.StatusActive {
		t.Fatalf("expected active, got %s", started.Status)
	}

	balances, err := st.Balances(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if len(balances) != 3 {
		t.Fatalf("expected 3 balances, got %d", len(balances))
	}
	var total int64
	for _, b := range balances {
		if b.Amount != 1000 {
			t.Fatalf("expected seed 1000, got %d for %s", b.Amount, b.UserID)
		}
		total += b.Amount
	}
	if total != 3000 {
		t.Fatalf("expected total 3000, got %d", total)
	}
}

func TestStartGuards(t *testing.T) {
	_, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{})
	if _, err := svc.Start(ctx, "host", sess.ID); !errors.Is(err, store.ErrInsufficientParticipants) {
		t.Fatalf("expected ErrInsufficientParticipants, got %v", err)
	}

	svc.Join(ctx, "b", sess.ID)
	if _, err := svc.Start(ctx, "b", sess.ID); !errors.Is(err, store.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	if _, err := svc.Start(ctx, "host", sess.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Start(ctx, "host", sess.ID); !errors.Is(err, store.ErrWrongState) {
		t.Fatalf("expected ErrWrongState on re-start, got %v", err)
	}
}

func TestStartDeductsEntryCostOnRatedSession(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	mustProfile(t, st, "host", 50000)
	mustProfile(t, st, "b", 50000)

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{InitialChips: 1000, Rate: 10})
	svc.Join(ctx, "b", sess.ID)
	if _, err := svc.Start(ctx, "host", sess.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for _, id := range []string{"host", "b"} {
		p, err := st.GetProfile(ctx, id)
		if err != nil {
			t.Fatalf("GetProfile(%s): %v", id, err)
		}
		if p.Points != 40000 { // 50000 - 1000*10
			t.Fatalf("expected %s points 40000, got %d", id, p.Points)
		}
	}
}

func TestStartAbortsWhenEntryCostFails(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	mustProfile(t, st, "host", 50000)
	mustProfile(t, st, "b", 100) // cannot cover 1000*10

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{InitialChips: 1000, Rate: 10})
	svc.Join(ctx, "b", sess.ID)

	if _, err := svc.Start(ctx, "host", sess.ID); !errors.Is(err, store.ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	// No partial activation: status still waiting, no points moved, no
	// balance seeded for the joiner.
	got, _ := st.GetSession(ctx, sess.ID)
	if got.Status != domain.StatusWaiting {
		t.Fatalf("expected waiting after aborted start, got %s", got.Status)
	}
	host, _ := st.GetProfile(ctx, "host")
	if host.Points != 50000 {
		t.Fatalf("host points changed on aborted start: %d", host.Points)
	}
	if _, err := st.Balance(ctx, sess.ID, "b"); !errors.Is(err, store.ErrBalanceNotFound) {
		t.Fatalf("joiner balance should not exist, got err=%v", err)
	}
}

func TestEndGuardsAndFreeze(t *testing.T) {
	_, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{})
	svc.Join(ctx, "b", sess.ID)

	if _, err := svc.End(ctx, "host", sess.ID); !errors.Is(err, store.ErrWrongState) {
		t.Fatalf("expected ErrWrongState ending a waiting session, got %v", err)
	}

	svc.Start(ctx, "host", sess.ID)
	if _, err := svc.End(ctx, "b", sess.ID); !errors.Is(err, store.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	ended, err := svc.End(ctx, "host", sess.ID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if ended.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", ended.Status)
	}
	if _, err := svc.End(ctx, "host", sess.ID); !errors.Is(err, store.ErrWrongState) {
		t.Fatalf("expected ErrWrongState on re-end, got %v", err)
	}
}

func TestLeaveRules(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{})
	svc.Join(ctx, "b", sess.ID)
	svc.Join(ctx, "c", sess.ID)

	if err := svc.Leave(ctx, "host", sess.ID); !errors.Is(err, store.ErrHostCannotLeave) {
		t.Fatalf("expected ErrHostCannotLeave, got %v", err)
	}
	if err := svc.Leave(ctx, "stranger", sess.ID); !errors.Is(err, store.ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if err := svc.Leave(ctx, "c", sess.ID); err != nil {
		t.Fatalf("Leave(c): %v", err)
	}
	parts, _ := st.Participants(ctx, sess.ID)
	if len(parts) != 2 {
		t.Fatalf("expected 2 participants after leave, got %d", len(parts))
	}

	svc.Start(ctx, "host", sess.ID)
	if err := svc.Leave(ctx, "b", sess.ID); !errors.Is(err, store.ErrCannotLeaveActive) {
		t.Fatalf("expected ErrCannotLeaveActive, got %v", err)
	}
}

func TestUpdateRateRules(t *testing.T) {
	st, svc := newLifecycleEnv(t)
	ctx := context.Background()

	mustProfile(t, st, "host", 10000)
	mustProfile(t, st, "b", 10000)

	sess, _ := svc.Create(ctx, "host", domain.CreateSessionParams{})
	svc.Join(ctx, "b", sess.ID)

	if _, err := svc.UpdateRate(ctx, "b", sess.ID, 5); !errors.Is(err, store.ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if _, err := svc.UpdateRate(ctx, "host", sess.ID, 0); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	got, err := svc.UpdateRate(ctx, "host", sess.ID, 5)
	if err != nil || got.Rate != 5 {
		t.Fatalf("UpdateRate: rate=%v err=%v", got, err)
	}

	svc.Start(ctx, "host", sess.ID)
	svc.End(ctx, "host", sess.ID)
	if _, err := svc.UpdateRate(ctx, "host", sess.ID, 7); !errors.Is(err, store.ErrWrongState) {
		t.Fatalf("expected ErrWrongState on completed session, got %v", err)
	}
}
