package service

import (
	"context"
	"errors"
	"testing"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/store"
)

type settlementEnv struct {
	store      *store.Memory
	sessions   *SessionService
	transfers  *TransferService
	settlement *SettlementService
}

func newSettlementEnv(t *testing.T) *settlementEnv {
	t.Helper()
	st := store.NewMemory(nil)
	return &settlementEnv{
		store:      st,
		sessions:   NewSessionService(st, nil),
		transfers:  NewTransferService(st, nil),
		settlement: NewSettlementService(st, nil),
	}
}

// ratedGame runs the worked scenario up to completion: initial 1000, rate 10,
// host a and joiner b both start with startPoints, a sends 300 to b.
func (e *settlementEnv) ratedGame(t *testing.T, startPoints int64) string {
	t.Helper()
	ctx := context.Background()

	mustProfile(t, e.store, "a", startPoints)
	mustProfile(t, e.store, "b", startPoints)

	sess, err := e.sessions.Create(ctx, "a", domain.CreateSessionParams{InitialChips: 1000, Rate: 10})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.sessions.Join(ctx, "b", sess.ID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := e.sessions.Start(ctx, "a", sess.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.transfers.Transfer(ctx, "a", sess.ID, "a", "b", 300); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if _, err := e.sessions.End(ctx, "a", sess.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	return sess.ID
}

func TestCalculateWorkedExample(t *testing.T) {
	e := newSettlementEnv(t)
	// Entry cost 10000 is charged at start, so seed enough to land on zero
	// points when settlement is calculated.
	sessionID := e.ratedGame(t, 10000)

	data, err := e.settlement.Calculate(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !data.IsValid {
		t.Fatalf("expected valid conservation: %+v", data)
	}
	if data.TotalInitial != 2000 || data.TotalFinal != 2000 || data.TotalDifference != 0 {
		t.Fatalf("unexpected totals: %+v", data)
	}
	if len(data.Participants) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(data.Participants))
	}

	byUser := map[string]domain.SettlementParticipant{}
	for _, p := range data.Participants {
		byUser[p.UserID] = p
	}
	a, b := byUser["a"], byUser["b"]
	if a.FinalChips != 700 || a.Difference != -300 || a.SettlementAmount != -3000 {
		t.Fatalf("unexpected row for a: %+v", a)
	}
	if b.FinalChips != 1300 || b.Difference != 300 || b.SettlementAmount != 3000 {
		t.Fatalf("unexpected row for b: %+v", b)
	}
	// Current points are zero after the entry cost; projection is the gross
	// payout final_chips x rate.
	if a.CurrentPoints != 0 || a.PointsAfterSettlement != 7000 {
		t.Fatalf("unexpected projection for a: %+v", a)
	}
	if b.CurrentPoints != 0 || b.PointsAfterSettlement != 13000 {
		t.Fatalf("unexpected projection for b: %+v", b)
	}
}

func TestCalculateFallbacks(t *testing.T) {
	e := newSettlementEnv(t)
	ctx := context.Background()

	// No profiles at all: display names fall back to the user-id prefix and
	// points default to zero.
	sess, _ := e.sessions.Create(ctx, "host-user-id-long", domain.CreateSessionParams{InitialChips: 500})
	e.sessions.Join(ctx, "b", sess.ID)

	data, err := e.settlement.Calculate(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	byUser := map[string]domain.SettlementParticipant{}
	for _, p := range data.Participants {
		byUser[p.UserID] = p
	}
	if got := byUser["host-user-id-long"].DisplayName; got != "User host-use" {
		t.Fatalf("unexpected fallback name: %q", got)
	}
	// b has not been seeded yet (session still waiting): final falls back to
	// the initial chip count.
	if byUser["b"].FinalChips != 500 || byUser["b"].Difference != 0 {
		t.Fatalf("unexpected unseeded row: %+v", byUser["b"])
	}
}

func TestCalculateErrors(t *testing.T) {
	e := newSettlementEnv(t)
	if _, err := e.settlement.Calculate(context.Background(), "missing"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConfirmCreditsGrossPayoutOnce(t *testing.T) {
	e := newSettlementEnv(t)
	sessionID := e.ratedGame(t, 10000)
	ctx := context.Background()

	res, err := e.settlement.Confirm(ctx, "a", sessionID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Credited != 2 || len(res.FailedUserIDs) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Session.SettledAt == nil {
		t.Fatalf("settled marker not set")
	}

	a, _ := e.store.GetProfile(ctx, "a")
	b, _ := e.store.GetProfile(ctx, "b")
	if a.Points != 7000 || b.Points != 13000 {
		t.Fatalf("expected 7000/13000, got %d/%d", a.Points, b.Points)
	}

	// Second confirmation must not double-credit.
	if _, err := e.settlement.Confirm(ctx, "a", sessionID); !errors.Is(err, store.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	a, _ = e.store.GetProfile(ctx, "a")
	b, _ = e.store.GetProfile(ctx, "b")
	if a.Points != 7000 || b.Points != 13000 {
		t.Fatalf("points changed on repeat confirm: %d/%d", a.Points, b.Points)
	}
}

func TestConfirmRequiresCompletedSession(t *testing.T) {
	e := newSettlementEnv(t)
	ctx := context.Background()

	sess, _ := e.sessions.Create(ctx, "a", domain.CreateSessionParams{})
	e.sessions.Join(ctx, "b", sess.ID)

	if _, err := e.settlement.Confirm(ctx, "a", sess.ID); !errors.Is(err, store.ErrSessionNotCompleted) {
		t.Fatalf("expected ErrSessionNotCompleted while waiting, got %v", err)
	}
	e.sessions.Start(ctx, "a", sess.ID)
	if _, err := e.settlement.Confirm(ctx, "a", sess.ID); !errors.Is(err, store.ErrSessionNotCompleted) {
		t.Fatalf("expected ErrSessionNotCompleted while active, got %v", err)
	}
}

func TestConfirmUnratedLeavesPointsUntouched(t *testing.T) {
	e := newSettlementEnv(t)
	ctx := context.Background()

	mustProfile(t, e.store, "a", 500)
	mustProfile(t, e.store, "b", 500)

	sess, _ := e.sessions.Create(ctx, "a", domain.CreateSessionParams{InitialChips: 1000})
	e.sessions.Join(ctx, "b", sess.ID)
	e.sessions.Start(ctx, "a", sess.ID)
	e.sessions.End(ctx, "a", sess.ID)

	res, err := e.settlement.Confirm(ctx, "a", sess.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Credited != 0 {
		t.Fatalf("unrated session credited points: %+v", res)
	}
	a, _ := e.store.GetProfile(ctx, "a")
	if a.Points != 500 {
		t.Fatalf("points changed on unrated settlement: %d", a.Points)
	}
}

func TestConfirmRequiresAuth(t *testing.T) {
	e := newSettlementEnv(t)
	sessionID := e.ratedGame(t, 10000)

	if _, err := e.settlement.Confirm(context.Background(), "", sessionID); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	sess, _ := e.store.GetSession(context.Background(), sessionID)
	if sess.SettledAt != nil {
		t.Fatalf("anonymous confirm must not settle the session")
	}
}
