package service

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/store"
)

// SettlementService derives the settlement view from final balances and
// commits the chips-to-points conversion exactly once per session.
type SettlementService struct {
	store store.Store
	log   *zap.Logger
}

func NewSettlementService(s store.Store, log *zap.Logger) *SettlementService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementService{store: s, log: log}
}

// Calculate assembles the settlement view for a session: every participant
// joined with their profile and final balance, per-participant difference and
// point projection, plus the conservation diagnostic. Nothing is persisted.
func (s *SettlementService) Calculate(ctx context.Context, sessionID string) (*domain.SettlementData, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.Participants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, store.ErrNoParticipants
	}

	userIDs := make([]string, len(participants))
	for i, p := range participants {
		userIDs[i] = p.UserID
	}
	profiles, err := s.store.ProfilesByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	profileByID := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		profileByID[p.ID] = p
	}

	balances, err := s.store.Balances(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	balanceByUser := make(map[string]int64, len(balances))
	for _, b := range balances {
		balanceByUser[b.UserID] = b.Amount
	}

	data := &domain.SettlementData{
		SessionID:   sess.ID,
		SessionName: sess.Name,
		Rate:        sess.Rate,
		CreatedAt:   sess.CreatedAt,
	}
	for _, p := range participants {
		finalChips := sess.InitialChips
		if amt, ok := balanceByUser[p.UserID]; ok {
			finalChips = amt
		}
		difference := finalChips - sess.InitialChips

		row := domain.SettlementParticipant{
			UserID:       p.UserID,
			DisplayName:  displayNameFor(profileByID, p.UserID),
			InitialChips: sess.InitialChips,
			FinalChips:   finalChips,
			Difference:   difference,
		}
		if prof, ok := profileByID[p.UserID]; ok {
			row.CurrentPoints = prof.Points
		}
		row.PointsAfterSettlement = row.CurrentPoints
		if sess.Rated() {
			row.SettlementAmount = int64(math.Round(float64(difference) * sess.Rate))
			row.PointsAfterSettlement = row.CurrentPoints + domain.Payout(finalChips, sess.Rate)
		}

		data.Participants = append(data.Participants, row)
		data.TotalInitial += row.InitialChips
		data.TotalFinal += row.FinalChips
		data.TotalSettlement += row.SettlementAmount
	}
	data.TotalDifference = data.TotalFinal - data.TotalInitial
	data.IsValid = data.TotalInitial == data.TotalFinal

	if !data.IsValid {
		s.log.Warn("chip conservation check failed",
			zap.String("session_id", sessionID),
			zap.Int64("total_initial", data.TotalInitial),
			zap.Int64("total_final", data.TotalFinal))
	}
	return data, nil
}

// Confirm applies the point conversion of a completed session. The one-time
// settlement marker is consumed before any points move, so a second call
// fails with ErrAlreadySettled and credits nothing again. Point credits are
// independent per user: one failing update does not roll back the rest, it is
// reported in FailedUserIDs instead.
func (s *SettlementService) Confirm(ctx context.Context, callerID, sessionID string) (*domain.ConfirmResult, error) {
	if callerID == "" {
		return nil, ErrUnauthenticated
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusCompleted {
		return nil, store.ErrSessionNotCompleted
	}

	data, err := s.Calculate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err = s.store.MarkSettled(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &domain.ConfirmResult{Session: sess}
	if !data.IsValid {
		s.log.Warn("confirming settlement despite failed conservation check",
			zap.String("session_id", sessionID))
	}
	if sess.Rated() {
		for _, p := range data.Participants {
			payout := domain.Payout(p.FinalChips, sess.Rate)
			if err := s.store.AddPoints(ctx, p.UserID, payout); err != nil {
				s.log.Error("point credit failed",
					zap.String("session_id", sessionID),
					zap.String("user_id", p.UserID),
					zap.Error(err))
				result.FailedUserIDs = append(result.FailedUserIDs, p.UserID)
				continue
			}
			result.Credited++
		}
	}

	s.log.Info("settlement confirmed",
		zap.String("session_id", sessionID),
		zap.Int("credited", result.Credited),
		zap.Int("failed", len(result.FailedUserIDs)))
	return result, nil
}

func displayNameFor(profiles map[string]domain.Profile, userID string) string {
	if p, ok := profiles[userID]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	short := userID
	if len(short) > 8 {
		short = short[:8]
	}
	return "User " + short
}
