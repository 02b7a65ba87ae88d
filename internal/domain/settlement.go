package domain

import "time"

// SettlementParticipant is one row of the settlement view: a participant
// joined with their profile and final balance.
type SettlementParticipant struct {
	UserID                string `json:"user_id"`
	DisplayName           string `json:"display_name"`
	InitialChips          int64  `json:"initial_chips"`
	FinalChips            int64  `json:"final_chips"`
	Difference            int64  `json:"difference"`
	SettlementAmount      int64  `json:"settlement_amount"`
	CurrentPoints         int64  `json:"current_points"`
	PointsAfterSettlement int64  `json:"points_after_settlement"`
}

// SettlementData is the derived settlement view for one session. It is
// computed on demand and never stored; only the point credits it implies are
// persisted, once, by settlement confirmation.
//
// IsValid is the conservation diagnostic: total final chips must equal total
// initial chips. A false value is surfaced to the caller but does not block
// confirmation, since chips already moved cannot meaningfully be rolled back.
type SettlementData struct {
	SessionID       string                  `json:"session_id"`
	SessionName     string                  `json:"session_name,omitempty"`
	Participants    []SettlementParticipant `json:"participants"`
	TotalInitial    int64                   `json:"total_initial"`
	TotalFinal      int64                   `json:"total_final"`
	TotalDifference int64                   `json:"total_difference"`
	TotalSettlement int64                   `json:"total_settlement"`
	Rate            float64                 `json:"rate,omitempty"`
	IsValid         bool                    `json:"is_valid"`
	CreatedAt       time.Time               `json:"created_at"`
}

// ConfirmResult reports the outcome of a settlement confirmation. Point
// credits are independent per user, so a failure for one user does not roll
// back the others; FailedUserIDs lists everyone whose credit did not apply.
type ConfirmResult struct {
	Session       *Session `json:"session"`
	Credited      int      `json:"credited"`
	FailedUserIDs []string `json:"failed_user_ids,omitempty"`
}
