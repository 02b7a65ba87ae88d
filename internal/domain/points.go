package domain

import "math"

// Accounting rule for rated sessions: the entry cost (initial chips x rate)
// is deducted from every participant's points when the session starts, and
// the gross payout (final chips x rate) is credited at settlement
// confirmation. Net effect per participant is difference x rate.

// EntryCost is the point stake charged per participant at session start.
func EntryCost(initialChips int64, rate float64) int64 {
	return roundChips(initialChips, rate)
}

// Payout is the point credit applied per participant at settlement.
func Payout(finalChips int64, rate float64) int64 {
	return roundChips(finalChips, rate)
}

func roundChips(chips int64, rate float64) int64 {
	return int64(math.Round(float64(chips) * rate))
}
