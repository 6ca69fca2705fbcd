package events

// Event types written by the points engine and the reconciler.
const (
	EventPointsAwarded    = "points.awarded"
	EventPointsReversed   = "points.reversed"
	EventBalanceCorrected = "balance.corrected"
)

// EntryPayload captures the minimal data downstream consumers need to
// react to a ledger posting.
type EntryPayload struct {
	EntryID string `json:"entry_id"`
	UserID  string `json:"user_id"`
	Amount  int64  `json:"amount"`
	Source  string `json:"source"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p EntryPayload) ToMap() map[string]any {
	return map[string]any{
		"entry_id": p.EntryID,
		"user_id":  p.UserID,
		"amount":   p.Amount,
		"source":   p.Source,
	}
}

// CorrectionPayload describes a reconciliation overwrite.
type CorrectionPayload struct {
	UserID     string `json:"user_id"`
	Expected   int64  `json:"expected"`
	Stored     int64  `json:"stored"`
	Difference int64  `json:"difference"`
}

// ToMap converts a payload into an outbox-friendly map.
func (p CorrectionPayload) ToMap() map[string]any {
	return map[string]any{
		"user_id":    p.UserID,
		"expected":   p.Expected,
		"stored":     p.Stored,
		"difference": p.Difference,
	}
}
