package domain

import "strings"

// ValidateNewEntry checks the caller-supplied fields of a posting before
// it enters the write path.
func ValidateNewEntry(userID string, amount int64, source, reason string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if !IsKnownSource(source) {
		return ErrInvalidSource
	}
	if strings.TrimSpace(reason) == "" {
		return ErrMissingReason
	}
	return nil
}
