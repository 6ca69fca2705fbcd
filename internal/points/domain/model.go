// Package domain defines the points engine contract: awarding XP,
// reversing entries, and reading a member's standing.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
)

// AddPointsRequest is one XP posting to apply.
type AddPointsRequest struct {
	UserID           string         `json:"user_id"`
	Amount           int64          `json:"amount"`
	Source           string         `json:"source"`
	SourceIdentifier string         `json:"source_identifier,omitempty"`
	Reason           string         `json:"reason"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// AddPointsResult reports the applied (or deduplicated) posting.
type AddPointsResult struct {
	Entry     ledgerdomain.LedgerEntry `json:"entry"`
	Balance   ledgerdomain.Balance     `json:"balance"`
	LeveledUp bool                     `json:"leveled_up"`
	// Duplicate is true when an earlier confirmed entry for the same
	// external event was returned instead of a new posting.
	Duplicate bool `json:"duplicate"`
}

// ReverseResult reports a completed reversal.
type ReverseResult struct {
	Original ledgerdomain.LedgerEntry `json:"original"`
	Offset   ledgerdomain.LedgerEntry `json:"offset"`
	Balance  ledgerdomain.Balance     `json:"balance"`
}

// UserPoints is a member's current standing.
type UserPoints struct {
	Balance     ledgerdomain.Balance       `json:"balance"`
	ToNextLevel int64                      `json:"to_next_level"`
	BySource    []ledgerdomain.SourceSum   `json:"by_source"`
	Recent      []ledgerdomain.LedgerEntry `json:"recent"`
}

// Service is the points engine. Every mutation applies the ledger entry,
// the balance update, and the level recomputation in one transaction.
type Service interface {
	AddPoints(ctx context.Context, req AddPointsRequest) (*AddPointsResult, error)
	ReverseTransaction(ctx context.Context, entryID snowflake.ID, reason string) (*ReverseResult, error)
	GetUserPoints(ctx context.Context, userID string) (*UserPoints, error)

	// Award applies the catalog-defined amount for a named action. The
	// typed variants below build the idempotency key for their event so
	// bot integrations cannot double-pay an action.
	Award(ctx context.Context, userID, action, sourceIdentifier string, metadata map[string]any) (*AddPointsResult, error)
	AwardCoffeeMade(ctx context.Context, userID, messageID string) (*AddPointsResult, error)
	AwardCoffeeBrought(ctx context.Context, userID, messageID string) (*AddPointsResult, error)
	AwardRating(ctx context.Context, userID, ratingID string) (*AddPointsResult, error)
	AwardChatMessage(ctx context.Context, userID, messageID string) (*AddPointsResult, error)
	AwardReactionGiven(ctx context.Context, userID, messageID, reactionType string) (*AddPointsResult, error)
	AwardReactionReceived(ctx context.Context, userID, messageID, reactionType, fromUserID string) (*AddPointsResult, error)
	AwardAchievement(ctx context.Context, userID, achievementID, rarity string) (*AddPointsResult, error)
}

var (
	ErrDailyLimitReached = errors.New("daily_limit_reached")
	ErrNotReversible     = errors.New("not_reversible")
	ErrReservedSource    = errors.New("reserved_source")
)
