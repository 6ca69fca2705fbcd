package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Filter narrows ledger queries. Zero values mean "no restriction".
type Filter struct {
	Sources   []string
	Statuses  []EntryStatus
	Since     *time.Time
	Until     *time.Time
	MinAmount *int64
	MaxAmount *int64
	Limit     int
	Offset    int
}

// EntryStats aggregates the amounts matched by a filter.
type EntryStats struct {
	Count int64   `json:"count"`
	Sum   int64   `json:"sum"`
	Avg   float64 `json:"avg"`
}

// SourceSum is a per-source aggregate for one user.
type SourceSum struct {
	Source  string `json:"source"`
	Total   int64  `json:"total"`
	Entries int64  `json:"entries"`
}

// DuplicateGroup is a set of confirmed entries sharing the same external
// event identity.
type DuplicateGroup struct {
	UserID           string `json:"user_id"`
	Source           string `json:"source"`
	SourceIdentifier string `json:"source_identifier"`
	Count            int64  `json:"count"`
	Total            int64  `json:"total"`
}

// UserSummary is a per-user rollup for the report endpoints.
type UserSummary struct {
	UserID           string     `json:"user_id"`
	TotalXP          int64      `json:"total_xp"`
	Level            int        `json:"level"`
	ConfirmedEntries int64      `json:"confirmed_entries"`
	ReversedEntries  int64      `json:"reversed_entries"`
	LastActivityAt   *time.Time `json:"last_activity_at,omitempty"`
}

// UserReportRow is one user's earned/reversed totals inside a report
// window.
type UserReportRow struct {
	UserID   string `json:"user_id"`
	Earned   int64  `json:"earned"`
	Reversed int64  `json:"reversed"`
	Entries  int64  `json:"entries"`
}

// Report is the ledger rollup for an optional date/source window. All
// figures are derived from the entries the filter matches.
type Report struct {
	Users            int64           `json:"users"`
	ConfirmedEntries int64           `json:"confirmed_entries"`
	ReversedEntries  int64           `json:"reversed_entries"`
	TotalXP          int64           `json:"total_xp"`
	BySource         []SourceSum     `json:"by_source"`
	ByUser           []UserReportRow `json:"by_user"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// Repository reads the ledger. Writes go through the points engine so
// every mutation shares one transaction with the balance update.
type Repository interface {
	FindByID(ctx context.Context, id snowflake.ID) (*LedgerEntry, error)
	FindByUser(ctx context.Context, userID string, f Filter) ([]LedgerEntry, error)
	CountByUser(ctx context.Context, userID string, f Filter) (int64, error)
	StatsByUser(ctx context.Context, userID string, f Filter) (*EntryStats, error)
	FindBySourceGroup(ctx context.Context, userID, source, sourceIdentifier string) ([]LedgerEntry, error)

	// AggregateSum returns the confirmed total for one user, excluding
	// correction postings so reconciliation converges.
	AggregateSum(ctx context.Context, userID string) (int64, error)
	SumBySource(ctx context.Context, userID string) ([]SourceSum, error)

	GetUser(ctx context.Context, userID string) (*User, error)
	FindUserByName(ctx context.Context, name string) (*User, error)
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	ListUserIDs(ctx context.Context, offset, limit int) ([]string, error)

	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	UserSummaries(ctx context.Context) ([]UserSummary, error)
	Report(ctx context.Context, f Filter) (*Report, error)
}

var (
	ErrEntryNotFound   = errors.New("entry_not_found")
	ErrUserNotFound    = errors.New("user_not_found")
	ErrBalanceNotFound = errors.New("balance_not_found")
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidSource   = errors.New("invalid_source")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrMissingReason   = errors.New("missing_reason")
)
