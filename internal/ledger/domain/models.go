package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	// EntryStatusConfirmed entries count toward the balance.
	EntryStatusConfirmed EntryStatus = "confirmed"
	// EntryStatusReversed entries are excluded from the balance. Both a
	// reversed original and its offsetting record carry this status.
	EntryStatusReversed EntryStatus = "reversed"
)

// Sources a ledger entry can originate from.
const (
	SourceCoffeeMade       = "coffee-made"
	SourceCoffeeBrought    = "coffee-brought"
	SourceMessage          = "message"
	SourceReaction         = "reaction"
	SourceRating           = "rating"
	SourceAchievement      = "achievement"
	SourceManual           = "manual"
	SourceSystemCorrection = "system-correction"
)

// KnownSources lists every accepted source value.
var KnownSources = []string{
	SourceCoffeeMade,
	SourceCoffeeBrought,
	SourceMessage,
	SourceReaction,
	SourceRating,
	SourceAchievement,
	SourceManual,
	SourceSystemCorrection,
}

// IsKnownSource reports whether source is an accepted value.
func IsKnownSource(source string) bool {
	for _, known := range KnownSources {
		if source == known {
			return true
		}
	}
	return false
}

// LedgerEntry is one immutable XP posting. Reversal never deletes a row;
// the original flips to reversed and an offsetting record is appended.
type LedgerEntry struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID           string            `gorm:"type:text;not null;index" json:"user_id"`
	Amount           int64             `gorm:"not null" json:"amount"`
	Source           string            `gorm:"type:text;not null;index" json:"source"`
	SourceIdentifier string            `gorm:"type:text;not null;default:''" json:"source_identifier,omitempty"`
	Reason           string            `gorm:"type:text;not null" json:"reason"`
	Status           EntryStatus       `gorm:"type:text;not null;default:'confirmed'" json:"status"`
	ReversalOfID     *snowflake.ID     `gorm:"index" json:"reversal_of_id,omitempty"`
	BalanceBefore    int64             `gorm:"not null;default:0" json:"balance_before"`
	BalanceAfter     int64             `gorm:"not null;default:0" json:"balance_after"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty"`
	OccurredAt       time.Time         `gorm:"not null;index" json:"occurred_at"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }

// Balance is the materialized running total per user. Level and progress
// are derived from TotalXP and recomputed on every write. Streak and
// BestStreak are stored on behalf of the coffee scheduler; nothing here
// reads or recomputes them.
type Balance struct {
	UserID        string    `gorm:"primaryKey;type:text" json:"user_id"`
	TotalXP       int64     `gorm:"not null;default:0" json:"total_xp"`
	Level         int       `gorm:"not null;default:1" json:"level"`
	LevelProgress int64     `gorm:"not null;default:0" json:"level_progress"`
	Streak        int       `gorm:"not null;default:0" json:"streak"`
	BestStreak    int       `gorm:"not null;default:0" json:"best_streak"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "balances" }

// DailyCounter tracks per-user, per-source awards inside one UTC day.
type DailyCounter struct {
	UserID    string    `gorm:"primaryKey;type:text" json:"user_id"`
	Source    string    `gorm:"primaryKey;type:text" json:"source"`
	Day       string    `gorm:"primaryKey;type:text" json:"day"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (DailyCounter) TableName() string { return "daily_counters" }

// User is a club member eligible to earn XP.
type User struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	DisplayName string    `gorm:"type:text;not null;default:''" json:"display_name"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// DayKey formats t as the UTC day bucket used by daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
