// Package repository implements the read side of the XP ledger.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
)

type Repository struct {
	db  *gorm.DB
	log *zap.Logger
}

type RepositoryParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewRepository(p RepositoryParam) ledgerdomain.Repository {
	return &Repository{
		db:  p.DB,
		log: p.Log.Named("ledger.repository"),
	}
}

func (r *Repository) FindByID(ctx context.Context, id snowflake.ID) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *Repository) FindByUser(ctx context.Context, userID string, f ledgerdomain.Filter) ([]ledgerdomain.LedgerEntry, error) {
	query := r.filtered(ctx, userID, f).Order("occurred_at DESC, id DESC")
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) CountByUser(ctx context.Context, userID string, f ledgerdomain.Filter) (int64, error) {
	var count int64
	err := r.filtered(ctx, userID, f).Model(&ledgerdomain.LedgerEntry{}).Count(&count).Error
	return count, err
}

func (r *Repository) StatsByUser(ctx context.Context, userID string, f ledgerdomain.Filter) (*ledgerdomain.EntryStats, error) {
	var stats ledgerdomain.EntryStats
	err := r.filtered(ctx, userID, f).
		Model(&ledgerdomain.LedgerEntry{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount), 0) AS sum, COALESCE(AVG(amount), 0) AS avg").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *Repository) filtered(ctx context.Context, userID string, f ledgerdomain.Filter) *gorm.DB {
	return r.scoped(ctx, f).Where("user_id = ?", userID)
}

// scoped applies the non-user parts of a filter.
func (r *Repository) scoped(ctx context.Context, f ledgerdomain.Filter) *gorm.DB {
	query := r.db.WithContext(ctx)
	if len(f.Sources) > 0 {
		query = query.Where("source IN ?", f.Sources)
	}
	if len(f.Statuses) > 0 {
		query = query.Where("status IN ?", f.Statuses)
	}
	if f.Since != nil {
		query = query.Where("occurred_at >= ?", *f.Since)
	}
	if f.Until != nil {
		query = query.Where("occurred_at < ?", *f.Until)
	}
	if f.MinAmount != nil {
		query = query.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		query = query.Where("amount <= ?", *f.MaxAmount)
	}
	return query
}

func (r *Repository) FindBySourceGroup(ctx context.Context, userID, source, sourceIdentifier string) ([]ledgerdomain.LedgerEntry, error) {
	var entries []ledgerdomain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND source_identifier = ?", userID, source, sourceIdentifier).
		Order("occurred_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) AggregateSum(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE user_id = ? AND status = ? AND source <> ?`,
		userID,
		ledgerdomain.EntryStatusConfirmed,
		ledgerdomain.SourceSystemCorrection,
	).Scan(&total).Error
	return total, err
}

func (r *Repository) SumBySource(ctx context.Context, userID string) ([]ledgerdomain.SourceSum, error) {
	var sums []ledgerdomain.SourceSum
	err := r.db.WithContext(ctx).Raw(
		`SELECT source, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS entries
		 FROM ledger_entries
		 WHERE user_id = ? AND status = ?
		 GROUP BY source
		 ORDER BY source`,
		userID,
		ledgerdomain.EntryStatusConfirmed,
	).Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func (r *Repository) GetUser(ctx context.Context, userID string) (*ledgerdomain.User, error) {
	var user ledgerdomain.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) FindUserByName(ctx context.Context, name string) (*ledgerdomain.User, error) {
	var user ledgerdomain.User
	err := r.db.WithContext(ctx).First(&user, "display_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetBalance(ctx context.Context, userID string) (*ledgerdomain.Balance, error) {
	var balance ledgerdomain.Balance
	err := r.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ledgerdomain.ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *Repository) ListUserIDs(ctx context.Context, offset, limit int) ([]string, error) {
	var ids []string
	query := r.db.WithContext(ctx).
		Model(&ledgerdomain.User{}).
		Order("id ASC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) DuplicateGroups(ctx context.Context) ([]ledgerdomain.DuplicateGroup, error) {
	var groups []ledgerdomain.DuplicateGroup
	err := r.db.WithContext(ctx).Raw(
		`SELECT user_id, source, source_identifier,
		        COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total
		 FROM ledger_entries
		 WHERE status = ? AND source_identifier <> ''
		 GROUP BY user_id, source, source_identifier
		 HAVING COUNT(*) > 1
		 ORDER BY user_id, source, source_identifier`,
		ledgerdomain.EntryStatusConfirmed,
	).Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

type summaryRow struct {
	UserID           string
	TotalXP          int64
	Level            int
	ConfirmedEntries int64
	ReversedEntries  int64

	// MAX(occurred_at) comes back untyped from sqlite, so it is scanned
	// as text and parsed afterwards.
	LastActivityAt sql.NullString
}

var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseDBTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return &parsed
		}
	}
	return nil
}

func (r *Repository) UserSummaries(ctx context.Context) ([]ledgerdomain.UserSummary, error) {
	var rows []summaryRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT b.user_id AS user_id,
		        b.total_xp AS total_xp,
		        b.level AS level,
		        COALESCE(e.confirmed_entries, 0) AS confirmed_entries,
		        COALESCE(e.reversed_entries, 0) AS reversed_entries,
		        e.last_activity_at AS last_activity_at
		 FROM balances b
		 LEFT JOIN (
		     SELECT user_id,
		            SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS confirmed_entries,
		            SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS reversed_entries,
		            MAX(occurred_at) AS last_activity_at
		     FROM ledger_entries
		     GROUP BY user_id
		 ) e ON e.user_id = b.user_id
		 ORDER BY b.total_xp DESC, b.user_id ASC`,
		ledgerdomain.EntryStatusConfirmed,
		ledgerdomain.EntryStatusReversed,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summaries := make([]ledgerdomain.UserSummary, 0, len(rows))
	for _, row := range rows {
		summary := ledgerdomain.UserSummary{
			UserID:           row.UserID,
			TotalXP:          row.TotalXP,
			Level:            row.Level,
			ConfirmedEntries: row.ConfirmedEntries,
			ReversedEntries:  row.ReversedEntries,
		}
		if row.LastActivityAt.Valid {
			summary.LastActivityAt = parseDBTime(row.LastActivityAt.String)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Report aggregates the entries the filter matches. Date and source
// restrictions narrow every figure, including the per-user breakdown.
func (r *Repository) Report(ctx context.Context, f ledgerdomain.Filter) (*ledgerdomain.Report, error) {
	report := ledgerdomain.Report{GeneratedAt: time.Now().UTC()}

	type totalsRow struct {
		Users            int64
		ConfirmedEntries int64
		ReversedEntries  int64
		TotalXP          int64
	}
	var totals totalsRow
	if err := r.scoped(ctx, f).
		Model(&ledgerdomain.LedgerEntry{}).
		Select(
			`COUNT(DISTINCT user_id) AS users,
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS confirmed_entries,
			 COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS reversed_entries,
			 COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_xp`,
			ledgerdomain.EntryStatusConfirmed,
			ledgerdomain.EntryStatusReversed,
			ledgerdomain.EntryStatusConfirmed,
		).
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	report.Users = totals.Users
	report.ConfirmedEntries = totals.ConfirmedEntries
	report.ReversedEntries = totals.ReversedEntries
	report.TotalXP = totals.TotalXP

	var bySource []ledgerdomain.SourceSum
	if err := r.scoped(ctx, f).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("status = ?", ledgerdomain.EntryStatusConfirmed).
		Select("source, COALESCE(SUM(amount), 0) AS total, COUNT(*) AS entries").
		Group("source").
		Order("source").
		Scan(&bySource).Error; err != nil {
		return nil, err
	}
	report.BySource = bySource

	// Offsetting records are excluded from the reversed column so it
	// reports the XP taken back, not a rows-cancel-out zero.
	var byUser []ledgerdomain.UserReportRow
	if err := r.scoped(ctx, f).
		Model(&ledgerdomain.LedgerEntry{}).
		Select(
			`user_id,
			 COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS earned,
			 COALESCE(SUM(CASE WHEN status = ? AND reversal_of_id IS NULL THEN amount ELSE 0 END), 0) AS reversed,
			 COUNT(*) AS entries`,
			ledgerdomain.EntryStatusConfirmed,
			ledgerdomain.EntryStatusReversed,
		).
		Group("user_id").
		Order("earned DESC, user_id ASC").
		Scan(&byUser).Error; err != nil {
		return nil, err
	}
	report.ByUser = byUser

	return &report, nil
}
