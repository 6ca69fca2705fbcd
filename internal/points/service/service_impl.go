// Package service implements the points engine. Every award and reversal
// applies its ledger entry, balance mutation, and level recomputation in
// a single database transaction.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/clock"
	"github.com/opencafe/pointsd/internal/config"
	"github.com/opencafe/pointsd/internal/events"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	"github.com/opencafe/pointsd/internal/level"
	obscontext "github.com/opencafe/pointsd/internal/observability/context"
	"github.com/opencafe/pointsd/internal/observability/metrics"
	pointsdomain "github.com/opencafe/pointsd/internal/points/domain"
	"github.com/opencafe/pointsd/internal/xpconfig"
)

// errDedupeRace marks a unique-index violation on the dedupe index. The
// caller re-reads the prior entry instead of failing.
var errDedupeRace = errors.New("dedupe_race")

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	genID   *snowflake.Node
	repo    ledgerdomain.Repository
	catalog xpconfig.Service
	outbox  *events.Outbox
	metrics *metrics.EngineMetrics

	// dailyCaps maps a capped source to its per-day award limit.
	dailyCaps map[string]int64
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    ledgerdomain.Repository
	Catalog xpconfig.Service
	Outbox  *events.Outbox
}

func NewService(p ServiceParam) pointsdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("points.service"),
		clock:   p.Clock,
		genID:   p.GenID,
		repo:    p.Repo,
		catalog: p.Catalog,
		outbox:  p.Outbox,
		metrics: metrics.EngineWithConfig(metrics.Config{
			ServiceName: p.Cfg.ServiceName,
			Environment: p.Cfg.Environment,
		}),
		dailyCaps: map[string]int64{
			ledgerdomain.SourceMessage:  int64(p.Cfg.DailyLimitMessages),
			ledgerdomain.SourceReaction: int64(p.Cfg.DailyLimitReactions),
		},
	}
}

func (s *Service) AddPoints(ctx context.Context, req pointsdomain.AddPointsRequest) (*pointsdomain.AddPointsResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SourceIdentifier = strings.TrimSpace(req.SourceIdentifier)

	if err := ledgerdomain.ValidateNewEntry(req.UserID, req.Amount, req.Source, req.Reason); err != nil {
		s.metrics.IncAward(req.Source, "rejected")
		return nil, err
	}
	if req.Source == ledgerdomain.SourceSystemCorrection {
		s.metrics.IncAward(req.Source, "rejected")
		return nil, pointsdomain.ErrReservedSource
	}

	var result *pointsdomain.AddPointsResult
	err := withRetry(ctx, s.log, "add_points", func() error {
		var err error
		result, err = s.addPointsOnce(ctx, req)
		return err
	})
	if errors.Is(err, errDedupeRace) {
		// Another writer confirmed the same external event first; rerun
		// once so the dedupe lookup returns its committed entry.
		result, err = s.addPointsOnce(ctx, req)
	}
	if err != nil {
		s.metrics.IncAward(req.Source, resultLabel(err))
		return nil, err
	}

	if result.Duplicate {
		s.metrics.IncAward(req.Source, "duplicate")
	} else {
		s.metrics.IncAward(req.Source, "applied")
		s.metrics.ObserveAwardAmount(req.Source, req.Amount)
	}

	fields := []zap.Field{
		zap.String("user_id", req.UserID),
		zap.String("source", req.Source),
		zap.Int64("amount", req.Amount),
		zap.Bool("duplicate", result.Duplicate),
		zap.Bool("leveled_up", result.LeveledUp),
		zap.Int64("total_xp", result.Balance.TotalXP),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if actorType, actorID := obscontext.ActorFromContext(ctx); actorType != "" {
		fields = append(fields, zap.String("actor_type", actorType), zap.String("actor_id", actorID))
	}
	s.log.Info("points applied", fields...)
	return result, nil
}

func (s *Service) addPointsOnce(ctx context.Context, req pointsdomain.AddPointsRequest) (*pointsdomain.AddPointsResult, error) {
	var result pointsdomain.AddPointsResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureUser(tx, req.UserID); err != nil {
			return err
		}

		if req.SourceIdentifier != "" {
			prior, err := s.findConfirmed(tx, req.UserID, req.Source, req.SourceIdentifier)
			if err != nil {
				return err
			}
			if prior != nil {
				balance, err := s.loadBalance(tx, req.UserID)
				if err != nil {
					return err
				}
				result = pointsdomain.AddPointsResult{
					Entry:     *prior,
					Balance:   *balance,
					Duplicate: true,
				}
				return nil
			}
		}

		now := s.clock.Now()

		if limit, capped := s.dailyCaps[req.Source]; capped && req.Amount > 0 {
			if err := s.consumeDailyBudget(tx, req.UserID, req.Source, ledgerdomain.DayKey(now), limit, now); err != nil {
				return err
			}
		}

		before, after, err := s.applyBalanceDelta(tx, req.UserID, req.Amount, now)
		if err != nil {
			return err
		}

		entry := ledgerdomain.LedgerEntry{
			ID:               s.genID.Generate(),
			UserID:           req.UserID,
			Amount:           req.Amount,
			Source:           req.Source,
			SourceIdentifier: req.SourceIdentifier,
			Reason:           strings.TrimSpace(req.Reason),
			Status:           ledgerdomain.EntryStatusConfirmed,
			BalanceBefore:    before,
			BalanceAfter:     after,
			Metadata:         toJSONMap(req.Metadata),
			OccurredAt:       now,
			CreatedAt:        now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			if isUniqueViolation(err) {
				return errDedupeRace
			}
			return err
		}

		if err := s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventPointsAwarded,
			Payload: events.EntryPayload{
				EntryID: entry.ID.String(),
				UserID:  entry.UserID,
				Amount:  entry.Amount,
				Source:  entry.Source,
			}.ToMap(),
		}); err != nil {
			return err
		}

		balance, err := s.loadBalance(tx, req.UserID)
		if err != nil {
			return err
		}
		result = pointsdomain.AddPointsResult{
			Entry:     entry,
			Balance:   *balance,
			LeveledUp: level.ForTotal(after) > level.ForTotal(before),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) ReverseTransaction(ctx context.Context, entryID snowflake.ID, reason string) (*pointsdomain.ReverseResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.metrics.IncReversal("rejected")
		return nil, ledgerdomain.ErrMissingReason
	}

	var result pointsdomain.ReverseResult
	err := withRetry(ctx, s.log, "reverse_transaction", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var original ledgerdomain.LedgerEntry
			err := tx.First(&original, "id = ?", entryID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ledgerdomain.ErrEntryNotFound
			}
			if err != nil {
				return err
			}

			if original.Status != ledgerdomain.EntryStatusConfirmed ||
				original.ReversalOfID != nil ||
				original.Source == ledgerdomain.SourceSystemCorrection {
				return pointsdomain.ErrNotReversible
			}

			// Guarded flip: loses the race to a concurrent reversal.
			flip := tx.Exec(
				`UPDATE ledger_entries SET status = ? WHERE id = ? AND status = ?`,
				ledgerdomain.EntryStatusReversed,
				original.ID,
				ledgerdomain.EntryStatusConfirmed,
			)
			if flip.Error != nil {
				return flip.Error
			}
			if flip.RowsAffected == 0 {
				return pointsdomain.ErrNotReversible
			}
			original.Status = ledgerdomain.EntryStatusReversed

			now := s.clock.Now()
			before, after, err := s.applyBalanceDelta(tx, original.UserID, -original.Amount, now)
			if err != nil {
				return err
			}

			offset := ledgerdomain.LedgerEntry{
				ID:            s.genID.Generate(),
				UserID:        original.UserID,
				Amount:        -original.Amount,
				Source:        original.Source,
				Reason:        reason,
				Status:        ledgerdomain.EntryStatusReversed,
				ReversalOfID:  &original.ID,
				BalanceBefore: before,
				BalanceAfter:  after,
				OccurredAt:    now,
				CreatedAt:     now,
			}
			if err := tx.Create(&offset).Error; err != nil {
				return err
			}

			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type: events.EventPointsReversed,
				Payload: events.EntryPayload{
					EntryID: original.ID.String(),
					UserID:  original.UserID,
					Amount:  -original.Amount,
					Source:  original.Source,
				}.ToMap(),
			}); err != nil {
				return err
			}

			balance, err := s.loadBalance(tx, original.UserID)
			if err != nil {
				return err
			}
			result = pointsdomain.ReverseResult{
				Original: original,
				Offset:   offset,
				Balance:  *balance,
			}
			return nil
		})
	})
	if err != nil {
		s.metrics.IncReversal(resultLabel(err))
		return nil, err
	}

	s.metrics.IncReversal("reversed")
	s.log.Info("entry reversed",
		zap.String("user_id", result.Original.UserID),
		zap.String("entry_id", result.Original.ID.String()),
		zap.Int64("amount", result.Original.Amount),
	)
	return &result, nil
}

func (s *Service) GetUserPoints(ctx context.Context, userID string) (*pointsdomain.UserPoints, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ledgerdomain.ErrInvalidUser
	}

	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	balance, err := s.repo.GetBalance(ctx, userID)
	if errors.Is(err, ledgerdomain.ErrBalanceNotFound) {
		// A member with no postings yet stands at level one.
		balance = &ledgerdomain.Balance{UserID: userID, Level: 1}
	} else if err != nil {
		return nil, err
	}

	bySource, err := s.repo.SumBySource(ctx, userID)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.FindByUser(ctx, userID, ledgerdomain.Filter{Limit: recentEntryCount})
	if err != nil {
		return nil, err
	}

	return &pointsdomain.UserPoints{
		Balance:     *balance,
		ToNextLevel: level.ToNext(balance.TotalXP),
		BySource:    bySource,
		Recent:      recent,
	}, nil
}

func (s *Service) Award(ctx context.Context, userID, action, sourceIdentifier string, metadata map[string]any) (*pointsdomain.AddPointsResult, error) {
	resolved, err := s.catalog.Lookup(ctx, action)
	if err != nil {
		return nil, err
	}
	return s.AddPoints(ctx, pointsdomain.AddPointsRequest{
		UserID:           userID,
		Amount:           resolved.Amount,
		Source:           resolved.Source,
		SourceIdentifier: sourceIdentifier,
		Reason:           resolved.Name,
		Metadata:         metadata,
	})
}

func (s *Service) ensureUser(tx *gorm.DB, userID string) error {
	var found string
	err := tx.Raw(`SELECT id FROM users WHERE id = ?`, userID).Scan(&found).Error
	if err != nil {
		return err
	}
	if found == "" {
		return ledgerdomain.ErrUserNotFound
	}
	return nil
}

func (s *Service) findConfirmed(tx *gorm.DB, userID, source, sourceIdentifier string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := tx.
		Where("user_id = ? AND source = ? AND source_identifier = ? AND status = ?",
			userID, source, sourceIdentifier, ledgerdomain.EntryStatusConfirmed).
		Order("id ASC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) consumeDailyBudget(tx *gorm.DB, userID, source, day string, limit int64, now time.Time) error {
	res := tx.Exec(
		`INSERT INTO daily_counters (user_id, source, day, count, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (user_id, source, day)
		 DO UPDATE SET count = daily_counters.count + 1, updated_at = excluded.updated_at
		 WHERE daily_counters.count < ?`,
		userID, source, day, now, limit,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pointsdomain.ErrDailyLimitReached
	}
	return nil
}

// applyBalanceDelta increments the materialized balance atomically and
// recomputes the level from the new total. Returns (before, after).
func (s *Service) applyBalanceDelta(tx *gorm.DB, userID string, delta int64, now time.Time) (int64, int64, error) {
	if err := tx.Exec(
		`INSERT INTO balances (user_id, total_xp, level, level_progress, updated_at)
		 VALUES (?, 0, 1, 0, ?)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now,
	).Error; err != nil {
		return 0, 0, err
	}

	if err := tx.Exec(
		`UPDATE balances SET total_xp = total_xp + ?, updated_at = ? WHERE user_id = ?`,
		delta, now, userID,
	).Error; err != nil {
		return 0, 0, err
	}

	var after int64
	if err := tx.Raw(
		`SELECT total_xp FROM balances WHERE user_id = ?`, userID,
	).Scan(&after).Error; err != nil {
		return 0, 0, err
	}

	newLevel := level.ForTotal(after)
	if err := tx.Exec(
		`UPDATE balances SET level = ?, level_progress = ? WHERE user_id = ?`,
		newLevel, level.ProgressWithin(after), userID,
	).Error; err != nil {
		return 0, 0, err
	}

	return after - delta, after, nil
}

func (s *Service) loadBalance(tx *gorm.DB, userID string) (*ledgerdomain.Balance, error) {
	var balance ledgerdomain.Balance
	err := tx.First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ledgerdomain.Balance{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func toJSONMap(m map[string]any) datatypes.JSONMap {
	if len(m) == 0 {
		return nil
	}
	out := datatypes.JSONMap{}
	for key, value := range m {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "sqlstate 23505")
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, pointsdomain.ErrDailyLimitReached):
		return "capped"
	case errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, ledgerdomain.ErrUserNotFound):
		return "not_found"
	case errors.Is(err, pointsdomain.ErrNotReversible):
		return "conflict"
	default:
		return "failed"
	}
}
