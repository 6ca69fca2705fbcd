// Package reconcile validates stored balances against the ledger and
// repairs drift with auditable correction postings.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/clock"
	"github.com/opencafe/pointsd/internal/config"
	"github.com/opencafe/pointsd/internal/events"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	"github.com/opencafe/pointsd/internal/level"
	"github.com/opencafe/pointsd/internal/observability/metrics"
)

// ValidationResult compares one user's stored balance to the ledger.
type ValidationResult struct {
	UserID     string `json:"user_id"`
	Valid      bool   `json:"valid"`
	Expected   int64  `json:"expected"`
	Stored     int64  `json:"stored"`
	Difference int64  `json:"difference"` // stored - expected
}

// CorrectionResult reports one repair.
type CorrectionResult struct {
	ValidationResult
	Corrected bool                      `json:"corrected"`
	Entry     *ledgerdomain.LedgerEntry `json:"entry,omitempty"`
}

// Discrepancy is one drifted user found by a batch run.
type Discrepancy struct {
	UserID         string `json:"user_id"`
	Expected       int64  `json:"expected"`
	Stored         int64  `json:"stored"`
	Difference     int64  `json:"difference"`
	Corrected      bool   `json:"corrected"`
	RequiresReview bool   `json:"requires_review"`
}

// BatchResult summarizes one reconciliation sweep.
type BatchResult struct {
	Checked       int           `json:"checked"`
	Corrected     int           `json:"corrected"`
	ForReview     int           `json:"for_review"`
	MaxAbsDrift   int64         `json:"max_abs_drift"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// Service checks and repairs balance drift.
type Service interface {
	ValidateUserBalance(ctx context.Context, userID string) (*ValidationResult, error)
	// CorrectUserBalance repairs one user's drift. A non-empty reason is
	// the admin's justification and lands in the correction posting.
	CorrectUserBalance(ctx context.Context, userID, reason string) (*CorrectionResult, error)
	ValidateAll(ctx context.Context) (*BatchResult, error)
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	genID   *snowflake.Node
	repo    ledgerdomain.Repository
	outbox  *events.Outbox
	metrics *metrics.EngineMetrics

	batchSize      int
	autoCorrectMax int64
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Cfg    config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	GenID  *snowflake.Node
	Repo   ledgerdomain.Repository
	Outbox *events.Outbox
}

func NewService(p ServiceParam) Service {
	batchSize := p.Cfg.ReconcileBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &service{
		db:     p.DB,
		log:    p.Log.Named("reconcile.service"),
		clock:  p.Clock,
		genID:  p.GenID,
		repo:   p.Repo,
		outbox: p.Outbox,
		metrics: metrics.EngineWithConfig(metrics.Config{
			ServiceName: p.Cfg.ServiceName,
			Environment: p.Cfg.Environment,
		}),
		batchSize:      batchSize,
		autoCorrectMax: p.Cfg.ReconcileAutoCorrectMax,
	}
}

func (s *service) ValidateUserBalance(ctx context.Context, userID string) (*ValidationResult, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	var result ValidationResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.compare(tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) CorrectUserBalance(ctx context.Context, userID, reason string) (*CorrectionResult, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	var result CorrectionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comparison, err := s.compare(tx, userID)
		if err != nil {
			return err
		}
		result = CorrectionResult{ValidationResult: comparison}
		if comparison.Valid {
			return nil
		}

		entry, err := s.applyCorrection(ctx, tx, comparison, reason)
		if err != nil {
			return err
		}
		result.Corrected = true
		result.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Corrected {
		s.log.Warn("balance corrected",
			zap.String("user_id", userID),
			zap.Int64("expected", result.Expected),
			zap.Int64("stored", result.Stored),
			zap.Int64("difference", result.Difference),
		)
	}
	return &result, nil
}

func (s *service) ValidateAll(ctx context.Context) (*BatchResult, error) {
	batch := BatchResult{StartedAt: s.clock.Now()}

	for offset := 0; ; offset += s.batchSize {
		userIDs, err := s.repo.ListUserIDs(ctx, offset, s.batchSize)
		if err != nil {
			return nil, err
		}
		if len(userIDs) == 0 {
			break
		}

		for _, userID := range userIDs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			discrepancy, err := s.reconcileOne(ctx, userID)
			if err != nil {
				return nil, err
			}
			batch.Checked++
			s.metrics.IncReconcileChecked()
			if discrepancy == nil {
				continue
			}

			batch.Discrepancies = append(batch.Discrepancies, *discrepancy)
			if abs := absInt64(discrepancy.Difference); abs > batch.MaxAbsDrift {
				batch.MaxAbsDrift = abs
			}
			if discrepancy.Corrected {
				batch.Corrected++
				s.metrics.IncReconcileDrift("auto_corrected")
			} else {
				batch.ForReview++
				s.metrics.IncReconcileDrift("manual_review")
			}
		}

		if len(userIDs) < s.batchSize {
			break
		}
	}

	batch.FinishedAt = s.clock.Now()
	s.metrics.SetLastDrift(batch.MaxAbsDrift)

	if len(batch.Discrepancies) > 0 {
		s.log.Warn("reconciliation found drift",
			zap.Int("checked", batch.Checked),
			zap.Int("corrected", batch.Corrected),
			zap.Int("for_review", batch.ForReview),
			zap.Int64("max_abs_drift", batch.MaxAbsDrift),
		)
	}
	return &batch, nil
}

func (s *service) reconcileOne(ctx context.Context, userID string) (*Discrepancy, error) {
	var discrepancy *Discrepancy
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comparison, err := s.compare(tx, userID)
		if err != nil {
			return err
		}
		if comparison.Valid {
			return nil
		}

		found := Discrepancy{
			UserID:     comparison.UserID,
			Expected:   comparison.Expected,
			Stored:     comparison.Stored,
			Difference: comparison.Difference,
		}

		if absInt64(comparison.Difference) > s.autoCorrectMax {
			found.RequiresReview = true
			discrepancy = &found
			return nil
		}

		if _, err := s.applyCorrection(ctx, tx, comparison, ""); err != nil {
			return err
		}
		found.Corrected = true
		discrepancy = &found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return discrepancy, nil
}

// compare recomputes the ledger sum and reads the stored balance inside
// the caller's transaction.
func (s *service) compare(tx *gorm.DB, userID string) (ValidationResult, error) {
	result := ValidationResult{UserID: userID}

	if err := tx.Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE user_id = ? AND status = ? AND source <> ?`,
		userID,
		ledgerdomain.EntryStatusConfirmed,
		ledgerdomain.SourceSystemCorrection,
	).Scan(&result.Expected).Error; err != nil {
		return result, err
	}

	var balance ledgerdomain.Balance
	err := tx.First(&balance, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return result, err
	}
	result.Stored = balance.TotalXP

	result.Difference = result.Stored - result.Expected
	result.Valid = result.Difference == 0
	return result, nil
}

// applyCorrection overwrites the stored balance with the ledger sum and
// appends a correction posting documenting the repair.
func (s *service) applyCorrection(ctx context.Context, tx *gorm.DB, comparison ValidationResult, reason string) (*ledgerdomain.LedgerEntry, error) {
	now := s.clock.Now()
	newLevel := level.ForTotal(comparison.Expected)

	if err := tx.Exec(
		`INSERT INTO balances (user_id, total_xp, level, level_progress, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		     total_xp = excluded.total_xp,
		     level = excluded.level,
		     level_progress = excluded.level_progress,
		     updated_at = excluded.updated_at`,
		comparison.UserID,
		comparison.Expected,
		newLevel,
		level.ProgressWithin(comparison.Expected),
		now,
	).Error; err != nil {
		return nil, err
	}

	entryReason := fmt.Sprintf("balance reconciliation: stored %d, ledger %d", comparison.Stored, comparison.Expected)
	if reason != "" {
		entryReason = fmt.Sprintf("balance correction: %s (stored %d, ledger %d)", reason, comparison.Stored, comparison.Expected)
	}

	entry := ledgerdomain.LedgerEntry{
		ID:            s.genID.Generate(),
		UserID:        comparison.UserID,
		Amount:        -comparison.Difference,
		Source:        ledgerdomain.SourceSystemCorrection,
		Reason:        entryReason,
		Status:        ledgerdomain.EntryStatusConfirmed,
		BalanceBefore: comparison.Stored,
		BalanceAfter:  comparison.Expected,
		OccurredAt:    now,
		CreatedAt:     now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventBalanceCorrected,
		Payload: events.CorrectionPayload{
			UserID:     comparison.UserID,
			Expected:   comparison.Expected,
			Stored:     comparison.Stored,
			Difference: comparison.Difference,
		}.ToMap(),
	}); err != nil {
		return nil, err
	}

	return &entry, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
