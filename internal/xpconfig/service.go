package xpconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/cache"
	"github.com/opencafe/pointsd/internal/config"
)

const settingsKey = "xp-config"

// Setting is one row of the generic settings table.
type Setting struct {
	Key       string         `gorm:"primaryKey;type:text"`
	Value     datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Setting) TableName() string { return "settings" }

// Service resolves the effective XP catalog: defaults merged with
// persisted amount overrides.
type Service interface {
	Catalog(ctx context.Context) (Catalog, error)
	Lookup(ctx context.Context, action string) (Action, error)
	SetAmount(ctx context.Context, action string, amount int64) error
}

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	cache    cache.Cache[string, Catalog]
	cacheTTL time.Duration
}

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Cfg config.Config
	Log *zap.Logger
}

func NewService(p ServiceParam) Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("xpconfig.service"),
		cache:    cache.NewTTLCache[string, Catalog](),
		cacheTTL: p.Cfg.XPConfigCacheTTL,
	}
}

func (s *service) Catalog(ctx context.Context) (Catalog, error) {
	if cached, ok := s.cache.Get(settingsKey); ok {
		return cached, nil
	}

	overrides, err := s.loadOverrides(ctx)
	if err != nil {
		return nil, err
	}

	catalog := Defaults()
	for name, amount := range overrides {
		action, ok := catalog[name]
		if !ok {
			s.log.Warn("ignoring override for unknown action", zap.String("action", name))
			continue
		}
		action.Amount = amount
		catalog[name] = action
	}

	s.cache.Set(settingsKey, catalog, s.cacheTTL)
	return catalog, nil
}

func (s *service) Lookup(ctx context.Context, action string) (Action, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return Action{}, err
	}
	resolved, ok := catalog[action]
	if !ok {
		return Action{}, ErrUnknownAction
	}
	return resolved, nil
}

func (s *service) SetAmount(ctx context.Context, action string, amount int64) error {
	if _, ok := Defaults()[action]; !ok {
		return ErrUnknownAction
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		overrides, err := loadOverridesTx(tx)
		if err != nil {
			return err
		}
		overrides[action] = amount

		value, err := json.Marshal(overrides)
		if err != nil {
			return err
		}
		return tx.Exec(
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
			settingsKey,
			datatypes.JSON(value),
		).Error
	})
	if err != nil {
		return err
	}

	s.cache.Delete(settingsKey)
	return nil
}

func (s *service) loadOverrides(ctx context.Context) (map[string]int64, error) {
	return loadOverridesTx(s.db.WithContext(ctx))
}

func loadOverridesTx(tx *gorm.DB) (map[string]int64, error) {
	var setting Setting
	err := tx.First(&setting, "key = ?", settingsKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	overrides := map[string]int64{}
	if len(setting.Value) == 0 {
		return overrides, nil
	}
	if err := json.Unmarshal(setting.Value, &overrides); err != nil {
		return nil, err
	}
	return overrides, nil
}
