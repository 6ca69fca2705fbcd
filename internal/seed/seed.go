// Package seed bootstraps first-run state: the admin API token and,
// outside production, a handful of demo members.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencafe/pointsd/internal/config"
	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
	tokensecret "github.com/opencafe/pointsd/internal/token/secret"
)

const adminTokenName = "bootstrap-admin"

// EnsureAdminToken mints the first admin API token when none exists.
// The presentable token is logged exactly once, at creation, because
// only its hash is stored.
func EnsureAdminToken(db *gorm.DB, cfg config.Config, log *zap.Logger, node *snowflake.Node) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	log = log.Named("seed")

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&tokendomain.APIToken{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		id := node.Generate()
		secret := ""
		if cfg.BootstrapAdminToken != "" {
			parsedID, parsedSecret, err := tokendomain.Parse(cfg.BootstrapAdminToken)
			if err != nil {
				return err
			}
			id = parsedID
			secret = parsedSecret
		} else {
			minted, err := tokensecret.Generate()
			if err != nil {
				return err
			}
			secret = minted
		}

		hash, err := tokensecret.Hash(secret)
		if err != nil {
			return err
		}

		record := tokendomain.APIToken{
			ID:         id,
			Name:       adminTokenName,
			SecretHash: hash,
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		if cfg.BootstrapAdminToken == "" {
			log.Info("minted bootstrap admin token; store it now, it will not be shown again",
				zap.String("token", tokendomain.Format(id, secret)),
			)
		} else {
			log.Info("registered bootstrap admin token from configuration",
				zap.String("token_id", id.String()),
			)
		}
		return nil
	})
}

// EnsureDemoUsers seeds a few members so a fresh development database
// has something to award points to. Production databases are left alone.
func EnsureDemoUsers(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	if cfg.IsProduction() {
		return nil
	}

	demo := []ledgerdomain.User{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
		{ID: "carol", DisplayName: "Carol"},
	}

	ctx := context.Background()
	for _, user := range demo {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO users (id, display_name) VALUES (?, ?)
			 ON CONFLICT (id) DO NOTHING`,
			user.ID,
			user.DisplayName,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}
