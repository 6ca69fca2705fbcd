package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
)

type repository struct{}

func Provide() tokendomain.Repository { return repository{} }

func (repository) Insert(ctx context.Context, db *gorm.DB, token *tokendomain.APIToken) error {
	return db.WithContext(ctx).Create(token).Error
}

func (repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tokendomain.APIToken, error) {
	var token tokendomain.APIToken
	err := db.WithContext(ctx).First(&token, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (repository) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC(),
		id,
	).Error
}

func (repository) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&tokendomain.APIToken{}).Count(&count).Error
	return count, err
}
