// Package domain defines admin API tokens. A presented token has the
// form pt_<id>.<secret>; only the argon2id hash of the secret is stored.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const tokenPrefix = "pt_"

// APIToken is a stored admin credential.
type APIToken struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Name       string       `gorm:"type:text;not null" json:"name"`
	SecretHash string       `gorm:"type:text;not null" json:"-"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	LastUsedAt *time.Time   `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
}

// TableName sets the database table name.
func (APIToken) TableName() string { return "api_tokens" }

// Revoked reports whether the token has been withdrawn.
func (t APIToken) Revoked() bool { return t.RevokedAt != nil }

var ErrMalformedToken = errors.New("malformed_token")

// Format renders the presentable token from its parts.
func Format(id snowflake.ID, secret string) string {
	return fmt.Sprintf("%s%s.%s", tokenPrefix, id.String(), secret)
}

// Parse splits a presented token into its ID and secret.
func Parse(token string) (snowflake.ID, string, error) {
	token = strings.TrimSpace(token)
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return 0, "", ErrMalformedToken
	}
	idPart, secret, ok := strings.Cut(rest, ".")
	if !ok || idPart == "" || secret == "" {
		return 0, "", ErrMalformedToken
	}
	id, err := snowflake.ParseString(idPart)
	if err != nil {
		return 0, "", ErrMalformedToken
	}
	return id, secret, nil
}
