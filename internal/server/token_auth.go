package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	obscontext "github.com/opencafe/pointsd/internal/observability/context"
	tokendomain "github.com/opencafe/pointsd/internal/token/domain"
	tokensecret "github.com/opencafe/pointsd/internal/token/secret"
)

const (
	contextTokenIDKey   = "token_id"
	contextTokenNameKey = "token_name"
)

// TokenRequired authenticates requests with a bearer token of the form
// pt_<id>.<secret>. Only the argon2id hash of the secret is stored, so
// the lookup goes by token ID and the secret is verified against it.
func (s *Server) TokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		tokenID, secret, err := tokendomain.Parse(parts[1])
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		record, err := s.tokenRepo.FindByID(c.Request.Context(), s.db, tokenID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if record == nil || record.Revoked() || !tokensecret.Verify(secret, record.SecretHash) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.tokenRepo.TouchLastUsed(c.Request.Context(), s.db, record.ID); err != nil {
			s.log.Warn("failed to stamp token use", zap.Error(err))
		}

		c.Set(contextTokenIDKey, record.ID.String())
		c.Set(contextTokenNameKey, record.Name)
		c.Request = c.Request.WithContext(
			obscontext.WithActor(c.Request.Context(), "token", record.Name),
		)
		c.Next()
	}
}
