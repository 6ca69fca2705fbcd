package token

import (
	"github.com/opencafe/pointsd/internal/token/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("token.repository",
	fx.Provide(repository.Provide),
)
