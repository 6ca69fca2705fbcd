package ledger

import (
	"github.com/opencafe/pointsd/internal/ledger/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.repository",
	fx.Provide(repository.NewRepository),
)
