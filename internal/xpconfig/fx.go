package xpconfig

import "go.uber.org/fx"

var Module = fx.Module("xpconfig.service",
	fx.Provide(NewService),
)
