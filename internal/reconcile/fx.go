package reconcile

import (
	"context"

	"go.uber.org/fx"

	"github.com/opencafe/pointsd/internal/config"
)

var Module = fx.Module("reconcile",
	fx.Provide(NewService),
	fx.Provide(newWorkerConfig),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func newWorkerConfig(cfg config.Config) WorkerConfig {
	return WorkerConfig{
		Enabled:      cfg.ReconcileWorkerEnabled,
		PollInterval: cfg.ReconcileInterval,
	}
}

func runWorker(lc fx.Lifecycle, worker *Worker) {
	if !worker.cfg.Enabled {
		return
	}
	// The loop outlives the fx start context; cancel it on shutdown.
	loopCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go worker.RunForever(loopCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
