package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	obscontext "github.com/opencafe/pointsd/internal/observability/context"
)

type WorkerParams struct {
	fx.In

	Log     *zap.Logger
	Service Service
	Config  WorkerConfig `optional:"true"`
}

// Worker periodically sweeps every balance against the ledger.
type Worker struct {
	log     *zap.Logger
	service Service
	cfg     WorkerConfig
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		log:     p.Log.Named("reconcile.worker"),
		service: p.Service,
		cfg:     p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(); err != nil {
			w.log.Warn("reconciliation run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce() error {
	if w.service == nil {
		return errors.New("reconcile_worker_unavailable")
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
	defer cancel()
	ctx = obscontext.WithActor(ctx, "system", "reconcile-worker")

	batch, err := w.service.ValidateAll(ctx)
	if err != nil {
		return err
	}

	w.log.Info("reconciliation sweep finished",
		zap.Int("checked", batch.Checked),
		zap.Int("corrected", batch.Corrected),
		zap.Int("for_review", batch.ForReview),
	)
	return nil
}
