package worker

import (
	"context"

	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/pkg/scheduler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the per-repository result of one FetchWorker run.
type Outcome struct {
	Currencies bool
	Rates      bool
	Result     scheduler.Result
}

// FetchWorker refreshes every repository in one run.
type FetchWorker struct {
	synchronizer *datasync.Synchronizer
	currencies   datasync.Syncable
	rates        datasync.Syncable
	logger       *zap.Logger
}

// NewFetchWorker creates a FetchWorker syncing currencies and rates.
func NewFetchWorker(
	synchronizer *datasync.Synchronizer,
	currencies datasync.Syncable,
	rates datasync.Syncable,
	logger *zap.Logger,
) *FetchWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchWorker{
		synchronizer: synchronizer,
		currencies:   currencies,
		rates:        rates,
		logger:       logger.Named("fetch_worker"),
	}
}

// DoWork syncs both repositories concurrently. It succeeds only when both
// do, asks for a retry otherwise, and fails when ctx is cancelled.
func (w *FetchWorker) DoWork(ctx context.Context) scheduler.Result {
	return w.run(ctx).Result
}

func (w *FetchWorker) run(ctx context.Context) Outcome {
	var out Outcome

	var g errgroup.Group
	g.Go(func() error {
		ok, err := w.synchronizer.Sync(ctx, w.currencies)
		out.Currencies = ok
		return err
	})
	g.Go(func() error {
		ok, err := w.synchronizer.Sync(ctx, w.rates)
		out.Rates = ok
		return err
	})

	if err := g.Wait(); err != nil {
		w.logger.Info("sync cancelled", zap.Error(err))
		out.Result = scheduler.Failure
		return out
	}

	if out.Currencies && out.Rates {
		out.Result = scheduler.Success
	} else {
		w.logger.Warn("sync incomplete, will retry",
			zap.Bool("currencies", out.Currencies),
			zap.Bool("rates", out.Rates),
		)
		out.Result = scheduler.Retry
	}
	return out
}
