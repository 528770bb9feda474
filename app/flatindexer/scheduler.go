package flatindexer

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/canopy-network/flatx/pkg/flat/staging"
)

// rebuildTimeout bounds one scheduled rebuild.
const rebuildTimeout = 2 * time.Hour

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SetupScheduler registers the periodic full rebuild on spec.
func (a *App) SetupScheduler(ctx context.Context, spec string) error {
	a.Cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cron.DefaultLogger)),
	)
	_, err := a.Cron.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, rebuildTimeout)
		defer cancel()
		a.ScheduledRebuild(rctx)
	})
	return err
}

// ScheduledRebuild rebuilds every store of every available indexer. An
// indexer whose tables are already being rebuilt is skipped for this tick.
func (a *App) ScheduledRebuild(ctx context.Context) {
	for _, ix := range a.Indexers {
		if !ix.IsAvailable() {
			continue
		}
		et := ix.EntityType()
		unlock, ok := a.Locks.TryLock(et.FlagCode())
		if !ok {
			a.Logger.Info("Scheduled rebuild skipped, rebuild in progress", zap.String("entityType", et.String()))
			continue
		}
		err := ix.Rebuild(ctx, nil, staging.FullRebuild)
		unlock()
		if err != nil {
			a.Logger.Error("Scheduled rebuild failed", zap.String("entityType", et.String()), zap.Error(err))
		}
	}
}
