package scheduler

import (
	"context"

	"github.com/smallbiznis/cooptariff/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLock),
	fx.Provide(New),
	fx.Invoke(NewScheduler),
)

// NewScheduler starts the background sweep unless ledger.sweep.enabled is off.
func NewScheduler(lc fx.Lifecycle, holder *config.LedgerConfigHolder, sched *Scheduler) {
	if !holder.Get().Sweep.Enabled {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
