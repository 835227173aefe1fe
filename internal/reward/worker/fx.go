package worker

import (
	"context"

	"github.com/smallbiznis/referrals/internal/jobqueue"
	"github.com/smallbiznis/referrals/internal/reward/domain"
	"go.uber.org/fx"
)

// Module wires the emission job handler into the queue worker and runs the
// reconciler. With no queue configured only the reconciler runs.
var Module = fx.Module("reward.worker",
	fx.Provide(NewReconciler),
	fx.Invoke(RegisterHandlers),
	fx.Invoke(jobqueue.RunWorker),
	fx.Invoke(RunReconciler),
)

func RegisterHandlers(worker *jobqueue.Worker, rewards domain.Service) {
	if worker == nil {
		return
	}
	worker.Handle(domain.EmitRewardsJob, EmitRewardsHandler(rewards))
}

func RunReconciler(lc fx.Lifecycle, reconciler *Reconciler) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go reconciler.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
