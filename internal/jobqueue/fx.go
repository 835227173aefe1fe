package jobqueue

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/config"
	obsmetrics "github.com/smallbiznis/referrals/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrRedisRequired = errors.New("REDIS_URL is required to run the worker")

// Module provides the Redis client, queue, worker and locker. Every provider
// returns nil when REDIS_URL is unset so the process can fall back to
// synchronous emission.
var Module = fx.Module("jobqueue",
	fx.Provide(NewClient),
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideQueue),
	fx.Provide(ProvideWorker),
	fx.Provide(NewLocker),
)

func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.QueueEnabled() {
		log.Info("REDIS_URL not set, reward emission runs synchronously")
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func ProvideConfig(cfg config.Config) Config {
	qc := DefaultConfig()
	qc.Concurrency = cfg.WorkerConcurrency
	return qc.withDefaults()
}

func ProvideQueue(client *redis.Client, cfg Config, clk clock.Clock) *Queue {
	if client == nil {
		return nil
	}
	return NewQueue(client, cfg, clk)
}

func ProvideWorker(queue *Queue, log *zap.Logger, metrics *obsmetrics.Metrics) *Worker {
	if queue == nil {
		return nil
	}
	return NewWorker(queue, log, metrics)
}

// RunWorker starts the worker pool with the application and stops it on
// shutdown, waiting for in-flight jobs.
func RunWorker(lc fx.Lifecycle, worker *Worker) {
	if worker == nil {
		return
	}
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})
			go func() {
				defer close(done)
				_ = worker.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
