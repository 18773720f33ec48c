package job

import (
	"context"
	"time"

	"go.uber.org/zap"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/safe"
)

// Locker 多副本之间选一个跑批；xredis.Locker 实现了它
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type IncomeRunner interface {
	Run(ctx context.Context) (service.Summary, error)
}

type Config struct {
	Interval time.Duration
	LockKey  string
	LockTTL  time.Duration
}

// Runner 定时触发派息批处理；locker 为 nil 时按单副本处理
type Runner struct {
	income IncomeRunner
	locker Locker
	cfg    Config
}

func NewRunner(income IncomeRunner, locker Locker, cfg Config) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.Interval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "lock:" + service.JobProcessIncomeEvents
	}
	return &Runner{income: income, locker: locker, cfg: cfg}
}

// Start 阻塞到 ctx 结束
func (r *Runner) Start(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	logger.Info(ctx, "income job runner started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info(context.Background(), "income job runner stopped")
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick 跑一轮；没抢到锁返回 false
func (r *Runner) Tick(ctx context.Context) bool {
	defer safe.Recover(ctx, service.JobProcessIncomeEvents)

	if r.locker != nil {
		ok, err := r.locker.TryAcquire(ctx, r.cfg.LockKey, r.cfg.LockTTL)
		if err != nil {
			logger.Warn(ctx, "income job lock failed", zap.String("key", r.cfg.LockKey), zap.Error(err))
			return false
		}
		if !ok {
			logger.Debug(ctx, "income job held by another replica", zap.String("key", r.cfg.LockKey))
			return false
		}
		defer func() {
			if err := r.locker.Release(context.Background(), r.cfg.LockKey); err != nil {
				logger.Warn(ctx, "income job lock release", zap.Error(err))
			}
		}()
	}

	sum, err := r.income.Run(ctx)
	if err != nil {
		logger.Error(ctx, "income job tick failed", zap.Error(err))
		return true
	}
	if sum.TotalEvents > 0 {
		logger.Info(ctx, "income job tick",
			zap.Int("total", sum.TotalEvents),
			zap.Int("processed", sum.ProcessedCount),
			zap.Int("skipped", sum.SkippedCount),
			zap.Int("errors", sum.ErrorCount),
		)
	}
	return true
}
