package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"lunorise.com/internal/settlement"
	"lunorise.com/internal/settlement/events"
	"lunorise.com/internal/settlement/gateway"
	"lunorise.com/internal/settlement/handler"
	shttp "lunorise.com/internal/settlement/http"
	"lunorise.com/internal/settlement/job"
	"lunorise.com/internal/settlement/repo"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/internal/settlement/webhook"
	"lunorise.com/pkg/bootstrap"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/metrics"
	"lunorise.com/pkg/orm"
	"lunorise.com/pkg/ratelimit"
	"lunorise.com/pkg/xredis"
)

// Deps 外部连接；Redis 和 Publisher 可以为空
type Deps struct {
	SQL       *sql.DB
	Gorm      *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher
}

// App 组装好的服务
type App struct {
	Router     *gin.Engine
	Repo       *repo.Repo
	Processor  *service.IncomeProcessor
	Runner     *job.Runner
	Limiter    *ratelimit.Store
	Background []func(ctx context.Context)
}

// Run 建连、组装、阻塞到 ctx 结束
func Run(ctx context.Context, cfg *settlement.Cfg) error {
	sqlDB, err := orm.OpenSQL(ctx, cfg.Db)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	gdb, err := orm.NewGorm(sqlDB, cfg.Db)
	if err != nil {
		return fmt.Errorf("init gorm: %w", err)
	}

	rdb, err := xredis.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	} else {
		logger.Warn(ctx, "redis not configured, income job runs without replica lock")
	}

	deps := Deps{SQL: sqlDB, Gorm: gdb, Redis: rdb}
	if cfg.Nats.URL != "" {
		pub, err := events.NewNatsPublisher(cfg.Nats)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() { _ = pub.Close() }()
		deps.Publisher = pub
	}

	if cfg.Sentinel.Active() {
		if err := bootstrap.InitSentinel(cfg.Sentinel); err != nil {
			return err
		}
	}

	a, err := New(ctx, cfg, deps)
	if err != nil {
		return err
	}

	return bootstrap.Run(ctx, bootstrap.Options{
		ServiceName: cfg.Name,
		HTTPAddr:    cfg.HTTP.Addr,
		Handler:     a.Router,
		MetricsAddr: cfg.MetricsAddr,
		PprofAddr:   cfg.PprofAddr,
		Etcd:        cfg.EtcdConfig(),
		Background:  a.Background,
	})
}

// New 只做组装不建连，测试里直接传 sqlite + miniredis
func New(ctx context.Context, cfg *settlement.Cfg, d Deps) (*App, error) {
	if d.Gorm == nil {
		return nil, errors.New("app: gorm required")
	}
	cfg.Normalize()

	store := repo.New(d.Gorm)
	if cfg.Db.AutoMigrate {
		if err := store.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	rates, err := service.NewRates(cfg.Rates)
	if err != nil {
		return nil, fmt.Errorf("rates: %w", err)
	}
	gateways, err := gateway.NewRegistryFromConfig(cfg.Gateways)
	if err != nil {
		return nil, fmt.Errorf("gateways: %w", err)
	}

	clock := service.Clock(service.SystemClock)
	scheduler := service.NewScheduler(store, cfg.Income.Cadence)
	settler := service.NewSettler(store, rates, scheduler, d.Publisher, clock)
	processor := service.NewIncomeProcessor(store, scheduler, d.Publisher, clock, cfg.Income.BatchSize)
	breakers := ratelimit.NewManager(cfg.Breaker.Default, cfg.Breaker.PerGateway)

	a := &App{Repo: store, Processor: processor}

	var limiter *ratelimit.Store
	if cfg.RateLimit.Rate > 0 {
		limiter = ratelimit.NewStore(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst, cfg.RateLimit.TTL)
		a.Limiter = limiter
		a.Background = append(a.Background, func(ctx context.Context) {
			limiter.StartJanitor(ctx, cfg.RateLimit.TTL)
		})
	}

	router, err := shttp.NewRouter(shttp.Deps{
		ServiceName:    cfg.Name,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		RateLimit:      limiter,
		SentinelOn:     cfg.Sentinel.Active(),
		Webhook:        webhook.NewHandler(store, gateways, settler, breakers, cfg.Webhook.MaxBodyBytes),
		Jobs:           &handler.Jobs{Income: processor},
		Crypto:         &handler.Crypto{Svc: service.NewCryptoService(store, settler, clock)},
		Admin:          &handler.Admin{Svc: service.NewAdmin(store, settler)},
		JobToken:       cfg.Jobs.Token,
		AdminToken:     cfg.Admin.Token,
		Health:         health(d),
	})
	if err != nil {
		return nil, err
	}
	a.Router = router

	if cfg.Income.Enabled {
		var locker job.Locker
		if d.Redis != nil {
			locker = xredis.NewLocker(d.Redis)
		}
		a.Runner = job.NewRunner(processor, locker, job.Config{
			Interval: cfg.Income.Interval,
			LockKey:  cfg.Income.LockKey,
			LockTTL:  cfg.Income.LockTTL,
		})
		a.Background = append(a.Background, a.Runner.Start)
	}

	a.Background = append(a.Background, poolStats(d))
	logger.Info(ctx, "settlement assembled",
		zap.Strings("gateways", gateways.Names()),
		zap.Bool("income_job", cfg.Income.Enabled),
		zap.Bool("ratelimit", limiter != nil),
	)
	return a, nil
}

func health(d Deps) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if d.SQL != nil {
			if err := d.SQL.PingContext(ctx); err != nil {
				return fmt.Errorf("db: %w", err)
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

// poolStats 每 5s 采一次连接池
func poolStats(d Deps) func(ctx context.Context) {
	return func(ctx context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if d.SQL != nil {
					metrics.ObserveDB(d.SQL.Stats())
				}
				if d.Redis != nil {
					metrics.ObserveRedis(d.Redis.PoolStats())
				}
			}
		}
	}
}
