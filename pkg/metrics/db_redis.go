package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	DbPoolOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_open",
		Help:      "Current open DB connections",
	})
	DbPoolIdle         = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_idle"})
	DbPoolInuse        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_inuse"})
	DbPoolWaitCount    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_count"})
	DbPoolWaitDuration = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "db_pool_wait_seconds"})

	RedisPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_open"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_idle"})
	RedisPoolMiss  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_miss"})
	RedisPoolStale = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "redis_pool_stale"})

	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redis_errors_total",
		Help:      "Redis errors",
	}, []string{"cmd"})
)

// ObserveDB 把连接池快照写进 gauge，由 main 里的 ticker 定期调用
func ObserveDB(s sql.DBStats) {
	DbPoolOpen.Set(float64(s.OpenConnections))
	DbPoolIdle.Set(float64(s.Idle))
	DbPoolInuse.Set(float64(s.InUse))
	DbPoolWaitCount.Set(float64(s.WaitCount))
	DbPoolWaitDuration.Set(s.WaitDuration.Seconds())
}

func ObserveRedis(s *redis.PoolStats) {
	if s == nil {
		return
	}
	RedisPoolOpen.Set(float64(s.TotalConns))
	RedisPoolIdle.Set(float64(s.IdleConns))
	RedisPoolMiss.Set(float64(s.Misses))
	RedisPoolStale.Set(float64(s.StaleConns))
}
