package settlement

import (
	"time"

	"lunorise.com/internal/settlement/events"
	"lunorise.com/internal/settlement/gateway"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/internal/settlement/webhook"
	"lunorise.com/pkg/bootstrap"
	"lunorise.com/pkg/orm"
	"lunorise.com/pkg/ratelimit"
	"lunorise.com/pkg/register/etcd"
	"lunorise.com/pkg/trace"
	"lunorise.com/pkg/xredis"
)

const ServiceName = "settlement-service"

type Cfg struct {
	Name        string `yaml:"name" mapstructure:"name"`
	HTTP        HTTP   `yaml:"http" mapstructure:"http"`
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr"`
	PprofAddr   string `yaml:"pprof_addr" mapstructure:"pprof_addr"`
	Log         Log    `yaml:"log" mapstructure:"log"`

	Db       orm.Config            `yaml:"db" mapstructure:"db"`
	Redis    xredis.Config         `yaml:"redis" mapstructure:"redis"`
	OTel     trace.Config          `yaml:"otel" mapstructure:"otel"`
	Etcd     Etcd                  `yaml:"etcd" mapstructure:"etcd"`
	Nats     events.Config         `yaml:"nats" mapstructure:"nats"`
	Sentinel bootstrap.SentinelCfg `yaml:"sentinel" mapstructure:"sentinel"`

	RateLimit RateLimit `yaml:"ratelimit" mapstructure:"ratelimit"`
	Breaker   Breaker   `yaml:"breaker" mapstructure:"breaker"`

	Gateways map[string]gateway.Config `yaml:"gateways" mapstructure:"gateways"`
	Rates    service.RatesConfig       `yaml:"rates" mapstructure:"rates"`
	Income   Income                    `yaml:"income" mapstructure:"income"`
	Jobs     Token                     `yaml:"jobs" mapstructure:"jobs"`
	Admin    Token                     `yaml:"admin" mapstructure:"admin"`
	Webhook  Webhook                   `yaml:"webhook" mapstructure:"webhook"`
}

type HTTP struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	TrustedProxies []string `yaml:"trusted_proxies" mapstructure:"trusted_proxies"`
}

type Log struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

type Etcd struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	etcd.Config `yaml:",inline" mapstructure:",squash"`
}

// RateLimit 按来源 IP 的令牌桶；Rate <= 0 关闭
type RateLimit struct {
	Rate  float64       `yaml:"rate" mapstructure:"rate"`
	Burst int           `yaml:"burst" mapstructure:"burst"`
	TTL   time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Breaker Default 作用于所有网关，PerGateway 按网关名覆盖
type Breaker struct {
	Default    ratelimit.Rule            `yaml:"default" mapstructure:"default"`
	PerGateway map[string]ratelimit.Rule `yaml:"per_gateway" mapstructure:"per_gateway"`
}

type Income struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Cadence   time.Duration `yaml:"cadence" mapstructure:"cadence"`
	BatchSize int           `yaml:"batch_size" mapstructure:"batch_size"`
	Interval  time.Duration `yaml:"interval" mapstructure:"interval"`
	LockKey   string        `yaml:"lock_key" mapstructure:"lock_key"`
	LockTTL   time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"`
}

type Token struct {
	Token string `yaml:"token" mapstructure:"token"`
}

type Webhook struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// Normalize 补默认值
func (c *Cfg) Normalize() {
	if c.Name == "" {
		c.Name = ServiceName
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Db.Type == "" {
		c.Db.Type = orm.TypeMySQL
	}
	if c.Etcd.ServicePrefix == "" {
		c.Etcd.ServicePrefix = "/services"
	}
	if c.Etcd.TTLSeconds <= 0 {
		c.Etcd.TTLSeconds = 10
	}
	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = "lunorise"
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.Rate) * 2
	}
	if c.RateLimit.TTL <= 0 {
		c.RateLimit.TTL = 10 * time.Minute
	}
	if len(c.Rates.BonusByMethod) == 0 && len(c.Rates.ReferralLevels) == 0 {
		c.Rates = service.DefaultRatesConfig()
	}
	if c.Income.Cadence <= 0 {
		c.Income.Cadence = service.DefaultCadence
	}
	if c.Income.BatchSize <= 0 {
		c.Income.BatchSize = service.DefaultBatchSize
	}
	if c.Income.Interval <= 0 {
		c.Income.Interval = time.Minute
	}
	if c.Income.LockKey == "" {
		c.Income.LockKey = "lock:" + service.JobProcessIncomeEvents
	}
	if c.Income.LockTTL <= 0 {
		c.Income.LockTTL = 2 * c.Income.Interval
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = webhook.DefaultMaxBodyBytes
	}
}

// EtcdConfig 没启用返回 nil
func (c *Cfg) EtcdConfig() *etcd.Config {
	if !c.Etcd.Enabled || len(c.Etcd.Endpoints) == 0 {
		return nil
	}
	ec := c.Etcd.Config
	return &ec
}
