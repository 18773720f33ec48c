package bootstrap

import (
	"fmt"
	"strings"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
	"github.com/alibaba/sentinel-golang/core/flow"
)

type SentinelCfg struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Flow    FlowSection   `mapstructure:"flow" yaml:"flow"`
	Breaker BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

type FlowSection struct {
	Enabled bool       `mapstructure:"enabled" yaml:"enabled"`
	Rules   []FlowRule `mapstructure:"rules" yaml:"rules"`
}

// Resource 形如 "POST /webhooks/:gateway"
type FlowRule struct {
	Resource         string  `mapstructure:"resource" yaml:"resource"`
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms" yaml:"stat_interval_ms"`
	Strategy         string  `mapstructure:"strategy" yaml:"strategy"`
	Control          string  `mapstructure:"control" yaml:"control"`
	MaxQueueWaitMs   uint32  `mapstructure:"max_queue_wait_ms" yaml:"max_queue_wait_ms"`
	WarmUpSec        uint32  `mapstructure:"warm_up_sec" yaml:"warm_up_sec"`
	WarmUpColdFactor uint32  `mapstructure:"warm_up_cold_factor" yaml:"warm_up_cold_factor"`
}

type BreakerConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Rules   []BreakerRule `mapstructure:"rules" yaml:"rules"`
}

type BreakerRule struct {
	Resource         string  `mapstructure:"resource" yaml:"resource"`
	Strategy         string  `mapstructure:"strategy" yaml:"strategy"`
	Threshold        float64 `mapstructure:"threshold" yaml:"threshold"`
	StatIntervalMs   uint32  `mapstructure:"stat_interval_ms" yaml:"stat_interval_ms"`
	MinRequestAmount uint64  `mapstructure:"min_request_amount" yaml:"min_request_amount"`
	RetryTimeoutMs   uint32  `mapstructure:"retry_timeout_ms" yaml:"retry_timeout_ms"`
}

// Active 是否需要挂 sentinel 中间件
func (sc SentinelCfg) Active() bool {
	return sc.Enabled || sc.Flow.Enabled || sc.Breaker.Enabled
}

func BuildFlowRules(rules []FlowRule) []*flow.Rule {
	out := make([]*flow.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Resource == "" {
			continue
		}
		r := &flow.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalInMs: rule.StatIntervalMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "warmup":
			r.TokenCalculateStrategy = flow.WarmUp
			r.WarmUpPeriodSec = rule.WarmUpSec
			r.WarmUpColdFactor = rule.WarmUpColdFactor
		case "memory_adaptive":
			r.TokenCalculateStrategy = flow.MemoryAdaptive
		default:
			r.TokenCalculateStrategy = flow.Direct
		}
		switch strings.ToLower(rule.Control) {
		case "throttling":
			r.ControlBehavior = flow.Throttling
			r.MaxQueueingTimeMs = rule.MaxQueueWaitMs
		default:
			r.ControlBehavior = flow.Reject
		}
		out = append(out, r)
	}
	return out
}

func BuildBreakerRules(rules []BreakerRule) []*circuitbreaker.Rule {
	out := make([]*circuitbreaker.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Resource == "" {
			continue
		}
		r := &circuitbreaker.Rule{
			Resource:         rule.Resource,
			Threshold:        rule.Threshold,
			StatIntervalMs:   rule.StatIntervalMs,
			MinRequestAmount: rule.MinRequestAmount,
			RetryTimeoutMs:   rule.RetryTimeoutMs,
		}
		switch strings.ToLower(rule.Strategy) {
		case "error_count":
			r.Strategy = circuitbreaker.ErrorCount
		case "slow_request_ratio":
			r.Strategy = circuitbreaker.SlowRequestRatio
		default:
			r.Strategy = circuitbreaker.ErrorRatio
		}
		out = append(out, r)
	}
	return out
}

// InitSentinel 初始化 sentinel 并加载规则；未启用直接返回
func InitSentinel(sc SentinelCfg) error {
	if !sc.Active() {
		return nil
	}
	if err := sentinels.InitDefault(); err != nil {
		return fmt.Errorf("init sentinel: %w", err)
	}
	if sc.Flow.Enabled {
		if rules := BuildFlowRules(sc.Flow.Rules); len(rules) > 0 {
			if _, err := flow.LoadRules(rules); err != nil {
				return fmt.Errorf("load flow rules: %w", err)
			}
		}
	}
	if sc.Breaker.Enabled {
		if rules := BuildBreakerRules(sc.Breaker.Rules); len(rules) > 0 {
			if _, err := circuitbreaker.LoadRules(rules); err != nil {
				return fmt.Errorf("load circuit breaker rules: %w", err)
			}
		}
	}
	return nil
}
