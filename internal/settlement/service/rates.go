package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"lunorise.com/internal/settlement/domain"
)

// MaxReferralLevels 上级最多走三层，配置再长也截断
const MaxReferralLevels = 3

type RatesConfig struct {
	DefaultBonus   float64            `mapstructure:"default_bonus" yaml:"default_bonus"`
	BonusByMethod  map[string]float64 `mapstructure:"bonus_by_method" yaml:"bonus_by_method"`
	ReferralLevels []float64          `mapstructure:"referral_levels" yaml:"referral_levels"`
}

func DefaultRatesConfig() RatesConfig {
	return RatesConfig{
		BonusByMethod: map[string]float64{
			domain.MethodStandard:     0,
			domain.MethodBase:         0,
			domain.MethodCrypto:       0.05,
			domain.MethodCryptoManual: 0.05,
		},
		ReferralLevels: []float64{0.20, 0.03, 0.02},
	}
}

// Rates 赠送比例按充值方式配置，推荐奖励按层级配置
type Rates struct {
	defaultBonus decimal.Decimal
	byMethod     map[string]decimal.Decimal
	levels       []decimal.Decimal
}

func NewRates(c RatesConfig) (*Rates, error) {
	r := &Rates{
		defaultBonus: decimal.NewFromFloat(c.DefaultBonus),
		byMethod:     make(map[string]decimal.Decimal, len(c.BonusByMethod)),
	}
	if err := checkRate("default_bonus", r.defaultBonus); err != nil {
		return nil, err
	}
	for m, v := range c.BonusByMethod {
		d := decimal.NewFromFloat(v)
		if err := checkRate("bonus_by_method."+m, d); err != nil {
			return nil, err
		}
		r.byMethod[strings.ToLower(m)] = d
	}
	for i, v := range c.ReferralLevels {
		if i >= MaxReferralLevels {
			break
		}
		d := decimal.NewFromFloat(v)
		if err := checkRate(fmt.Sprintf("referral_levels[%d]", i), d); err != nil {
			return nil, err
		}
		r.levels = append(r.levels, d)
	}
	return r, nil
}

func MustRates(c RatesConfig) *Rates {
	r, err := NewRates(c)
	if err != nil {
		panic(err)
	}
	return r
}

func checkRate(name string, d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("rate %s out of range [0,1]: %s", name, d)
	}
	return nil
}

func (r *Rates) BonusRate(method string) decimal.Decimal {
	if d, ok := r.byMethod[strings.ToLower(method)]; ok {
		return d
	}
	return r.defaultBonus
}

// Bonus 四舍五入（远离零）到分
func (r *Rates) Bonus(amountCents int64, method string) int64 {
	return decimal.NewFromInt(amountCents).Mul(r.BonusRate(method)).Round(0).IntPart()
}

func (r *Rates) ReferralLevels() []decimal.Decimal {
	return append([]decimal.Decimal(nil), r.levels...)
}

// ReferralBonus 向下取整到分
func ReferralBonus(amountCents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amountCents).Mul(pct).Floor().IntPart()
}
