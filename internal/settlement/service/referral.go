package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/metrics"
)

// ReferralEngine 沿上级链发推荐奖励，每一层一个独立事务
type ReferralEngine struct {
	store  domain.Store
	rates  *Rates
	ledger ledger
}

func NewReferralEngine(store domain.Store, rates *Rates) *ReferralEngine {
	return &ReferralEngine{store: store, rates: rates, ledger: ledger{store: store}}
}

// FanOut 返回本次新写入的 Referral；某一层失败不影响其它层，错误合并返回
// 已经付过的层（(deposit_id, level) 冲突）直接跳过，所以可以重复调用
func (e *ReferralEngine) FanOut(ctx context.Context, d *domain.Deposit) ([]domain.Referral, error) {
	var (
		paid    []domain.Referral
		errs    []error
		current = d.UserID
		visited = map[string]struct{}{d.UserID: {}}
	)

	for i, pct := range e.rates.ReferralLevels() {
		level := i + 1

		referrer, ok, err := e.referrerOf(ctx, current)
		if err != nil {
			errs = append(errs, fmt.Errorf("level %d: %w", level, err))
			break
		}
		if !ok {
			break
		}
		if _, seen := visited[referrer]; seen {
			logger.Warn(ctx, "referral chain cycles, stop walking",
				zap.String("deposit_id", d.ID),
				zap.String("user_id", current),
				zap.String("referrer_id", referrer),
				zap.Int("level", level),
			)
			break
		}
		visited[referrer] = struct{}{}
		current = referrer

		bonus := ReferralBonus(d.AmountUSDCents, pct)
		if bonus <= 0 {
			metrics.ReferralLevelTotal.WithLabelValues(strconv.Itoa(level), "zero_bonus").Inc()
			continue
		}

		r, err := e.payLevel(ctx, d, referrer, level, pct, bonus)
		switch {
		case err == nil:
			paid = append(paid, *r)
			metrics.ReferralLevelTotal.WithLabelValues(strconv.Itoa(level), "paid").Inc()
		case errors.Is(err, domain.ErrWalletNotFound):
			// 没钱包的上级不发，但继续往上走
			metrics.ReferralLevelTotal.WithLabelValues(strconv.Itoa(level), "no_wallet").Inc()
			logger.Info(ctx, "referrer has no wallet, skip level",
				zap.String("deposit_id", d.ID),
				zap.String("referrer_id", referrer),
				zap.Int("level", level),
			)
		case errors.Is(err, domain.ErrDuplicate):
			metrics.ReferralLevelTotal.WithLabelValues(strconv.Itoa(level), "already_paid").Inc()
		default:
			metrics.ReferralLevelTotal.WithLabelValues(strconv.Itoa(level), "error").Inc()
			errs = append(errs, fmt.Errorf("level %d referrer %s: %w", level, referrer, err))
		}
	}
	return paid, errors.Join(errs...)
}

func (e *ReferralEngine) referrerOf(ctx context.Context, userID string) (string, bool, error) {
	p, err := e.store.GetProfile(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get profile %s: %w", userID, err)
	}
	ref, ok := p.ReferrerID.Get()
	if !ok || ref == "" {
		return "", false, nil
	}
	return ref, true, nil
}

func (e *ReferralEngine) payLevel(ctx context.Context, d *domain.Deposit, referrer string, level int, pct decimal.Decimal, bonus int64) (*domain.Referral, error) {
	r := &domain.Referral{
		ID:         uuid.NewString(),
		DepositID:  d.ID,
		ReferrerID: referrer,
		ReferredID: d.UserID,
		Level:      level,
		Percentage: pct,
		BonusCents: bonus,
	}
	err := e.store.Transaction(ctx, func(txCtx context.Context) error {
		if err := e.store.CreateReferral(txCtx, r); err != nil {
			return err
		}
		_, applied, err := e.ledger.credit(txCtx, Credit{
			UserID:      referrer,
			Type:        domain.TxReferral,
			ReferenceID: d.ID,
			AmountCents: bonus,
			Meta: domain.JSONMap{
				"description":      fmt.Sprintf("level %d referral bonus", level),
				"level":            level,
				"percentage":       pct.String(),
				"referred_user_id": d.UserID,
				"deposit_id":       d.ID,
			},
		})
		if err != nil {
			return err
		}
		if !applied {
			return domain.ErrDuplicate
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
