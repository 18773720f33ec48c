package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/events"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/metrics"
	"lunorise.com/pkg/opt"
)

type SettleInput struct {
	MchOrderNo string
	GatewayRef opt.Value[string]
}

type SettleResult struct {
	Deposit        *domain.Deposit
	AlreadySettled bool
	BonusCents     int64
	Transactions   []domain.WalletTransaction
	IncomeEvent    *domain.IncomeEvent
	Referrals      []domain.Referral
	// ReferralErr 推荐奖励是尽力而为，出错不回滚结算
	ReferralErr error
}

// Settler 充值确认：状态流转 + 入账 + 首期派息在一个事务里，提交后再发推荐奖励
type Settler struct {
	store     domain.Store
	rates     *Rates
	ledger    ledger
	scheduler *Scheduler
	referrals *ReferralEngine
	publisher events.Publisher
	clock     Clock
}

func NewSettler(store domain.Store, rates *Rates, scheduler *Scheduler, publisher events.Publisher, clock Clock) *Settler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Settler{
		store:     store,
		rates:     rates,
		ledger:    ledger{store: store},
		scheduler: scheduler,
		referrals: NewReferralEngine(store, rates),
		publisher: publisher,
		clock:     clock,
	}
}

// Settle 按商户订单号确认充值；已确认直接返回 AlreadySettled，不重复入账
func (s *Settler) Settle(ctx context.Context, in SettleInput) (*SettleResult, error) {
	if in.MchOrderNo == "" {
		return nil, domain.ErrMissingOrderNo
	}
	var res *SettleResult
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		d, err := s.store.GetDepositByOrderNo(txCtx, in.MchOrderNo)
		if err != nil {
			return err
		}
		res, err = s.ConfirmInTx(txCtx, d, in.GatewayRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.AfterCommit(ctx, res)
	return res, nil
}

// Confirm 按充值 id 确认，给后台人工确认用
func (s *Settler) Confirm(ctx context.Context, depositID string, gatewayRef opt.Value[string]) (*SettleResult, error) {
	var res *SettleResult
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		d, err := s.store.GetDeposit(txCtx, depositID)
		if err != nil {
			return err
		}
		res, err = s.ConfirmInTx(txCtx, d, gatewayRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.AfterCommit(ctx, res)
	return res, nil
}

// ConfirmInTx 必须在 Store.Transaction 里调用；提交成功后调用方再调 AfterCommit
func (s *Settler) ConfirmInTx(txCtx context.Context, d *domain.Deposit, gatewayRef opt.Value[string]) (*SettleResult, error) {
	switch d.Status {
	case domain.DepositConfirmed:
		return &SettleResult{Deposit: d, AlreadySettled: true}, nil
	case domain.DepositFailed:
		return nil, domain.ErrDepositTerminal
	}

	now := s.clock.now()
	ok, err := s.store.ConfirmDeposit(txCtx, d.ID, gatewayRef, now)
	if err != nil {
		return nil, fmt.Errorf("confirm deposit %s: %w", d.ID, err)
	}
	if !ok {
		// 并发的另一次投递先改掉了状态，按最新状态再判断一次
		latest, err := s.store.GetDeposit(txCtx, d.ID)
		if err != nil {
			return nil, err
		}
		if latest.Status == domain.DepositPending {
			return nil, fmt.Errorf("confirm deposit %s: no row updated", d.ID)
		}
		return s.ConfirmInTx(txCtx, latest, gatewayRef)
	}
	d.Status = domain.DepositConfirmed
	d.ConfirmedAt = &now
	if gatewayRef.Valid {
		d.GatewayRef = gatewayRef
	}

	res := &SettleResult{Deposit: d}

	depTx, _, err := s.ledger.credit(txCtx, Credit{
		UserID:      d.UserID,
		Type:        domain.TxDeposit,
		ReferenceID: d.ID,
		AmountCents: d.AmountUSDCents,
		Meta:        depositMeta(d),
	})
	if err != nil {
		return nil, err
	}
	if depTx != nil {
		res.Transactions = append(res.Transactions, *depTx)
	}

	bonus := s.rates.Bonus(d.AmountUSDCents, d.Method)
	if bonus > 0 {
		bonusTx, _, err := s.ledger.credit(txCtx, Credit{
			UserID:      d.UserID,
			Type:        domain.TxIncome,
			ReferenceID: d.ID,
			AmountCents: bonus,
			Meta: domain.JSONMap{
				"description": "deposit bonus",
				"deposit_id":  d.ID,
				"rate":        s.rates.BonusRate(d.Method).String(),
			},
		})
		if err != nil {
			return nil, err
		}
		if bonusTx != nil {
			res.Transactions = append(res.Transactions, *bonusTx)
		}
	}
	res.BonusCents = bonus

	ev, err := s.scheduler.ScheduleFirst(txCtx, d, now)
	if err != nil {
		return nil, err
	}
	res.IncomeEvent = ev
	return res, nil
}

// AfterCommitTimeout 提交后的推荐奖励和事件不跟调用方的 ctx 一起取消
const AfterCommitTimeout = 30 * time.Second

// AfterCommit 推荐奖励、事件、指标；已结算过的什么都不做
func (s *Settler) AfterCommit(ctx context.Context, res *SettleResult) {
	if res == nil || res.AlreadySettled {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), AfterCommitTimeout)
	defer cancel()
	d := res.Deposit
	metrics.DepositsSettled.WithLabelValues(d.Method, string(domain.DepositConfirmed)).Inc()

	res.Referrals, res.ReferralErr = s.referrals.FanOut(ctx, d)
	if res.ReferralErr != nil {
		logger.Error(ctx, "referral fan-out incomplete, needs reconciliation",
			zap.String("deposit_id", d.ID),
			zap.Int("paid_levels", len(res.Referrals)),
			zap.Error(res.ReferralErr),
		)
	}

	logger.Info(ctx, "deposit settled",
		zap.String("deposit_id", d.ID),
		zap.String("mch_order_no", d.MchOrderNo),
		zap.String("user_id", d.UserID),
		zap.Int64("amount_cents", d.AmountUSDCents),
		zap.Int64("bonus_cents", res.BonusCents),
		zap.Bool("income_scheduled", res.IncomeEvent != nil),
		zap.Int("referrals", len(res.Referrals)),
	)

	s.publish(ctx, events.TypeDepositConfirmed, map[string]any{
		"deposit_id":     d.ID,
		"user_id":        d.UserID,
		"mch_order_no":   d.MchOrderNo,
		"amount_cents":   d.AmountUSDCents,
		"bonus_cents":    res.BonusCents,
		"method":         d.Method,
		"referral_count": len(res.Referrals),
	})
}

// Fail pending -> failed；已确认或已失败都视为成功的空操作
func (s *Settler) Fail(ctx context.Context, mchOrderNo, reason string) (*domain.Deposit, error) {
	if mchOrderNo == "" {
		return nil, domain.ErrMissingOrderNo
	}
	var (
		out     *domain.Deposit
		changed bool
	)
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		d, err := s.store.GetDepositByOrderNo(txCtx, mchOrderNo)
		if err != nil {
			return err
		}
		out = d
		if d.Status != domain.DepositPending {
			return nil
		}
		now := s.clock.now()
		changed, err = s.store.FailDeposit(txCtx, d.ID, now)
		if err != nil {
			return fmt.Errorf("fail deposit %s: %w", d.ID, err)
		}
		if changed {
			d.Status = domain.DepositFailed
			d.FailedAt = &now
			return nil
		}
		out, err = s.store.GetDeposit(txCtx, d.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		metrics.DepositsSettled.WithLabelValues(out.Method, string(domain.DepositFailed)).Inc()
		logger.Info(ctx, "deposit marked failed",
			zap.String("deposit_id", out.ID),
			zap.String("mch_order_no", mchOrderNo),
			zap.String("reason", reason),
		)
	}
	return out, nil
}

// ReplayReferrals 人工对账：对已确认的充值重跑推荐奖励，已发过的层自动跳过
func (s *Settler) ReplayReferrals(ctx context.Context, depositID string) ([]domain.Referral, error) {
	d, err := s.store.GetDeposit(ctx, depositID)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DepositConfirmed {
		return nil, domain.ErrDepositNotConfirmed
	}
	return s.referrals.FanOut(ctx, d)
}

func (s *Settler) publish(ctx context.Context, typ string, data any) {
	if err := s.publisher.Publish(ctx, events.Event{Type: typ, OccurredAt: s.clock.now(), Data: data}); err != nil {
		logger.Warn(ctx, "publish event failed", zap.String("type", typ), zap.Error(err))
	}
}

func depositMeta(d *domain.Deposit) domain.JSONMap {
	m := domain.JSONMap{
		"description":  "deposit",
		"mch_order_no": d.MchOrderNo,
		"gateway":      d.Gateway,
		"method":       d.Method,
	}
	if v, ok := d.GatewayRef.Get(); ok {
		m["gateway_ref"] = v
	}
	if v, ok := d.LocalAmount.Get(); ok {
		m["local_amount"] = v.String()
	}
	if v, ok := d.LocalCurrency.Get(); ok {
		m["local_currency"] = v
	}
	if v, ok := d.FxRate.Get(); ok {
		m["fx_rate"] = v.String()
	}
	return m
}
