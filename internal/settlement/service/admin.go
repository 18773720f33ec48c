package service

import (
	"context"

	"go.uber.org/zap"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/opt"
)

const (
	AuditReferralRerun  = "deposit.referrals.replay"
	AuditDepositConfirm = "deposit.confirm"
)

// Admin 后台人工对账操作，每次都写审计
type Admin struct {
	store   domain.Store
	settler *Settler
}

func NewAdmin(store domain.Store, settler *Settler) *Admin {
	return &Admin{store: store, settler: settler}
}

// ReplayReferrals 后台补发推荐奖励并留审计
func (a *Admin) ReplayReferrals(ctx context.Context, adminID, depositID string) ([]domain.Referral, error) {
	paid, err := a.settler.ReplayReferrals(ctx, depositID)
	detail := domain.JSONMap{"paid_levels": len(paid)}
	if err != nil {
		detail["error"] = err.Error()
	}
	if aerr := writeAudit(ctx, a.store, adminID, AuditReferralRerun, "deposit", depositID, detail); aerr != nil {
		logger.Warn(ctx, "write audit log failed", zap.String("deposit_id", depositID), zap.Error(aerr))
	}
	return paid, err
}

// ConfirmDeposit 网关回调丢失时后台手工确认
func (a *Admin) ConfirmDeposit(ctx context.Context, adminID, depositID string, gatewayRef opt.Value[string]) (*SettleResult, error) {
	res, err := a.settler.Confirm(ctx, depositID, gatewayRef)
	if err != nil {
		return nil, err
	}
	if aerr := writeAudit(ctx, a.store, adminID, AuditDepositConfirm, "deposit", depositID, domain.JSONMap{
		"already_settled": res.AlreadySettled,
		"gateway_ref":     gatewayRef.OrElse(""),
	}); aerr != nil {
		logger.Warn(ctx, "write audit log failed", zap.String("deposit_id", depositID), zap.Error(aerr))
	}
	return res, nil
}
