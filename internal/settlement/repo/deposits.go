package repo

import (
	"context"
	"time"

	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/opt"
)

func (r *Repo) CreateDeposit(ctx context.Context, d *domain.Deposit) error {
	return dbErr(r.getDb(ctx).Create(d).Error, nil, "create deposit")
}

func (r *Repo) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	var d domain.Deposit
	if err := r.forUpdate(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, dbErr(err, domain.ErrDepositNotFound, "get deposit")
	}
	return &d, nil
}

func (r *Repo) GetDepositByOrderNo(ctx context.Context, mchOrderNo string) (*domain.Deposit, error) {
	var d domain.Deposit
	if err := r.forUpdate(ctx).Where("mch_order_no = ?", mchOrderNo).First(&d).Error; err != nil {
		return nil, dbErr(err, domain.ErrDepositNotFound, "get deposit by order no")
	}
	return &d, nil
}

// ConfirmDeposit WHERE status = pending 保证只有一次投递能改成功
func (r *Repo) ConfirmDeposit(ctx context.Context, id string, gatewayRef opt.Value[string], at time.Time) (bool, error) {
	updates := map[string]any{
		"status":       domain.DepositConfirmed,
		"confirmed_at": at,
		"updated_at":   at,
	}
	if gatewayRef.Valid {
		updates["gateway_ref"] = gatewayRef
	}
	res := r.getDb(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status = ?", id, domain.DepositPending).
		Updates(updates)
	if res.Error != nil {
		return false, dbErr(res.Error, nil, "confirm deposit")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) FailDeposit(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.Deposit{}).
		Where("id = ? AND status = ?", id, domain.DepositPending).
		Updates(map[string]any{
			"status":     domain.DepositFailed,
			"failed_at":  at,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, dbErr(res.Error, nil, "fail deposit")
	}
	return res.RowsAffected == 1, nil
}
