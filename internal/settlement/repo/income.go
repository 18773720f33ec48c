package repo

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
	"lunorise.com/internal/settlement/domain"
)

// CreateIncomeEvent 唯一键冲突时 DO NOTHING，按影响行数判断重复
func (r *Repo) CreateIncomeEvent(ctx context.Context, ev *domain.IncomeEvent) error {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev)
	if res.Error != nil {
		return dbErr(res.Error, nil, "create income event")
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

func (r *Repo) ListDueIncomeEvents(ctx context.Context, now time.Time, limit int) ([]domain.IncomeEvent, error) {
	q := r.getDb(ctx).
		Where("status = ? AND due_at <= ?", domain.IncomePending, now).
		Order("due_at ASC, created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.IncomeEvent
	if err := q.Find(&out).Error; err != nil {
		return nil, dbErr(err, nil, "list due income events")
	}
	return out, nil
}

func (r *Repo) MarkIncomePaid(ctx context.Context, id string, at time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.IncomeEvent{}).
		Where("id = ? AND status = ?", id, domain.IncomePending).
		Updates(map[string]any{
			"status":  domain.IncomePaid,
			"paid_at": at,
		})
	if res.Error != nil {
		return false, dbErr(res.Error, nil, "mark income paid")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) ListIncomeEvents(ctx context.Context, depositID string) ([]domain.IncomeEvent, error) {
	var out []domain.IncomeEvent
	err := r.getDb(ctx).Where("deposit_id = ?", depositID).Order("drop_number ASC").Find(&out).Error
	if err != nil {
		return nil, dbErr(err, nil, "list income events")
	}
	return out, nil
}

func (r *Repo) CreateReferral(ctx context.Context, ref *domain.Referral) error {
	res := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ref)
	if res.Error != nil {
		return dbErr(res.Error, nil, "create referral")
	}
	if res.RowsAffected == 0 {
		return domain.ErrDuplicate
	}
	return nil
}

func (r *Repo) ListReferrals(ctx context.Context, depositID string) ([]domain.Referral, error) {
	var out []domain.Referral
	err := r.getDb(ctx).Where("deposit_id = ?", depositID).Order("level ASC").Find(&out).Error
	if err != nil {
		return nil, dbErr(err, nil, "list referrals")
	}
	return out, nil
}
