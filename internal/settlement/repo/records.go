package repo

import (
	"context"

	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/orm"
)

func (r *Repo) CreateWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	return dbErr(r.getDb(ctx).Create(ev).Error, nil, "create webhook event")
}

func (r *Repo) UpdateWebhookEvent(ctx context.Context, id string, u domain.WebhookUpdate) error {
	updates := map[string]any{}
	if u.SignatureOK != nil {
		updates["signature_ok"] = *u.SignatureOK
	}
	if u.Processed != nil {
		updates["processed"] = *u.Processed
	}
	if u.MchOrderNo.Valid {
		updates["mch_order_no"] = u.MchOrderNo
	}
	if u.ProcessingError.Valid {
		updates["processing_error"] = u.ProcessingError
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.getDb(ctx).Model(&domain.WebhookEvent{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return dbErr(res.Error, nil, "update webhook event")
	}
	if res.RowsAffected == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *Repo) GetWebhookEvent(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	if err := r.getDb(ctx).Where("id = ?", id).First(&ev).Error; err != nil {
		return nil, dbErr(err, domain.ErrWebhookNotFound, "get webhook event")
	}
	return &ev, nil
}

func (r *Repo) CreateJobLog(ctx context.Context, l *domain.JobLog) error {
	return dbErr(r.getDb(ctx).Create(l).Error, nil, "create job log")
}

func (r *Repo) CreateAuditLog(ctx context.Context, l *domain.AuditLog) error {
	return dbErr(r.getDb(ctx).Create(l).Error, nil, "create audit log")
}

func (r *Repo) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	var p domain.Plan
	if err := r.getDb(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, dbErr(err, domain.ErrPlanNotFound, "get plan")
	}
	return &p, nil
}

func (r *Repo) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	if err := r.getDb(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, dbErr(err, domain.ErrProfileNotFound, "get profile")
	}
	return &p, nil
}

func (r *Repo) CreateCryptoDeposit(ctx context.Context, c *domain.CryptoDeposit) error {
	return dbErr(r.getDb(ctx).Create(c).Error, nil, "create crypto deposit")
}

func (r *Repo) GetCryptoDeposit(ctx context.Context, id string) (*domain.CryptoDeposit, error) {
	var c domain.CryptoDeposit
	if err := r.forUpdate(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, dbErr(err, domain.ErrCryptoNotFound, "get crypto deposit")
	}
	return &c, nil
}

func (r *Repo) ListCryptoDeposits(ctx context.Context, status domain.CryptoStatus, page, limit int) ([]domain.CryptoDeposit, error) {
	q := r.getDb(ctx).Model(&domain.CryptoDeposit{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []domain.CryptoDeposit
	if err := orm.ApplyPagination(q.Order("created_at ASC, id ASC"), page, limit).Find(&out).Error; err != nil {
		return nil, dbErr(err, nil, "list crypto deposits")
	}
	return out, nil
}

// ReviewCryptoDeposit 只有 pending 能被审核
func (r *Repo) ReviewCryptoDeposit(ctx context.Context, id string, rv domain.CryptoReview) (bool, error) {
	updates := map[string]any{
		"status":      rv.Status,
		"admin_id":    rv.AdminID,
		"admin_note":  rv.AdminNote,
		"reviewed_at": rv.At,
		"updated_at":  rv.At,
	}
	if rv.AmountUSDCents.Valid {
		updates["amount_usd_cents"] = rv.AmountUSDCents
	}
	if rv.DepositID.Valid {
		updates["deposit_id"] = rv.DepositID
	}
	res := r.getDb(ctx).Model(&domain.CryptoDeposit{}).
		Where("id = ? AND status = ?", id, domain.CryptoPending).
		Updates(updates)
	if res.Error != nil {
		return false, dbErr(res.Error, nil, "review crypto deposit")
	}
	return res.RowsAffected == 1, nil
}
