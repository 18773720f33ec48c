package repo

import (
	"context"

	"gorm.io/gorm"
	"lunorise.com/internal/settlement/domain"
)

func (r *Repo) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	var w domain.Wallet
	if err := r.getDb(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, dbErr(err, domain.ErrWalletNotFound, "get wallet")
	}
	return &w, nil
}

// CreditWallet 数据库里原子累加，不做读改写；返回同一事务里读回的余额
func (r *Repo) CreditWallet(ctx context.Context, userID string, cents int64) (int64, error) {
	db := r.getDb(ctx)
	res := db.Model(&domain.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"available_cents":    gorm.Expr("available_cents + ?", cents),
			"total_earned_cents": gorm.Expr("total_earned_cents + ?", cents),
		})
	if res.Error != nil {
		return 0, dbErr(res.Error, nil, "credit wallet")
	}
	if res.RowsAffected == 0 {
		return 0, domain.ErrWalletNotFound
	}

	var balance int64
	err := db.Model(&domain.Wallet{}).
		Where("user_id = ?", userID).
		Pluck("available_cents", &balance).Error
	if err != nil {
		return 0, dbErr(err, nil, "read back wallet")
	}
	return balance, nil
}

func (r *Repo) HasTransaction(ctx context.Context, userID string, typ domain.TxType, referenceID string) (bool, error) {
	var n int64
	err := r.getDb(ctx).Model(&domain.WalletTransaction{}).
		Where("user_id = ? AND type = ? AND reference_id = ?", userID, typ, referenceID).
		Count(&n).Error
	if err != nil {
		return false, dbErr(err, nil, "has transaction")
	}
	return n > 0, nil
}

func (r *Repo) AddTransaction(ctx context.Context, tx *domain.WalletTransaction) error {
	return dbErr(r.getDb(ctx).Create(tx).Error, nil, "add transaction")
}

func (r *Repo) ListTransactions(ctx context.Context, f domain.TxFilter) ([]domain.WalletTransaction, error) {
	q := r.getDb(ctx).Model(&domain.WalletTransaction{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.ReferenceID != "" {
		q = q.Where("reference_id = ?", f.ReferenceID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	var out []domain.WalletTransaction
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, dbErr(err, nil, "list transactions")
	}
	return out, nil
}
