package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/metrics"
)

// Credit 一次入账：余额原子累加 + 一条流水
type Credit struct {
	UserID      string
	Type        domain.TxType
	ReferenceID string
	AmountCents int64
	Meta        domain.JSONMap
}

// ledger 所有余额变动的唯一入口，调用方保证在事务里
type ledger struct {
	store domain.Store
}

// credit 已有同一 (user, type, reference) 的流水则跳过，返回 applied=false
func (l ledger) credit(ctx context.Context, c Credit) (tx *domain.WalletTransaction, applied bool, err error) {
	if c.AmountCents < 0 {
		return nil, false, fmt.Errorf("%w: negative credit %d", domain.ErrInvalidAmount, c.AmountCents)
	}
	exists, err := l.store.HasTransaction(ctx, c.UserID, c.Type, c.ReferenceID)
	if err != nil {
		return nil, false, fmt.Errorf("check transaction: %w", err)
	}
	if exists {
		return nil, false, nil
	}

	balance, err := l.store.CreditWallet(ctx, c.UserID, c.AmountCents)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("credit wallet %s: %w", c.UserID, err)
	}

	tx = &domain.WalletTransaction{
		ID:                uuid.NewString(),
		UserID:            c.UserID,
		Type:              c.Type,
		AmountCents:       c.AmountCents,
		BalanceAfterCents: balance,
		ReferenceID:       c.ReferenceID,
		Meta:              c.Meta,
	}
	if err := l.store.AddTransaction(ctx, tx); err != nil {
		return nil, false, fmt.Errorf("add %s transaction: %w", c.Type, err)
	}
	metrics.WalletCreditedCents.WithLabelValues(string(c.Type)).Add(float64(c.AmountCents))
	return tx, true, nil
}
