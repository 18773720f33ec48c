package domain

import (
	"context"
	"time"

	"lunorise.com/pkg/opt"
)

// Store 带特权的存储句柄：结算逻辑只通过它读写，由调用方注入
// Transaction 把事务放进 ctx，fn 内所有 repo 调用共用同一事务；返回 error 即回滚
type Store interface {
	Transaction(ctx context.Context, fn func(txCtx context.Context) error) error

	DepositRepo
	WalletRepo
	IncomeRepo
	ReferralRepo
	WebhookRepo
	JobRepo
	CatalogRepo
	CryptoRepo
	AuditRepo
}

type DepositRepo interface {
	CreateDeposit(ctx context.Context, d *Deposit) error
	GetDeposit(ctx context.Context, id string) (*Deposit, error)
	GetDepositByOrderNo(ctx context.Context, mchOrderNo string) (*Deposit, error)
	// ConfirmDeposit 条件更新 pending -> confirmed，返回是否真的更新了
	ConfirmDeposit(ctx context.Context, id string, gatewayRef opt.Value[string], at time.Time) (bool, error)
	// FailDeposit 条件更新 pending -> failed
	FailDeposit(ctx context.Context, id string, at time.Time) (bool, error)
}

type WalletRepo interface {
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
	// CreditWallet 原子累加 available/total_earned，返回累加后的 available
	CreditWallet(ctx context.Context, userID string, cents int64) (int64, error)
	HasTransaction(ctx context.Context, userID string, typ TxType, referenceID string) (bool, error)
	AddTransaction(ctx context.Context, tx *WalletTransaction) error
	ListTransactions(ctx context.Context, f TxFilter) ([]WalletTransaction, error)
}

type TxFilter struct {
	UserID      string
	ReferenceID string
	Type        TxType
}

type IncomeRepo interface {
	CreateIncomeEvent(ctx context.Context, ev *IncomeEvent) error
	// ListDueIncomeEvents pending 且 due_at <= now，按 due_at 升序
	ListDueIncomeEvents(ctx context.Context, now time.Time, limit int) ([]IncomeEvent, error)
	// MarkIncomePaid 条件更新 pending -> paid
	MarkIncomePaid(ctx context.Context, id string, at time.Time) (bool, error)
	ListIncomeEvents(ctx context.Context, depositID string) ([]IncomeEvent, error)
}

type ReferralRepo interface {
	CreateReferral(ctx context.Context, r *Referral) error
	ListReferrals(ctx context.Context, depositID string) ([]Referral, error)
}

type WebhookRepo interface {
	CreateWebhookEvent(ctx context.Context, ev *WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, id string, u WebhookUpdate) error
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error)
}

// WebhookUpdate nil/None 表示不改
type WebhookUpdate struct {
	SignatureOK     *bool
	Processed       *bool
	MchOrderNo      opt.Value[string]
	ProcessingError opt.Value[string]
}

type JobRepo interface {
	CreateJobLog(ctx context.Context, l *JobLog) error
}

type CatalogRepo interface {
	GetPlan(ctx context.Context, id string) (*Plan, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

type CryptoRepo interface {
	CreateCryptoDeposit(ctx context.Context, c *CryptoDeposit) error
	GetCryptoDeposit(ctx context.Context, id string) (*CryptoDeposit, error)
	ListCryptoDeposits(ctx context.Context, status CryptoStatus, page, limit int) ([]CryptoDeposit, error)
	// ReviewCryptoDeposit 条件更新 pending -> approved/rejected
	ReviewCryptoDeposit(ctx context.Context, id string, r CryptoReview) (bool, error)
}

type CryptoReview struct {
	Status         CryptoStatus
	AdminID        string
	AdminNote      string
	AmountUSDCents opt.Value[int64]
	DepositID      opt.Value[string]
	At             time.Time
}

type AuditRepo interface {
	CreateAuditLog(ctx context.Context, l *AuditLog) error
}
