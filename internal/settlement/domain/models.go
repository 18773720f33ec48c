package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"lunorise.com/pkg/opt"
)

type DepositStatus string

// 充值状态：pending 只能走向 confirmed 或 failed 之一，之后不再变化
const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
	DepositFailed    DepositStatus = "failed"
)

// 充值方式，决定赠送比例
const (
	MethodStandard     = "standard"
	MethodBase         = "base"
	MethodCrypto       = "crypto"
	MethodCryptoManual = "crypto_manual"
)

type Deposit struct {
	ID             string                     `gorm:"primaryKey;size:36" json:"id"`
	UserID         string                     `gorm:"size:64;index;not null" json:"user_id"`
	PlanID         opt.Value[string]          `gorm:"type:varchar(64)" json:"plan_id"`
	AmountUSDCents int64                      `gorm:"not null" json:"amount_usd_cents"`
	LocalAmount    opt.Value[decimal.Decimal] `gorm:"type:decimal(20,4)" json:"local_amount"`
	LocalCurrency  opt.Value[string]          `gorm:"type:varchar(8)" json:"local_currency"`
	FxRate         opt.Value[decimal.Decimal] `gorm:"type:decimal(20,8)" json:"fx_rate"`
	Method         string                     `gorm:"size:32;not null" json:"method"`
	Gateway        string                     `gorm:"size:32;not null" json:"gateway"`
	MchOrderNo     string                     `gorm:"size:64;uniqueIndex;not null" json:"mch_order_no"`
	GatewayRef     opt.Value[string]          `gorm:"type:varchar(128)" json:"gateway_ref"`
	Status         DepositStatus              `gorm:"size:16;index;not null" json:"status"`
	ConfirmedAt    *time.Time                 `json:"confirmed_at"`
	FailedAt       *time.Time                 `json:"failed_at"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

type Wallet struct {
	UserID           string    `gorm:"primaryKey;size:64" json:"user_id"`
	AvailableCents   int64     `gorm:"not null;default:0" json:"available_cents"`
	PendingCents     int64     `gorm:"not null;default:0" json:"pending_cents"`
	TotalEarnedCents int64     `gorm:"not null;default:0" json:"total_earned_cents"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type TxType string

const (
	TxDeposit  TxType = "deposit"
	TxIncome   TxType = "income"
	TxReferral TxType = "referral"
)

// WalletTransaction 不可变流水；(user_id, type, reference_id) 唯一，是幂等锚点
type WalletTransaction struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	UserID            string    `gorm:"size:64;not null;uniqueIndex:idx_wtx_ref,priority:1" json:"user_id"`
	Type              TxType    `gorm:"size:16;not null;uniqueIndex:idx_wtx_ref,priority:2" json:"type"`
	AmountCents       int64     `gorm:"not null" json:"amount_cents"`
	BalanceAfterCents int64     `gorm:"not null" json:"balance_after_cents"`
	ReferenceID       string    `gorm:"size:64;not null;uniqueIndex:idx_wtx_ref,priority:3" json:"reference_id"`
	Meta              JSONMap   `gorm:"type:text" json:"meta"`
	CreatedAt         time.Time `json:"created_at"`
}

type IncomeStatus string

const (
	IncomePending IncomeStatus = "pending"
	IncomePaid    IncomeStatus = "paid"
)

type IncomeEvent struct {
	ID          string       `gorm:"primaryKey;size:36" json:"id"`
	DepositID   string       `gorm:"size:36;not null;uniqueIndex:idx_income_drop,priority:1" json:"deposit_id"`
	UserID      string       `gorm:"size:64;not null;index" json:"user_id"`
	PlanID      string       `gorm:"size:64;not null" json:"plan_id"`
	AmountCents int64        `gorm:"not null" json:"amount_cents"`
	DropNumber  int          `gorm:"not null;uniqueIndex:idx_income_drop,priority:2" json:"drop_number"`
	DueAt       time.Time    `gorm:"not null;index:idx_income_due,priority:2" json:"due_at"`
	Status      IncomeStatus `gorm:"size:16;not null;index:idx_income_due,priority:1" json:"status"`
	PaidAt      *time.Time   `json:"paid_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Referral 每笔充值每一层最多一条，(deposit_id, level) 唯一
type Referral struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	DepositID  string          `gorm:"size:36;not null;uniqueIndex:idx_referral_level,priority:1" json:"deposit_id"`
	ReferrerID string          `gorm:"size:64;not null;index" json:"referrer_id"`
	ReferredID string          `gorm:"size:64;not null" json:"referred_id"`
	Level      int             `gorm:"not null;uniqueIndex:idx_referral_level,priority:2" json:"level"`
	Percentage decimal.Decimal `gorm:"type:decimal(8,4);not null" json:"percentage"`
	BonusCents int64           `gorm:"not null" json:"bonus_cents"`
	CreatedAt  time.Time       `json:"created_at"`
}

// WebhookEvent 每次回调一行，重放也记
type WebhookEvent struct {
	ID              string            `gorm:"primaryKey;size:36" json:"id"`
	Gateway         string            `gorm:"size:32;not null;index" json:"gateway"`
	EventID         opt.Value[string] `gorm:"type:varchar(128)" json:"event_id"`
	MchOrderNo      opt.Value[string] `gorm:"type:varchar(64);index" json:"mch_order_no"`
	Payload         JSONMap           `gorm:"type:text" json:"payload"`
	SignatureOK     bool              `gorm:"not null;default:false" json:"signature_ok"`
	Processed       bool              `gorm:"not null;default:false" json:"processed"`
	ProcessingError opt.Value[string] `gorm:"type:text" json:"processing_error"`
	SourceIP        string            `gorm:"size:64" json:"source_ip"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type JobStatus string

const (
	JobCompleted           JobStatus = "completed"
	JobCompletedWithErrors JobStatus = "completed_with_errors"
	JobFailed              JobStatus = "failed"
)

type JobLog struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Job             string    `gorm:"size:64;not null;index" json:"job"`
	Status          JobStatus `gorm:"size:32;not null" json:"status"`
	Payload         JSONMap   `gorm:"type:text" json:"payload"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
}

func (JobLog) TableName() string { return "jobs_log" }

// Plan 投资计划，由外部目录维护，这里只读
type Plan struct {
	ID                 string    `gorm:"primaryKey;size:64" json:"id"`
	Name               string    `gorm:"size:128" json:"name"`
	DepositUSDCents    int64     `json:"deposit_usd_cents"`
	PayoutPerDropCents int64     `json:"payout_per_drop_cents"`
	DropsCount         int       `json:"drops_count"`
	CreatedAt          time.Time `json:"created_at"`
}

// Profile 只关心上级
type Profile struct {
	UserID     string            `gorm:"primaryKey;size:64" json:"user_id"`
	ReferrerID opt.Value[string] `gorm:"type:varchar(64);index" json:"referrer_id"`
	CreatedAt  time.Time         `json:"created_at"`
}

type CryptoStatus string

const (
	CryptoPending  CryptoStatus = "pending"
	CryptoApproved CryptoStatus = "approved"
	CryptoRejected CryptoStatus = "rejected"
)

// CryptoDeposit 用户自报的链上转账，人工审核后落成 Deposit
type CryptoDeposit struct {
	ID             string            `gorm:"primaryKey;size:36" json:"id"`
	UserID         string            `gorm:"size:64;not null;index" json:"user_id"`
	PlanID         opt.Value[string] `gorm:"type:varchar(64)" json:"plan_id"`
	Currency       string            `gorm:"size:16;not null" json:"currency"`
	Network        string            `gorm:"size:16;not null" json:"network"`
	AmountCrypto   decimal.Decimal   `gorm:"type:decimal(36,18);not null" json:"amount_crypto"`
	TxHash         string            `gorm:"size:128;uniqueIndex;not null" json:"tx_hash"`
	ProofPath      string            `gorm:"size:255" json:"proof_path"`
	Status         CryptoStatus      `gorm:"size:16;not null;index" json:"status"`
	AmountUSDCents opt.Value[int64]  `gorm:"type:bigint" json:"amount_usd_cents"`
	AdminID        opt.Value[string] `gorm:"type:varchar(64)" json:"admin_id"`
	AdminNote      string            `gorm:"type:text" json:"admin_note"`
	DepositID      opt.Value[string] `gorm:"type:varchar(36)" json:"deposit_id"`
	ReviewedAt     *time.Time        `json:"reviewed_at"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type AuditLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	AdminID    string    `gorm:"size:64;not null;index" json:"admin_id"`
	Action     string    `gorm:"size:64;not null" json:"action"`
	TargetType string    `gorm:"size:32;not null" json:"target_type"`
	TargetID   string    `gorm:"size:64;not null" json:"target_id"`
	Detail     JSONMap   `gorm:"type:text" json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllModels AutoMigrate 用
func AllModels() []any {
	return []any{
		&Deposit{}, &Wallet{}, &WalletTransaction{}, &IncomeEvent{}, &Referral{},
		&WebhookEvent{}, &JobLog{}, &Plan{}, &Profile{}, &CryptoDeposit{}, &AuditLog{},
	}
}
