package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"lunorise.com/internal/settlement/chainref"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/opt"
)

const (
	GatewayCrypto      = "crypto"
	CryptoOrderPrefix  = "CR-"
	AuditCryptoApprove = "crypto_deposit.approve"
	AuditCryptoReject  = "crypto_deposit.reject"
)

type SubmitCryptoInput struct {
	UserID       string
	PlanID       opt.Value[string]
	Currency     string
	Network      string
	AmountCrypto decimal.Decimal
	TxHash       string
	ProofPath    string
}

type ApproveInput struct {
	AdminID        string
	AmountUSDCents int64
	AdminNote      string
}

// CryptoService 用户自报链上转账，后台审核通过后走和网关回调一样的结算
type CryptoService struct {
	store   domain.Store
	settler *Settler
	clock   Clock
}

func NewCryptoService(store domain.Store, settler *Settler, clock Clock) *CryptoService {
	return &CryptoService{store: store, settler: settler, clock: clock}
}

func (s *CryptoService) Submit(ctx context.Context, in SubmitCryptoInput) (*domain.CryptoDeposit, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidPayload)
	}
	if !in.AmountCrypto.IsPositive() {
		return nil, fmt.Errorf("%w: amount_crypto must be > 0", domain.ErrInvalidAmount)
	}
	if strings.TrimSpace(in.Currency) == "" {
		return nil, fmt.Errorf("%w: currency required", domain.ErrInvalidPayload)
	}
	hash, err := chainref.Validate(in.Network, in.TxHash)
	if err != nil {
		return nil, err
	}

	c := &domain.CryptoDeposit{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		PlanID:       in.PlanID,
		Currency:     strings.ToUpper(strings.TrimSpace(in.Currency)),
		Network:      strings.ToLower(strings.TrimSpace(in.Network)),
		AmountCrypto: in.AmountCrypto,
		TxHash:       hash,
		ProofPath:    in.ProofPath,
		Status:       domain.CryptoPending,
	}
	if err := s.store.CreateCryptoDeposit(ctx, c); err != nil {
		// tx_hash 唯一，重复提交返回 ErrDuplicate
		return nil, err
	}
	logger.Info(ctx, "crypto deposit submitted",
		zap.String("crypto_deposit_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.String("network", c.Network),
		zap.String("tx_hash", c.TxHash),
	)
	return c, nil
}

func (s *CryptoService) List(ctx context.Context, status domain.CryptoStatus, page, limit int) ([]domain.CryptoDeposit, error) {
	return s.store.ListCryptoDeposits(ctx, status, page, limit)
}

func (s *CryptoService) Get(ctx context.Context, id string) (*domain.CryptoDeposit, error) {
	return s.store.GetCryptoDeposit(ctx, id)
}

// Approve 审核通过：建一笔 crypto_manual 充值并在同一事务里结算
func (s *CryptoService) Approve(ctx context.Context, id string, in ApproveInput) (*domain.CryptoDeposit, *SettleResult, error) {
	if in.AmountUSDCents <= 0 {
		return nil, nil, fmt.Errorf("%w: amount_usd_cents must be > 0", domain.ErrInvalidAmount)
	}
	var (
		out *domain.CryptoDeposit
		res *SettleResult
	)
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		c, err := s.store.GetCryptoDeposit(txCtx, id)
		if err != nil {
			return err
		}
		if c.Status != domain.CryptoPending {
			return domain.ErrCryptoReviewed
		}
		now := s.clock.now()

		d := &domain.Deposit{
			ID:             uuid.NewString(),
			UserID:         c.UserID,
			PlanID:         c.PlanID,
			AmountUSDCents: in.AmountUSDCents,
			LocalAmount:    opt.Some(c.AmountCrypto),
			LocalCurrency:  opt.Some(c.Currency),
			Method:         domain.MethodCryptoManual,
			Gateway:        GatewayCrypto,
			MchOrderNo:     CryptoOrderPrefix + c.ID,
			Status:         domain.DepositPending,
		}
		if err := s.store.CreateDeposit(txCtx, d); err != nil {
			return fmt.Errorf("create deposit: %w", err)
		}
		res, err = s.settler.ConfirmInTx(txCtx, d, opt.Some(c.TxHash))
		if err != nil {
			return err
		}

		ok, err := s.store.ReviewCryptoDeposit(txCtx, c.ID, domain.CryptoReview{
			Status:         domain.CryptoApproved,
			AdminID:        in.AdminID,
			AdminNote:      in.AdminNote,
			AmountUSDCents: opt.Some(in.AmountUSDCents),
			DepositID:      opt.Some(d.ID),
			At:             now,
		})
		if err != nil {
			return fmt.Errorf("review crypto deposit: %w", err)
		}
		if !ok {
			return domain.ErrCryptoReviewed
		}

		if err := s.audit(txCtx, in.AdminID, AuditCryptoApprove, "crypto_deposit", c.ID, domain.JSONMap{
			"amount_usd_cents": in.AmountUSDCents,
			"deposit_id":       d.ID,
			"admin_note":       in.AdminNote,
		}); err != nil {
			return err
		}

		out, err = s.store.GetCryptoDeposit(txCtx, c.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.settler.AfterCommit(ctx, res)
	logger.Info(ctx, "crypto deposit approved",
		zap.String("crypto_deposit_id", out.ID),
		zap.String("admin_id", in.AdminID),
		zap.Int64("amount_usd_cents", in.AmountUSDCents),
	)
	return out, res, nil
}

func (s *CryptoService) Reject(ctx context.Context, id, adminID, note string) (*domain.CryptoDeposit, error) {
	var out *domain.CryptoDeposit
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		c, err := s.store.GetCryptoDeposit(txCtx, id)
		if err != nil {
			return err
		}
		ok, err := s.store.ReviewCryptoDeposit(txCtx, c.ID, domain.CryptoReview{
			Status:    domain.CryptoRejected,
			AdminID:   adminID,
			AdminNote: note,
			At:        s.clock.now(),
		})
		if err != nil {
			return fmt.Errorf("review crypto deposit: %w", err)
		}
		if !ok {
			return domain.ErrCryptoReviewed
		}
		if err := s.audit(txCtx, adminID, AuditCryptoReject, "crypto_deposit", c.ID, domain.JSONMap{"admin_note": note}); err != nil {
			return err
		}
		out, err = s.store.GetCryptoDeposit(txCtx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CryptoService) audit(ctx context.Context, adminID, action, targetType, targetID string, detail domain.JSONMap) error {
	return writeAudit(ctx, s.store, adminID, action, targetType, targetID, detail)
}

func writeAudit(ctx context.Context, store domain.AuditRepo, adminID, action, targetType, targetID string, detail domain.JSONMap) error {
	err := store.CreateAuditLog(ctx, &domain.AuditLog{
		ID:         uuid.NewString(),
		AdminID:    adminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
