package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/common"
	"lunorise.com/pkg/middleware"
	"lunorise.com/pkg/opt"
	"lunorise.com/pkg/xerr"
)

const HeaderUserID = "X-User-Id"

type Crypto struct {
	Svc *service.CryptoService
}

type submitReq struct {
	PlanID       *string         `json:"plan_id"`
	Currency     string          `json:"currency" binding:"required"`
	Network      string          `json:"network" binding:"required"`
	AmountCrypto decimal.Decimal `json:"amount_crypto"`
	TxHash       string          `json:"tx_hash" binding:"required"`
	ProofPath    string          `json:"proof_path"`
}

func badRequest(c *gin.Context, err error) {
	common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, err.Error()))
}

// Submit POST /crypto-deposits，用户身份由上游网关写进 X-User-Id
func (h *Crypto) Submit(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if userID == "" {
		common.Fail(c, http.StatusUnauthorized, xerr.Unauthorized, "missing "+HeaderUserID)
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Svc.Submit(c.Request.Context(), service.SubmitCryptoInput{
		UserID:       userID,
		PlanID:       opt.FromPtr(req.PlanID),
		Currency:     req.Currency,
		Network:      req.Network,
		AmountCrypto: req.AmountCrypto,
		TxHash:       req.TxHash,
		ProofPath:    req.ProofPath,
	})
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	common.Success(c, out)
}

// List GET /admin/crypto-deposits?status=pending&page=1&limit=20
func (h *Crypto) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	status := domain.CryptoStatus(c.Query("status"))
	switch status {
	case "", domain.CryptoPending, domain.CryptoApproved, domain.CryptoRejected:
	default:
		common.Fail(c, http.StatusBadRequest, xerr.RequestParamsError, "invalid status")
		return
	}
	list, err := h.Svc.List(c.Request.Context(), status, page, limit)
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	if list == nil {
		list = []domain.CryptoDeposit{}
	}
	common.Success(c, gin.H{"items": list, "page": page, "limit": limit})
}

func (h *Crypto) Get(c *gin.Context) {
	out, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	common.Success(c, out)
}

type approveReq struct {
	AmountUSDCents int64  `json:"amount_usd_cents"`
	AdminNote      string `json:"admin_note"`
}

func (h *Crypto) Approve(c *gin.Context) {
	var req approveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, res, err := h.Svc.Approve(c.Request.Context(), c.Param("id"), service.ApproveInput{
		AdminID:        middleware.AdminIDFromGin(c),
		AmountUSDCents: req.AmountUSDCents,
		AdminNote:      req.AdminNote,
	})
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	common.Success(c, gin.H{
		"crypto_deposit":   out,
		"deposit":          res.Deposit,
		"bonus_cents":      res.BonusCents,
		"income_event":     res.IncomeEvent,
		"referrals":        res.Referrals,
		"referral_pending": res.ReferralErr != nil,
	})
}

type rejectReq struct {
	AdminNote string `json:"admin_note"`
}

func (h *Crypto) Reject(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.Svc.Reject(c.Request.Context(), c.Param("id"), middleware.AdminIDFromGin(c), req.AdminNote)
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	common.Success(c, out)
}
