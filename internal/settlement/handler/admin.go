package handler

import (
	"github.com/gin-gonic/gin"
	"lunorise.com/internal/settlement/domain"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/common"
	"lunorise.com/pkg/middleware"
	"lunorise.com/pkg/opt"
)

type Admin struct {
	Svc *service.Admin
}

// ReplayReferrals POST /admin/deposits/:id/referrals/replay
func (h *Admin) ReplayReferrals(c *gin.Context) {
	paid, err := h.Svc.ReplayReferrals(c.Request.Context(), middleware.AdminIDFromGin(c), c.Param("id"))
	if err != nil && len(paid) == 0 {
		common.FailErr(c, domain.Coded(err))
		return
	}
	if paid == nil {
		paid = []domain.Referral{}
	}
	common.Success(c, gin.H{"referrals": paid, "complete": err == nil})
}

type confirmReq struct {
	GatewayRef *string `json:"gateway_ref"`
}

// ConfirmDeposit POST /admin/deposits/:id/confirm
func (h *Admin) ConfirmDeposit(c *gin.Context) {
	var req confirmReq
	// body 可以为空
	_ = c.ShouldBindJSON(&req)
	res, err := h.Svc.ConfirmDeposit(c.Request.Context(), middleware.AdminIDFromGin(c), c.Param("id"), opt.FromPtr(req.GatewayRef))
	if err != nil {
		common.FailErr(c, domain.Coded(err))
		return
	}
	common.Success(c, gin.H{
		"deposit":         res.Deposit,
		"already_settled": res.AlreadySettled,
		"bonus_cents":     res.BonusCents,
		"income_event":    res.IncomeEvent,
		"referrals":       res.Referrals,
	})
}
