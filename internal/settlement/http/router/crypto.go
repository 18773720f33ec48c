package router

import (
	"github.com/gin-gonic/gin"
	"lunorise.com/internal/settlement/handler"
	"lunorise.com/pkg/middleware"
)

func Crypto(r *gin.Engine, h *handler.Crypto) {
	r.POST("/crypto-deposits", h.Submit)
}

func Admin(r *gin.Engine, crypto *handler.Crypto, admin *handler.Admin, token string) {
	g := r.Group("/admin", middleware.AdminAuth(token))
	{
		g.GET("/crypto-deposits", crypto.List)
		g.GET("/crypto-deposits/:id", crypto.Get)
		g.POST("/crypto-deposits/:id/approve", crypto.Approve)
		g.POST("/crypto-deposits/:id/reject", crypto.Reject)

		g.POST("/deposits/:id/confirm", admin.ConfirmDeposit)
		g.POST("/deposits/:id/referrals/replay", admin.ReplayReferrals)
	}
}
