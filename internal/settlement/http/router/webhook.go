package router

import (
	"github.com/gin-gonic/gin"
	"lunorise.com/internal/settlement/webhook"
	"lunorise.com/pkg/middleware"
)

func Webhook(r *gin.Engine, h *webhook.Handler, sentinelOn bool) {
	wh := r.Group("/webhooks")
	if sentinelOn {
		wh.Use(middleware.Sentinel())
	}
	wh.POST("/:gateway", h.Handle)
}
