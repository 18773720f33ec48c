package router

import (
	"github.com/gin-gonic/gin"
	"lunorise.com/internal/settlement/handler"
	"lunorise.com/pkg/middleware"
)

const HeaderJobToken = "X-Job-Token"

func Jobs(r *gin.Engine, h *handler.Jobs, token string) {
	jobs := r.Group("/jobs", middleware.HeaderToken(HeaderJobToken, token))
	{
		jobs.POST("/income-events/run", h.RunIncomeEvents)
	}
}
