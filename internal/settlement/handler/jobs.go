package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/pkg/logger"
)

type IncomeRunner interface {
	Run(ctx context.Context) (service.Summary, error)
}

type Jobs struct {
	Income IncomeRunner
}

type runResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	service.Summary
}

// RunIncomeEvents POST /jobs/income-events/run
func (j *Jobs) RunIncomeEvents(c *gin.Context) {
	sum, err := j.Income.Run(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "income job failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, runResponse{Success: false, Error: "income job failed", Summary: sum})
		return
	}
	c.JSON(http.StatusOK, runResponse{Success: true, Summary: sum})
}
