package middleware

import (
	"errors"
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"lunorise.com/pkg/common"
	"lunorise.com/pkg/logger"
)

// Sentinel 以 "METHOD 路由模板" 作为资源名做入口流控
func Sentinel() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		resource := c.Request.Method + " " + route

		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c, "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
				zap.String("blockMsg", blockErr.Error()),
			)
			common.Fail(c, http.StatusServiceUnavailable, http.StatusServiceUnavailable, "service is busy, please try again later")
			c.Abort()
			return
		}
		// Exit 负责统计耗时和结果，必须调用
		defer entry.Exit()

		c.Next()

		// 只把 5xx 记给 sentinel，业务拒绝不算
		if c.Writer.Status() >= http.StatusInternalServerError {
			err := c.Errors.Last()
			if err != nil {
				sentinels.TraceError(entry, err.Err)
			} else {
				sentinels.TraceError(entry, errors.New(http.StatusText(c.Writer.Status())))
			}
		}
	}
}
