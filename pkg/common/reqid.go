package common

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/xerr"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = logger.RequestIDKey
)

func New() string { return uuid.NewString() }

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asCodeError(err error, target **xerr.CodeError) bool {
	return errors.As(err, target)
}
