package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailErr 按 xerr 错误码映射 HTTP 状态；非 CodeError 一律 500，不透出内部信息
func FailErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus := HTTPStatusOf(code)
	msg := xerr.MapErrMsg(code)
	if httpStatus < http.StatusInternalServerError {
		msg = err.Error()
		var ce *xerr.CodeError
		if asCodeError(err, &ce) {
			msg = ce.Msg
		}
	}
	FailLogged(c, httpStatus, code, msg, err)
}

func HTTPStatusOf(code int) int {
	switch code {
	case xerr.OK:
		return http.StatusOK
	case xerr.RequestParamsError:
		return http.StatusBadRequest
	case xerr.Unauthorized:
		return http.StatusUnauthorized
	case xerr.Forbidden:
		return http.StatusForbidden
	case xerr.RecordNotFound:
		return http.StatusNotFound
	case xerr.Conflict:
		return http.StatusConflict
	case xerr.ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
