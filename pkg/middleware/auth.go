package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"lunorise.com/pkg/common"
)

const (
	HeaderAdminID = "X-Admin-Id"
	CtxKeyAdminID = "admin_id"
)

func tokenEqual(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// HeaderToken 共享密钥放在自定义请求头里，没配置 token 时一律拒绝
func HeaderToken(header, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tokenEqual(c.GetHeader(header), token) {
			common.Fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminAuth Authorization: Bearer <token>，并且必须带上操作人 X-Admin-Id
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || !tokenEqual(strings.TrimSpace(bearer), token) {
			common.Fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		adminID := strings.TrimSpace(c.GetHeader(HeaderAdminID))
		if adminID == "" {
			common.Fail(c, http.StatusBadRequest, http.StatusBadRequest, "missing "+HeaderAdminID)
			c.Abort()
			return
		}
		c.Set(CtxKeyAdminID, adminID)
		c.Next()
	}
}

func AdminIDFromGin(c *gin.Context) string {
	return c.GetString(CtxKeyAdminID)
}
