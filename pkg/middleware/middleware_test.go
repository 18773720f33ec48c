package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
	"lunorise.com/pkg/common"
	"lunorise.com/pkg/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

func TestReqId_EchoesHeader(t *testing.T) {
	r := gin.New()
	r.Use(ReqId())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, common.RequestIDFromGin(c))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(common.HeaderRequestID, "rid-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, "rid-1", w.Body.String())
	assert.Equal(t, "rid-1", w.Header().Get(common.HeaderRequestID))
}

func TestReqId_Generates(t *testing.T) {
	r := gin.New()
	r.Use(ReqId())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, common.RequestIDFromGin(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Body.String())
}

func TestRecover_Returns500(t *testing.T) {
	r := gin.New()
	r.Use(ReqId(), Recover())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimit_Rejects(t *testing.T) {
	store := ratelimit.NewStore(rate.Every(time.Hour), 1, time.Minute)

	r := gin.New()
	r.Use(RateLimit(store))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestHeaderToken(t *testing.T) {
	r := gin.New()
	r.POST("/run", HeaderToken("X-Job-Token", "s3cret"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"正确", "s3cret", http.StatusNoContent},
		{"错误", "nope", http.StatusUnauthorized},
		{"缺失", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/run", nil)
			if tc.token != "" {
				req.Header.Set("X-Job-Token", tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestHeaderToken_EmptyConfigRejectsAll(t *testing.T) {
	r := gin.New()
	r.POST("/run", HeaderToken("X-Job-Token", ""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth(t *testing.T) {
	r := gin.New()
	r.GET("/admin", AdminAuth("adm"), func(c *gin.Context) { c.String(http.StatusOK, AdminIDFromGin(c)) })

	do := func(auth, adminID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		if adminID != "" {
			req.Header.Set(HeaderAdminID, adminID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do("Bearer adm", "ops-7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops-7", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, do("Bearer bad", "ops-7").Code)
	assert.Equal(t, http.StatusUnauthorized, do("adm", "ops-7").Code)
	assert.Equal(t, http.StatusBadRequest, do("Bearer adm", "").Code)
}
