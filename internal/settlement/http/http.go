package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"lunorise.com/internal/settlement/handler"
	"lunorise.com/internal/settlement/http/router"
	"lunorise.com/internal/settlement/webhook"
	"lunorise.com/pkg/middleware"
	"lunorise.com/pkg/ratelimit"
)

type Deps struct {
	ServiceName    string
	TrustedProxies []string
	RateLimit      *ratelimit.Store
	SentinelOn     bool

	Webhook *webhook.Handler
	Jobs    *handler.Jobs
	Crypto  *handler.Crypto
	Admin   *handler.Admin

	JobToken   string
	AdminToken string
	// Health 返回 nil 表示依赖都正常
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) (*gin.Engine, error) {
	r := gin.New()
	r.ContextWithFallback = true
	if err := r.SetTrustedProxies(d.TrustedProxies); err != nil {
		return nil, err
	}

	// 监控
	p := ginprom.NewPrometheus("lunorise")
	p.Use(r)
	mw := []gin.HandlerFunc{
		otelgin.Middleware(d.ServiceName),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	}
	if d.RateLimit != nil {
		mw = append(mw, middleware.RateLimit(d.RateLimit))
	}
	r.Use(mw...)

	r.GET("/healthz", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.Webhook(r, d.Webhook, d.SentinelOn)
	router.Jobs(r, d.Jobs, d.JobToken)
	router.Crypto(r, d.Crypto)
	router.Admin(r, d.Crypto, d.Admin, d.AdminToken)
	return r, nil
}

func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        h,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}
