package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/register"
	"lunorise.com/pkg/register/etcd"
	"lunorise.com/pkg/safe"
)

// Options 一个 HTTP 服务启动需要的东西；可选项为空即跳过
type Options struct {
	ServiceName string
	HTTPAddr    string
	Handler     http.Handler

	MetricsAddr string
	PprofAddr   string

	Etcd *etcd.Config

	// 后台任务，随 ctx 结束退出
	Background []func(ctx context.Context)

	ShutdownTimeout time.Duration
}

// Run 启动 HTTP 服务，阻塞到 ctx 结束或服务出错，然后优雅退出
func Run(ctx context.Context, opt Options) error {
	if opt.ServiceName == "" || opt.HTTPAddr == "" || opt.Handler == nil {
		return errors.New("bootstrap: missing required options")
	}
	if opt.ShutdownTimeout <= 0 {
		opt.ShutdownTimeout = 10 * time.Second
	}

	if opt.PprofAddr != "" {
		startPprof(ctx, opt.PprofAddr)
	}
	if opt.MetricsAddr != "" {
		startMetrics(ctx, opt.MetricsAddr)
	}

	if opt.Etcd != nil && len(opt.Etcd.Endpoints) > 0 {
		cli, err := etcd.NewClient(*opt.Etcd)
		if err != nil {
			return fmt.Errorf("connect etcd: %w", err)
		}
		defer cli.Close()

		var reg register.Register = etcd.NewEtcdRegister(cli, opt.Etcd.ServicePrefix, opt.Etcd.TTLSeconds)
		ins := &register.Instance{
			ID:   fmt.Sprintf("%s-%s", opt.ServiceName, opt.HTTPAddr),
			Name: opt.ServiceName,
			Addr: opt.HTTPAddr,
			MetaData: map[string]string{
				"version":  "v1",
				"protocol": "http",
			},
		}
		if err := reg.Register(ctx, ins); err != nil {
			return fmt.Errorf("register etcd: %w", err)
		}
		defer func() { _ = reg.UnRegister(context.Background(), ins) }()
	}

	bgCtx, stopBg := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, fn := range opt.Background {
		wg.Add(1)
		safe.GoCtx(bgCtx, func(c context.Context) {
			defer wg.Done()
			fn(c)
		})
	}

	srv := &http.Server{
		Addr:              opt.HTTPAddr,
		Handler:           opt.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http listening", zap.String("addr", opt.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case serveErr = <-errCh:
		logger.Error(context.Background(), "http server error", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opt.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}

	stopBg()
	wg.Wait()
	logger.Info(context.Background(), "service stopped", zap.String("service", opt.ServiceName))
	return serveErr
}

func startPprof(ctx context.Context, addr string) {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	serveSide(ctx, "pprof", &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	})
}

func startMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serveSide(ctx, "metrics", &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	})
}

func serveSide(ctx context.Context, name string, srv *http.Server) {
	go func() {
		logger.Info(ctx, name+" listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, name+" server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(c)
	}()
}
