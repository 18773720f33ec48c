package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"lunorise.com/internal/settlement"
	"lunorise.com/internal/settlement/app"
	"lunorise.com/pkg/config"
	"lunorise.com/pkg/logger"
	"lunorise.com/pkg/trace"
)

func main() {
	// 收到 SIGINT/SIGTERM 时取消，HTTP 和后台任务跟着退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &settlement.Cfg{}
	if _, err := config.LoadAndWatch(settlement.ServiceName, cfg); err != nil {
		panic(fmt.Sprintf("加载配置出错 %+v", err))
	}
	cfg.Normalize()

	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()
	logger.Info(ctx, "服务开始启动", zap.String("addr", cfg.HTTP.Addr))

	shutdownTracer, err := trace.InitTrace(ctx, cfg.Name, cfg.OTel)
	if err != nil {
		logger.Fatal(ctx, "init tracer error", zap.Error(err))
	}
	defer func() {
		// 最多给 5 秒 flush trace
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(c); err != nil {
			logger.Error(c, "shutdown tracer error", zap.Error(err))
		}
	}()

	if err := app.Run(ctx, cfg); err != nil {
		logger.Error(ctx, "settlement service exited", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
