package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"opinion-poll/internal/app"
	"opinion-poll/internal/core/config"
	"opinion-poll/internal/core/logger"
	"opinion-poll/internal/core/server"
	"opinion-poll/internal/transport/http/handler"
	"opinion-poll/internal/transport/http/router"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := newLogger(cfg, "api")
	defer cleanup()
	defer logger.RedirectStdLog(log, zapcore.InfoLevel)()
	gin.DefaultWriter = logger.ToWriter(log, zapcore.DebugLevel)
	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	if err := a.Hub.Start(ctx); err != nil {
		log.Fatal("hub start failed", zap.Error(err))
	}

	r := router.NewAPIEngine(router.APIDeps{
		Log:     log,
		JWT:     a.JWT,
		Origins: cfg.CORS.AllowOrigins,
		Polls:   handler.NewPollHandler(a.Polls, a.Identity),
		Auth:    handler.NewAuthHandler(a.Auth, a.JWT),
		Live:    handler.NewLiveHandler(a.Hub, cfg.CORS.AllowOrigins, log.Named("live")),
		Limits: router.Limits{
			PerIPRPS:    rate.Limit(cfg.Limits.PerIPRPS),
			PerIPBurst:  cfg.Limits.PerIPBurst,
			Concurrency: cfg.Limits.Concurrency,
			QueueWait:   time.Duration(cfg.Limits.QueueWaitMs) * time.Millisecond,
			MaxBody:     cfg.Limits.MaxBodyBytes,
			Timeout:     time.Duration(cfg.Limits.TimeoutSec) * time.Second,
		},
	})

	// HTTP Server
	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(cfg.App.HTTP.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.IdleTimeoutSec)*time.Second,
		log,
	)

	// 启动日志
	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("poll api starting",
		zap.String("addr", addr),
		zap.String("open", baseURL),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
		zap.String("ws", "ws://"+host4human+":"+fmt.Sprint(cfg.App.HTTP.Port)+"/api/v1/ws"),
	)

	// 异步启动
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error("poll api start FAILED", zap.Error(err))
	}

	// 优雅关闭：先停 HTTP，再断开推送连接，最后关 DB
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.RegisterOnShutdown(a.Hub.Stop)
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	a.Close()
	log.Info("poll api stopped gracefully")
}

func newLogger(cfg *config.Config, name string) (*zap.Logger, func()) {
	f := cfg.Log.File
	return logger.Build(logger.Options{
		Level:       cfg.Log.Level,
		JSON:        cfg.Log.JSON,
		AddCaller:   true,
		Development: !cfg.Log.JSON,
		Service:     cfg.App.Name + "-" + name,
		Rotate: logger.FileRotate{
			Enable:     f.Enable,
			Filename:   f.Filename,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	})
}
