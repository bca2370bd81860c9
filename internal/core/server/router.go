package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"opinion-poll/internal/core/logger"
	resp "opinion-poll/internal/transport/http/response"
)

// NewRouter 基础引擎：panic 恢复 + CORS。origins 为空时放开所有来源
func NewRouter(l *zap.Logger, origins []string) *gin.Engine {
	r := gin.New()
	r.Use(ginzap.CustomRecoveryWithZap(l, true, func(c *gin.Context, _ any) {
		c.AbortWithStatusJSON(http.StatusInternalServerError,
			resp.Reasoned(resp.CodeServerError, "internal", "internal error"))
	}))
	r.Use(cors.New(corsConfig(origins)))
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.AddAllowHeaders("Authorization", "X-Anon-Token", "X-Request-ID")
	cfg.ExposeHeaders = []string{"X-Anon-Token", "X-Request-ID", "Retry-After"}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func BuildServer(addr string, handler http.Handler, rt, wt, it time.Duration, l *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:           addr,
		Handler:        handler,
		ReadTimeout:    rt,
		WriteTimeout:   wt,
		IdleTimeout:    it,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	if el, err := logger.ToStdLogger(l, zapcore.WarnLevel); err == nil {
		srv.ErrorLog = el
	}
	return srv
}

func Addr(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }
