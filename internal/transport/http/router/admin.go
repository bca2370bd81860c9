package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/core/server"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/transport/http/ez"
	"opinion-poll/internal/transport/http/handler"
	mdw "opinion-poll/internal/transport/http/middleware"
)

func NewAdminEngine(l *zap.Logger, jwter *auth.JWTer, admin *handler.AdminHandler) *gin.Engine {
	r := server.NewRouter(l, nil)

	r.Use(
		mdw.RequestID(),
		mdw.RateLimit(200, 400),
		mdw.ConcurrencyLimit(50, time.Second),
		mdw.MaxBodyBytes(1<<20),
		mdw.Timeout(30*time.Second),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)

	// 健康检查
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 管理端 v1（统一要求 admin 角色）
	g := r.Group("/admin/v1", mdw.AuthJWT(jwter, domain.RoleAdmin))
	mountAll(ez.New(g, l), admin)
	return r
}
