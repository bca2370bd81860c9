package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/core/server"
	"opinion-poll/internal/transport/http/ez"
	"opinion-poll/internal/transport/http/handler"
	mdw "opinion-poll/internal/transport/http/middleware"
)

type APIDeps struct {
	Log     *zap.Logger
	JWT     *auth.JWTer
	Origins []string
	Polls   *handler.PollHandler
	Auth    *handler.AuthHandler
	Live    *handler.LiveHandler
	// Limits 为零值时使用默认限流参数
	Limits Limits
}

type Limits struct {
	PerIPRPS    rate.Limit
	PerIPBurst  int
	Concurrency int64
	QueueWait   time.Duration
	MaxBody     int64
	Timeout     time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.PerIPRPS <= 0 {
		l.PerIPRPS = 50
	}
	if l.PerIPBurst <= 0 {
		l.PerIPBurst = 100
	}
	if l.Concurrency <= 0 {
		l.Concurrency = 300
	}
	if l.QueueWait <= 0 {
		l.QueueWait = 500 * time.Millisecond
	}
	if l.MaxBody <= 0 {
		l.MaxBody = 1 << 20
	}
	if l.Timeout <= 0 {
		l.Timeout = 10 * time.Second
	}
	return l
}

func NewAPIEngine(d APIDeps) *gin.Engine {
	lim := d.Limits.withDefaults()
	r := server.NewRouter(d.Log, d.Origins)

	// 全局中间件（长连接也会经过）
	r.Use(
		mdw.RequestID(),
		mdw.Metrics("/api/v1/ws", "/api/v1/events"),
		mdw.AccessLog(d.Log),
		mdw.RateLimitPerIP(lim.PerIPRPS, lim.PerIPBurst, 10*time.Minute),
	)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Opinion poll API"})
	})
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	// 推送通道不受超时/并发上限约束
	d.Live.Mount(v1)

	// 普通请求
	api := v1.Group("",
		mdw.OptionalAuth(d.JWT),
		mdw.ConcurrencyLimit(lim.Concurrency, lim.QueueWait),
		mdw.MaxBodyBytes(lim.MaxBody),
		mdw.Timeout(lim.Timeout),
	)
	mountAll(ez.New(api, d.Log), d.Auth, d.Polls)
	return r
}
