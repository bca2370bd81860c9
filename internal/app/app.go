// Package app assembles the process-wide dependencies shared by the
// user and admin binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/core/cache"
	"opinion-poll/internal/core/config"
	"opinion-poll/internal/core/database"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/hub"
	"opinion-poll/internal/repo"
	"opinion-poll/internal/service"
)

type App struct {
	Cfg   *config.Config
	Log   *zap.Logger
	DB    *gorm.DB
	Cache *cache.Cache // nil 表示未配置或不可达，降级为直连 DB
	Hub   *hub.Hub
	JWT   *auth.JWTer

	Identity *service.IdentityResolver
	Polls    *service.PollService
	Auth     *service.AuthService
}

func New(ctx context.Context, cfg *config.Config, l *zap.Logger) (*App, error) {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		Log:                l,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	l.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		if err := db.AutoMigrate(domain.Models()...); err != nil {
			return nil, fmt.Errorf("automigrate: %w", err)
		}
		l.Info("automigrate done")
	}

	a := &App{Cfg: cfg, Log: l, DB: db}
	a.Cache = openCache(ctx, cfg.Redis, cfg.Cache.KeyPrefix, l)

	a.JWT = &auth.JWTer{
		Secret:  []byte(cfg.JWT.Secret),
		Issuer:  cfg.JWT.Issuer,
		TTL:     time.Duration(cfg.JWT.AccessTokenTTLMin) * time.Minute,
		AnonTTL: time.Duration(cfg.JWT.AnonTokenTTLMin) * time.Minute,
	}

	hubOpts := hub.Options{
		SendBuffer:   cfg.Hub.SendBuffer,
		WriteTimeout: cfg.Hub.WriteTimeout(),
		GapWait:      cfg.Hub.GapWait(),
		Channel:      cfg.Hub.RelayChannel,
	}
	if a.Cache != nil && cfg.Hub.RelayChannel != "" {
		hubOpts.Redis = a.Cache.RDB
	}
	a.Hub = hub.New(hubOpts, l.Named("hub"))

	users := repo.NewUserRepo(db)
	store := repo.NewStore(db, l.Named("store"), repo.StoreOpts{
		TxTimeout:  cfg.Store.TxTimeout(),
		MaxRetries: cfg.Store.MaxRetries,
		Backoff:    cfg.Store.Backoff(),
	})
	a.Identity = service.NewIdentityResolver(users, a.JWT, service.IdentityOpts{
		Mode:                 cfg.Identity.AnonymousMode,
		Salt:                 cfg.Identity.FingerprintSalt,
		AllowTestIdentity:    cfg.Identity.AllowTestIdentity,
		AllowAnonymousWrites: cfg.Identity.AllowAnonymousWrites,
	}, l.Named("identity"))
	a.Auth = service.NewAuthService(users, a.JWT, cfg.Auth.AdminUsernames, l.Named("auth"))
	a.Polls = service.NewPollService(service.PollServiceDeps{
		Polls:    repo.NewPollRepo(db),
		Engine:   service.NewEngine(store),
		Identity: a.Identity,
		Hub:      a.Hub,
		Cache:    a.Cache,
		CacheTTL: cfg.Cache.PollTTL(),
		Log:      l.Named("polls"),
	})
	return a, nil
}

// Close 依次关闭 hub、缓存、数据库
func (a *App) Close() {
	a.Hub.Stop()
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.Log.Info("resources released")
}

func openCache(ctx context.Context, rc config.Redis, prefix string, l *zap.Logger) *cache.Cache {
	if rc.Addr == "" {
		return nil
	}
	c := cache.New(rc.Addr, rc.Password, rc.DB, prefix)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.Ping(pctx); err != nil {
		l.Warn("redis unreachable, cache and relay disabled", zap.String("addr", rc.Addr), zap.Error(err))
		_ = c.Close()
		return nil
	}
	l.Info("redis connected", zap.String("addr", rc.Addr))
	return c
}
