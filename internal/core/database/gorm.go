package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
)

var ErrUnsupportedDriver = errors.New("unsupported db driver")

type Opts struct {
	Driver             string
	DSN                string
	Username           string // mysql 覆盖 DSN 中的账号
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	LogLevel           string
	SlowThreshold      time.Duration
	Log                *zap.Logger // nil 时 SQL 日志丢弃
}

func NewGorm(o Opts) (*gorm.DB, error) {
	dial, err := dialector(o)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dial, &gorm.Config{
		Logger:         newGormLogger(o),
		TranslateError: true, // 唯一冲突 → gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if o.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(o.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(o.ConnMaxLifetimeMin) * time.Minute)
	return db.Session(&gorm.Session{
		PrepareStmt:            o.Driver != "sqlite",
		SkipDefaultTransaction: true, // 写路径都显式开 Tx
	}), nil
}

func dialector(o Opts) (gorm.Dialector, error) {
	switch o.Driver {
	case "postgres":
		return postgres.Open(o.DSN), nil
	case "mysql":
		dsn, err := MySQLDSN(o.DSN, o.Username, o.Password)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case "sqlite":
		// 写锁由 SQLite 串行化，等待交给 busy_timeout
		return sqlite.Open(SQLiteDSN(o.DSN)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, o.Driver)
	}
}

// MySQLDSN parses a go-sql-driver DSN, applies credential overrides and
// forces the options the models rely on.
func MySQLDSN(dsn, user, pass string) (string, error) {
	cfg, err := mysqldrv.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return "", fmt.Errorf("mysql dsn: %w", err)
	}
	if user != "" {
		cfg.User = user
	}
	if pass != "" {
		cfg.Passwd = pass
	}
	cfg.ParseTime = true
	if cfg.Loc == nil || cfg.Loc == time.Local {
		cfg.Loc = time.UTC
	}
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}

// SQLiteDSN adds a busy timeout and foreign keys unless the DSN sets them.
func SQLiteDSN(dsn string) string {
	add := func(k, v string) {
		if strings.Contains(dsn, k+"=") {
			return
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + k + "=" + v
	}
	add("_busy_timeout", "5000")
	add("_foreign_keys", "on")
	return dsn
}

type zapWriter struct{ s *zap.SugaredLogger }

func (w zapWriter) Printf(format string, args ...interface{}) { w.s.Infof(format, args...) }

func newGormLogger(o Opts) logger.Interface {
	lvl := logger.Warn
	switch o.LogLevel {
	case "silent":
		lvl = logger.Silent
	case "error":
		lvl = logger.Error
	case "info":
		lvl = logger.Info
	}
	if o.Log == nil {
		return logger.Discard
	}
	slow := o.SlowThreshold
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return logger.New(zapWriter{o.Log.Named("gorm").Sugar()}, logger.Config{
		SlowThreshold:             slow,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
