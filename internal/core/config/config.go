package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeoutSec  int `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int `mapstructure:"write_timeout_sec"`
	IdleTimeoutSec  int `mapstructure:"idle_timeout_sec"`
}
type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name  string
	Env   string
	HTTP  HTTP
	Admin AdminHTTP
}

type LogFile struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
	Compress   bool
}

type Log struct {
	Level string
	JSON  bool
	File  LogFile
}

type JWT struct {
	Secret            string
	Issuer            string
	AccessTokenTTLMin int `mapstructure:"access_token_ttl_min"`
	AnonTokenTTLMin   int `mapstructure:"anon_token_ttl_min"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMin int    `mapstructure:"conn_max_lifetime_min"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
	LogLevel           string `mapstructure:"log_level"`
}

// Store 事务超时与冲突重试
type Store struct {
	TxTimeoutMs    int `mapstructure:"tx_timeout_ms"`
	MaxRetries     int `mapstructure:"max_retries"`
	RetryBackoffMs int `mapstructure:"retry_backoff_ms"`
}

// Identity 匿名身份策略
type Identity struct {
	AnonymousMode        string `mapstructure:"anonymous_mode"` // fingerprint | session
	FingerprintSalt      string `mapstructure:"fingerprint_salt"`
	AllowTestIdentity    bool   `mapstructure:"allow_test_identity"`
	AllowAnonymousWrites bool   `mapstructure:"allow_anonymous_writes"`
}

type Hub struct {
	SendBuffer     int    `mapstructure:"send_buffer"`
	WriteTimeoutMs int    `mapstructure:"write_timeout_ms"`
	GapWaitMs      int    `mapstructure:"gap_wait_ms"`
	RelayChannel   string `mapstructure:"relay_channel"`
}

type Cache struct {
	PollTTLSec int    `mapstructure:"poll_ttl_sec"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// Limits 用户端限流与请求约束（推送通道只受 per-IP 限流）
type Limits struct {
	PerIPRPS     float64 `mapstructure:"per_ip_rps"`
	PerIPBurst   int     `mapstructure:"per_ip_burst"`
	Concurrency  int64   `mapstructure:"concurrency"`
	QueueWaitMs  int     `mapstructure:"queue_wait_ms"`
	MaxBodyBytes int64   `mapstructure:"max_body_bytes"`
	TimeoutSec   int     `mapstructure:"timeout_sec"`
}

type CORS struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type Auth struct {
	AdminUsernames []string `mapstructure:"admin_usernames"`
}

type Config struct {
	App      App
	Log      Log
	JWT      JWT
	DB       DB
	Redis    Redis `mapstructure:"redis"`
	Store    Store
	Identity Identity
	Hub      Hub
	Cache    Cache
	Limits   Limits
	CORS     CORS `mapstructure:"cors"`
	Auth     Auth
}

func (s Store) TxTimeout() time.Duration { return time.Duration(s.TxTimeoutMs) * time.Millisecond }
func (s Store) Backoff() time.Duration   { return time.Duration(s.RetryBackoffMs) * time.Millisecond }
func (h Hub) WriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeoutMs) * time.Millisecond
}
func (h Hub) GapWait() time.Duration { return time.Duration(h.GapWaitMs) * time.Millisecond }
func (c Cache) PollTTL() time.Duration { return time.Duration(c.PollTTLSec) * time.Second }

func Load(path string) *Config {
	c, err := load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	return c
}

func load(path string) (*Config, error) {
	v := viper.New()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "opinion-poll")
	v.SetDefault("app.env", "local")
	v.SetDefault("app.http.port", 8000)
	v.SetDefault("app.http.read_timeout_sec", 5)
	// 0：/ws 与 /events 是长连接，普通请求由 limits.timeout_sec 约束
	v.SetDefault("app.http.write_timeout_sec", 0)
	v.SetDefault("app.http.idle_timeout_sec", 60)
	v.SetDefault("app.admin.port", 8001)
	v.SetDefault("log.level", "info")
	v.SetDefault("jwt.issuer", "opinion-poll")
	v.SetDefault("jwt.access_token_ttl_min", 24*60)
	v.SetDefault("jwt.anon_token_ttl_min", 30*24*60)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:opinion_poll.db?_busy_timeout=5000&_foreign_keys=on")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime_min", 30)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("db.log_level", "warn")
	v.SetDefault("store.tx_timeout_ms", 3000)
	v.SetDefault("store.max_retries", 5)
	v.SetDefault("store.retry_backoff_ms", 20)
	v.SetDefault("identity.anonymous_mode", "fingerprint")
	v.SetDefault("identity.allow_anonymous_writes", true)
	v.SetDefault("hub.send_buffer", 64)
	v.SetDefault("hub.write_timeout_ms", 5000)
	v.SetDefault("hub.gap_wait_ms", 100)
	v.SetDefault("hub.relay_channel", "opinion-poll:events")
	v.SetDefault("cache.poll_ttl_sec", 30)
	v.SetDefault("cache.key_prefix", "opinion-poll:")
	v.SetDefault("limits.per_ip_rps", 50)
	v.SetDefault("limits.per_ip_burst", 100)
	v.SetDefault("limits.concurrency", 300)
	v.SetDefault("limits.queue_wait_ms", 500)
	v.SetDefault("limits.max_body_bytes", 1<<20)
	v.SetDefault("limits.timeout_sec", 10)
}
