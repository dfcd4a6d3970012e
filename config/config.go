package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Federation FederationConfig `mapstructure:"federation"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug | release
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres | sqlite
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"` // 如 "1h"
}

// RedisConfig Redis 配置（文档缓存 + 投递唤醒通道）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FederationConfig 联邦协议节点配置
type FederationConfig struct {
	Domain         string `mapstructure:"domain"`           // 本节点域名，用于校验 Host 头
	Origin         string `mapstructure:"origin"`           // 形如 https://example.com
	ActorURL       string `mapstructure:"actor_url"`        // 本节点 actor 的 IRI
	PublicKeyURL   string `mapstructure:"public_key_url"`   // 对外公布的签名 key IRI
	PrivateKeyFile string `mapstructure:"private_key_file"` // PEM 私钥路径
	// RelaxedVerify 为 true 时签名校验失败仅告警不拒绝，只用于本地联调，严禁生产开启
	RelaxedVerify  bool    `mapstructure:"relaxed_verify"`
	Workers        int     `mapstructure:"workers"`         // 投递 worker 数量，<=0 默认 2
	PollInterval   string  `mapstructure:"poll_interval"`   // 队列兜底轮询间隔，空则默认 60s
	DeliverDelay   string  `mapstructure:"deliver_delay"`   // inbox 解析后首次投递延迟，默认 2s
	BaseDelay      string  `mapstructure:"base_delay"`      // 重试退避基数，默认 10s
	MaxAttempts    int     `mapstructure:"max_attempts"`    // 重试上限，<=0 默认 10
	RequestTimeout string  `mapstructure:"request_timeout"` // 出站 HTTP 超时，默认 30s
	CacheTTL       string  `mapstructure:"cache_ttl"`       // 远端文档缓存 TTL，默认 5m
	DispatchQueue  int     `mapstructure:"dispatch_queue"`  // 入站分发队列长度，<=0 默认 1024
	InboxRate      float64 `mapstructure:"inbox_rate"`      // inbox 限流 QPS，<=0 不限流
	InboxBurst     int     `mapstructure:"inbox_burst"`
}

// SentryConfig Sentry 配置
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Production 是否运行于生产模式（影响出站 URL 公网校验）
func (c *Config) Production() bool { return c.Server.Mode == "release" }

// Duration 解析配置中的时间段字符串，非法或为空时返回默认值
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Load 读取 config.yaml 与 FEDRELAY_* 环境变量
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FEDRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("federation.workers", 2)
	v.SetDefault("federation.max_attempts", 10)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		// 允许无配置文件，全部走默认值与环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Federation.Origin != "" && cfg.Federation.Domain == "" {
		return nil, fmt.Errorf("federation.domain is required when federation.origin is set")
	}
	return &cfg, nil
}
