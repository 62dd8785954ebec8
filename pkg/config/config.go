package config

import (
	"os"
	"strconv"
	"time"
)

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	// SlowQuery 慢查询阈值，例如 "100ms"
	SlowQuery string `yaml:"slow_query"`
}

// MQConfig 消息队列配置，URL 为空时不启用 outbox 发布
type MQConfig struct {
	URL            string `yaml:"url"`
	OutboxInterval string `yaml:"outbox_interval"`
	OutboxBatch    int    `yaml:"outbox_batch"`
	OutboxRetries  int    `yaml:"outbox_retries"`
}

// RedisConfig Redis配置，Addr 为空时不启用幂等去重
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	IdempotencyTTL string `yaml:"idempotency_ttl"`
}

// AuthConfig 鉴权配置，JWTSecret 为空时接口不鉴权
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port               string `yaml:"port"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	ShutdownTimeout    string `yaml:"shutdown_timeout"`
}

// GatewayConfig 推送网关配置
type GatewayConfig struct {
	// Driver: legacy | firebase
	Driver          string `yaml:"driver"`
	Endpoint        string `yaml:"endpoint"`
	ServerKey       string `yaml:"server_key"`
	CredentialsFile string `yaml:"credentials_file"`
	Timeout         string `yaml:"timeout"`
	TTL             string `yaml:"ttl"`
	Icon            string `yaml:"icon"`
	Badge           string `yaml:"badge"`
}

// DispatchConfig 派发重试配置
type DispatchConfig struct {
	RetryMax   int    `yaml:"retry_max"`
	RetryDelay string `yaml:"retry_delay"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Config is the full service configuration, injected into each component at construction.
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	DB       DBConfig       `yaml:"db"`
	MQ       MQConfig       `yaml:"mq"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Otel     OtelConfig     `yaml:"otel"`
}

// Duration parses a YAML duration string, falling back to def when empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
	if mode := os.Getenv("DB_SSLMODE"); mode != "" {
		cfg.SSLMode = mode
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideAuthFromEnv 从环境变量覆盖鉴权配置
func OverrideAuthFromEnv(cfg *AuthConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideGatewayFromEnv 从环境变量覆盖推送网关配置
func OverrideGatewayFromEnv(cfg *GatewayConfig) {
	if key := os.Getenv("FCM_SERVER_KEY"); key != "" {
		cfg.ServerKey = key
	}
	if file := os.Getenv("FCM_CREDENTIALS_FILE"); file != "" {
		cfg.CredentialsFile = file
	}
	if driver := os.Getenv("FCM_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
}
