package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var placeholderPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Load 加载完整配置：base.yaml -> <env>.yaml -> secrets.env 占位符 -> 环境变量覆盖
func Load(env string, configDir string) (*Config, error) {
	cfgMap, err := LoadConfig(env, configDir)
	if err != nil {
		return nil, err
	}

	// 转换为 Config 结构
	cfgData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(cfgData, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	OverrideDBFromEnv(&cfg.DB)
	OverrideMQFromEnv(&cfg.MQ)
	OverrideRedisFromEnv(&cfg.Redis)
	OverrideAuthFromEnv(&cfg.Auth)
	OverrideServerFromEnv(&cfg.Server)
	OverrideGatewayFromEnv(&cfg.Gateway)

	return cfg, nil
}

// Defaults returns the configuration used for keys absent from every YAML layer.
func Defaults() *Config {
	return &Config{
		App: AppConfig{Name: "signalpush", Env: "local", LogLevel: "info"},
		Server: ServerConfig{
			Port:            ":8080",
			ShutdownTimeout: "30s",
		},
		DB: DBConfig{
			Host:      "localhost",
			Port:      5432,
			User:      "postgres",
			Name:      "signalpush",
			SSLMode:   "disable",
			MaxConns:  10,
			SlowQuery: "100ms",
		},
		MQ:    MQConfig{OutboxInterval: "1s", OutboxBatch: 100, OutboxRetries: 5},
		Redis: RedisConfig{IdempotencyTTL: "24h"},
		Gateway: GatewayConfig{
			Driver:   "legacy",
			Endpoint: "https://fcm.googleapis.com/fcm/send",
			Timeout:  "5s",
			TTL:      "24h",
			Icon:     "/assets/images/icon.png",
			Badge:    "/assets/images/icon.png",
		},
		Dispatch: DispatchConfig{RetryDelay: "500ms"},
		Otel:     OtelConfig{Endpoint: "otel-collector:4317"},
	}
}

// LoadConfig 加载配置，支持多环境
// env: local, production, 或其他环境名称
// configDir: 配置文件目录，默认为 "config"
func LoadConfig(env string, configDir string) (map[string]interface{}, error) {
	if configDir == "" {
		configDir = "config"
	}

	// 1. 加载 base.yaml
	baseConfig, err := loadYAMLFile(filepath.Join(configDir, "base.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load base.yaml: %w", err)
	}

	// 2. 加载环境特定配置（如果存在）
	envConfig := make(map[string]interface{})
	if env != "" && env != "base" {
		envFile := filepath.Join(configDir, fmt.Sprintf("%s.yaml", env))
		if _, err := os.Stat(envFile); err == nil {
			envConfig, err = loadYAMLFile(envFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s.yaml: %w", env, err)
			}
		}
	}

	// 3. 合并配置（环境配置覆盖基础配置）
	merged := mergeMaps(baseConfig, envConfig)

	// 4. 加载 secrets.env（如果存在）
	secretsFile := filepath.Join(configDir, "secrets.env")
	if _, err := os.Stat(secretsFile); err == nil {
		secrets, err := godotenv.Read(secretsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets.env: %w", err)
		}
		// 用 secrets 替换配置中的占位符
		merged = substituteEnvVars(merged, secrets)
	}

	// 5. 剩余占位符用系统环境变量替换，未设置的置空
	merged = overrideFromSystemEnv(merged)

	return merged, nil
}

// loadYAMLFile 加载 YAML 文件
func loadYAMLFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return config, nil
}

// mergeMaps 合并两个 map，dst 会被 src 覆盖
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for k, v := range dst {
		result[k] = v
	}

	for k, v := range src {
		if dstMap, ok := result[k].(map[string]interface{}); ok {
			if srcMap, ok := v.(map[string]interface{}); ok {
				// 递归合并嵌套 map
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// substituteEnvVars 替换配置中的占位符 ${VAR_NAME}
func substituteEnvVars(config map[string]interface{}, env map[string]string) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range config {
		switch val := v.(type) {
		case string:
			result[k] = substituteString(val, env)
		case map[string]interface{}:
			result[k] = substituteEnvVars(val, env)
		default:
			result[k] = v
		}
	}
	return result
}

func substituteString(s string, env map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	result := s
	for key, value := range env {
		result = strings.ReplaceAll(result, fmt.Sprintf("${%s}", key), value)
	}
	return result
}

// overrideFromSystemEnv resolves placeholders left after secrets.env; unset variables become "".
func overrideFromSystemEnv(config map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for k, v := range config {
		switch val := v.(type) {
		case string:
			result[k] = placeholderPattern.ReplaceAllStringFunc(val, func(m string) string {
				return os.Getenv(m[2 : len(m)-1])
			})
		case map[string]interface{}:
			result[k] = overrideFromSystemEnv(val)
		default:
			result[k] = v
		}
	}
	return result
}

// GetEnv 获取环境变量，如果未设置则返回默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetConfigEnv 获取配置环境（从环境变量 CONFIG_ENV，默认为 local）
func GetConfigEnv() string {
	return GetEnv("CONFIG_ENV", "local")
}
