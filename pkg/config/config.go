package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Log      LogConfig
	Redis    RedisConfig
	CORS     CORSConfig
	Identity IdentityConfig
	S3       S3Config
	Audit    AuditConfig
	Seed     SeedConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey     string // JWT密钥
	TokenDuration string // 令牌有效期，如 "24h"
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // Redis数据库编号
	Prefix   string // 键前缀
}

type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	ExposeHeaders    []string // 暴露的响应头
	AllowCredentials bool     // 是否允许携带凭证
	MaxAge           int      // 预检请求缓存时间（小时）
}

// IdentityConfig 身份锁定端点配置
type IdentityConfig struct {
	EndpointBaseURL      string        // 锁定/解锁端点地址
	ServiceKey           string        // 端点调用密钥（X-Service-Key）
	Timeout              time.Duration // 单次调用超时
	RetryCount           int           // 重试次数
	BreakerMaxRequests   uint32        // 半开状态允许的请求数
	BreakerInterval      time.Duration // 关闭状态统计周期
	BreakerTimeout       time.Duration // 打开状态持续时间
	BreakerFailureRatio  float64       // 触发熔断的失败率
	BreakerMinRequests   uint32        // 触发熔断的最少请求数
	InitialSecretMinSize int           // 初始密码最小长度
}

// S3Config 头像存储配置
type S3Config struct {
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	Endpoint      string // 兼容 S3 的自建存储地址，可为空
	PublicBaseURL string // 公开访问前缀，为空时读取头像时预签名
	PresignTTL    time.Duration
}

// AuditConfig 一致性巡检配置
type AuditConfig struct {
	Enabled bool
	Cron    string
}

// SeedConfig 初始超级运营账号
type SeedConfig struct {
	SuperOperatorEmail  string
	SuperOperatorSecret string
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为float
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为时长，解析失败时使用默认值
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	// .env 不存在时直接使用环境变量
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "campus_admin"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "12h"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "campusadmin"),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
		Identity: IdentityConfig{
			EndpointBaseURL:      getEnv("IDENTITY_ENDPOINT_URL", "http://localhost:8080"),
			ServiceKey:           getEnv("IDENTITY_SERVICE_KEY", "change-me-service-key"),
			Timeout:              getEnvAsDuration("IDENTITY_TIMEOUT", 10*time.Second),
			RetryCount:           getEnvAsInt("IDENTITY_RETRY_COUNT", 2),
			BreakerMaxRequests:   uint32(getEnvAsInt("IDENTITY_BREAKER_MAX_REQUESTS", 1)),
			BreakerInterval:      getEnvAsDuration("IDENTITY_BREAKER_INTERVAL", time.Minute),
			BreakerTimeout:       getEnvAsDuration("IDENTITY_BREAKER_TIMEOUT", 30*time.Second),
			BreakerFailureRatio:  getEnvAsFloat("IDENTITY_BREAKER_FAILURE_RATIO", 0.5),
			BreakerMinRequests:   uint32(getEnvAsInt("IDENTITY_BREAKER_MIN_REQUESTS", 5)),
			InitialSecretMinSize: getEnvAsInt("IDENTITY_INITIAL_SECRET_MIN", 8),
		},
		S3: S3Config{
			Region:        getEnv("S3_REGION", "ap-south-1"),
			Bucket:        getEnv("S3_BUCKET", ""),
			AccessKey:     getEnv("S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("S3_SECRET_KEY", ""),
			Endpoint:      getEnv("S3_ENDPOINT", ""),
			PublicBaseURL: getEnv("S3_PUBLIC_BASE_URL", ""),
			PresignTTL:    getEnvAsDuration("S3_PRESIGN_TTL", time.Hour),
		},
		Audit: AuditConfig{
			Enabled: getEnvAsBool("AUDIT_ENABLED", true),
			Cron:    getEnv("AUDIT_CRON", "@every 10m"),
		},
		Seed: SeedConfig{
			SuperOperatorEmail:  getEnv("SEED_SUPER_OPERATOR_EMAIL", "root@campusadmin.local"),
			SuperOperatorSecret: getEnv("SEED_SUPER_OPERATOR_SECRET", "ChangeMe@2024"),
		},
	}

	return config, nil
}
