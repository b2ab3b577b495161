package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	// MySQL配置
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置（可选，不配置时云存储降级为不可用）
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// 语音转写服务配置（可选，不配置时跳过转写）
	STTAPIURL  string
	STTAPIKey  string
	STTTimeout time.Duration
	STTPacing  time.Duration // 批量转写时每首歌之间的间隔

	JWTSecret string

	// 上传与播放限制
	MaxInlineAudioBytes int64         // 内联音频的最大字节数
	MaxChunkBytes       int64         // 单个分片的最大字节数
	SessionTTL          time.Duration // 分片上传会话的存活时间
	SessionSweepEvery   time.Duration // 过期会话清理周期
	StreamURLTTL        time.Duration // 签名播放URL的有效期
	PresignBatchMax     int           // 批量预签名的最大数量

	LogPath string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "voxfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "voxfm"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		STTAPIURL:  getEnv("STT_API_URL", ""),
		STTAPIKey:  getEnv("STT_API_KEY", ""),
		STTTimeout: time.Duration(getEnvInt("STT_TIMEOUT_SEC", 120)) * time.Second,
		STTPacing:  time.Duration(getEnvInt("TRANSCRIBE_PACING_MS", 2000)) * time.Millisecond,
		JWTSecret:  getEnv("JWT_SECRET", "voxfm-dev-secret"),

		MaxInlineAudioBytes: int64(getEnvInt("MAX_INLINE_AUDIO_MB", 50)) << 20,
		MaxChunkBytes:       int64(getEnvInt("MAX_CHUNK_MB", 10)) << 20,
		SessionTTL:          time.Duration(getEnvInt("UPLOAD_SESSION_TTL_MIN", 30)) * time.Minute,
		SessionSweepEvery:   time.Duration(getEnvInt("SESSION_SWEEP_INTERVAL_MIN", 5)) * time.Minute,
		StreamURLTTL:        time.Duration(getEnvInt("STREAM_URL_TTL_MIN", 15)) * time.Minute,
		PresignBatchMax:     getEnvInt("PRESIGN_BATCH_MAX", 20),

		LogPath: getEnv("LOG_PATH", ""),
	}
}

// CloudConfigured reports whether the MinIO backend has enough configuration to be used.
func (c *Config) CloudConfigured() bool {
	return c.MinioEndpoint != "" && c.MinioAccessKey != "" && c.MinioSecretKey != ""
}

// STTConfigured reports whether a speech-to-text provider is configured.
func (c *Config) STTConfigured() bool {
	return c.STTAPIURL != ""
}
