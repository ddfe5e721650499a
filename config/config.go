package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	HTTPAddr string

	UploadDir    string // Base directory for all uploads
	WorkspaceDir string // Per-track chunk workspaces: UploadDir/temp
	AudioDir     string // Assembled audio files: UploadDir/audio
	MaxChunkSize int64  // Parsed from MAX_CHUNK_SIZE, e.g. "16MB"
	FFprobePath  string // Empty disables the ffprobe fallback

	// LedgerDriver selects the upload ledger: "mysql" or "memory".
	LedgerDriver string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// LockBackend is "local" or "redis".
	LockBackend string
	LockTTL     time.Duration

	JWTSecret string
	JWTExpiry time.Duration

	// PublishBackend mirrors finished files to object storage: "", "minio" or "s3".
	PublishBackend string
	PublishPrefix  string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string // S3-compatible endpoint; empty means AWS
	S3AccessKey    string
	S3SecretKey    string

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
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

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvSize parses human readable sizes such as "16MB" or "512k".
func getEnvSize(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if size, err := units.RAMInBytes(value); err == nil && size > 0 {
			return size
		}
		log.Printf("Invalid %s=%q, using default %s", key, value, units.BytesSize(float64(fallback)))
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		UploadDir:    uploadBase,
		WorkspaceDir: getEnv("WORKSPACE_DIR", filepath.Join(uploadBase, "temp")),
		AudioDir:     getEnv("AUDIO_DIR", filepath.Join(uploadBase, "audio")),
		MaxChunkSize: getEnvSize("MAX_CHUNK_SIZE", 16*units.MiB),
		FFprobePath:  getEnv("FFPROBE_PATH", "ffprobe"),

		LedgerDriver: strings.ToLower(getEnv("LEDGER_DRIVER", "mysql")),
		DBHost:       getEnv("DB_HOST", "127.0.0.1"),
		DBPort:       getEnv("DB_PORT", "3306"),
		DBUser:       getEnv("DB_USER", "root"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBName:       getEnv("DB_NAME", "music"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", "local")),
		LockTTL:     getEnvDuration("LOCK_TTL", 2*time.Minute),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTExpiry: getEnvDuration("JWT_EXPIRY", 24*time.Hour),

		PublishBackend: strings.ToLower(getEnv("PUBLISH_BACKEND", "")),
		PublishPrefix:  getEnv("PUBLISH_PREFIX", "audio/"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "music"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", filepath.Join("logs", "server.log")),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
