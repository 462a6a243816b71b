package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StorageDriverLocal = "local"
	StorageDriverMinIO = "minio"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	OAuth         OAuthConfig
	CORS          CORSConfig
	Log           LogConfig
	Storage       StorageConfig
	Notifications NotificationsConfig
	Mail          MailConfig
	GradeBoard    GradeBoardConfig
	Classes       ClassesConfig
}

type DatabaseConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MaxOpenConns  int
	MaxIdleConns  int
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
	ResetSecret       string
	ResetExpiration   time.Duration
	Issuer            string
}

// OAuthConfig carries third-party sign-in settings.
type OAuthConfig struct {
	GoogleClientID string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig selects the object store backing uploaded files.
type StorageConfig struct {
	Driver           string
	LocalDir         string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIORegion    string
	MinIOUseSSL    bool
}

// NotificationsConfig tunes the asynchronous notification pipeline.
type NotificationsConfig struct {
	Workers          int
	BufferSize       int
	MaxRetries       int
	RetryDelay       time.Duration
	RabbitMQURL      string
	RabbitMQExchange string
}

// MailConfig configures outbound e-mail.
type MailConfig struct {
	SendgridAPIKey string
	FromAddress    string
	FromName       string
	ClientURL      string
}

// GradeBoardConfig controls grade board caching.
type GradeBoardConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ClassesConfig holds class membership tunables.
type ClassesConfig struct {
	JoinCodeLength int
	InviteTTL      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:          v.GetString("DB_HOST"),
		Port:          v.GetInt("DB_PORT"),
		User:          v.GetString("DB_USER"),
		Password:      v.GetString("DB_PASSWORD"),
		Name:          v.GetString("DB_NAME"),
		SSLMode:       v.GetString("DB_SSL_MODE"),
		MaxOpenConns:  v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:  v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:   v.GetBool("DB_AUTO_MIGRATE"),
		MigrationsDir: v.GetString("DB_MIGRATIONS_DIR"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		ResetSecret:       v.GetString("JWT_RESET_SECRET"),
		ResetExpiration:   parseDuration(v.GetString("JWT_RESET_EXPIRATION"), 15*time.Minute),
		Issuer:            v.GetString("JWT_ISSUER"),
	}

	cfg.OAuth = OAuthConfig{GoogleClientID: v.GetString("GOOGLE_CLIENT_ID")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxUpload := v.GetInt64("STORAGE_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Driver:           strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:         v.GetString("STORAGE_LOCAL_DIR"),
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), time.Hour),
		MaxFileSizeBytes: maxUpload,
		AllowedMIMEs:     splitAndTrim(v.GetString("STORAGE_ALLOWED_MIME_TYPES")),
		MinIOEndpoint:    v.GetString("MINIO_ENDPOINT"),
		MinIOAccessKey:   v.GetString("MINIO_ACCESS_KEY"),
		MinIOSecretKey:   v.GetString("MINIO_SECRET_KEY"),
		MinIOBucket:      v.GetString("MINIO_BUCKET"),
		MinIORegion:      v.GetString("MINIO_REGION"),
		MinIOUseSSL:      v.GetBool("MINIO_USE_SSL"),
	}

	cfg.Notifications = NotificationsConfig{
		Workers:          v.GetInt("NOTIFICATIONS_WORKERS"),
		BufferSize:       v.GetInt("NOTIFICATIONS_BUFFER"),
		MaxRetries:       v.GetInt("NOTIFICATIONS_MAX_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("NOTIFICATIONS_RETRY_DELAY"), 2*time.Second),
		RabbitMQURL:      v.GetString("RABBITMQ_URL"),
		RabbitMQExchange: v.GetString("RABBITMQ_EXCHANGE"),
	}

	cfg.Mail = MailConfig{
		SendgridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromAddress:    v.GetString("MAIL_FROM_ADDRESS"),
		FromName:       v.GetString("MAIL_FROM_NAME"),
		ClientURL:      strings.TrimRight(v.GetString("CLIENT_URL"), "/"),
	}

	cfg.GradeBoard = GradeBoardConfig{
		CacheEnabled: v.GetBool("GRADE_BOARD_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("GRADE_BOARD_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Classes = ClassesConfig{
		JoinCodeLength: v.GetInt("CLASS_JOIN_CODE_LENGTH"),
		InviteTTL:      parseDuration(v.GetString("CLASS_INVITE_TTL"), 7*24*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "gradebook")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("DB_MIGRATIONS_DIR", "")

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_RESET_SECRET", "dev_reset_secret")
	v.SetDefault("JWT_RESET_EXPIRATION", "15m")
	v.SetDefault("JWT_ISSUER", "gradebook-api")
	v.SetDefault("GOOGLE_CLIENT_ID", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "1h")
	v.SetDefault("STORAGE_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("STORAGE_ALLOWED_MIME_TYPES", "image/png,image/jpeg,image/webp,image/gif")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "gradebook")
	v.SetDefault("MINIO_REGION", "us-east-1")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("NOTIFICATIONS_WORKERS", 2)
	v.SetDefault("NOTIFICATIONS_BUFFER", 256)
	v.SetDefault("NOTIFICATIONS_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATIONS_RETRY_DELAY", "2s")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "gradebook.notifications")

	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("MAIL_FROM_ADDRESS", "no-reply@gradebook.local")
	v.SetDefault("MAIL_FROM_NAME", "Gradebook")
	v.SetDefault("CLIENT_URL", "http://localhost:3000")

	v.SetDefault("GRADE_BOARD_CACHE_ENABLED", true)
	v.SetDefault("GRADE_BOARD_CACHE_TTL", "5m")

	v.SetDefault("CLASS_JOIN_CODE_LENGTH", 6)
	v.SetDefault("CLASS_INVITE_TTL", "168h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
