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

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Lockout     LockoutConfig
	Auth        AuthConfig
	StatusCache StatusCacheConfig
	Retention   RetentionConfig
	Audit       AuditConfig
	CORS        CORSConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
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
	Issuer            string
	Audience          []string
}

// LockoutConfig holds the failed-login policy. Defaults are 3 attempts and a one hour window.
type LockoutConfig struct {
	Threshold int
	Window    time.Duration
}

// AuthConfig tunes the session issuance flows.
type AuthConfig struct {
	RegistrationStatus  string
	BcryptCost          int
	OperationTimeout    time.Duration
	SingleSession       bool
	RotateRefreshTokens bool
}

// StatusCacheConfig controls caching of account status lookups for protected routes.
type StatusCacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// RetentionConfig configures physical removal of dead refresh tokens.
type RetentionConfig struct {
	Enabled  bool
	Interval time.Duration
	Grace    time.Duration
}

// AuditConfig sizes the asynchronous audit writer.
type AuditConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		SQLitePath:   v.GetString("DB_SQLITE_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
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
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
		Issuer:            v.GetString("JWT_ISSUER"),
		Audience:          splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	threshold := v.GetInt("LOCKOUT_THRESHOLD")
	if threshold <= 0 {
		threshold = 3
	}
	cfg.Lockout = LockoutConfig{
		Threshold: threshold,
		Window:    parseDuration(v.GetString("LOCKOUT_WINDOW"), time.Hour),
	}

	cfg.Auth = AuthConfig{
		RegistrationStatus:  strings.ToUpper(v.GetString("AUTH_REGISTRATION_STATUS")),
		BcryptCost:          v.GetInt("AUTH_BCRYPT_COST"),
		OperationTimeout:    parseDuration(v.GetString("AUTH_OPERATION_TIMEOUT"), 5*time.Second),
		SingleSession:       v.GetBool("AUTH_SINGLE_SESSION"),
		RotateRefreshTokens: v.GetBool("AUTH_ROTATE_REFRESH_TOKENS"),
	}

	cfg.StatusCache = StatusCacheConfig{
		Enabled: v.GetBool("STATUS_CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("STATUS_CACHE_TTL"), 30*time.Second),
	}

	cfg.Retention = RetentionConfig{
		Enabled:  v.GetBool("RETENTION_ENABLED"),
		Interval: parseDuration(v.GetString("RETENTION_INTERVAL"), time.Hour),
		Grace:    parseDuration(v.GetString("RETENTION_GRACE"), 7*24*time.Hour),
	}

	cfg.Audit = AuditConfig{
		Workers:    v.GetInt("AUDIT_WORKERS"),
		BufferSize: v.GetInt("AUDIT_BUFFER_SIZE"),
		MaxRetries: v.GetInt("AUDIT_MAX_RETRIES"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "mediahub")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_SQLITE_PATH", "mediahub.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "1h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "mediahub-api")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("LOCKOUT_THRESHOLD", 3)
	v.SetDefault("LOCKOUT_WINDOW", "1h")

	v.SetDefault("AUTH_REGISTRATION_STATUS", "ACTIVE")
	v.SetDefault("AUTH_BCRYPT_COST", 10)
	v.SetDefault("AUTH_OPERATION_TIMEOUT", "5s")
	v.SetDefault("AUTH_SINGLE_SESSION", false)
	v.SetDefault("AUTH_ROTATE_REFRESH_TOKENS", false)

	v.SetDefault("STATUS_CACHE_ENABLED", false)
	v.SetDefault("STATUS_CACHE_TTL", "30s")

	v.SetDefault("RETENTION_ENABLED", false)
	v.SetDefault("RETENTION_INTERVAL", "1h")
	v.SetDefault("RETENTION_GRACE", "168h")

	v.SetDefault("AUDIT_WORKERS", 2)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
	v.SetDefault("AUDIT_MAX_RETRIES", 3)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
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
