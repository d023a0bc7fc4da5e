package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DbConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type RedisConfig struct {
	// URL is optional; an empty value disables the metadata cache.
	URL string
}

type GeoIPConfig struct {
	// Paths are optional; empty values disable geo enrichment.
	CityDBPath string
	ASNDBPath  string
}

type TelemetryConfig struct {
	// WriteTimeout bounds each fire-and-forget store write.
	WriteTimeout time.Duration
}

type Config struct {
	AppConfig       *AppConfig
	DbConfig        *DbConfig
	AuthConfig      *AuthConfig
	RedisConfig     *RedisConfig
	GeoIPConfig     *GeoIPConfig
	TelemetryConfig *TelemetryConfig
}

func LoadConfig(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// not fatal: container deployments inject real env vars
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	/** db config */
	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 10)
	if err != nil {
		return nil, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	maxConnLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	if err != nil {
		return nil, err
	}

	dbConfig := &DbConfig{
		DSN:             os.Getenv("POSTGRES_DSN"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		MaxConnLifetime: maxConnLifetime,
	}

	/** app config */
	readTimeout, err := envDuration("APP_READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := envDuration("APP_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := envDuration("APP_IDLE_TIMEOUT", time.Minute)
	if err != nil {
		return nil, err
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	appConfig := &AppConfig{
		Port:         port,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	/** auth config */
	authConfig := &AuthConfig{
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   os.Getenv("JWT_ISSUER"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),
	}

	/** telemetry config */
	telemetryTimeout, err := envDuration("TELEMETRY_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		AppConfig:  appConfig,
		DbConfig:   dbConfig,
		AuthConfig: authConfig,
		RedisConfig: &RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		GeoIPConfig: &GeoIPConfig{
			CityDBPath: os.Getenv("GEOIP_CITY_DB"),
			ASNDBPath:  os.Getenv("GEOIP_ASN_DB"),
		},
		TelemetryConfig: &TelemetryConfig{
			WriteTimeout: telemetryTimeout,
		},
	}, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}
