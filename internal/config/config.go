package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/geoview-microservice/internal/pkg/validator"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Log      LogConfig
	Records  RecordsConfig
	Viewport ViewportConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Host        string
	Port        int `validate:"gte=0,lte=65535"`
	Env         string
	CORSOrigins string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	RecordsCacheTTL time.Duration
}

type LogConfig struct {
	Level string
}

// RecordsConfig - внешний REST endpoint списка записей, который опрашивают сессии карты
type RecordsConfig struct {
	BaseURL        string `validate:"required,url"`
	Path           string `validate:"required,startswith=/"`
	APIToken       string
	PerPage        int           `validate:"gt=0,lte=500"`
	RequestTimeout time.Duration `validate:"gt=0"`
	RateLimit      float64       `validate:"gt=0"`
	// PolygonPageSize - размер страницы ответа на запрос с within_polygon
	PolygonPageSize int `validate:"gt=0"`
}

// ViewportConfig - параметры debounce и регион по умолчанию
type ViewportConfig struct {
	SettleDuration  time.Duration `validate:"gt=0"`
	FetchTimeout    time.Duration `validate:"gt=0"`
	KeyPrecision    int           `validate:"gte=-1,lte=15"`
	DefaultLat      float64       `validate:"gte=-90,lte=90"`
	DefaultLng      float64       `validate:"gte=-180,lte=180"`
	DefaultLatDelta float64       `validate:"gt=0"`
	DefaultLngDelta float64       `validate:"gt=0"`
	TapRadiusPx     float64       `validate:"gt=0"`
	// размер экрана, под который строится проекция до первого viewport клиента
	DefaultWidth  int `validate:"gt=0"`
	DefaultHeight int `validate:"gt=0"`
}

type WorkerConfig struct {
	Enabled        bool
	ConsumerGroup  string
	SessionIdleTTL time.Duration `validate:"gt=0"`
	MaxRetries     int
}

type MetricsConfig struct {
	Enabled bool
}

// Load читает конфигурацию из .env (если файл есть) и переменных окружения
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom читает конфигурацию из указанного env-файла и переменных окружения.
// Отсутствующий файл не является ошибкой: значения берутся из окружения и значений по умолчанию.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        v.GetString("API_HOST"),
			Port:        v.GetInt("API_PORT"),
			Env:         v.GetString("API_ENV"),
			CORSOrigins: v.GetString("API_CORS_ORIGINS"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			DBName:          v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxConns:        v.GetInt("DB_MAX_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: time.Duration(v.GetInt("DB_CONN_MAX_LIFETIME")) * time.Second,
			ConnMaxIdleTime: time.Duration(v.GetInt("DB_CONN_MAX_IDLE_TIME")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Cache: CacheConfig{
			RecordsCacheTTL: time.Duration(v.GetInt("RECORDS_CACHE_TTL")) * time.Second,
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Records: RecordsConfig{
			BaseURL:         strings.TrimRight(v.GetString("RECORDS_BASE_URL"), "/"),
			Path:            v.GetString("RECORDS_PATH"),
			APIToken:        v.GetString("RECORDS_API_TOKEN"),
			PerPage:         v.GetInt("RECORDS_PER_PAGE"),
			RequestTimeout:  time.Duration(v.GetInt("RECORDS_REQUEST_TIMEOUT")) * time.Second,
			RateLimit:       v.GetFloat64("RECORDS_RATE_LIMIT"),
			PolygonPageSize: v.GetInt("RECORDS_POLYGON_PAGE_SIZE"),
		},
		Viewport: ViewportConfig{
			SettleDuration:  time.Duration(v.GetInt("VIEWPORT_SETTLE_MS")) * time.Millisecond,
			FetchTimeout:    time.Duration(v.GetInt("VIEWPORT_FETCH_TIMEOUT")) * time.Second,
			KeyPrecision:    v.GetInt("VIEWPORT_KEY_PRECISION"),
			DefaultLat:      v.GetFloat64("VIEWPORT_DEFAULT_LAT"),
			DefaultLng:      v.GetFloat64("VIEWPORT_DEFAULT_LNG"),
			DefaultLatDelta: v.GetFloat64("VIEWPORT_DEFAULT_LAT_DELTA"),
			DefaultLngDelta: v.GetFloat64("VIEWPORT_DEFAULT_LNG_DELTA"),
			TapRadiusPx:     v.GetFloat64("VIEWPORT_TAP_RADIUS_PX"),
			DefaultWidth:    v.GetInt("VIEWPORT_DEFAULT_WIDTH"),
			DefaultHeight:   v.GetInt("VIEWPORT_DEFAULT_HEIGHT"),
		},
		Worker: WorkerConfig{
			Enabled:        v.GetBool("WORKER_ENABLED"),
			ConsumerGroup:  v.GetString("WORKER_CONSUMER_GROUP"),
			SessionIdleTTL: time.Duration(v.GetInt("WORKER_SESSION_IDLE_TTL")) * time.Second,
			MaxRetries:     v.GetInt("WORKER_MAX_RETRIES"),
		},
		Metrics: MetricsConfig{
			Enabled: !v.IsSet("METRICS_ENABLED") || v.GetBool("METRICS_ENABLED"),
		},
	}

	applyDefaults(cfg, v)

	if err := validator.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Set default values if not provided
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.CORSOrigins == "" {
		cfg.Server.CORSOrigins = "http://localhost:3000,http://localhost:5173"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Cache.RecordsCacheTTL == 0 {
		cfg.Cache.RecordsCacheTTL = 30 * time.Second
	}

	if cfg.Records.BaseURL == "" {
		cfg.Records.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}
	if cfg.Records.Path == "" {
		cfg.Records.Path = "/api/v1/customers"
	}
	if cfg.Records.PerPage == 0 {
		cfg.Records.PerPage = 500
	}
	if cfg.Records.RequestTimeout == 0 {
		cfg.Records.RequestTimeout = 15 * time.Second
	}
	if cfg.Records.RateLimit == 0 {
		cfg.Records.RateLimit = 10
	}
	if cfg.Records.PolygonPageSize == 0 {
		cfg.Records.PolygonPageSize = 10000
	}

	if cfg.Viewport.SettleDuration == 0 {
		cfg.Viewport.SettleDuration = 200 * time.Millisecond
	}
	if cfg.Viewport.FetchTimeout == 0 {
		cfg.Viewport.FetchTimeout = 15 * time.Second
	}
	if !v.IsSet("VIEWPORT_KEY_PRECISION") {
		cfg.Viewport.KeyPrecision = 6
	}
	if !v.IsSet("VIEWPORT_DEFAULT_LAT") && !v.IsSet("VIEWPORT_DEFAULT_LNG") {
		cfg.Viewport.DefaultLat = 40.7128
		cfg.Viewport.DefaultLng = -74.0060
	}
	if cfg.Viewport.DefaultLatDelta == 0 {
		cfg.Viewport.DefaultLatDelta = 0.0922
	}
	if cfg.Viewport.DefaultLngDelta == 0 {
		cfg.Viewport.DefaultLngDelta = 0.0421
	}
	if cfg.Viewport.TapRadiusPx == 0 {
		cfg.Viewport.TapRadiusPx = 24
	}
	if cfg.Viewport.DefaultWidth == 0 {
		cfg.Viewport.DefaultWidth = 1024
	}
	if cfg.Viewport.DefaultHeight == 0 {
		cfg.Viewport.DefaultHeight = 768
	}

	if cfg.Worker.ConsumerGroup == "" {
		cfg.Worker.ConsumerGroup = "geoview-viewport-workers"
	}
	if cfg.Worker.SessionIdleTTL == 0 {
		cfg.Worker.SessionIdleTTL = 10 * time.Minute
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
}

func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
