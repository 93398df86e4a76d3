package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/city-weather-service/internal/models"
)

// Weather modes. In auto mode the provider is used when credentials are configured.
const (
	ModeAuto = "auto"
	ModeLive = "live"
	ModeMock = "mock"
)

// Cache backends.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	WeatherMode       string        `validate:"oneof=auto live mock"`
	WeatherAPIURL     string        `validate:"required,url"`
	WeatherAPITimeout time.Duration `validate:"gt=0"`
	BearerToken       string

	JWTKeyID          string
	JWTSubject        string        `validate:"required_with=JWTKeyID"`
	JWTPrivateKeyFile string        `validate:"required_with=JWTKeyID"`
	JWTTTL            time.Duration `validate:"gte=0"`

	RequestTimeout time.Duration `validate:"gt=0"`
	MaxCityLength  int           `validate:"gt=0"`

	CacheBackend          string        `validate:"oneof=in_memory memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	CacheMaxSize          int           `validate:"gt=0"`
	MemcachedAddrs        string        `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration `validate:"gt=0"`
	MemcachedMaxIdleConns int           `validate:"gt=0"`

	DefaultCity models.CityKey `validate:"required"`
	Timezone    string         `validate:"required"`
	Location    *time.Location `validate:"-"`

	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int           `validate:"gt=0"`
	CircuitBreakerSuccessThreshold int           `validate:"gt=0"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`

	WarmingEnabled  bool
	WarmingInterval time.Duration `validate:"gte=0"`

	AnalyticsEnabled bool

	DegradedWindow time.Duration `validate:"gt=0"`
	DegradedRatio  float64       `validate:"gt=0,lte=1"`

	ShutdownTimeout               time.Duration `validate:"gt=0"`
	ShutdownInFlightTimeout       time.Duration `validate:"gt=0"`
	ShutdownInFlightCheckInterval time.Duration `validate:"gt=0"`
}

// HasCredentials reports whether a static token or a JWT signing key is configured.
func (c *Config) HasCredentials() bool {
	return c.BearerToken != "" || c.JWTKeyID != ""
}

// UseMock reports whether lookups should bypass the provider entirely.
func (c *Config) UseMock() bool {
	switch c.WeatherMode {
	case ModeMock:
		return true
	case ModeLive:
		return false
	default:
		return !c.HasCredentials()
	}
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL       string `yaml:"url"`
		TimeoutMs int    `yaml:"timeout_ms"`
		Mode      string `yaml:"mode"`
	} `yaml:"weather_api"`

	Auth struct {
		JWTKeyID          string `yaml:"jwt_key_id"`
		JWTSubject        string `yaml:"jwt_subject"`
		JWTPrivateKeyFile string `yaml:"jwt_private_key_file"`
		JWTTTL            string `yaml:"jwt_ttl"`
	} `yaml:"auth"`

	Request struct {
		Timeout       string `yaml:"timeout"`
		MaxCityLength int    `yaml:"max_city_length"`
	} `yaml:"request"`

	Cache struct {
		Backend    string `yaml:"backend"`
		TTLSeconds int    `yaml:"ttl_seconds"`
		MaxSize    int    `yaml:"max_size"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	City struct {
		Default  string `yaml:"default"`
		Timezone string `yaml:"timezone"`
	} `yaml:"city"`

	Reliability struct {
		RateLimitRPS   *int `yaml:"rate_limit_rps"`
		RateLimitBurst *int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Warming struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warming"`

	Analytics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"analytics"`

	Health struct {
		DegradedWindow string  `yaml:"degraded_window"`
		DegradedRatio  float64 `yaml:"degraded_ratio"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	BearerToken string `yaml:"bearer_token"`
}

var validate = validator.New()

// Load reads .env, then config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// then applies environment overrides. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)

	cfg.BearerToken = strings.TrimSpace(os.Getenv("WEATHER_API_BEARER_TOKEN"))
	if cfg.BearerToken == "" {
		token, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.BearerToken = token
	}
	applyEnv(cfg)

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = orDefault(fc.Server.Port, "8080")

	cfg.WeatherAPIURL = orDefault(fc.WeatherAPI.URL, "https://devapi.qweather.com/v7")
	cfg.WeatherAPITimeout = 5 * time.Second
	if fc.WeatherAPI.TimeoutMs > 0 {
		cfg.WeatherAPITimeout = time.Duration(fc.WeatherAPI.TimeoutMs) * time.Millisecond
	}
	cfg.WeatherMode = orDefault(strings.ToLower(strings.TrimSpace(fc.WeatherAPI.Mode)), ModeAuto)

	cfg.JWTKeyID = strings.TrimSpace(fc.Auth.JWTKeyID)
	cfg.JWTSubject = strings.TrimSpace(fc.Auth.JWTSubject)
	cfg.JWTPrivateKeyFile = strings.TrimSpace(fc.Auth.JWTPrivateKeyFile)
	cfg.JWTTTL = parseDuration(fc.Auth.JWTTTL, 15*time.Minute)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 8*time.Second)
	cfg.MaxCityLength = fc.Request.MaxCityLength
	if cfg.MaxCityLength <= 0 {
		cfg.MaxCityLength = 64
	}

	cfg.CacheBackend = orDefault(strings.ToLower(strings.TrimSpace(fc.Cache.Backend)), BackendInMemory)
	cfg.CacheTTL = 600 * time.Second
	if fc.Cache.TTLSeconds > 0 {
		cfg.CacheTTL = time.Duration(fc.Cache.TTLSeconds) * time.Second
	}
	cfg.CacheMaxSize = fc.Cache.MaxSize
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = 100
	}
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.DefaultCity = models.CityKey(strings.ToLower(orDefault(strings.TrimSpace(fc.City.Default), string(models.Beijing))))
	cfg.Timezone = orDefault(strings.TrimSpace(fc.City.Timezone), "Asia/Shanghai")

	cfg.RateLimitRPS = 100
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	cfg.RateLimitBurst = 250
	if fc.Reliability.RateLimitBurst != nil {
		cfg.RateLimitBurst = *fc.Reliability.RateLimitBurst
	}

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.WarmingEnabled = true
	if fc.Warming.Enabled != nil {
		cfg.WarmingEnabled = *fc.Warming.Enabled
	}
	// Refresh about when entries expire.
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, cfg.CacheTTL)

	cfg.AnalyticsEnabled = fc.Analytics.Enabled

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, time.Minute)
	cfg.DegradedRatio = fc.Health.DegradedRatio
	if cfg.DegradedRatio <= 0 {
		cfg.DegradedRatio = 0.5
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)
	return cfg
}

func loadSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.BearerToken), nil
}

// applyEnv overrides file values with WEATHER_API_URL, WEATHER_MODE, CACHE_BACKEND
// and MEMCACHED_ADDRS when set.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_URL")); v != "" {
		cfg.WeatherAPIURL = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("WEATHER_MODE"))); v != "" {
		cfg.WeatherMode = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if cfg.CacheBackend == BackendMemcached && cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
}

// finalize validates struct tags, then checks what tags cannot express.
func finalize(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !cfg.DefaultCity.Valid() {
		return fmt.Errorf("invalid config: city.default %q is not a supported city", cfg.DefaultCity)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid config: city.timezone: %w", err)
	}
	cfg.Location = loc
	if cfg.WeatherMode == ModeLive && !cfg.HasCredentials() {
		return errors.New("invalid config: weather_api.mode live requires WEATHER_API_BEARER_TOKEN or auth.jwt_key_id")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
