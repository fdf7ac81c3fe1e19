package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Dispatch DispatchConfig
	Sweep    SweepConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type GatewayConfig struct {
	BaseURL     string
	CallbackURL string
}

type DispatchConfig struct {
	BatchSize    int
	DelayMin     time.Duration
	DelayMax     time.Duration
	QRMaxRetries int
}

type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Gateway: GatewayConfig{
			BaseURL:     mustEnv("GATEWAY_URL"),
			CallbackURL: mustEnv("GATEWAY_CALLBACK_URL"),
		},
		Dispatch: DispatchConfig{
			BatchSize:    getEnvInt("DISPATCH_BATCH_SIZE", 50),
			DelayMin:     time.Duration(getEnvInt("DISPATCH_DELAY_MIN_SECONDS", 3)) * time.Second,
			DelayMax:     time.Duration(getEnvInt("DISPATCH_DELAY_MAX_SECONDS", 8)) * time.Second,
			QRMaxRetries: getEnvInt("QR_MAX_RETRIES", 3),
		},
		Sweep: SweepConfig{
			Enabled:  getEnv("SWEEP_ENABLED", "true") == "true",
			Interval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 120)) * time.Second,
		},
		Redis: loadRedisConfig(),
	}

	validate(cfg)
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		TTL:      time.Duration(getEnvInt("REDIS_TTL_SECONDS", 30)) * time.Second,
	}
}

func validate(cfg *Config) {
	if cfg.Dispatch.BatchSize <= 0 {
		panic("DISPATCH_BATCH_SIZE must be > 0")
	}
	if cfg.Dispatch.DelayMin < 0 {
		panic("DISPATCH_DELAY_MIN_SECONDS must be >= 0")
	}
	if cfg.Dispatch.DelayMax < cfg.Dispatch.DelayMin {
		panic("DISPATCH_DELAY_MAX_SECONDS must be >= DISPATCH_DELAY_MIN_SECONDS")
	}
	if cfg.Dispatch.QRMaxRetries <= 0 {
		panic("QR_MAX_RETRIES must be > 0")
	}
	if cfg.Sweep.Enabled && cfg.Sweep.Interval <= 0 {
		panic("SWEEP_INTERVAL_SECONDS must be > 0")
	}
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}
