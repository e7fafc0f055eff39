package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv            string
	AppName           string
	AppPort           string
	MetricsPort       string
	LogLevel          string
	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int
	GroupPrefix       string
	SendBufferSize    int
	SessionLookups    int           // max concurrent session-store lookups
	SessionTimeout    time.Duration // per-lookup timeout
	IdleTimeout       time.Duration // close connections silent for longer than this
	AllowedOrigins    []string      // empty means any origin
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		AppPort:       os.Getenv("APP_PORT"),
		MetricsPort:   os.Getenv("METRICS_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		GroupPrefix:   os.Getenv("GROUP_PREFIX"),
	}
	if cfg.AppName == "" {
		cfg.AppName = "realtime"
	}
	if cfg.AppPort == "" {
		cfg.AppPort = "8080"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = "tracker"
	}
	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.RedisDB, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		cfg.RedisPoolSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_POOL_SIZE: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MIN_IDLE_CONNS"); v != "" {
		cfg.RedisMinIdleConns, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MIN_IDLE_CONNS: %w", err)
		}
	}
	if v := os.Getenv("REDIS_MAX_RETRIES"); v != "" {
		cfg.RedisMaxRetries, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_MAX_RETRIES: %w", err)
		}
	}
	cfg.SendBufferSize = 32
	if v := os.Getenv("WS_SEND_BUFFER"); v != "" {
		cfg.SendBufferSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_SEND_BUFFER: %w", err)
		}
	}
	cfg.SessionLookups = 64
	if v := os.Getenv("SESSION_LOOKUP_CONCURRENCY"); v != "" {
		cfg.SessionLookups, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_LOOKUP_CONCURRENCY: %w", err)
		}
	}
	cfg.SessionTimeout = 3 * time.Second
	if v := os.Getenv("SESSION_LOOKUP_TIMEOUT"); v != "" {
		cfg.SessionTimeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_LOOKUP_TIMEOUT: %w", err)
		}
	}
	cfg.IdleTimeout = 90 * time.Second
	if v := os.Getenv("WS_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WS_IDLE_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("WS_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}
