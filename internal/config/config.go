package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string
	AllowedOrigin string
	ServerBaseURL string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DeviceID       string
	DeviceSecret   string
	ManagerPINHash string

	ProbeInterval   time.Duration
	SlowThreshold   time.Duration
	SettleDelay     time.Duration
	SyncInterval    time.Duration
	CatalogInterval time.Duration
	HTTPTimeout     time.Duration
	MaxSyncAttempts int
}

// Load reads configuration from the environment (optionally from an agent.yaml
// next to the binary), with defaults matching a single-terminal deployment.
func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "7070")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("server_base_url", "http://127.0.0.1:8080/api/v1")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("device_id", "terminal-1")
	v.SetDefault("device_secret", "")
	v.SetDefault("manager_pin_hash", "")
	v.SetDefault("probe_interval", "30s")
	v.SetDefault("slow_threshold", "3s")
	v.SetDefault("settle_delay", "1s")
	v.SetDefault("sync_interval", "5m")
	v.SetDefault("catalog_interval", "6h")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("max_sync_attempts", 8)

	v.SetConfigName("agent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	// Config file is optional; env vars and defaults cover the common case.
	_ = v.ReadInConfig()

	return Config{
		Port:            v.GetString("port"),
		AllowedOrigin:   v.GetString("allowed_origin"),
		ServerBaseURL:   strings.TrimRight(v.GetString("server_base_url"), "/"),
		DatabaseURL:     v.GetString("database_url"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		DeviceID:        v.GetString("device_id"),
		DeviceSecret:    v.GetString("device_secret"),
		ManagerPINHash:  v.GetString("manager_pin_hash"),
		ProbeInterval:   durationOr(v, "probe_interval", 30*time.Second),
		SlowThreshold:   durationOr(v, "slow_threshold", 3*time.Second),
		SettleDelay:     durationOr(v, "settle_delay", time.Second),
		SyncInterval:    durationOr(v, "sync_interval", 5*time.Minute),
		CatalogInterval: durationOr(v, "catalog_interval", 6*time.Hour),
		HTTPTimeout:     durationOr(v, "http_timeout", 10*time.Second),
		MaxSyncAttempts: v.GetInt("max_sync_attempts"),
	}
}

func durationOr(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d := v.GetDuration(key)
	if d <= 0 {
		return fallback
	}
	return d
}

func (c Config) Address() string {
	return fmt.Sprintf("127.0.0.1:%s", c.Port)
}
