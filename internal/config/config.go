package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		Port        string
		Debug       bool
		Env         string
		LogLevel    slog.Level
		FrontendURL string
	}
	Remote struct {
		URL               string
		APIKey            string
		Table             string
		TemperatureColumn string
		HumidityColumn    string
		Limit             int
		Timeout           time.Duration
	}
	DB struct {
		Enabled    bool
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		DBName     string
		SSLMode    string
		SQLitePath string
		Retention  time.Duration
	}
	Redis struct {
		Enabled     bool
		Host        string
		Port        string
		Password    string
		DB          int
		SnapshotTTL time.Duration
	}
	Workers struct {
		PollEnabled   bool
		PollInterval  time.Duration
		PruneEnabled  bool
		PruneInterval time.Duration
	}
	RateLimit struct {
		RequestsPerSecond int
		Burst             int
		UpstreamPerSecond int
		UpstreamBurst     int
	}
	Report struct {
		Filename    string
		Title       string
		TimeFormat  string
		ClockFormat string
		Location    *time.Location
	}
	Publisher struct {
		Backend      string
		MQTTBroker   string
		MQTTClientID string
		MQTTTopic    string
		MQTTTimeout  time.Duration
		KafkaBrokers []string
		KafkaTopic   string
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// App
	cfg.App.Port = getEnv("PORT", "8080")
	cfg.App.Debug = getEnvAsBool("DEBUG", false)
	cfg.App.FrontendURL = getEnv("FRONTEND_URL", "http://localhost:3000")

	cfg.App.Env = getEnv("APP_ENV", "dev")
	switch cfg.App.Env {
	case "dev", "prod":
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.App.Env)
	}

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.App.LogLevel = level

	// Remote table
	cfg.Remote.URL = strings.TrimRight(getEnv("SUPABASE_URL", ""), "/")
	cfg.Remote.APIKey = getEnv("SUPABASE_ANON_KEY", "")
	cfg.Remote.Table = getEnv("READINGS_TABLE", "suhu")
	cfg.Remote.TemperatureColumn = getEnv("READINGS_TEMPERATURE_COLUMN", "suhu")
	cfg.Remote.HumidityColumn = getEnv("READINGS_HUMIDITY_COLUMN", "kelembapan")
	cfg.Remote.Limit = getEnvAsInt("READINGS_LIMIT", 10)
	cfg.Remote.Timeout = getEnvAsDuration("READINGS_TIMEOUT", 10*time.Second)
	if cfg.Remote.Limit < 1 || cfg.Remote.Limit > 1000 {
		return nil, fmt.Errorf("invalid READINGS_LIMIT %d (allowed: 1..1000)", cfg.Remote.Limit)
	}

	// DB
	cfg.DB.Enabled = getEnvAsBool("ARCHIVE_ENABLED", true)
	cfg.DB.Driver = getEnv("DB_DRIVER", "postgres")
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.DBName = getEnv("DB_NAME", "thermowatch")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", "./data/thermowatch.db")
	cfg.DB.Retention = getEnvAsDuration("ARCHIVE_RETENTION", 30*24*time.Hour)
	switch cfg.DB.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q (allowed: postgres, sqlite)", cfg.DB.Driver)
	}

	// Redis
	cfg.Redis.Enabled = getEnvAsBool("REDIS_ENABLED", true)
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnv("REDIS_PORT", "6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.Redis.SnapshotTTL = getEnvAsDuration("REDIS_SNAPSHOT_TTL", 10*time.Minute)

	// Workers
	cfg.Workers.PollEnabled = getEnvAsBool("POLL_ENABLED", true)
	cfg.Workers.PollInterval = getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second)
	cfg.Workers.PruneEnabled = getEnvAsBool("PRUNE_ENABLED", true)
	cfg.Workers.PruneInterval = getEnvAsDuration("WORKER_PRUNE_INTERVAL", time.Hour)
	if cfg.Workers.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid WORKER_POLL_INTERVAL %s (must be > 0)", cfg.Workers.PollInterval)
	}

	// Rate Limit
	cfg.RateLimit.RequestsPerSecond = getEnvAsInt("RATE_LIMIT_RPS", 10)
	cfg.RateLimit.Burst = getEnvAsInt("RATE_LIMIT_BURST", 20)
	cfg.RateLimit.UpstreamPerSecond = getEnvAsInt("RATE_LIMIT_UPSTREAM_RPS", 2)
	cfg.RateLimit.UpstreamBurst = getEnvAsInt("RATE_LIMIT_UPSTREAM_BURST", 5)

	// Report
	cfg.Report.Filename = getEnv("REPORT_FILENAME", "data-suhu-kelembapan.pdf")
	cfg.Report.Title = getEnv("REPORT_TITLE", "Data Suhu dan Kelembapan")
	cfg.Report.TimeFormat = getEnv("REPORT_TIME_FORMAT", "02/01/2006 15:04:05")
	cfg.Report.ClockFormat = getEnv("CLOCK_FORMAT", "15:04:05")
	tz := getEnv("REPORT_TIMEZONE", "Local")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE %q: %w", tz, err)
	}
	cfg.Report.Location = loc

	// Publisher
	cfg.Publisher.Backend = getEnv("PUBLISH_BACKEND", "none")
	cfg.Publisher.MQTTBroker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.Publisher.MQTTClientID = getEnv("MQTT_CLIENT_ID", "thermowatch")
	cfg.Publisher.MQTTTopic = getEnv("MQTT_TOPIC", "thermowatch/readings")
	cfg.Publisher.MQTTTimeout = getEnvAsDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second)
	cfg.Publisher.KafkaBrokers = getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"})
	cfg.Publisher.KafkaTopic = getEnv("KAFKA_TOPIC", "thermowatch.readings")
	switch cfg.Publisher.Backend {
	case "none", "mqtt", "kafka":
	default:
		return nil, fmt.Errorf("invalid PUBLISH_BACKEND %q (allowed: none, mqtt, kafka)", cfg.Publisher.Backend)
	}

	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
