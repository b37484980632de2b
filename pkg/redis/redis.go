package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func Connect(ctx context.Context, config Config, log *slog.Logger) (*redis.Client, error) {
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
		IdleTimeout:  5 * time.Minute,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	info, err := client.Info(pingCtx, "server").Result()
	if err != nil {
		log.Warn("failed to get redis info", "error", err)
	} else {
		log.Info("redis connected", "addr", config.Addr(), "version", parseInfo(info)["redis_version"])
	}

	return client, nil
}

var statKeys = []string{
	"redis_version",
	"connected_clients",
	"used_memory_human",
	"used_memory_peak_human",
	"total_connections_received",
	"total_commands_processed",
	"keyspace_hits",
	"keyspace_misses",
	"uptime_in_seconds",
}

// GetStats returns a subset of INFO fields.
func GetStats(ctx context.Context, client *redis.Client) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	info, err := client.Info(ctx).Result()
	if err != nil {
		return nil, err
	}

	all := parseInfo(info)
	stats := make(map[string]string, len(statKeys))
	for _, key := range statKeys {
		if v, ok := all[key]; ok {
			stats[key] = v
		}
	}
	return stats, nil
}

func parseInfo(info string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		if key, value, found := strings.Cut(line, ":"); found {
			out[key] = value
		}
	}
	return out
}

// HitRate is keyspace_hits / (hits + misses), or 0 with no lookups yet.
func HitRate(stats map[string]string) float64 {
	hits := ParseInt(stats["keyspace_hits"])
	misses := ParseInt(stats["keyspace_misses"])
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func ParseInt(s string) int {
	val, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return val
}
