// Package config loads process configuration from the environment,
// following the teacher's os.Getenv-plus-default convention rather
// than a config-file framework (the pack carries no config-file
// library for any example repo to ground one on).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable named in spec §6.
type Config struct {
	QueueWarningThreshold  int
	QueueCriticalThreshold int
	QueueRecoveryThreshold int
	EnableBackpressure     bool
	DefaultEventPriority   int
	WorkerConcurrency      int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	DataCollectionTimeout time.Duration
	RuleChainTimeout      time.Duration
	WorkerTimeout         time.Duration
	ExternalActionTimeout time.Duration

	IndexCacheTTL     time.Duration
	CollectorCacheTTL time.Duration
	CollectorCacheCap int

	CircuitBreakerThreshold    int
	CircuitBreakerRecovery     time.Duration
	AutoSyncInterval           time.Duration
	QueueName                  string
}

// Load reads Config from the environment, applying spec defaults for
// anything unset.
func Load() Config {
	return Config{
		QueueWarningThreshold:  getInt("QUEUE_WARNING_THRESHOLD", 10_000),
		QueueCriticalThreshold: getInt("QUEUE_CRITICAL_THRESHOLD", 50_000),
		QueueRecoveryThreshold: getInt("QUEUE_RECOVERY_THRESHOLD", 5_000),
		EnableBackpressure:     getBool("ENABLE_BACKPRESSURE", true),
		DefaultEventPriority:   getInt("DEFAULT_EVENT_PRIORITY", 5),
		WorkerConcurrency:      getInt("RULE_ENGINE_WORKER_CONCURRENCY", 20),

		RedisAddr:     getStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getStr("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		PostgresDSN: getStr("POSTGRES_DSN", ""),

		DataCollectionTimeout: getDuration("DATA_COLLECTION_TIMEOUT", 2*time.Second),
		RuleChainTimeout:      getDuration("RULE_CHAIN_TIMEOUT", 5*time.Second),
		WorkerTimeout:         getDuration("WORKER_TIMEOUT", 30*time.Second),
		ExternalActionTimeout: getDuration("EXTERNAL_ACTION_TIMEOUT", 10*time.Second),

		IndexCacheTTL:     getDuration("INDEX_CACHE_TTL", 3600*time.Second),
		CollectorCacheTTL: getDuration("COLLECTOR_CACHE_TTL", 5*time.Second),
		CollectorCacheCap: getInt("COLLECTOR_CACHE_CAPACITY", 10_000),

		CircuitBreakerThreshold: getInt("RULE_CHAIN_CIRCUIT_THRESHOLD", 5),
		CircuitBreakerRecovery:  getDuration("RULE_CHAIN_CIRCUIT_RECOVERY", 60*time.Second),
		AutoSyncInterval:        getDuration("SCHEDULE_AUTOSYNC_INTERVAL", 2*time.Minute),
		QueueName:               getStr("QUEUE_NAME", "rule-engine-events"),
	}
}

func getStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}
