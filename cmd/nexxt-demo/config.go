// Package main wires a small two-filter graph (a Redis stream source and
// an MQTT sink) into a Lifecycle Controller and runs it until a shutdown
// signal arrives.
package main

import (
	"os"
	"strconv"
	"time"

	"github.com/ifm/nexxT/internal/nxlog"
)

// Config holds the demo binary's settings.
type Config struct {
	LogLevel  string
	LogFormat string

	RedisAddresses []string
	RedisStream    string
	RedisGroup     string

	MQTTBrokers []string
	MQTTTopic   string
	MQTTClientID string

	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		RedisAddresses:  []string{"localhost:6379"},
		RedisStream:     "nexxt-demo-stream",
		RedisGroup:      "nexxt-demo-group",
		MQTTBrokers:     []string{"tcp://localhost:1883"},
		MQTTTopic:       "nexxt-demo/out",
		MQTTClientID:    "nexxt-demo",
		ShutdownTimeout: 10 * time.Second,
	}
}

// loadConfig applies environment-variable overrides on top of the
// defaults. This demo takes no CLI flags.
func loadConfig() Config {
	cfg := defaultConfig()

	if v := os.Getenv("NEXXT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("NEXXT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("NEXXT_REDIS_ADDRESSES"); v != "" {
		cfg.RedisAddresses = splitCSV(v)
	}
	if v := os.Getenv("NEXXT_REDIS_STREAM"); v != "" {
		cfg.RedisStream = v
	}
	if v := os.Getenv("NEXXT_REDIS_GROUP"); v != "" {
		cfg.RedisGroup = v
	}
	if v := os.Getenv("NEXXT_MQTT_BROKERS"); v != "" {
		cfg.MQTTBrokers = splitCSV(v)
	}
	if v := os.Getenv("NEXXT_MQTT_TOPIC"); v != "" {
		cfg.MQTTTopic = v
	}
	if v := os.Getenv("NEXXT_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTTClientID = v
	}
	if v := os.Getenv("NEXXT_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ShutdownTimeout = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func splitCSV(v string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func newLogger(cfg Config) (nxlog.Logger, error) {
	return nxlog.NewLogrusLogger(cfg.LogLevel, cfg.LogFormat)
}
