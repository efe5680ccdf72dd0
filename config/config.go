// Package config loads runtime settings from the environment (with an
// optional .env file handled in main). Every knob has a default; an
// invalid value is fatal at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string
	Symbols    []string
	Venues     []string

	BroadcastCapacity int
	EgressThrottle    time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration

	DepthMax         int
	DisplayDepth     int
	TrimGrowthFactor int
	SnapshotDepth    int

	LatencyRingSize int
	MetricsInterval time.Duration

	ReconnectBackoff time.Duration
	ReadIdleTimeout  time.Duration

	PromAddr  string
	RedisAddr string
}

const maxDisplayDepth = 25

func defaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", "0.0.0.0:8080")
	v.SetDefault("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT")
	v.SetDefault("VENUES", "binance,bybit,coinbase,kraken")
	v.SetDefault("BROADCAST_CAPACITY", 4096)
	v.SetDefault("EGRESS_THROTTLE_MS", 1000)
	v.SetDefault("HEARTBEAT_INTERVAL_MS", 15000)
	v.SetDefault("WRITE_TIMEOUT_MS", 5000)
	v.SetDefault("DEPTH_MAX", 100)
	v.SetDefault("DISPLAY_DEPTH", 5)
	v.SetDefault("TRIM_GROWTH_FACTOR", 10)
	v.SetDefault("SNAPSHOT_DEPTH", 100)
	v.SetDefault("LATENCY_RING_SIZE", 4096)
	v.SetDefault("METRICS_INTERVAL_MS", 1000)
	v.SetDefault("RECONNECT_BACKOFF_MS", 5000)
	v.SetDefault("READ_IDLE_TIMEOUT_MS", 60000)
	v.SetDefault("PROM_ADDR", "")
	v.SetDefault("REDIS_ADDR", "")
}

// Load reads the environment over the defaults and validates the
// result.
func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		ListenAddr:        v.GetString("LISTEN_ADDR"),
		Symbols:           splitList(v.GetString("SYMBOLS")),
		Venues:            splitList(v.GetString("VENUES")),
		BroadcastCapacity: v.GetInt("BROADCAST_CAPACITY"),
		EgressThrottle:    time.Duration(v.GetInt("EGRESS_THROTTLE_MS")) * time.Millisecond,
		HeartbeatInterval: time.Duration(v.GetInt("HEARTBEAT_INTERVAL_MS")) * time.Millisecond,
		WriteTimeout:      time.Duration(v.GetInt("WRITE_TIMEOUT_MS")) * time.Millisecond,
		DepthMax:          v.GetInt("DEPTH_MAX"),
		DisplayDepth:      v.GetInt("DISPLAY_DEPTH"),
		TrimGrowthFactor:  v.GetInt("TRIM_GROWTH_FACTOR"),
		SnapshotDepth:     v.GetInt("SNAPSHOT_DEPTH"),
		LatencyRingSize:   v.GetInt("LATENCY_RING_SIZE"),
		MetricsInterval:   time.Duration(v.GetInt("METRICS_INTERVAL_MS")) * time.Millisecond,
		ReconnectBackoff:  time.Duration(v.GetInt("RECONNECT_BACKOFF_MS")) * time.Millisecond,
		ReadIdleTimeout:   time.Duration(v.GetInt("READ_IDLE_TIMEOUT_MS")) * time.Millisecond,
		PromAddr:          v.GetString("PROM_ADDR"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("SYMBOLS must name at least one symbol")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("VENUES must name at least one venue")
	}
	if c.BroadcastCapacity <= 0 {
		return fmt.Errorf("BROADCAST_CAPACITY must be positive")
	}
	if c.EgressThrottle <= 0 {
		return fmt.Errorf("EGRESS_THROTTLE_MS must be positive")
	}
	if c.DepthMax <= 0 {
		return fmt.Errorf("DEPTH_MAX must be positive")
	}
	if c.DisplayDepth <= 0 || c.DisplayDepth > maxDisplayDepth {
		return fmt.Errorf("DISPLAY_DEPTH must be in 1..%d", maxDisplayDepth)
	}
	if c.TrimGrowthFactor < 1 {
		return fmt.Errorf("TRIM_GROWTH_FACTOR must be at least 1")
	}
	if c.LatencyRingSize <= 0 || c.LatencyRingSize&(c.LatencyRingSize-1) != 0 {
		return fmt.Errorf("LATENCY_RING_SIZE must be a power of two")
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("METRICS_INTERVAL_MS must be positive")
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("RECONNECT_BACKOFF_MS must be positive")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
