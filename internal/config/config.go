package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"trivia-sync-service/internal/timer"

	"gopkg.in/yaml.v3"
)

// Bus drivers selectable under bus.driver.
const (
	BusMemory   = "memory"
	BusRedis    = "redis"
	BusPostgres = "postgres"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Postgres struct {
		URL     string `yaml:"url"`
		Channel string `yaml:"channel"`
	} `yaml:"postgres"`
	Bus struct {
		Driver string `yaml:"driver"`
	} `yaml:"bus"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Timer struct {
		Duration       int      `yaml:"duration"`
		Penalty        int      `yaml:"penalty"`
		Floor          int      `yaml:"floor"`
		ThresholdRatio *float64 `yaml:"thresholdRatio"`
		Pulse          string   `yaml:"pulse"`
		Tick           string   `yaml:"tick"`
	} `yaml:"timer"`
	Lobby struct {
		ReapInterval string `yaml:"reapInterval"`
		MaxAge       string `yaml:"maxAge"`
	} `yaml:"lobby"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot be wired at startup.
func (c Config) Validate() error {
	switch c.BusDriver() {
	case BusMemory:
	case BusRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("bus driver redis needs redis.addr")
		}
	case BusPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("bus driver postgres needs postgres.url")
		}
	default:
		return fmt.Errorf("unknown bus driver %q", c.Bus.Driver)
	}
	if r := c.Timer.ThresholdRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("timer.thresholdRatio must be within [0, 1], got %v", *r)
	}
	return nil
}

// BusDriver resolves the change bus: explicit setting first, then redis when an
// address is configured, memory otherwise.
func (c Config) BusDriver() string {
	if d := strings.ToLower(strings.TrimSpace(c.Bus.Driver)); d != "" {
		return d
	}
	if c.Redis.Addr != "" {
		return BusRedis
	}
	return BusMemory
}

// TimerConfig maps the timer section onto timer.Config; zero values keep the defaults,
// except thresholdRatio where an explicit 0 penalizes every answer.
func (c Config) TimerConfig() timer.Config {
	d := timer.DefaultConfig()
	out := timer.Config{
		Duration:       c.Timer.Duration,
		Penalty:        d.Penalty,
		Floor:          d.Floor,
		ThresholdRatio: d.ThresholdRatio,
		PulseDuration:  TTLDuration(c.Timer.Pulse, d.PulseDuration),
		TickInterval:   TTLDuration(c.Timer.Tick, d.TickInterval),
	}
	if c.Timer.Penalty > 0 {
		out.Penalty = c.Timer.Penalty
	}
	if c.Timer.Floor > 0 {
		out.Floor = c.Timer.Floor
	}
	if c.Timer.ThresholdRatio != nil {
		out.ThresholdRatio = *c.Timer.ThresholdRatio
	}
	return out
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
