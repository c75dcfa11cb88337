package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig configures one backend process hosting rooms.
type ServerConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	RoomIdleGrace time.Duration `yaml:"room_idle_grace"`
	RoomMaxIdle   time.Duration `yaml:"room_max_idle"`
	InputRate     float64       `yaml:"input_rate"`
	InputBurst    int           `yaml:"input_burst"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
	Capacity      int           `yaml:"capacity"` // Player slots reported as 100% workload
	NATSURL       string        `yaml:"nats_url"`
	Log           LogConfig     `yaml:"log"`
}

// BalancerConfig configures the reverse proxy in front of the backends.
type BalancerConfig struct {
	Port            int           `yaml:"port"`
	Backends        []string      `yaml:"backends"`
	Auto            bool          `yaml:"auto"`
	MinBackends     int           `yaml:"min_backends"`
	MaxBackends     int           `yaml:"max_backends"`
	BackendBasePort int           `yaml:"backend_base_port"`
	BackendCapacity int           `yaml:"backend_capacity"`
	LaunchCmd       string        `yaml:"launch_cmd"`
	InputRate       float64       `yaml:"input_rate"`
	InputBurst      int           `yaml:"input_burst"`
	JoinTimeout     time.Duration `yaml:"join_timeout"`
	HelloTimeout    time.Duration `yaml:"hello_timeout"`
	SessionIdleTTL  time.Duration `yaml:"session_idle_ttl"`
	RedisAddr       string        `yaml:"redis_addr"`
	NATSURL         string        `yaml:"nats_url"`
	Log             LogConfig     `yaml:"log"`
}

// SessionThreshold is the number of hosted sessions at which a backend counts as full.
func (c BalancerConfig) SessionThreshold() int {
	n := c.BackendCapacity / MaxPlayers
	if n < 1 {
		return 1
	}
	return n
}

// DefaultServerConfig returns the values used when nothing overrides them.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:          8766,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		RoomIdleGrace: RoomIdleGrace,
		RoomMaxIdle:   RoomMaxIdle,
		InputRate:     30,
		InputBurst:    15,
		JoinTimeout:   12 * time.Second,
		Capacity:      20,
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultBalancerConfig returns the values used when nothing overrides them.
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Port:            8765,
		MinBackends:     1,
		MaxBackends:     3,
		BackendBasePort: 8766,
		BackendCapacity: 20,
		LaunchCmd:       "arcade-server serve --port {port}",
		InputRate:       30,
		InputBurst:      15,
		JoinTimeout:     12 * time.Second,
		HelloTimeout:    time.Second,
		SessionIdleTTL:  time.Minute,
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// fileConfig is the layout of the optional YAML file.
type fileConfig struct {
	Server   *ServerConfig   `yaml:"server"`
	Balancer *BalancerConfig `yaml:"balancer"`
}

// LoadServerConfig layers defaults, the optional YAML file at path and the environment.
func LoadServerConfig(path string) (ServerConfig, error) {
	loadDotEnv()
	cfg := DefaultServerConfig()
	if err := readFile(path, &fileConfig{Server: &cfg}); err != nil {
		return cfg, err
	}

	cfg.Port = envInt("ARCADE_PORT", cfg.Port)
	cfg.ReadTimeout = envDuration("ARCADE_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = envDuration("ARCADE_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.RoomIdleGrace = envDuration("ARCADE_ROOM_GRACE", cfg.RoomIdleGrace)
	cfg.RoomMaxIdle = envDuration("ARCADE_ROOM_MAX_IDLE", cfg.RoomMaxIdle)
	cfg.InputRate = envFloat("ARCADE_INPUT_RATE", cfg.InputRate)
	cfg.InputBurst = envInt("ARCADE_INPUT_BURST", cfg.InputBurst)
	cfg.JoinTimeout = envDuration("ARCADE_JOIN_TIMEOUT", cfg.JoinTimeout)
	cfg.Capacity = envInt("ARCADE_BACKEND_CAPACITY", cfg.Capacity)
	cfg.NATSURL = getEnv("ARCADE_NATS_URL", cfg.NATSURL)
	cfg.Log.Level = getEnv("ARCADE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("ARCADE_LOG_FORMAT", cfg.Log.Format)

	return cfg, cfg.Validate()
}

// LoadBalancerConfig layers defaults, the optional YAML file at path and the environment.
func LoadBalancerConfig(path string) (BalancerConfig, error) {
	loadDotEnv()
	cfg := DefaultBalancerConfig()
	if err := readFile(path, &fileConfig{Balancer: &cfg}); err != nil {
		return cfg, err
	}

	cfg.Port = envInt("ARCADE_LB_PORT", cfg.Port)
	if v := os.Getenv("ARCADE_BACKENDS"); v != "" {
		cfg.Backends = SplitList(v)
	}
	cfg.Auto = envBool("ARCADE_AUTO", cfg.Auto)
	cfg.MinBackends = envInt("ARCADE_MIN_BACKENDS", cfg.MinBackends)
	cfg.MaxBackends = envInt("ARCADE_MAX_BACKENDS", cfg.MaxBackends)
	cfg.BackendBasePort = envInt("ARCADE_BACKEND_BASE_PORT", cfg.BackendBasePort)
	cfg.BackendCapacity = envInt("ARCADE_BACKEND_CAPACITY", cfg.BackendCapacity)
	cfg.LaunchCmd = getEnv("ARCADE_LAUNCH_CMD", cfg.LaunchCmd)
	cfg.InputRate = envFloat("ARCADE_INPUT_RATE", cfg.InputRate)
	cfg.InputBurst = envInt("ARCADE_INPUT_BURST", cfg.InputBurst)
	cfg.JoinTimeout = envDuration("ARCADE_JOIN_TIMEOUT", cfg.JoinTimeout)
	cfg.HelloTimeout = envDuration("ARCADE_HELLO_TIMEOUT", cfg.HelloTimeout)
	cfg.SessionIdleTTL = envDuration("ARCADE_SESSION_IDLE_TTL", cfg.SessionIdleTTL)
	cfg.RedisAddr = getEnv("ARCADE_REDIS_ADDR", cfg.RedisAddr)
	cfg.NATSURL = getEnv("ARCADE_NATS_URL", cfg.NATSURL)
	cfg.Log.Level = getEnv("ARCADE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("ARCADE_LOG_FORMAT", cfg.Log.Format)

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.InputRate <= 0 || c.InputBurst <= 0 {
		return fmt.Errorf("%w: input rate and burst must be positive", ErrInvalidConfig)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, c.Capacity)
	}
	return nil
}

// Validate rejects settings the balancer cannot run with.
func (c BalancerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.BackendCapacity <= 0 {
		return fmt.Errorf("%w: backend capacity must be positive, got %d", ErrInvalidConfig, c.BackendCapacity)
	}
	if c.InputRate <= 0 || c.InputBurst <= 0 {
		return fmt.Errorf("%w: input rate and burst must be positive", ErrInvalidConfig)
	}
	if c.Auto {
		if c.MinBackends < 0 || c.MaxBackends < c.MinBackends {
			return fmt.Errorf("%w: invalid backend bounds min=%d max=%d", ErrInvalidConfig, c.MinBackends, c.MaxBackends)
		}
		if !strings.Contains(c.LaunchCmd, "{port}") {
			return fmt.Errorf("%w: launch command must contain a {port} placeholder", ErrInvalidConfig)
		}
	} else if len(c.Backends) == 0 {
		return fmt.Errorf("%w: no backends configured and autoscale disabled", ErrInvalidConfig)
	}
	return nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadDotEnv() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not parse .env", "error", err)
	}
}

func readFile(path string, into *fileConfig) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer", "key", key, "value", v)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid number", "key", key, "value", v)
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return def
	}
	return d
}
