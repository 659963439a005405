// Package config loads the relay settings file.
//
// Settings come from a YAML file decoded over the defaults, are then
// overridden by RELAY_* environment variables (a .env file next to the
// process is honoured), and finally validated. A key present in the file
// always wins over its default, even when it is zero. The resulting Config
// is treated as immutable for the life of the process.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the complete relay configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen" envPrefix:"LISTEN_"`
	Upstream UpstreamConfig `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Timeouts TimeoutConfig  `yaml:"timeouts" envPrefix:"TIMEOUTS_"`
	Identity IdentityConfig `yaml:"identity" envPrefix:"IDENTITY_"`
	TLS      TLSConfig      `yaml:"tls" envPrefix:"TLS_"`
	Framing  FramingConfig  `yaml:"framing" envPrefix:"FRAMING_"`
	Limits   LimitsConfig   `yaml:"limits" envPrefix:"LIMITS_"`
	Status   StatusConfig   `yaml:"status" envPrefix:"STATUS_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`

	// dir is the directory of the loaded file; relative paths resolve against it.
	dir string
}

// ListenConfig is the local plaintext listener. An explicit port 0 binds an
// ephemeral port.
type ListenConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
	Port    int    `yaml:"port" env:"PORT"`
}

// Addr returns host:port for net.Listen.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// UpstreamConfig is the TLS-only backend.
type UpstreamConfig struct {
	Address    string `yaml:"address" env:"ADDRESS"`
	Port       int    `yaml:"port" env:"PORT"`
	ServerName string `yaml:"server_name" env:"SERVER_NAME"`
}

// TimeoutConfig holds per-operation socket timeouts.
type TimeoutConfig struct {
	Read    time.Duration `yaml:"read" env:"READ"`
	Write   time.Duration `yaml:"write" env:"WRITE"`
	Connect time.Duration `yaml:"connect" env:"CONNECT"`
}

// IdentityConfig locates the client certificate presented upstream.
// CertFile may be a PEM certificate (KeyFile optional when the key is in the
// same file) or a PKCS#12 bundle (.pfx/.p12) opened with Password.
type IdentityConfig struct {
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type TLSConfig struct {
	MinVersion string `yaml:"min_version" env:"MIN_VERSION"`
	MaxVersion string `yaml:"max_version" env:"MAX_VERSION"`
}

// FramingConfig tunes the burst-mode request reader.
type FramingConfig struct {
	BufferSize  int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	BurstWindow time.Duration `yaml:"burst_window" env:"BURST_WINDOW"`
}

// LimitsConfig controls admission. Zero values disable each limit.
type LimitsConfig struct {
	MaxSessions int `yaml:"max_sessions" env:"MAX_SESSIONS"`
	PerIPRate   int `yaml:"per_ip_rate" env:"PER_IP_RATE"`
	PerIPBurst  int `yaml:"per_ip_burst" env:"PER_IP_BURST"`
}

type StatusConfig struct {
	RecentLines int         `yaml:"recent_lines" env:"RECENT_LINES"`
	Redis       RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// RedisConfig enables publishing status lines to Redis when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address" env:"ADDRESS"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Channel  string `yaml:"channel" env:"CHANNEL"`
	List     string `yaml:"list" env:"LIST"`
	MaxLen   int    `yaml:"max_len" env:"MAX_LEN"`
}

type MetricsConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
}

type LogConfig struct {
	Debug bool `yaml:"debug" env:"DEBUG"`
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }
