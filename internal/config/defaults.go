package config

import "time"

// Default values, matching the settings file written on first run.
const (
	DefaultListenAddress   = "127.0.0.1"
	DefaultListenPort      = 8841
	DefaultUpstreamAddress = "127.0.0.1"
	DefaultUpstreamPort    = 4001
	DefaultReadTimeout     = 20 * time.Second
	DefaultWriteTimeout    = 20 * time.Second
	DefaultCertFile        = "certificate.pem"
	DefaultKeyFile         = "certificate-key.pem"
	DefaultTLSMinVersion   = "1.2"
	DefaultTLSMaxVersion   = "1.2"
	DefaultBufferSize      = 1024
	DefaultBurstWindow     = 25 * time.Millisecond
	DefaultRecentLines     = 200
	DefaultRedisChannel    = "relay:status"
	DefaultRedisList       = "relay:status:recent"
	DefaultRedisMaxLen     = 1000
	DefaultMetricsAddress  = "127.0.0.1:9100"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Identity: IdentityConfig{CertFile: DefaultCertFile, KeyFile: DefaultKeyFile},
		Metrics:  MetricsConfig{Address: DefaultMetricsAddress},
	}
	ApplyDefaults(cfg)
	return cfg
}

// presets is the configuration a settings file is decoded over. Keys the
// file or environment sets replace these values, explicit zeros included.
// The connect timeout is left unset so it can follow the final read timeout.
func presets() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Timeouts.Connect = 0
	return cfg
}

// ApplyDefaults fills zero-valued fields with defaults.
// The connect timeout falls back to the read timeout.
func ApplyDefaults(cfg *Config) {
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = DefaultListenAddress
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = DefaultListenPort
	}
	if cfg.Upstream.Address == "" {
		cfg.Upstream.Address = DefaultUpstreamAddress
	}
	if cfg.Upstream.Port == 0 {
		cfg.Upstream.Port = DefaultUpstreamPort
	}
	if cfg.Timeouts.Read == 0 {
		cfg.Timeouts.Read = DefaultReadTimeout
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = DefaultWriteTimeout
	}
	if cfg.Timeouts.Connect == 0 {
		cfg.Timeouts.Connect = cfg.Timeouts.Read
	}
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.MaxVersion == "" {
		cfg.TLS.MaxVersion = DefaultTLSMaxVersion
	}
	if cfg.Framing.BufferSize == 0 {
		cfg.Framing.BufferSize = DefaultBufferSize
	}
	if cfg.Framing.BurstWindow == 0 {
		cfg.Framing.BurstWindow = DefaultBurstWindow
	}
	if cfg.Status.RecentLines == 0 {
		cfg.Status.RecentLines = DefaultRecentLines
	}
	if cfg.Status.Redis.Channel == "" {
		cfg.Status.Redis.Channel = DefaultRedisChannel
	}
	if cfg.Status.Redis.List == "" {
		cfg.Status.Redis.List = DefaultRedisList
	}
	if cfg.Status.Redis.MaxLen == 0 {
		cfg.Status.Redis.MaxLen = DefaultRedisMaxLen
	}
}
