package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks a configuration after defaults have been applied.
func Validate(cfg *Config) error {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if cfg.Listen.Port < 0 || cfg.Listen.Port > 65535 {
		add("listen.port %d out of range", cfg.Listen.Port)
	}
	if cfg.Upstream.Address == "" {
		add("upstream.address is required")
	}
	if cfg.Upstream.Port <= 0 || cfg.Upstream.Port > 65535 {
		add("upstream.port %d out of range", cfg.Upstream.Port)
	}
	if cfg.Timeouts.Read <= 0 {
		add("timeouts.read must be positive")
	}
	if cfg.Timeouts.Write <= 0 {
		add("timeouts.write must be positive")
	}
	if cfg.Timeouts.Connect <= 0 {
		add("timeouts.connect must be positive")
	}
	if cfg.Identity.CertFile == "" {
		add("identity.cert_file is required")
	}
	minV, errMin := ParseTLSVersion(cfg.TLS.MinVersion)
	if errMin != nil {
		add("tls.min_version: %v", errMin)
	}
	maxV, errMax := ParseTLSVersion(cfg.TLS.MaxVersion)
	if errMax != nil {
		add("tls.max_version: %v", errMax)
	}
	if errMin == nil && errMax == nil && minV > maxV {
		add("tls.min_version %s is above tls.max_version %s", cfg.TLS.MinVersion, cfg.TLS.MaxVersion)
	}
	if cfg.Framing.BufferSize <= 0 {
		add("framing.buffer_size must be positive")
	}
	if cfg.Framing.BurstWindow <= 0 {
		add("framing.burst_window must be positive")
	}
	if cfg.Limits.MaxSessions < 0 {
		add("limits.max_sessions must not be negative")
	}
	if cfg.Limits.PerIPRate < 0 || cfg.Limits.PerIPBurst < 0 {
		add("limits.per_ip_rate and limits.per_ip_burst must not be negative")
	}
	if cfg.Limits.PerIPRate > 0 && cfg.Limits.PerIPBurst == 0 {
		add("limits.per_ip_burst is required when limits.per_ip_rate is set")
	}
	if cfg.Status.RecentLines < 0 {
		add("status.recent_lines must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ParseTLSVersion maps "1.0".."1.3" to the crypto/tls constants.
func ParseTLSVersion(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(v), "tls") {
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported TLS version %q", v)
}
