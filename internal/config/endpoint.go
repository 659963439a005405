package config

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the resolved upstream address. It is built once at startup and
// shared read-only by every session.
type Endpoint struct {
	Host string // as configured
	IP   string // resolved once
	Port int
}

// Addr returns ip:port for dialing.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// ServerName returns the SNI value: the override if set, otherwise the
// configured host when it is a name. IP literals yield "".
func (e Endpoint) ServerName(override string) string {
	if override != "" {
		return override
	}
	if net.ParseIP(e.Host) != nil {
		return ""
	}
	return e.Host
}

// ResolveEndpoint looks up the upstream host and keeps the first address.
func ResolveEndpoint(ctx context.Context, r *net.Resolver, u UpstreamConfig) (Endpoint, error) {
	if ip := net.ParseIP(u.Address); ip != nil {
		return Endpoint{Host: u.Address, IP: ip.String(), Port: u.Port}, nil
	}
	if r == nil {
		r = net.DefaultResolver
	}
	addrs, err := r.LookupHost(ctx, u.Address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("resolve upstream %q: %w", u.Address, err)
	}
	if len(addrs) == 0 {
		return Endpoint{}, fmt.Errorf("resolve upstream %q: no addresses", u.Address)
	}
	return Endpoint{Host: u.Address, IP: addrs[0], Port: u.Port}, nil
}
