package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/matst80/tlsrelay/internal/config"
	"github.com/matst80/tlsrelay/internal/framing"
	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/ratelimit"
	"github.com/matst80/tlsrelay/internal/relay"
	"github.com/matst80/tlsrelay/internal/status"
	"github.com/matst80/tlsrelay/internal/trust"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()
	if flags.Debug {
		obs.EnableDebug(true)
	}
	if err := godotenv.Load(); err != nil {
		obs.Debug("dotenv.skip", obs.Fields{"err": err.Error()})
	}
	if flags.Init {
		if err := initFiles(flags.ConfigPath); err != nil {
			fatal("init", err, obs.Fields{"config": flags.ConfigPath})
		}
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fatal("config.load", err, obs.Fields{"config": flags.ConfigPath})
	}
	if cfg.Log.Debug {
		obs.EnableDebug(true)
	}
	if flags.MetricsAddr != "" {
		cfg.Metrics.Address = flags.MetricsAddr
	}

	identity, err := trust.LoadIdentity(cfg.Path(cfg.Identity.CertFile), cfg.Path(cfg.Identity.KeyFile), cfg.Identity.Password)
	if err != nil {
		fatal("identity.load", err, obs.Fields{"cert_file": cfg.Path(cfg.Identity.CertFile)})
	}
	days, warning := trust.CheckExpiry(identity.Leaf, time.Now())
	if warning != "" {
		obs.Warn("identity.expiry", obs.Fields{"days_left": days, "warning": warning})
	}
	minVer, maxVer, err := tlsVersions(cfg.TLS)
	if err != nil {
		fatal("config.tls", err, nil)
	}
	policy, err := trust.NewPolicy(identity, minVer, maxVer)
	if err != nil {
		fatal("identity.policy", err, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Connect)
	endpoint, err := config.ResolveEndpoint(rctx, nil, cfg.Upstream)
	cancel()
	if err != nil {
		fatal("upstream.resolve", err, obs.Fields{"upstream": cfg.Upstream.Address})
	}

	recent := status.NewRing(cfg.Status.RecentLines)
	sinks := []status.Sink{status.LogSink{}, recent}
	if cfg.Status.Redis.Address != "" {
		rs, err := status.NewRedisSink(ctx, status.RedisOptions{
			Addr:     cfg.Status.Redis.Address,
			Password: cfg.Status.Redis.Password,
			DB:       cfg.Status.Redis.DB,
			Channel:  cfg.Status.Redis.Channel,
			List:     cfg.Status.Redis.List,
			MaxLen:   cfg.Status.Redis.MaxLen,
		})
		if err != nil {
			fatal("status.redis", err, obs.Fields{"addr": cfg.Status.Redis.Address})
		}
		defer rs.Close()
		sinks = append(sinks, rs)
		obs.Info("status.redis", obs.Fields{"addr": cfg.Status.Redis.Address, "channel": cfg.Status.Redis.Channel})
	}

	limiter := ratelimit.NewLimiter(cfg.Limits.PerIPRate, cfg.Limits.PerIPBurst)
	srv, err := relay.New(relay.Options{
		UpstreamAddr:   endpoint.Addr(),
		TLS:            policy.ClientConfig(endpoint.ServerName(cfg.Upstream.ServerName)),
		ReadTimeout:    cfg.Timeouts.Read,
		WriteTimeout:   cfg.Timeouts.Write,
		ConnectTimeout: cfg.Timeouts.Connect,
		Framing:        framing.Options{BufferSize: cfg.Framing.BufferSize, Window: cfg.Framing.BurstWindow},
		MaxSessions:    cfg.Limits.MaxSessions,
		Limiter:        limiter,
		Status:         status.Multi(sinks...),
	})
	if err != nil {
		fatal("relay.init", err, nil)
	}

	ln, err := relay.Listen(cfg.Listen.Addr())
	if err != nil {
		fatal("listen.relay", err, obs.Fields{"addr": cfg.Listen.Addr()})
	}
	obs.Info("relay.start", obs.Fields{
		"listen":       ln.Addr().String(),
		"upstream":     endpoint.Addr(),
		"server_name":  endpoint.ServerName(cfg.Upstream.ServerName),
		"identity":     identity.Leaf.Subject.String(),
		"tls":          cfg.TLS.MinVersion + "-" + cfg.TLS.MaxVersion,
		"max_sessions": cfg.Limits.MaxSessions,
		"metrics":      cfg.Metrics.Address,
	})

	state := &appState{srv: srv, recent: recent, listen: ln.Addr().String(), upstream: endpoint.Addr()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return runMetricsServer(gctx, cfg.Metrics.Address, state) })
	}
	if limiter != nil {
		g.Go(func() error { runCleanupLoop(gctx, limiter, time.Minute); return nil })
	}
	state.ready.Store(true)
	obs.Info("relay.ready", obs.Fields{})

	err = g.Wait()
	state.closing.Store(true)
	if err != nil && !errors.Is(err, context.Canceled) {
		obs.Error("relay.stopped", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("relay.shutdown", obs.Fields{"active_sessions": srv.Stats().Active})
}

// tlsVersions maps the configured protocol range to crypto/tls constants.
func tlsVersions(c config.TLSConfig) (minVer, maxVer uint16, err error) {
	if minVer, err = config.ParseTLSVersion(c.MinVersion); err != nil {
		return 0, 0, fmt.Errorf("tls.min_version: %w", err)
	}
	if maxVer, err = config.ParseTLSVersion(c.MaxVersion); err != nil {
		return 0, 0, fmt.Errorf("tls.max_version: %w", err)
	}
	return minVer, maxVer, nil
}

func fatal(msg string, err error, f obs.Fields) {
	if f == nil {
		f = obs.Fields{}
	}
	f["err"] = err.Error()
	obs.Error(msg, f)
	os.Exit(1)
}

// initFiles writes a default settings file and, for PEM identities, a
// self-signed certificate so a fresh install can start.
func initFiles(path string) error {
	wrote, err := config.WriteDefault(path)
	if err != nil {
		return err
	}
	if wrote {
		obs.Info("init.config", obs.Fields{"path": path})
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	certFile := cfg.Path(cfg.Identity.CertFile)
	if !strings.EqualFold(filepath.Ext(certFile), ".pem") {
		return nil
	}
	if _, err := os.Stat(certFile); err == nil {
		return nil
	}
	// an empty key file means a combined PEM
	keyFile := cfg.Path(cfg.Identity.KeyFile)
	now := time.Now()
	cert, err := trust.GenerateSelfSigned("tlsrelay", now.Add(-time.Hour), now.AddDate(1, 0, 0))
	if err != nil {
		return err
	}
	if err := trust.WritePEM(cert, certFile, keyFile); err != nil {
		return err
	}
	obs.Warn("init.identity", obs.Fields{"cert_file": certFile, "key_file": keyFile, "note": "self-signed; replace with the identity issued for the upstream"})
	return nil
}

func runCleanupLoop(ctx context.Context, limiter *ratelimit.Limiter, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := limiter.Cleanup(interval); n > 0 {
				obs.Debug("ratelimit.cleanup", obs.Fields{"removed": n})
			}
		}
	}
}
