package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/relay"
	"github.com/matst80/tlsrelay/internal/status"
	"github.com/matst80/tlsrelay/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// appState is what the operational endpoints report on.
type appState struct {
	srv      interface{ Stats() relay.Stats }
	recent   *status.Ring
	listen   string
	upstream string
	ready    atomic.Bool
	closing  atomic.Bool
}

// newMux serves Prometheus metrics plus health, state and dashboard endpoints.
func newMux(state *appState) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		st := collectStats(state)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		st := collectStats(state)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, "dashboard", st.ToTemplateMap()); err != nil {
			obs.Error("dashboard.render", obs.Fields{"err": err.Error()})
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if state.closing.Load() || !state.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// runMetricsServer blocks until ctx is cancelled or the listener fails.
func runMetricsServer(ctx context.Context, addr string, state *appState) error {
	hs := &http.Server{Addr: addr, Handler: newMux(state), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		state.closing.Store(true)
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()
	obs.Info("metrics.listen", obs.Fields{"addr": addr})
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
		return err
	}
	return nil
}
