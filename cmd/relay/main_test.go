package main

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matst80/tlsrelay/internal/config"
	"github.com/matst80/tlsrelay/internal/obs"
	"github.com/matst80/tlsrelay/internal/relay"
	"github.com/matst80/tlsrelay/internal/status"
	"github.com/matst80/tlsrelay/internal/trust"
)

func TestMain(m *testing.M) {
	obs.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixedStats relay.Stats

func (f fixedStats) Stats() relay.Stats { return relay.Stats(f) }

func testState() *appState {
	ring := status.NewRing(10)
	ring.Publish(status.Line{Time: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC), Event: status.EventListening, Text: "Started listener on 127.0.0.1:8841"})
	ring.Publish(status.Line{Time: time.Date(2026, 10, 19, 9, 0, 1, 0, time.UTC), Event: status.EventSessionStart, Text: "New TCP connection received from 127.0.0.1"})
	return &appState{
		srv:      fixedStats{Accepted: 4, Completed: 3, Failed: 1, BytesUp: 48, BytesDown: 12},
		recent:   ring,
		listen:   "127.0.0.1:8841",
		upstream: "10.0.0.5:4001",
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReady(t *testing.T) {
	st := testState()
	mux := newMux(st)
	if rec := get(t, mux, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready = %d, want 503", rec.Code)
	}
	st.ready.Store(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz when ready = %d, want 200", rec.Code)
	}
	st.closing.Store(true)
	if rec := get(t, mux, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz when closing = %d, want 503", rec.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	rec := get(t, newMux(testState()), "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Accepted != 4 || got.Failed != 1 || got.BytesUp != 48 {
		t.Errorf("counters = %+v", got.Stats)
	}
	if got.Upstream != "10.0.0.5:4001" {
		t.Errorf("upstream = %q", got.Upstream)
	}
	if len(got.Recent) != 2 || !strings.Contains(got.Recent[0], "New TCP connection") {
		t.Errorf("recent should be newest first: %q", got.Recent)
	}
	if !strings.HasPrefix(got.Recent[1], "10/19/2026 09:00:00 - [Server] ") {
		t.Errorf("recent line format: %q", got.Recent[1])
	}
}

func TestDashboard(t *testing.T) {
	rec := get(t, newMux(testState()), "/dashboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Started listener on 127.0.0.1:8841") {
		t.Errorf("dashboard missing status lines")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newMux(testState()), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relay_sessions_total") {
		t.Errorf("relay metrics not exposed")
	}
}

func TestInitFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tlsrelay", "config.yaml")
	if err := initFiles(path); err != nil {
		t.Fatalf("initFiles: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	id, err := trust.LoadIdentity(cfg.Path(cfg.Identity.CertFile), cfg.Path(cfg.Identity.KeyFile), "")
	if err != nil {
		t.Fatalf("generated identity unusable: %v", err)
	}
	if days, _ := trust.CheckExpiry(id.Leaf, time.Now()); days < 360 {
		t.Errorf("generated identity valid for %d days", days)
	}

	// a second run keeps the existing identity
	before, _ := os.ReadFile(cfg.Path(cfg.Identity.CertFile))
	if err := initFiles(path); err != nil {
		t.Fatalf("second initFiles: %v", err)
	}
	after, _ := os.ReadFile(cfg.Path(cfg.Identity.CertFile))
	if string(before) != string(after) {
		t.Error("existing identity was overwritten")
	}
}

func TestTLSVersions(t *testing.T) {
	minVer, maxVer, err := tlsVersions(config.TLSConfig{MinVersion: "1.2", MaxVersion: "1.3"})
	if err != nil {
		t.Fatalf("tlsVersions: %v", err)
	}
	if minVer != tls.VersionTLS12 || maxVer != tls.VersionTLS13 {
		t.Errorf("versions = %x-%x", minVer, maxVer)
	}
	if _, _, err := tlsVersions(config.TLSConfig{MinVersion: "1.2", MaxVersion: "ssl3"}); err == nil || !strings.Contains(err.Error(), "tls.max_version") {
		t.Errorf("expected max_version error, got %v", err)
	}
	if _, _, err := tlsVersions(config.TLSConfig{MinVersion: "", MaxVersion: "1.2"}); err == nil || !strings.Contains(err.Error(), "tls.min_version") {
		t.Errorf("expected min_version error, got %v", err)
	}
}
