package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal          = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_sessions_total", Help: "Downstream connections handed to a session"})
	ActiveSessions         = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_active_sessions", Help: "Sessions currently relaying"})
	SessionFailuresTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_session_failures_total", Help: "Failed sessions by stage and reason"}, []string{"stage", "reason"})
	RejectedTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_rejected_total", Help: "Connections closed at admission"}, []string{"reason"})
	BytesTotal             = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_bytes_total", Help: "Payload bytes relayed"}, []string{"direction"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.001, 2, 16)})
	HandshakeSeconds       = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_handshake_seconds", Help: "Upstream TLS handshake seconds", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)})
	StatusDroppedTotal     = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_status_dropped_total", Help: "Status lines dropped by a sink"}, []string{"sink"})
)
