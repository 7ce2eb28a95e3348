// Package metrics exposes prometheus counters for the sync and sharing
// services plus the standalone metrics listener.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SecretsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_secrets_created_total",
		Help: "One-time secrets stored.",
	})
	SecretsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_secrets_consumed_total",
		Help: "One-time secrets destructively read.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_share_sessions_created_total",
		Help: "Share sessions created.",
	})
	SessionsUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_share_sessions_updated_total",
		Help: "Share session ciphertext updates.",
	})
	SessionFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billsync_share_session_fetches_total",
		Help: "Share session fetches by outcome.",
	}, []string{"outcome"})
	PairingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_pairings_created_total",
		Help: "Relay pairing codes issued.",
	})
	PairingsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_pairings_completed_total",
		Help: "Relay pairings that reached sync completion.",
	})
	PairingsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billsync_pairings_rejected_total",
		Help: "Relay join attempts rejected for unknown or bound codes.",
	})
)

// MetricsServer serves the prometheus scrape endpoint on its own
// listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server bound to addr.
func New(addr string) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
