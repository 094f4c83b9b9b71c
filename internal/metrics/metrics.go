package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Coordinator
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_peer_sessions_created_total",
		Help: "Total peer sessions created",
	})
	SessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warpmesh_peer_session_transitions_total",
		Help: "Peer session state transitions by target state",
	}, []string{"state"})
	GlareTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warpmesh_peer_glare_total",
		Help: "Simultaneous offers resolved, by local outcome",
	}, []string{"outcome"})
	CandidatesBufferedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_peer_candidates_buffered_total",
		Help: "ICE candidates deferred until a remote description was set",
	})
	CandidatesFlushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_peer_candidates_flushed_total",
		Help: "Deferred ICE candidates applied after the remote description",
	})
	RenegotiationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_peer_renegotiations_total",
		Help: "Connections rebuilt after a failure",
	})
	StreamsBoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warpmesh_stream_bound_total",
		Help: "Remote streams bound to participants, by path",
	}, []string{"path"})
	RTPPacketsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_stream_rtp_packets_total",
		Help: "Total RTP packets received across all remote tracks",
	})
)

// Relay
var (
	RelayClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warpmesh_relay_clients",
		Help: "Connected signaling clients",
	})
	RelayRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "warpmesh_relay_rooms",
		Help: "Rooms with at least one member",
	})
	RelayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "warpmesh_relay_messages_total",
		Help: "Messages handled by the relay, by type",
	}, []string{"type"})
	RelayRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "warpmesh_relay_rejected_handshakes_total",
		Help: "Websocket handshakes rejected for a bad token",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
