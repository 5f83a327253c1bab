package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :9602 by default — configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("gomingle_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("gomingle_connections_active", "Current active connections.", "gauge",
		m.ActiveConnections.Load())
	write("gomingle_connections_total", "Lifetime connections accepted.", "counter",
		m.TotalConnections.Load())
	write("gomingle_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("gomingle_logins_success_total", "Successful login handshakes.", "counter",
		m.SuccessfulLogins.Load())
	write("gomingle_logins_failed_total", "Rejected login handshakes.", "counter",
		m.FailedLogins.Load())

	write("gomingle_searches_total", "Match requests received.", "counter",
		m.SearchesStarted.Load())
	write("gomingle_matches_total", "Pairs formed.", "counter",
		m.MatchesMade.Load())
	write("gomingle_skips_total", "Skips requested.", "counter",
		m.Skips.Load())

	write("gomingle_messages_relayed_total", "Chat messages delivered to a partner.", "counter",
		m.MessagesRelayed.Load())
	write("gomingle_messages_dropped_total", "Chat messages dropped from unpaired senders.", "counter",
		m.MessagesDropped.Load())

	write("gomingle_sessions_active", "Registered chat sessions.", "gauge",
		int64(s.coord.Sessions()))
	write("gomingle_waiting_pool_size", "Sessions queued for matching.", "gauge",
		int64(s.coord.Waiting()))
}
