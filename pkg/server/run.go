package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Run starts the server and blocks until shutdown signal.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.NonTx().Close() }()

	// Start listeners
	if err := s.StartControl(); err != nil {
		return err
	}
	s.StartWS()
	s.StartAPI()

	slog.Info("GoMingle server running",
		"control", s.cfg.ControlAddr,
		"websocket", s.cfg.WSAddr,
		"api", s.cfg.APIAddr,
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// StartAPI starts the HTTP listener serving the account and monetization API.
func (s *Server) StartAPI() {
	if s.cfg.APIAddr == "" || s.api == nil {
		return // API disabled
	}

	s.apiSrv = &http.Server{
		Addr:              s.cfg.APIAddr,
		Handler:           s.api,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", s.cfg.APIAddr)
		if err := s.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = s.apiSrv.Close()
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() {
	s.cancel()
	if s.controlConn != nil {
		_ = s.controlConn.Close()
	}
	if s.wsSrv != nil {
		_ = s.wsSrv.Close()
	}
	if s.apiSrv != nil {
		_ = s.apiSrv.Close()
	}
}
