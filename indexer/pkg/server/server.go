// Package server runs the indexer behind a small HTTP surface for probes,
// build information and Prometheus scraping.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/pricelake/indexer/pkg/indexer"
	"github.com/malbeclabs/pricelake/indexer/pkg/metrics"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	indexer *indexer.Indexer
	httpSrv *http.Server
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idx, err := indexer.New(ctx, cfg.IndexerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}

	s := &Server{
		log:     cfg.IndexerConfig.Logger,
		cfg:     cfg,
		indexer: idx,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	v := cfg.VersionInfo
	metrics.BuildInfo.WithLabelValues(v.Version, v.Commit, v.Date).Set(1)

	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeText(w, http.StatusOK, "ok\n")
	})
	mux.HandleFunc("GET /readyz", s.readyzHandler)
	mux.HandleFunc("GET /version", s.versionHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Run starts the indexer and serves HTTP until ctx is done, then shuts the
// listener down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.indexer.Start(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()
	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: shutdown complete")
		return s.indexer.Close()
	case err := <-serveErrCh:
		s.log.Error("server: http server failed", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !s.indexer.Ready() {
		s.log.Debug("readyz: first price load has not completed")
		s.writeText(w, http.StatusServiceUnavailable, "indexer not ready\n")
		return
	}
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.Error("failed to write response", "status", status, "error", err)
	}
}
