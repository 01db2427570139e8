// Package main provides an HTTP server that runs synthetic channel workloads
// and exposes their metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flowgraph/metered/internal/config"
	"github.com/flowgraph/metered/pkg/metered"
	"github.com/flowgraph/metered/pkg/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "metered-server: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger()
	metered.SetDefaultRuntimeConfig(cfg.Runtime(log))

	reg := metered.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	wm := newWorkloadManager(reg, cfg.Channels.MetricsPrefix, cfg.Channels.WorkloadRate, log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(reg, wm),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting metered server")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wm.stopAll()
	log.Info().Msg("metered server stopped")
}

func newMux(reg *prometheus.Registry, wm *workloadManager) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "metered server is running. See /healthz, /metrics, /workloads")
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "ok")
	})
	mux.Handle("GET /metrics", metered.Handler(reg))

	mux.HandleFunc("GET /workloads", wm.list)
	mux.Handle("POST /workloads", validation.JSON(wm.start))
	mux.HandleFunc("DELETE /workloads/{name}", wm.stop)
	return mux
}
