package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/compresr/apibouncer/internal/bouncer"
	"github.com/compresr/apibouncer/internal/costcontrol"
)

const (
	serveReadTimeout     = 10 * time.Second
	serveWriteTimeout    = 30 * time.Second
	serveShutdownTimeout = 5 * time.Second
)

func runServeCommand(b *bouncer.Bouncer, args []string) error {
	cfg := b.Config()
	addr := cfg.Dashboard.Addr
	metricsOn := cfg.Metrics.Enabled

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--addr":
			if i+1 >= len(args) {
				return printUsage("bouncer serve [--addr HOST:PORT] [--no-metrics]")
			}
			addr = args[i+1]
			i++
		case "--no-metrics":
			metricsOn = false
		default:
			return fmt.Errorf("unknown option: %s", args[i])
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := startMaintenance(b)
	if err != nil {
		return err
	}
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr:              addr,
		Handler:           newServeMux(b, metricsOn),
		ReadHeaderTimeout: serveReadTimeout,
		WriteTimeout:      serveWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	printSuccess(fmt.Sprintf("Dashboard on http://%s/", addr))
	if metricsOn {
		printInfo(fmt.Sprintf("Metrics on http://%s%s", addr, cfg.Metrics.Path))
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("serve: stopped")
	return nil
}

// newServeMux exposes the dashboard, read-only JSON and Prometheus metrics.
func newServeMux(b *bouncer.Bouncer, metricsOn bool) *http.ServeMux {
	cfg := b.Config()
	q := b.Query()

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", costcontrol.DashboardHandler(q.Snapshots, cfg.Dashboard))
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, q.Stats())
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, q.Sessions())
	})
	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		info, err := q.SessionInfo(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, info)
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		if id := r.URL.Query().Get("session"); id != "" {
			writeJSON(w, http.StatusOK, q.History(id, limit))
			return
		}
		writeJSON(w, http.StatusOK, q.RecentHistory(limit))
	})
	mux.HandleFunc("GET /api/barrier", func(w http.ResponseWriter, r *http.Request) {
		pending, err := b.Queue().Pending(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, pending)
	})
	if metricsOn {
		mux.Handle("GET "+cfg.Metrics.Path, b.Metrics().Handler())
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("serve: write response failed")
	}
}

// startMaintenance purges decided barrier tickets on the configured schedule
// and refreshes the session gauges every minute.
func startMaintenance(b *bouncer.Bouncer) (*cron.Cron, error) {
	c := cron.New()
	schedule := b.Config().Barrier.PurgeSchedule

	if _, err := c.AddFunc(schedule, func() {
		n, err := b.Queue().Purge(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("serve: barrier purge failed")
			return
		}
		if n > 0 {
			log.Info().Int("purged", n).Msg("serve: purged decided barrier tickets")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid barrier.purge_schedule %q: %w", schedule, err)
	}
	if _, err := c.AddFunc("@every 1m", b.RefreshGauges); err != nil {
		return nil, err
	}

	b.RefreshGauges()
	c.Start()
	return c, nil
}
