// Package main implements the kotare coordinator service: the stateless
// routing layer between cache front-ends and the sharded storage fleet.
//
// The binary wires configuration, the coordinator core, and a thin JSON
// control surface:
//
//	PUT    /cache/{key}        - set (body: {"value":..., "ttl_seconds":n, "mode":"sync"})
//	GET    /cache/{key}        - get
//	DELETE /cache/{key}        - delete
//	GET    /ring               - ring arc description
//	GET    /stats              - aggregated keyspace and hit-rate stats
//	GET    /replication        - per-shard replication lag
//	GET    /cluster/health     - health summary plus transition history
//	GET    /failover/metrics   - failover counters
//	POST   /failover/trigger   - force a failover (?shard=N), for testing
//	GET    /healthz            - coordinator liveness
//	GET    /metrics            - Prometheus metrics
//
// Configuration comes from an optional YAML file (KOTARE_CONFIG), a .env
// file in the working directory, and KOTARE_* environment variables. See
// internal/config for the full set.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/kotare/internal/cluster"
	"github.com/dreamware/kotare/internal/config"
	"github.com/dreamware/kotare/internal/coordinator"
)

func main() {
	// A .env in the working directory is a development convenience; absence
	// is not an error.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("KOTARE_CONFIG"))
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coord, err := coordinator.New(cfg,
		coordinator.WithLogger(logger),
		coordinator.WithRegistry(registry),
	)
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}
	coord.Start()

	srv := &server{coord: coord, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/cache/", srv.handleCache)
	mux.HandleFunc("/ring", srv.handleRing)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/replication", srv.handleReplication)
	mux.HandleFunc("/cluster/health", srv.handleHealth)
	mux.HandleFunc("/failover/metrics", srv.handleFailoverMetrics)
	mux.HandleFunc("/failover/trigger", srv.handleFailoverTrigger)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := coord.Close(); err != nil {
		logger.Warn("coordinator close reported errors", zap.Error(err))
	}
}

// server holds the handler state for the control surface.
type server struct {
	coord  *coordinator.Coordinator
	logger *zap.Logger
}

// setRequest is the PUT /cache/{key} body.
type setRequest struct {
	Value      any    `json:"value"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// handleCache dispatches the three data operations on /cache/{key}.
func (s *server) handleCache(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/cache/")
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req setRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}

		opts := coordinator.SetOptions{TTL: time.Duration(req.TTLSeconds) * time.Second}
		if req.Mode != "" {
			mode, ok := cluster.ParseReplicationMode(req.Mode)
			if !ok {
				http.Error(w, "mode must be async or sync", http.StatusBadRequest)
				return
			}
			opts.Mode = &mode
		}

		res := s.coord.Set(r.Context(), key, req.Value, opts)
		s.writeJSON(w, statusFor(res.OK, res.Error), res)

	case http.MethodGet:
		res := s.coord.Get(r.Context(), key)
		status := http.StatusOK
		if res.Error == coordinator.KindNodeUnavailable {
			status = http.StatusServiceUnavailable
		} else if res.Reason == coordinator.KindKeyNotFound {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, res)

	case http.MethodDelete:
		res := s.coord.Delete(r.Context(), key)
		s.writeJSON(w, statusFor(res.OK || res.Error == "", res.Error), res)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleRing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.DescribeRing())
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.GetAllStats(r.Context()))
}

func (s *server) handleReplication(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.GetReplicationLag(r.Context()))
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.GetHealthSummary())
}

func (s *server) handleFailoverMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.GetFailoverMetrics())
}

func (s *server) handleFailoverTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	shardID, err := strconv.Atoi(r.URL.Query().Get("shard"))
	if err != nil {
		http.Error(w, "shard query parameter required", http.StatusBadRequest)
		return
	}

	if err := s.coord.TriggerFailover(r.Context(), shardID); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encoding failed", zap.Error(err))
	}
}

// statusFor maps an operation outcome to an HTTP status: gated writes are
// retryable (503), other failures are bad gateway to the storage fleet.
func statusFor(ok bool, kind string) int {
	switch {
	case ok:
		return http.StatusOK
	case kind == coordinator.KindNodeInFailover:
		return http.StatusServiceUnavailable
	case kind == coordinator.KindNodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
