// Package admin serves the operational HTTP surface: health, state and
// telemetry snapshots, fault acknowledgment, version info, and Prometheus
// metrics. The command transport itself lives behind the API gateway and is
// not part of this server.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/control"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/device"
)

// VersionInfo mirrors the build metadata baked in at release time.
type VersionInfo struct {
	AppVersion string `json:"app_version"`
	CommitHash string `json:"commit_hash"`
	BuildDate  string `json:"build_date"`
	Maintainer string `json:"maintainer"`
}

// RigSnapshotter is implemented by drivers that can report their relay and
// brake configuration.
type RigSnapshotter interface {
	Snapshot() (device.RelayState, device.BrakePWM, bool)
}

type Server struct {
	Engine  *control.Engine
	Rig     RigSnapshotter // optional
	Version VersionInfo

	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// NewServer wires the routes. gatherer may be nil to disable /metrics.
func NewServer(engine *control.Engine, rig RigSnapshotter, version VersionInfo, gatherer prometheus.Gatherer) *Server {
	s := &Server{Engine: engine, Rig: rig, Version: version, gatherer: gatherer}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/state", s.handleState)
	s.mux.HandleFunc("/telemetry", s.handleTelemetry)
	s.mux.HandleFunc("/events", s.handleEvents)
	s.mux.HandleFunc("/acknowledge", s.handleAcknowledge)
	s.mux.HandleFunc("/version", s.handleVersion)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Engine.Healthy(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"state":        s.Engine.State(),
		"acknowledged": s.Engine.Acknowledged(),
	}
	if run := s.Engine.RunInfo(); run != nil {
		resp["run"] = run
	}
	if s.Rig != nil {
		relays, brake, energized := s.Rig.Snapshot()
		resp["rig"] = map[string]any{
			"relays":    relays,
			"brake":     brake,
			"energized": energized,
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Engine.LatestSamples())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Engine.RecentEvents())
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.Engine.Acknowledge()
	writeJSON(w, map[string]any{"acknowledged": s.Engine.Acknowledged(), "state": s.Engine.State()})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Version)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
