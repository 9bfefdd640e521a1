package server

import (
	"context"
	"net/http"
	"time"

	"job-coordinator/pkg/observability"
)

const (
	healthy   = "healthy"
	unhealthy = "unhealthy"
)

const pingTimeout = 2 * time.Second

func hostSnapshot(ctx context.Context) map[string]any {
	return observability.HostSnapshot(ctx)
}

// HealthResponse reports the state of each dependency the service relies on.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

func (s *Server) ping(ctx context.Context, name string, p Pinger) string {
	if p == nil {
		return unhealthy
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		s.log.WithError(err).WithField("service", name).Error("health check failed")
		return unhealthy
	}
	return healthy
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"redis":      s.ping(r.Context(), "redis", s.cache),
		"job_store":  s.ping(r.Context(), "job_store", s.jobs),
		"ai_service": healthy,
	}
	if st, ok := s.snapshot(r.Context())["status"].(string); ok {
		services["system"] = st
	} else {
		services["system"] = unhealthy
	}

	status := healthy
	for _, v := range services {
		if v != healthy {
			status = "degraded"
			break
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   s.opts.Version,
		Services:  services,
	})
}

// handleReady fails while the job store is unreachable: without it no request can be
// accepted.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ping(r.Context(), "job_store", s.jobs) != healthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "timestamp": time.Now().UTC()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "timestamp": time.Now().UTC()})
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "alive", "timestamp": time.Now().UTC()})
}

func (s *Server) handleHostMetrics(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, "System metrics", s.snapshot(r.Context()))
}
