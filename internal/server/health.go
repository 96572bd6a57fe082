package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/n0madic/go-llmportal/internal/codec"
)

const healthProbeTimeout = 10 * time.Second

type healthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
	Error    string `json:"error,omitempty"`
}

// handleHealth always answers 200 while the process is alive; a failed
// upstream probe reports status "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Upstream: "ok"}
	if s.orch == nil {
		resp.Upstream = "unconfigured"
		codec.WriteJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()
	if err := s.orch.Health(ctx); err != nil {
		s.log.Warn("health.upstream.failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Upstream = "unreachable"
		resp.Error = err.Error()
	}
	codec.WriteJSON(w, http.StatusOK, resp)
}
