package http

import (
	"context"
	"net/http"
	"time"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the store and, when configured, the message broker.
// The broker is reported but never makes the API unready: writes succeed
// without it and the worker catches up later.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := map[string]string{}

	if err := s.backend.Ping(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status = "not_ready"
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if s.backend.AMQP == nil {
		checks["amqp"] = "disabled"
	} else {
		checks["amqp"] = "ok"
	}

	limiter := s.limiter.GetMetrics()
	NewResponse().Status(code).JSON(map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"requests":  s.tracer.GetMetrics().TotalRequests,
		"rate_limit": map[string]int64{
			"rejected": limiter.TotalHits,
			"clients":  limiter.ClientCount,
		},
		"suspicious_requests": s.detector.GetMetrics().SuspiciousRequests,
	}).Write(w)
}
