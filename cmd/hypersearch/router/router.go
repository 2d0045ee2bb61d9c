// Package router configures the routes of the search status server.
//
// Routes configured:
//   - GET /healthz - Health check (503 when the trial store is unreachable)
//   - GET /metrics - Prometheus metrics
//   - GET /trials?project=<id>[&status=completed|failed] - Stored trial ledger
//
// The status server only reads from the trial store, so it can be served
// while the search goroutine keeps appending trials.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/oceanquake/pkg/httpx"
	"github.com/HatiCode/oceanquake/pkg/storage"
)

var projectNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,253}$`)

// TrialsResponse is the body of GET /trials.
type TrialsResponse struct {
	Project   string                `json:"project"`
	Trials    []storage.TrialRecord `json:"trials"`
	Completed int                   `json:"completed"`
	Failed    int                   `json:"failed"`
	// Best is the id of the highest scoring trial, empty when none completed.
	Best      string   `json:"best,omitempty"`
	BestScore *float64 `json:"best_score,omitempty"`
}

// pinger is implemented by stores with a remote backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// SetupRoutes configures the status endpoints. gatherer serves /metrics; nil
// uses prometheus.DefaultGatherer.
func SetupRoutes(store storage.Store, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	var check func(context.Context) error
	if p, ok := store.(pinger); ok {
		check = p.Ping
	}
	mux.Handle("GET /healthz", httpx.HealthHandler(check))

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /trials", handleListTrials(store, logger))

	return httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
}

// handleListTrials returns a handler for GET /trials?project=<id>.
func handleListTrials(store storage.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("project")
		if project == "" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "project parameter required")
			return
		}
		if !projectNameRegex.MatchString(project) {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid project name format")
			return
		}

		status := r.URL.Query().Get("status")
		if status != "" && status != "completed" && status != "failed" {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q (must be completed or failed)", status))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		records, err := store.ListTrials(ctx, project)
		if err != nil {
			logger.Error("failed to list trials", "project", project, "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if len(records) == 0 {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("no trials for project %q", project))
			return
		}

		resp := TrialsResponse{Project: project, Trials: make([]storage.TrialRecord, 0, len(records))}
		for _, rec := range records {
			if rec.Score != nil {
				resp.Completed++
				if resp.BestScore == nil || *rec.Score > *resp.BestScore {
					resp.Best, resp.BestScore = rec.ID, rec.Score
				}
			} else {
				resp.Failed++
			}
			if status == "" || rec.Status == status {
				resp.Trials = append(resp.Trials, rec)
			}
		}

		if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}
