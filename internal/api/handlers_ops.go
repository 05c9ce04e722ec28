package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coldforge/renderfarm/internal/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := s.store.Ping(ctx) == nil

	scratchOK := true
	if probe := os.Getenv("RENDERFARM_HEALTHZ_SCRATCH_DIR"); probe != "" {
		f, err := os.CreateTemp(probe, ".healthz-*")
		if err != nil {
			scratchOK = false
		} else {
			f.Close()
			os.Remove(f.Name())
		}
	}

	healthy := dbOK && scratchOK
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":    healthy,
		"db_ok":      dbOK,
		"scratch_ok": scratchOK,
	})
}

func (s *Server) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	counts, err := s.store.CountTasksByState(ctx)
	if err != nil {
		http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	fmt.Fprintf(w, "# HELP renderfarm_tasks_by_state Number of tasks currently in each state.\n")
	fmt.Fprintf(w, "# TYPE renderfarm_tasks_by_state gauge\n")
	for _, state := range []store.TaskStatus{
		store.TaskCreated, store.TaskScheduled, store.TaskRunning, store.TaskCompleted,
		store.TaskCompressing, store.TaskPacked, store.TaskDone, store.TaskKilled,
		store.TaskFailedRender, store.TaskFailedPack,
	} {
		fmt.Fprintf(w, "renderfarm_tasks_by_state{state=%q} %d\n", state, counts[state])
	}

	fmt.Fprintf(w, "# HELP renderfarm_live_supervisors Number of in-memory task supervisors.\n")
	fmt.Fprintf(w, "# TYPE renderfarm_live_supervisors gauge\n")
	fmt.Fprintf(w, "renderfarm_live_supervisors %d\n", len(s.registry.Snapshot()))
}
