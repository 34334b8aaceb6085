package sqlite

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rgbdvo/internal/httputil"
)

const defaultRunsLimit = 50

// AttachAdminRoutes mounts the debug index on mux with a live SQL console
// over the trajectory database and JSON listings of runs and frames.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://rgbdvo.db", db.DB, &tailsql.DBOptions{
		Label: "Trajectory DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	store := NewTrajectoryStore(db.DB)
	debug.Handle("runs", "Recorded odometry runs (JSON, ?limit=)", http.HandlerFunc(store.handleRuns))
	debug.Handle("frames", "Frames of a run (JSON, ?run_id=)", http.HandlerFunc(store.handleFrames))
	return nil
}

func (s *TrajectoryStore) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := httputil.QueryInt(r, "limit", defaultRunsLimit)
	if !ok {
		httputil.BadRequest(w, "limit must be a non-negative integer")
		return
	}
	runs, err := s.ListRuns()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list runs: %v", err))
		return
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []*Run{}
	}
	httputil.WriteJSON(w, http.StatusOK, runs)
}

func (s *TrajectoryStore) handleFrames(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		httputil.BadRequest(w, "run_id is required")
		return
	}
	if _, err := s.GetRun(runID); errors.Is(err, ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	} else if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	frames, err := s.ListFrames(runID)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list frames: %v", err))
		return
	}
	if frames == nil {
		frames = []*FrameRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, frames)
}
