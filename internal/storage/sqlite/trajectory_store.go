package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Run is one pass of the tracker over a dataset.
type Run struct {
	RunID         string          `json:"run_id"`
	Dataset       string          `json:"dataset"`
	ConfigJSON    json.RawMessage `json:"config_json,omitempty"`
	StartedAtNs   int64           `json:"started_at_ns"`
	FinishedAtNs  int64           `json:"finished_at_ns,omitempty"`
	FrameCount    int             `json:"frame_count"`
	KeyframeCount int             `json:"keyframe_count"`
	ATERMSE       *float64        `json:"ate_rmse,omitempty"`
}

// FrameRecord is one tracked frame.
type FrameRecord struct {
	FrameIndex      int        `json:"frame_index"`
	Timestamp       float64    `json:"timestamp"`
	KeyframeID      string     `json:"keyframe_id"`
	NewKeyframe     bool       `json:"new_keyframe"`
	Status          string     `json:"status"`
	Iterations      int        `json:"iterations"`
	NumPixels       int        `json:"num_pixels"`
	PixelPercentage float64    `json:"pixel_percentage"`
	Cost            float64    `json:"cost"`
	Pose            se3.Matrix `json:"pose"`
	DurationNs      int64      `json:"duration_ns"`
}

// KeyframeRecord is one keyframe of a run.
type KeyframeRecord struct {
	KeyframeID string     `json:"keyframe_id"`
	FrameIndex int        `json:"frame_index"`
	Timestamp  float64    `json:"timestamp"`
	NumPoints  int        `json:"num_points"`
	Pose       se3.Matrix `json:"pose"`
}

// TrajectoryStore provides persistence for runs, frames and keyframes.
type TrajectoryStore struct {
	db *sql.DB
}

// NewTrajectoryStore creates a store over a migrated database.
func NewTrajectoryStore(db *sql.DB) *TrajectoryStore {
	return &TrajectoryStore{db: db}
}

// InsertRun persists a new run. An empty RunID gets a UUID and a zero
// StartedAtNs the current time.
func (s *TrajectoryStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtNs == 0 {
		run.StartedAtNs = time.Now().UnixNano()
	}
	var cfg interface{}
	if len(run.ConfigJSON) > 0 {
		cfg = string(run.ConfigJSON)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO vo_runs (run_id, dataset, config_json, started_at_ns)
			VALUES (?, ?, ?, ?)`,
			run.RunID, run.Dataset, cfg, run.StartedAtNs,
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		return nil
	})
}

// FinishRun records the end of a run. ate may be nil when there is no
// ground truth.
func (s *TrajectoryStore) FinishRun(runID string, frames, keyframes int, ate *float64) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`
			UPDATE vo_runs
			SET finished_at_ns = ?, frame_count = ?, keyframe_count = ?, ate_rmse = ?
			WHERE run_id = ?`,
			time.Now().UnixNano(), frames, keyframes, ate, runID,
		)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

const runColumns = `run_id, dataset, config_json, started_at_ns, finished_at_ns, frame_count, keyframe_count, ate_rmse`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var cfg sql.NullString
	var finished sql.NullInt64
	var ate sql.NullFloat64
	if err := row.Scan(&r.RunID, &r.Dataset, &cfg, &r.StartedAtNs, &finished, &r.FrameCount, &r.KeyframeCount, &ate); err != nil {
		return nil, err
	}
	if cfg.Valid {
		r.ConfigJSON = json.RawMessage(cfg.String)
	}
	r.FinishedAtNs = finished.Int64
	if ate.Valid {
		v := ate.Float64
		r.ATERMSE = &v
	}
	return &r, nil
}

// GetRun returns a run by ID.
func (s *TrajectoryStore) GetRun(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM vo_runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (s *TrajectoryStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT ` + runColumns + ` FROM vo_runs ORDER BY started_at_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertKeyframe persists a keyframe of runID.
func (s *TrajectoryStore) InsertKeyframe(runID string, kf *KeyframeRecord) error {
	pose, err := json.Marshal(kf.Pose)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO vo_keyframes (keyframe_id, run_id, frame_index, timestamp, num_points, pose_json)
			VALUES (?, ?, ?, ?, ?, ?)`,
			kf.KeyframeID, runID, kf.FrameIndex, kf.Timestamp, kf.NumPoints, string(pose),
		)
		if err != nil {
			return fmt.Errorf("insert keyframe: %w", err)
		}
		return nil
	})
}

// ListKeyframes returns the keyframes of runID in frame order.
func (s *TrajectoryStore) ListKeyframes(runID string) ([]*KeyframeRecord, error) {
	rows, err := s.db.Query(`
		SELECT keyframe_id, frame_index, timestamp, num_points, pose_json
		FROM vo_keyframes
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query keyframes: %w", err)
	}
	defer rows.Close()

	var out []*KeyframeRecord
	for rows.Next() {
		var kf KeyframeRecord
		var pose string
		if err := rows.Scan(&kf.KeyframeID, &kf.FrameIndex, &kf.Timestamp, &kf.NumPoints, &pose); err != nil {
			return nil, fmt.Errorf("scan keyframe: %w", err)
		}
		if err := json.Unmarshal([]byte(pose), &kf.Pose); err != nil {
			return nil, fmt.Errorf("decode keyframe pose: %w", err)
		}
		out = append(out, &kf)
	}
	return out, rows.Err()
}

// InsertFrame persists a tracked frame of runID.
func (s *TrajectoryStore) InsertFrame(runID string, fr *FrameRecord) error {
	pose, err := json.Marshal(fr.Pose)
	if err != nil {
		return fmt.Errorf("marshal pose: %w", err)
	}
	t := fr.Pose.TranslationVec()
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO vo_frames (
				run_id, frame_index, timestamp, keyframe_id, new_keyframe, status,
				iterations, num_pixels, pixel_percentage, cost,
				tx, ty, tz, pose_json, duration_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, fr.FrameIndex, fr.Timestamp, fr.KeyframeID, fr.NewKeyframe, fr.Status,
			fr.Iterations, fr.NumPixels, fr.PixelPercentage, fr.Cost,
			t.X, t.Y, t.Z, string(pose), fr.DurationNs,
		)
		if err != nil {
			return fmt.Errorf("insert frame: %w", err)
		}
		return nil
	})
}

// ListFrames returns the frames of runID in order.
func (s *TrajectoryStore) ListFrames(runID string) ([]*FrameRecord, error) {
	rows, err := s.db.Query(`
		SELECT frame_index, timestamp, keyframe_id, new_keyframe, status,
		       iterations, num_pixels, pixel_percentage, cost, pose_json, duration_ns
		FROM vo_frames
		WHERE run_id = ?
		ORDER BY frame_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	var out []*FrameRecord
	for rows.Next() {
		var fr FrameRecord
		var pose string
		if err := rows.Scan(&fr.FrameIndex, &fr.Timestamp, &fr.KeyframeID, &fr.NewKeyframe, &fr.Status,
			&fr.Iterations, &fr.NumPixels, &fr.PixelPercentage, &fr.Cost, &pose, &fr.DurationNs); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if err := json.Unmarshal([]byte(pose), &fr.Pose); err != nil {
			return nil, fmt.Errorf("decode frame pose: %w", err)
		}
		out = append(out, &fr)
	}
	return out, rows.Err()
}

// Sink returns a tracker.Sink recording into runID.
func (s *TrajectoryStore) Sink(runID string) tracker.Sink {
	return runSink{store: s, runID: runID}
}

type runSink struct {
	store *TrajectoryStore
	runID string
}

func (r runSink) OnKeyframe(_ context.Context, ev tracker.KeyframeEvent) error {
	return r.store.InsertKeyframe(r.runID, &KeyframeRecord{
		KeyframeID: ev.ID.String(),
		FrameIndex: ev.FrameIndex,
		Timestamp:  ev.Timestamp,
		NumPoints:  ev.NumPoints,
		Pose:       ev.Pose,
	})
}

func (r runSink) OnFrame(_ context.Context, fr tracker.FrameResult) error {
	return r.store.InsertFrame(r.runID, &FrameRecord{
		FrameIndex:      fr.Index,
		Timestamp:       fr.Timestamp,
		KeyframeID:      fr.KeyframeID.String(),
		NewKeyframe:     fr.NewKeyframe,
		Status:          fr.Result.Status.String(),
		Iterations:      fr.Result.TotalIterations(),
		NumPixels:       fr.Result.NumPixels,
		PixelPercentage: fr.Result.PixelPercentage,
		Cost:            fr.Result.Cost,
		Pose:            fr.Pose,
		DurationNs:      fr.Duration.Nanoseconds(),
	})
}
