package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rgbdvo/internal/timeutil"
	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/vo"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.MigrateUp())
	return db
}

func TestOpenAppliesPragmas(t *testing.T) {
	db := setupTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Up again is a no-op.
	require.NoError(t, db.MigrateUp())

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vo_frames'`).Scan(&n))
	assert.Zero(t, n, "vo_frames should be dropped")

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestMigrateVersionFresh(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}

func TestRunLifecycle(t *testing.T) {
	db := setupTestDB(t)
	store := NewTrajectoryStore(db.DB)

	run := &Run{Dataset: "fr1_xyz", ConfigJSON: json.RawMessage(`{"max_iterations":10}`)}
	require.NoError(t, store.InsertRun(run))
	require.NotEmpty(t, run.RunID)
	require.NotZero(t, run.StartedAtNs)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "fr1_xyz", got.Dataset)
	assert.JSONEq(t, `{"max_iterations":10}`, string(got.ConfigJSON))
	assert.Nil(t, got.ATERMSE)
	assert.Zero(t, got.FinishedAtNs)

	ate := 0.042
	require.NoError(t, store.FinishRun(run.RunID, 120, 7, &ate))
	got, err = store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, 120, got.FrameCount)
	assert.Equal(t, 7, got.KeyframeCount)
	require.NotNil(t, got.ATERMSE)
	assert.InDelta(t, 0.042, *got.ATERMSE, 1e-12)
	assert.NotZero(t, got.FinishedAtNs)

	_, err = store.GetRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.ErrorIs(t, store.FinishRun("missing", 0, 0, nil), ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	store := NewTrajectoryStore(db.DB)

	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, store.InsertRun(&Run{Dataset: name, StartedAtNs: int64(1000 + i)}))
	}
	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].Dataset)
	assert.Equal(t, "a", runs[2].Dataset)
}

func TestFramesAndKeyframes(t *testing.T) {
	db := setupTestDB(t)
	store := NewTrajectoryStore(db.DB)
	run := &Run{Dataset: "synthetic"}
	require.NoError(t, store.InsertRun(run))

	kfPose := se3.Translation(0.1, 0, 0)
	kf := &KeyframeRecord{KeyframeID: uuid.NewString(), FrameIndex: 0, Timestamp: 1.0, NumPoints: 1234, Pose: kfPose}
	require.NoError(t, store.InsertKeyframe(run.RunID, kf))

	pose := se3.Exp([6]float64{0.01, 0.02, 0.03, 0.1, 0.2, 0.3})
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertFrame(run.RunID, &FrameRecord{
			FrameIndex:      i,
			Timestamp:       1.0 + float64(i)/30,
			KeyframeID:      kf.KeyframeID,
			NewKeyframe:     i == 0,
			Status:          vo.StatusConverged.String(),
			Iterations:      4 + i,
			NumPixels:       1000,
			PixelPercentage: 0.9,
			Cost:            0.5,
			Pose:            pose,
			DurationNs:      int64(time.Millisecond),
		}))
	}

	frames, err := store.ListFrames(run.RunID)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.True(t, frames[0].NewKeyframe)
	assert.False(t, frames[1].NewKeyframe)
	assert.Equal(t, 6, frames[2].Iterations)
	assert.Equal(t, pose, frames[1].Pose)
	assert.Equal(t, "converged", frames[0].Status)

	var tx float64
	require.NoError(t, db.QueryRow(`SELECT tx FROM vo_frames WHERE run_id = ? AND frame_index = 1`, run.RunID).Scan(&tx))
	assert.InDelta(t, pose.TranslationVec().X, tx, 1e-12)

	kfs, err := store.ListKeyframes(run.RunID)
	require.NoError(t, err)
	require.Len(t, kfs, 1)
	assert.Equal(t, kfPose, kfs[0].Pose)
	assert.Equal(t, 1234, kfs[0].NumPoints)

	// Frames must reference a stored keyframe.
	err = store.InsertFrame(run.RunID, &FrameRecord{FrameIndex: 9, KeyframeID: "nope", Status: "none", Pose: pose})
	assert.Error(t, err)
}

func TestRunSinkRecordsTracking(t *testing.T) {
	db := setupTestDB(t)
	store := NewTrajectoryStore(db.DB)
	run := &Run{Dataset: "sink"}
	require.NoError(t, store.InsertRun(run))
	sink := store.Sink(run.RunID)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, sink.OnKeyframe(ctx, tracker.KeyframeEvent{ID: id, FrameIndex: 0, Timestamp: 5, Pose: se3.Identity(), NumPoints: 10}))
	require.NoError(t, sink.OnFrame(ctx, tracker.FrameResult{
		Index:      1,
		Timestamp:  5.1,
		Pose:       se3.Translation(0.01, 0, 0),
		KeyframeID: id,
		Result: vo.Result{
			Status:          vo.StatusMaxIterations,
			NumPixels:       77,
			PixelPercentage: 0.77,
			Levels:          []vo.LevelResult{{Iterations: 3}, {Iterations: 2}},
		},
		Duration: 2 * time.Millisecond,
	}))

	frames, err := store.ListFrames(run.RunID)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, id.String(), frames[0].KeyframeID)
	assert.Equal(t, "max_iterations", frames[0].Status)
	assert.Equal(t, 5, frames[0].Iterations)
	assert.Equal(t, int64(2*time.Millisecond), frames[0].DurationNs)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, endpoint := range []string{"/debug/tailsql/", "/debug/runs"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			req.RemoteAddr = "127.0.0.1:4242"
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			// Debug routes may refuse non-tailnet callers, but must exist.
			assert.NotEqual(t, http.StatusNotFound, w.Code)
			assert.NotEqual(t, http.StatusInternalServerError, w.Code)
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	mock := timeutil.NewMockClock(time.Unix(0, 0))
	defer func(c timeutil.Clock) { clock = c }(clock)
	clock = mock

	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, mock.Sleeps())

	calls = 0
	boom := errors.New("constraint failed")
	assert.ErrorIs(t, retryOnBusy(func() error { calls++; return boom }), boom)
	assert.Equal(t, 1, calls)

	calls = 0
	locked := errors.New("database is locked")
	assert.ErrorIs(t, retryOnBusy(func() error { calls++; return locked }), locked)
	assert.Equal(t, busyRetries, calls)

	assert.False(t, isSQLiteBusy(nil))
	assert.True(t, isSQLiteBusy(errors.New("SQLITE_BUSY")))
}

func TestRunsAndFramesHandlers(t *testing.T) {
	db := setupTestDB(t)
	store := NewTrajectoryStore(db.DB)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertRun(&Run{Dataset: "seq", StartedAtNs: int64(i + 1)}))
	}
	run := &Run{Dataset: "latest", StartedAtNs: 100}
	require.NoError(t, store.InsertRun(run))
	kf := &KeyframeRecord{KeyframeID: uuid.NewString(), Pose: se3.Identity()}
	require.NoError(t, store.InsertKeyframe(run.RunID, kf))
	require.NoError(t, store.InsertFrame(run.RunID, &FrameRecord{KeyframeID: kf.KeyframeID, Status: "converged", Pose: se3.Identity()}))

	serve := func(h http.HandlerFunc, target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	w := serve(store.handleRuns, "/debug/runs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "latest", runs[0].Dataset)

	assert.Equal(t, http.StatusBadRequest, serve(store.handleRuns, "/debug/runs?limit=x").Code)

	w = serve(store.handleFrames, "/debug/frames?run_id="+run.RunID)
	require.Equal(t, http.StatusOK, w.Code)
	var frames []FrameRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &frames))
	require.Len(t, frames, 1)
	assert.Equal(t, se3.Identity(), frames[0].Pose)

	assert.Equal(t, http.StatusBadRequest, serve(store.handleFrames, "/debug/frames").Code)
	assert.Equal(t, http.StatusNotFound, serve(store.handleFrames, "/debug/frames?run_id=missing").Code)
}
