package main

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/storage/sqlite"
	"github.com/banshee-data/rgbdvo/internal/testutil"
	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/version"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

const testConfig = `{
  "gradient_threshold": 0.005,
  "pyramid_levels": 3,
  "parallel_workers": 2,
  "association_max_dt": 0.02
}`

func TestRunEndToEnd(t *testing.T) {
	defer monitoring.SetLogger(log.Printf)
	defer monitoring.SetTrace(false)

	dir := t.TempDir()
	seqDir := filepath.Join(dir, "synthetic_xyz")
	testutil.WriteTUMSequence(t, seqDir, testutil.DefaultScene(), 5, 0.005)
	cfgPath := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o644))

	dbPath := filepath.Join(dir, "runs.db")
	plots := filepath.Join(dir, "plots")
	reportPath := filepath.Join(dir, "out", "report.html")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-dataset", seqDir,
		"-config", cfgPath,
		"-db", dbPath,
		"-plots", plots,
		"-report", reportPath,
		"-intrinsics", "100,100,79.5,59.5",
		"-max-frames", "4",
		"-json-logs",
	}, &stdout, &stderr)
	require.NoError(t, err, "stderr: %s", stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "synthetic_xyz: 4 frames")
	assert.Contains(t, out, "ATE: rmse=")
	assert.Contains(t, out, "run: ")
	assert.Contains(t, stderr.String(), `"component":"tracker"`)

	for _, p := range []string{
		filepath.Join(plots, "trajectory.png"),
		filepath.Join(plots, "convergence.png"),
		reportPath,
	} {
		info, err := os.Stat(p)
		if assert.NoError(t, err, p) {
			assert.NotZero(t, info.Size(), p)
		}
	}

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	store := sqlite.NewTrajectoryStore(db.DB)
	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "synthetic_xyz", runs[0].Dataset)
	assert.Equal(t, 4, runs[0].FrameCount)
	assert.NotNil(t, runs[0].ATERMSE)
	assert.Contains(t, string(runs[0].ConfigJSON), "gradient_threshold")

	frames, err := store.ListFrames(runs[0].RunID)
	require.NoError(t, err)
	require.Len(t, frames, 4)
	assert.True(t, frames[0].NewKeyframe)
	assert.Equal(t, se3.Identity(), frames[0].Pose)
	kfs, err := store.ListKeyframes(runs[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, runs[0].KeyframeCount, len(kfs))
}

func TestRunVersion(t *testing.T) {
	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &stdout, &bytes.Buffer{}))
	assert.Equal(t, version.String()+"\n", stdout.String())
}

func TestRunFlagErrors(t *testing.T) {
	defer monitoring.SetLogger(log.Printf)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing dataset", nil, "-dataset is required"},
		{"unknown flag", []string{"-bogus"}, "flag provided but not defined"},
		{"missing directory", []string{"-dataset", filepath.Join(t.TempDir(), "nope")}, "rgb.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), tc.args, &bytes.Buffer{}, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestRunCancelled(t *testing.T) {
	defer monitoring.SetLogger(log.Printf)

	seqDir := filepath.Join(t.TempDir(), "seq")
	testutil.WriteTUMSequence(t, seqDir, testutil.DefaultScene(), 2, 0.005)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, []string{"-dataset", seqDir}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}

func TestParseIntrinsics(t *testing.T) {
	k, err := parseIntrinsics("525, 525, 319.5, 239.5")
	require.NoError(t, err)
	assert.Equal(t, se3.Intrinsics{Fx: 525, Fy: 525, Cx: 319.5, Cy: 239.5}, k)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "0,525,1,1"} {
		_, err := parseIntrinsics(bad)
		assert.Error(t, err, bad)
	}
	_, err = parseIntrinsics("-1,525,1,1")
	assert.True(t, errors.Is(err, se3.ErrInvalidIntrinsics))
}

func TestCollectorTimedPoses(t *testing.T) {
	c := &collector{}
	assert.Empty(t, c.timedPoses())

	ctx := context.Background()
	require.NoError(t, c.OnKeyframe(ctx, tracker.KeyframeEvent{}))
	for i := 0; i < 3; i++ {
		require.NoError(t, c.OnFrame(ctx, tracker.FrameResult{Index: i, Timestamp: float64(i), Pose: se3.Translation(float64(i), 0, 0)}))
	}
	poses := c.timedPoses()
	require.Len(t, poses, 3)
	assert.Equal(t, 2.0, poses[2].Timestamp)
	assert.Equal(t, se3.Translation(2, 0, 0), poses[2].Pose)
}
