// Command rgbdvo runs direct RGB-D visual odometry over a TUM-format
// sequence.
//
// Usage:
//
//	go run ./cmd/rgbdvo -dataset path/to/rgbd_dataset_freiburg1_xyz [flags]
//
// The estimated trajectory can be recorded to SQLite (-db), streamed live
// over gRPC (-grpc-listen), rendered as PNG plots (-plots) and as an HTML
// report (-report). With -debug-listen the /debug/ pages expose the
// trajectory database through tailsql.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/banshee-data/rgbdvo/internal/config"
	"github.com/banshee-data/rgbdvo/internal/dataset"
	"github.com/banshee-data/rgbdvo/internal/evaluation"
	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/report"
	"github.com/banshee-data/rgbdvo/internal/storage/sqlite"
	"github.com/banshee-data/rgbdvo/internal/tracker"
	"github.com/banshee-data/rgbdvo/internal/version"
	"github.com/banshee-data/rgbdvo/internal/visualiser"
	"github.com/banshee-data/rgbdvo/internal/vo"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "rgbdvo: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	dataset     string
	configPath  string
	dbPath      string
	plotsDir    string
	reportPath  string
	grpcListen  string
	debugListen string
	intrinsics  string
	maxFrames   int
	trace       bool
	jsonLogs    bool
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("rgbdvo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.dataset, "dataset", "", "TUM RGB-D sequence directory (rgb.txt, depth.txt)")
	fs.StringVar(&o.configPath, "config", "", "Tuning config JSON (default: built-in values)")
	fs.StringVar(&o.dbPath, "db", "", "SQLite file to record the run into")
	fs.StringVar(&o.plotsDir, "plots", "", "Directory for trajectory and convergence PNGs")
	fs.StringVar(&o.reportPath, "report", "", "Write an HTML report to this path")
	fs.StringVar(&o.grpcListen, "grpc-listen", "", "Stream poses over gRPC on this address")
	fs.StringVar(&o.debugListen, "debug-listen", "", "Serve /debug/ pages on this address")
	fs.StringVar(&o.intrinsics, "intrinsics", "", "Camera intrinsics fx,fy,cx,cy (default: TUM Freiburg)")
	fs.IntVar(&o.maxFrames, "max-frames", 0, "Stop after this many frames (0 = all)")
	fs.BoolVar(&o.trace, "trace", false, "Log every Gauss-Newton iteration")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "Log JSON lines instead of console output")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !o.showVersion && o.dataset == "" {
		return o, fmt.Errorf("-dataset is required")
	}
	return o, nil
}

func parseIntrinsics(s string) (se3.Intrinsics, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return se3.Intrinsics{}, fmt.Errorf("intrinsics %q: want fx,fy,cx,cy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return se3.Intrinsics{}, fmt.Errorf("intrinsics %q: %w", s, err)
		}
		v[i] = f
	}
	k := se3.Intrinsics{Fx: v[0], Fy: v[1], Cx: v[2], Cy: v[3]}
	if !k.Valid() {
		return se3.Intrinsics{}, fmt.Errorf("intrinsics %q: %w", s, se3.ErrInvalidIntrinsics)
	}
	return k, nil
}

func setupLogging(o options, stderr io.Writer) {
	var w io.Writer = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	if o.jsonLogs {
		w = stderr
	}
	monitoring.SetLogger(monitoring.ZerologLogf(zerolog.New(w).With().Timestamp().Logger()))
	monitoring.SetTrace(o.trace)
}

// collector keeps every frame for evaluation and reporting.
type collector struct {
	frames []tracker.FrameResult
}

func (c *collector) OnKeyframe(context.Context, tracker.KeyframeEvent) error { return nil }

func (c *collector) OnFrame(_ context.Context, fr tracker.FrameResult) error {
	c.frames = append(c.frames, fr)
	return nil
}

func (c *collector) timedPoses() []evaluation.TimedPose {
	out := make([]evaluation.TimedPose, len(c.frames))
	for i, f := range c.frames {
		out[i] = evaluation.TimedPose{Timestamp: f.Timestamp, Pose: f.Pose}
	}
	return out
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}
	setupLogging(o, stderr)

	cfg := config.EmptyTuningConfig()
	if o.configPath != "" {
		if cfg, err = config.LoadTuningConfig(o.configPath); err != nil {
			return err
		}
	}

	seq, err := dataset.Open(o.dataset, cfg.GetAssociationMaxDt())
	if err != nil {
		return err
	}
	if o.intrinsics != "" {
		if seq.Intrinsics, err = parseIntrinsics(o.intrinsics); err != nil {
			return err
		}
	}

	voOpts, err := vo.OptionsFromTuning(cfg)
	if err != nil {
		return err
	}
	opt := vo.NewOptimizer(vo.ParamsFromTuning(cfg), voOpts...)

	frames := &collector{}
	sinks := []tracker.Sink{frames}

	var (
		db    *sqlite.DB
		store *sqlite.TrajectoryStore
		dbRun *sqlite.Run
	)
	if o.dbPath != "" {
		if db, err = sqlite.Open(o.dbPath); err != nil {
			return err
		}
		defer db.Close()
		if err := db.MigrateUp(); err != nil {
			return err
		}
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		store = sqlite.NewTrajectoryStore(db.DB)
		dbRun = &sqlite.Run{Dataset: seq.Name, ConfigJSON: cfgJSON}
		if err := store.InsertRun(dbRun); err != nil {
			return err
		}
		sinks = append(sinks, store.Sink(dbRun.RunID))
		monitoring.Logf("[rgbdvo] recording run %s into %s", dbRun.RunID, o.dbPath)
	}

	if o.grpcListen != "" {
		vcfg := visualiser.DefaultConfig()
		vcfg.ListenAddr = o.grpcListen
		pub := visualiser.NewPublisher(vcfg)
		if err := pub.Start(); err != nil {
			return err
		}
		defer pub.Stop()
		sinks = append(sinks, pub)
	}

	if o.debugListen != "" {
		mux := http.NewServeMux()
		if db != nil {
			if err := db.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		server := &http.Server{Addr: o.debugListen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				monitoring.Logf("[rgbdvo] debug server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	tr := tracker.New(tracker.ConfigFromTuning(cfg, seq.Intrinsics), opt, sinks...)
	sum, err := tr.Run(ctx, seq, o.maxFrames)
	if err != nil {
		return err
	}

	rep := report.Run{Name: seq.Name, Frames: frames.frames}
	if seq.GroundTruth != nil {
		est := frames.timedPoses()
		ate, err := evaluation.AbsoluteTrajectoryError(est, seq.GroundTruth, cfg.GetAssociationMaxDt())
		switch {
		case errors.Is(err, evaluation.ErrNoMatches):
			monitoring.Logf("[rgbdvo] no ground-truth poses within %gs of the estimates", cfg.GetAssociationMaxDt())
		case err != nil:
			return err
		default:
			rep.ATE = &ate
			rep.GroundTruth, _ = evaluation.GroundTruthPositions(est, seq.GroundTruth, cfg.GetAssociationMaxDt())
		}
	}

	if store != nil {
		var rmse *float64
		if rep.ATE != nil {
			rmse = &rep.ATE.RMSE
		}
		if err := store.FinishRun(dbRun.RunID, sum.Frames, sum.Keyframes, rmse); err != nil {
			return err
		}
	}

	if o.plotsDir != "" {
		if err := report.PlotTrajectory(rep, filepath.Join(o.plotsDir, "trajectory.png")); err != nil {
			return err
		}
		if err := report.PlotConvergence(rep, filepath.Join(o.plotsDir, "convergence.png")); err != nil {
			return err
		}
	}
	if o.reportPath != "" {
		if err := writeReport(o.reportPath, rep); err != nil {
			return err
		}
	}

	fmt.Fprintf(stdout, "%s: %d frames, %d keyframes, %d degenerate, %d iterations in %v\n",
		seq.Name, sum.Frames, sum.Keyframes, sum.Degenerate, sum.Iterations, sum.Elapsed.Round(time.Millisecond))
	if rep.ATE != nil {
		fmt.Fprintf(stdout, "ATE: rmse=%.4fm mean=%.4fm median=%.4fm max=%.4fm (n=%d)\n",
			rep.ATE.RMSE, rep.ATE.Mean, rep.ATE.Median, rep.ATE.Max, rep.ATE.N)
	}
	if dbRun != nil {
		fmt.Fprintf(stdout, "run: %s\n", dbRun.RunID)
	}
	return nil
}

func writeReport(path string, rep report.Run) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.RenderHTML(f, rep); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
