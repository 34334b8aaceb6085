package report

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// PlotTrajectory writes a top view (x against z) of the estimated camera
// path, the ground truth when present, and the keyframe positions. The
// image format follows the file extension.
func PlotTrajectory(run Run, path string) error {
	if err := run.validate(); err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Trajectory (top view)", run.Name)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"
	p.Add(plotter.NewGrid())

	est := make(plotter.XYs, 0, len(run.Frames))
	var kfs plotter.XYs
	for _, f := range run.Frames {
		xy := topView(f.Pose.TranslationVec())
		est = append(est, xy)
		if f.NewKeyframe {
			kfs = append(kfs, xy)
		}
	}

	if len(run.GroundTruth) > 0 {
		gt := make(plotter.XYs, len(run.GroundTruth))
		for i, c := range run.GroundTruth {
			gt[i] = topView(c)
		}
		gtLine, err := plotter.NewLine(gt)
		if err != nil {
			return err
		}
		gtLine.Color = truthColor
		gtLine.Width = vg.Points(1)
		gtLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(gtLine)
		p.Legend.Add("ground truth", gtLine)
	}

	estLine, err := plotter.NewLine(est)
	if err != nil {
		return err
	}
	estLine.Color = estimateColor
	estLine.Width = vg.Points(1)
	p.Add(estLine)
	p.Legend.Add("estimate", estLine)

	if len(kfs) > 0 {
		sc, err := plotter.NewScatter(kfs)
		if err != nil {
			return err
		}
		sc.GlyphStyle.Color = keyframeColor
		sc.GlyphStyle.Radius = vg.Points(2.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add("keyframe", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := ensureDir(path); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save trajectory plot: %w", err)
	}
	return nil
}

func topView(c r3.Vec) plotter.XY {
	return plotter.XY{X: c.X, Y: c.Z}
}

// PlotConvergence writes a PNG with three stacked per-frame panels: the
// final cost, the percentage of keyframe pixels used and the total
// Gauss-Newton iterations.
func PlotConvergence(run Run, path string) error {
	if err := run.validate(); err != nil {
		return err
	}

	cost := make(plotter.XYs, len(run.Frames))
	pixels := make(plotter.XYs, len(run.Frames))
	iters := make(plotter.XYs, len(run.Frames))
	for i, f := range run.Frames {
		x := float64(f.Index)
		cost[i] = plotter.XY{X: x, Y: f.Result.Cost}
		pixels[i] = plotter.XY{X: x, Y: 100 * f.Result.PixelPercentage}
		iters[i] = plotter.XY{X: x, Y: float64(f.Result.TotalIterations())}
	}

	panels := []struct {
		title, ylabel string
		data          plotter.XYs
	}{
		{"Cost", "Weighted squared residual", cost},
		{"Pixels used", "Pixels (%)", pixels},
		{"Iterations", "Gauss-Newton iterations", iters},
	}

	plots := make([][]*plot.Plot, len(panels))
	for i, panel := range panels {
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s - %s", run.Name, panel.title)
		p.X.Label.Text = "Frame"
		p.Y.Label.Text = panel.ylabel
		line, err := plotter.NewLine(panel.data)
		if err != nil {
			return fmt.Errorf("%s: %w", panel.title, err)
		}
		line.Width = vg.Points(1)
		line.Color = estimateColor
		if i == 1 {
			line.Color = pixelsColor
		}
		p.Add(line)
		plots[i] = []*plot.Plot{p}
	}

	img := vgimg.New(14*vg.Inch, 10*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: len(plots),
		Cols: 1,
		PadX: vg.Millimeter,
		PadY: 4 * vg.Millimeter,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		plots[i][0].Draw(canvases[i][0])
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write convergence plot: %w", err)
	}
	return f.Close()
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}
