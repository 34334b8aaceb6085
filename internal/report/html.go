package report

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost is where the rendered page loads the ECharts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderHTML writes a single page with the trajectory, per-frame cost and
// pixel usage, and iteration counts.
func RenderHTML(w io.Writer, run Run) error {
	if err := run.validate(); err != nil {
		return err
	}

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.SetPageTitle(fmt.Sprintf("rgbdvo - %s", run.Name))
	page.AddCharts(
		trajectoryChart(run),
		costChart(run),
		iterationsChart(run),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

func trajectoryChart(run Run) *charts.Scatter {
	est := make([]opts.ScatterData, 0, len(run.Frames))
	var kfs []opts.ScatterData
	pad := 0.1
	for _, f := range run.Frames {
		c := f.Pose.TranslationVec()
		pad = math.Max(pad, math.Max(math.Abs(c.X), math.Abs(c.Z)))
		pt := opts.ScatterData{Value: []interface{}{c.X, c.Z, f.Index}}
		est = append(est, pt)
		if f.NewKeyframe {
			kfs = append(kfs, pt)
		}
	}
	gt := make([]opts.ScatterData, 0, len(run.GroundTruth))
	for _, c := range run.GroundTruth {
		pad = math.Max(pad, math.Max(math.Abs(c.X), math.Abs(c.Z)))
		gt = append(gt, opts.ScatterData{Value: []interface{}{c.X, c.Z}})
	}
	pad *= 1.1

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "900px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Trajectory (top view)", Subtitle: run.subtitle()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Z (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("estimate", est, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	if len(gt) > 0 {
		scatter.AddSeries("ground truth", gt, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if len(kfs) > 0 {
		scatter.AddSeries("keyframes", kfs, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 9}))
	}
	return scatter
}

func frameLabels(run Run) []string {
	x := make([]string, len(run.Frames))
	for i, f := range run.Frames {
		x[i] = strconv.Itoa(f.Index)
	}
	return x
}

func costChart(run Run) *charts.Line {
	cost := make([]opts.LineData, len(run.Frames))
	pixels := make([]opts.LineData, len(run.Frames))
	for i, f := range run.Frames {
		cost[i] = opts.LineData{Value: f.Result.Cost}
		pixels[i] = opts.LineData{Value: 100 * f.Result.PixelPercentage}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Cost and pixel usage"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
	)
	line.SetXAxis(frameLabels(run)).
		AddSeries("cost", cost).
		AddSeries("pixels %", pixels)
	return line
}

func iterationsChart(run Run) *charts.Bar {
	iters := make([]opts.BarData, len(run.Frames))
	for i, f := range run.Frames {
		iters[i] = opts.BarData{Value: f.Result.TotalIterations()}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Iterations per frame"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame"}),
	)
	bar.SetXAxis(frameLabels(run)).AddSeries("iterations", iters)
	return bar
}
