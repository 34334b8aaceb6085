package imgproc

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Backend performs the data-parallel stages of an alignment iteration. Both
// operations are pure maps over independent elements; implementations may
// split the work however they like but must produce identical output.
type Backend interface {
	// ProjectPoints writes P·[p 1]ᵀ dehomogenised into dst for each point.
	// P is a row-major 4x4 projection (intrinsics times pose). Points on or
	// behind the image plane are written as NaN.
	ProjectPoints(dst []r2.Vec, P [16]float64, points []r3.Vec)

	// WarpBilinear samples img at each coordinate. valid[i] is false when
	// the coordinate cannot be sampled (outside the image with a one-pixel
	// margin, or NaN); dst[i] is then left at zero.
	WarpBilinear(dst []float32, valid []bool, coords []r2.Vec, img *Image)
}

// ScalarBackend runs every batch on the calling goroutine.
type ScalarBackend struct{}

// ProjectPoints implements Backend.
func (ScalarBackend) ProjectPoints(dst []r2.Vec, P [16]float64, points []r3.Vec) {
	projectRange(dst, P, points, 0, len(points))
}

// WarpBilinear implements Backend.
func (ScalarBackend) WarpBilinear(dst []float32, valid []bool, coords []r2.Vec, img *Image) {
	warpRange(dst, valid, coords, img, 0, len(coords))
}

// ParallelBackend splits batches into chunks processed concurrently.
// Batches smaller than MinChunk are run inline.
type ParallelBackend struct {
	Workers  int
	MinChunk int
}

// NewParallelBackend returns a backend using the given number of workers;
// workers <= 0 selects GOMAXPROCS.
func NewParallelBackend(workers int) *ParallelBackend {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ParallelBackend{Workers: workers, MinChunk: 2048}
}

func (b *ParallelBackend) run(n int, fn func(lo, hi int)) {
	workers := b.Workers
	if workers < 1 {
		workers = 1
	}
	minChunk := b.MinChunk
	if minChunk < 1 {
		minChunk = 1
	}
	if workers == 1 || n <= minChunk {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	if chunk < minChunk {
		chunk = minChunk
	}

	var g errgroup.Group
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait() // chunks never fail
}

// ProjectPoints implements Backend.
func (b *ParallelBackend) ProjectPoints(dst []r2.Vec, P [16]float64, points []r3.Vec) {
	b.run(len(points), func(lo, hi int) { projectRange(dst, P, points, lo, hi) })
}

// WarpBilinear implements Backend.
func (b *ParallelBackend) WarpBilinear(dst []float32, valid []bool, coords []r2.Vec, img *Image) {
	b.run(len(coords), func(lo, hi int) { warpRange(dst, valid, coords, img, lo, hi) })
}

func projectRange(dst []r2.Vec, P [16]float64, points []r3.Vec, lo, hi int) {
	nan := math.NaN()
	for i := lo; i < hi; i++ {
		p := points[i]
		x := P[0]*p.X + P[1]*p.Y + P[2]*p.Z + P[3]
		y := P[4]*p.X + P[5]*p.Y + P[6]*p.Z + P[7]
		z := P[8]*p.X + P[9]*p.Y + P[10]*p.Z + P[11]
		if z <= 0 {
			dst[i] = r2.Vec{X: nan, Y: nan}
			continue
		}
		dst[i] = r2.Vec{X: x / z, Y: y / z}
	}
}

func warpRange(dst []float32, valid []bool, coords []r2.Vec, img *Image, lo, hi int) {
	for i := lo; i < hi; i++ {
		c := coords[i]
		if !img.InBounds(c.X, c.Y) {
			dst[i] = 0
			valid[i] = false
			continue
		}
		dst[i] = img.Bilinear(c.X, c.Y)
		valid[i] = true
	}
}
