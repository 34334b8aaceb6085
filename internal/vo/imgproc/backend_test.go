package imgproc

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestBackends_ProduceIdenticalOutput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	img := NewImage(64, 48)
	for i := range img.Pix {
		img.Pix[i] = rng.Float32()
	}

	const n = 10000
	points := make([]r3.Vec, n)
	for i := range points {
		points[i] = r3.Vec{X: rng.Float64()*2 - 1, Y: rng.Float64()*2 - 1, Z: rng.Float64()*3 - 0.5}
	}
	P := [16]float64{
		40, 0, 32, 0.1,
		0, 40, 24, -0.05,
		0, 0, 1, 0.02,
		0, 0, 0, 1,
	}

	scalarPts := make([]r2.Vec, n)
	parallelPts := make([]r2.Vec, n)
	ScalarBackend{}.ProjectPoints(scalarPts, P, points)
	par := &ParallelBackend{Workers: 4, MinChunk: 100}
	par.ProjectPoints(parallelPts, P, points)

	for i := range scalarPts {
		a, b := scalarPts[i], parallelPts[i]
		if math.IsNaN(a.X) != math.IsNaN(b.X) || (!math.IsNaN(a.X) && a != b) {
			t.Fatalf("projection %d differs: %v vs %v", i, a, b)
		}
	}

	scalarVals, parallelVals := make([]float32, n), make([]float32, n)
	scalarValid, parallelValid := make([]bool, n), make([]bool, n)
	ScalarBackend{}.WarpBilinear(scalarVals, scalarValid, scalarPts, img)
	par.WarpBilinear(parallelVals, parallelValid, parallelPts, img)

	var valid int
	for i := 0; i < n; i++ {
		if scalarVals[i] != parallelVals[i] || scalarValid[i] != parallelValid[i] {
			t.Fatalf("sample %d differs", i)
		}
		if scalarValid[i] {
			valid++
		}
	}
	if valid == 0 || valid == n {
		t.Errorf("expected a mix of valid and invalid samples, got %d/%d valid", valid, n)
	}
}

func TestProjectPoints_BehindCamera(t *testing.T) {
	dst := make([]r2.Vec, 1)
	ScalarBackend{}.ProjectPoints(dst, [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}, []r3.Vec{{X: 1, Y: 1, Z: -2}})
	if !math.IsNaN(dst[0].X) {
		t.Errorf("expected NaN for point behind camera, got %v", dst[0])
	}
}

func TestNewParallelBackend_DefaultsWorkers(t *testing.T) {
	b := NewParallelBackend(0)
	if b.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", b.Workers)
	}
}
