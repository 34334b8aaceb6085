// Package testutil provides shared test utilities and fixtures: assertion
// helpers and a synthetic textured scene with known geometry for alignment
// tests.
package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertNear fails the test if |got - want| > tol.
func AssertNear(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6g, want %.6g ± %.3g", name, got, want, tol)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Texture is a smooth multi-frequency pattern in [0.1, 0.9]. Its shortest
// wavelength is long enough to survive three pyramid halvings.
func Texture(u, v float64) float32 {
	f := 0.5 +
		0.2*math.Sin(2*math.Pi*u/32)*math.Cos(2*math.Pi*v/24) +
		0.12*math.Sin(2*math.Pi*(u+2*v)/57) +
		0.08*math.Cos(2*math.Pi*(3*u-v)/41)
	return float32(f)
}

// Scene is a fronto-parallel textured plane at constant depth viewed by a
// pinhole camera.
type Scene struct {
	Width, Height int
	Intrinsics    se3.Intrinsics
	Depth         float64 // metres
	DepthScale    float64 // raw units per metre
	DepthMaxRaw   float64
}

// DefaultScene returns a 160x120 camera with a wide field of view looking at
// a plane one metre away.
func DefaultScene() Scene {
	return Scene{
		Width:       160,
		Height:      120,
		Intrinsics:  se3.Intrinsics{Fx: 100, Fy: 100, Cx: 79.5, Cy: 59.5},
		Depth:       1.0,
		DepthScale:  5000,
		DepthMaxRaw: 65535,
	}
}

// Render returns the intensity image seen by a camera translated by tx
// metres along its x axis relative to the reference camera.
func (s Scene) Render(tx float64) *imgproc.Image {
	shift := s.Intrinsics.Fx * tx / s.Depth
	img := imgproc.NewImage(s.Width, s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.Set(x, y, Texture(float64(x)+shift, float64(y)))
		}
	}
	return img
}

// DepthMap returns the normalised raw depth of the plane.
func (s Scene) DepthMap() *imgproc.Image {
	return s.DepthMapFunc(func(int, int) float64 { return s.Depth })
}

// DepthMapFunc returns a normalised raw depth map with metric depth z(x, y).
func (s Scene) DepthMapFunc(z func(x, y int) float64) *imgproc.Image {
	img := imgproc.NewImage(s.Width, s.Height)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			img.Set(x, y, float32(z(x, y)*s.DepthScale/s.DepthMaxRaw))
		}
	}
	return img
}

// Gray16 renders the scene as a 16-bit grey image for file fixtures.
func (s Scene) Gray16(tx float64) *image.Gray16 {
	src := s.Render(tx)
	out := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			out.SetGray16(x, y, color.Gray16{Y: uint16(src.At(x, y)*0xffff + 0.5)})
		}
	}
	return out
}

// DepthGray16 renders the plane's raw depth as a 16-bit image.
func (s Scene) DepthGray16() *image.Gray16 {
	out := image.NewGray16(image.Rect(0, 0, s.Width, s.Height))
	raw := uint16(math.Round(s.Depth * s.DepthScale))
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			out.SetGray16(x, y, color.Gray16{Y: raw})
		}
	}
	return out
}

// MustPyramid builds a pyramid or fails the test.
func MustPyramid(t testing.TB, img *imgproc.Image, levels int) imgproc.Pyramid {
	t.Helper()
	p, err := imgproc.NewPyramid(img, levels)
	if err != nil {
		t.Fatalf("NewPyramid: %v", err)
	}
	return p
}

// WriteTUMSequence writes n frames of the scene in the TUM RGB-D layout under
// dir. Frame i is captured by a camera translated step·i metres along x, at
// timestamp 100 + 0.1·i. The ground-truth file records those poses.
func WriteTUMSequence(t testing.TB, dir string, s Scene, n int, step float64) {
	t.Helper()
	for _, sub := range []string{"rgb", "depth"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	var rgbIdx, depthIdx, gt strings.Builder
	rgbIdx.WriteString("# color images\n# timestamp filename\n")
	depthIdx.WriteString("# depth maps\n# timestamp filename\n")
	gt.WriteString("# ground truth trajectory\n# timestamp tx ty tz qx qy qz qw\n")
	for i := 0; i < n; i++ {
		ts := 100 + 0.1*float64(i)
		name := fmt.Sprintf("%.6f.png", ts)
		writePNG(t, filepath.Join(dir, "rgb", name), s.Gray16(step*float64(i)))
		writePNG(t, filepath.Join(dir, "depth", name), s.DepthGray16())
		fmt.Fprintf(&rgbIdx, "%.6f rgb/%s\n", ts, name)
		// Depth lags colour slightly, as on the real sensor.
		fmt.Fprintf(&depthIdx, "%.6f depth/%s\n", ts+0.004, name)
		fmt.Fprintf(&gt, "%.6f %.6f 0 0 0 0 0 1\n", ts, step*float64(i))
	}
	for name, body := range map[string]string{
		"rgb.txt":         rgbIdx.String(),
		"depth.txt":       depthIdx.String(),
		"groundtruth.txt": gt.String(),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func writePNG(t testing.TB, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}
