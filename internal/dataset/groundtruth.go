package dataset

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// PoseSample is one ground-truth pose: world-from-camera at Timestamp.
type PoseSample struct {
	Timestamp float64
	Pose      se3.Matrix
}

// GroundTruth is a time-sorted reference trajectory.
type GroundTruth struct {
	Samples []PoseSample
}

// ReadGroundTruth parses "timestamp tx ty tz qx qy qz qw" lines.
func ReadGroundTruth(r io.Reader) (*GroundTruth, error) {
	gt := &GroundTruth{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 8 {
			return nil, fmt.Errorf("%w: line %d: want 8 fields, got %d", ErrMalformedLine, line, len(fields))
		}
		var v [8]float64
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d field %d: %v", ErrMalformedLine, line, i, err)
			}
			v[i] = x
		}
		q := quat.Number{Real: v[7], Imag: v[4], Jmag: v[5], Kmag: v[6]}
		pose, err := poseFromQuat(q, r3.Vec{X: v[1], Y: v[2], Z: v[3]})
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		gt.Samples = append(gt.Samples, PoseSample{Timestamp: v[0], Pose: pose})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ground truth: %w", err)
	}
	sort.SliceStable(gt.Samples, func(i, j int) bool { return gt.Samples[i].Timestamp < gt.Samples[j].Timestamp })
	return gt, nil
}

// LoadGroundTruth reads a groundtruth.txt file.
func LoadGroundTruth(path string) (*GroundTruth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth: %w", err)
	}
	defer f.Close()
	return ReadGroundTruth(f)
}

func poseFromQuat(q quat.Number, t r3.Vec) (se3.Matrix, error) {
	n := quat.Abs(q)
	if n < 1e-9 || math.IsNaN(n) {
		return se3.Matrix{}, fmt.Errorf("%w: zero quaternion", ErrMalformedLine)
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	rot := [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
	return se3.FromRotationTranslation(rot, t), nil
}

// Len returns the number of samples.
func (g *GroundTruth) Len() int { return len(g.Samples) }

// At returns the sample nearest to ts, provided it lies within maxDt.
func (g *GroundTruth) At(ts, maxDt float64) (se3.Matrix, bool) {
	if g == nil || len(g.Samples) == 0 {
		return se3.Matrix{}, false
	}
	i := sort.Search(len(g.Samples), func(i int) bool { return g.Samples[i].Timestamp >= ts })
	best := -1
	bestDt := math.Inf(1)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(g.Samples) {
			continue
		}
		if dt := math.Abs(g.Samples[j].Timestamp - ts); dt < bestDt {
			best, bestDt = j, dt
		}
	}
	if best < 0 || bestDt > maxDt {
		return se3.Matrix{}, false
	}
	return g.Samples[best].Pose, true
}
