package dataset

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/banshee-data/rgbdvo/internal/monitoring"
	"github.com/banshee-data/rgbdvo/internal/security"
	"github.com/banshee-data/rgbdvo/internal/vo/imgproc"
	"github.com/banshee-data/rgbdvo/internal/vo/se3"
)

// Index and trajectory file names inside a sequence directory.
const (
	RGBIndex        = "rgb.txt"
	DepthIndex      = "depth.txt"
	GroundTruthFile = "groundtruth.txt"
)

var (
	ErrNoFrames      = errors.New("sequence has no associated frames")
	ErrFrameRange    = errors.New("frame index out of range")
	ErrFrameMismatch = errors.New("colour and depth frames differ in size")
)

// DefaultIntrinsics are the ROS default parameters used for TUM sequences
// without a per-camera calibration.
var DefaultIntrinsics = se3.Intrinsics{Fx: 525, Fy: 525, Cx: 319.5, Cy: 239.5}

// Sequence is an opened dataset directory.
type Sequence struct {
	Name        string
	Root        string
	Frames      []Association
	GroundTruth *GroundTruth // nil when the sequence has none
	Intrinsics  se3.Intrinsics
}

// Frame is a decoded, associated colour/depth pair.
type Frame struct {
	Index     int
	Timestamp float64 // colour timestamp
	Gray      *imgproc.Image
	Depth     *imgproc.Image // normalised raw depth
}

// Open reads the index files of the sequence in root and associates colour
// and depth frames within maxDt seconds.
func Open(root string, maxDt float64) (*Sequence, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve dataset root: %w", err)
	}
	rgb, err := readIndexFile(abs, RGBIndex)
	if err != nil {
		return nil, err
	}
	depth, err := readIndexFile(abs, DepthIndex)
	if err != nil {
		return nil, err
	}

	seq := &Sequence{
		Name:       filepath.Base(abs),
		Root:       abs,
		Frames:     Associate(rgb, depth, maxDt),
		Intrinsics: DefaultIntrinsics,
	}
	if len(seq.Frames) == 0 {
		return nil, fmt.Errorf("%w: %d colour, %d depth entries within %gs", ErrNoFrames, len(rgb), len(depth), maxDt)
	}

	gtPath := filepath.Join(abs, GroundTruthFile)
	if _, err := os.Stat(gtPath); err == nil {
		gt, err := LoadGroundTruth(gtPath)
		if err != nil {
			return nil, err
		}
		seq.GroundTruth = gt
	}

	monitoring.Logf("[dataset] %s: %d associated frames (%d colour, %d depth), ground truth: %v",
		seq.Name, len(seq.Frames), len(rgb), len(depth), seq.GroundTruth != nil)
	return seq, nil
}

func readIndexFile(root, name string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(root, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()
	entries, err := ReadIndex(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return entries, nil
}

// Len returns the number of associated frames.
func (s *Sequence) Len() int { return len(s.Frames) }

// Load decodes frame i.
func (s *Sequence) Load(i int) (Frame, error) {
	if i < 0 || i >= len(s.Frames) {
		return Frame{}, fmt.Errorf("%w: %d of %d", ErrFrameRange, i, len(s.Frames))
	}
	a := s.Frames[i]

	colour, err := s.decode(a.RGB.Path)
	if err != nil {
		return Frame{}, err
	}
	gray, err := imgproc.FromImage(colour)
	if err != nil {
		return Frame{}, fmt.Errorf("convert %s: %w", a.RGB.Path, err)
	}
	raw, err := s.decode(a.Depth.Path)
	if err != nil {
		return Frame{}, err
	}
	depth, err := imgproc.DepthFromImage(raw)
	if err != nil {
		return Frame{}, fmt.Errorf("convert %s: %w", a.Depth.Path, err)
	}
	if gray.Width*depth.Height != depth.Width*gray.Height {
		return Frame{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrFrameMismatch, gray.Width, gray.Height, depth.Width, depth.Height)
	}
	return Frame{Index: i, Timestamp: a.RGB.Timestamp, Gray: gray, Depth: depth}, nil
}

func (s *Sequence) decode(entry string) (image.Image, error) {
	p, err := security.ResolveWithin(s.Root, entry)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", entry, err)
	}
	return img, nil
}
