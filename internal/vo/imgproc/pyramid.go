package imgproc

import (
	"errors"
	"fmt"
)

// ErrInvalidPyramid is returned for pyramids that cannot be built or used.
var ErrInvalidPyramid = errors.New("invalid image pyramid")

// Pyramid is an ordered set of images stored finest-first: Levels[0] is the
// full-resolution image and each following level halves the linear size.
// Processing runs coarsest-first, from Levels[len-1] down to Levels[0].
type Pyramid struct {
	Levels []*Image
}

// NewPyramid builds a pyramid with the requested number of levels from img.
// The finest level shares img's storage.
func NewPyramid(img *Image, levels int) (Pyramid, error) {
	if img == nil {
		return Pyramid{}, fmt.Errorf("%w: nil image", ErrInvalidPyramid)
	}
	if levels < 1 {
		return Pyramid{}, fmt.Errorf("%w: need at least one level, got %d", ErrInvalidPyramid, levels)
	}

	p := Pyramid{Levels: make([]*Image, 0, levels)}
	p.Levels = append(p.Levels, img)
	for i := 1; i < levels; i++ {
		next, err := p.Levels[i-1].Downsample()
		if err != nil {
			return Pyramid{}, fmt.Errorf("%w: level %d: %v", ErrInvalidPyramid, i, err)
		}
		p.Levels = append(p.Levels, next)
	}
	return p, nil
}

// Octaves returns the number of levels.
func (p Pyramid) Octaves() int { return len(p.Levels) }

// Finest returns the full-resolution level.
func (p Pyramid) Finest() *Image {
	if len(p.Levels) == 0 {
		return nil
	}
	return p.Levels[0]
}
