package imgproc

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrEmptyImage is returned when an image has no pixels.
var ErrEmptyImage = errors.New("image has no pixels")

// Image is a single-channel float32 image. Gray images hold intensities in
// [0,1]; depth maps hold raw sensor samples normalised by 65535.
type Image struct {
	Width  int
	Height int
	Stride int
	Pix    []float32
}

// NewImage allocates a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Stride: width,
		Pix:    make([]float32, width*height),
	}
}

// At returns the sample at (x, y).
func (im *Image) At(x, y int) float32 { return im.Pix[y*im.Stride+x] }

// Set writes the sample at (x, y).
func (im *Image) Set(x, y int, v float32) { im.Pix[y*im.Stride+x] = v }

// Row returns the samples of row y.
func (im *Image) Row(y int) []float32 {
	return im.Pix[y*im.Stride : y*im.Stride+im.Width]
}

// FromImage converts any image.Image to a gray image in [0,1] using the
// standard luminance weights of color.GrayModel (16-bit precision).
func FromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}
	out := NewImage(b.Dx(), b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Row(y - b.Min.Y)
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(src.At(x, y)).(color.Gray16)
			row[x-b.Min.X] = float32(g.Y) / 0xffff
		}
	}
	return out, nil
}

// DepthFromImage converts a depth image to normalised raw samples. 16-bit
// gray images keep their full precision (raw/65535); other types go through
// color.Gray16Model.
func DepthFromImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	if b.Empty() {
		return nil, ErrEmptyImage
	}
	out := NewImage(b.Dx(), b.Dy())
	g16, isGray16 := src.(*image.Gray16)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := out.Row(y - b.Min.Y)
		for x := b.Min.X; x < b.Max.X; x++ {
			var raw uint16
			if isGray16 {
				raw = g16.Gray16At(x, y).Y
			} else {
				raw = color.Gray16Model.Convert(src.At(x, y)).(color.Gray16).Y
			}
			row[x-b.Min.X] = float32(raw) / 0xffff
		}
	}
	return out, nil
}

// ToGray converts the image back to an 8-bit image.Gray, clamping to [0,1].
func (im *Image) ToGray() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x, v := range im.Row(y) {
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			out.SetGray(x, y, color.Gray{Y: uint8(v*255 + 0.5)})
		}
	}
	return out
}

// Downsample halves the image with 2x2 box averaging. Odd trailing rows and
// columns are dropped.
func (im *Image) Downsample() (*Image, error) {
	w, h := im.Width/2, im.Height/2
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: cannot downsample %dx%d", ErrEmptyImage, im.Width, im.Height)
	}
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		r0 := im.Row(2 * y)
		r1 := im.Row(2*y + 1)
		dst := out.Row(y)
		for x := 0; x < w; x++ {
			dst[x] = 0.25 * (r0[2*x] + r0[2*x+1] + r1[2*x] + r1[2*x+1])
		}
	}
	return out, nil
}

// Gradients returns central-difference x and y gradients. The one-pixel
// border is left at zero so that border pixels never pass a gradient filter.
func (im *Image) Gradients() (gx, gy *Image) {
	gx = NewImage(im.Width, im.Height)
	gy = NewImage(im.Width, im.Height)
	for y := 1; y < im.Height-1; y++ {
		prev, cur, next := im.Row(y-1), im.Row(y), im.Row(y+1)
		dx, dy := gx.Row(y), gy.Row(y)
		for x := 1; x < im.Width-1; x++ {
			dx[x] = 0.5 * (cur[x+1] - cur[x-1])
			dy[x] = 0.5 * (next[x] - prev[x])
		}
	}
	return gx, gy
}

// InBounds reports whether (x, y) can be sampled bilinearly: the sample and
// its right and lower neighbours must lie inside the image.
func (im *Image) InBounds(x, y float64) bool {
	return x >= 0 && y >= 0 && x < float64(im.Width-1) && y < float64(im.Height-1)
}

// Bilinear samples the image at (x, y). The caller must check InBounds.
func (im *Image) Bilinear(x, y float64) float32 {
	ix, iy := int(x), int(y)
	fx, fy := x-float64(ix), y-float64(iy)
	i := iy*im.Stride + ix
	p00 := float64(im.Pix[i])
	p01 := float64(im.Pix[i+1])
	p10 := float64(im.Pix[i+im.Stride])
	p11 := float64(im.Pix[i+im.Stride+1])
	top := p00 + fx*(p01-p00)
	bottom := p10 + fx*(p11-p10)
	return float32(top + fy*(bottom-top))
}
