package imgproc

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func rampImage(w, h int) *Image {
	im := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			im.Set(x, y, float32(x)*0.01+float32(y)*0.02)
		}
	}
	return im
}

func TestGradients_Ramp(t *testing.T) {
	im := rampImage(8, 6)
	gx, gy := im.Gradients()

	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			border := x == 0 || y == 0 || x == im.Width-1 || y == im.Height-1
			if border {
				if gx.At(x, y) != 0 || gy.At(x, y) != 0 {
					t.Errorf("border gradient at (%d,%d) = (%v,%v), want 0", x, y, gx.At(x, y), gy.At(x, y))
				}
				continue
			}
			if math.Abs(float64(gx.At(x, y))-0.01) > 1e-6 {
				t.Errorf("gx(%d,%d) = %v, want 0.01", x, y, gx.At(x, y))
			}
			if math.Abs(float64(gy.At(x, y))-0.02) > 1e-6 {
				t.Errorf("gy(%d,%d) = %v, want 0.02", x, y, gy.At(x, y))
			}
		}
	}
}

func TestDownsample(t *testing.T) {
	im := NewImage(5, 4)
	for i := range im.Pix {
		im.Pix[i] = float32(i)
	}
	half, err := im.Downsample()
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if half.Width != 2 || half.Height != 2 {
		t.Fatalf("size = %dx%d, want 2x2", half.Width, half.Height)
	}
	// (0+1+5+6)/4
	if half.At(0, 0) != 3 {
		t.Errorf("half(0,0) = %v, want 3", half.At(0, 0))
	}

	if _, err := NewImage(1, 1).Downsample(); err == nil {
		t.Error("expected error downsampling a 1x1 image")
	}
}

func TestBilinear(t *testing.T) {
	im := rampImage(4, 4)
	got := im.Bilinear(1.5, 2.25)
	want := 1.5*0.01 + 2.25*0.02
	if math.Abs(float64(got)-want) > 1e-6 {
		t.Errorf("Bilinear(1.5,2.25) = %v, want %v", got, want)
	}

	if im.InBounds(3, 1) {
		t.Error("x = width-1 must be out of bounds for bilinear sampling")
	}
	if im.InBounds(-0.1, 1) {
		t.Error("negative x must be out of bounds")
	}
	if im.InBounds(math.NaN(), 1) {
		t.Error("NaN must be out of bounds")
	}
}

func TestFromImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 1))
	src.SetGray(0, 0, color.Gray{Y: 0})
	src.SetGray(1, 0, color.Gray{Y: 255})
	im, err := FromImage(src)
	if err != nil {
		t.Fatalf("FromImage: %v", err)
	}
	if im.At(0, 0) != 0 || im.At(1, 0) != 1 {
		t.Errorf("FromImage = %v, want [0 1]", im.Pix)
	}

	if _, err := FromImage(image.NewGray(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestDepthFromImage_Gray16(t *testing.T) {
	src := image.NewGray16(image.Rect(0, 0, 1, 1))
	src.SetGray16(0, 0, color.Gray16{Y: 5000})
	d, err := DepthFromImage(src)
	if err != nil {
		t.Fatalf("DepthFromImage: %v", err)
	}
	// 5000 raw units at depthScale 5000 is one metre.
	metres := float64(d.At(0, 0)) * (65535.0 / 5000.0)
	if math.Abs(metres-1) > 1e-4 {
		t.Errorf("depth = %v m, want 1", metres)
	}
}

func TestNewPyramid(t *testing.T) {
	p, err := NewPyramid(rampImage(64, 48), 3)
	if err != nil {
		t.Fatalf("NewPyramid: %v", err)
	}
	if p.Octaves() != 3 {
		t.Fatalf("Octaves = %d, want 3", p.Octaves())
	}
	if p.Levels[2].Width != 16 || p.Levels[2].Height != 12 {
		t.Errorf("coarsest = %dx%d, want 16x12", p.Levels[2].Width, p.Levels[2].Height)
	}

	if _, err := NewPyramid(rampImage(4, 4), 4); err == nil {
		t.Error("expected error when the pyramid is too deep for the image")
	}
	if _, err := NewPyramid(nil, 1); err == nil {
		t.Error("expected error for nil image")
	}
}
