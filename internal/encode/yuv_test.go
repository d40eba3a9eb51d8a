package encode

import (
	"image"
	"testing"
)

func TestNewI420Size(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantLen       int
	}{
		{name: "VGA", width: 640, height: 480, wantLen: 640 * 480 * 3 / 2},
		{name: "HD", width: 1280, height: 720, wantLen: 1280 * 720 * 3 / 2},
		{name: "tiny even", width: 4, height: 2, wantLen: 12},
		{name: "odd dims round chroma up", width: 3, height: 3, wantLen: 9 + 2*4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := NewI420(tt.width, tt.height)
			if got := len(img.Bytes()); got != tt.wantLen {
				t.Errorf("len(Bytes()) = %d, want %d", got, tt.wantLen)
			}
			if len(img.Y)+len(img.Cb)+len(img.Cr) != len(img.Bytes()) {
				t.Error("planes do not tile the backing buffer")
			}
		})
	}
}

func TestI420YCbCrView(t *testing.T) {
	img := NewI420(4, 2)
	view := img.YCbCr()

	if view.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		t.Fatalf("ratio = %v, want 4:2:0", view.SubsampleRatio)
	}

	// The view must alias the planes, not copy them.
	img.Y[0] = 0xAB
	if view.Y[0] != 0xAB {
		t.Error("YCbCr view does not alias the luma plane")
	}
}

func TestFromYUYV(t *testing.T) {
	// One 4x2 frame: pixel pair (Y0 U Y1 V). Luma ramps, chroma constant
	// per row so the row average is checkable.
	data := []byte{
		// row 0
		10, 100, 20, 200, 30, 100, 40, 200,
		// row 1
		50, 120, 60, 220, 70, 120, 80, 220,
	}

	img, err := FromYUYV(4, 2, data)
	if err != nil {
		t.Fatalf("FromYUYV failed: %v", err)
	}

	wantY := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	for i, want := range wantY {
		if img.Y[i] != want {
			t.Errorf("Y[%d] = %d, want %d", i, img.Y[i], want)
		}
	}

	// Chroma averages row 0 and row 1: (100+120)/2=110, (200+220)/2=210.
	for i := 0; i < 2; i++ {
		if img.Cb[i] != 110 {
			t.Errorf("Cb[%d] = %d, want 110", i, img.Cb[i])
		}
		if img.Cr[i] != 210 {
			t.Errorf("Cr[%d] = %d, want 210", i, img.Cr[i])
		}
	}
}

func TestFromYUYVTruncated(t *testing.T) {
	_, err := FromYUYV(640, 480, make([]byte, 100))
	if !IsCode(err, ErrCodeEncodeError) {
		t.Fatalf("error = %v, want %s", err, ErrCodeEncodeError)
	}
}

func TestFromImageYCbCrRatios(t *testing.T) {
	ratios := []image.YCbCrSubsampleRatio{
		image.YCbCrSubsampleRatio420,
		image.YCbCrSubsampleRatio422,
		image.YCbCrSubsampleRatio444,
		image.YCbCrSubsampleRatio440,
	}

	for _, ratio := range ratios {
		t.Run(ratio.String(), func(t *testing.T) {
			src := image.NewYCbCr(image.Rect(0, 0, 8, 8), ratio)
			for i := range src.Y {
				src.Y[i] = byte(i)
			}
			for i := range src.Cb {
				src.Cb[i] = 90
				src.Cr[i] = 190
			}

			img := FromImage(src)
			if img.Width != 8 || img.Height != 8 {
				t.Fatalf("got %dx%d, want 8x8", img.Width, img.Height)
			}
			if len(img.Bytes()) != 8*8*3/2 {
				t.Fatalf("len = %d, want %d", len(img.Bytes()), 8*8*3/2)
			}

			// Luma copies through untouched.
			for y := 0; y < 8; y++ {
				srcOff := src.YOffset(0, y)
				for x := 0; x < 8; x++ {
					if img.Y[y*8+x] != src.Y[srcOff+x] {
						t.Fatalf("Y[%d,%d] = %d, want %d", x, y, img.Y[y*8+x], src.Y[srcOff+x])
					}
				}
			}

			// Constant chroma survives any resampling exactly.
			for i := range img.Cb {
				if img.Cb[i] != 90 || img.Cr[i] != 190 {
					t.Fatalf("chroma[%d] = (%d, %d), want (90, 190)", i, img.Cb[i], img.Cr[i])
				}
			}
		})
	}
}

func TestFromImageGeneric(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			i := src.PixOffset(x, y)
			src.Pix[i+0] = 128 // R
			src.Pix[i+1] = 128 // G
			src.Pix[i+2] = 128 // B
			src.Pix[i+3] = 255
		}
	}

	img := FromImage(src)
	if len(img.Bytes()) != 6*4*3/2 {
		t.Fatalf("len = %d, want %d", len(img.Bytes()), 6*4*3/2)
	}

	// Mid gray: luma near 128, chroma neutral.
	for i := range img.Y {
		if d := int(img.Y[i]) - 128; d < -2 || d > 2 {
			t.Fatalf("Y[%d] = %d, want ~128", i, img.Y[i])
		}
	}
	for i := range img.Cb {
		if d := int(img.Cb[i]) - 128; d < -2 || d > 2 {
			t.Fatalf("Cb[%d] = %d, want ~128", i, img.Cb[i])
		}
	}
}
