package encode

import (
	"fmt"
	"image"
	"image/color"
)

// I420Image is a planar YUV 4:2:0 frame backed by a single contiguous
// buffer: the full-resolution luma plane followed by the two quarter
// resolution chroma planes. This is the layout the encoder consumes and
// the layout still images are delivered in.
type I420Image struct {
	Width  int
	Height int
	Y      []byte
	Cb     []byte
	Cr     []byte

	data []byte
}

// NewI420 allocates a zeroed frame. Odd dimensions round the chroma
// planes up, matching the JPEG and V4L2 conventions.
func NewI420(width, height int) *I420Image {
	cw, ch := (width+1)/2, (height+1)/2
	lumaSize := width * height
	chromaSize := cw * ch

	data := make([]byte, lumaSize+2*chromaSize)
	return &I420Image{
		Width:  width,
		Height: height,
		Y:      data[:lumaSize],
		Cb:     data[lumaSize : lumaSize+chromaSize],
		Cr:     data[lumaSize+chromaSize:],
		data:   data,
	}
}

// Bytes returns the packed Y, Cb, Cr planes. For even dimensions the
// length is width*height*3/2.
func (p *I420Image) Bytes() []byte { return p.data }

// YCbCr returns an image view over the planes without copying.
func (p *I420Image) YCbCr() *image.YCbCr {
	return &image.YCbCr{
		Y:              p.Y,
		Cb:             p.Cb,
		Cr:             p.Cr,
		YStride:        p.Width,
		CStride:        (p.Width + 1) / 2,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, p.Width, p.Height),
	}
}

// FromYUYV converts a packed YUYV 4:2:2 frame, the raw format UVC cameras
// deliver, into planar 4:2:0. Chroma rows are averaged in pairs.
func FromYUYV(width, height int, data []byte) (*I420Image, error) {
	expected := width * height * 2
	if len(data) < expected {
		return nil, newError(ErrCodeEncodeError,
			fmt.Sprintf("truncated YUYV frame: %d bytes, need %d", len(data), expected), nil)
	}

	img := NewI420(width, height)
	cw := (width + 1) / 2
	rowBytes := width * 2

	for y := 0; y < height; y++ {
		row := data[y*rowBytes:]
		for x := 0; x < width; x++ {
			img.Y[y*width+x] = row[x*2]
		}
	}

	for cy := 0; cy < (height+1)/2; cy++ {
		rowA := data[(cy*2)*rowBytes:]
		rowB := rowA
		if cy*2+1 < height {
			rowB = data[(cy*2+1)*rowBytes:]
		}
		for cx := 0; cx < cw; cx++ {
			// Packed layout per pixel pair: Y0 U Y1 V.
			img.Cb[cy*cw+cx] = uint8((uint16(rowA[cx*4+1]) + uint16(rowB[cx*4+1])) / 2)
			img.Cr[cy*cw+cx] = uint8((uint16(rowA[cx*4+3]) + uint16(rowB[cx*4+3])) / 2)
		}
	}

	return img, nil
}

// FromImage converts any image into planar 4:2:0. YCbCr sources keep
// their chroma samples, averaged down to 4:2:0 where the source carries
// more; everything else goes through RGB.
func FromImage(src image.Image) *I420Image {
	if ycc, ok := src.(*image.YCbCr); ok {
		return fromYCbCr(ycc)
	}
	return fromGeneric(src)
}

func fromYCbCr(src *image.YCbCr) *I420Image {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()
	img := NewI420(width, height)
	cw, ch := (width+1)/2, (height+1)/2

	for y := 0; y < height; y++ {
		srcOff := src.YOffset(b.Min.X, b.Min.Y+y)
		copy(img.Y[y*width:(y+1)*width], src.Y[srcOff:srcOff+width])
	}

	// Resample chroma by averaging every source sample that maps to a
	// destination 2x2 site. COffset collapses identical samples for the
	// subsampled ratios, so the divisor counts distinct offsets.
	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var cb, cr, n uint32
			seen := [4]int{-1, -1, -1, -1}
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px, py := b.Min.X+cx*2+dx, b.Min.Y+cy*2+dy
					if px >= b.Max.X || py >= b.Max.Y {
						continue
					}
					off := src.COffset(px, py)
					if off == seen[0] || off == seen[1] || off == seen[2] || off == seen[3] {
						continue
					}
					seen[n] = off
					cb += uint32(src.Cb[off])
					cr += uint32(src.Cr[off])
					n++
				}
			}
			if n == 0 {
				continue
			}
			img.Cb[cy*cw+cx] = uint8(cb / n)
			img.Cr[cy*cw+cx] = uint8(cr / n)
		}
	}

	return img
}

func fromGeneric(src image.Image) *I420Image {
	b := src.Bounds()
	width, height := b.Dx(), b.Dy()
	img := NewI420(width, height)
	cw, ch := (width+1)/2, (height+1)/2

	// Full-resolution chroma first, then a 2x2 box filter down to 4:2:0.
	fullCb := make([]byte, width*height)
	fullCr := make([]byte, width*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			img.Y[y*width+x] = yy
			fullCb[y*width+x] = cb
			fullCr[y*width+x] = cr
		}
	}

	for cy := 0; cy < ch; cy++ {
		for cx := 0; cx < cw; cx++ {
			var cb, cr, n uint32
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					px, py := cx*2+dx, cy*2+dy
					if px >= width || py >= height {
						continue
					}
					cb += uint32(fullCb[py*width+px])
					cr += uint32(fullCr[py*width+px])
					n++
				}
			}
			img.Cb[cy*cw+cx] = uint8(cb / n)
			img.Cr[cy*cw+cx] = uint8(cr / n)
		}
	}

	return img
}
