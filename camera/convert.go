package camera

import (
	"fmt"

	"github.com/gilbo123/spincam/spin"
)

// Processor converts raw frames into a directly viewable encoding.  Bayer
// mosaics are demosaiced to RGB8, BGR8 is reordered to RGB8, and formats
// that are already viewable are copied.  Conversion never mutates the input
// frame; the result is always an independent buffer, so callers release the
// input unconditionally.
type Processor struct{}

// NewProcessor builds a Processor.
func NewProcessor() *Processor { return &Processor{} }

// Convert produces a viewable copy of f.
func (p *Processor) Convert(f spin.Frame) (*spin.BufferFrame, error) {
	if f.Incomplete() {
		return nil, spin.ErrIncomplete
	}
	w, h := f.Width(), f.Height()
	switch f.PixelFormat() {
	case spin.PixelFormatBayerRG8:
		if w%2 != 0 || h%2 != 0 {
			return nil, fmt.Errorf("bayer frame dimensions %dx%d not even", w, h)
		}
		return &spin.BufferFrame{
			Pix:    demosaicRG8(f.Data(), w, h),
			W:      w,
			H:      h,
			Format: spin.PixelFormatRGB8,
			Stamp:  f.Timestamp(),
		}, nil
	case spin.PixelFormatBGR8:
		src := f.Data()
		dst := make([]byte, len(src))
		for i := 0; i+2 < len(src); i += 3 {
			dst[i], dst[i+1], dst[i+2] = src[i+2], src[i+1], src[i]
		}
		return &spin.BufferFrame{Pix: dst, W: w, H: h, Format: spin.PixelFormatRGB8, Stamp: f.Timestamp()}, nil
	case spin.PixelFormatMono8, spin.PixelFormatRGB8:
		dst := make([]byte, len(f.Data()))
		copy(dst, f.Data())
		return &spin.BufferFrame{Pix: dst, W: w, H: h, Format: f.PixelFormat(), Stamp: f.Timestamp()}, nil
	default:
		return nil, fmt.Errorf("no conversion for pixel format %s", f.PixelFormat())
	}
}

// demosaicRG8 expands an RGGB mosaic to RGB8 with bilinear interpolation.
// Border pixels clamp to the edge.
func demosaicRG8(src []byte, w, h int) []byte {
	dst := make([]byte, w*h*3)
	at := func(x, y int) int {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return int(src[y*w+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b int
			evenRow := y%2 == 0
			evenCol := x%2 == 0
			switch {
			case evenRow && evenCol: // red site
				r = at(x, y)
				g = (at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4
				b = (at(x-1, y-1) + at(x+1, y-1) + at(x-1, y+1) + at(x+1, y+1)) / 4
			case evenRow && !evenCol: // green site, red row
				r = (at(x-1, y) + at(x+1, y)) / 2
				g = at(x, y)
				b = (at(x, y-1) + at(x, y+1)) / 2
			case !evenRow && evenCol: // green site, blue row
				r = (at(x, y-1) + at(x, y+1)) / 2
				g = at(x, y)
				b = (at(x-1, y) + at(x+1, y)) / 2
			default: // blue site
				r = (at(x-1, y-1) + at(x+1, y-1) + at(x-1, y+1) + at(x+1, y+1)) / 4
				g = (at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4
				b = at(x, y)
			}
			i := (y*w + x) * 3
			dst[i] = byte(r)
			dst[i+1] = byte(g)
			dst[i+2] = byte(b)
		}
	}
	return dst
}
