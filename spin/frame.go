package spin

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"
	"time"
)

// Frame is one captured image buffer plus its SDK-reported status.  A frame
// is owned exclusively by whoever holds it and must be released exactly once;
// the backing buffer is not valid after Release.
type Frame interface {
	Width() int
	Height() int

	// PixelFormat reports the encoding of Data, e.g. BayerRG8.
	PixelFormat() string

	// Incomplete reports whether the transport delivered a partial image.
	Incomplete() bool

	// Status is the vendor completeness status code, 0 when complete.
	Status() int

	// Data is the raw pixel buffer, row-major, no padding.
	Data() []byte

	// Timestamp is the wall-clock capture time.
	Timestamp() time.Time

	// Release returns the buffer to its owner.  Releasing twice is an error.
	Release() error
}

// BufferFrame is a Frame backed by ordinary Go memory.  The sim backend and
// the pixel conversion machinery produce these.
type BufferFrame struct {
	Pix    []byte
	W, H   int
	Format string
	Stamp  time.Time
	Bad    bool
	Code   int

	mu       sync.Mutex
	released bool
}

func (f *BufferFrame) Width() int           { return f.W }
func (f *BufferFrame) Height() int          { return f.H }
func (f *BufferFrame) PixelFormat() string  { return f.Format }
func (f *BufferFrame) Incomplete() bool     { return f.Bad }
func (f *BufferFrame) Status() int          { return f.Code }
func (f *BufferFrame) Data() []byte         { return f.Pix }
func (f *BufferFrame) Timestamp() time.Time { return f.Stamp }

// Release marks the frame dead.  The buffer is garbage collected normally,
// but the double-release check preserves the ownership discipline a real
// SDK-backed frame would enforce.
func (f *BufferFrame) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return fmt.Errorf("frame released twice")
	}
	f.released = true
	return nil
}

// bytesPerPixel for the formats the module understands.
func bytesPerPixel(format string) (int, error) {
	switch format {
	case PixelFormatMono8, PixelFormatBayerRG8:
		return 1, nil
	case PixelFormatRGB8, PixelFormatBGR8:
		return 3, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %s", format)
	}
}

// Image converts a frame to a stdlib image.  Bayer frames must be converted
// to RGB8 first; the raw mosaic has no direct image representation.
func Image(f Frame) (image.Image, error) {
	w, h := f.Width(), f.Height()
	data := f.Data()
	switch f.PixelFormat() {
	case PixelFormatMono8:
		im := image.NewGray(image.Rect(0, 0, w, h))
		copy(im.Pix, data)
		return im, nil
	case PixelFormatRGB8, PixelFormatBGR8:
		swap := f.PixelFormat() == PixelFormatBGR8
		im := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			r, g, b := data[3*i], data[3*i+1], data[3*i+2]
			if swap {
				r, b = b, r
			}
			im.Pix[4*i] = r
			im.Pix[4*i+1] = g
			im.Pix[4*i+2] = b
			im.Pix[4*i+3] = 0xff
		}
		return im, nil
	default:
		return nil, fmt.Errorf("no image representation for pixel format %s", f.PixelFormat())
	}
}

// EncodeFrame writes a frame to w in the format implied by ext ("png",
// "jpg", "jpeg").
func EncodeFrame(w io.Writer, f Frame, ext string) error {
	im, err := Image(f)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return png.Encode(w, im)
	case "jpg", "jpeg":
		return jpeg.Encode(w, im, nil)
	default:
		return fmt.Errorf("unknown image extension %s", ext)
	}
}
