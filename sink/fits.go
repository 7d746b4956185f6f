package sink

import (
	"fmt"
	"image"
	"io"
	"os"
	"path"

	"github.com/astrogo/fitsio"

	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/spin"
)

// FITSSink accumulates frames in memory and writes one FITS cube on Close.
// Color frames are reduced to grayscale; FITS image extensions are single
// plane.
type FITSSink struct {
	fname string
	rec   *imgrec.Recorder

	w, h   int
	planes [][]uint16
	cards  []fitsio.Card
}

// NewFITSSink builds a cube sink.  With a Recorder in the options the cube
// lands in the recorder's dated subfolder under its incrementing counter;
// otherwise it is written to <folder>/<video name>.fits.
func NewFITSSink(o Options) (*FITSSink, error) {
	if o.Recorder != nil {
		return &FITSSink{rec: o.Recorder}, nil
	}
	if err := os.MkdirAll(o.Folder, 0777); err != nil {
		return nil, err
	}
	name := o.VideoName
	if name == "" {
		name = "cube"
	}
	return &FITSSink{fname: path.Join(o.Folder, name+".fits")}, nil
}

// Write appends one frame to the cube.  Every frame must share the first
// frame's geometry.
func (s *FITSSink) Write(f spin.Frame, stem string) error {
	if s.planes == nil {
		s.w, s.h = f.Width(), f.Height()
		s.cards = []fitsio.Card{
			{Name: "BZERO", Value: 0},
			{Name: "BSCALE", Value: 1.0},
			{Name: "PIXFMT", Value: f.PixelFormat(), Comment: "camera pixel format"},
		}
	}
	if f.Width() != s.w || f.Height() != s.h {
		return fmt.Errorf("frame geometry %dx%d does not match cube %dx%d", f.Width(), f.Height(), s.w, s.h)
	}
	plane, err := grayPlane(f)
	if err != nil {
		return err
	}
	s.planes = append(s.planes, plane)
	return nil
}

// Close writes the accumulated cube to disk.
func (s *FITSSink) Close() error {
	if len(s.planes) == 0 {
		return nil
	}
	buf := make([]uint16, 0, len(s.planes)*s.w*s.h)
	for _, p := range s.planes {
		buf = append(buf, p...)
	}
	s.planes = nil
	if s.rec != nil {
		// fresh counter slot, then stream the cube through the recorder
		s.rec.Incr()
		return writeCube(s.rec, s.cards, buf, s.w, s.h, len(buf)/(s.w*s.h))
	}
	fid, err := os.Create(s.fname)
	if err != nil {
		return err
	}
	defer fid.Close()
	return writeCube(fid, s.cards, buf, s.w, s.h, len(buf)/(s.w*s.h))
}

// writeCube streams a fits cube to w.
func writeCube(w io.Writer, metadata []fitsio.Card, buffer []uint16, width, height, nframes int) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if nframes > 1 {
		dims = append(dims, nframes)
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	// 8-bit camera data fits in int16 without the unsigned offset dance
	bufOut := make([]int16, len(buffer))
	for idx := 0; idx < len(buffer); idx++ {
		bufOut[idx] = int16(buffer[idx])
	}
	err = im.Write(bufOut)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// grayPlane reduces a frame to one uint16 plane.
func grayPlane(f spin.Frame) ([]uint16, error) {
	if f.PixelFormat() == spin.PixelFormatMono8 {
		data := f.Data()
		out := make([]uint16, len(data))
		for i, v := range data {
			out[i] = uint16(v)
		}
		return out, nil
	}
	im, err := spin.Image(f)
	if err != nil {
		return nil, err
	}
	b := im.Bounds()
	out := make([]uint16, 0, b.Dx()*b.Dy())
	gray := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Set(x, y, im.At(x, y))
			out = append(out, uint16(gray.GrayAt(x, y).Y))
		}
	}
	return out, nil
}
