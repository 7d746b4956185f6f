package sink

import (
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"path"

	giftpkg "github.com/disintegration/gift"

	"github.com/gilbo123/spincam/spin"
)

// GIFSink accumulates frames and writes an animated GIF on Close.
type GIFSink struct {
	fname   string
	delay   int // centiseconds between frames
	filters *giftpkg.GIFT

	anim gif.GIF
}

// NewGIFSink builds an animation sink writing <folder>/<video name>.gif.
func NewGIFSink(o Options) (*GIFSink, error) {
	if err := os.MkdirAll(o.Folder, 0777); err != nil {
		return nil, err
	}
	name := o.VideoName
	if name == "" {
		name = "video"
	}
	fps := o.FPS
	if fps <= 0 {
		fps = 10
	}
	delay := int(100 / fps)
	if delay < 1 {
		delay = 1
	}
	return &GIFSink{fname: path.Join(o.Folder, name+".gif"), delay: delay, filters: buildFilters(o)}, nil
}

// Write quantizes one frame onto the websafe palette and appends it to the
// animation.
func (s *GIFSink) Write(f spin.Frame, stem string) error {
	im, err := render(f, s.filters)
	if err != nil {
		return err
	}
	pal := image.NewPaletted(im.Bounds(), palette.Plan9)
	draw.FloydSteinberg.Draw(pal, im.Bounds(), im, image.Point{})
	s.anim.Image = append(s.anim.Image, pal)
	s.anim.Delay = append(s.anim.Delay, s.delay)
	return nil
}

// Close encodes the accumulated animation to disk.
func (s *GIFSink) Close() error {
	if len(s.anim.Image) == 0 {
		return nil
	}
	fid, err := os.Create(s.fname)
	if err != nil {
		return err
	}
	defer fid.Close()
	return gif.EncodeAll(fid, &s.anim)
}
