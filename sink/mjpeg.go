package sink

import (
	"image/jpeg"
	"os"
	"path"

	"github.com/disintegration/gift"

	"github.com/gilbo123/spincam/spin"
)

// MJPEGSink appends JPEG-encoded frames to a single motion-JPEG file.
// Concatenated JFIF streams are what ffmpeg and most players accept as
// raw MJPEG.
type MJPEGSink struct {
	fid     *os.File
	quality int
	filters *gift.GIFT
	frames  int
}

// NewMJPEGSink builds a video sink writing <folder>/<video name>.mjpeg.
func NewMJPEGSink(o Options) (*MJPEGSink, error) {
	if err := os.MkdirAll(o.Folder, 0777); err != nil {
		return nil, err
	}
	name := o.VideoName
	if name == "" {
		name = "video"
	}
	fid, err := os.Create(path.Join(o.Folder, name+".mjpeg"))
	if err != nil {
		return nil, err
	}
	return &MJPEGSink{fid: fid, quality: o.Quality, filters: buildFilters(o)}, nil
}

// Write appends one JPEG frame.
func (s *MJPEGSink) Write(f spin.Frame, stem string) error {
	im, err := render(f, s.filters)
	if err != nil {
		return err
	}
	var opt *jpeg.Options
	if s.quality > 0 {
		opt = &jpeg.Options{Quality: s.quality}
	}
	if err := jpeg.Encode(s.fid, im, opt); err != nil {
		return err
	}
	s.frames++
	return nil
}

// Frames reports the number of frames written so far.
func (s *MJPEGSink) Frames() int { return s.frames }

// Close flushes and closes the video file.
func (s *MJPEGSink) Close() error { return s.fid.Close() }
