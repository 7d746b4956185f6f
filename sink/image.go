package sink

import (
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"strings"

	"github.com/disintegration/gift"

	"github.com/gilbo123/spincam/spin"
)

// ImageSink writes one still image file per frame.
type ImageSink struct {
	folder  string
	ext     string
	quality int
	filters *gift.GIFT
}

// NewImageSink builds an image sink writing into o.Folder.
func NewImageSink(o Options) (*ImageSink, error) {
	if err := os.MkdirAll(o.Folder, 0777); err != nil {
		return nil, err
	}
	ext := o.Ext
	if ext == "" {
		ext = "png"
	}
	return &ImageSink{
		folder:  o.Folder,
		ext:     strings.TrimPrefix(strings.ToLower(ext), "."),
		quality: o.Quality,
		filters: buildFilters(o),
	}, nil
}

// buildFilters assembles the post-processing pipeline, nil when the options
// request none.
func buildFilters(o Options) *gift.GIFT {
	var fs []gift.Filter
	if o.Grayscale {
		fs = append(fs, gift.Grayscale())
	}
	if o.Gamma != 0 && o.Gamma != 1 {
		fs = append(fs, gift.Gamma(float32(o.Gamma)))
	}
	if len(fs) == 0 {
		return nil
	}
	return gift.New(fs...)
}

// render converts a frame to an image, applying the filter pipeline.
func render(f spin.Frame, filters *gift.GIFT) (image.Image, error) {
	im, err := spin.Image(f)
	if err != nil {
		return nil, err
	}
	if filters == nil {
		return im, nil
	}
	dst := image.NewRGBA(filters.Bounds(im.Bounds()))
	filters.Draw(dst, im)
	return dst, nil
}

// Write encodes one frame to <folder>/<stem>.<ext>.
func (s *ImageSink) Write(f spin.Frame, stem string) error {
	im, err := render(f, s.filters)
	if err != nil {
		return err
	}
	fid, err := os.Create(path.Join(s.folder, stem+"."+s.ext))
	if err != nil {
		return err
	}
	defer fid.Close()
	switch s.ext {
	case "jpg", "jpeg":
		var opt *jpeg.Options
		if s.quality > 0 {
			opt = &jpeg.Options{Quality: s.quality}
		}
		return jpeg.Encode(fid, im, opt)
	default:
		return png.Encode(fid, im)
	}
}

// Close is a no-op; every Write is self-contained.
func (s *ImageSink) Close() error { return nil }
