/*
Package sink contains the frame consumers that terminate an acquisition
pipeline: still images, FITS cubes, motion-JPEG and GIF video files, and a
ZMQ publisher for live streaming.

Every consumer implements Sink.  The streaming backend additionally
implements Streamer; consumers that need a network endpoint assert for the
capability instead of switching on the concrete type.
*/
package sink

import (
	"fmt"
	"log"
	"strings"

	"github.com/gilbo123/spincam/camera"
	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/spin"
)

// Backend selects a sink implementation.
type Backend int

// The available sink backends.
const (
	Image Backend = iota
	FITS
	MJPEG
	GIF
	ZMQ
)

func (b Backend) String() string {
	switch b {
	case Image:
		return "image"
	case FITS:
		return "fits"
	case MJPEG:
		return "mjpeg"
	case GIF:
		return "gif"
	case ZMQ:
		return "zmq"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend converts a config string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(s) {
	case "image", "img":
		return Image, nil
	case "fits":
		return FITS, nil
	case "mjpeg", "avi":
		return MJPEG, nil
	case "gif":
		return GIF, nil
	case "zmq", "stream":
		return ZMQ, nil
	default:
		return 0, fmt.Errorf("unknown sink backend %q, use image, fits, mjpeg, gif, or zmq", s)
	}
}

// Sink consumes delivered frames.  Write does not take ownership of the
// frame; the caller releases it.  Close flushes any buffered output and
// must be called exactly once when the run ends.
type Sink interface {
	Write(f spin.Frame, stem string) error
	Close() error
}

// Streamer is the capability interface for sinks that publish on a network
// endpoint rather than writing files.
type Streamer interface {
	Sink

	// Endpoint reports the bound address, e.g. "tcp://*:5555".
	Endpoint() string
}

// Options configures a sink.  Fields irrelevant to the chosen backend are
// ignored.
type Options struct {
	// Folder is the output directory for file-producing sinks.
	Folder string

	// VideoName is the output filename for the video and cube backends.
	VideoName string

	// Ext is the still image extension, "png" when empty.
	Ext string

	// FPS is the playback rate stamped into video output.
	FPS float64

	// Quality is the JPEG quality, 1..100, 0 for the encoder default.
	Quality int

	// Addr is the ZMQ bind address.
	Addr string

	// Grayscale converts frames to grayscale before encoding.
	Grayscale bool

	// Gamma applies gamma correction before encoding when nonzero.
	Gamma float64

	// Recorder, when non-nil, routes cube output into the recorder's dated
	// subfolders under counter-named files instead of Folder/VideoName.
	Recorder *imgrec.Recorder
}

// New builds the selected backend.
func New(b Backend, o Options) (Sink, error) {
	switch b {
	case Image:
		return NewImageSink(o)
	case FITS:
		return NewFITSSink(o)
	case MJPEG:
		return NewMJPEGSink(o)
	case GIF:
		return NewGIFSink(o)
	case ZMQ:
		return NewZMQSink(o)
	default:
		return nil, fmt.Errorf("unknown sink backend %d", int(b))
	}
}

// Bind adapts a Sink to the camera callback signature.  Write failures are
// logged, not propagated; one bad frame must not kill delivery.
func Bind(s Sink, l *log.Logger) camera.Callback {
	if l == nil {
		l = log.Default()
	}
	return func(f spin.Frame, stem string, converted bool) {
		if err := s.Write(f, stem); err != nil {
			l.Printf("sink: writing %s: %v", stem, err)
		}
	}
}
