package camera

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gilbo123/spincam/spin"
)

// Callback receives one frame from event-driven delivery.  filename is the
// synthesized stem for this frame (no extension); converted reports whether
// the frame was demosaiced to RGB8 before delivery.  The frame is released
// by the handler when the callback returns, so implementations must copy any
// pixel data they want to keep.
type Callback func(frame spin.Frame, filename string, converted bool)

// FrameHandler adapts a Callback to the spin.FrameListener interface.  It
// counts complete frames, synthesizes filenames and demosaics Bayer frames
// before delivery.  Incomplete frames are logged and dropped without
// incrementing the counter.
type FrameHandler struct {
	serial string
	fn     Callback
	proc   *Processor

	count int64

	log *log.Logger
}

// NewFrameHandler builds a handler delivering to fn, tagging filenames with
// the camera serial.
func NewFrameHandler(serial string, fn Callback) *FrameHandler {
	return &FrameHandler{serial: serial, fn: fn, proc: NewProcessor(), log: log.Default()}
}

// Count returns the number of frames fully delivered so far.  The counter
// moves only after the callback returns, so a reader seeing N knows N whole
// frames have cleared the sink.  Safe to call concurrently with delivery.
func (h *FrameHandler) Count() int64 { return atomic.LoadInt64(&h.count) }

// ResetCount zeroes the frame counter for a new acquisition run.
func (h *FrameHandler) ResetCount() { atomic.StoreInt64(&h.count, 0) }

// OnFrame implements spin.FrameListener.  It runs on the backend's delivery
// goroutine.
func (h *FrameHandler) OnFrame(f spin.Frame) {
	if f.Incomplete() {
		h.log.Printf("cam %s: dropping incomplete frame, status %d", h.serial, f.Status())
		if err := f.Release(); err != nil {
			h.log.Printf("cam %s: releasing incomplete frame: %v", h.serial, err)
		}
		return
	}
	idx := h.Count() + 1
	name := Filename(h.serial, idx, f.Timestamp())

	out, err := h.proc.Convert(f)
	converted := err == nil
	if !converted {
		h.log.Printf("cam %s: delivering unconverted frame %d: %v", h.serial, idx, err)
	}
	// the grabbed frame is ours either way; Convert always returns an
	// independent buffer on success.
	defer func() {
		if rerr := f.Release(); rerr != nil {
			h.log.Printf("cam %s: releasing frame %d: %v", h.serial, idx, rerr)
		}
	}()
	if converted {
		h.fn(out, name, true)
		atomic.AddInt64(&h.count, 1)
		if rerr := out.Release(); rerr != nil {
			h.log.Printf("cam %s: releasing converted frame %d: %v", h.serial, idx, rerr)
		}
		return
	}
	h.fn(f, name, false)
	atomic.AddInt64(&h.count, 1)
}

// Filename synthesizes the stem recorded alongside a frame:
// cam-<serial>_img-<index>_<wall time to the microsecond>, or
// img-<index>_<time> when the serial is unknown.  Sinks append their own
// extension.
func Filename(serial string, index int64, t time.Time) string {
	stamp := t.Format("2006-01-02T15:04:05") + fmt.Sprintf(":%06d", t.Nanosecond()/1000)
	if serial == "" {
		return fmt.Sprintf("img-%d_%s", index, stamp)
	}
	return fmt.Sprintf("cam-%s_img-%d_%s", serial, index, stamp)
}
