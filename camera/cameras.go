package camera

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/gilbo123/spincam/imgrec"
	"github.com/gilbo123/spincam/recovery"
	"github.com/gilbo123/spincam/spin"
)

// DefaultGrabTimeout is the blocking grab wait used by the round loop.
const DefaultGrabTimeout = 2 * time.Second

// Handoff is one delivered frame leaving the acquisition loop.  The
// receiver owns the frame and must Release it exactly once.
type Handoff struct {
	Frame    spin.Frame
	Filename string
	Serial   string

	// Converted reports whether Frame was demosaiced to a viewable format.
	Converted bool
}

// Cameras coordinates acquisition across every enumerated camera.  Cameras
// without a callback are polled once per round; cameras with a callback
// deliver on their own goroutine and only their frame counter is consulted.
type Cameras struct {
	cams []*Camera
	proc *Processor

	// Timeout is the per-grab wait for polled cameras.
	Timeout time.Duration

	// Queue receives delivered frames when non-nil.  The consumer owns
	// each frame.
	Queue chan<- Handoff

	// Recorder saves delivered frames to disk when non-nil and enabled.
	Recorder *imgrec.Recorder

	log *log.Logger
}

// NewCameras enumerates devices from sys and wraps each in a Camera.
// Enumeration is retried with backoff; flaky GigE discovery commonly drops
// a camera on the first pass after power-up.  Zero devices after retries is
// ErrNoCameras.
func NewCameras(sys spin.System) (*Cameras, error) {
	var devs []spin.Device
	op := func() error {
		var err error
		devs, err = sys.Cameras()
		if err != nil {
			return err
		}
		if len(devs) == 0 {
			return spin.ErrNoCameras
		}
		return nil
	}
	if err := recovery.Retry(op, recovery.DefaultMaxRetries); err != nil {
		return nil, errors.Wrap(err, "enumerating cameras")
	}
	cs := &Cameras{
		proc:    NewProcessor(),
		Timeout: DefaultGrabTimeout,
		log:     log.Default(),
	}
	for _, d := range devs {
		c, err := New(d)
		if err != nil {
			return nil, err
		}
		cs.cams = append(cs.cams, c)
	}
	return cs, nil
}

// SetLogger replaces the coordinator's logger and its cameras' loggers.
func (cs *Cameras) SetLogger(l *log.Logger) {
	cs.log = l
	for _, c := range cs.cams {
		c.SetLogger(l)
	}
}

// Cameras returns the wrapped cameras in enumeration order.
func (cs *Cameras) Cameras() []*Camera { return cs.cams }

// Len returns the camera count.
func (cs *Cameras) Len() int { return len(cs.cams) }

// Serials returns the serial numbers in enumeration order.
func (cs *Cameras) Serials() []string {
	out := make([]string, len(cs.cams))
	for i, c := range cs.cams {
		out[i] = c.Serial()
	}
	return out
}

// BySerial finds a camera by serial number.
func (cs *Cameras) BySerial(serial string) (*Camera, error) {
	for _, c := range cs.cams {
		if c.Serial() == serial {
			return c, nil
		}
	}
	return nil, errors.Errorf("no camera with serial %s", serial)
}

// InitialiseAll initialises every camera, stopping at the first failure.
func (cs *Cameras) InitialiseAll() error {
	for _, c := range cs.cams {
		if err := c.Initialise(); err != nil {
			return errors.Wrapf(err, "cam %s", c.Serial())
		}
	}
	return nil
}

// DeinitialiseAll deinitialises every camera, returning the first failure
// after attempting all.
func (cs *Cameras) DeinitialiseAll() error {
	var first error
	for _, c := range cs.cams {
		if err := c.Deinitialise(); err != nil && first == nil {
			first = errors.Wrapf(err, "cam %s", c.Serial())
		}
	}
	return first
}

// StopAll ends acquisition on every camera, returning the first failure
// after attempting all.
func (cs *Cameras) StopAll() error {
	var first error
	for _, c := range cs.cams {
		if err := c.StopAcquisition(); err != nil && first == nil {
			first = errors.Wrapf(err, "cam %s", c.Serial())
		}
	}
	return first
}

// Acquire runs the round loop.  Each round, every polled camera is grabbed
// once; target > 0 stops after exactly target rounds.  An event-driven
// camera reaching target frames stops the whole run, as does ctx.  Streaming
// is started on entry for cameras not already streaming but is NOT stopped
// on the way out: the caller invokes StopAll when it is done inspecting
// per-camera state after the run.
func (cs *Cameras) Acquire(ctx context.Context, target int) error {
	if len(cs.cams) == 0 {
		return spin.ErrNoCameras
	}
	for _, c := range cs.cams {
		if h := c.Handler(); h != nil {
			h.ResetCount()
		}
		if c.IsStreaming() {
			continue
		}
		if err := c.StartAcquisition(); err != nil {
			cs.StopAll()
			return errors.Wrapf(err, "cam %s", c.Serial())
		}
	}

	// per-camera delivered frame indices for the polled path
	counts := make([]int64, len(cs.cams))
	polled := 0
	for _, c := range cs.cams {
		if c.Handler() == nil {
			polled++
		}
	}
	round := -1
	for {
		round++
		// the round limit binds the polled cameras; a fully event-driven
		// run stops on quota or cancellation instead
		if target > 0 && polled > 0 && round == target {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for i, c := range cs.cams {
			if h := c.Handler(); h != nil {
				if target > 0 && h.Count() >= int64(target) {
					cs.log.Printf("cam %s: reached %d frames, stopping run", c.Serial(), target)
					return nil
				}
				continue
			}
			if err := cs.pollOne(ctx, c, &counts[i]); err != nil {
				return err
			}
		}
		if polled == 0 {
			// all cameras are event driven; pace the quota checks
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}

// pollOne grabs one frame from a polled camera and delivers it.  Timeouts,
// vendor errors and incomplete frames are per-frame failures: logged and
// skipped, not fatal to the run.
func (cs *Cameras) pollOne(ctx context.Context, c *Camera, count *int64) error {
	f, err := c.NextFrame(cs.Timeout)
	if err != nil {
		if errors.Is(err, spin.ErrTimeout) {
			cs.log.Printf("cam %s: grab timed out", c.Serial())
			return nil
		}
		var derr spin.DeviceError
		if errors.As(err, &derr) {
			cs.log.Printf("cam %s: grab failed: %v", c.Serial(), err)
			return nil
		}
		return errors.Wrapf(err, "cam %s", c.Serial())
	}
	if f.Incomplete() {
		cs.log.Printf("cam %s: dropping incomplete frame, status %d", c.Serial(), f.Status())
		return f.Release()
	}
	*count++
	name := Filename(c.Serial(), *count, f.Timestamp())

	out, cerr := cs.proc.Convert(f)
	converted := cerr == nil
	if !converted {
		cs.log.Printf("cam %s: delivering unconverted frame %d: %v", c.Serial(), *count, cerr)
		out = cloneFrame(f)
	}
	if rerr := f.Release(); rerr != nil {
		cs.log.Printf("cam %s: releasing frame %d: %v", c.Serial(), *count, rerr)
	}

	if cs.Recorder != nil && cs.Recorder.Enabled && converted {
		if serr := cs.Recorder.SaveFrame(out, name); serr != nil {
			cs.log.Printf("cam %s: saving frame %d: %v", c.Serial(), *count, serr)
		}
	}
	if cs.Queue != nil {
		h := Handoff{Frame: out, Filename: name, Serial: c.Serial(), Converted: converted}
		select {
		case cs.Queue <- h:
			return nil
		case <-ctx.Done():
			out.Release()
			return ctx.Err()
		}
	}
	return out.Release()
}

// cloneFrame copies a frame into an independent buffer so the original can
// be released unconditionally.
func cloneFrame(f spin.Frame) *spin.BufferFrame {
	pix := make([]byte, len(f.Data()))
	copy(pix, f.Data())
	return &spin.BufferFrame{
		Pix:    pix,
		W:      f.Width(),
		H:      f.Height(),
		Format: f.PixelFormat(),
		Stamp:  f.Timestamp(),
		Bad:    f.Incomplete(),
		Code:   f.Status(),
	}
}
