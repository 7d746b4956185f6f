package spin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// feature kinds in the sim's node table.
const (
	kindFloat   = "float"
	kindInt     = "int"
	kindBool    = "bool"
	kindEnum    = "enum"
	kindString  = "string"
	kindCommand = "command"
)

type simFeature struct {
	kind    string
	access  AccessMode
	fval    float64
	fmax    float64
	ival    int64
	imax    int64
	bval    bool
	eval    string
	entries []string
	sval    string
}

// SimSystem is an in-process stand-in for the vendor SDK root object.
// It exists for the same reason the XPS mock controller does: development
// and tests without hardware on the bench.
type SimSystem struct {
	mu sync.Mutex

	devices  []*SimDevice
	released bool

	// EnumFailures is consumed one error per Cameras call before
	// enumeration succeeds, to exercise setup-time recovery.
	EnumFailures []error
}

// NewSimSystem creates a system with n simulated cameras, serials SIM0001..n.
func NewSimSystem(n int) *SimSystem {
	s := &SimSystem{}
	for i := 0; i < n; i++ {
		s.devices = append(s.devices, NewSimDevice(fmt.Sprintf("SIM%04d", i+1)))
	}
	return s
}

// Cameras enumerates the simulated devices.
func (s *SimSystem) Cameras() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, DeviceError{Op: "GetCameras", Msg: "system instance released"}
	}
	if len(s.EnumFailures) > 0 {
		err := s.EnumFailures[0]
		s.EnumFailures = s.EnumFailures[1:]
		return nil, err
	}
	out := make([]Device, len(s.devices))
	for i, d := range s.devices {
		out[i] = d
	}
	return out, nil
}

// Interfaces reports a single simulated GigE interface holding every device.
func (s *SimSystem) Interfaces() ([]Interface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []Interface{&simInterface{name: "sim-gige0", sys: s}}, nil
}

// Version reports the simulated library version.
func (s *SimSystem) Version() string { return "sim-1.0.0" }

// Release frees the system.  Devices obtained earlier become unusable.
func (s *SimSystem) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	return nil
}

// AddDevice attaches another simulated camera, for tests that manipulate
// the population between enumerations.
func (s *SimSystem) AddDevice(d *SimDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, d)
}

type simInterface struct {
	name string
	sys  *SimSystem
}

func (i *simInterface) Name() string { return i.name }

func (i *simInterface) Cameras() ([]Device, error) { return i.sys.Cameras() }

// SimDevice is a simulated camera.  It honors the init/streaming lifecycle,
// feature access modes, software triggering and asynchronous delivery, and
// produces synthetic Bayer frames paced at the programmed frame rate.
type SimDevice struct {
	mu sync.Mutex

	serial   string
	features map[string]*simFeature

	initialized bool
	streaming   bool

	listener FrameListener
	frames   chan Frame
	cancel   context.CancelFunc
	done     chan struct{}

	frameIdx int

	// Frame geometry, small by default so tests stay fast.
	FrameWidth  int
	FrameHeight int

	// IncompleteEvery makes every Nth frame incomplete when > 0.
	IncompleteEvery int

	// ResetCount and ForceIPCount record executed recovery commands.
	ResetCount   int
	ForceIPCount int
}

// NewSimDevice creates a simulated camera with the given serial number and
// a default feature table resembling a color GigE machine vision camera.
func NewSimDevice(serial string) *SimDevice {
	d := &SimDevice{
		serial:      serial,
		FrameWidth:  64,
		FrameHeight: 48,
	}
	d.features = defaultFeatures(serial)
	return d
}

func defaultFeatures(serial string) map[string]*simFeature {
	enum := func(val string, entries ...string) *simFeature {
		return &simFeature{kind: kindEnum, access: ReadWrite, eval: val, entries: entries}
	}
	return map[string]*simFeature{
		FeatAcquisitionMode:        enum("Continuous", "Continuous", "SingleFrame", "MultiFrame"),
		FeatFrameRateEnable:        {kind: kindBool, access: ReadWrite},
		FeatAcquisitionFrameRate:   {kind: kindFloat, access: ReadWrite, fval: 30, fmax: 120},
		FeatExposureAuto:           enum("Continuous", "Continuous", "Once", "Off"),
		FeatExposureTime:           {kind: kindFloat, access: ReadWrite, fval: 20000, fmax: 30000000},
		FeatBalanceWhiteAuto:       enum("Continuous", "Continuous", "Once", "Off"),
		FeatBalanceRatioSelector:   enum("Red", "Red", "Blue"),
		FeatBalanceRatio:           {kind: kindFloat, access: ReadWrite, fval: 1, fmax: 8},
		FeatGainAuto:               enum("Continuous", "Continuous", "Once", "Off"),
		FeatGain:                   {kind: kindFloat, access: ReadWrite, fval: 0, fmax: 47.99},
		FeatGammaEnable:            {kind: kindBool, access: ReadWrite},
		FeatGamma:                  {kind: kindFloat, access: ReadWrite, fval: 1, fmax: 3.99},
		FeatStreamBufferMode:       enum("OldestFirst", "NewestOnly", "NewestFirst", "OldestFirst", "OldestFirstOverwrite"),
		FeatTriggerMode:            enum("Off", "Off", "On"),
		FeatTriggerSelector:        enum("FrameStart", "FrameStart"),
		FeatTriggerSource:          enum("Line0", "Line0", "Line1", "Line2", "Line3", "Software"),
		FeatTriggerSoftware:        {kind: kindCommand, access: ReadWrite},
		FeatPacketSize:             {kind: kindInt, access: ReadWrite, ival: 1400, imax: 9000},
		FeatThroughputLimit:        {kind: kindInt, access: ReadWrite, ival: 125000000, imax: 125000000},
		FeatPixelFormat:            enum(PixelFormatBayerRG8, PixelFormatMono8, PixelFormatBayerRG8, PixelFormatRGB8, PixelFormatBGR8),
		FeatDeviceReset:            {kind: kindCommand, access: ReadOnly},
		FeatAutoForceIP:            {kind: kindCommand, access: ReadOnly},
		FeatDeviceTemperature:      {kind: kindFloat, access: ReadOnly, fval: 42.5},
		FeatDeviceSerialNumber:     {kind: kindString, access: ReadOnly, sval: serial},
		FeatDeviceModelName:        {kind: kindString, access: ReadOnly, sval: "SimCam GS3-S"},
		FeatDeviceVendorName:       {kind: kindString, access: ReadOnly, sval: "Simulated Imaging"},
		FeatDeviceFirmwareVersion:  {kind: kindString, access: ReadOnly, sval: "2.1.3.0"},
		FeatGevPersistentIPAddress: {kind: kindInt, access: ReadOnly, ival: 0xC0A80164}, // 192.168.1.100
	}
}

func (d *SimDevice) feature(name string) (*simFeature, error) {
	f, ok := d.features[name]
	if !ok {
		return nil, DeviceError{Op: name, Msg: "feature not found in node map"}
	}
	return f, nil
}

// Init initialises the device.  Idempotence is left to the wrapper; a second
// Init is harmless here, as it is in the vendor SDKs.
func (d *SimDevice) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = true
	return nil
}

// DeInit deinitialises the device.  Streaming must have been stopped.
func (d *SimDevice) DeInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streaming {
		return DeviceError{Op: "DeInit", Msg: "camera is streaming"}
	}
	d.initialized = false
	return nil
}

func (d *SimDevice) IsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

func (d *SimDevice) IsStreaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// BeginAcquisition starts the frame producer.
func (d *SimDevice) BeginAcquisition() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return DeviceError{Op: "BeginAcquisition", Msg: "camera is not initialized"}
	}
	if d.streaming {
		return DeviceError{Op: "BeginAcquisition", Msg: "stream already started"}
	}
	d.streaming = true
	d.frameIdx = 0
	d.frames = make(chan Frame, 16)
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	fps := d.features[FeatAcquisitionFrameRate].fval
	triggered := d.features[FeatTriggerMode].eval == "On"
	go d.produce(ctx, fps, triggered)
	return nil
}

// EndAcquisition stops the producer and drains pending frames.
func (d *SimDevice) EndAcquisition() error {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return DeviceError{Op: "EndAcquisition", Msg: "stream not started"}
	}
	d.streaming = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	cancel()
	<-done
	return nil
}

// produce generates frames at fps until ctx is cancelled.  When the device
// is in triggered mode frames are only emitted by TriggerSoftware, so the
// producer merely waits for cancellation.
func (d *SimDevice) produce(ctx context.Context, fps float64, triggered bool) {
	defer close(d.done)
	if triggered {
		<-ctx.Done()
		return
	}
	if fps <= 0 {
		fps = 30
	}
	lim := rate.NewLimiter(rate.Limit(fps), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		d.emit()
	}
}

// emit synthesizes one frame and hands it to the listener or the grab queue.
func (d *SimDevice) emit() {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return
	}
	idx := d.frameIdx
	d.frameIdx++
	incomplete := d.IncompleteEvery > 0 && idx%d.IncompleteEvery == d.IncompleteEvery-1
	f := d.synthesize(idx, incomplete)
	listener := d.listener
	frames := d.frames
	d.mu.Unlock()

	if listener != nil {
		listener.OnFrame(f)
		return
	}
	select {
	case frames <- f:
	default:
		// queue full; drop the oldest-style semantics are not modeled,
		// the frame is simply lost like a transport overrun
	}
}

// synthesize builds a gradient test pattern in the configured pixel format.
// Callers must hold d.mu.
func (d *SimDevice) synthesize(idx int, incomplete bool) Frame {
	format := d.features[FeatPixelFormat].eval
	bpp := 1
	if format == PixelFormatRGB8 || format == PixelFormatBGR8 {
		bpp = 3
	}
	w, h := d.FrameWidth, d.FrameHeight
	pix := make([]byte, w*h*bpp)
	for i := range pix {
		pix[i] = byte((i + idx) % 251)
	}
	status := 0
	if incomplete {
		status = 9 // transport: missing packets
	}
	return &BufferFrame{
		Pix:    pix,
		W:      w,
		H:      h,
		Format: format,
		Stamp:  time.Now(),
		Bad:    incomplete,
		Code:   status,
	}
}

// NextFrame blocks for the next produced frame.
func (d *SimDevice) NextFrame(timeout time.Duration) (Frame, error) {
	d.mu.Lock()
	if !d.streaming {
		d.mu.Unlock()
		return nil, DeviceError{Op: "GetNextImage", Msg: "stream not started"}
	}
	frames := d.frames
	d.mu.Unlock()
	select {
	case f := <-frames:
		return f, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// RegisterHandler attaches the single asynchronous frame listener.
func (d *SimDevice) RegisterHandler(l FrameListener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return ErrHandlerRegistered
	}
	d.listener = l
	return nil
}

// UnregisterHandler detaches the listener.  Detaching a listener that was
// never attached is a vendor error.
func (d *SimDevice) UnregisterHandler(l FrameListener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != l {
		return DeviceError{Op: "UnregisterEventHandler", Msg: "handler not registered"}
	}
	d.listener = nil
	return nil
}

// AccessMode reports the feature's current permission.
func (d *SimDevice) AccessMode(feature string) AccessMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.features[feature]
	if !ok {
		return NotAvailable
	}
	return f.access
}

// ImposeAccess overrides a feature's permission, as the transport layer
// allows for force-IP and reset commands.
func (d *SimDevice) ImposeAccess(feature string, m AccessMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.feature(feature)
	if err != nil {
		return err
	}
	f.access = m
	return nil
}

func (d *SimDevice) typed(feature, kind string) (*simFeature, error) {
	f, err := d.feature(feature)
	if err != nil {
		return nil, err
	}
	if f.kind != kind {
		return nil, DeviceError{Op: feature, Msg: fmt.Sprintf("feature is %s, not %s", f.kind, kind)}
	}
	if f.kind != kindString && !d.initialized {
		return nil, ErrNotInitialised
	}
	return f, nil
}

func (d *SimDevice) GetFloat(feature string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindFloat)
	if err != nil {
		return 0, err
	}
	return f.fval, nil
}

func (d *SimDevice) SetFloat(feature string, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindFloat)
	if err != nil {
		return err
	}
	if f.access != ReadWrite {
		return ErrNotWritable
	}
	if f.fmax > 0 && v > f.fmax {
		return DeviceError{Op: feature, Msg: fmt.Sprintf("GenICam::OutOfRangeException= value %g above maximum %g", v, f.fmax)}
	}
	f.fval = v
	return nil
}

func (d *SimDevice) FloatMax(feature string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindFloat)
	if err != nil {
		return 0, err
	}
	return f.fmax, nil
}

func (d *SimDevice) GetInt(feature string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindInt)
	if err != nil {
		return 0, err
	}
	return f.ival, nil
}

func (d *SimDevice) SetInt(feature string, v int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindInt)
	if err != nil {
		return err
	}
	if f.access != ReadWrite {
		return ErrNotWritable
	}
	if f.imax > 0 && v > f.imax {
		return DeviceError{Op: feature, Msg: fmt.Sprintf("GenICam::OutOfRangeException= value %d above maximum %d", v, f.imax)}
	}
	f.ival = v
	return nil
}

func (d *SimDevice) GetBool(feature string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindBool)
	if err != nil {
		return false, err
	}
	return f.bval, nil
}

func (d *SimDevice) SetBool(feature string, v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindBool)
	if err != nil {
		return err
	}
	if f.access != ReadWrite {
		return ErrNotWritable
	}
	f.bval = v
	return nil
}

func (d *SimDevice) GetEnum(feature string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindEnum)
	if err != nil {
		return "", err
	}
	return f.eval, nil
}

func (d *SimDevice) SetEnum(feature, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindEnum)
	if err != nil {
		return err
	}
	if f.access != ReadWrite {
		return ErrNotWritable
	}
	for _, e := range f.entries {
		if e == value {
			f.eval = value
			return nil
		}
	}
	return DeviceError{Op: feature, Msg: fmt.Sprintf("enum entry %s not available", value)}
}

func (d *SimDevice) EnumEntries(feature string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindEnum)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (d *SimDevice) GetString(feature string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, err := d.typed(feature, kindString)
	if err != nil {
		return "", err
	}
	return f.sval, nil
}

// Execute runs a command feature.  Reset and force-IP require RW access to
// have been imposed first, like the transport layer commands they model.
func (d *SimDevice) Execute(feature string) error {
	d.mu.Lock()
	f, err := d.feature(feature)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if f.kind != kindCommand {
		d.mu.Unlock()
		return DeviceError{Op: feature, Msg: "feature is not a command"}
	}
	if f.access != ReadWrite {
		d.mu.Unlock()
		return ErrNotWritable
	}
	switch feature {
	case FeatTriggerSoftware:
		if !d.streaming || d.features[FeatTriggerMode].eval != "On" {
			d.mu.Unlock()
			return DeviceError{Op: feature, Msg: "software trigger requires an armed, streaming camera"}
		}
		idx := d.frameIdx
		d.frameIdx++
		frame := d.synthesize(idx, false)
		listener := d.listener
		frames := d.frames
		d.mu.Unlock()
		if listener != nil {
			listener.OnFrame(frame)
			return nil
		}
		select {
		case frames <- frame:
		default:
		}
		return nil
	case FeatDeviceReset:
		// logical power cycle: the handle drops back to factory state
		d.ResetCount++
		d.initialized = false
		if d.streaming {
			d.streaming = false
			d.cancel()
		}
		d.features = defaultFeatures(d.serial)
		d.mu.Unlock()
		return nil
	case FeatAutoForceIP:
		d.ForceIPCount++
		d.mu.Unlock()
		return nil
	default:
		d.mu.Unlock()
		return nil
	}
}
