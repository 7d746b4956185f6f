package spin

import (
	"errors"
	"testing"
	"time"
)

func TestSimSystemEnumeration(t *testing.T) {
	sys := NewSimSystem(2)
	devs, err := sys.Cameras()
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	if len(devs) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(devs))
	}
	s0, _ := devs[0].GetString(FeatDeviceSerialNumber)
	s1, _ := devs[1].GetString(FeatDeviceSerialNumber)
	if s0 != "SIM0001" || s1 != "SIM0002" {
		t.Errorf("unexpected serials %s, %s", s0, s1)
	}
}

func TestSimSystemEnumFailuresConsumed(t *testing.T) {
	sys := NewSimSystem(1)
	boom := DeviceError{Op: "GetCameras", Msg: "Please try reconnecting the device."}
	sys.EnumFailures = []error{boom}
	if _, err := sys.Cameras(); err == nil {
		t.Fatal("expected first enumeration to fail")
	}
	if _, err := sys.Cameras(); err != nil {
		t.Fatalf("expected second enumeration to succeed, got %v", err)
	}
}

func TestSimSystemReleased(t *testing.T) {
	sys := NewSimSystem(1)
	if err := sys.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := sys.Cameras(); err == nil {
		t.Fatal("expected enumeration after Release to fail")
	}
}

func TestSimDeviceLifecycle(t *testing.T) {
	d := NewSimDevice("SIM1234")
	if d.IsInitialized() {
		t.Fatal("fresh device should not be initialized")
	}
	if err := d.BeginAcquisition(); err == nil {
		t.Fatal("BeginAcquisition before Init should fail")
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	if !d.IsStreaming() {
		t.Fatal("expected streaming after BeginAcquisition")
	}
	if err := d.DeInit(); err == nil {
		t.Fatal("DeInit while streaming should fail")
	}
	if err := d.EndAcquisition(); err != nil {
		t.Fatal(err)
	}
	if err := d.DeInit(); err != nil {
		t.Fatal(err)
	}
}

func TestSimDeviceSetFloatAccessAndRange(t *testing.T) {
	d := NewSimDevice("SIM1234")
	if err := d.SetFloat(FeatGain, 10); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised before Init, got %v", err)
	}
	d.Init()
	if err := d.SetFloat(FeatGain, 10); err != nil {
		t.Fatal(err)
	}
	err := d.SetFloat(FeatGain, 100)
	if err == nil {
		t.Fatal("expected out of range error")
	}
	if msg := DeviceMessage(err); msg == "" {
		t.Errorf("expected a vendor message, got %v", err)
	}
	if err := d.SetFloat(FeatDeviceTemperature, 0); !errors.Is(err, ErrNotWritable) {
		t.Fatalf("expected ErrNotWritable on RO feature, got %v", err)
	}
}

func TestSimDeviceEnums(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.Init()
	if err := d.SetEnum(FeatPixelFormat, PixelFormatMono8); err != nil {
		t.Fatal(err)
	}
	got, err := d.GetEnum(FeatPixelFormat)
	if err != nil || got != PixelFormatMono8 {
		t.Fatalf("expected Mono8, got %s, %v", got, err)
	}
	if err := d.SetEnum(FeatPixelFormat, "Mono16"); err == nil {
		t.Fatal("expected unavailable entry to be rejected")
	}
}

func TestSimDeviceNextFrameAndTimeout(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.Init()
	d.SetBool(FeatFrameRateEnable, true)
	d.SetFloat(FeatAcquisitionFrameRate, 100)
	if err := d.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	defer d.EndAcquisition()
	f, err := d.NextFrame(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f.Width() != d.FrameWidth || f.Height() != d.FrameHeight {
		t.Errorf("unexpected geometry %dx%d", f.Width(), f.Height())
	}
	if f.PixelFormat() != PixelFormatBayerRG8 {
		t.Errorf("expected default BayerRG8, got %s", f.PixelFormat())
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(); err == nil {
		t.Fatal("expected second release to error")
	}
}

func TestSimDeviceTriggeredProducesNothingUntilFired(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.Init()
	if err := d.SetEnum(FeatTriggerMode, "On"); err != nil {
		t.Fatal(err)
	}
	if err := d.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	defer d.EndAcquisition()
	if _, err := d.NextFrame(50 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout before trigger, got %v", err)
	}
	if err := d.Execute(FeatTriggerSoftware); err != nil {
		t.Fatal(err)
	}
	f, err := d.NextFrame(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	f.Release()
}

type collectListener struct {
	frames chan Frame
}

func (l *collectListener) OnFrame(f Frame) { l.frames <- f }

func TestSimDeviceListenerDelivery(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.Init()
	l := &collectListener{frames: make(chan Frame, 8)}
	if err := d.RegisterHandler(l); err != nil {
		t.Fatal(err)
	}
	if err := d.RegisterHandler(l); !errors.Is(err, ErrHandlerRegistered) {
		t.Fatalf("expected ErrHandlerRegistered, got %v", err)
	}
	d.SetBool(FeatFrameRateEnable, true)
	d.SetFloat(FeatAcquisitionFrameRate, 100)
	if err := d.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-l.frames:
		f.Release()
	case <-time.After(time.Second):
		t.Fatal("no frame delivered to listener")
	}
	d.EndAcquisition()
	if err := d.UnregisterHandler(l); err != nil {
		t.Fatal(err)
	}
	if err := d.UnregisterHandler(l); err == nil {
		t.Fatal("expected second unregister to fail")
	}
}

func TestSimDeviceResetCommand(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.Init()
	if err := d.Execute(FeatDeviceReset); !errors.Is(err, ErrNotWritable) {
		t.Fatalf("expected reset to require imposed access, got %v", err)
	}
	if err := d.ImposeAccess(FeatDeviceReset, ReadWrite); err != nil {
		t.Fatal(err)
	}
	d.SetFloat(FeatGain, 12)
	if err := d.Execute(FeatDeviceReset); err != nil {
		t.Fatal(err)
	}
	if d.ResetCount != 1 {
		t.Errorf("expected 1 reset, got %d", d.ResetCount)
	}
	if d.IsInitialized() {
		t.Error("reset should drop initialisation")
	}
	d.Init()
	g, _ := d.GetFloat(FeatGain)
	if g != 0 {
		t.Errorf("reset should restore factory gain, got %g", g)
	}
}

func TestSimDeviceForceIPCommand(t *testing.T) {
	d := NewSimDevice("SIM1234")
	if err := d.ImposeAccess(FeatAutoForceIP, ReadWrite); err != nil {
		t.Fatal(err)
	}
	if err := d.Execute(FeatAutoForceIP); err != nil {
		t.Fatal(err)
	}
	if d.ForceIPCount != 1 {
		t.Errorf("expected 1 force-IP, got %d", d.ForceIPCount)
	}
}

func TestSimDeviceIncompleteFrames(t *testing.T) {
	d := NewSimDevice("SIM1234")
	d.IncompleteEvery = 2
	d.Init()
	d.SetBool(FeatFrameRateEnable, true)
	d.SetFloat(FeatAcquisitionFrameRate, 120)
	if err := d.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	defer d.EndAcquisition()
	sawIncomplete := false
	for i := 0; i < 4; i++ {
		f, err := d.NextFrame(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if f.Incomplete() {
			sawIncomplete = true
			if f.Status() == 0 {
				t.Error("incomplete frame should carry a nonzero status")
			}
		}
		f.Release()
	}
	if !sawIncomplete {
		t.Error("expected every 2nd frame to be incomplete")
	}
}
