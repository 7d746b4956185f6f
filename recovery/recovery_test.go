package recovery

import (
	"io/ioutil"
	"log"
	"testing"

	"github.com/pkg/errors"

	"github.com/gilbo123/spincam/spin"
)

func quietFixer(sys spin.System) *Fixer {
	f := NewFixer(sys)
	f.SetLogger(log.New(ioutil.Discard, "", 0))
	return f
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Action
	}{
		{"nil", nil, ActionNone},
		{"subnet", spin.DeviceError{Op: "Init", Msg: "Camera is on a wrong subnet."}, ActionForceIP},
		{"out of range", spin.DeviceError{Op: "SetFloat", Msg: "GenICam::OutOfRangeException= thrown in node access"}, ActionReset},
		{"reconnect", spin.DeviceError{Op: "GetNextImage", Msg: "Failed waiting for EventData. Please try reconnecting the device."}, ActionReset},
		{"wrapped", errors.Wrap(spin.DeviceError{Op: "Init", Msg: "Camera is on a wrong subnet."}, "starting up"), ActionForceIP},
		{"unrelated", errors.New("file not found"), ActionNone},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestFixerForceIP(t *testing.T) {
	d := spin.NewSimDevice("SIM0001")
	sys := spin.NewSimSystem(0)
	sys.AddDevice(d)
	f := quietFixer(sys)
	if err := f.ForceIP(d); err != nil {
		t.Fatal(err)
	}
	if d.ForceIPCount != 1 {
		t.Errorf("expected 1 force-IP execution, got %d", d.ForceIPCount)
	}
}

func TestFixerResetInitialisesFirst(t *testing.T) {
	d := spin.NewSimDevice("SIM0001")
	sys := spin.NewSimSystem(0)
	sys.AddDevice(d)
	f := quietFixer(sys)
	if d.IsInitialized() {
		t.Fatal("precondition: device should start deinitialised")
	}
	if err := f.Reset(d); err != nil {
		t.Fatal(err)
	}
	if d.ResetCount != 1 {
		t.Errorf("expected 1 reset, got %d", d.ResetCount)
	}
	if d.IsInitialized() {
		t.Error("device should come out of reset deinitialised")
	}
}

func TestFixerFixDispatches(t *testing.T) {
	d := spin.NewSimDevice("SIM0001")
	sys := spin.NewSimSystem(0)
	sys.AddDevice(d)
	f := quietFixer(sys)

	err := f.Fix(d, spin.DeviceError{Op: "Init", Msg: "Camera is on a wrong subnet."})
	if err != nil {
		t.Fatal(err)
	}
	if d.ForceIPCount != 1 {
		t.Errorf("expected force-IP, got %d executions", d.ForceIPCount)
	}

	err = f.Fix(d, spin.DeviceError{Op: "SetFloat", Msg: "GenICam::OutOfRangeException= bad node"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ResetCount != 1 {
		t.Errorf("expected reset, got %d executions", d.ResetCount)
	}

	unknown := errors.New("unclassifiable")
	if got := f.Fix(d, unknown); got != unknown {
		t.Errorf("unclassifiable errors must pass through, got %v", got)
	}
}

func TestFixerAllVariants(t *testing.T) {
	sys := spin.NewSimSystem(3)
	f := quietFixer(sys)
	if err := f.ForceAll(); err != nil {
		t.Fatal(err)
	}
	if err := f.ResetAll(); err != nil {
		t.Fatal(err)
	}
	devs, _ := sys.Cameras()
	for i, dev := range devs {
		d := dev.(*spin.SimDevice)
		if d.ForceIPCount != 1 || d.ResetCount != 1 {
			t.Errorf("device %d: force=%d reset=%d, want 1/1", i, d.ForceIPCount, d.ResetCount)
		}
	}
}

func TestFixerAllNoCameras(t *testing.T) {
	sys := spin.NewSimSystem(0)
	f := quietFixer(sys)
	if err := f.ForceAll(); !errors.Is(err, spin.ErrNoCameras) {
		t.Fatalf("expected ErrNoCameras, got %v", err)
	}
}

func TestFixerBySerial(t *testing.T) {
	sys := spin.NewSimSystem(2)
	f := quietFixer(sys)
	d, err := f.BySerial("SIM0002")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := d.GetString(spin.FeatDeviceSerialNumber)
	if s != "SIM0002" {
		t.Errorf("got %s", s)
	}
	if _, err := f.BySerial("SIM9999"); err == nil {
		t.Error("expected unknown serial to error")
	}
}

func TestRetryBounded(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		return errors.New("always fails")
	}, 2)
	if err == nil {
		t.Fatal("expected failure after retries exhausted")
	}
	if attempts != 3 {
		t.Errorf("expected 1 attempt + 2 retries, got %d attempts", attempts)
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}
