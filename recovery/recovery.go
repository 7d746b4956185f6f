/*
Package recovery classifies vendor SDK failures and applies the matching
corrective action to the device.

GigE cameras fail in a handful of recognizable ways: a camera that answered
discovery from the wrong subnet needs a forced IP reassignment, while a
wedged device (stale GenICam node map, half-dead transport) needs a full
device reset.  Classification is by substring match against the verbatim
vendor message, which is the only durable signal the SDK exposes.

Corrective actions are retried with exponential backoff up to a bound, after
which the error is surfaced to the caller.
*/
package recovery

import (
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/gilbo123/spincam/spin"
)

// Action is the corrective measure matched to a failure.
type Action int

// Corrective actions, in increasing order of severity.
const (
	// ActionNone means the failure is not recoverable by this package.
	ActionNone Action = iota

	// ActionForceIP reassigns the device IP onto the host's subnet.
	ActionForceIP

	// ActionReset power-cycles the device logic.
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionForceIP:
		return "force-ip"
	case ActionReset:
		return "reset"
	default:
		return "none"
	}
}

// classifications maps vendor message substrings to corrective actions.
// The strings are verbatim fragments of the SDK's error text and must not
// be reformatted.
var classifications = map[string]Action{
	"Camera is on a wrong subnet.":        ActionForceIP,
	"GenICam::OutOfRangeException=":       ActionReset,
	"Please try reconnecting the device.": ActionReset,
}

// Classify maps a failure to its corrective action.  Unrecognized failures,
// including nil, classify as ActionNone.
func Classify(err error) Action {
	if err == nil {
		return ActionNone
	}
	msg := spin.DeviceMessage(err)
	if msg == "" {
		msg = err.Error()
	}
	for frag, action := range classifications {
		if strings.Contains(msg, frag) {
			return action
		}
	}
	return ActionNone
}

// DefaultMaxRetries bounds corrective action attempts.
const DefaultMaxRetries = 5

// Retry runs op with exponential backoff, up to maxRetries retries after
// the first attempt.  The backoff starts at 100ms and is uncapped by a
// total elapsed time; the retry count is the bound.
func Retry(op func() error, maxRetries uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithMaxRetries(b, maxRetries))
}

// Fixer applies corrective actions to devices from one SDK system.
type Fixer struct {
	sys spin.System

	// MaxRetries bounds the attempts of each corrective action.
	MaxRetries uint64

	log *log.Logger
}

// NewFixer builds a Fixer over sys with the default retry bound.
func NewFixer(sys spin.System) *Fixer {
	return &Fixer{sys: sys, MaxRetries: DefaultMaxRetries, log: log.Default()}
}

// SetLogger replaces the fixer's logger.
func (f *Fixer) SetLogger(l *log.Logger) { f.log = l }

// ForceIP forces the device onto the host's subnet.  The force IP command
// lives in the transport layer and reports read-only access until elevated,
// so access is imposed before execution.
func (f *Fixer) ForceIP(dev spin.Device) error {
	op := func() error {
		if err := dev.ImposeAccess(spin.FeatAutoForceIP, spin.ReadWrite); err != nil {
			return err
		}
		return dev.Execute(spin.FeatAutoForceIP)
	}
	return errors.Wrap(Retry(op, f.MaxRetries), "forcing device IP")
}

// Reset power-cycles the device logic.  The reset command requires an
// initialised node map; the device drops off the bus afterward and must be
// re-enumerated.
func (f *Fixer) Reset(dev spin.Device) error {
	op := func() error {
		if !dev.IsInitialized() {
			if err := dev.Init(); err != nil {
				return err
			}
		}
		if err := dev.ImposeAccess(spin.FeatDeviceReset, spin.ReadWrite); err != nil {
			return err
		}
		return dev.Execute(spin.FeatDeviceReset)
	}
	return errors.Wrap(Retry(op, f.MaxRetries), "resetting device")
}

// Fix classifies err and applies the matching action to dev.  Failures that
// classify as ActionNone are returned unchanged.
func (f *Fixer) Fix(dev spin.Device, err error) error {
	action := Classify(err)
	f.log.Printf("recovery: classified %q as %s", err, action)
	switch action {
	case ActionForceIP:
		return f.ForceIP(dev)
	case ActionReset:
		return f.Reset(dev)
	default:
		return err
	}
}

// ForceAll applies ForceIP to every enumerable device, returning the first
// failure after attempting all.
func (f *Fixer) ForceAll() error {
	return f.each(f.ForceIP)
}

// ResetAll applies Reset to every enumerable device, returning the first
// failure after attempting all.
func (f *Fixer) ResetAll() error {
	return f.each(f.Reset)
}

func (f *Fixer) each(action func(spin.Device) error) error {
	devs, err := f.sys.Cameras()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		return spin.ErrNoCameras
	}
	var first error
	for _, d := range devs {
		if err := action(d); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BySerial finds the device with the given serial number.
func (f *Fixer) BySerial(serial string) (spin.Device, error) {
	devs, err := f.sys.Cameras()
	if err != nil {
		return nil, err
	}
	for _, d := range devs {
		s, err := d.GetString(spin.FeatDeviceSerialNumber)
		if err != nil {
			continue
		}
		if s == serial {
			return d, nil
		}
	}
	return nil, errors.Errorf("no camera with serial %s", serial)
}
