/*
Package camera wraps spin devices with a lifecycle-checked configuration
surface and provides the multi-camera acquisition coordinator.

A Camera moves between three states: uninitialised, initialised-idle and
streaming.  Parameter setters are only legal once initialised; Deinitialise
refuses while streaming, callers stop acquisition first.  Each setter
verifies the feature's access mode before writing and clamps numeric values
to the SDK-reported maximum, so a request can never push the device out of
range.
*/
package camera

import (
	"log"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/gilbo123/spincam/spin"
	"github.com/gilbo123/spincam/util"
)

// Camera owns one device handle and tracks whether an asynchronous frame
// handler has been attached.
type Camera struct {
	dev spin.Device

	serial   string
	model    string
	vendor   string
	firmware string

	handler *FrameHandler

	log *log.Logger
}

// New wraps a device, reading its identity block.  The device is initialised
// only long enough to read the identity and left deinitialised, so identity
// is available immediately after enumeration while the node map stays closed
// until Initialise.
func New(dev spin.Device) (*Camera, error) {
	c := &Camera{dev: dev, log: log.Default()}
	preInit := dev.IsInitialized()
	if !preInit {
		if err := dev.Init(); err != nil {
			return nil, errors.Wrap(err, "reading camera identity")
		}
	}
	c.serial, _ = dev.GetString(spin.FeatDeviceSerialNumber)
	c.model, _ = dev.GetString(spin.FeatDeviceModelName)
	c.vendor, _ = dev.GetString(spin.FeatDeviceVendorName)
	c.firmware, _ = dev.GetString(spin.FeatDeviceFirmwareVersion)
	if !preInit {
		if err := dev.DeInit(); err != nil {
			return nil, errors.Wrap(err, "releasing camera after identity read")
		}
	}
	return c, nil
}

// SetLogger replaces the camera's logger, mostly to silence it in tests.
func (c *Camera) SetLogger(l *log.Logger) {
	c.log = l
	if c.handler != nil {
		c.handler.log = l
	}
}

// Serial returns the device serial number, the camera's primary identity.
func (c *Camera) Serial() string { return c.serial }

// Model returns the device model name.
func (c *Camera) Model() string { return c.model }

// Vendor returns the device vendor name.
func (c *Camera) Vendor() string { return c.vendor }

// Firmware returns the device firmware version.
func (c *Camera) Firmware() string { return c.firmware }

// Device exposes the underlying handle for collaborators that need raw
// feature access, e.g. the recovery machinery.
func (c *Camera) Device() spin.Device { return c.dev }

// IsInitialised reports whether the node map is currently accessible.
func (c *Camera) IsInitialised() bool { return c.dev.IsInitialized() }

// IsStreaming reports whether acquisition is running.
func (c *Camera) IsStreaming() bool { return c.dev.IsStreaming() }

// CallbackSet reports whether a frame handler is attached, i.e. whether the
// camera is in event-driven delivery mode.
func (c *Camera) CallbackSet() bool { return c.handler != nil }

// Handler returns the attached frame delivery handler, nil in polling mode.
func (c *Camera) Handler() *FrameHandler { return c.handler }

// Initialise initialises the camera.  Initialising an already initialised
// camera is a no-op success.
func (c *Camera) Initialise() error {
	if c.dev.IsInitialized() {
		return nil
	}
	return c.dev.Init()
}

// Deinitialise unregisters any attached frame handler and deinitialises the
// camera.  It refuses while streaming; implicit stop-on-deinit hides missing
// EndAcquisition calls, so callers stop acquisition explicitly first.
func (c *Camera) Deinitialise() error {
	if !c.dev.IsInitialized() {
		return nil
	}
	if c.dev.IsStreaming() {
		return errors.Wrap(spin.ErrInvalidState, "deinitialise while streaming")
	}
	if c.handler != nil {
		if err := c.dev.UnregisterHandler(c.handler); err != nil {
			return err
		}
		c.handler = nil
	}
	return c.dev.DeInit()
}

// StartAcquisition begins streaming.
func (c *Camera) StartAcquisition() error {
	if !c.dev.IsInitialized() {
		return spin.ErrNotInitialised
	}
	if c.dev.IsStreaming() {
		return errors.Wrap(spin.ErrInvalidState, "acquisition already running")
	}
	return c.dev.BeginAcquisition()
}

// StopAcquisition ends streaming.  Stopping an idle camera is a no-op.
func (c *Camera) StopAcquisition() error {
	if !c.dev.IsStreaming() {
		return nil
	}
	return c.dev.EndAcquisition()
}

// SetCallback attaches a sink to the camera, switching it to event-driven
// delivery.  The acquisition loop stops polling this camera and reads the
// handler's frame counter instead.
func (c *Camera) SetCallback(fn Callback) error {
	if !c.dev.IsInitialized() {
		return spin.ErrNotInitialised
	}
	h := NewFrameHandler(c.serial, fn)
	h.log = c.log
	if err := c.dev.RegisterHandler(h); err != nil {
		return err
	}
	c.handler = h
	return nil
}

// NextFrame issues one blocking grab.  The caller owns the returned frame
// and must Release it exactly once.
func (c *Camera) NextFrame(timeout time.Duration) (spin.Frame, error) {
	if !c.dev.IsStreaming() {
		return nil, errors.Wrap(spin.ErrInvalidState, "grab before BeginAcquisition")
	}
	return c.dev.NextFrame(timeout)
}

// writable verifies the camera is initialised and the feature is RW.
func (c *Camera) writable(feature string) error {
	if !c.dev.IsInitialized() {
		return spin.ErrNotInitialised
	}
	if c.dev.AccessMode(feature) != spin.ReadWrite {
		return errors.Wrap(spin.ErrNotWritable, feature)
	}
	return nil
}

// setClampedFloat writes a float feature, clamping to the SDK maximum.
func (c *Camera) setClampedFloat(feature string, v float64) error {
	max, err := c.dev.FloatMax(feature)
	if err != nil {
		return err
	}
	return c.dev.SetFloat(feature, util.Clamp(v, 0, max))
}

// autoMode maps the user-facing auto-feature modes onto vendor enum entries.
func autoMode(param, mode string) (string, error) {
	switch strings.ToLower(mode) {
	case "continuous":
		return "Continuous", nil
	case "once":
		return "Once", nil
	case "off":
		return "Off", nil
	default:
		return "", spin.InvalidParameterError{Param: param, Value: mode, Hint: "'continuous', 'once', or 'off'"}
	}
}

// SetAcquisitionMode sets continuous, single or multiple frame acquisition.
func (c *Camera) SetAcquisitionMode(mode string) error {
	if err := c.writable(spin.FeatAcquisitionMode); err != nil {
		return err
	}
	var entry string
	switch strings.ToLower(mode) {
	case "continuous":
		entry = "Continuous"
	case "single":
		entry = "SingleFrame"
	case "multiple":
		entry = "MultiFrame"
	default:
		return spin.InvalidParameterError{Param: "acquisition mode", Value: mode, Hint: "'continuous', 'single', or 'multiple'"}
	}
	return c.dev.SetEnum(spin.FeatAcquisitionMode, entry)
}

// SetFrameRate enables manual frame rate control and applies fps, clamped to
// the camera's maximum.
func (c *Camera) SetFrameRate(fps float64) error {
	if err := c.writable(spin.FeatFrameRateEnable); err != nil {
		return err
	}
	if fps <= 0 {
		return spin.InvalidParameterError{Param: "frame rate", Value: fps, Hint: "a positive fps"}
	}
	if err := c.dev.SetBool(spin.FeatFrameRateEnable, true); err != nil {
		return err
	}
	if err := c.writable(spin.FeatAcquisitionFrameRate); err != nil {
		return err
	}
	return c.setClampedFloat(spin.FeatAcquisitionFrameRate, fps)
}

// SetExposure sets the auto-exposure mode, and when mode is "off" applies
// the manual exposure time in microseconds, clamped to the maximum.
func (c *Camera) SetExposure(mode string, exposureUs float64) error {
	if err := c.writable(spin.FeatExposureAuto); err != nil {
		return err
	}
	entry, err := autoMode("exposure mode", mode)
	if err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatExposureAuto, entry); err != nil {
		return err
	}
	if entry != "Off" {
		return nil
	}
	if exposureUs <= 0 {
		return spin.InvalidParameterError{Param: "exposure time", Value: exposureUs, Hint: "a positive duration in microseconds with mode 'off'"}
	}
	if err := c.writable(spin.FeatExposureTime); err != nil {
		return err
	}
	return c.setClampedFloat(spin.FeatExposureTime, exposureUs)
}

// SetWhiteBalance sets the auto white balance mode, and when mode is "off"
// applies the red and blue balance ratios through the ratio selector.
func (c *Camera) SetWhiteBalance(mode string, red, blue float64) error {
	if err := c.writable(spin.FeatBalanceWhiteAuto); err != nil {
		return err
	}
	entry, err := autoMode("white balance mode", mode)
	if err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatBalanceWhiteAuto, entry); err != nil {
		return err
	}
	if entry != "Off" {
		return nil
	}
	if red <= 0 || blue <= 0 {
		return spin.InvalidParameterError{Param: "balance ratio", Value: [2]float64{red, blue}, Hint: "positive red and blue ratios with mode 'off'"}
	}
	if err := c.writable(spin.FeatBalanceRatioSelector); err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatBalanceRatioSelector, "Red"); err != nil {
		return err
	}
	if err := c.setClampedFloat(spin.FeatBalanceRatio, red); err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatBalanceRatioSelector, "Blue"); err != nil {
		return err
	}
	return c.setClampedFloat(spin.FeatBalanceRatio, blue)
}

// SetGain sets the auto gain mode, and when mode is "off" applies the gain
// in dB, clamped to the maximum.
func (c *Camera) SetGain(mode string, gainDB float64) error {
	if err := c.writable(spin.FeatGainAuto); err != nil {
		return err
	}
	entry, err := autoMode("gain mode", mode)
	if err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatGainAuto, entry); err != nil {
		return err
	}
	if entry != "Off" {
		return nil
	}
	if gainDB < 0 {
		return spin.InvalidParameterError{Param: "gain", Value: gainDB, Hint: "a non-negative dB value with mode 'off'"}
	}
	if err := c.writable(spin.FeatGain); err != nil {
		return err
	}
	return c.setClampedFloat(spin.FeatGain, gainDB)
}

// SetGamma enables or disables gamma correction, applying the clamped gamma
// value when enabling.
func (c *Camera) SetGamma(enable bool, gamma float64) error {
	if err := c.writable(spin.FeatGammaEnable); err != nil {
		return err
	}
	if err := c.dev.SetBool(spin.FeatGammaEnable, enable); err != nil {
		return err
	}
	if !enable {
		return nil
	}
	if gamma <= 0 {
		return spin.InvalidParameterError{Param: "gamma", Value: gamma, Hint: "a positive value when enabled"}
	}
	if err := c.writable(spin.FeatGamma); err != nil {
		return err
	}
	return c.setClampedFloat(spin.FeatGamma, gamma)
}

// SetStreamBufferMode configures the transport buffer handling policy.
func (c *Camera) SetStreamBufferMode(mode string) error {
	if err := c.writable(spin.FeatStreamBufferMode); err != nil {
		return err
	}
	var entry string
	switch strings.ToLower(mode) {
	case "newest-only":
		entry = "NewestOnly"
	case "newest-first":
		entry = "NewestFirst"
	case "oldest-first":
		entry = "OldestFirst"
	case "oldest-overwrite":
		entry = "OldestFirstOverwrite"
	default:
		return spin.InvalidParameterError{Param: "buffer mode", Value: mode, Hint: "'newest-only', 'newest-first', 'oldest-first', or 'oldest-overwrite'"}
	}
	return c.dev.SetEnum(spin.FeatStreamBufferMode, entry)
}

// SetTrigger configures triggering with the two-phase protocol: trigger mode
// is always disabled first so the source can be reprogrammed, then re-armed
// when mode is "on".  A hardware source requires a line in 0..3.
func (c *Camera) SetTrigger(mode, source string, line int) error {
	if err := c.writable(spin.FeatTriggerMode); err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatTriggerMode, "Off"); err != nil {
		return err
	}
	switch strings.ToLower(mode) {
	case "off":
		return nil
	case "on":
	default:
		return spin.InvalidParameterError{Param: "trigger mode", Value: mode, Hint: "'off' or 'on'"}
	}
	if err := c.writable(spin.FeatTriggerSelector); err != nil {
		return err
	}
	if err := c.dev.SetEnum(spin.FeatTriggerSelector, "FrameStart"); err != nil {
		return err
	}
	if err := c.writable(spin.FeatTriggerSource); err != nil {
		return err
	}
	switch strings.ToLower(source) {
	case "hardware":
		if line < 0 || line > 3 {
			return spin.InvalidParameterError{Param: "trigger line", Value: line, Hint: "line 0, 1, 2, or 3 with a hardware source"}
		}
		lines := [4]string{"Line0", "Line1", "Line2", "Line3"}
		if err := c.dev.SetEnum(spin.FeatTriggerSource, lines[line]); err != nil {
			return err
		}
	case "software":
		if err := c.dev.SetEnum(spin.FeatTriggerSource, "Software"); err != nil {
			return err
		}
	default:
		return spin.InvalidParameterError{Param: "trigger source", Value: source, Hint: "'hardware' or 'software'"}
	}
	return c.dev.SetEnum(spin.FeatTriggerMode, "On")
}

// ExecuteSoftwareTrigger fires the software trigger command.
func (c *Camera) ExecuteSoftwareTrigger() error {
	if !c.dev.IsInitialized() {
		return spin.ErrNotInitialised
	}
	return c.dev.Execute(spin.FeatTriggerSoftware)
}

// SetPacketSize sets the GigE streaming packet size in bytes.
func (c *Camera) SetPacketSize(bytes int) error {
	if err := c.writable(spin.FeatPacketSize); err != nil {
		return err
	}
	if bytes <= 0 {
		return spin.InvalidParameterError{Param: "packet size", Value: bytes, Hint: "a positive byte count"}
	}
	return c.dev.SetInt(spin.FeatPacketSize, int64(bytes))
}

// SetThroughputLimit sets the device link throughput limit in bytes/sec.
func (c *Camera) SetThroughputLimit(bytesPerSec int) error {
	if err := c.writable(spin.FeatThroughputLimit); err != nil {
		return err
	}
	if bytesPerSec <= 0 {
		return spin.InvalidParameterError{Param: "throughput limit", Value: bytesPerSec, Hint: "a positive bytes/sec value"}
	}
	return c.dev.SetInt(spin.FeatThroughputLimit, int64(bytesPerSec))
}

// SetPixelFormat selects the on-wire pixel encoding.  The format must be one
// of the entries the camera reports.
func (c *Camera) SetPixelFormat(format string) error {
	if err := c.writable(spin.FeatPixelFormat); err != nil {
		return err
	}
	entries, err := c.dev.EnumEntries(spin.FeatPixelFormat)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e == format {
			return c.dev.SetEnum(spin.FeatPixelFormat, format)
		}
	}
	return spin.InvalidParameterError{Param: "pixel format", Value: format, Hint: strings.Join(entries, ", ")}
}

// PixelFormat reads the camera's current pixel encoding.
func (c *Camera) PixelFormat() (string, error) {
	if !c.dev.IsInitialized() {
		return "", spin.ErrNotInitialised
	}
	return c.dev.GetEnum(spin.FeatPixelFormat)
}

// Temperature reads the device temperature in Celsius.
func (c *Camera) Temperature() (float64, error) {
	if !c.dev.IsInitialized() {
		return 0, spin.ErrNotInitialised
	}
	return c.dev.GetFloat(spin.FeatDeviceTemperature)
}
