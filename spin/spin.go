/*
Package spin abstracts the public surface of a GenICam-style machine vision
SDK behind Go interfaces.

The interfaces cover only the operations the rest of this module needs:
enumeration, device lifecycle, feature access with access-mode checks, command
execution, blocking frame retrieval and asynchronous frame delivery.  A real
backend wraps the vendor library; the Sim types in this package provide a
complete in-process backend for development and tests.
*/
package spin

import "time"

// AccessMode is the SDK-reported permission on a device feature.  It can
// change with device state; a feature that is RW while idle may become RO
// while the camera is streaming.
type AccessMode int

// Access modes, ordered as the vendor SDKs order them.
const (
	NotAvailable AccessMode = iota
	ReadOnly
	WriteOnly
	ReadWrite
)

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "RO"
	case WriteOnly:
		return "WO"
	case ReadWrite:
		return "RW"
	default:
		return "NA"
	}
}

// Feature names, mirroring the GenICam node names used by GigE/USB3 Vision
// cameras.
const (
	FeatAcquisitionMode        = "AcquisitionMode"
	FeatAcquisitionFrameRate   = "AcquisitionFrameRate"
	FeatFrameRateEnable        = "AcquisitionFrameRateEnable"
	FeatExposureAuto           = "ExposureAuto"
	FeatExposureTime           = "ExposureTime"
	FeatBalanceWhiteAuto       = "BalanceWhiteAuto"
	FeatBalanceRatioSelector   = "BalanceRatioSelector"
	FeatBalanceRatio           = "BalanceRatio"
	FeatGainAuto               = "GainAuto"
	FeatGain                   = "Gain"
	FeatGammaEnable            = "GammaEnable"
	FeatGamma                  = "Gamma"
	FeatStreamBufferMode       = "StreamBufferHandlingMode"
	FeatTriggerMode            = "TriggerMode"
	FeatTriggerSelector        = "TriggerSelector"
	FeatTriggerSource          = "TriggerSource"
	FeatTriggerSoftware        = "TriggerSoftware"
	FeatPacketSize             = "GevSCPSPacketSize"
	FeatThroughputLimit        = "DeviceLinkThroughputLimit"
	FeatPixelFormat            = "PixelFormat"
	FeatDeviceReset            = "DeviceReset"
	FeatAutoForceIP            = "GevDeviceAutoForceIP"
	FeatDeviceTemperature      = "DeviceTemperature"
	FeatDeviceSerialNumber     = "DeviceSerialNumber"
	FeatDeviceModelName        = "DeviceModelName"
	FeatDeviceVendorName       = "DeviceVendorName"
	FeatDeviceFirmwareVersion  = "DeviceFirmwareVersion"
	FeatGevPersistentIPAddress = "GevPersistentIPAddress"
)

// Pixel format identifiers.  These are the subset of the vendor enum the
// module understands; a backend may report others, which the conversion
// machinery will reject.
const (
	PixelFormatMono8    = "Mono8"
	PixelFormatBayerRG8 = "BayerRG8"
	PixelFormatRGB8     = "RGB8"
	PixelFormatBGR8     = "BGR8"
)

// System is the root SDK object.  One per process.
type System interface {
	// Cameras enumerates the attached devices, in a stable order.
	Cameras() ([]Device, error)

	// Interfaces lists the transport interfaces (GigE NICs, USB roots).
	Interfaces() ([]Interface, error)

	// Version reports the backing library version.
	Version() string

	// Release frees the SDK instance.  No handle obtained from this System
	// may be used afterward.
	Release() error
}

// Interface is one transport interface with zero or more attached devices.
type Interface interface {
	Name() string
	Cameras() ([]Device, error)
}

// FrameListener receives asynchronous frame delivery from a Device.  OnFrame
// is called from the backend's delivery goroutine, concurrently with any
// other use of the device.
type FrameListener interface {
	OnFrame(Frame)
}

// Device is one physical camera.  Feature mutation requires Init first;
// NextFrame requires BeginAcquisition.
type Device interface {
	Init() error
	DeInit() error
	IsInitialized() bool
	IsStreaming() bool

	BeginAcquisition() error
	EndAcquisition() error

	// NextFrame blocks until a frame is available or the timeout elapses.
	// The caller owns the returned frame and must Release it exactly once.
	NextFrame(timeout time.Duration) (Frame, error)

	// RegisterHandler subscribes to asynchronous frame delivery.  While a
	// handler is registered frames are pushed to it and NextFrame will
	// starve.  Only one handler per device.
	RegisterHandler(FrameListener) error
	UnregisterHandler(FrameListener) error

	// AccessMode reports the current permission on a feature.
	AccessMode(feature string) AccessMode

	// ImposeAccess overrides the reported permission, used by transport
	// layer commands (force IP, reset) that require elevated write access.
	ImposeAccess(feature string, m AccessMode) error

	GetFloat(feature string) (float64, error)
	SetFloat(feature string, v float64) error
	FloatMax(feature string) (float64, error)
	GetInt(feature string) (int64, error)
	SetInt(feature string, v int64) error
	GetBool(feature string) (bool, error)
	SetBool(feature string, v bool) error
	GetEnum(feature string) (string, error)
	SetEnum(feature, value string) error
	EnumEntries(feature string) ([]string, error)
	GetString(feature string) (string, error)

	// Execute runs a command feature, e.g. TriggerSoftware or DeviceReset.
	Execute(feature string) error
}
