package recovery

import (
	"fmt"

	"github.com/google/gousb"
)

// flirVendorID is the USB vendor ID shared by FLIR/Point Grey cameras.
const flirVendorID = 0x1e10

// USBCamera is one machine vision camera seen on the USB bus, below the
// vendor SDK.  Useful when a wedged camera enumerates on USB but not in the
// SDK.
type USBCamera struct {
	Bus     int
	Address int
	VID     uint16
	PID     uint16
	Product string
}

func (u USBCamera) String() string {
	return fmt.Sprintf("bus %d addr %d %04x:%04x %s", u.Bus, u.Address, u.VID, u.PID, u.Product)
}

// ListUSB enumerates FLIR cameras directly on the USB bus.
func ListUSB() ([]USBCamera, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(flirVendorID)
	})
	// OpenDevices can return both devices and an error; report what we saw.
	out := make([]USBCamera, 0, len(devs))
	for _, d := range devs {
		product, perr := d.Product()
		if perr != nil {
			product = "(unreadable)"
		}
		out = append(out, USBCamera{
			Bus:     d.Desc.Bus,
			Address: d.Desc.Address,
			VID:     uint16(d.Desc.Vendor),
			PID:     uint16(d.Desc.Product),
			Product: product,
		})
		d.Close()
	}
	return out, err
}
