// Package device is the loader's device registry. The disk and network
// probes (external to the core) register the devices they discover; the
// pipeline only needs to look a device up by name and inspect enough of it
// to build the boot device handoff tag.
package device

import "github.com/gil0mendes/LAOS/kernel/hal/fs"

// Type classifies a registered device.
type Type uint8

const (
	// TypeDisk is a local storage device.
	TypeDisk Type = iota

	// TypeNet is a network boot device.
	TypeNet
)

// NetFlag holds network device flag bits.
type NetFlag uint32

const (
	// NetIPv6 marks a device configured over IPv6.
	NetIPv6 NetFlag = 1 << 0
)

// NetInfo carries the boot-server configuration of a network device, as
// obtained from the firmware's PXE/DHCP handoff.
type NetInfo struct {
	Flags      NetFlag
	ServerPort uint32
	HWType     uint16
	HWAddrSize uint8
	ServerIP   [16]byte
	GatewayIP  [16]byte
	IP         [16]byte
	HWAddr     [16]byte
}

// Device is a probed boot device.
type Device struct {
	Name  string
	Type  Type
	Mount *fs.Mount
	Net   *NetInfo
}

var devices []*Device

// Register adds a device to the registry. Called by the platform's disk and
// network probes during startup.
func Register(d *Device) {
	devices = append(devices, d)
}

// Lookup returns the device with the given name, or nil.
func Lookup(name string) *Device {
	for _, d := range devices {
		if d.Name == name {
			return d
		}
	}
	return nil
}
