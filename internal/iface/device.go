// Package iface defines the virtual-interface collaborator contract
// (SPEC_FULL.md §6): a TUN device operated in Ethernet (L2) mode, plus the
// out-of-band OS configuration every variant needs once it has a device.
package iface

import "net/netip"

// Status flags for Device.SetStatus.
type Status int

const (
	AllDown Status = iota
	IPv4Up
	IPv6Up
)

// Device is the virtual-interface contract every tunnel variant's reader
// and writer are built against. Implementations operate the device in
// Ethernet mode: Read/Write carry full Ethernet frames.
type Device interface {
	// Read blocks until a single Ethernet frame arrives from the interface
	// or the device is closed; it has no timeout of its own (use
	// WaitReadable to bound the wait).
	Read(buf []byte) (int, error)
	// Write sends a single Ethernet frame to the interface.
	Write(buf []byte) (int, error)
	// WaitReadable blocks up to waitms milliseconds for the device to
	// become readable. A timeout is not an error; callers check the
	// returned bool.
	WaitReadable(waitms int) (readable bool, err error)
	// HWAddr returns the interface's own 6-byte MAC.
	HWAddr() ([6]byte, error)
	// SetMTU / MTU configure and read back the link MTU.
	SetMTU(n int) error
	MTU() (int, error)
	// SetIPv4 assigns an address/prefix to the interface.
	SetIPv4(addr netip.Addr, prefix int) error
	// SetIPv6 assigns an address/prefix to the interface's IPv6 side.
	SetIPv6(addr netip.Addr, prefix int) error
	// AddDefaultRoute installs a default route through the interface for
	// the given address family (4 or 6).
	AddDefaultRoute(ipV int) error
	// SetStatus brings the link up/down per Status.
	SetStatus(s Status) error
	// Name returns the OS-assigned interface name (e.g. "tun0").
	Name() string
	// Close releases the device.
	Close() error
}
