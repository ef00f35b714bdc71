// Package tun_client wires the ioctl/ip/epoll collaborators together into
// a concrete iface.Device for a single TUN interface (SPEC_FULL.md §6).
package tun_client

import (
	"fmt"
	"net/netip"

	"nablatun/infrastructure/PAL/exec_commander"
	"nablatun/infrastructure/PAL/linux/ioctl"
	"nablatun/infrastructure/PAL/linux/ip"
	"nablatun/infrastructure/PAL/linux/tun/epoll"
	"nablatun/internal/iface"
)

const defaultTunPath = "/dev/net/tun"

// PlatformTunManager creates and configures the Linux TUN device used as
// the virtual interface for a tunnel endpoint.
type PlatformTunManager struct {
	ip    ip.Contract
	ioctl ioctl.Contract
}

func NewPlatformTunManager() *PlatformTunManager {
	commander := exec_commander.NewExecCommander()
	return &PlatformTunManager{
		ip:    ip.NewWrapper(commander),
		ioctl: ioctl.NewWrapper(ioctl.NewLinuxIoctlCommander(), defaultTunPath),
	}
}

// CreateDevice creates a TUN interface named ifName, assigns addr/prefix to
// it, sets its MTU, and brings the link up, returning a ready iface.Device.
func (t *PlatformTunManager) CreateDevice(ifName string, addr netip.Addr, prefix int, mtu int) (iface.Device, error) {
	tunFile, err := t.ioctl.CreateTunInterface(ifName)
	if err != nil {
		return nil, fmt.Errorf("tun_client: open tun interface: %w", err)
	}

	name, err := t.ioctl.DetectTunNameFromFd(tunFile)
	if err != nil {
		_ = tunFile.Close()
		return nil, fmt.Errorf("tun_client: detect tun name: %w", err)
	}

	dev, err := epoll.NewTUN(tunFile, name, t.ip)
	if err != nil {
		return nil, fmt.Errorf("tun_client: wrap tun fd: %w", err)
	}

	if err := dev.SetIPv4(addr, prefix); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("tun_client: assign address: %w", err)
	}
	if err := dev.SetMTU(mtu); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("tun_client: set mtu: %w", err)
	}
	if err := dev.SetStatus(iface.IPv4Up); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("tun_client: bring link up: %w", err)
	}

	return dev, nil
}

// DisposeDevice deletes the named TUN interface, undoing CreateDevice.
func (t *PlatformTunManager) DisposeDevice(ifName string) error {
	return t.ip.LinkDelete(ifName)
}
