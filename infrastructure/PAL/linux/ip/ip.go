// Package ip wraps the iproute2 "ip" command line tool used to configure
// the virtual interface and routing table around a tunnel.
package ip

import (
	"fmt"
	"strings"

	"nablatun/infrastructure/PAL"
)

// Wrapper implements Contract by shelling out to "ip" through a
// PAL.Commander, so tests can substitute a fake commander instead of
// actually invoking the tool.
type Wrapper struct {
	commander PAL.Commander
}

func NewWrapper(commander PAL.Commander) Contract {
	return &Wrapper{commander: commander}
}

// TunTapAddDevTun adds new TUN device.
func (w *Wrapper) TunTapAddDevTun(devName string) error {
	output, err := w.commander.CombinedOutput("ip", "tuntap", "add", "dev", devName, "mode", "tun")
	if err != nil {
		return fmt.Errorf("failed to create TUN %v: %v, output: %s", devName, err, output)
	}
	return nil
}

// LinkDelete deletes a network device by name.
func (w *Wrapper) LinkDelete(devName string) error {
	output, err := w.commander.CombinedOutput("ip", "link", "delete", devName)
	if err != nil {
		return fmt.Errorf("failed to delete interface: %v, output: %s", err, output)
	}
	return nil
}

// LinkSetDevUp sets network device status as UP.
func (w *Wrapper) LinkSetDevUp(devName string) error {
	output, err := w.commander.CombinedOutput("ip", "link", "set", "dev", devName, "up")
	if err != nil {
		return fmt.Errorf("failed to start TUN %v: %v, output: %s", devName, err, output)
	}
	return nil
}

// LinkSetDevDown sets network device status as DOWN.
func (w *Wrapper) LinkSetDevDown(devName string) error {
	output, err := w.commander.CombinedOutput("ip", "link", "set", "dev", devName, "down")
	if err != nil {
		return fmt.Errorf("failed to stop TUN %v: %v, output: %s", devName, err, output)
	}
	return nil
}

// LinkSetDevMTU sets device MTU.
func (w *Wrapper) LinkSetDevMTU(devName string, mtu int) error {
	output, err := w.commander.CombinedOutput("ip", "link", "set", "dev", devName, "mtu", fmt.Sprintf("%d", mtu))
	if err != nil {
		return fmt.Errorf("failed to set MTU: %s, output: %s", err, output)
	}
	return nil
}

// AddrAddDev assigns an IP (with CIDR prefix) to a network device. Used for
// both IPv4 and IPv6 addresses, since "ip addr add" handles either family
// the same way.
func (w *Wrapper) AddrAddDev(devName string, ip string) error {
	output, err := w.commander.CombinedOutput("ip", "addr", "add", ip, "dev", devName)
	if err != nil {
		return fmt.Errorf("failed to assign IP to TUN %v: %v, output: %s", devName, err, output)
	}
	return nil
}

// AddrShowDev resolves an IP address (IPv4 or IPv6) assigned to an
// interface.
func (w *Wrapper) AddrShowDev(ipV int, ifName string) (string, error) {
	output, err := w.commander.CombinedOutput("ip", fmt.Sprintf("-%d", ipV), "-o", "addr", "show", "dev", ifName)
	if err != nil {
		return "", fmt.Errorf("failed to get IP for interface %s: %v (%s)", ifName, err, strings.TrimSpace(string(output)))
	}

	addr := parseAddrShowOutput(string(output))
	if addr == "" {
		return "", fmt.Errorf("no IP address found for interface %s", ifName)
	}
	return addr, nil
}

// parseAddrShowOutput extracts the bare address from "ip -o addr show"
// output, stripping the CIDR prefix.
func parseAddrShowOutput(output string) string {
	fields := strings.Fields(output)
	for i, f := range fields {
		if f == "inet" || f == "inet6" {
			if i+1 < len(fields) {
				return strings.SplitN(fields[i+1], "/", 2)[0]
			}
		}
	}

	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ""
	}
	return strings.SplitN(trimmed, "/", 2)[0]
}

// RouteDefault gets the default network device name.
func (w *Wrapper) RouteDefault() (string, error) {
	out, err := w.commander.Output("ip", "route")
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(out), "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "default") {
			fields := strings.Fields(line)
			if len(fields) >= 5 {
				return fields[4], nil
			}
		}
	}
	return "", fmt.Errorf("failed to get default interface")
}

// RouteAddDefaultDev sets a default route through devName for the given
// address family (4 or 6).
func (w *Wrapper) RouteAddDefaultDev(ipV int, devName string) error {
	output, err := w.commander.CombinedOutput("ip", fmt.Sprintf("-%d", ipV), "route", "add", "default", "dev", devName)
	if err != nil {
		return fmt.Errorf("failed to set TUN as default gateway %v: %v, output: %s", devName, err, output)
	}
	return nil
}

// RouteGet gets the route to a host by host IP.
func (w *Wrapper) RouteGet(hostIp string) (string, error) {
	out, err := w.commander.Output("ip", "route", "get", hostIp)
	if err != nil {
		return "", fmt.Errorf("failed to get route to server IP: %v", err)
	}
	return string(out), nil
}

// RouteAddDev adds a route to a host via a device.
func (w *Wrapper) RouteAddDev(hostIp string, ifName string) error {
	output, err := w.commander.CombinedOutput("ip", "route", "add", hostIp, "dev", ifName)
	if err != nil {
		return fmt.Errorf("failed to add route: %s, output: %s", err, output)
	}
	return nil
}

// RouteAddViaDev adds a route to a host via a device via a gateway.
func (w *Wrapper) RouteAddViaDev(hostIp string, ifName string, gateway string) error {
	output, err := w.commander.CombinedOutput("ip", "route", "add", hostIp, "via", gateway, "dev", ifName)
	if err != nil {
		return fmt.Errorf("failed to add route: %s, output: %s", err, output)
	}
	return nil
}

// RouteDel deletes a route to a host.
func (w *Wrapper) RouteDel(hostIp string) error {
	output, err := w.commander.CombinedOutput("ip", "route", "del", hostIp)
	if err != nil {
		return fmt.Errorf("failed to del route: %s, output: %s", err, output)
	}
	return nil
}
