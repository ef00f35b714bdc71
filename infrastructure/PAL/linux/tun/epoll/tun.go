//go:build linux

// Package epoll provides a TUN wrapper that uses epoll(7) to avoid
// goroutine-blocking read(2)/write(2) calls. It splits readiness into two
// independent epoll instances: one for readability and one for
// writability. This prevents noisy wake-ups where EPOLLOUT is almost
// always "ready" and would otherwise cause a hot loop while waiting for
// EPOLLIN.
package epoll

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"nablatun/infrastructure/PAL/linux/ip"
	"nablatun/internal/iface"
)

// tun wraps a duplicated non-blocking TUN fd, two epoll instances, and the
// OS collaborator used for the mutating operations (SetMTU/SetIPv4/
// SetStatus) that the fd alone cannot perform.
//
// Concurrency:
//   - Read and Write may be called concurrently from different goroutines.
//   - Multiple concurrent Reads (or Writes) on the same instance are not
//     supported.
type tun struct {
	fd     int
	epIn   int
	epOut  int
	closed atomic.Bool

	name  string
	ipCtl ip.Contract
}

var _ iface.Device = (*tun)(nil)

// NewTUN takes ownership of f on success (it closes f before returning).
// On error, ownership remains with the caller (f is not closed). name is
// the OS-assigned interface name (as reported by TUNGETIFF), used for the
// HWAddr/MTU/SetMTU/SetIPv4/SetStatus collaborators.
func NewTUN(f *os.File, name string, ipCtl ip.Contract) (iface.Device, error) {
	if f == nil {
		return nil, errors.New("nil file")
	}
	orig := int(f.Fd())

	dup, err := unix.Dup(orig)
	if err != nil {
		return nil, err
	}

	if err := unix.SetNonblock(dup, true); err != nil {
		_ = unix.Close(dup)
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(dup), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(dup)
		return nil, err
	}

	epIn, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(dup)
		return nil, err
	}
	epOut, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}

	inEv := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLERR | unix.EPOLLHUP,
		Fd:     int32(dup),
	}
	if err := unix.EpollCtl(epIn, unix.EPOLL_CTL_ADD, dup, &inEv); err != nil {
		_ = unix.Close(epOut)
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}

	outEv := unix.EpollEvent{
		Events: unix.EPOLLOUT | unix.EPOLLERR | unix.EPOLLHUP,
		Fd:     int32(dup),
	}
	if err := unix.EpollCtl(epOut, unix.EPOLL_CTL_ADD, dup, &outEv); err != nil {
		_ = unix.Close(epOut)
		_ = unix.Close(epIn)
		_ = unix.Close(dup)
		return nil, err
	}

	_ = f.Close()
	runtime.KeepAlive(f)

	return &tun{fd: dup, epIn: epIn, epOut: epOut, name: name, ipCtl: ipCtl}, nil
}

// Read reads a single TUN packet (or less if p is smaller). On EAGAIN it
// blocks in epoll_wait for readable readiness. Returns io.ErrClosedPipe if
// closed.
func (w *tun) Read(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	for {
		n, err := unix.Read(w.fd, p)
		if err == nil {
			return n, nil
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if err := w.waitEpoll(w.epIn, unix.EPOLLIN, -1); err != nil {
				return 0, err
			}
			continue
		case errors.Is(err, unix.EBADF):
			return 0, io.ErrClosedPipe
		default:
			return 0, err
		}
	}
}

// Write writes one TUN packet. TUN generally expects whole frames, but we
// still handle partial writes conservatively. On EAGAIN it blocks in
// epoll_wait for EPOLLOUT. Returns io.ErrClosedPipe if closed.
func (w *tun) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	total := 0
	for total < len(p) {
		n, err := unix.Write(w.fd, p[total:])
		if err == nil {
			if n == 0 {
				if err := w.waitEpoll(w.epOut, unix.EPOLLOUT, -1); err != nil {
					return total, err
				}
				continue
			}
			total += n
			continue
		}
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
			if err := w.waitEpoll(w.epOut, unix.EPOLLOUT, -1); err != nil {
				return total, err
			}
			continue
		case errors.Is(err, unix.EBADF):
			return total, io.ErrClosedPipe
		default:
			return total, err
		}
	}
	return total, nil
}

// WaitReadable blocks up to waitms milliseconds for the fd to become
// readable. It never blocks indefinitely: variant reader/writer loops rely
// on this to observe a closed stop channel promptly.
func (w *tun) WaitReadable(waitms int) (bool, error) {
	if w.closed.Load() {
		return false, io.ErrClosedPipe
	}
	err := w.waitEpoll(w.epIn, unix.EPOLLIN, waitms)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, errEpollTimeout) {
		return false, nil
	}
	return false, err
}

var errEpollTimeout = errors.New("epoll: wait timed out")

// waitEpoll blocks on ep until wantEvent fires, timeoutMS elapses (-1 means
// forever), or the device is closed. Closing an fd does not wake a thread
// already inside epoll_wait, so an unbounded wait is done in slices of
// closePollMS with the closed flag checked between them.
func (w *tun) waitEpoll(ep int, wantEvent uint32, timeoutMS int) error {
	const closePollMS = 100
	var evs [1]unix.EpollEvent
	for {
		wait := timeoutMS
		if wait < 0 {
			wait = closePollMS
		}
		n, err := unix.EpollWait(ep, evs[:], wait)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EBADF) || w.closed.Load() {
				return io.ErrClosedPipe
			}
			return err
		}
		if n == 0 {
			if timeoutMS < 0 {
				if w.closed.Load() {
					return io.ErrClosedPipe
				}
				continue
			}
			return errEpollTimeout
		}
		ev := evs[0].Events
		if (ev & (unix.EPOLLERR | unix.EPOLLHUP)) != 0 {
			return io.EOF
		}
		if (ev & wantEvent) != 0 {
			return nil
		}
	}
}

// Close sets the closed flag, then closes the epoll instances and the data
// fd. A Read or Write blocked in waitEpoll returns io.ErrClosedPipe within
// one poll slice. Safe to call multiple times.
func (w *tun) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := unix.Close(w.epIn); err != nil {
		firstErr = err
	}
	if err := unix.Close(w.epOut); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(w.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Name returns the OS-assigned interface name.
func (w *tun) Name() string { return w.name }

// HWAddr returns the interface's own MAC, read via the OS network stack
// rather than ioctl SIOCGIFHWADDR since net.InterfaceByName already wraps
// it portably.
func (w *tun) HWAddr() ([6]byte, error) {
	var mac [6]byte
	netIf, err := net.InterfaceByName(w.name)
	if err != nil {
		return mac, fmt.Errorf("epoll: hwaddr: %w", err)
	}
	if len(netIf.HardwareAddr) != 6 {
		return mac, fmt.Errorf("epoll: hwaddr: unexpected length %d for %s", len(netIf.HardwareAddr), w.name)
	}
	copy(mac[:], netIf.HardwareAddr)
	return mac, nil
}

// MTU reads back the link MTU via the OS network stack.
func (w *tun) MTU() (int, error) {
	netIf, err := net.InterfaceByName(w.name)
	if err != nil {
		return 0, fmt.Errorf("epoll: mtu: %w", err)
	}
	return netIf.MTU, nil
}

// SetMTU configures the link MTU via "ip link set mtu".
func (w *tun) SetMTU(n int) error {
	if err := w.ipCtl.LinkSetDevMTU(w.name, n); err != nil {
		return fmt.Errorf("epoll: set mtu: %w", err)
	}
	return nil
}

// SetIPv4 assigns addr/prefix to the interface via "ip addr add".
func (w *tun) SetIPv4(addr netip.Addr, prefix int) error {
	cidr := fmt.Sprintf("%s/%d", addr, prefix)
	if err := w.ipCtl.AddrAddDev(w.name, cidr); err != nil {
		return fmt.Errorf("epoll: set ipv4: %w", err)
	}
	return nil
}

// SetIPv6 assigns addr/prefix to the interface via "ip addr add".
func (w *tun) SetIPv6(addr netip.Addr, prefix int) error {
	cidr := fmt.Sprintf("%s/%d", addr, prefix)
	if err := w.ipCtl.AddrAddDev(w.name, cidr); err != nil {
		return fmt.Errorf("epoll: set ipv6: %w", err)
	}
	return nil
}

// AddDefaultRoute installs a default route through the interface for the
// given address family via "ip route add default dev".
func (w *tun) AddDefaultRoute(ipV int) error {
	if err := w.ipCtl.RouteAddDefaultDev(ipV, w.name); err != nil {
		return fmt.Errorf("epoll: add default route: %w", err)
	}
	return nil
}

// SetStatus brings the link up or down via "ip link set".
func (w *tun) SetStatus(s iface.Status) error {
	switch s {
	case iface.AllDown:
		if err := w.ipCtl.LinkSetDevDown(w.name); err != nil {
			return fmt.Errorf("epoll: set status down: %w", err)
		}
	case iface.IPv4Up, iface.IPv6Up:
		if err := w.ipCtl.LinkSetDevUp(w.name); err != nil {
			return fmt.Errorf("epoll: set status up: %w", err)
		}
	default:
		return fmt.Errorf("epoll: unknown status %v", s)
	}
	return nil
}
