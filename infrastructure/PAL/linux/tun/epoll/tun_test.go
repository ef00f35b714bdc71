//go:build linux

package epoll

import (
	"io"
	"net/netip"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"nablatun/internal/iface"
)

// fakeIPContract records the last invocation of each method it implements,
// standing in for the real "ip" command wrapper in tests.
type fakeIPContract struct {
	lastMethod string
	lastArgs   []string
	err        error
}

func (f *fakeIPContract) record(method string, args ...string) error {
	f.lastMethod = method
	f.lastArgs = args
	return f.err
}

func (f *fakeIPContract) TunTapAddDevTun(devName string) error { return f.record("TunTapAddDevTun", devName) }
func (f *fakeIPContract) LinkDelete(devName string) error      { return f.record("LinkDelete", devName) }
func (f *fakeIPContract) LinkSetDevUp(devName string) error    { return f.record("LinkSetDevUp", devName) }
func (f *fakeIPContract) LinkSetDevDown(devName string) error  { return f.record("LinkSetDevDown", devName) }
func (f *fakeIPContract) LinkSetDevMTU(devName string, mtu int) error {
	return f.record("LinkSetDevMTU", devName)
}
func (f *fakeIPContract) AddrAddDev(devName string, ip string) error {
	return f.record("AddrAddDev", devName, ip)
}
func (f *fakeIPContract) AddrShowDev(ipV int, ifName string) (string, error) {
	return "", f.record("AddrShowDev", ifName)
}
func (f *fakeIPContract) RouteDefault() (string, error) { return "", f.record("RouteDefault") }
func (f *fakeIPContract) RouteAddDefaultDev(ipV int, devName string) error {
	return f.record("RouteAddDefaultDev", devName)
}
func (f *fakeIPContract) RouteGet(hostIp string) (string, error) { return "", f.record("RouteGet", hostIp) }
func (f *fakeIPContract) RouteAddDev(hostIp string, ifName string) error {
	return f.record("RouteAddDev", hostIp, ifName)
}
func (f *fakeIPContract) RouteAddViaDev(hostIp string, ifName string, gateway string) error {
	return f.record("RouteAddViaDev", hostIp, ifName, gateway)
}
func (f *fakeIPContract) RouteDel(hostIp string) error { return f.record("RouteDel", hostIp) }

// newSocketpairTun builds a *tun around one end of an AF_UNIX socketpair, so
// Read/Write/WaitReadable/Close can be exercised without a real TUN device.
func newSocketpairTun(t *testing.T) (*tun, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	f := os.NewFile(uintptr(fds[0]), "tun-test")
	dev, err := NewTUN(f, "tunTest", &fakeIPContract{})
	if err != nil {
		t.Fatalf("NewTUN: %v", err)
	}
	return dev.(*tun), fds[1]
}

func TestTunReadWrite(t *testing.T) {
	dev, peer := newSocketpairTun(t)
	defer func() { _ = dev.Close() }()
	defer func() { _ = unix.Close(peer) }()

	if _, err := unix.Write(peer, []byte("hello")); err != nil {
		t.Fatalf("write to peer: %v", err)
	}
	buf := make([]byte, 16)
	n, err := dev.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("got %q, want %q", buf[:n], "hello")
	}

	if _, err := dev.Write([]byte("world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := make([]byte, 16)
	n, err = unix.Read(peer, out)
	if err != nil {
		t.Fatalf("read from peer: %v", err)
	}
	if string(out[:n]) != "world" {
		t.Errorf("got %q, want %q", out[:n], "world")
	}
}

func TestTunWaitReadable(t *testing.T) {
	dev, peer := newSocketpairTun(t)
	defer func() { _ = dev.Close() }()
	defer func() { _ = unix.Close(peer) }()

	readable, err := dev.WaitReadable(50)
	if err != nil {
		t.Fatalf("WaitReadable: %v", err)
	}
	if readable {
		t.Fatal("expected not readable before any data was sent")
	}

	if _, err := unix.Write(peer, []byte("x")); err != nil {
		t.Fatalf("write to peer: %v", err)
	}

	readable, err = dev.WaitReadable(1000)
	if err != nil {
		t.Fatalf("WaitReadable: %v", err)
	}
	if !readable {
		t.Fatal("expected readable after data was sent")
	}
}

func TestTunCloseIsIdempotentAndUnblocks(t *testing.T) {
	dev, peer := newSocketpairTun(t)
	defer func() { _ = unix.Close(peer) }()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 16)
		_, err := dev.Read(buf)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := dev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}

	select {
	case err := <-done:
		if err != io.EOF && err != io.ErrClosedPipe {
			t.Errorf("expected Read to unblock with EOF/ErrClosedPipe on close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}

	if _, err := dev.Read(make([]byte, 1)); err != io.ErrClosedPipe {
		t.Errorf("expected io.ErrClosedPipe after close, got %v", err)
	}
}

func TestTunName(t *testing.T) {
	dev, peer := newSocketpairTun(t)
	defer func() { _ = dev.Close() }()
	defer func() { _ = unix.Close(peer) }()

	if dev.Name() != "tunTest" {
		t.Errorf("got %q, want %q", dev.Name(), "tunTest")
	}
}

func TestTunSetMTUUsesIPContract(t *testing.T) {
	fake := &fakeIPContract{}
	d := &tun{name: "tunTest", ipCtl: fake}
	if err := d.SetMTU(1400); err != nil {
		t.Fatalf("SetMTU: %v", err)
	}
	if fake.lastMethod != "LinkSetDevMTU" {
		t.Errorf("expected LinkSetDevMTU to be called, got %q", fake.lastMethod)
	}
}

func TestTunSetIPv6UsesIPContract(t *testing.T) {
	fake := &fakeIPContract{}
	d := &tun{name: "tunTest", ipCtl: fake}
	if err := d.SetIPv6(netip.MustParseAddr("2001:db8::1"), 64); err != nil {
		t.Fatalf("SetIPv6: %v", err)
	}
	if fake.lastMethod != "AddrAddDev" {
		t.Errorf("expected AddrAddDev to be called, got %q", fake.lastMethod)
	}
}

func TestTunAddDefaultRouteUsesIPContract(t *testing.T) {
	fake := &fakeIPContract{}
	d := &tun{name: "tunTest", ipCtl: fake}
	if err := d.AddDefaultRoute(6); err != nil {
		t.Fatalf("AddDefaultRoute: %v", err)
	}
	if fake.lastMethod != "RouteAddDefaultDev" {
		t.Errorf("expected RouteAddDefaultDev to be called, got %q", fake.lastMethod)
	}
}

func TestTunSetStatus(t *testing.T) {
	fake := &fakeIPContract{}
	d := &tun{name: "tunTest", ipCtl: fake}

	if err := d.SetStatus(iface.IPv4Up); err != nil {
		t.Fatalf("SetStatus up: %v", err)
	}
	if fake.lastMethod != "LinkSetDevUp" {
		t.Errorf("expected LinkSetDevUp, got %q", fake.lastMethod)
	}

	if err := d.SetStatus(iface.AllDown); err != nil {
		t.Fatalf("SetStatus down: %v", err)
	}
	if fake.lastMethod != "LinkSetDevDown" {
		t.Errorf("expected LinkSetDevDown, got %q", fake.lastMethod)
	}
}
