// Package ayiya implements the AYIYA tunnel variant (SPEC_FULL.md §4.4):
// IPv6 over UDP with a shared-secret SHA-1 keyed-hash signature.
package ayiya

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nablatun/internal/endpoint"
	"nablatun/internal/iface"
	"nablatun/internal/tunnel"
	"nablatun/internal/wire"
)

const bufSize = 4096

// Variant implements tunnel.Variant for the ayiya tunnel type.
type Variant struct {
	ep     endpoint.Endpoint
	dev    iface.Device
	log    tunnel.Logger
	conn   *net.UDPConn
	remote *net.UDPAddr

	digest   [sha1.Size]byte
	identity [wire.IdentityLen]byte

	onFatal  func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       errgroup.Group
}

func New() *Variant { return &Variant{} }

func (v *Variant) Init(ep endpoint.Endpoint, dev iface.Device, log tunnel.Logger, onFatal func()) error {
	v.ep, v.dev, v.log, v.onFatal = ep, dev, log, onFatal
	v.digest = wire.PasswordDigest(ep.Password)

	ip6 := ep.LocalIPv6.As16()
	copy(v.identity[:], ip6[:])

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("ayiya: listen udp: %w", err)
	}
	v.conn = conn
	v.remote = &net.UDPAddr{IP: net.IP(ep.RemoteIPv4.AsSlice()), Port: int(ep.RemotePort)}
	return nil
}

// Start brings the interface's IPv6 side up, assigns the tunnel's local
// IPv6 address/prefix, installs a default IPv6 route through it, then
// spawns the reader/writer (SPEC_FULL.md §6; matches the historical
// client's start(), which calls tapcfg_iface_set_status(IPV6_UP) then
// command_add_ipv6 before creating its worker threads).
func (v *Variant) Start() error {
	if err := v.dev.SetStatus(iface.IPv6Up); err != nil {
		return fmt.Errorf("ayiya: set status ipv6 up: %w", err)
	}
	if err := v.dev.SetIPv6(v.ep.LocalIPv6, v.ep.LocalPrefix); err != nil {
		return fmt.Errorf("ayiya: assign local ipv6: %w", err)
	}
	if err := v.dev.AddDefaultRoute(6); err != nil {
		return fmt.Errorf("ayiya: add default route: %w", err)
	}

	v.stopCh = make(chan struct{})
	v.stopOnce = sync.Once{}
	v.wg.Go(func() error { v.readLoop(); return nil })
	v.wg.Go(func() error { v.writeLoop(); return nil })
	return nil
}

func (v *Variant) Stop() error {
	v.closeStop()
	_ = v.conn.SetDeadline(time.Now())
	_ = v.wg.Wait()
	return nil
}

// closeStop closes stopCh exactly once, whether triggered by the supervisor
// (Stop) or by a worker's own fatal-error path (fail).
func (v *Variant) closeStop() {
	v.stopOnce.Do(func() { close(v.stopCh) })
}

// fail logs a fatal worker error, then closes stopCh (waking the sibling
// worker within the same select-loop iteration) and clears the tunnel's
// running flag via onFatal, per SPEC_FULL.md §4.8's requirement that a
// fatal I/O condition in one worker is observed by its siblings promptly
// instead of leaving them running forever.
func (v *Variant) fail(format string, args ...any) {
	v.log.Printf(format, args...)
	v.closeStop()
	v.onFatal()
}

// Beat sends a no-op AYIYA keep-alive, zero-length payload, per
// SPEC_FULL.md §4.4.
func (v *Variant) Beat() {
	frame := wire.PackAYIYA(wire.OpcodeNoop, wire.NextHeaderNone, v.identity, v.digest, nil)
	if _, err := v.conn.WriteToUDP(frame, v.remote); err != nil {
		v.log.Printf("ayiya: beat: write failed: %v", err)
	}
}

func (v *Variant) Destroy() error {
	if v.conn != nil {
		return v.conn.Close()
	}
	return nil
}

func (v *Variant) readLoop() {
	buf := make([]byte, bufSize)

	for {
		select {
		case <-v.stopCh:
			return
		default:
		}

		_ = v.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := v.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-v.stopCh:
			default:
				v.fail("ayiya: reader: fatal read error: %v", err)
			}
			return
		}
		if n == 0 {
			v.fail("ayiya: reader: zero-length read, treating as disconnect")
			return
		}
		if !addr.IP.Equal(v.remote.IP) || addr.Port != v.remote.Port {
			continue
		}

		unpacked, err := wire.UnpackAYIYA(buf[:n], v.digest, time.Now())
		if err != nil {
			v.log.Printf("ayiya: reader: dropping invalid frame: %v", err)
			continue
		}
		if unpacked.Identity != [wire.IdentityLen]byte(v.ep.RemoteIPv6.As16()) {
			v.log.Printf("ayiya: reader: dropping frame with unexpected identity")
			continue
		}
		if unpacked.Header.Opcode == wire.OpcodeNoop {
			continue
		}

		hw, err := v.dev.HWAddr()
		if err != nil {
			v.log.Printf("ayiya: reader: hwaddr lookup failed: %v", err)
			continue
		}
		frame := wire.PrependEthernetHeader(hw, wire.RouterMAC, wire.EtherTypeIPv6, unpacked.Payload)
		if _, err := v.dev.Write(frame); err != nil {
			v.fail("ayiya: reader: write to interface failed: %v", err)
			return
		}
	}
}

func (v *Variant) writeLoop() {
	buf := make([]byte, bufSize)

	for {
		select {
		case <-v.stopCh:
			return
		default:
		}

		readable, err := v.dev.WaitReadable(100)
		if err != nil {
			v.fail("ayiya: writer: wait_readable failed: %v", err)
			return
		}
		if !readable {
			continue
		}

		n, err := v.dev.Read(buf)
		if err != nil {
			v.fail("ayiya: writer: fatal read error: %v", err)
			return
		}
		if _, ok := wire.ClassifyL2(buf[:n], wire.EtherTypeIPv6); !ok {
			continue
		}

		ipPacket := buf[wire.EthHeaderLen:n]
		if len(ipPacket) >= 40 && ipPacket[6] == 58 && ipPacket[7] == 255 {
			switch wire.ClassifyICMPv6(ipPacket) {
			case wire.NDDropRouterSolicitation, wire.NDDropDuplicateAddressDetection:
				continue
			case wire.NDSynthesizeAdvertisement:
				if na, err := wire.BuildNeighborAdvertisement(buf[:n]); err == nil {
					if _, err := v.dev.Write(na); err != nil {
						v.log.Printf("ayiya: writer: failed to write neighbor advertisement: %v", err)
					}
				}
				continue
			}
		}

		frame := wire.PackAYIYA(wire.OpcodeForward, wire.NextHeaderIPv6, v.identity, v.digest, ipPacket)
		if _, err := v.conn.WriteToUDP(frame, v.remote); err != nil {
			v.fail("ayiya: writer: fatal write error: %v", err)
			return
		}
	}
}
