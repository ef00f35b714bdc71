// Package v6v4 implements the 6in4 and 6in4-heartbeat tunnel variants
// (SPEC_FULL.md §4.5): IPv6 carried as the payload of IPv4 protocol 41,
// with an optional UDP heartbeat to the broker's POP.
package v6v4

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"golang.org/x/sync/errgroup"

	"nablatun/internal/endpoint"
	"nablatun/internal/iface"
	"nablatun/internal/tunnel"
	"nablatun/internal/wire"
)

const (
	bufSize = 4096
	proto41 = 41
)

// Variant implements tunnel.Variant for both v6v4 and heartbeat endpoint
// types; the only difference is whether Beat does anything and whether the
// supervisor spawns a beater at all (endpoint.Endpoint.HasBeater).
type Variant struct {
	ep  endpoint.Endpoint
	dev iface.Device
	log tunnel.Logger

	rawConn *ipv4.RawConn
	udp     *net.UDPConn
	remote  net.IP

	onFatal  func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       errgroup.Group
}

func New() *Variant { return &Variant{} }

func (v *Variant) Init(ep endpoint.Endpoint, dev iface.Device, log tunnel.Logger, onFatal func()) error {
	v.ep, v.dev, v.log, v.onFatal = ep, dev, log, onFatal
	v.remote = net.IP(ep.RemoteIPv4.AsSlice())

	pconn, err := net.ListenPacket("ip4:41", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("v6v4: listen raw ip: %w", err)
	}
	rawConn, err := ipv4.NewRawConn(pconn)
	if err != nil {
		_ = pconn.Close()
		return fmt.Errorf("v6v4: new raw conn: %w", err)
	}
	v.rawConn = rawConn

	if ep.Type == endpoint.Heartbeat {
		udpConn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("v6v4: listen udp for heartbeat: %w", err)
		}
		v.udp = udpConn
	}

	return nil
}

// Start brings the interface's IPv6 side up, assigns the tunnel's local
// IPv6 address/prefix, installs a default IPv6 route through it, then
// spawns the reader/writer (SPEC_FULL.md §6; matches the historical
// client's start(), which calls tapcfg_iface_set_status(IPV6_UP) then
// command_add_ipv6 before creating its worker threads).
func (v *Variant) Start() error {
	if err := v.dev.SetStatus(iface.IPv6Up); err != nil {
		return fmt.Errorf("v6v4: set status ipv6 up: %w", err)
	}
	if err := v.dev.SetIPv6(v.ep.LocalIPv6, v.ep.LocalPrefix); err != nil {
		return fmt.Errorf("v6v4: assign local ipv6: %w", err)
	}
	if err := v.dev.AddDefaultRoute(6); err != nil {
		return fmt.Errorf("v6v4: add default route: %w", err)
	}

	v.stopCh = make(chan struct{})
	v.stopOnce = sync.Once{}
	v.wg.Go(func() error { v.readLoop(); return nil })
	v.wg.Go(func() error { v.writeLoop(); return nil })
	return nil
}

func (v *Variant) Stop() error {
	v.closeStop()
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
// running flag via onFatal, per SPEC_FULL.md §4.8.
func (v *Variant) fail(format string, args ...any) {
	v.log.Printf(format, args...)
	v.closeStop()
	v.onFatal()
}

// Beat emits the ASCII heartbeat message to UDP 3740 on the remote IPv4,
// per SPEC_FULL.md §4.1/§4.5. A no-op for plain v6v4 endpoints (the
// supervisor only calls Beat when HasBeater is true).
func (v *Variant) Beat() {
	if v.udp == nil {
		return
	}
	msg := wire.ConstructHeartbeat(v.ep.LocalIPv6.String(), time.Now().Unix(), v.ep.Password)
	addr := &net.UDPAddr{IP: v.remote, Port: endpoint.HeartbeatPort}
	if _, err := v.udp.WriteToUDP([]byte(msg), addr); err != nil {
		v.log.Printf("v6v4: beat: write failed: %v", err)
	}
}

func (v *Variant) Destroy() error {
	var err error
	if v.rawConn != nil {
		err = v.rawConn.Close()
	}
	if v.udp != nil {
		if uerr := v.udp.Close(); err == nil {
			err = uerr
		}
	}
	return err
}

func (v *Variant) readLoop() {
	buf := make([]byte, bufSize)

	for {
		select {
		case <-v.stopCh:
			return
		default:
		}

		_ = v.rawConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		header, payload, _, err := v.rawConn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-v.stopCh:
			default:
				v.fail("v6v4: reader: fatal read error: %v", err)
			}
			return
		}
		if header == nil || !header.Src.Equal(v.remote) {
			continue
		}
		if len(payload) == 0 {
			continue
		}

		frame := wire.PrependEthernetHeader(wire.AllNodesMAC, wire.RouterMAC, wire.EtherTypeIPv6, payload)
		if _, err := v.dev.Write(frame); err != nil {
			v.fail("v6v4: reader: write to interface failed: %v", err)
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
			v.fail("v6v4: writer: wait_readable failed: %v", err)
			return
		}
		if !readable {
			continue
		}

		n, err := v.dev.Read(buf)
		if err != nil {
			v.fail("v6v4: writer: fatal read error: %v", err)
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
						v.log.Printf("v6v4: writer: failed to write neighbor advertisement: %v", err)
					}
				}
				continue
			}
		}

		hdr := &ipv4.Header{
			Version:  4,
			Len:      ipv4.HeaderLen,
			TotalLen: ipv4.HeaderLen + len(ipPacket),
			TTL:      64,
			Protocol: proto41,
			Dst:      v.remote,
		}
		if err := v.rawConn.WriteTo(hdr, ipPacket, nil); err != nil {
			v.fail("v6v4: writer: fatal write error: %v", err)
			return
		}
	}
}
