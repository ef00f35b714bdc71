// Package v4ip implements the v4v4 (IPv4-in-IPv4) and v4v6 (IPv4-in-IPv6)
// tunnel variants (SPEC_FULL.md §4.6): a raw socket of the chosen outer
// family carrying IPv4-in-IP (protocol 4), with an inline ARP responder for
// the inner IPv4 interface.
package v4ip

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"golang.org/x/sync/errgroup"

	"nablatun/internal/endpoint"
	"nablatun/internal/iface"
	"nablatun/internal/tunnel"
	"nablatun/internal/wire"
)

const (
	bufSize = 4096
	proto4  = 4
)

// outer abstracts the two raw-socket families v4v4/v4v6 use, so the
// reader/writer loops are written once.
type outer interface {
	readFrom(buf []byte, deadline time.Time) (src net.IP, payload []byte, err error)
	writeTo(dst net.IP, payload []byte) error
	close() error
}

// Variant implements tunnel.Variant for both v4v4 and v4v6.
type Variant struct {
	ep  endpoint.Endpoint
	dev iface.Device
	log tunnel.Logger

	sock outer

	localIPv4 [4]byte
	netmask   [4]byte
	remote    net.IP

	onFatal  func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       errgroup.Group
}

func New() *Variant { return &Variant{} }

func (v *Variant) Init(ep endpoint.Endpoint, dev iface.Device, log tunnel.Logger, onFatal func()) error {
	v.ep, v.dev, v.log, v.onFatal = ep, dev, log, onFatal
	v.localIPv4 = [4]byte(ep.LocalIPv4.As4())
	v.netmask = wire.IPv4NetMask(ep.LocalPrefix)

	switch ep.Type {
	case endpoint.V4V4:
		v.remote = net.IP(ep.RemoteIPv4.AsSlice())
		s, err := newIPv4Outer()
		if err != nil {
			return fmt.Errorf("v4ip: %w", err)
		}
		v.sock = s
	case endpoint.V4V6:
		v.remote = net.IP(ep.RemoteIPv6.AsSlice())
		s, err := newIPv6Outer()
		if err != nil {
			return fmt.Errorf("v4ip: %w", err)
		}
		v.sock = s
	default:
		return fmt.Errorf("v4ip: unsupported endpoint type %v", ep.Type)
	}

	return nil
}

func (v *Variant) Start() error {
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

// Beat is unused: v4v4/v4v6 have no beater per SPEC_FULL.md §4.6.
func (v *Variant) Beat() {}

func (v *Variant) Destroy() error {
	if v.sock != nil {
		return v.sock.close()
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

		src, payload, err := v.sock.readFrom(buf, time.Now().Add(100*time.Millisecond))
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-v.stopCh:
			default:
				v.fail("v4ip: reader: fatal read error: %v", err)
			}
			return
		}
		if src == nil || !src.Equal(v.remote) {
			continue
		}
		if len(payload) == 0 {
			continue
		}

		frame := wire.PrependEthernetHeader(v.localMAC(), wire.RouterMAC, wire.EtherTypeIPv4, payload)
		if _, err := v.dev.Write(frame); err != nil {
			v.fail("v4ip: reader: write to interface failed: %v", err)
			return
		}
	}
}

func (v *Variant) localMAC() [6]byte {
	if hw, err := v.dev.HWAddr(); err == nil {
		return hw
	}
	return wire.RouterMAC
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
			v.fail("v4ip: writer: wait_readable failed: %v", err)
			return
		}
		if !readable {
			continue
		}

		n, err := v.dev.Read(buf)
		if err != nil {
			v.fail("v4ip: writer: fatal read error: %v", err)
			return
		}
		if n < wire.EthHeaderLen {
			continue
		}

		et := uint16(buf[12])<<8 | uint16(buf[13])

		switch et {
		case wire.EtherTypeARP:
			v.handleARP(buf[:n])
		case wire.EtherTypeIPv4:
			v.handleIPv4(buf[:n])
		default:
			v.log.Printf("v4ip: writer: dropping frame with unhandled ethertype %#x", et)
		}
	}
}

func (v *Variant) handleARP(frame []byte) {
	req, err := wire.ParseARPRequest(frame)
	if err != nil {
		return
	}
	if req.TargetIP == v.localIPv4 {
		return // duplicate-address query, silently dropped
	}
	hw := v.localMAC()
	if req.SenderMAC != hw {
		return
	}
	if !wire.SameSubnet(req.TargetIP, v.localIPv4, v.netmask) {
		return
	}

	reply := wire.BuildARPReply(req, req.TargetIP)
	if _, err := v.dev.Write(reply); err != nil {
		v.log.Printf("v4ip: writer: failed to write arp reply: %v", err)
	}
}

func (v *Variant) handleIPv4(frame []byte) {
	var dstMAC [6]byte
	copy(dstMAC[:], frame[0:6])
	if dstMAC != wire.RouterMAC && !wire.IsIPv4MulticastOrBroadcast(dstMAC) {
		return
	}

	payload := frame[wire.EthHeaderLen:]
	if err := v.sock.writeTo(v.remote, payload); err != nil {
		v.fail("v4ip: writer: fatal write error: %v", err)
	}
}

// ipv4Outer carries v4v4's IPv4-in-IPv4 raw socket.
type ipv4Outer struct {
	conn *ipv4.RawConn
}

func newIPv4Outer() (*ipv4Outer, error) {
	pconn, err := net.ListenPacket("ip4:4", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("listen raw ip4: %w", err)
	}
	rawConn, err := ipv4.NewRawConn(pconn)
	if err != nil {
		_ = pconn.Close()
		return nil, fmt.Errorf("new raw conn: %w", err)
	}
	return &ipv4Outer{conn: rawConn}, nil
}

func (o *ipv4Outer) readFrom(buf []byte, deadline time.Time) (net.IP, []byte, error) {
	_ = o.conn.SetReadDeadline(deadline)
	header, payload, _, err := o.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	if header == nil {
		return nil, nil, nil
	}
	return header.Src, payload, nil
}

func (o *ipv4Outer) writeTo(dst net.IP, payload []byte) error {
	hdr := &ipv4.Header{
		Version:  4,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      64,
		Protocol: proto4,
		Dst:      dst,
	}
	return o.conn.WriteTo(hdr, payload, nil)
}

func (o *ipv4Outer) close() error { return o.conn.Close() }

// ipv6Outer carries v4v6's IPv4-in-IPv6 raw socket.
type ipv6Outer struct {
	pconn net.PacketConn
	conn  *ipv6.PacketConn
}

func newIPv6Outer() (*ipv6Outer, error) {
	pconn, err := net.ListenPacket("ip6:4", "::")
	if err != nil {
		return nil, fmt.Errorf("listen raw ip6: %w", err)
	}
	return &ipv6Outer{pconn: pconn, conn: ipv6.NewPacketConn(pconn)}, nil
}

func (o *ipv6Outer) readFrom(buf []byte, deadline time.Time) (net.IP, []byte, error) {
	_ = o.pconn.SetReadDeadline(deadline)
	n, _, addr, err := o.conn.ReadFrom(buf)
	if err != nil {
		return nil, nil, err
	}
	var src net.IP
	if udpAddr, ok := addr.(*net.IPAddr); ok {
		src = udpAddr.IP
	}
	return src, buf[:n], nil
}

func (o *ipv6Outer) writeTo(dst net.IP, payload []byte) error {
	_, err := o.conn.WriteTo(payload, nil, &net.IPAddr{IP: dst})
	return err
}

func (o *ipv6Outer) close() error { return o.pconn.Close() }
