// Package ether implements the L2-over-UDP tunnel variant (SPEC_FULL.md
// §4.3): the peer is expected to send/receive full Ethernet frames as UDP
// datagrams, with no fabricated header on the inbound side.
package ether

import (
	"encoding/binary"
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

// Variant implements tunnel.Variant for the ether tunnel type.
type Variant struct {
	ep     endpoint.Endpoint
	dev    iface.Device
	log    tunnel.Logger
	conn   *net.UDPConn
	remote *net.UDPAddr

	onFatal  func()
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       errgroup.Group
}

func New() *Variant { return &Variant{} }

func (v *Variant) Init(ep endpoint.Endpoint, dev iface.Device, log tunnel.Logger, onFatal func()) error {
	v.ep, v.dev, v.log, v.onFatal = ep, dev, log, onFatal

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return fmt.Errorf("ether: listen udp: %w", err)
	}
	v.conn = conn
	v.remote = &net.UDPAddr{IP: net.IP(ep.RemoteIPv4.AsSlice()), Port: int(ep.RemotePort)}
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
// running flag via onFatal, per SPEC_FULL.md §4.8.
func (v *Variant) fail(format string, args ...any) {
	v.log.Printf(format, args...)
	v.closeStop()
	v.onFatal()
}

func (v *Variant) Beat() {}

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
				v.fail("ether: reader: fatal read error: %v", err)
			}
			return
		}
		if n == 0 {
			v.fail("ether: reader: zero-length read, treating as disconnect")
			return
		}
		if !addr.IP.Equal(v.remote.IP) || addr.Port != v.remote.Port {
			continue
		}
		if n < wire.EthHeaderLen {
			continue
		}
		etherType := binary.BigEndian.Uint16(buf[12:14])
		if etherType != wire.EtherTypeIPv6 {
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		var dst [6]byte
		copy(dst[:], frame[0:6])
		if !wire.IsIPv6Multicast(dst) {
			if hw, err := v.dev.HWAddr(); err == nil {
				copy(frame[0:6], hw[:])
			}
		}

		if _, err := v.dev.Write(frame); err != nil {
			v.fail("ether: reader: write to interface failed: %v", err)
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
			v.fail("ether: writer: wait_readable failed: %v", err)
			return
		}
		if !readable {
			continue
		}

		n, err := v.dev.Read(buf)
		if err != nil {
			v.fail("ether: writer: fatal read error: %v", err)
			return
		}
		if n < wire.EthHeaderLen {
			continue
		}
		if _, ok := wire.ClassifyL2(buf[:n], wire.EtherTypeIPv6); !ok {
			continue
		}

		if _, err := v.conn.WriteToUDP(buf[:n], v.remote); err != nil {
			v.fail("ether: writer: fatal write error: %v", err)
			return
		}
	}
}
