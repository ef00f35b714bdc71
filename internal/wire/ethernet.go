package wire

import (
	"encoding/binary"
	"fmt"
)

// RouterMAC is the fixed fabricated peer MAC every variant presents as the
// virtual next hop. It must never be randomized between reader and writer
// within a tunnel.
var RouterMAC = [6]byte{0x00, 0x01, 0x23, 0x45, 0x67, 0x89}

// AllNodesMAC is the synthetic multicast-style destination MAC used by the
// v6v4 reader for inbound 6in4 frames (matches the all-nodes-ish pattern the
// historical client fabricates, not a real multicast group).
var AllNodesMAC = [6]byte{0x33, 0x33, 0xff, 0x00, 0x00, 0x02}

const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeIPv6 = 0x86DD
	EtherTypeVLAN = 0x8100

	EthHeaderLen = 14

	arpHeaderLen  = 28 // Ethernet/IPv4 ARP: hw/proto sizes fixed at 6/4
	arpOpRequest  = 1
	arpOpReply    = 2
	arpHwEthernet = 1
	arpProtoIPv4  = 0x0800
)

// BuildEthernetHeader writes a 14-byte Ethernet II header into buf[0:14].
func BuildEthernetHeader(buf []byte, dst, src [6]byte, etherType uint16) {
	copy(buf[0:6], dst[:])
	copy(buf[6:12], src[:])
	binary.BigEndian.PutUint16(buf[12:14], etherType)
}

// PrependEthernetHeader returns a new buffer with a fabricated Ethernet
// header in front of payload.
func PrependEthernetHeader(dst, src [6]byte, etherType uint16, payload []byte) []byte {
	out := make([]byte, EthHeaderLen+len(payload))
	BuildEthernetHeader(out, dst, src, etherType)
	copy(out[EthHeaderLen:], payload)
	return out
}

// ClassifyL2 inspects an Ethernet II frame against the writer's common
// gauntlet (802.1Q tagged, non-Ethernet-II, wrong EtherType). ok is true when
// the frame passes and false when it should be dropped. wantType is the
// EtherType the variant expects (IPv4 or IPv6).
func ClassifyL2(frame []byte, wantType uint16) (etherType uint16, ok bool) {
	if len(frame) < EthHeaderLen {
		return 0, false
	}
	etherType = binary.BigEndian.Uint16(frame[12:14])
	if etherType == EtherTypeVLAN {
		return etherType, false
	}
	if etherType < EtherTypeIPv4 {
		return etherType, false
	}
	if etherType != wantType {
		return etherType, false
	}
	return etherType, true
}

// IsIPv6Multicast reports whether a destination MAC is in the IPv6
// multicast range 33:33:*.
func IsIPv6Multicast(mac [6]byte) bool {
	return mac[0] == 0x33 && mac[1] == 0x33
}

// IsIPv4MulticastOrBroadcast reports whether dst is the Ethernet broadcast
// address or in the IPv4 multicast prefix 01:00:5e.
func IsIPv4MulticastOrBroadcast(mac [6]byte) bool {
	if mac == [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} {
		return true
	}
	return mac[0] == 0x01 && mac[1] == 0x00 && mac[2] == 0x5e
}

// ARPRequest is a decoded Ethernet+ARP request frame (the only shape the
// v4v4/v4v6 writer needs to recognize).
type ARPRequest struct {
	SenderMAC [6]byte
	SenderIP  [4]byte
	TargetIP  [4]byte
}

// ParseARPRequest validates the fixed ARP header bytes and extracts the
// sender/target fields, rejecting anything that isn't an Ethernet/IPv4 ARP
// request.
func ParseARPRequest(frame []byte) (ARPRequest, error) {
	if len(frame) < EthHeaderLen+arpHeaderLen {
		return ARPRequest{}, fmt.Errorf("wire: arp frame too short")
	}
	p := frame[EthHeaderLen:]
	hwType := binary.BigEndian.Uint16(p[0:2])
	protoType := binary.BigEndian.Uint16(p[2:4])
	hwLen, protoLen := p[4], p[5]
	op := binary.BigEndian.Uint16(p[6:8])
	if hwType != arpHwEthernet || protoType != arpProtoIPv4 || hwLen != 6 || protoLen != 4 {
		return ARPRequest{}, fmt.Errorf("wire: not an ethernet/ipv4 arp packet")
	}
	if op != arpOpRequest {
		return ARPRequest{}, fmt.Errorf("wire: arp opcode %d is not a request", op)
	}

	var req ARPRequest
	copy(req.SenderMAC[:], p[8:14])
	copy(req.SenderIP[:], p[14:18])
	copy(req.TargetIP[:], p[24:28])
	return req, nil
}

// BuildARPReply synthesizes an ARP reply in-place from a validated request
// frame: sender/target are swapped, the sender MAC becomes RouterMAC, and
// the opcode becomes reply. replyIP is the IP the responder claims
// (normally the original target IP).
func BuildARPReply(req ARPRequest, replyIP [4]byte) []byte {
	frame := make([]byte, EthHeaderLen+arpHeaderLen)
	BuildEthernetHeader(frame, req.SenderMAC, RouterMAC, EtherTypeARP)

	p := frame[EthHeaderLen:]
	binary.BigEndian.PutUint16(p[0:2], arpHwEthernet)
	binary.BigEndian.PutUint16(p[2:4], arpProtoIPv4)
	p[4] = 6
	p[5] = 4
	binary.BigEndian.PutUint16(p[6:8], arpOpReply)
	copy(p[8:14], RouterMAC[:])
	copy(p[14:18], replyIP[:])
	copy(p[18:24], req.SenderMAC[:])
	copy(p[24:28], req.SenderIP[:])
	return frame
}

// IPv4NetMask returns a network-byte-order IPv4 mask with the given number
// of leading 1-bits (0-32).
func IPv4NetMask(prefix int) [4]byte {
	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], mask)
	return out
}

// SameSubnet reports whether ip is in the subnet defined by base/mask.
func SameSubnet(ip, base, mask [4]byte) bool {
	for i := 0; i < 4; i++ {
		if (ip[i] & mask[i]) != (base[i] & mask[i]) {
			return false
		}
	}
	return true
}
