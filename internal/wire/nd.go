package wire

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/net/ipv6"
)

const (
	ipv6HeaderLen = 40
	icmp6NSLen    = 24 // ICMPv6 header (4) + reserved (4) + target address (16)
	icmp6NALen    = 32 // ICMPv6 header (4) + reserved (4) + target address (16) + TLLA option (8)

	icmp6TypeRouterSolicit    = 133
	icmp6TypeNeighborSolicit  = 135
	icmp6TypeNeighborAdvert   = uint8(ipv6.ICMPTypeNeighborAdvertisement)
	ndOptTargetLinkLayerAddr  = 2
	ndOptLenOneUnitOfEightOct = 1
)

// NDClassification is the writer's disposition for an intercepted ICMPv6
// packet per SPEC_FULL.md §4.4.
type NDClassification int

const (
	NDPassThroughEncapsulate NDClassification = iota
	NDDropRouterSolicitation
	NDDropDuplicateAddressDetection
	NDSynthesizeAdvertisement
)

// ClassifyICMPv6 inspects an IPv6 packet (the bytes after the Ethernet
// header) already known to be hop-limit 255 ICMPv6, and decides what the
// writer should do with it.
func ClassifyICMPv6(ipv6Packet []byte) NDClassification {
	if len(ipv6Packet) < ipv6HeaderLen+4 {
		return NDPassThroughEncapsulate
	}
	icmpType := ipv6Packet[ipv6HeaderLen]
	switch icmpType {
	case icmp6TypeRouterSolicit:
		return NDDropRouterSolicitation
	case icmp6TypeNeighborSolicit:
		if len(ipv6Packet) < ipv6HeaderLen+icmp6NSLen {
			return NDPassThroughEncapsulate
		}
		srcAddr := ipv6Packet[8:24]
		if isUnspecified(srcAddr) {
			return NDDropDuplicateAddressDetection
		}
		return NDSynthesizeAdvertisement
	default:
		return NDPassThroughEncapsulate
	}
}

func isUnspecified(addr []byte) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}

// BuildNeighborAdvertisement synthesizes an Ethernet+IPv6+ICMPv6 Neighbor
// Advertisement reply in response to an intercepted frame (full Ethernet
// frame, NS at offset 14), per SPEC_FULL.md §4.7.
func BuildNeighborAdvertisement(frame []byte) ([]byte, error) {
	if len(frame) < EthHeaderLen+ipv6HeaderLen+icmp6NSLen {
		return nil, fmt.Errorf("wire: frame too short for neighbor solicitation")
	}

	var senderMAC [6]byte
	copy(senderMAC[:], frame[6:12])

	ip6 := frame[EthHeaderLen : EthHeaderLen+ipv6HeaderLen]
	origSrc := make([]byte, 16)
	copy(origSrc, ip6[8:24])

	ns := frame[EthHeaderLen+ipv6HeaderLen:]
	target := make([]byte, 16)
	copy(target, ns[8:24])

	out := make([]byte, EthHeaderLen+ipv6HeaderLen+icmp6NALen)

	BuildEthernetHeader(out, senderMAC, RouterMAC, EtherTypeIPv6)

	outIP6 := out[EthHeaderLen : EthHeaderLen+ipv6HeaderLen]
	copy(outIP6, ip6)
	binary.BigEndian.PutUint16(outIP6[4:6], icmp6NALen)
	outIP6[6] = 58 // next header = ICMPv6
	outIP6[7] = 255
	copy(outIP6[8:24], target)   // source = the advertised-for target
	copy(outIP6[24:40], origSrc) // destination = the original NS source

	na := out[EthHeaderLen+ipv6HeaderLen:]
	na[0] = icmp6TypeNeighborAdvert
	na[1] = 0 // code
	// na[2:4] checksum filled below
	copy(na[8:24], target)
	na[24] = ndOptTargetLinkLayerAddr
	na[25] = ndOptLenOneUnitOfEightOct
	copy(na[26:32], RouterMAC[:])

	sum := icmpv6Checksum(outIP6[8:24], outIP6[24:40], na)
	binary.BigEndian.PutUint16(na[2:4], sum)

	return out, nil
}

// icmpv6Checksum computes the ICMPv6 checksum over the IPv6 pseudo-header
// (src, dst, upper-layer length, next-header=58) plus body, with the
// checksum field in body assumed zero.
func icmpv6Checksum(src, dst, body []byte) uint16 {
	var sum uint32

	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}

	add(src)
	add(dst)

	var lenAndNext [8]byte
	binary.BigEndian.PutUint32(lenAndNext[0:4], uint32(len(body)))
	lenAndNext[7] = 58
	add(lenAndNext[:])

	bodyCopy := append([]byte(nil), body...)
	bodyCopy[2], bodyCopy[3] = 0, 0
	add(bodyCopy)

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
