// Package wire implements the on-the-wire framing for each tunnel variant:
// AYIYA packing/signing, the 6in4-heartbeat ASCII message, and the
// Ethernet/ARP/ICMPv6-ND frame synthesis shared by the raw-socket variants.
package wire

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// HeaderLen is the fixed 8-byte AYIYA header.
	HeaderLen = 8
	// IdentityLen is the byte length of a 16-byte (idlen=4) identity.
	IdentityLen = 16
	// SignatureLen is the byte length of a 20-byte (siglen=5) SHA-1 signature.
	SignatureLen = 20
	// FrameOverhead is header + identity + signature, before payload.
	FrameOverhead = HeaderLen + IdentityLen + SignatureLen

	idLen4     = 4 // idlen value meaning a 16-byte identity
	idTypeIPv6 = 1 // idtype: integer/IPv6 address
	sigLen5    = 5 // siglen value meaning a 20-byte signature
	hashSHA1   = 2 // hshmeth: SHA-1
	authShared = 1 // autmeth: shared secret

	// NextHeaderIPv6 marks an encapsulated IPv6 packet.
	NextHeaderIPv6 = 41
	// NextHeaderNone marks a no-op frame (heartbeats) with no payload semantics.
	NextHeaderNone = 59

	// OpcodeNoop is used for bare keep-alive beats.
	OpcodeNoop = 0
	// OpcodeForward carries an encapsulated packet.
	OpcodeForward = 1
	// OpcodeEchoRequest requests an echo reply.
	OpcodeEchoRequest = 2
	// OpcodeEchoRequestForward both forwards and requests an echo.
	OpcodeEchoRequestForward = 3

	// EpochToleranceSeconds bounds how far a verified packet's embedded
	// clock may drift from the local wall clock. Chosen wide enough to
	// absorb ordinary NTP drift; see SPEC_FULL.md Design Notes.
	EpochToleranceSeconds = 120
)

// AYIYAHeader is the fixed 8-byte AYIYA header, decoded into fields.
type AYIYAHeader struct {
	IDLen      uint8
	IDType     uint8
	SigLen     uint8
	HashMethod uint8
	AuthMethod uint8
	Opcode     uint8
	NextHeader uint8
	EpochTime  uint32
}

func defaultHeader(opcode, nextHeader uint8, epoch uint32) AYIYAHeader {
	return AYIYAHeader{
		IDLen:      idLen4,
		IDType:     idTypeIPv6,
		SigLen:     sigLen5,
		HashMethod: hashSHA1,
		AuthMethod: authShared,
		Opcode:     opcode,
		NextHeader: nextHeader,
		EpochTime:  epoch,
	}
}

func encodeHeader(h AYIYAHeader, buf []byte) {
	buf[0] = (h.IDLen << 4) | (h.IDType & 0x0f)
	buf[1] = (h.SigLen << 4) | (h.HashMethod & 0x0f)
	buf[2] = (h.AuthMethod << 4) | (h.Opcode & 0x0f)
	buf[3] = h.NextHeader
	binary.BigEndian.PutUint32(buf[4:8], h.EpochTime)
}

func decodeHeader(buf []byte) AYIYAHeader {
	return AYIYAHeader{
		IDLen:      buf[0] >> 4,
		IDType:     buf[0] & 0x0f,
		SigLen:     buf[1] >> 4,
		HashMethod: buf[1] & 0x0f,
		AuthMethod: buf[2] >> 4,
		Opcode:     buf[2] & 0x0f,
		NextHeader: buf[3],
		EpochTime:  binary.BigEndian.Uint32(buf[4:8]),
	}
}

// PasswordDigest returns the SHA-1 of the shared secret, computed once and
// cached by the ayiya variant per SPEC_FULL.md §3 invariant (e).
func PasswordDigest(password []byte) [sha1.Size]byte {
	return sha1.Sum(password)
}

// PackAYIYA builds a signed AYIYA frame: header, identity, signed payload.
// identity must be 16 bytes (a raw IPv6 address). digest is the precomputed
// SHA-1 of the shared secret (see PasswordDigest).
func PackAYIYA(opcode, nextHeader uint8, identity [IdentityLen]byte, digest [sha1.Size]byte, payload []byte) []byte {
	h := defaultHeader(opcode, nextHeader, uint32(time.Now().Unix()))
	return packWithHeader(h, identity, digest, payload)
}

func packWithHeader(h AYIYAHeader, identity [IdentityLen]byte, digest [sha1.Size]byte, payload []byte) []byte {
	frame := make([]byte, FrameOverhead+len(payload))
	encodeHeader(h, frame[0:HeaderLen])
	copy(frame[HeaderLen:HeaderLen+IdentityLen], identity[:])
	copy(frame[HeaderLen+IdentityLen:HeaderLen+IdentityLen+SignatureLen], digest[:])
	copy(frame[FrameOverhead:], payload)

	sig := sha1.Sum(frame)
	copy(frame[HeaderLen+IdentityLen:HeaderLen+IdentityLen+SignatureLen], sig[:])
	return frame
}

// Unpacked is the result of successfully validating and verifying a
// received AYIYA frame.
type Unpacked struct {
	Header   AYIYAHeader
	Identity [IdentityLen]byte
	Payload  []byte
}

// UnpackAYIYA validates framing, checks the epoch window against now, and
// verifies the signature against digest. It does not check the identity or
// source address against an expected peer; callers do that at the variant
// level where the expected peer is known.
func UnpackAYIYA(frame []byte, digest [sha1.Size]byte, now time.Time) (Unpacked, error) {
	if len(frame) < FrameOverhead {
		return Unpacked{}, fmt.Errorf("wire: ayiya frame too short: %d bytes", len(frame))
	}

	h := decodeHeader(frame[0:HeaderLen])
	if h.IDLen != idLen4 || h.IDType != idTypeIPv6 {
		return Unpacked{}, fmt.Errorf("wire: ayiya unexpected idlen/idtype %d/%d", h.IDLen, h.IDType)
	}
	if h.SigLen != sigLen5 || h.HashMethod != hashSHA1 {
		return Unpacked{}, fmt.Errorf("wire: ayiya unexpected siglen/hshmeth %d/%d", h.SigLen, h.HashMethod)
	}
	if h.AuthMethod != authShared {
		return Unpacked{}, fmt.Errorf("wire: ayiya unexpected autmeth %d", h.AuthMethod)
	}
	if h.NextHeader != NextHeaderIPv6 && h.NextHeader != NextHeaderNone {
		return Unpacked{}, fmt.Errorf("wire: ayiya unexpected nextheader %d", h.NextHeader)
	}
	switch h.Opcode {
	case OpcodeForward, OpcodeEchoRequest, OpcodeEchoRequestForward, OpcodeNoop:
	default:
		return Unpacked{}, fmt.Errorf("wire: ayiya unexpected opcode %d", h.Opcode)
	}

	delta := now.Unix() - int64(h.EpochTime)
	if delta < 0 {
		delta = -delta
	}
	if delta > EpochToleranceSeconds {
		return Unpacked{}, fmt.Errorf("wire: ayiya epochtime %d out of tolerance (now=%d)", h.EpochTime, now.Unix())
	}

	var gotSig [SignatureLen]byte
	copy(gotSig[:], frame[HeaderLen+IdentityLen:HeaderLen+IdentityLen+SignatureLen])

	candidate := append([]byte(nil), frame...)
	copy(candidate[HeaderLen+IdentityLen:HeaderLen+IdentityLen+SignatureLen], digest[:])
	wantSig := sha1.Sum(candidate)
	if subtle.ConstantTimeCompare(gotSig[:], wantSig[:]) != 1 {
		return Unpacked{}, fmt.Errorf("wire: ayiya signature mismatch")
	}

	var identity [IdentityLen]byte
	copy(identity[:], frame[HeaderLen:HeaderLen+IdentityLen])

	payload := append([]byte(nil), frame[FrameOverhead:]...)
	if h.NextHeader == NextHeaderIPv6 && len(payload) > 0 && payload[0]>>4 != 6 {
		return Unpacked{}, fmt.Errorf("wire: ayiya nextheader=ipv6 but payload is not an ipv6 packet")
	}

	return Unpacked{Header: h, Identity: identity, Payload: payload}, nil
}
