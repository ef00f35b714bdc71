// Package endpoint defines the immutable descriptor that selects a tunnel
// variant and carries the addressing/authentication fields it needs.
package endpoint

import (
	"fmt"
	"net/netip"
)

// Type tags which tunnel variant an Endpoint drives.
type Type int

const (
	Ether Type = iota
	AYIYA
	V6V4
	Heartbeat
	V4V4
	V4V6
)

func (t Type) String() string {
	switch t {
	case Ether:
		return "ether"
	case AYIYA:
		return "ayiya"
	case V6V4:
		return "v6v4"
	case Heartbeat:
		return "heartbeat"
	case V4V4:
		return "v4v4"
	case V4V6:
		return "v4v6"
	default:
		return "unknown"
	}
}

const (
	// DefaultAYIYAPort is filled in at init when RemotePort is unset.
	DefaultAYIYAPort = 5072
	// HeartbeatPort is fixed by the wire format, never configurable.
	HeartbeatPort = 3740

	defaultIPv4RawMTU = 1460
	defaultV6V4MTU    = 1280
	defaultAYIYAMTU   = 1280
)

// Endpoint is the immutable descriptor carried by a Tunnel. Construct with
// New, which validates and fills per-variant defaults; callers must treat
// the returned value as read-only.
type Endpoint struct {
	Type Type

	LocalIPv4  netip.Addr
	LocalIPv6  netip.Addr
	RemoteIPv4 netip.Addr
	RemoteIPv6 netip.Addr

	LocalPrefix int
	LocalMTU    int
	RemotePort  uint16

	Password []byte

	BeatInterval int // seconds, 0 = no beater
}

// New validates fields and returns an Endpoint with per-variant defaults
// filled in. The caller's own copy of any mutable backing arrays (e.g.
// Password) is never retained; New clones it.
func New(e Endpoint) (Endpoint, error) {
	if len(e.Password) > 255 {
		return Endpoint{}, fmt.Errorf("endpoint: password exceeds 255 bytes")
	}
	if e.LocalPrefix < 0 || e.LocalPrefix > 128 {
		return Endpoint{}, fmt.Errorf("endpoint: local_prefix %d out of range [0,128]", e.LocalPrefix)
	}

	out := e
	out.Password = append([]byte(nil), e.Password...)

	switch out.Type {
	case AYIYA:
		if out.RemotePort == 0 {
			out.RemotePort = DefaultAYIYAPort
		}
		if out.LocalMTU == 0 {
			out.LocalMTU = defaultAYIYAMTU
		}
		if !out.RemoteIPv4.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: ayiya requires remote_ipv4")
		}
		if !out.LocalIPv6.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: ayiya requires local_ipv6")
		}
	case V6V4, Heartbeat:
		if out.LocalMTU == 0 {
			out.LocalMTU = defaultV6V4MTU
		}
		if !out.RemoteIPv4.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: %s requires remote_ipv4", out.Type)
		}
		if !out.LocalIPv6.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: %s requires local_ipv6", out.Type)
		}
	case V4V4, V4V6:
		if out.LocalMTU == 0 {
			out.LocalMTU = defaultIPv4RawMTU
		}
		if !out.LocalIPv4.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: %s requires local_ipv4", out.Type)
		}
	case Ether:
		if out.LocalMTU == 0 {
			out.LocalMTU = defaultV6V4MTU
		}
		if !out.RemoteIPv4.IsValid() {
			return Endpoint{}, fmt.Errorf("endpoint: ether requires remote_ipv4")
		}
		if out.RemotePort == 0 {
			return Endpoint{}, fmt.Errorf("endpoint: ether requires remote_port")
		}
	default:
		return Endpoint{}, fmt.Errorf("endpoint: unknown type %d", out.Type)
	}

	return out, nil
}

// HasBeater reports whether this endpoint's variant spawns a beater worker.
func (e Endpoint) HasBeater() bool {
	if e.BeatInterval <= 0 {
		return false
	}
	switch e.Type {
	case AYIYA, Heartbeat:
		return true
	default:
		return false
	}
}
