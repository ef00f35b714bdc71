package endpoint

import (
	"net/netip"
	"testing"
)

func TestNewFillsAYIYADefaults(t *testing.T) {
	e, err := New(Endpoint{
		Type:       AYIYA,
		RemoteIPv4: netip.MustParseAddr("203.0.113.1"),
		LocalIPv6:  netip.MustParseAddr("fe80::1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.RemotePort != DefaultAYIYAPort {
		t.Errorf("got remote port %d, want %d", e.RemotePort, DefaultAYIYAPort)
	}
	if e.LocalMTU != defaultAYIYAMTU {
		t.Errorf("got mtu %d, want %d", e.LocalMTU, defaultAYIYAMTU)
	}
}

func TestNewDoesNotMutateCallerPassword(t *testing.T) {
	pw := []byte("secret")
	e, err := New(Endpoint{
		Type:       AYIYA,
		RemoteIPv4: netip.MustParseAddr("203.0.113.1"),
		LocalIPv6:  netip.MustParseAddr("fe80::1"),
		Password:   pw,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Password[0] = 'X'
	if pw[0] == 'X' {
		t.Fatal("New must clone the password, not alias the caller's slice")
	}
}

func TestNewRejectsOversizedPassword(t *testing.T) {
	_, err := New(Endpoint{
		Type:       AYIYA,
		RemoteIPv4: netip.MustParseAddr("203.0.113.1"),
		LocalIPv6:  netip.MustParseAddr("fe80::1"),
		Password:   make([]byte, 256),
	})
	if err == nil {
		t.Fatal("expected error for oversized password")
	}
}

func TestNewRejectsBadPrefix(t *testing.T) {
	_, err := New(Endpoint{Type: V4V4, LocalIPv4: netip.MustParseAddr("10.0.0.1"), LocalPrefix: 200})
	if err == nil {
		t.Fatal("expected error for out-of-range prefix")
	}
}

func TestNewRejectsMissingAddresses(t *testing.T) {
	if _, err := New(Endpoint{Type: AYIYA}); err == nil {
		t.Fatal("expected error for ayiya without remote_ipv4/local_ipv6")
	}
	if _, err := New(Endpoint{Type: Ether, RemoteIPv4: netip.MustParseAddr("203.0.113.1")}); err == nil {
		t.Fatal("expected error for ether without remote_port")
	}
}

func TestHasBeater(t *testing.T) {
	cases := []struct {
		typ  Type
		beat int
		want bool
	}{
		{AYIYA, 30, true},
		{AYIYA, 0, false},
		{Heartbeat, 30, true},
		{V6V4, 30, false},
		{Ether, 30, false},
		{V4V4, 30, false},
	}
	for _, c := range cases {
		e := Endpoint{Type: c.typ, BeatInterval: c.beat}
		if got := e.HasBeater(); got != c.want {
			t.Errorf("Type=%v BeatInterval=%d: got %v, want %v", c.typ, c.beat, got, c.want)
		}
	}
}

func TestTypeString(t *testing.T) {
	if Ether.String() != "ether" || AYIYA.String() != "ayiya" {
		t.Fatalf("unexpected String() output")
	}
}
