package wire

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
)

func TestConstructHeartbeatMatchesReferenceMD5(t *testing.T) {
	ip := "2001:db8::1"
	ts := int64(1700000000)
	pw := []byte("hunter2")

	got := ConstructHeartbeat(ip, ts, pw)

	signed := fmt.Sprintf("HEARTBEAT TUNNEL %s sender %d %s", ip, ts, pw)
	sum := md5.Sum([]byte(signed))
	want := fmt.Sprintf("HEARTBEAT TUNNEL %s sender %d %s", ip, ts, hex.EncodeToString(sum[:]))

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConstructHeartbeatShape(t *testing.T) {
	got := ConstructHeartbeat("fe80::1", 123, []byte("pw"))
	if !strings.HasPrefix(got, "HEARTBEAT TUNNEL fe80::1 sender 123 ") {
		t.Fatalf("unexpected heartbeat shape: %q", got)
	}
	if strings.Contains(got, "\n") {
		t.Fatalf("heartbeat payload must not contain newlines")
	}
	fields := strings.Fields(got)
	hexPart := fields[len(fields)-1]
	if len(hexPart) != 32 {
		t.Fatalf("expected 32-char md5 hex, got %d chars: %q", len(hexPart), hexPart)
	}
}
