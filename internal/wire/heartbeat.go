package wire

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ConstructHeartbeat builds the ASCII 6in4-heartbeat UDP payload:
//
//	HEARTBEAT TUNNEL <ipv6> sender <unix-seconds> <md5-hex>
//
// where md5-hex is MD5 of the same string with the password substituted for
// the md5 field, per SPEC_FULL.md §4.1.
func ConstructHeartbeat(localIPv6 string, unixSeconds int64, password []byte) string {
	signed := fmt.Sprintf("HEARTBEAT TUNNEL %s sender %d %s", localIPv6, unixSeconds, password)
	sum := md5.Sum([]byte(signed))
	return fmt.Sprintf("HEARTBEAT TUNNEL %s sender %d %s", localIPv6, unixSeconds, hex.EncodeToString(sum[:]))
}
