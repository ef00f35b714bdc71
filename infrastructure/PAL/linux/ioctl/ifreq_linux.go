package ioctl

import "golang.org/x/sys/unix"

// IfReq mirrors the fields of the kernel's struct ifreq (linux/if.h) that
// TUNSETIFF/TUNGETIFF read and write: the interface name and the flags
// word. The trailing padding matches sizeof(struct ifreq) on linux/amd64
// (40 bytes) so the ioctl never reads past the struct.
type IfReq struct {
	Name  [unix.IFNAMSIZ]byte
	Flags uint16
	_     [22]byte
}

const (
	tunSetIff = 0x400454ca
	iffTun    = 0x0001
	iffTap    = 0x0002
	IffNoPi   = 0x1000
)
