//go:build linux

package kms

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl encoding from asm-generic/ioctl.h
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	drmIoctlBase = 'd'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | drmIoctlBase<<8 | nr
}

type sysPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

type sysFBCmd2 struct {
	fbID        uint32
	width       uint32
	height      uint32
	pixelFormat uint32
	flags       uint32
	handles     [4]uint32
	pitches     [4]uint32
	offsets     [4]uint32
	_           uint32 // keeps modifier 8-aligned on 32-bit targets
	modifier    [4]uint64
}

const pageFlipEvent = 0x01

var (
	ioctlSetMaster  = ioc(iocNone, 0x1e, 0)
	ioctlDropMaster = ioc(iocNone, 0x1f, 0)
	ioctlPageFlip   = ioc(iocRead|iocWrite, 0xB0, unsafe.Sizeof(sysPageFlip{}))
	ioctlAddFB2     = ioc(iocRead|iocWrite, 0xB8, unsafe.Sizeof(sysFBCmd2{}))
)

// ioctl retries on EINTR and EAGAIN like libdrm's drmIoctl.
func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return errno
		}
	}
}
