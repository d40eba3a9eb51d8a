//go:build linux && (386 || arm)

package v4l2

import (
	"syscall"
	"unsafe"
)

// Compile-time struct size assertions for the 32-bit layouts.
var (
	_ [204]byte = [unsafe.Sizeof(v4l2_format{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2_buffer{})]byte{}
)

// IOCTL constants whose argument size differs between 32- and 64-bit ABIs.
const (
	VIDIOC_G_FMT    = 0xc0cc5604
	VIDIOC_S_FMT    = 0xc0cc5605
	VIDIOC_QUERYBUF = 0xc0445609
	VIDIOC_QBUF     = 0xc044560f
	VIDIOC_DQBUF    = 0xc0445611
)

// v4l2_format has size 204 bytes.
type v4l2_format struct {
	typ uint32          // offset 0
	pix v4l2_pix_format // offset 4
	_   [152]byte       // filler to union size
}

// v4l2_buffer has size 68 bytes.
type v4l2_buffer struct {
	index     uint32          // offset 0
	typ       uint32          // offset 4
	bytesused uint32          // offset 8
	flags     uint32          // offset 12
	field     uint32          // offset 16
	timestamp syscall.Timeval // offset 20
	timecode  v4l2_timecode   // offset 28
	sequence  uint32          // offset 44
	memory    uint32          // offset 48
	offset    uint32          // offset 52 (union with userptr)
	length    uint32          // offset 56
	reserved2 uint32          // offset 60
	requestFd uint32          // offset 64
}
