//go:build linux && (amd64 || arm64)

package v4l2

import (
	"syscall"
	"unsafe"
)

// Compile-time struct size assertions for the 64-bit layouts.
var (
	_ [208]byte = [unsafe.Sizeof(v4l2_format{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2_buffer{})]byte{}
)

// IOCTL constants whose argument size differs between 32- and 64-bit ABIs.
const (
	VIDIOC_G_FMT    = 0xc0d05604
	VIDIOC_S_FMT    = 0xc0d05605
	VIDIOC_QUERYBUF = 0xc0585609
	VIDIOC_QBUF     = 0xc058560f
	VIDIOC_DQBUF    = 0xc0585611
)

// v4l2_format has size 208 bytes. The union holds v4l2_window on the
// overlay path, which carries pointers, so the union is 8-byte aligned.
type v4l2_format struct {
	typ uint32          // offset 0
	_   [4]byte         // align union to 8
	pix v4l2_pix_format // offset 8
	_   [152]byte       // filler to union size
}

// v4l2_buffer has size 88 bytes.
type v4l2_buffer struct {
	index     uint32          // offset 0
	typ       uint32          // offset 4
	bytesused uint32          // offset 8
	flags     uint32          // offset 12
	field     uint32          // offset 16
	_         [4]byte         // align timestamp to 8
	timestamp syscall.Timeval // offset 24
	timecode  v4l2_timecode   // offset 40
	sequence  uint32          // offset 56
	memory    uint32          // offset 60
	offset    uint32          // offset 64 (union with userptr)
	_         [4]byte         // rest of the 8-byte union
	length    uint32          // offset 72
	reserved2 uint32          // offset 76
	requestFd uint32          // offset 80
	_         [4]byte         // trailing padding
}
