//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/camstream/camstream/pkg/linuxav/v4l2"
)

// SlotState tracks who owns a memory-mapped buffer slot.
type SlotState uint8

const (
	// SlotFree: mapped but not yet handed to the driver.
	SlotFree SlotState = iota
	// SlotQueued: owned by the driver, waiting to be filled.
	SlotQueued
	// SlotFilled: dequeued from the driver with frame data, not yet
	// handed to a caller.
	SlotFilled
	// SlotHeld: lent to a caller, waiting for Release.
	SlotHeld
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotQueued:
		return "queued"
	case SlotFilled:
		return "filled"
	case SlotHeld:
		return "held"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// legalTransitions is the slot lifecycle: free -> queued -> filled -> held
// -> queued. A filled slot may be requeued directly when the driver flags
// its contents as corrupt.
var legalTransitions = map[SlotState][]SlotState{
	SlotFree:   {SlotQueued},
	SlotQueued: {SlotFilled},
	SlotFilled: {SlotHeld, SlotQueued},
	SlotHeld:   {SlotQueued},
}

// streamer is the kernel-facing surface the pool needs from a device.
// *v4l2.Device satisfies it; tests substitute a fake.
type streamer interface {
	RequestBuffers(count uint32) (uint32, error)
	MapBuffer(index uint32) ([]byte, error)
	UnmapBuffer(data []byte) error
	QueueBuffer(index uint32) error
	DequeueBuffer(timeout time.Duration) (v4l2.BufferInfo, error)
}

type slot struct {
	data  []byte
	state SlotState
}

// LockedBuffer is a filled buffer on loan from the pool. Data aliases the
// kernel mapping and is only valid until Release returns the slot to the
// driver.
type LockedBuffer struct {
	Index     uint32
	Data      []byte
	Sequence  uint32
	Timestamp time.Time
}

// Pool owns a fixed set of memory-mapped kernel capture buffers and
// enforces the slot lifecycle. It is not safe for concurrent use.
type Pool struct {
	dev    streamer
	slots  []slot
	logger *slog.Logger
	closed bool
}

// NewPool requests count mmap buffers from the driver and maps each one.
// The driver may grant fewer buffers than requested; granting zero fails.
func NewPool(dev streamer, count uint32, logger *slog.Logger) (*Pool, error) {
	if count == 0 {
		return nil, newError(ErrCodeBufferAllocationFailed,
			"buffer count must be at least 1", nil)
	}

	granted, err := dev.RequestBuffers(count)
	if err != nil {
		return nil, newError(ErrCodeBufferAllocationFailed,
			fmt.Sprintf("driver rejected request for %d buffers", count), err)
	}
	if granted == 0 {
		return nil, newError(ErrCodeBufferAllocationFailed,
			"driver granted zero buffers", nil)
	}
	if granted < count {
		logger.Warn("driver granted fewer buffers than requested",
			"requested", count, "granted", granted)
	}

	slots := make([]slot, granted)
	for i := uint32(0); i < granted; i++ {
		data, err := dev.MapBuffer(i)
		if err != nil {
			for j := uint32(0); j < i; j++ {
				dev.UnmapBuffer(slots[j].data)
			}
			return nil, newError(ErrCodeBufferAllocationFailed,
				fmt.Sprintf("failed to map buffer %d", i), err)
		}
		slots[i] = slot{data: data, state: SlotFree}
	}

	return &Pool{
		dev:    dev,
		slots:  slots,
		logger: logger,
	}, nil
}

// Size returns the number of buffers granted by the driver.
func (p *Pool) Size() int { return len(p.slots) }

// Counts returns the number of slots in each state, for accounting checks.
func (p *Pool) Counts() (free, queued, filled, held int) {
	for _, s := range p.slots {
		switch s.state {
		case SlotFree:
			free++
		case SlotQueued:
			queued++
		case SlotFilled:
			filled++
		case SlotHeld:
			held++
		}
	}
	return
}

// transition moves a slot to a new state, failing loudly on any move the
// lifecycle does not allow. An illegal transition means the pool and the
// driver disagree about buffer ownership, which is never recoverable by
// retrying.
func (p *Pool) transition(index uint32, to SlotState) error {
	from := p.slots[index].state
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			p.slots[index].state = to
			return nil
		}
	}
	return newError(ErrCodeCaptureError,
		fmt.Sprintf("illegal transition %s -> %s for buffer %d", from, to, index), nil)
}

// QueueAll hands every free slot to the driver. Called once before the
// stream starts.
func (p *Pool) QueueAll() error {
	for i := range p.slots {
		if p.slots[i].state != SlotFree {
			continue
		}
		index := uint32(i)
		if err := p.dev.QueueBuffer(index); err != nil {
			return newError(ErrCodeCaptureError,
				fmt.Sprintf("failed to queue buffer %d", index), err)
		}
		if err := p.transition(index, SlotQueued); err != nil {
			return err
		}
	}
	return nil
}

// Dequeue waits up to timeout for the driver to fill a buffer and lends it
// to the caller. The caller must Release the buffer exactly once. A buffer
// the driver flags as corrupt is requeued internally and reported as
// ErrCodeCaptureError so the caller can retry.
func (p *Pool) Dequeue(timeout time.Duration) (*LockedBuffer, error) {
	if p.closed {
		return nil, newError(ErrCodeCaptureError, "pool is closed", nil)
	}

	info, err := p.dev.DequeueBuffer(timeout)
	if err != nil {
		switch {
		case errors.Is(err, v4l2.ErrTimeout):
			return nil, newError(ErrCodeCaptureTimeout,
				fmt.Sprintf("no frame within %s", timeout), err)
		case errors.Is(err, v4l2.ErrBufferError):
			// The slot is back from the driver but its contents are
			// garbage. Hand it straight back.
			if terr := p.transition(info.Index, SlotFilled); terr != nil {
				return nil, terr
			}
			if qerr := p.requeue(info.Index); qerr != nil {
				return nil, qerr
			}
			return nil, newError(ErrCodeCaptureError,
				fmt.Sprintf("driver flagged buffer %d as corrupt", info.Index), err)
		case errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO), errors.Is(err, syscall.EIO):
			return nil, newError(ErrCodeDeviceUnavailable, "device went away", err)
		default:
			return nil, newError(ErrCodeCaptureError, "dequeue failed", err)
		}
	}

	if int(info.Index) >= len(p.slots) {
		return nil, newError(ErrCodeCaptureError,
			fmt.Sprintf("driver returned out-of-range buffer index %d", info.Index), nil)
	}
	if err := p.transition(info.Index, SlotFilled); err != nil {
		return nil, err
	}
	if err := p.transition(info.Index, SlotHeld); err != nil {
		return nil, err
	}

	data := p.slots[info.Index].data
	used := info.BytesUsed
	if int(used) > len(data) {
		used = uint32(len(data))
	}

	return &LockedBuffer{
		Index:     info.Index,
		Data:      data[:used],
		Sequence:  info.Sequence,
		Timestamp: info.Timestamp,
	}, nil
}

// Release returns a held buffer to the driver's queue. Releasing a buffer
// that is not held, including releasing twice, is an error.
func (p *Pool) Release(index uint32) error {
	if int(index) >= len(p.slots) {
		return newError(ErrCodeCaptureError,
			fmt.Sprintf("release of out-of-range buffer index %d", index), nil)
	}
	if p.slots[index].state != SlotHeld {
		return newError(ErrCodeCaptureError,
			fmt.Sprintf("release of buffer %d in state %s", index, p.slots[index].state), nil)
	}
	return p.requeue(index)
}

func (p *Pool) requeue(index uint32) error {
	if err := p.dev.QueueBuffer(index); err != nil {
		// The slot is in limbo; mark it free so accounting stays honest,
		// but the stream is effectively dead.
		p.slots[index].state = SlotFree
		return newError(ErrCodeCaptureError,
			fmt.Sprintf("failed to requeue buffer %d", index), err)
	}
	return p.transition(index, SlotQueued)
}

// Close unmaps every buffer. The caller must stop the stream first so the
// driver no longer writes into the mappings. Idempotent.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	for i := range p.slots {
		if err := p.dev.UnmapBuffer(p.slots[i].data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unmap buffer %d: %w", i, err)
		}
		p.slots[i].data = nil
	}
	return firstErr
}
