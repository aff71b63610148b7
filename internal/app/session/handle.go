package session

import (
	"context"
	"sync"

	"github.com/oxyum/sigrok/internal/domain"
)

// CaptureHandle tracks one running acquisition. Its buffer is readable while
// the capture runs.
type CaptureHandle struct {
	ID     string
	Device domain.DeviceDescriptor

	buffer *domain.SampleBuffer
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

func newHandle(id string, dev domain.DeviceDescriptor, buf *domain.SampleBuffer, cancel context.CancelFunc) *CaptureHandle {
	return &CaptureHandle{ID: id, Device: dev, buffer: buf, cancel: cancel, done: make(chan struct{})}
}

func (h *CaptureHandle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the buffer has been frozen.
func (h *CaptureHandle) Done() <-chan struct{} { return h.done }

// Cancel asks the worker to stop. The samples appended so far are kept.
func (h *CaptureHandle) Cancel() { h.cancel() }

// Wait blocks until the acquisition ends and returns its outcome: nil, or an
// AcquisitionInterrupted carrying the number of samples kept.
func (h *CaptureHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Buffer is the live view of the capture.
func (h *CaptureHandle) Buffer() *domain.SampleBuffer { return h.buffer }

func (h *CaptureHandle) Len() int { return h.buffer.Len() }

func (h *CaptureHandle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
