package sigrok

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oxyum/sigrok/internal/domain"
)

// ErrChannelExporterClosed is returned when a channel exporter is used after
// being closed.
var ErrChannelExporterClosed = errors.New("sigrok: channel exporter closed")

// ExportFunc receives a frozen capture.
type ExportFunc func(ctx context.Context, info CaptureInfo, buf *SampleBuffer) error

// Transition is one value change of one channel.
type Transition struct {
	CaptureID string
	Channel   int
	Name      string
	Sample    int
	Offset    time.Duration
	Value     bool
}

// NewCallbackExporter adapts a function into an Exporter so callers can plug
// in arbitrary destinations without defining types.
func NewCallbackExporter(name string, fn ExportFunc) Exporter {
	if name == "" {
		name = "callback"
	}
	return &callbackExporter{name: name, fn: fn}
}

// NewChannelExporter delivers the transitions of every enabled channel over a
// channel, one batch per channel. The close function must be called during
// shutdown.
func NewChannelExporter(name string, buffer int) (Exporter, <-chan []Transition, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Transition, buffer)
	e := &channelExporter{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return e, ch, func() { e.close() }
}

type callbackExporter struct {
	name string
	fn   ExportFunc
}

func (e *callbackExporter) Export(ctx context.Context, info CaptureInfo, buf *SampleBuffer) error {
	if e.fn == nil {
		return fmt.Errorf("callback exporter %q: nil handler", e.name)
	}
	return e.fn(ctx, info, buf)
}

func (e *callbackExporter) Name() string { return e.name }

type channelExporter struct {
	name   string
	ch     chan []Transition
	closed chan struct{}
	once   sync.Once
	// send and close must not race on ch
	mu sync.RWMutex
}

func (e *channelExporter) Export(ctx context.Context, info CaptureInfo, buf *SampleBuffer) error {
	for _, c := range info.Channels {
		if !c.Enabled || c.Index >= buf.ChannelCount() {
			continue
		}
		batch := transitions(info.ID, c, buf)
		if err := e.send(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

func (e *channelExporter) send(ctx context.Context, batch []Transition) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	select {
	case <-e.closed:
		return ErrChannelExporterClosed
	default:
	}

	select {
	case <-e.closed:
		return ErrChannelExporterClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.ch <- batch:
		return nil
	}
}

func (e *channelExporter) Name() string { return e.name }

func (e *channelExporter) close() {
	e.once.Do(func() {
		close(e.closed)
		e.mu.Lock()
		close(e.ch)
		e.mu.Unlock()
	})
}

func transitions(id string, c domain.Channel, buf *SampleBuffer) []Transition {
	var out []Transition
	for i, v := range buf.Edges(c.Index) {
		out = append(out, Transition{
			CaptureID: id,
			Channel:   c.Index,
			Name:      c.Name,
			Sample:    i,
			Offset:    buf.TimeAt(i),
			Value:     v,
		})
	}
	return out
}
