package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

var errLimitReached = errors.New("sample limit reached")

// Acquisition is one capture worker: a connection streaming native records
// and the builder they are compacted into.
type Acquisition struct {
	Device    string
	Transport string
	Conn      ports.Connection
	Builder   *domain.BufferBuilder
	Compactor domain.Compactor
	// Limit stops the capture after this many samples; zero means until the
	// device ends the stream.
	Limit  int
	Spool  ports.Spool
	Policy ports.Policy
	Obs    ports.Observability
}

// RunAcquisition pumps chunks from the connection into the builder until the
// stream ends, the limit is reached or ctx is canceled. The builder is always
// frozen on return, so every record appended before a failure is kept.
func RunAcquisition(ctx context.Context, acq Acquisition) error {
	start := time.Now()
	defer acq.Builder.Freeze()

	chunks := make(chan []byte, max(acq.Policy.ChunkQueueLen, 1))
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		for {
			data, err := acq.Conn.ReadChunk(gctx)
			if len(data) > 0 {
				select {
				case chunks <- data:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return &domain.TransportError{Transport: acq.Transport, Op: "read", Err: err}
			}
		}
	})

	g.Go(func() error {
		a := newAppender(acq.Builder, acq.Compactor, acq.Limit)
		lastGauge := time.Now()
		// drain until the reader closes the channel; chunks already read
		// are kept even when the capture is being canceled
		for data := range chunks {
			if acq.Spool != nil {
				if _, err := acq.Spool.Append(data); err != nil {
					return fmt.Errorf("spool append: %w", err)
				}
			}
			added, done, err := a.push(data)
			if err != nil {
				return err
			}
			if acq.Obs != nil {
				acq.Obs.IncCounter("sigrok_samples_captured_total", float64(added))
				if time.Since(lastGauge) >= acq.Policy.GaugeInterval {
					acq.Obs.SetGauge("sigrok_acquisition_samples", float64(acq.Builder.Len()))
					if acq.Spool != nil {
						acq.Obs.SetGauge("sigrok_spool_size_bytes", float64(acq.Spool.Stats().SizeBytes))
					}
					lastGauge = time.Now()
				}
			}
			if done {
				return errLimitReached
			}
		}
		return nil
	})

	err := g.Wait()
	n := acq.Builder.Len()
	if acq.Spool != nil {
		if serr := acq.Spool.Seal(n); serr != nil && acq.Obs != nil {
			acq.Obs.LogError("spool_seal_failed", serr, ports.Field{Key: "device", Value: acq.Device})
		}
	}

	switch {
	case err == nil || errors.Is(err, errLimitReached):
		err = nil
	case ctx.Err() != nil:
		err = &domain.AcquisitionInterrupted{SamplesCaptured: n, Cause: ctx.Err()}
	default:
		err = &domain.AcquisitionInterrupted{SamplesCaptured: n, Cause: err}
	}

	if acq.Obs != nil {
		acq.Obs.SetGauge("sigrok_acquisition_samples", float64(n))
		acq.Obs.ObserveLatency("sigrok_acquisition_seconds", time.Since(start).Seconds())
		fields := []ports.Field{
			{Key: "device", Value: acq.Device},
			{Key: "samples", Value: n},
		}
		if err != nil {
			acq.Obs.IncCounter("sigrok_acquisitions_interrupted_total", 1)
			acq.Obs.LogError("acquisition_interrupted", err, fields...)
		} else {
			acq.Obs.IncCounter("sigrok_acquisitions_completed_total", 1)
			acq.Obs.LogInfo("acquisition_completed", fields...)
		}
	}
	return err
}

// appender turns arbitrarily split native chunks into compacted records.
// Bytes of a record split across two chunks are carried over.
type appender struct {
	b       *domain.BufferBuilder
	c       domain.Compactor
	limit   int
	carry   []byte
	scratch []byte
}

func newAppender(b *domain.BufferBuilder, c domain.Compactor, limit int) *appender {
	return &appender{b: b, c: c, limit: limit}
}

// push appends the whole records in data and reports how many were added and
// whether the limit has been reached.
func (a *appender) push(data []byte) (int, bool, error) {
	unit := a.c.NativeUnitSize()
	if len(a.carry) > 0 {
		a.carry = append(a.carry, data...)
		data = a.carry
	}
	whole := len(data) / unit
	if a.limit > 0 {
		whole = min(whole, a.limit-a.b.Len())
	}

	added := 0
	if whole > 0 {
		src := data[:whole*unit]
		var out []byte
		if a.c.Passthrough() {
			out = src
		} else {
			a.scratch = a.c.CompactBlock(a.scratch, src)
			out = a.scratch
		}
		n, err := a.b.AppendPacked(out)
		if err != nil {
			return 0, false, err
		}
		added = n
	}

	rest := data[whole*unit:]
	if a.limit > 0 && a.b.Len() >= a.limit {
		a.carry = a.carry[:0]
		return added, true, nil
	}
	a.carry = append(a.carry[:0], rest...)
	return added, false, nil
}
