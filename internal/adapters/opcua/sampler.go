package opcua

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/oxyum/sigrok/internal/domain"
)

const maxChunkSamples = 4096

// sampler turns the latest published node values into evenly spaced records.
// Records are emitted for every whole period elapsed since the start.
type sampler struct {
	mu    sync.Mutex
	state domain.Sample
	err   error

	rate    uint64
	limit   int
	start   time.Time
	emitted int
	now     func() time.Time
}

func newSampler(channels int, rate uint64, limit int, now func() time.Time) *sampler {
	return &sampler{
		state: domain.NewSample(channels),
		rate:  rate,
		limit: limit,
		start: now(),
		now:   now,
	}
}

func (s *sampler) set(ch int, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch >= 0 && ch < len(s.state)*8 {
		s.state.Set(ch, v)
	}
}

func (s *sampler) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// due reports how many records are owed now, or how long until the next one.
func (s *sampler) due() (int, time.Duration) {
	elapsed := s.now().Sub(s.start)
	total := int(uint64(elapsed) * s.rate / uint64(time.Second))
	if s.limit > 0 {
		total = min(total, s.limit)
	}
	if n := total - s.emitted; n > 0 {
		return min(n, maxChunkSamples), 0
	}
	next := s.start.Add(time.Duration(uint64(s.emitted+1) * uint64(time.Second) / s.rate))
	return 0, max(next.Sub(s.now()), time.Millisecond)
}

func (s *sampler) next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		if s.limit > 0 && s.emitted >= s.limit {
			s.mu.Unlock()
			return nil, io.EOF
		}
		n, wait := s.due()
		if n > 0 {
			unit := len(s.state)
			out := make([]byte, n*unit)
			for i := 0; i < n; i++ {
				copy(out[i*unit:], s.state)
			}
			s.emitted += n
			s.mu.Unlock()
			return out, nil
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}
