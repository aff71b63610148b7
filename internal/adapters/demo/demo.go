// Package demo is a transport that synthesizes logic patterns, for use
// without hardware.
package demo

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"math/rand/v2"
	"time"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

const (
	Name     = "demo"
	Identity = "demo:logic"

	PatternCounter = "counter"
	PatternWalking = "walking"
	PatternRandom  = "random"
)

type Config struct {
	Devices      int    `yaml:"devices"`
	Channels     int    `yaml:"channels"`
	Pattern      string `yaml:"pattern"`
	ChunkSamples int    `yaml:"chunk_samples"`
	// Realtime paces chunks at the requested sample rate.
	Realtime bool `yaml:"realtime"`
}

type Transport struct {
	cfg Config
}

func New(cfg Config) *Transport {
	if cfg.Channels <= 0 {
		cfg.Channels = 8
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = 4096
	}
	if cfg.Pattern == "" {
		cfg.Pattern = PatternCounter
	}
	return &Transport{cfg: cfg}
}

func (t *Transport) Name() string { return Name }

func (t *Transport) Enumerate(ctx context.Context) ([]ports.RawDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]ports.RawDevice, t.cfg.Devices)
	for i := range out {
		out[i] = ports.RawDevice{
			Identity: Identity,
			Address:  fmt.Sprintf("demo-%d", i),
			Label:    fmt.Sprintf("Demo device %d", i),
			Channels: t.cfg.Channels,
		}
	}
	return out, nil
}

func (t *Transport) Open(ctx context.Context, dev ports.RawDevice, req ports.AcquisitionRequest) (ports.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch t.cfg.Pattern {
	case PatternCounter, PatternWalking, PatternRandom:
	default:
		return nil, fmt.Errorf("demo: unknown pattern %q", t.cfg.Pattern)
	}
	h := fnv.New64a()
	h.Write([]byte(dev.Address))
	return &conn{
		cfg:   t.cfg,
		unit:  domain.UnitSize(t.cfg.Channels),
		rate:  req.SampleRate,
		limit: req.SampleLimit,
		rng:   rand.New(rand.NewPCG(h.Sum64(), 0x5ca1ab1e)),
		start: time.Now(),
	}, nil
}

type conn struct {
	cfg   Config
	unit  int
	rate  uint64
	limit int
	rng   *rand.Rand
	start time.Time
	sent  int
}

func (c *conn) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := c.cfg.ChunkSamples
	if c.limit > 0 {
		if c.sent >= c.limit {
			return nil, io.EOF
		}
		n = min(n, c.limit-c.sent)
	}

	out := make([]byte, n*c.unit)
	rec := domain.NewSample(c.cfg.Channels)
	for i := 0; i < n; i++ {
		c.fill(rec, c.sent+i)
		copy(out[i*c.unit:], rec)
	}
	c.sent += n

	if c.cfg.Realtime && c.rate > 0 {
		due := c.start.Add(time.Duration(uint64(c.sent) * uint64(time.Second) / c.rate))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return out, nil
}

func (c *conn) fill(rec domain.Sample, i int) {
	switch c.cfg.Pattern {
	case PatternWalking:
		clear(rec)
		rec.Set(i%c.cfg.Channels, true)
	case PatternRandom:
		for b := range rec {
			rec[b] = byte(c.rng.Uint32())
		}
	default:
		for b := range rec {
			if b < 8 {
				rec[b] = byte(uint64(i) >> (8 * b))
			} else {
				rec[b] = 0
			}
		}
	}
	if rem := c.cfg.Channels & 7; rem != 0 {
		rec[len(rec)-1] &= byte(1<<rem) - 1
	}
}

func (c *conn) Close() error { return nil }

var _ ports.Transport = (*Transport)(nil)
