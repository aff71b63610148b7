package opcua

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSamplerHoldsLastValue(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newSampler(3, 1000, 0, clock.Now)

	s.set(1, true)
	clock.Advance(5 * time.Millisecond)
	chunk, err := s.next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(chunk) != 5 {
		t.Fatalf("expected 5 records after 5 ms at 1 kHz, got %d", len(chunk))
	}
	for i, b := range chunk {
		if b != 0b010 {
			t.Fatalf("record %d: expected held value 010, got %03b", i, b)
		}
	}

	s.set(1, false)
	s.set(2, true)
	clock.Advance(2 * time.Millisecond)
	chunk, _ = s.next(context.Background())
	if len(chunk) != 2 || chunk[0] != 0b100 {
		t.Fatalf("expected 2 records of 100, got %v", chunk)
	}
}

func TestSamplerStopsAtLimit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newSampler(1, 100, 3, clock.Now)
	clock.Advance(time.Second)

	chunk, err := s.next(context.Background())
	if err != nil || len(chunk) != 3 {
		t.Fatalf("expected 3 records, got %d (%v)", len(chunk), err)
	}
	if _, err := s.next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after limit, got %v", err)
	}
}

func TestSamplerReportsSubscriptionFailure(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newSampler(1, 100, 0, clock.Now)
	boom := errors.New("subscription lost")
	s.fail(boom)
	if _, err := s.next(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected subscription error, got %v", err)
	}
}

func TestSamplerWaitHonorsCancel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := newSampler(1, 1, 0, clock.Now)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestVariantToBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
		ok   bool
	}{
		{true, true, true},
		{false, false, true},
		{int32(0), false, true},
		{uint16(7), true, true},
		{float64(0.5), true, true},
		{"on", false, false},
	}
	for _, tc := range cases {
		v, err := ua.NewVariant(tc.in)
		if err != nil {
			t.Fatalf("variant %v: %v", tc.in, err)
		}
		got, ok := variantToBool(v)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%v: expected (%v,%v), got (%v,%v)", tc.in, tc.want, tc.ok, got, ok)
		}
	}
	if _, ok := variantToBool(nil); ok {
		t.Fatalf("nil variant should not convert")
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{Endpoint: "opc.tcp://plc:4840", Channels: []ChannelConfig{{NodeID: "ns=2;s=Door"}}}
	cfg.ApplyDefaults()
	if cfg.SecurityMode != "None" || cfg.Channels[0].Name != "ns=2;s=Door" || cfg.PublishInterval <= 0 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (&Config{Endpoint: "opc.tcp://x"}).Validate(); err == nil {
		t.Fatalf("expected error without channels")
	}
	if normalizeSecurityMode("sign+encrypt") != "SignAndEncrypt" {
		t.Fatalf("unexpected security mode normalization")
	}
}

type stubConnector struct {
	connectErr error
	closed     int
}

func (s *stubConnector) Connect(context.Context) error { return s.connectErr }

func (s *stubConnector) Close(context.Context) error {
	s.closed++
	return nil
}

func TestConnectClosesClientOnFailure(t *testing.T) {
	refused := errors.New("connection refused")
	c := &stubConnector{connectErr: refused}
	if err := connect(context.Background(), c); !errors.Is(err, refused) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
	if c.closed != 1 {
		t.Fatalf("expected client closed once after failed connect, got %d", c.closed)
	}

	ok := &stubConnector{}
	if err := connect(context.Background(), ok); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ok.closed != 0 {
		t.Fatalf("connected client must stay open")
	}
}
