package demo

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/oxyum/sigrok/internal/ports"
)

func TestEnumerateReportsConfiguredDevices(t *testing.T) {
	tr := New(Config{Devices: 2, Channels: 12})
	devs, err := tr.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("enumerate: %v", err)
	}
	if len(devs) != 2 || devs[1].Address != "demo-1" || devs[0].Channels != 12 || devs[0].Identity != Identity {
		t.Fatalf("unexpected devices %+v", devs)
	}
}

func TestCounterPatternUntilLimit(t *testing.T) {
	tr := New(Config{Devices: 1, Channels: 12, ChunkSamples: 300})
	c, err := tr.Open(context.Background(), ports.RawDevice{Address: "demo-0"}, ports.AcquisitionRequest{SampleRate: 1000, SampleLimit: 700})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer c.Close()

	var data []byte
	for {
		chunk, err := c.ReadChunk(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		data = append(data, chunk...)
	}
	if len(data) != 700*2 {
		t.Fatalf("expected 700 records of 2 bytes, got %d bytes", len(data))
	}
	// record 300: 0x12C masked to 12 bits
	if data[600] != 0x2C || data[601] != 0x01 {
		t.Fatalf("unexpected record 300: %x", data[600:602])
	}
}

func TestCounterPatternMasksUnusedChannels(t *testing.T) {
	tr := New(Config{Channels: 4, ChunkSamples: 32})
	c, _ := tr.Open(context.Background(), ports.RawDevice{}, ports.AcquisitionRequest{SampleRate: 1000})
	chunk, err := c.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if chunk[20] != 0x04 {
		t.Fatalf("record 20: expected 0x04 after masking, got %#x", chunk[20])
	}
}

func TestWalkingPattern(t *testing.T) {
	tr := New(Config{Channels: 3, Pattern: PatternWalking, ChunkSamples: 4})
	c, _ := tr.Open(context.Background(), ports.RawDevice{}, ports.AcquisitionRequest{SampleRate: 1000})
	chunk, err := c.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []byte{0b001, 0b010, 0b100, 0b001}
	for i, w := range want {
		if chunk[i] != w {
			t.Fatalf("record %d: expected %03b, got %03b", i, w, chunk[i])
		}
	}
}

func TestRealtimeReadHonorsCancel(t *testing.T) {
	tr := New(Config{Channels: 8, ChunkSamples: 1000, Realtime: true})
	c, _ := tr.Open(context.Background(), ports.RawDevice{}, ports.AcquisitionRequest{SampleRate: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ReadChunk(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUnknownPatternRejected(t *testing.T) {
	tr := New(Config{Pattern: "sine"})
	if _, err := tr.Open(context.Background(), ports.RawDevice{}, ports.AcquisitionRequest{}); err == nil {
		t.Fatalf("expected error for unknown pattern")
	}
}
