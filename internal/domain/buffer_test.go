package domain

import (
	"errors"
	"sync"
	"testing"
)

func TestBufferBuilderAppendAcrossChunks(t *testing.T) {
	b, err := NewBufferBuilder(3, 1_000_000)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	total := chunkRecords + 1234
	packed := make([]byte, total)
	for i := range packed {
		packed[i] = byte(i)
	}
	n, err := b.AppendPacked(packed)
	if err != nil {
		t.Fatalf("append packed: %v", err)
	}
	if n != total {
		t.Fatalf("expected %d records appended, got %d", total, n)
	}

	buf := b.Freeze()
	if buf.Len() != total {
		t.Fatalf("expected length %d, got %d", total, buf.Len())
	}
	for _, i := range []int{0, 7, chunkRecords - 1, chunkRecords, total - 1} {
		want := byte(i) & 0x07
		if got := buf.Record(i)[0]; got != want {
			t.Fatalf("record %d: expected %#x (masked to 3 channels), got %#x", i, want, got)
		}
	}
}

func TestBufferFreezeRejectsAppend(t *testing.T) {
	b, _ := NewBufferBuilder(8, 0)
	if err := b.Append(Sample{0xAA}); err != nil {
		t.Fatalf("append: %v", err)
	}
	buf := b.Freeze()
	if !buf.Frozen() {
		t.Fatalf("expected buffer to report frozen")
	}
	if err := b.Append(Sample{0x55}); !errors.Is(err, ErrBufferFrozen) {
		t.Fatalf("expected ErrBufferFrozen, got %v", err)
	}
	if buf.Len() != 1 {
		t.Fatalf("frozen buffer grew to %d", buf.Len())
	}
}

func TestBufferAppendRejectsWrongWidth(t *testing.T) {
	b, _ := NewBufferBuilder(12, 0)
	if err := b.Append(Sample{0x01}); err == nil {
		t.Fatalf("expected width mismatch error")
	}
	if _, err := b.AppendPacked([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected partial record error")
	}
}

func TestNewBufferBuilderRejectsZeroChannels(t *testing.T) {
	if _, err := NewBufferBuilder(0, 0); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestChannelSeriesIsRestartable(t *testing.T) {
	b, _ := NewBufferBuilder(2, 0)
	for _, v := range []byte{0b01, 0b11, 0b10, 0b00} {
		if err := b.Append(Sample{v}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	buf := b.Freeze()

	collect := func(ch int) []bool {
		var out []bool
		for v := range buf.ChannelSeries(ch) {
			out = append(out, v)
		}
		return out
	}

	first := collect(1)
	second := collect(1)
	want := []bool{false, true, true, false}
	for i := range want {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("series mismatch at %d: first=%v second=%v want=%v", i, first, second, want)
		}
	}
	if got := collect(5); len(got) != 0 {
		t.Fatalf("expected empty series for unknown channel, got %v", got)
	}
}

func TestLiveViewReadsPublishedPrefixConcurrently(t *testing.T) {
	b, _ := NewBufferBuilder(16, 0)
	view := b.View()

	const total = 3 * chunkRecords
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := NewSample(16)
		for i := 0; i < total; i++ {
			rec[0], rec[1] = byte(i), byte(i>>8)
			if err := b.Append(rec); err != nil {
				t.Errorf("append %d: %v", i, err)
				return
			}
		}
		b.Freeze()
	}()

	last := 0
	for !view.Frozen() || last < view.Len() {
		n := view.Len()
		if n < last {
			t.Fatalf("length went backwards: %d -> %d", last, n)
		}
		if n > 0 {
			i := n - 1
			rec := view.Record(i)
			if rec[0] != byte(i) || rec[1] != byte(i>>8) {
				t.Fatalf("torn read at %d: %v", i, rec)
			}
		}
		last = n
	}
	wg.Wait()
	if view.Len() != total {
		t.Fatalf("expected %d records, got %d", total, view.Len())
	}
}

func TestSampleHelpers(t *testing.T) {
	s := SampleFromUint64(0x1F3, 10)
	if s.Uint64() != 0x1F3 {
		t.Fatalf("expected 0x1F3, got %#x", s.Uint64())
	}
	s.Set(9, true)
	if !s.Bit(9) {
		t.Fatalf("expected bit 9 set")
	}
	s.Set(0, false)
	if s.Bit(0) {
		t.Fatalf("expected bit 0 cleared")
	}
	if s.HasBitsAbove(10) {
		t.Fatalf("no bits above channel 10 expected")
	}
	if !(Sample{0x00, 0x04}).HasBitsAbove(10) {
		t.Fatalf("bit 10 should be reported above a 10 channel layout")
	}
}

func TestSampleBufferEqual(t *testing.T) {
	build := func(vals ...byte) *SampleBuffer {
		b, _ := NewBufferBuilder(4, 100)
		for _, v := range vals {
			_ = b.Append(Sample{v})
		}
		return b.Freeze()
	}
	if !build(1, 2, 3).Equal(build(1, 2, 3)) {
		t.Fatalf("identical buffers should compare equal")
	}
	if build(1, 2, 3).Equal(build(1, 2, 4)) {
		t.Fatalf("different records should not compare equal")
	}
	var nilBuf *SampleBuffer
	if nilBuf.Len() != 0 || nilBuf.ChannelCount() != 0 {
		t.Fatalf("nil buffer should be empty")
	}
}

func TestEdgesYieldsInitialLevelAndChanges(t *testing.T) {
	b, _ := NewBufferBuilder(1, 0)
	for _, v := range []byte{1, 1, 0, 0, 1} {
		_ = b.Append(Sample{v})
	}
	buf := b.Freeze()

	var idx []int
	var vals []bool
	for i, v := range buf.Edges(0) {
		idx = append(idx, i)
		vals = append(vals, v)
	}
	if len(idx) != 3 || idx[0] != 0 || idx[1] != 2 || idx[2] != 4 {
		t.Fatalf("unexpected edge indices %v", idx)
	}
	if !vals[0] || vals[1] || !vals[2] {
		t.Fatalf("unexpected edge values %v", vals)
	}
}
