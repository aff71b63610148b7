package domain

import (
	"bytes"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"
)

// chunkRecords is the number of records stored per chunk. Chunks are never
// reallocated, so a published record never moves.
const chunkRecords = 1 << 16

// UnitSize is the number of bytes needed for one record of n channels.
func UnitSize(channels int) int {
	return (channels + 7) / 8
}

// Sample is one record: channel bits packed little-endian, channel 0 in bit 0
// of byte 0.
type Sample []byte

// NewSample returns an all-low record for n channels.
func NewSample(channels int) Sample {
	return make(Sample, UnitSize(channels))
}

// SampleFromUint64 packs the low bits of v into a record for n channels.
func SampleFromUint64(v uint64, channels int) Sample {
	s := NewSample(channels)
	for i := range s {
		if i >= 8 {
			break
		}
		s[i] = byte(v >> (8 * i))
	}
	s.mask(channels)
	return s
}

func (s Sample) Bit(ch int) bool {
	return s[ch>>3]&(1<<(ch&7)) != 0
}

func (s Sample) Set(ch int, v bool) {
	if v {
		s[ch>>3] |= 1 << (ch & 7)
	} else {
		s[ch>>3] &^= 1 << (ch & 7)
	}
}

// Uint64 returns the first 64 channels as an integer.
func (s Sample) Uint64() uint64 {
	var v uint64
	for i := 0; i < len(s) && i < 8; i++ {
		v |= uint64(s[i]) << (8 * i)
	}
	return v
}

func (s Sample) mask(channels int) {
	if rem := channels & 7; rem != 0 && len(s) > 0 {
		s[len(s)-1] &= byte(1<<rem) - 1
	}
}

// HasBitsAbove reports whether any bit at or above channel n is set.
func (s Sample) HasBitsAbove(channels int) bool {
	full := channels >> 3
	if rem := channels & 7; rem != 0 {
		if full < len(s) && s[full]&^(byte(1<<rem)-1) != 0 {
			return true
		}
		full++
	}
	for i := full; i < len(s); i++ {
		if s[i] != 0 {
			return true
		}
	}
	return false
}

type storage struct {
	channels int
	unitSize int
	rate     uint64

	length atomic.Int64
	chunks atomic.Pointer[[][]byte]
	frozen atomic.Bool
}

func (s *storage) record(i int) []byte {
	chunks := *s.chunks.Load()
	c := chunks[i/chunkRecords]
	off := (i % chunkRecords) * s.unitSize
	return c[off : off+s.unitSize : off+s.unitSize]
}

// SampleBuffer is a read-only view of captured records. While the owning
// BufferBuilder is still appending, the view exposes the already published
// prefix; once frozen it is immutable.
type SampleBuffer struct {
	s *storage
}

func (b *SampleBuffer) ChannelCount() int {
	if b == nil {
		return 0
	}
	return b.s.channels
}

// Len is the number of published records. It only grows.
func (b *SampleBuffer) Len() int {
	if b == nil {
		return 0
	}
	return int(b.s.length.Load())
}

// SampleRate in Hz; zero when unknown.
func (b *SampleBuffer) SampleRate() uint64 {
	if b == nil {
		return 0
	}
	return b.s.rate
}

func (b *SampleBuffer) UnitSize() int {
	if b == nil {
		return 0
	}
	return b.s.unitSize
}

func (b *SampleBuffer) Frozen() bool {
	return b != nil && b.s.frozen.Load()
}

// Record returns record i without copying. Callers must not modify it.
func (b *SampleBuffer) Record(i int) []byte {
	if n := b.Len(); i < 0 || i >= n {
		panic(fmt.Sprintf("sample index %d out of range [0,%d)", i, n))
	}
	return b.s.record(i)
}

// SampleAt returns a copy of record i.
func (b *SampleBuffer) SampleAt(i int) Sample {
	return Sample(bytes.Clone(b.Record(i)))
}

// Bit returns channel ch of record i.
func (b *SampleBuffer) Bit(i, ch int) bool {
	if ch < 0 || ch >= b.ChannelCount() {
		panic(fmt.Sprintf("channel %d out of range [0,%d)", ch, b.ChannelCount()))
	}
	return Sample(b.Record(i)).Bit(ch)
}

// ChannelSeries yields the values of one channel. Each range over the
// sequence starts from sample 0 and stops at the length observed when it began.
func (b *SampleBuffer) ChannelSeries(ch int) iter.Seq[bool] {
	return func(yield func(bool) bool) {
		if ch < 0 || ch >= b.ChannelCount() {
			return
		}
		n := b.Len()
		for i := 0; i < n; i++ {
			if !yield(Sample(b.s.record(i)).Bit(ch)) {
				return
			}
		}
	}
}

// Edges yields the initial level of one channel at sample 0 and then every
// sample where its value changes.
func (b *SampleBuffer) Edges(ch int) iter.Seq2[int, bool] {
	return func(yield func(int, bool) bool) {
		if ch < 0 || ch >= b.ChannelCount() {
			return
		}
		n := b.Len()
		var prev bool
		for i := 0; i < n; i++ {
			v := Sample(b.s.record(i)).Bit(ch)
			if i > 0 && v == prev {
				continue
			}
			prev = v
			if !yield(i, v) {
				return
			}
		}
	}
}

// Records yields every published record in order, without copying.
func (b *SampleBuffer) Records() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		n := b.Len()
		for i := 0; i < n; i++ {
			if !yield(i, b.s.record(i)) {
				return
			}
		}
	}
}

// TimeAt is the offset of record i from the start of the capture.
func (b *SampleBuffer) TimeAt(i int) time.Duration {
	rate := b.SampleRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(uint64(i) * uint64(time.Second) / rate)
}

// Equal compares layout, rate and every record.
func (b *SampleBuffer) Equal(o *SampleBuffer) bool {
	if b.ChannelCount() != o.ChannelCount() || b.SampleRate() != o.SampleRate() || b.Len() != o.Len() {
		return false
	}
	for i := 0; i < b.Len(); i++ {
		if !bytes.Equal(b.s.record(i), o.s.record(i)) {
			return false
		}
	}
	return true
}

// BufferBuilder is the only way to add records to a SampleBuffer. It has a
// single writer; any number of goroutines may read its View concurrently.
type BufferBuilder struct {
	mu sync.Mutex
	s  *storage
}

func NewBufferBuilder(channels int, rate uint64) (*BufferBuilder, error) {
	if channels <= 0 {
		return nil, &InvalidConfigError{Field: "channel count", Reason: fmt.Sprintf("%d must be positive", channels)}
	}
	s := &storage{
		channels: channels,
		unitSize: UnitSize(channels),
		rate:     rate,
	}
	empty := make([][]byte, 0)
	s.chunks.Store(&empty)
	return &BufferBuilder{s: s}, nil
}

// View returns the live read-only view.
func (b *BufferBuilder) View() *SampleBuffer {
	return &SampleBuffer{s: b.s}
}

func (b *BufferBuilder) Len() int {
	return int(b.s.length.Load())
}

func (b *BufferBuilder) UnitSize() int { return b.s.unitSize }

// Append adds one record. Bits above the channel count are cleared.
func (b *BufferBuilder) Append(rec Sample) error {
	if len(rec) != b.s.unitSize {
		return fmt.Errorf("record width %d, want %d", len(rec), b.s.unitSize)
	}
	_, err := b.AppendPacked(rec)
	return err
}

// AppendPacked adds whole records packed back to back and returns how many
// were added.
func (b *BufferBuilder) AppendPacked(data []byte) (int, error) {
	unit := b.s.unitSize
	if len(data)%unit != 0 {
		return 0, fmt.Errorf("packed data length %d is not a multiple of record width %d", len(data), unit)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.s.frozen.Load() {
		return 0, ErrBufferFrozen
	}

	total := len(data) / unit
	n := int(b.s.length.Load())
	for len(data) > 0 {
		slot := n % chunkRecords
		if slot == 0 {
			b.growLocked()
		}
		chunks := *b.s.chunks.Load()
		chunk := chunks[n/chunkRecords]
		fit := min(chunkRecords-slot, len(data)/unit)
		dst := chunk[slot*unit : (slot+fit)*unit]
		copy(dst, data[:fit*unit])
		if b.s.channels&7 != 0 {
			for i := 0; i < fit; i++ {
				Sample(dst[i*unit : (i+1)*unit]).mask(b.s.channels)
			}
		}
		data = data[fit*unit:]
		n += fit
		// publish after the bytes are in place
		b.s.length.Store(int64(n))
	}
	return total, nil
}

// AppendRepeat adds count copies of rec.
func (b *BufferBuilder) AppendRepeat(rec Sample, count int) error {
	if len(rec) != b.s.unitSize {
		return fmt.Errorf("record width %d, want %d", len(rec), b.s.unitSize)
	}
	if count <= 0 {
		return nil
	}
	const batch = 4096
	block := bytes.Repeat(rec, min(count, batch))
	for count > 0 {
		k := min(count, batch)
		if _, err := b.AppendPacked(block[:k*len(rec)]); err != nil {
			return err
		}
		count -= k
	}
	return nil
}

func (b *BufferBuilder) growLocked() {
	old := *b.s.chunks.Load()
	next := make([][]byte, len(old), len(old)+1)
	copy(next, old)
	next = append(next, make([]byte, chunkRecords*b.s.unitSize))
	b.s.chunks.Store(&next)
}

// Freeze ends the building state. Further appends fail with ErrBufferFrozen.
func (b *BufferBuilder) Freeze() *SampleBuffer {
	b.mu.Lock()
	b.s.frozen.Store(true)
	b.mu.Unlock()
	return b.View()
}
