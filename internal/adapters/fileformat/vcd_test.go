package fileformat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestVCDRoundTrip(t *testing.T) {
	for _, rate := range []uint64{1_000_000, 3_000_000, 200_000, 123_457} {
		codec := New(nil)
		path := filepath.Join(t.TempDir(), "capture.vcd")
		buf := buildBuffer(t, 3, rate, 0, 0, 1, 1, 5, 7, 7, 2, 0, 4)
		names := []string{"clk", "data", "chip select"}

		if err := codec.Write(context.Background(), path, domain.FormatAuto, buf, names, ports.CodecOptions{}); err != nil {
			t.Fatalf("write: %v", err)
		}
		got, err := codec.Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
		if err != nil {
			t.Fatalf("read at %d Hz: %v", rate, err)
		}
		if !got.Buffer.Equal(buf) {
			t.Fatalf("vcd round trip at %d Hz changed the buffer: len %d rate %d", rate, got.Buffer.Len(), got.Buffer.SampleRate())
		}
		if diff := cmp.Diff([]string{"clk", "data", "chip_select"}, got.Names); diff != "" {
			t.Fatalf("names mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestVCDRoundTripCompressedAndWide(t *testing.T) {
	codec := New(nil)
	path := filepath.Join(t.TempDir(), "wide.vcd.zst")
	buf := counterBuffer(t, 100, 50_000_000, 2000)

	if err := codec.Write(context.Background(), path, domain.FormatAuto, buf, nil, ports.CodecOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := codec.Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got.Buffer.Equal(buf) {
		t.Fatalf("wide vcd round trip changed the buffer")
	}
}

func TestVCDHeaderWriting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.vcd")
	buf := buildBuffer(t, 2, 1_000_000, 0, 1, 1, 3)
	if err := New(nil).Write(context.Background(), path, domain.FormatAuto, buf, []string{"a", "b"}, ports.CodecOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, _ := os.ReadFile(path)
	text := string(data)
	for _, want := range []string{
		"Acquisition with 2/2 channels at 1 MHz",
		"$timescale 1 us $end",
		"$var wire 1 ! a $end",
		"$var wire 1 \" b $end",
		"#1\n1!\n",
		"#3\n1\"\n",
		"#4\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if strings.Contains(text, "#2\n") {
		t.Fatalf("unchanged sample 2 should not produce a timestamp:\n%s", text)
	}
}

func TestVCDMissingDeclarationsIsMalformedHeader(t *testing.T) {
	path := writeFixture(t, "bad.vcd", "$timescale 1 ns $end\n$enddefinitions $end\n#0\n1!\n")
	_, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if !errors.Is(err, domain.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	if codecKind(t, err) != domain.FormatError {
		t.Fatalf("malformed header should be a FormatError")
	}
}

func TestVCDHeaderRejections(t *testing.T) {
	cases := map[string]string{
		"duplicate id":   "$var wire 1 ! a $end\n$var wire 1 ! b $end\n$enddefinitions $end\n",
		"vector wire":    "$var wire 4 ! bus $end\n$enddefinitions $end\n",
		"no end":         "$var wire 1 ! a $end\n#0\n",
		"unterminated":   "$var wire 1 ! a\n",
	}
	for name, content := range cases {
		path := writeFixture(t, "bad.vcd", content)
		_, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
		if !errors.Is(err, domain.ErrMalformedHeader) {
			t.Fatalf("%s: expected ErrMalformedHeader, got %v", name, err)
		}
	}
}

func TestVCDOutOfOrderTimestampIsFormatError(t *testing.T) {
	path := writeFixture(t, "order.vcd", "$timescale 1 us $end\n$var wire 1 ! a $end\n$enddefinitions $end\n#0\n0!\n#5\n1!\n#3\n0!\n")
	_, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if codecKind(t, err) != domain.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}
	if errors.Is(err, domain.ErrMalformedHeader) {
		t.Fatalf("body error must not be reported as a header error")
	}
}

func TestVCDSparseExpansion(t *testing.T) {
	content := strings.Join([]string{
		"$timescale 10 ns $end",
		"$scope module top $end",
		"$var wire 1 ! a $end",
		"$var reg 1 # b $end",
		"$upscope $end",
		"$enddefinitions $end",
		"#0",
		"$dumpvars",
		"1!",
		"x#",
		"$end",
		"#30",
		"0!",
		"1#",
		"#50",
		"z#",
	}, "\n")
	path := writeFixture(t, "sparse.vcd", content)
	got, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	buf := got.Buffer
	if buf.SampleRate() != 100_000_000 {
		t.Fatalf("expected rate derived from 10 ns timescale, got %d", buf.SampleRate())
	}
	var vals []uint64
	for _, rec := range buf.Records() {
		vals = append(vals, domain.Sample(rec).Uint64())
	}
	// #0..#29 hold a=1 b=x(0); #30..#49 a=0 b=1; trailing change adds #50.
	want := make([]uint64, 0, 51)
	for i := 0; i < 30; i++ {
		want = append(want, 0b01)
	}
	for i := 30; i < 50; i++ {
		want = append(want, 0b10)
	}
	want = append(want, 0b00)
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Fatalf("dense expansion mismatch (-want +got):\n%s", diff)
	}
}

func TestVCDUndeclaredIdentifier(t *testing.T) {
	path := writeFixture(t, "undeclared.vcd", "$var wire 1 ! a $end\n$enddefinitions $end\n#0\n1%\n")
	_, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if codecKind(t, err) != domain.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestVCDIdentifiersAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 94*94+10; i++ {
		id := vcdIdent(i)
		if seen[id] {
			t.Fatalf("identifier %q repeated at %d", id, i)
		}
		seen[id] = true
	}
}

func TestVCDTimescale(t *testing.T) {
	cases := []struct {
		rate  uint64
		scale string
		ticks uint64
	}{
		{1_000_000, "1 us", 1},
		{200_000, "1 us", 5},
		{100_000_000, "10 ns", 1},
		{1, "1 s", 1},
		{0, "1 ns", 1},
	}
	for _, tc := range cases {
		scale, _, ticks := vcdTimescale(domain.PeriodFemtos(tc.rate))
		if scale != tc.scale || ticks != tc.ticks {
			t.Fatalf("rate %d: expected %s x%d, got %s x%d", tc.rate, tc.scale, tc.ticks, scale, ticks)
		}
	}
}

func TestVCDRoundTripWithCollidingNames(t *testing.T) {
	codec := New(nil)
	path := filepath.Join(t.TempDir(), "names.vcd")
	buf := buildBuffer(t, 4, 1_000_000, 0, 3, 12, 15, 1)
	names := []string{"clk", "clk", "a b", "a_b"}

	if err := codec.Write(context.Background(), path, domain.FormatAuto, buf, names, ports.CodecOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := codec.Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !got.Buffer.Equal(buf) {
		t.Fatalf("round trip changed the buffer")
	}
	if diff := cmp.Diff([]string{"clk", "clk_2", "a_b", "a_b_2"}, got.Names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestVCDRefNames(t *testing.T) {
	got := vcdRefNames([]string{"a", "a", "a_2", " \t", "$end", "two  words"})
	want := []string{"a", "a_2", "a_2_2", "Channel_3", "_$end", "two_words"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reference names mismatch (-want +got):\n%s", diff)
	}
}

func TestVCDAcceptsRepeatedReferenceNames(t *testing.T) {
	path := writeFixture(t, "scopes.vcd", strings.Join([]string{
		"$scope module u1 $end",
		"$var wire 1 ! en $end",
		"$upscope $end",
		"$scope module u2 $end",
		"$var wire 1 \" en $end",
		"$upscope $end",
		"$enddefinitions $end",
		"#0",
		"1!",
		"0\"",
		"#2",
	}, "\n"))
	got, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Buffer.ChannelCount() != 2 || got.Buffer.Len() != 2 {
		t.Fatalf("expected 2 channels x 2 samples, got %d x %d", got.Buffer.ChannelCount(), got.Buffer.Len())
	}
	if diff := cmp.Diff([]string{"en", "en"}, got.Names); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestVCDMisalignedChangeAppliesToNextSample(t *testing.T) {
	// 200 kHz at 1 us gives 5 ticks per sample; #7 falls inside sample 1.
	path := writeFixture(t, "misaligned.vcd", strings.Join([]string{
		"$comment Acquisition with 1/1 channels at 200 kHz $end",
		"$timescale 1 us $end",
		"$var wire 1 ! a $end",
		"$enddefinitions $end",
		"#0",
		"0!",
		"#7",
		"1!",
		"#15",
	}, "\n"))
	got, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var vals []uint64
	for _, rec := range got.Buffer.Records() {
		vals = append(vals, domain.Sample(rec).Uint64())
	}
	if diff := cmp.Diff([]uint64{0, 0, 1}, vals); diff != "" {
		t.Fatalf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestVCDOversizedGapIsFormatError(t *testing.T) {
	header := "$timescale 1 us $end\n$var wire 1 ! a $end\n$enddefinitions $end\n"
	path := writeFixture(t, "huge.vcd", header+"#0\n1!\n#5\n0!\n#18446744073709551615\n1!\n")
	_, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{})
	if codecKind(t, err) != domain.FormatError {
		t.Fatalf("expected FormatError, got %v", err)
	}

	path = writeFixture(t, "long.vcd", header+"#0\n1!\n#50\n")
	if _, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{MaxSamples: 10}); codecKind(t, err) != domain.FormatError {
		t.Fatalf("expected FormatError past the sample limit, got %v", err)
	}
	got, err := New(nil).Read(context.Background(), path, domain.FormatAuto, ports.CodecOptions{MaxSamples: 50})
	if err != nil || got.Buffer.Len() != 50 {
		t.Fatalf("expansion up to the limit should load: %v", err)
	}
}
