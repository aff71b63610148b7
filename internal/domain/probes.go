package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ProbeSpec selects one hardware probe (0-based) and an optional name.
type ProbeSpec struct {
	Index int
	Name  string
}

// ParseProbes parses a 1-based probe selection such as "1-4,6=clk,8=cs".
// Ranges need exactly two bounds with start < end; a named probe cannot be
// part of a range.
func ParseProbes(spec string, maxProbes int) ([]ProbeSpec, error) {
	invalid := func(format string, args ...any) error {
		return &InvalidConfigError{Field: "probes", Reason: fmt.Sprintf(format, args...)}
	}

	var (
		out  []ProbeSpec
		seen = make(map[int]bool)
	)
	add := func(n int, name string) error {
		if n < 1 || n > maxProbes {
			return invalid("probe %d outside 1-%d", n, maxProbes)
		}
		if seen[n] {
			return invalid("probe %d selected twice", n)
		}
		seen[n] = true
		out = append(out, ProbeSpec{Index: n - 1, Name: name})
		return nil
	}

	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if num, name, ok := strings.Cut(tok, "="); ok {
			n, err := strconv.Atoi(strings.TrimSpace(num))
			if err != nil {
				return nil, invalid("bad probe %q", tok)
			}
			if err := add(n, strings.TrimSpace(name)); err != nil {
				return nil, err
			}
			continue
		}
		if lo, hi, ok := strings.Cut(tok, "-"); ok {
			b, errB := strconv.Atoi(strings.TrimSpace(lo))
			e, errE := strconv.Atoi(strings.TrimSpace(hi))
			if errB != nil || errE != nil || strings.Contains(hi, "-") {
				return nil, invalid("bad probe range %q", tok)
			}
			if b >= e {
				return nil, invalid("probe range %q must ascend", tok)
			}
			for n := b; n <= e; n++ {
				if err := add(n, ""); err != nil {
					return nil, err
				}
			}
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, invalid("bad probe %q", tok)
		}
		if err := add(n, ""); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, invalid("no probes in %q", spec)
	}
	return out, nil
}

// FirstProbes selects probes 0..n-1.
func FirstProbes(n int) []ProbeSpec {
	out := make([]ProbeSpec, n)
	for i := range out {
		out[i] = ProbeSpec{Index: i}
	}
	return out
}

// Compactor converts records at the hardware's native width into records that
// hold only the selected probes, in selection order.
type Compactor struct {
	nativeUnit int
	outUnit    int
	probes     []int
	passthru   bool
}

func NewCompactor(nativeChannels int, probes []ProbeSpec) Compactor {
	c := Compactor{
		nativeUnit: UnitSize(nativeChannels),
		outUnit:    UnitSize(len(probes)),
		probes:     make([]int, len(probes)),
		passthru:   true,
	}
	for i, p := range probes {
		c.probes[i] = p.Index
		if p.Index != i {
			c.passthru = false
		}
	}
	return c
}

func (c Compactor) NativeUnitSize() int { return c.nativeUnit }
func (c Compactor) OutUnitSize() int    { return c.outUnit }

// Passthrough reports whether records can be copied byte for byte: the
// selection is a prefix of the probes and the widths match.
func (c Compactor) Passthrough() bool {
	return c.passthru && c.nativeUnit == c.outUnit
}

// Compact writes the selected bits of src into dst.
func (c Compactor) Compact(dst, src []byte) {
	if c.Passthrough() {
		copy(dst, src)
		return
	}
	clear(dst)
	for out, in := range c.probes {
		if src[in>>3]&(1<<(in&7)) != 0 {
			dst[out>>3] |= 1 << (out & 7)
		}
	}
}

// CompactBlock converts a run of whole native records.
func (c Compactor) CompactBlock(dst, src []byte) []byte {
	n := len(src) / c.nativeUnit
	need := n * c.outUnit
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i := 0; i < n; i++ {
		c.Compact(dst[i*c.outUnit:(i+1)*c.outUnit], src[i*c.nativeUnit:(i+1)*c.nativeUnit])
	}
	return dst
}
