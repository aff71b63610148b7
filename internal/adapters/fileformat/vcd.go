package fileformat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oxyum/sigrok/internal/domain"
)

type timeUnit struct {
	name   string
	femtos uint64
}

var timeUnits = []timeUnit{
	{"s", 1_000_000_000_000_000},
	{"ms", 1_000_000_000_000},
	{"us", 1_000_000_000},
	{"ns", 1_000_000},
	{"ps", 1_000},
	{"fs", 1},
}

// vcdTimescale picks the coarsest timescale that divides the sample period
// and returns it with the number of timescale ticks per sample.
func vcdTimescale(period uint64) (string, uint64, uint64) {
	if period == 0 {
		return "1 ns", 1_000_000, 1
	}
	for _, u := range timeUnits {
		for _, m := range []uint64{100, 10, 1} {
			scale := m * u.femtos
			if period%scale == 0 {
				return fmt.Sprintf("%d %s", m, u.name), scale, period / scale
			}
		}
	}
	return "1 fs", 1, period
}

func parseTimescale(s string) (uint64, error) {
	s = strings.ReplaceAll(s, " ", "")
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	m, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil || (m != 1 && m != 10 && m != 100) {
		return 0, fmt.Errorf("bad timescale %q", s)
	}
	for _, u := range timeUnits {
		if s[i:] == u.name {
			return m * u.femtos, nil
		}
	}
	return 0, fmt.Errorf("bad timescale unit %q", s)
}

// vcdIdent is the i-th printable identifier: "!" .. "~", then "!!" and so on.
func vcdIdent(i int) string {
	var b []byte
	for {
		b = append(b, byte('!'+i%94))
		i /= 94
		if i == 0 {
			break
		}
		i--
	}
	return string(b)
}

// vcdRefNames turns channel names into distinct single-token references.
// Whitespace becomes "_" and a repeated name gets a "_2", "_3" suffix.
func vcdRefNames(names []string) []string {
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	for i, name := range names {
		ref := strings.Join(strings.Fields(name), "_")
		if ref == "" {
			ref = fmt.Sprintf("Channel_%d", i)
		}
		if strings.HasPrefix(ref, "$") {
			ref = "_" + ref
		}
		base := ref
		for k := 2; used[ref]; k++ {
			ref = fmt.Sprintf("%s_%d", base, k)
		}
		used[ref] = true
		out[i] = ref
	}
	return out
}

func acquisitionComment(channels int, rate uint64) string {
	if rate == 0 {
		return fmt.Sprintf("Acquisition with %d/%d channels", channels, channels)
	}
	return fmt.Sprintf("Acquisition with %d/%d channels at %s", channels, channels, domain.FormatSampleRate(rate))
}

// commentRate extracts the rate from an acquisition comment, if there is one.
func commentRate(comment string) (uint64, bool) {
	_, after, ok := strings.Cut(comment, " at ")
	if !ok {
		return 0, false
	}
	rate, err := domain.ParseSampleRate(after)
	if err != nil {
		return 0, false
	}
	return rate, true
}

// writeVCD emits a dump vector at time zero, then only the channels that
// changed. A closing timestamp marks the end of the last sample.
func writeVCD(w *bufio.Writer, buf *domain.SampleBuffer, names []string, p *progress) error {
	n := buf.ChannelCount()
	timescale, _, ticks := vcdTimescale(domain.PeriodFemtos(buf.SampleRate()))
	ids := make([]string, n)
	refs := vcdRefNames(names)

	fmt.Fprintf(w, "$version sigrok-capture $end\n")
	fmt.Fprintf(w, "$comment\n  %s\n$end\n", acquisitionComment(n, buf.SampleRate()))
	fmt.Fprintf(w, "$timescale %s $end\n", timescale)
	fmt.Fprintf(w, "$scope module sigrok $end\n")
	for i := 0; i < n; i++ {
		ids[i] = vcdIdent(i)
		fmt.Fprintf(w, "$var wire 1 %s %s $end\n", ids[i], refs[i])
	}
	fmt.Fprintf(w, "$upscope $end\n")
	if _, err := fmt.Fprintf(w, "$enddefinitions $end\n"); err != nil {
		return err
	}

	length := buf.Len()
	if length == 0 {
		return nil
	}

	bit := func(rec []byte, ch int) byte {
		if domain.Sample(rec).Bit(ch) {
			return '1'
		}
		return '0'
	}

	first := buf.Record(0)
	w.WriteString("#0\n$dumpvars\n")
	for ch := 0; ch < n; ch++ {
		w.WriteByte(bit(first, ch))
		w.WriteString(ids[ch])
		w.WriteByte('\n')
	}
	w.WriteString("$end\n")

	prev := first
	for i := 1; i < length; i++ {
		rec := buf.Record(i)
		header := false
		for ch := 0; ch < n; ch++ {
			if domain.Sample(rec).Bit(ch) == domain.Sample(prev).Bit(ch) {
				continue
			}
			if !header {
				fmt.Fprintf(w, "#%d\n", uint64(i)*ticks)
				header = true
			}
			w.WriteByte(bit(rec, ch))
			w.WriteString(ids[ch])
			w.WriteByte('\n')
		}
		prev = rec
		if err := p.tick(i); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "#%d\n", uint64(length)*ticks)
	return err
}

type vcdHeader struct {
	ids     map[string]int
	names   []string
	scale   uint64
	rate    uint64
	hasRate bool
}

func malformed(format string, args ...any) error {
	return &contentError{err: &domain.MalformedHeaderError{Format: domain.FormatVCD, Reason: fmt.Sprintf(format, args...)}}
}

// tokenizer yields whitespace separated words; it is all VCD needs.
type tokenizer struct {
	sc *bufio.Scanner
}

func newTokenizer(r io.Reader) *tokenizer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), ioBufferSize)
	sc.Split(bufio.ScanWords)
	return &tokenizer{sc: sc}
}

func (t *tokenizer) next() (string, error) {
	if t.sc.Scan() {
		return t.sc.Text(), nil
	}
	if err := t.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// until collects tokens up to the closing $end.
func (t *tokenizer) until(section string) ([]string, error) {
	var out []string
	for {
		tok, err := t.next()
		if err == io.EOF {
			return nil, malformed("unterminated %s section", section)
		}
		if err != nil {
			return nil, err
		}
		if tok == "$end" {
			return out, nil
		}
		out = append(out, tok)
	}
}

func readVCDHeader(t *tokenizer) (*vcdHeader, error) {
	h := &vcdHeader{ids: make(map[string]int), scale: 1_000_000}

	for {
		tok, err := t.next()
		if err == io.EOF {
			return nil, malformed("missing $enddefinitions")
		}
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(tok, "$") {
			return nil, malformed("unexpected %q in header", tok)
		}
		body, err := t.until(tok)
		if err != nil {
			return nil, err
		}

		switch tok {
		case "$enddefinitions":
			if len(h.names) == 0 {
				return nil, malformed("no channel declarations")
			}
			return h, nil
		case "$comment":
			if rate, ok := commentRate(strings.Join(body, " ")); ok {
				h.rate, h.hasRate = rate, true
			}
		case "$timescale":
			scale, err := parseTimescale(strings.Join(body, ""))
			if err != nil {
				return nil, malformed("%v", err)
			}
			h.scale = scale
		case "$var":
			if len(body) < 4 {
				return nil, malformed("short $var declaration %q", strings.Join(body, " "))
			}
			if body[1] != "1" {
				return nil, malformed("channel %s has width %s, only single-bit wires are supported", body[3], body[1])
			}
			id, name := body[2], body[3]
			if _, dup := h.ids[id]; dup {
				return nil, malformed("identifier %q declared twice", id)
			}
			h.ids[id] = len(h.names)
			h.names = append(h.names, name)
		}
	}
}

// readVCD expands the sparse change list into a dense buffer: every sample
// holds the last value seen at or before its timestamp. x and z read as 0.
// Expansion past limit samples is a format error.
func readVCD(r io.Reader, limit int, p *progress) (*domain.DecodedCapture, error) {
	t := newTokenizer(r)
	h, err := readVCDHeader(t)
	if err != nil {
		return nil, err
	}

	rate, ticks := h.rate, uint64(0)
	if h.hasRate {
		ticks = domain.PeriodFemtos(rate) / h.scale
	}
	if ticks == 0 || domain.PeriodFemtos(rate)%h.scale != 0 {
		rate, ticks = 1_000_000_000_000_000/h.scale, 1
	}

	b, err := domain.NewBufferBuilder(len(h.names), rate)
	if err != nil {
		return nil, err
	}
	cur := domain.NewSample(len(h.names))
	var (
		emitted  uint64
		lastTime uint64
		started  bool
		dirty    bool
	)

	for {
		tok, err := t.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch c := tok[0]; {
		case c == '#':
			ts, perr := strconv.ParseUint(tok[1:], 10, 64)
			if perr != nil {
				return nil, contentErrorf("bad timestamp %q", tok)
			}
			if started && ts < lastTime {
				return nil, contentErrorf("timestamp %d after %d is out of order", ts, lastTime)
			}
			started, lastTime = true, ts
			// a change between sample boundaries belongs to the next sample
			idx := ts / ticks
			if ts%ticks != 0 {
				idx++
			}
			if idx > emitted {
				if err := checkGrowth(int(emitted), idx-emitted, limit); err != nil {
					return nil, err
				}
				if err := b.AppendRepeat(cur, int(idx-emitted)); err != nil {
					return nil, err
				}
				emitted = idx
				dirty = false
				if err := p.tick(int(emitted)); err != nil {
					return nil, err
				}
			}
		case c == '$':
			switch tok {
			case "$comment":
				if _, err := t.until(tok); err != nil {
					return nil, err
				}
			case "$dumpvars", "$dumpall", "$dumpon", "$dumpoff", "$end":
			default:
				return nil, contentErrorf("unexpected %s in value changes", tok)
			}
		case c == '0' || c == '1' || c == 'x' || c == 'X' || c == 'z' || c == 'Z':
			ch, ok := h.ids[tok[1:]]
			if !ok {
				return nil, contentErrorf("value change for undeclared identifier %q", tok[1:])
			}
			cur.Set(ch, c == '1')
			dirty = true
		case c == 'b' || c == 'B' || c == 'r' || c == 'R':
			return nil, contentErrorf("vector value %q on a single-bit channel", tok)
		default:
			return nil, contentErrorf("unexpected token %q", tok)
		}
	}

	// Changes after the final timestamp still describe one more sample.
	if dirty {
		if err := checkGrowth(int(emitted), 1, limit); err != nil {
			return nil, err
		}
		if err := b.Append(cur); err != nil {
			return nil, err
		}
	}
	return &domain.DecodedCapture{Buffer: b.Freeze(), Names: h.names}, nil
}
