package fileformat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/oxyum/sigrok/internal/domain"
)

func formatPeriod(femtos uint64) string {
	if femtos == 0 {
		return "unknown"
	}
	for _, u := range timeUnits {
		if femtos >= u.femtos {
			return strconv.FormatFloat(float64(femtos)/float64(u.femtos), 'g', 6, 64) + " " + u.name
		}
	}
	return fmt.Sprintf("%d fs", femtos)
}

func writeGnuplot(w *bufio.Writer, buf *domain.SampleBuffer, names []string, p *progress) error {
	n := buf.ChannelCount()
	fmt.Fprintf(w, "# Sample data in space-separated column format usable by gnuplot\n#\n")
	fmt.Fprintf(w, "# Generated by: sigrok-capture\n")
	fmt.Fprintf(w, "# %s\n", acquisitionComment(n, buf.SampleRate()))
	fmt.Fprintf(w, "# Period: %s\n#\n", formatPeriod(domain.PeriodFemtos(buf.SampleRate())))
	fmt.Fprintf(w, "# Column\tChannel\n")
	fmt.Fprintf(w, "# ----------------------------------------------\n")
	fmt.Fprintf(w, "# 0\t\tSample counter\n")
	for i, name := range names {
		fmt.Fprintf(w, "# %d\t\t%s\n", i+1, name)
	}

	row := make([]byte, 0, 24+2*n)
	for i, rec := range buf.Records() {
		row = strconv.AppendInt(row[:0], int64(i), 10)
		row = append(row, '\t')
		for ch := 0; ch < n; ch++ {
			if ch > 0 {
				row = append(row, ' ')
			}
			if domain.Sample(rec).Bit(ch) {
				row = append(row, '1')
			} else {
				row = append(row, '0')
			}
		}
		row = append(row, '\n')
		if _, err := w.Write(row); err != nil {
			return err
		}
		if err := p.tick(i + 1); err != nil {
			return err
		}
	}
	return nil
}

// parseColumnLine reads "# <k> <name>" entries of the column table.
func parseColumnLine(line string) (int, string, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	if len(fields) < 2 {
		return 0, "", false
	}
	k, err := strconv.Atoi(fields[0])
	if err != nil || k < 0 {
		return 0, "", false
	}
	return k, strings.Join(fields[1:], " "), true
}

// readGnuplot parses rows of "<counter> v0 v1 ...". Counters must increase;
// missing counters hold the previous row's values. The first row's counter is
// sample 0. Rows that would grow the buffer past limit are a format error.
func readGnuplot(r io.Reader, limit int, p *progress) (*domain.DecodedCapture, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), ioBufferSize)

	var (
		names   []string
		rate    uint64
		b       *domain.BufferBuilder
		cur     domain.Sample
		origin  uint64
		last    uint64
		columns int
		lineNo  int
	)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if b != nil {
				continue
			}
			if rt, ok := commentRate(line); ok {
				rate = rt
			}
			if k, name, ok := parseColumnLine(line); ok && k >= 1 {
				for len(names) < k {
					names = append(names, "")
				}
				names[k-1] = name
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, contentErrorf("line %d: expected a counter and at least one channel", lineNo)
		}
		counter, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, contentErrorf("line %d: bad sample counter %q", lineNo, fields[0])
		}

		if b == nil {
			columns = len(fields) - 1
			if len(names) > 0 && len(names) != columns {
				return nil, contentErrorf("line %d: %d columns but %d channels declared", lineNo, columns, len(names))
			}
			if b, err = domain.NewBufferBuilder(columns, rate); err != nil {
				return nil, err
			}
			cur = domain.NewSample(columns)
			origin = counter
		} else {
			if len(fields)-1 != columns {
				return nil, contentErrorf("line %d: %d columns, expected %d", lineNo, len(fields)-1, columns)
			}
			if counter <= last {
				return nil, contentErrorf("line %d: sample counter %d does not increase", lineNo, counter)
			}
			if err := checkGrowth(b.Len(), counter-last, limit); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if gap := counter - last - 1; gap > 0 {
				if err := b.AppendRepeat(cur, int(gap)); err != nil {
					return nil, err
				}
			}
		}
		last = counter

		for ch, v := range fields[1:] {
			switch v {
			case "0":
				cur.Set(ch, false)
			case "1":
				cur.Set(ch, true)
			default:
				return nil, contentErrorf("line %d: channel %d value %q is not 0 or 1", lineNo, ch+1, v)
			}
		}
		if err := b.Append(cur); err != nil {
			return nil, err
		}
		if err := p.tick(int(counter - origin)); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if b == nil {
		if len(names) == 0 {
			return nil, contentErrorf("no channel columns found")
		}
		var err error
		if b, err = domain.NewBufferBuilder(len(names), rate); err != nil {
			return nil, err
		}
	}
	return &domain.DecodedCapture{
		Buffer: b.Freeze(),
		Names:  channelNames(names, b.View().ChannelCount()),
	}, nil
}
