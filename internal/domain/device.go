package domain

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// DeviceDescriptor identifies one attached device that matched the supported
// device table. Descriptors are values; a new scan produces new ones.
type DeviceDescriptor struct {
	// ID is the stable hardware identity, "<model>@<address>".
	ID           string
	Model        string
	Name         string
	Transport    string
	Address      string
	SampleRates  []uint64
	ChannelCount int
}

func (d DeviceDescriptor) SupportsRate(rate uint64) bool {
	_, ok := slices.BinarySearch(d.SampleRates, rate)
	return ok
}

func (d DeviceDescriptor) MaxRate() uint64 {
	if len(d.SampleRates) == 0 {
		return 0
	}
	return d.SampleRates[len(d.SampleRates)-1]
}

func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%s (%s, %d channels)", d.Name, d.ID, d.ChannelCount)
}

// RateCapability is either an explicit list of rates or a low/high range.
type RateCapability struct {
	List []uint64 `yaml:"list"`
	Low  uint64   `yaml:"low"`
	High uint64   `yaml:"high"`
}

// rangeSteps walks a range in 1-2-5 steps: x2, x2.5, x2.
var rangeSteps = [3][2]uint64{{2, 1}, {5, 2}, {2, 1}}

// Expand returns the supported rates in ascending order.
func (c RateCapability) Expand() []uint64 {
	if len(c.List) > 0 {
		out := slices.Clone(c.List)
		slices.Sort(out)
		return slices.Compact(out)
	}
	if c.Low == 0 || c.High < c.Low {
		return nil
	}
	var out []uint64
	for r, i := c.Low, 0; r <= c.High; i = (i + 1) % len(rangeSteps) {
		out = append(out, r)
		r = r * rangeSteps[i][0] / rangeSteps[i][1]
	}
	return out
}

// ParseSampleRate accepts "1000", "200k", "1MHz", "2.5 mhz". The k/m/g
// multipliers are case-insensitive; "m" always means mega.
func ParseSampleRate(s string) (uint64, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	v = strings.TrimSuffix(v, "hz")
	if v == "" {
		return 0, &InvalidConfigError{Field: "sample rate", Reason: fmt.Sprintf("%q is empty", s)}
	}
	mult := 1.0
	switch v[len(v)-1] {
	case 'k':
		mult = 1e3
	case 'm':
		mult = 1e6
	case 'g':
		mult = 1e9
	}
	if mult != 1 {
		v = v[:len(v)-1]
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, &InvalidConfigError{Field: "sample rate", Reason: fmt.Sprintf("cannot parse %q", s)}
	}
	rate := f*mult + 0.5
	if rate >= 1<<63 {
		return 0, &InvalidConfigError{Field: "sample rate", Reason: fmt.Sprintf("%q is out of range", s)}
	}
	return uint64(rate), nil
}

// FormatSampleRate renders a rate with an SI prefix ("1 MHz"). Rates that
// would not survive a round trip through ParseSampleRate are printed in Hz.
func FormatSampleRate(rate uint64) string {
	s := humanize.SI(float64(rate), "Hz")
	if back, err := ParseSampleRate(s); err != nil || back != rate {
		return strconv.FormatUint(rate, 10) + " Hz"
	}
	return s
}

// PeriodFemtos is the sample period in femtoseconds, rounded down.
func PeriodFemtos(rate uint64) uint64 {
	if rate == 0 {
		return 0
	}
	return 1_000_000_000_000_000 / rate
}
