package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

type Kind int

const (
	NoneFound Kind = iota
	SingleFound
	MultipleFound
)

func (k Kind) String() string {
	switch k {
	case SingleFound:
		return "single"
	case MultipleFound:
		return "multiple"
	default:
		return "none"
	}
}

// Result is the classified outcome of one scan. It is a plain value: a later
// scan never changes an earlier result.
type Result struct {
	Kind    Kind
	Devices []domain.DeviceDescriptor
}

// Single returns the device of a SingleFound result.
func (r Result) Single() (domain.DeviceDescriptor, bool) {
	if r.Kind != SingleFound {
		return domain.DeviceDescriptor{}, false
	}
	return r.Devices[0], true
}

func Classify(devs []domain.DeviceDescriptor) Result {
	switch len(devs) {
	case 0:
		return Result{Kind: NoneFound}
	case 1:
		return Result{Kind: SingleFound, Devices: devs}
	default:
		return Result{Kind: MultipleFound, Devices: devs}
	}
}

type Scanner struct {
	transports []ports.Transport
	table      map[string]Entry
	obs        ports.Observability
}

func NewScanner(transports []ports.Transport, table []Entry, obs ports.Observability) *Scanner {
	byID := make(map[string]Entry, len(table))
	for _, e := range table {
		byID[e.Identity] = e
	}
	return &Scanner{transports: transports, table: byID, obs: obs}
}

// Transport returns the transport registered under name.
func (s *Scanner) Transport(name string) (ports.Transport, error) {
	for _, t := range s.transports {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTransport, name)
}

// Scan enumerates every transport and keeps the candidates found in the
// device table. Enumeration is read-only. A transport failure fails the whole
// scan with a TransportError; it is not retried.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	start := time.Now()
	found := make([][]ports.RawDevice, len(s.transports))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range s.transports {
		g.Go(func() error {
			raw, err := t.Enumerate(gctx)
			if err != nil {
				return &domain.TransportError{Transport: t.Name(), Op: "enumerate", Err: err}
			}
			found[i] = raw
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if s.obs != nil {
			s.obs.IncCounter("sigrok_scan_errors_total", 1)
			s.obs.LogError("device_scan_failed", err)
		}
		return Result{}, err
	}

	var devs []domain.DeviceDescriptor
	for i, t := range s.transports {
		for _, raw := range found[i] {
			if d, ok := s.describe(t.Name(), raw); ok {
				devs = append(devs, d)
			}
		}
	}
	sort.SliceStable(devs, func(a, b int) bool { return devs[a].ID < devs[b].ID })

	res := Classify(devs)
	if s.obs != nil {
		s.obs.IncCounter("sigrok_scans_total", 1)
		s.obs.ObserveLatency("sigrok_scan_seconds", time.Since(start).Seconds())
		s.obs.SetGauge("sigrok_devices_found", float64(len(devs)))
		s.obs.LogInfo("device_scan_finished",
			ports.Field{Key: "result", Value: res.Kind.String()},
			ports.Field{Key: "devices", Value: len(devs)},
		)
	}
	return res, nil
}

func (s *Scanner) describe(transport string, raw ports.RawDevice) (domain.DeviceDescriptor, bool) {
	e, ok := s.table[raw.Identity]
	if !ok {
		return domain.DeviceDescriptor{}, false
	}
	channels := e.Channels
	if raw.Channels > 0 {
		channels = raw.Channels
	}
	name := e.Name
	if raw.Label != "" {
		name = raw.Label
	}
	return domain.DeviceDescriptor{
		ID:           e.Model + "@" + raw.Address,
		Model:        e.Model,
		Name:         name,
		Transport:    transport,
		Address:      raw.Address,
		SampleRates:  e.Rates.Expand(),
		ChannelCount: channels,
	}, true
}

// RawDevice rebuilds the transport handle a descriptor was created from.
func (s *Scanner) RawDevice(d domain.DeviceDescriptor) ports.RawDevice {
	for id, e := range s.table {
		if e.Model == d.Model {
			return ports.RawDevice{Identity: id, Address: d.Address, Label: d.Name, Channels: d.ChannelCount}
		}
	}
	return ports.RawDevice{Address: d.Address, Label: d.Name, Channels: d.ChannelCount}
}
