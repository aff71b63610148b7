package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

type stubTransport struct {
	name  string
	devs  []ports.RawDevice
	err   error
	calls int
}

func (s *stubTransport) Name() string { return s.name }

func (s *stubTransport) Enumerate(ctx context.Context) ([]ports.RawDevice, error) {
	s.calls++
	return s.devs, s.err
}

func (s *stubTransport) Open(ctx context.Context, dev ports.RawDevice, req ports.AcquisitionRequest) (ports.Connection, error) {
	return nil, errors.New("not implemented")
}

func TestScanClassifiesNone(t *testing.T) {
	usb := &stubTransport{name: "usb", devs: []ports.RawDevice{{Identity: "usb:dead:beef", Address: "1-1"}}}
	res, err := NewScanner([]ports.Transport{usb}, DefaultTable(), nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Kind != NoneFound || len(res.Devices) != 0 {
		t.Fatalf("expected NoneFound, got %v with %d devices", res.Kind, len(res.Devices))
	}
}

func TestScanClassifiesSingle(t *testing.T) {
	usb := &stubTransport{name: "usb", devs: []ports.RawDevice{
		{Identity: IdentityZeroplus, Address: "3-2"},
		{Identity: "usb:1d6b:0002", Address: "1-0"},
	}}
	res, err := NewScanner([]ports.Transport{usb}, DefaultTable(), nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	d, ok := res.Single()
	if !ok {
		t.Fatalf("expected SingleFound, got %v", res.Kind)
	}
	if d.ID != "zeroplus-lap-c@3-2" || d.ChannelCount != 16 || d.Transport != "usb" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if !d.SupportsRate(1_000_000) || d.MaxRate() != 100_000_000 || d.SampleRates[0] != 100 {
		t.Fatalf("unexpected rate set %v", d.SampleRates)
	}
}

func TestScanReportsEveryMatchWhenMultiple(t *testing.T) {
	usb := &stubTransport{name: "usb", devs: []ports.RawDevice{
		{Identity: IdentityZeroplus, Address: "3-2"},
		{Identity: IdentityZeroplus, Address: "3-4"},
	}}
	serial := &stubTransport{name: "serial", devs: []ports.RawDevice{
		{Identity: IdentityOLS, Address: "/dev/ttyACM0"},
	}}
	res, err := NewScanner([]ports.Transport{usb, serial}, DefaultTable(), nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Kind != MultipleFound || len(res.Devices) != 3 {
		t.Fatalf("expected MultipleFound with 3 devices, got %v with %d", res.Kind, len(res.Devices))
	}
	if _, ok := res.Single(); ok {
		t.Fatalf("multiple result must not auto-select a device")
	}
}

func TestScanTransportFailure(t *testing.T) {
	boom := errors.New("libusb: access denied")
	usb := &stubTransport{name: "usb", err: boom}
	serial := &stubTransport{name: "serial", devs: []ports.RawDevice{{Identity: IdentityOLS, Address: "/dev/ttyACM0"}}}

	_, err := NewScanner([]ports.Transport{usb, serial}, DefaultTable(), nil).Scan(context.Background())
	var te *domain.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Transport != "usb" || !errors.Is(err, boom) {
		t.Fatalf("unexpected transport error %v", te)
	}
	if usb.calls != 1 {
		t.Fatalf("scan must not retry, got %d calls", usb.calls)
	}
}

func TestScansAreIndependent(t *testing.T) {
	usb := &stubTransport{name: "usb", devs: []ports.RawDevice{{Identity: IdentityZeroplus, Address: "3-2"}}}
	s := NewScanner([]ports.Transport{usb}, DefaultTable(), nil)

	first, _ := s.Scan(context.Background())
	usb.devs = nil
	second, _ := s.Scan(context.Background())

	if first.Kind != SingleFound || second.Kind != NoneFound {
		t.Fatalf("expected single then none, got %v then %v", first.Kind, second.Kind)
	}
	if len(first.Devices) != 1 {
		t.Fatalf("earlier result changed after rescan")
	}
}

func TestTransportChannelOverride(t *testing.T) {
	opc := &stubTransport{name: "opcua", devs: []ports.RawDevice{{Identity: IdentityOPCUA, Address: "opc.tcp://plc:4840", Channels: 5}}}
	s := NewScanner([]ports.Transport{opc}, DefaultTable(), nil)
	res, _ := s.Scan(context.Background())
	d, ok := res.Single()
	if !ok || d.ChannelCount != 5 {
		t.Fatalf("expected 5 channels from transport, got %+v", res)
	}
	if raw := s.RawDevice(d); raw.Identity != IdentityOPCUA || raw.Address != d.Address {
		t.Fatalf("raw device not rebuilt: %+v", raw)
	}
	if _, err := s.Transport("bluetooth"); !errors.Is(err, domain.ErrUnknownTransport) {
		t.Fatalf("expected ErrUnknownTransport, got %v", err)
	}
}
