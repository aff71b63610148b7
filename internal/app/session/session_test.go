package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oxyum/sigrok/internal/adapters/fileformat"
	"github.com/oxyum/sigrok/internal/app/discovery"
	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

// pacedConn serves total records of value in chunks, then either ends the
// stream or blocks until canceled.
type pacedConn struct {
	mu     sync.Mutex
	left   int
	chunk  int
	unit   int
	block  bool
	closed bool
}

func (c *pacedConn) ReadChunk(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	n := min(c.left, c.chunk)
	c.left -= n
	c.mu.Unlock()
	if n > 0 {
		out := make([]byte, n*c.unit)
		for i := range out {
			out[i] = 0x05
		}
		return out, nil
	}
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, io.EOF
}

func (c *pacedConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type stubTransport struct {
	conn    *pacedConn
	openErr error
	opened  int
	lastReq ports.AcquisitionRequest
}

func (s *stubTransport) Name() string { return "stub" }

func (s *stubTransport) Enumerate(context.Context) ([]ports.RawDevice, error) { return nil, nil }

func (s *stubTransport) Open(_ context.Context, _ ports.RawDevice, req ports.AcquisitionRequest) (ports.Connection, error) {
	s.opened++
	s.lastReq = req
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.conn, nil
}

func testDevice(channels int) domain.DeviceDescriptor {
	return domain.DeviceDescriptor{
		ID:           "demo@stub",
		Model:        "demo",
		Name:         "stub device",
		Transport:    "stub",
		Address:      "stub",
		SampleRates:  []uint64{1000, 1_000_000},
		ChannelCount: channels,
	}
}

func newTestSession(tr *stubTransport) *Session {
	scanner := discovery.NewScanner([]ports.Transport{tr}, discovery.DefaultTable(), nil)
	return New(scanner, fileformat.New(nil), Options{Policy: ports.Policy{ChunkQueueLen: 4}})
}

func waitForLen(t *testing.T, h *CaptureHandle, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d samples, have %d", n, h.Len())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartAcquisitionRejectsBadConfigBeforeIO(t *testing.T) {
	tr := &stubTransport{conn: &pacedConn{unit: 1, chunk: 1}}
	s := newTestSession(tr)
	dev := testDevice(8)

	cases := []AcquisitionConfig{
		{SampleRate: 2000, ChannelCount: 3},
		{SampleRate: 1000, ChannelCount: 9},
		{SampleRate: 1000, ChannelCount: 0},
		{SampleRate: 1000, Probes: []domain.ProbeSpec{{Index: 8}}},
		{SampleRate: 1000, ChannelCount: 1, SampleLimit: -1},
	}
	for _, cfg := range cases {
		if _, err := s.StartAcquisition(context.Background(), dev, cfg); !errors.Is(err, domain.ErrInvalidConfig) {
			t.Fatalf("%+v: expected ErrInvalidConfig, got %v", cfg, err)
		}
	}
	if tr.opened != 0 {
		t.Fatalf("transport opened %d times for invalid configs", tr.opened)
	}
	if s.Snapshot().Buffer != nil {
		t.Fatalf("invalid config must not touch session state")
	}
}

func TestCanceledAcquisitionFreezesPrefix(t *testing.T) {
	conn := &pacedConn{left: 400, chunk: 100, unit: 1, block: true}
	s := newTestSession(&stubTransport{conn: conn})

	h, err := s.StartAcquisition(context.Background(), testDevice(3), AcquisitionConfig{SampleRate: 1_000_000, ChannelCount: 3, SampleLimit: 1000})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForLen(t, h, 400)
	h.Cancel()

	err = h.Wait(context.Background())
	var ai *domain.AcquisitionInterrupted
	if !errors.As(err, &ai) || ai.SamplesCaptured != 400 {
		t.Fatalf("expected AcquisitionInterrupted{400}, got %v", err)
	}
	buf := s.Snapshot().Buffer
	if !buf.Frozen() || buf.Len() != 400 || buf.ChannelCount() != 3 {
		t.Fatalf("unexpected buffer frozen=%v len=%d channels=%d", buf.Frozen(), buf.Len(), buf.ChannelCount())
	}
	if !conn.closed {
		t.Fatalf("connection should be closed after the capture")
	}
}

func TestStopAcquisitionIsNotAnError(t *testing.T) {
	conn := &pacedConn{left: 250, chunk: 50, unit: 1, block: true}
	s := newTestSession(&stubTransport{conn: conn})

	h, err := s.StartAcquisition(context.Background(), testDevice(8), AcquisitionConfig{SampleRate: 1000, ChannelCount: 8})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForLen(t, h, 250)
	if !s.Acquiring() {
		t.Fatalf("expected session to report a running capture")
	}
	if _, err := s.StartAcquisition(context.Background(), testDevice(8), AcquisitionConfig{SampleRate: 1000, ChannelCount: 8}); !errors.Is(err, domain.ErrAcquisitionActive) {
		t.Fatalf("expected ErrAcquisitionActive, got %v", err)
	}

	buf, err := s.StopAcquisition(context.Background())
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if buf.Len() != 250 || !buf.Frozen() {
		t.Fatalf("expected frozen 250 samples, got %d frozen=%v", buf.Len(), buf.Frozen())
	}
	if _, err := s.StopAcquisition(context.Background()); !errors.Is(err, domain.ErrNoAcquisition) {
		t.Fatalf("expected ErrNoAcquisition, got %v", err)
	}
}

func TestAcquisitionReplacesCaptureAndRequestsProbes(t *testing.T) {
	tr := &stubTransport{conn: &pacedConn{left: 10, chunk: 10, unit: 2}}
	s := newTestSession(tr)
	before := s.Snapshot().Generation

	probes := []domain.ProbeSpec{{Index: 0, Name: "clk"}, {Index: 10}}
	h, err := s.StartAcquisition(context.Background(), testDevice(16), AcquisitionConfig{SampleRate: 1000, Probes: probes})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}

	snap := s.Snapshot()
	if snap.Generation != before+1 || snap.Source.Device == nil || snap.Source.IsFile() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Channels[0].Name != "clk" || snap.Channels[1].Name != "Channel 1" {
		t.Fatalf("unexpected channels %+v", snap.Channels)
	}
	if len(tr.lastReq.Probes) != 2 || tr.lastReq.Probes[1] != 10 {
		t.Fatalf("transport got probes %v", tr.lastReq.Probes)
	}
	// native 0x05,0x05: probe 0 high, probe 10 high
	if snap.Buffer.Len() != 10 || snap.Buffer.Record(0)[0] != 0b11 {
		t.Fatalf("unexpected buffer len=%d first=%v", snap.Buffer.Len(), snap.Buffer.Record(0))
	}
}

func TestOpenFailureIsTransportError(t *testing.T) {
	s := newTestSession(&stubTransport{openErr: errors.New("no such device")})
	_, err := s.StartAcquisition(context.Background(), testDevice(8), AcquisitionConfig{SampleRate: 1000, ChannelCount: 8})
	var te *domain.TransportError
	if !errors.As(err, &te) || te.Op != "open" {
		t.Fatalf("expected open TransportError, got %v", err)
	}
	if s.Snapshot().Buffer != nil {
		t.Fatalf("failed open must not replace the capture")
	}
}

func writeVCD(t *testing.T, dir, name string, values ...uint64) string {
	t.Helper()
	b, _ := domain.NewBufferBuilder(2, 1000)
	for _, v := range values {
		_ = b.Append(domain.SampleFromUint64(v, 2))
	}
	path := filepath.Join(dir, name)
	if err := fileformat.New(nil).Write(context.Background(), path, domain.FormatAuto, b.Freeze(), []string{"a", "b"}, ports.CodecOptions{}); err != nil {
		t.Fatalf("write vcd: %v", err)
	}
	return path
}

func TestLoadFromFileIsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(&stubTransport{})

	good := writeVCD(t, dir, "good.vcd", 0, 1, 2, 3)
	if err := s.LoadFromFile(context.Background(), good, domain.FormatAuto, ports.CodecOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := s.Snapshot()
	if !before.Source.IsFile() || before.Buffer.Len() != 4 || before.Channels[1].Name != "b" {
		t.Fatalf("unexpected snapshot after load %+v", before)
	}

	bad := filepath.Join(dir, "bad.vcd")
	if err := os.WriteFile(bad, []byte("$timescale 1 us $end\n$enddefinitions $end\n#0\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	err := s.LoadFromFile(context.Background(), bad, domain.FormatAuto, ports.CodecOptions{})
	if !errors.Is(err, domain.ErrMalformedHeader) {
		t.Fatalf("expected ErrMalformedHeader, got %v", err)
	}
	after := s.Snapshot()
	if after.Generation != before.Generation || after.Buffer != before.Buffer || after.Source != before.Source {
		t.Fatalf("failed load changed the session")
	}
}

func TestLoadRefusedWhileAcquiring(t *testing.T) {
	s := newTestSession(&stubTransport{conn: &pacedConn{unit: 1, chunk: 1, block: true}})
	if _, err := s.StartAcquisition(context.Background(), testDevice(8), AcquisitionConfig{SampleRate: 1000, ChannelCount: 8}); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close(context.Background())

	if err := s.LoadFromFile(context.Background(), "whatever.vcd", domain.FormatAuto, ports.CodecOptions{}); !errors.Is(err, domain.ErrAcquisitionActive) {
		t.Fatalf("expected ErrAcquisitionActive, got %v", err)
	}
	if err := s.Save(context.Background(), filepath.Join(t.TempDir(), "x.vcd"), domain.FormatAuto, ports.CodecOptions{}); !errors.Is(err, domain.ErrNotFrozen) {
		t.Fatalf("expected ErrNotFrozen, got %v", err)
	}
}

func TestSaveWritesEnabledChannels(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(&stubTransport{})

	if err := s.Save(context.Background(), filepath.Join(dir, "none.vcd"), domain.FormatAuto, ports.CodecOptions{}); !errors.Is(err, domain.ErrNoCapture) {
		t.Fatalf("expected ErrNoCapture, got %v", err)
	}

	src := writeVCD(t, dir, "src.vcd", 0b01, 0b10, 0b11)
	if err := s.LoadFromFile(context.Background(), src, domain.FormatAuto, ports.CodecOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	gen := s.Snapshot().Generation
	if err := s.SetChannelEnabled(0, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := s.RenameChannel(1, "data"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if s.Snapshot().Generation != gen {
		t.Fatalf("channel edits must not change the generation")
	}
	if err := s.RenameChannel(7, "nope"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for bad index, got %v", err)
	}

	out := filepath.Join(dir, "out.dat")
	if err := s.Save(context.Background(), out, domain.FormatAuto, ports.CodecOptions{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := fileformat.New(nil).Read(context.Background(), out, domain.FormatAuto, ports.CodecOptions{})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Buffer.ChannelCount() != 1 || got.Names[0] != "data" {
		t.Fatalf("expected only channel \"data\", got %d channels %v", got.Buffer.ChannelCount(), got.Names)
	}
	for i, want := range []bool{false, true, true} {
		if got.Buffer.Bit(i, 0) != want {
			t.Fatalf("sample %d: expected %v", i, want)
		}
	}

	_ = s.SetChannelEnabled(1, false)
	if err := s.Save(context.Background(), out, domain.FormatAuto, ports.CodecOptions{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig with no channel enabled, got %v", err)
	}
}

type recordingExporter struct {
	info ports.CaptureInfo
	n    int
}

func (r *recordingExporter) Export(_ context.Context, info ports.CaptureInfo, buf *domain.SampleBuffer) error {
	r.info, r.n = info, buf.Len()
	return nil
}

func (r *recordingExporter) Name() string { return "recording" }

func TestExportHandsOverFrozenCapture(t *testing.T) {
	dir := t.TempDir()
	s := newTestSession(&stubTransport{})
	if err := s.LoadFromFile(context.Background(), writeVCD(t, dir, "x.vcd", 1, 2), domain.FormatAuto, ports.CodecOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	exp := &recordingExporter{}
	if err := s.Export(context.Background(), exp); err != nil {
		t.Fatalf("export: %v", err)
	}
	if exp.n != 2 || exp.info.ID != s.Snapshot().CaptureID || len(exp.info.Channels) != 2 {
		t.Fatalf("unexpected export %+v n=%d", exp.info, exp.n)
	}
}
