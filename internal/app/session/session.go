package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oxyum/sigrok/internal/app/discovery"
	"github.com/oxyum/sigrok/internal/app/pipeline"
	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

// Source is where the current capture came from: a device, or a file when
// Device is nil.
type Source struct {
	Device *domain.DeviceDescriptor
	Path   string
}

func (s Source) IsFile() bool { return s.Device == nil && s.Path != "" }

func (s Source) String() string {
	switch {
	case s.Device != nil:
		return s.Device.ID
	case s.Path != "":
		return "file:" + s.Path
	default:
		return "none"
	}
}

// Snapshot is an immutable view of the session. Generation changes whenever
// the buffer is replaced; channel edits keep it.
type Snapshot struct {
	Generation uint64
	CaptureID  string
	Source     Source
	Channels   []domain.Channel
	Buffer     *domain.SampleBuffer
}

// AcquisitionConfig selects the rate and probes of a capture. When Probes is
// empty the first ChannelCount probes are used.
type AcquisitionConfig struct {
	SampleRate   uint64
	ChannelCount int
	Probes       []domain.ProbeSpec
	SampleLimit  int
}

type Options struct {
	Policy ports.Policy
	Obs    ports.Observability
	// NewSpool, when set, opens a spool for every acquisition.
	NewSpool func(meta ports.SpoolMeta) (ports.Spool, error)
}

// Session binds one source to one buffer and its channel set. Writers are
// serialized; readers load the current snapshot without locking.
type Session struct {
	mu     sync.Mutex
	state  atomic.Pointer[Snapshot]
	active *CaptureHandle

	scanner *discovery.Scanner
	codec   ports.Codec
	opts    Options
}

func New(scanner *discovery.Scanner, codec ports.Codec, opts Options) *Session {
	s := &Session{scanner: scanner, codec: codec, opts: opts}
	s.state.Store(&Snapshot{})
	return s
}

// Snapshot returns the current state. The channel slice is a copy.
func (s *Session) Snapshot() Snapshot {
	snap := *s.state.Load()
	snap.Channels = slices.Clone(snap.Channels)
	return snap
}

func (s *Session) Acquiring() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.running()
}

// replaceLocked publishes a new buffer and channel set in one step.
func (s *Session) replaceLocked(src Source, id string, chs []domain.Channel, buf *domain.SampleBuffer) {
	old := s.state.Load()
	next := &Snapshot{
		Generation: old.Generation + 1,
		CaptureID:  id,
		Source:     src,
		Channels:   chs,
		Buffer:     buf,
	}
	s.state.Store(next)
	if s.opts.Obs != nil {
		s.opts.Obs.SetGauge("sigrok_session_generation", float64(next.Generation))
		s.opts.Obs.LogInfo("capture_replaced",
			ports.Field{Key: "capture_id", Value: id},
			ports.Field{Key: "source", Value: src.String()},
			ports.Field{Key: "channels", Value: len(chs)},
		)
	}
}

func validate(dev domain.DeviceDescriptor, cfg AcquisitionConfig) ([]domain.ProbeSpec, error) {
	if !dev.SupportsRate(cfg.SampleRate) {
		return nil, &domain.InvalidConfigError{
			Field:  "sample rate",
			Reason: fmt.Sprintf("%s is not supported by %s", domain.FormatSampleRate(cfg.SampleRate), dev.ID),
		}
	}
	if cfg.SampleLimit < 0 {
		return nil, &domain.InvalidConfigError{Field: "sample limit", Reason: "must not be negative"}
	}
	if len(cfg.Probes) == 0 {
		if cfg.ChannelCount < 1 || cfg.ChannelCount > dev.ChannelCount {
			return nil, &domain.InvalidConfigError{
				Field:  "channel count",
				Reason: fmt.Sprintf("%d outside 1-%d for %s", cfg.ChannelCount, dev.ChannelCount, dev.ID),
			}
		}
		return domain.FirstProbes(cfg.ChannelCount), nil
	}
	for _, p := range cfg.Probes {
		if p.Index < 0 || p.Index >= dev.ChannelCount {
			return nil, &domain.InvalidConfigError{
				Field:  "probes",
				Reason: fmt.Sprintf("probe %d outside 1-%d for %s", p.Index+1, dev.ChannelCount, dev.ID),
			}
		}
	}
	return cfg.Probes, nil
}

// StartAcquisition validates cfg against dev before any I/O, opens the
// device and starts a worker that fills a new buffer. The previous capture is
// replaced as soon as the device is open.
func (s *Session) StartAcquisition(ctx context.Context, dev domain.DeviceDescriptor, cfg AcquisitionConfig) (*CaptureHandle, error) {
	probes, err := validate(dev, cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.running() {
		return nil, domain.ErrAcquisitionActive
	}

	transport, err := s.scanner.Transport(dev.Transport)
	if err != nil {
		return nil, err
	}
	req := ports.AcquisitionRequest{SampleRate: cfg.SampleRate, SampleLimit: cfg.SampleLimit}
	names := make([]string, len(probes))
	for i, p := range probes {
		req.Probes = append(req.Probes, p.Index)
		names[i] = p.Name
	}

	conn, err := transport.Open(ctx, s.scanner.RawDevice(dev), req)
	if err != nil {
		return nil, &domain.TransportError{Transport: dev.Transport, Op: "open", Err: err}
	}

	builder, err := domain.NewBufferBuilder(len(probes), cfg.SampleRate)
	if err != nil {
		conn.Close()
		return nil, err
	}

	id := uuid.NewString()
	var spool ports.Spool
	if s.opts.NewSpool != nil {
		meta := ports.SpoolMeta{
			CaptureID:      id,
			DeviceID:       dev.ID,
			SampleRate:     cfg.SampleRate,
			NativeChannels: dev.ChannelCount,
			Probes:         req.Probes,
			Names:          names,
			StartedAt:      time.Now().UTC(),
		}
		if spool, err = s.opts.NewSpool(meta); err == nil {
			err = spool.Begin(meta)
		}
		if err != nil {
			conn.Close()
			if spool != nil {
				spool.Close()
			}
			return nil, fmt.Errorf("open spool: %w", err)
		}
	}

	devCopy := dev
	s.replaceLocked(Source{Device: &devCopy}, id, domain.NewChannels(len(probes), names), builder.View())

	// the capture outlives the caller's ctx; only Cancel or Stop end it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(id, dev, builder.View(), cancel)
	s.active = h

	acq := pipeline.Acquisition{
		Device:    dev.ID,
		Transport: dev.Transport,
		Conn:      conn,
		Builder:   builder,
		Compactor: domain.NewCompactor(dev.ChannelCount, probes),
		Limit:     cfg.SampleLimit,
		Spool:     spool,
		Policy:    s.opts.Policy,
		Obs:       s.opts.Obs,
	}
	if s.opts.Obs != nil {
		s.opts.Obs.IncCounter("sigrok_acquisitions_started_total", 1)
		s.opts.Obs.LogInfo("acquisition_started",
			ports.Field{Key: "capture_id", Value: id},
			ports.Field{Key: "device", Value: dev.ID},
			ports.Field{Key: "rate", Value: domain.FormatSampleRate(cfg.SampleRate)},
			ports.Field{Key: "channels", Value: len(probes)},
		)
	}

	go func() {
		err := pipeline.RunAcquisition(runCtx, acq)
		if cerr := conn.Close(); cerr != nil && s.opts.Obs != nil {
			s.opts.Obs.LogError("connection_close_failed", cerr, ports.Field{Key: "device", Value: dev.ID})
		}
		if spool != nil {
			spool.Close()
		}
		cancel()
		h.finish(err)
	}()
	return h, nil
}

// StopAcquisition cancels the running capture and waits for its buffer to be
// frozen. A stop requested here is not an error; a capture that had already
// failed reports its own error.
func (s *Session) StopAcquisition(ctx context.Context) (*domain.SampleBuffer, error) {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil || !h.running() {
		return nil, domain.ErrNoAcquisition
	}

	h.Cancel()
	err := h.Wait(ctx)
	var ai *domain.AcquisitionInterrupted
	if errors.As(err, &ai) && errors.Is(ai.Cause, context.Canceled) {
		err = nil
	}
	return h.Buffer(), err
}

// LoadFromFile decodes path and replaces the capture only if decoding
// succeeded completely. Loading is refused while a capture is running.
func (s *Session) LoadFromFile(ctx context.Context, path string, hint domain.Format, opts ports.CodecOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.running() {
		return domain.ErrAcquisitionActive
	}

	decoded, err := s.codec.Read(ctx, path, hint, opts)
	if err != nil {
		return err
	}
	n := decoded.Buffer.ChannelCount()
	s.replaceLocked(Source{Path: path}, uuid.NewString(), domain.NewChannels(n, decoded.Names), decoded.Buffer)
	return nil
}

// Recover replaces the capture with one rebuilt from a spool.
func (s *Session) Recover(ctx context.Context, r ports.SpoolReader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.running() {
		return domain.ErrAcquisitionActive
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	decoded, err := pipeline.Rebuild(r, s.opts.Obs)
	if err != nil {
		return err
	}
	meta := r.Meta()
	n := decoded.Buffer.ChannelCount()
	s.replaceLocked(Source{Path: "spool:" + meta.CaptureID}, meta.CaptureID, domain.NewChannels(n, decoded.Names), decoded.Buffer)
	return nil
}

// frozenSnapshot returns the current capture, refusing one still being built.
func (s *Session) frozenSnapshot() (*Snapshot, error) {
	snap := s.state.Load()
	if snap.Buffer == nil {
		return nil, domain.ErrNoCapture
	}
	if !snap.Buffer.Frozen() {
		return nil, domain.ErrNotFrozen
	}
	return snap, nil
}

// Save writes the enabled channels of the frozen capture.
func (s *Session) Save(ctx context.Context, path string, hint domain.Format, opts ports.CodecOptions) error {
	snap, err := s.frozenSnapshot()
	if err != nil {
		return err
	}
	buf, names, err := enabledView(snap)
	if err != nil {
		return err
	}
	return s.codec.Write(ctx, path, hint, buf, names, opts)
}

// Export hands the frozen capture to an exporter.
func (s *Session) Export(ctx context.Context, exp ports.Exporter) error {
	snap, err := s.frozenSnapshot()
	if err != nil {
		return err
	}
	info := ports.CaptureInfo{ID: snap.CaptureID, Source: snap.Source.String(), Channels: slices.Clone(snap.Channels)}
	start := time.Now()
	if err := exp.Export(ctx, info, snap.Buffer); err != nil {
		if s.opts.Obs != nil {
			s.opts.Obs.LogError("export_failed", err, ports.Field{Key: "exporter", Value: exp.Name()})
		}
		return err
	}
	if s.opts.Obs != nil {
		s.opts.Obs.ObserveLatency("sigrok_export_seconds", time.Since(start).Seconds())
		s.opts.Obs.LogInfo("capture_exported",
			ports.Field{Key: "exporter", Value: exp.Name()},
			ports.Field{Key: "capture_id", Value: snap.CaptureID},
		)
	}
	return nil
}

// enabledView drops disabled channels. When every channel is enabled the
// buffer is used as is.
func enabledView(snap *Snapshot) (*domain.SampleBuffer, []string, error) {
	var (
		keep  []domain.ProbeSpec
		names []string
	)
	for _, ch := range snap.Channels {
		if ch.Enabled {
			keep = append(keep, domain.ProbeSpec{Index: ch.Index})
			names = append(names, ch.Name)
		}
	}
	if len(keep) == 0 {
		return nil, nil, &domain.InvalidConfigError{Field: "channels", Reason: "no channel is enabled"}
	}
	buf := snap.Buffer
	if len(keep) == buf.ChannelCount() {
		return buf, names, nil
	}

	c := domain.NewCompactor(buf.ChannelCount(), keep)
	b, err := domain.NewBufferBuilder(len(keep), buf.SampleRate())
	if err != nil {
		return nil, nil, err
	}
	out := make([]byte, c.OutUnitSize())
	for _, rec := range buf.Records() {
		c.Compact(out, rec)
		if _, err := b.AppendPacked(out); err != nil {
			return nil, nil, err
		}
	}
	return b.Freeze(), names, nil
}

func (s *Session) editChannel(index int, edit func(*domain.Channel)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.state.Load()
	if index < 0 || index >= len(old.Channels) {
		return &domain.InvalidConfigError{Field: "channel", Reason: fmt.Sprintf("index %d outside 0-%d", index, len(old.Channels)-1)}
	}
	next := *old
	next.Channels = slices.Clone(old.Channels)
	edit(&next.Channels[index])
	s.state.Store(&next)
	return nil
}

// RenameChannel sets a display name; an empty name restores the default.
func (s *Session) RenameChannel(index int, name string) error {
	return s.editChannel(index, func(ch *domain.Channel) {
		if name == "" {
			name = domain.DefaultChannelName(ch.Index)
		}
		ch.Name = name
	})
}

func (s *Session) SetChannelEnabled(index int, enabled bool) error {
	return s.editChannel(index, func(ch *domain.Channel) { ch.Enabled = enabled })
}

// Close stops a running capture and waits for it to finish.
func (s *Session) Close(ctx context.Context) error {
	_, err := s.StopAcquisition(ctx)
	if errors.Is(err, domain.ErrNoAcquisition) {
		return nil
	}
	return err
}
