package sigrok

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oxyum/sigrok/internal/adapters/demo"
	"github.com/oxyum/sigrok/internal/adapters/fileformat"
	"github.com/oxyum/sigrok/internal/adapters/observability"
	"github.com/oxyum/sigrok/internal/adapters/opcua"
	"github.com/oxyum/sigrok/internal/adapters/sink"
	"github.com/oxyum/sigrok/internal/adapters/spool"
	"github.com/oxyum/sigrok/internal/app/discovery"
	"github.com/oxyum/sigrok/internal/app/session"
	"github.com/oxyum/sigrok/internal/app/viewport"
	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

var logOutput io.Writer = os.Stderr

// Option customizes the dependencies used by a Workbench.
type Option func(*overrides)

type overrides struct {
	transports       []ports.Transport
	observability    ports.Observability
	noDefaultDevices bool
}

// WithTransport registers an extra transport, for hardware or simulators the
// built-in adapters do not cover.
func WithTransport(t Transport) Option {
	return func(o *overrides) {
		if t != nil {
			o.transports = append(o.transports, t)
		}
	}
}

// WithObservability replaces the default Prometheus and slog backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) {
		o.observability = obs
	}
}

// WithoutDefaultTransports skips the demo and OPC UA transports even when
// they are configured.
func WithoutDefaultTransports() Option {
	return func(o *overrides) {
		o.noDefaultDevices = true
	}
}

// Workbench owns one capture session together with the device scanner, the
// file codecs and the visible window over the current capture.
type Workbench struct {
	cfg      *Config
	obs      ports.Observability
	registry *prometheus.Registry

	scanner *discovery.Scanner
	codec   *fileformat.FileCodec
	session *session.Session

	mu         sync.Mutex
	view       viewport.State
	viewGen    uint64
	viewLen    int
	viewSet    bool
	db         *sql.DB
	metricsSrv *http.Server
}

// Conf loads YAML from disk and builds a Workbench from it.
func Conf(path string, opts ...Option) (*Workbench, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// New wires the configured transports, the file codecs and a session.
func New(cfg *Config, opts ...Option) (*Workbench, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	w := &Workbench{cfg: cfg, obs: o.observability}
	if w.obs == nil {
		w.registry = prometheus.NewRegistry()
		logger := observability.NewLogger(logOutput, cfg.Log.Level, cfg.Log.Format)
		w.obs = observability.NewPromObs(w.registry, logger)
	}

	var transports []ports.Transport
	if !o.noDefaultDevices {
		if cfg.Demo.Enabled {
			transports = append(transports, demo.New(cfg.Demo.Config))
		}
		if cfg.OPCUA != nil {
			t, err := opcua.NewTransport(*cfg.OPCUA, w.obs)
			if err != nil {
				return nil, fmt.Errorf("opcua transport: %w", err)
			}
			transports = append(transports, t)
		}
	}
	transports = append(transports, o.transports...)
	if len(transports) == 0 {
		return nil, fmt.Errorf("no transport enabled: set demo.enabled or opcua, or pass WithTransport")
	}

	w.scanner = discovery.NewScanner(transports, cfg.Table(), w.obs)
	w.codec = fileformat.New(w.obs)

	sopts := session.Options{Policy: cfg.Policy(), Obs: w.obs}
	if dir := cfg.Acquisition.SpoolDir; dir != "" {
		sopts.NewSpool = func(meta ports.SpoolMeta) (ports.Spool, error) {
			return spool.Create(filepath.Join(dir, meta.CaptureID))
		}
	}
	w.session = session.New(w.scanner, w.codec, sopts)
	return w, nil
}

// Config returns the configuration the workbench was built with.
func (w *Workbench) Config() *Config { return w.cfg }

// Scan enumerates every transport and classifies what was found.
func (w *Workbench) Scan(ctx context.Context) (ScanResult, error) {
	return w.scanner.Scan(ctx)
}

// AcquisitionOption refines a capture request.
type AcquisitionOption func(*session.AcquisitionConfig)

// WithSampleLimit stops the capture after n samples; reaching it is a normal
// completion.
func WithSampleLimit(n int) AcquisitionOption {
	return func(c *session.AcquisitionConfig) { c.SampleLimit = n }
}

// WithProbes captures an explicit probe selection instead of the first
// channelCount probes.
func WithProbes(probes []ProbeSpec) AcquisitionOption {
	return func(c *session.AcquisitionConfig) { c.Probes = probes }
}

// StartAcquisition starts capturing from dev. A rate of zero uses the
// configured default rate.
func (w *Workbench) StartAcquisition(ctx context.Context, dev DeviceDescriptor, rate uint64, channelCount int, opts ...AcquisitionOption) (*CaptureHandle, error) {
	if rate == 0 {
		rate = w.cfg.Acquisition.Rate()
	}
	ac := session.AcquisitionConfig{SampleRate: rate, ChannelCount: channelCount}
	for _, opt := range opts {
		if opt != nil {
			opt(&ac)
		}
	}
	return w.session.StartAcquisition(ctx, dev, ac)
}

// StopAcquisition cancels the running capture and returns its frozen buffer.
func (w *Workbench) StopAcquisition(ctx context.Context) (*SampleBuffer, error) {
	return w.session.StopAcquisition(ctx)
}

// Acquiring reports whether a capture is running.
func (w *Workbench) Acquiring() bool { return w.session.Acquiring() }

// CodecOption refines a file read or write.
type CodecOption func(*ports.CodecOptions)

// WithRawLayout supplies what the raw format cannot store: the channel count,
// the sample rate and optionally the expected length.
func WithRawLayout(l RawLayout) CodecOption {
	return func(o *ports.CodecOptions) { o.Raw = l }
}

// WithProgress is called with the number of records processed so far.
func WithProgress(fn func(records int)) CodecOption {
	return func(o *ports.CodecOptions) { o.Progress = fn }
}

func codecOptions(opts []CodecOption) ports.CodecOptions {
	var co ports.CodecOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&co)
		}
	}
	return co
}

// Open replaces the current capture with the contents of path. Nothing is
// replaced when decoding fails.
func (w *Workbench) Open(ctx context.Context, path string, hint Format, opts ...CodecOption) error {
	return w.session.LoadFromFile(ctx, path, hint, codecOptions(opts))
}

// Save writes the enabled channels of the frozen capture to path.
func (w *Workbench) Save(ctx context.Context, path string, format Format, opts ...CodecOption) error {
	return w.session.Save(ctx, path, format, codecOptions(opts))
}

// Buffer is the current capture; it grows while an acquisition runs.
func (w *Workbench) Buffer() *SampleBuffer {
	return w.session.Snapshot().Buffer
}

// CaptureID identifies the current capture, empty when none is loaded.
func (w *Workbench) CaptureID() string {
	return w.session.Snapshot().CaptureID
}

// Source names where the current capture came from.
func (w *Workbench) Source() string {
	return w.session.Snapshot().Source.String()
}

func (w *Workbench) Channels() []Channel {
	return w.session.Snapshot().Channels
}

func (w *Workbench) RenameChannel(index int, name string) error {
	return w.session.RenameChannel(index, name)
}

func (w *Workbench) SetChannelEnabled(index int, enabled bool) error {
	return w.session.SetChannelEnabled(index, enabled)
}

func (w *Workbench) width() int { return w.cfg.Viewport.WidthPx }

// SetView normalizes and stores the visible window. A zoom of zero or less
// derives the zoom from the window, as after a drag.
func (w *Workbench) SetView(start, end int, zoom float64) ViewState {
	snap := w.session.Snapshot()
	total := snap.Buffer.Len()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.view = viewport.ComputeView(total, start, end, zoom, w.width())
	w.viewGen, w.viewLen, w.viewSet = snap.Generation, total, true
	return w.view
}

// View returns the visible window. A window set over an earlier capture is
// reset to the whole new capture; one over a growing capture is re-clipped.
func (w *Workbench) View() ViewState {
	snap := w.session.Snapshot()
	total := snap.Buffer.Len()

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.viewSet || w.viewGen != snap.Generation:
		w.view = viewport.ComputeView(total, 0, total-1, 0, w.width())
	case w.viewLen != total:
		w.view = viewport.Clip(w.view, total, w.width())
	default:
		return w.view
	}
	w.viewGen, w.viewLen, w.viewSet = snap.Generation, total, true
	return w.view
}

// ZoomView scales the visible span by ratio around its midpoint.
func (w *Workbench) ZoomView(ratio float64) ViewState {
	cur := w.View()
	total := w.session.Snapshot().Buffer.Len()
	next := viewport.Zoom(cur, total, ratio, w.width())
	return w.SetView(next.Start, next.End, 0)
}

// PanView moves the visible window by delta samples.
func (w *Workbench) PanView(delta int) ViewState {
	cur := w.View()
	total := w.session.Snapshot().Buffer.Len()
	next := viewport.Pan(cur, total, delta, w.width())
	return w.SetView(next.Start, next.End, 0)
}

// Export hands the frozen capture to exp.
func (w *Workbench) Export(ctx context.Context, exp Exporter) error {
	return w.session.Export(ctx, exp)
}

// ExportToTimescale writes the value changes of the frozen capture to the
// configured postgres table, creating it when missing.
func (w *Workbench) ExportToTimescale(ctx context.Context) error {
	if w.cfg.Timescale.ConnString == "" {
		return &InvalidConfigError{Field: "timescale.conn_string", Reason: "is required for export"}
	}
	w.mu.Lock()
	if w.db == nil {
		db, err := sql.Open("postgres", w.cfg.Timescale.ConnString)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.db = db
	}
	db := w.db
	w.mu.Unlock()

	exp := sink.NewTimescaleExporter(db, w.cfg.Timescale.Table, w.cfg.Timescale.BatchSize)
	if err := exp.EnsureTable(ctx); err != nil {
		return fmt.Errorf("prepare %s: %w", w.cfg.Timescale.Table, err)
	}
	return w.session.Export(ctx, exp)
}

// Spools lists the captures kept under the configured spool directory.
func (w *Workbench) Spools() ([]SpoolEntry, error) {
	if w.cfg.Acquisition.SpoolDir == "" {
		return nil, nil
	}
	return spool.List(w.cfg.Acquisition.SpoolDir)
}

// RecoverSpool rebuilds a capture from the spool in dir. An empty dir picks
// the most recent capture under the configured spool directory.
func (w *Workbench) RecoverSpool(ctx context.Context, dir string) error {
	if dir == "" {
		entries, err := w.Spools()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: no spooled capture found", domain.ErrNoCapture)
		}
		dir = entries[len(entries)-1].Dir
	}
	sp, err := spool.Open(dir)
	if err != nil {
		return fmt.Errorf("open spool %s: %w", dir, err)
	}
	defer sp.Close()
	return w.session.Recover(ctx, sp)
}

// MetricsHandler serves /metrics and /healthz.
func (w *Workbench) MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	if w.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(w.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	return mux
}

// ServeMetrics starts the metrics server in the background. An empty addr
// uses metrics.addr from the configuration.
func (w *Workbench) ServeMetrics(addr string) error {
	if addr == "" {
		addr = w.cfg.Metrics.Addr
	}
	if addr == "" {
		return &InvalidConfigError{Field: "metrics.addr", Reason: "is required"}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metricsSrv != nil {
		return fmt.Errorf("metrics server already running on %s", w.metricsSrv.Addr)
	}
	w.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           w.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := w.metricsSrv
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.obs.LogError("metrics_server_exited", err, ports.Field{Key: "addr", Value: addr})
		}
	}()
	return nil
}

// Close stops a running capture, the metrics server and the database pool.
func (w *Workbench) Close(ctx context.Context) error {
	var errs []error
	if err := w.session.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	w.mu.Lock()
	srv, db := w.metricsSrv, w.db
	w.metricsSrv, w.db = nil, nil
	w.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if db != nil {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
