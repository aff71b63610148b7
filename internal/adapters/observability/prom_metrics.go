package observability

import (
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oxyum/sigrok/internal/ports"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the capture metrics on reg. A nil logger discards
// log output.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &PromObs{
		log:      logger,
		counters: map[string]prometheus.Counter{},
		gauges:   map[string]prometheus.Gauge{},
		histos:   map[string]prometheus.Observer{},
	}

	counter := func(name, help string) {
		p.counters[name] = prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) {
		p.gauges[name] = prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}
	histo := func(name, help string, buckets []float64) {
		p.histos[name] = prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
	}

	counter("sigrok_samples_captured_total", "Samples appended to live capture buffers.")
	counter("sigrok_acquisitions_started_total", "Acquisitions started.")
	counter("sigrok_acquisitions_completed_total", "Acquisitions that reached their limit or end of stream.")
	counter("sigrok_acquisitions_interrupted_total", "Acquisitions ended by cancel or transport failure.")
	counter("sigrok_scans_total", "Completed device scans.")
	counter("sigrok_scan_errors_total", "Transport enumeration failures.")
	counter("sigrok_codec_reads_total", "Capture files decoded.")
	counter("sigrok_codec_writes_total", "Capture files encoded.")
	counter("sigrok_codec_errors_total", "Capture file reads or writes that failed.")
	counter("sigrok_spool_recoveries_total", "Captures rebuilt from a spool.")

	gauge("sigrok_acquisition_samples", "Samples held by the running acquisition.")
	gauge("sigrok_spool_size_bytes", "Size of the active capture spool on disk.")
	gauge("sigrok_devices_found", "Devices found by the last scan.")
	gauge("sigrok_session_generation", "Generation of the current session snapshot.")

	histo("sigrok_acquisition_seconds", "Wall time of one acquisition.", prometheus.ExponentialBuckets(0.01, 2, 14))
	histo("sigrok_scan_seconds", "Wall time of one device scan.", prometheus.ExponentialBuckets(0.001, 2, 12))
	histo("sigrok_codec_read_seconds", "Time spent decoding one capture file.", prometheus.ExponentialBuckets(0.001, 2, 14))
	histo("sigrok_codec_write_seconds", "Time spent encoding one capture file.", prometheus.ExponentialBuckets(0.001, 2, 14))
	histo("sigrok_export_seconds", "Time spent exporting one capture.", prometheus.ExponentialBuckets(0.001, 2, 14))

	for _, c := range p.counters {
		reg.MustRegister(c)
	}
	for _, g := range p.gauges {
		reg.MustRegister(g)
	}
	for _, h := range p.histos {
		reg.MustRegister(h.(prometheus.Collector))
	}
	return p
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", err)...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(attrs(fields), "err", err, "critical", true)...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

var _ ports.Observability = (*PromObs)(nil)

// LogObs only logs; metric calls are dropped.
type LogObs struct {
	log *slog.Logger
}

func NewLogObs(logger *slog.Logger) *LogObs {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogObs{log: logger}
}

func (l *LogObs) LogInfo(msg string, fields ...ports.Field) { l.log.Info(msg, attrs(fields)...) }

func (l *LogObs) LogError(msg string, err error, fields ...ports.Field) {
	l.log.Error(msg, append(attrs(fields), "err", err)...)
}

func (l *LogObs) LogCritical(msg string, err error, fields ...ports.Field) {
	l.log.Error(msg, append(attrs(fields), "err", err, "critical", true)...)
}

func (l *LogObs) IncCounter(string, float64)     {}
func (l *LogObs) ObserveLatency(string, float64) {}
func (l *LogObs) SetGauge(string, float64)       {}

var _ ports.Observability = (*LogObs)(nil)

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, 2*len(fields)+3)
	for _, f := range fields {
		out = append(out, f.Key, f.Value)
	}
	return out
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
