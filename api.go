package sigrok

import (
	"context"

	base "github.com/oxyum/sigrok/pkg/sigrok"
)

// Re-exported errors for convenience.
var (
	ErrInvalidConfig         = base.ErrInvalidConfig
	ErrMalformedHeader       = base.ErrMalformedHeader
	ErrBufferFrozen          = base.ErrBufferFrozen
	ErrAcquisitionActive     = base.ErrAcquisitionActive
	ErrNoAcquisition         = base.ErrNoAcquisition
	ErrNoCapture             = base.ErrNoCapture
	ErrNotFrozen             = base.ErrNotFrozen
	ErrUnknownFormat         = base.ErrUnknownFormat
	ErrUnknownTransport      = base.ErrUnknownTransport
	ErrChannelExporterClosed = base.ErrChannelExporterClosed
	ErrNoDevice              = base.ErrNoDevice
	ErrAmbiguousDevice       = base.ErrAmbiguousDevice
)

// Type aliases so consumers can import github.com/oxyum/sigrok directly.
type (
	Config                 = base.Config
	Workbench              = base.Workbench
	Option                 = base.Option
	AcquisitionOption      = base.AcquisitionOption
	CodecOption            = base.CodecOption
	DeviceDescriptor       = base.DeviceDescriptor
	Channel                = base.Channel
	ProbeSpec              = base.ProbeSpec
	SampleBuffer           = base.SampleBuffer
	Format                 = base.Format
	RawLayout              = base.RawLayout
	ScanResult             = base.ScanResult
	CaptureHandle          = base.CaptureHandle
	ViewState              = base.ViewState
	Transport              = base.Transport
	Connection             = base.Connection
	RawDevice              = base.RawDevice
	AcquisitionRequest     = base.AcquisitionRequest
	Observability          = base.Observability
	Exporter               = base.Exporter
	ExportFunc             = base.ExportFunc
	CaptureInfo            = base.CaptureInfo
	Transition             = base.Transition
	TransportError         = base.TransportError
	InvalidConfigError     = base.InvalidConfigError
	AcquisitionInterrupted = base.AcquisitionInterrupted
	CodecError             = base.CodecError
)

const (
	FormatAuto    = base.FormatAuto
	FormatRaw     = base.FormatRaw
	FormatVCD     = base.FormatVCD
	FormatGnuplot = base.FormatGnuplot

	NoneFound     = base.NoneFound
	SingleFound   = base.SingleFound
	MultipleFound = base.MultipleFound
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Workbench construction.
func Conf(path string, opts ...Option) (*Workbench, error) {
	return base.Conf(path, opts...)
}

func New(cfg *Config, opts ...Option) (*Workbench, error) {
	return base.New(cfg, opts...)
}

func WithTransport(t Transport) Option {
	return base.WithTransport(t)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithoutDefaultTransports() Option {
	return base.WithoutDefaultTransports()
}

// Acquisition and codec options.
func WithSampleLimit(n int) AcquisitionOption {
	return base.WithSampleLimit(n)
}

func WithProbes(probes []ProbeSpec) AcquisitionOption {
	return base.WithProbes(probes)
}

func WithRawLayout(l RawLayout) CodecOption {
	return base.WithRawLayout(l)
}

func WithProgress(fn func(records int)) CodecOption {
	return base.WithProgress(fn)
}

// Parsers.
func ParseFormat(name string) (Format, error) {
	return base.ParseFormat(name)
}

func DetectFormat(path string) (Format, error) {
	return base.DetectFormat(path)
}

func ParseSampleRate(s string) (uint64, error) {
	return base.ParseSampleRate(s)
}

func FormatSampleRate(rate uint64) string {
	return base.FormatSampleRate(rate)
}

func ParseProbes(spec string, maxProbes int) ([]ProbeSpec, error) {
	return base.ParseProbes(spec, maxProbes)
}

// Exporters.
func NewCallbackExporter(name string, fn ExportFunc) Exporter {
	return base.NewCallbackExporter(name, fn)
}

func NewChannelExporter(name string, buffer int) (Exporter, <-chan []Transition, func()) {
	return base.NewChannelExporter(name, buffer)
}

// Run is a shortcut for building a workbench from path, capturing from the
// single attached device and saving the result.
func Run(ctx context.Context, path, out string, samples int) error {
	w, err := Conf(path)
	if err != nil {
		return err
	}
	defer w.Close(context.WithoutCancel(ctx))
	return w.CaptureToFile(ctx, out, samples)
}
