package sigrok

import (
	"github.com/oxyum/sigrok/internal/adapters/observability"
	"github.com/oxyum/sigrok/internal/adapters/opcua"
	"github.com/oxyum/sigrok/internal/adapters/spool"
	"github.com/oxyum/sigrok/internal/app/config"
	"github.com/oxyum/sigrok/internal/app/discovery"
	"github.com/oxyum/sigrok/internal/app/session"
	"github.com/oxyum/sigrok/internal/app/viewport"
	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

// Config re-exports the root configuration struct so callers can build or
// adjust it programmatically.
type Config = config.Config

type (
	DemoConfig        = config.DemoConfig
	AcquisitionConfig = config.AcquisitionConfig
	ViewportConfig    = config.ViewportConfig
	MetricsConfig     = config.MetricsConfig
	TimescaleConfig   = config.TimescaleConfig
	LogConfig         = config.LogConfig
	OPCUAConfig       = opcua.Config
	OPCUAChannel      = opcua.ChannelConfig
	DeviceEntry       = discovery.Entry
)

// LoadConfig reads YAML from disk, applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfig enables only the demo device.
func DefaultConfig() *Config {
	return config.Default()
}

type (
	DeviceDescriptor = domain.DeviceDescriptor
	RateCapability   = domain.RateCapability
	Channel          = domain.Channel
	ProbeSpec        = domain.ProbeSpec
	Sample           = domain.Sample
	SampleBuffer     = domain.SampleBuffer
	Format           = domain.Format
	RawLayout        = domain.RawLayout

	ScanResult    = discovery.Result
	ScanKind      = discovery.Kind
	CaptureHandle = session.CaptureHandle
	ViewState     = viewport.State
	SpoolEntry    = spool.Entry

	Transport          = ports.Transport
	Connection         = ports.Connection
	RawDevice          = ports.RawDevice
	AcquisitionRequest = ports.AcquisitionRequest
	Observability      = ports.Observability
	Field              = ports.Field
	Exporter           = ports.Exporter
	CaptureInfo        = ports.CaptureInfo

	TransportError         = domain.TransportError
	InvalidConfigError     = domain.InvalidConfigError
	AcquisitionInterrupted = domain.AcquisitionInterrupted
	CodecError             = domain.CodecError
	MalformedHeaderError   = domain.MalformedHeaderError
)

const (
	FormatAuto    = domain.FormatAuto
	FormatRaw     = domain.FormatRaw
	FormatVCD     = domain.FormatVCD
	FormatGnuplot = domain.FormatGnuplot

	NoneFound     = discovery.NoneFound
	SingleFound   = discovery.SingleFound
	MultipleFound = discovery.MultipleFound

	IOFailure   = domain.IOFailure
	FormatError = domain.FormatError
)

var (
	ErrInvalidConfig     = domain.ErrInvalidConfig
	ErrMalformedHeader   = domain.ErrMalformedHeader
	ErrBufferFrozen      = domain.ErrBufferFrozen
	ErrAcquisitionActive = domain.ErrAcquisitionActive
	ErrNoAcquisition     = domain.ErrNoAcquisition
	ErrNoCapture         = domain.ErrNoCapture
	ErrNotFrozen         = domain.ErrNotFrozen
	ErrUnknownFormat     = domain.ErrUnknownFormat
	ErrUnknownTransport  = domain.ErrUnknownTransport
)

func ParseFormat(name string) (Format, error) { return domain.ParseFormat(name) }

func DetectFormat(path string) (Format, error) { return domain.DetectFormat(path) }

func ParseSampleRate(s string) (uint64, error) { return domain.ParseSampleRate(s) }

func FormatSampleRate(rate uint64) string { return domain.FormatSampleRate(rate) }

// ParseProbes parses a 1-based selection such as "1-4,6=clk".
func ParseProbes(spec string, maxProbes int) ([]ProbeSpec, error) {
	return domain.ParseProbes(spec, maxProbes)
}

// NewLogObservability logs through slog and drops metrics.
func NewLogObservability(level, format string) Observability {
	return observability.NewLogObs(observability.NewLogger(logOutput, level, format))
}
