package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oxyum/sigrok/internal/adapters/demo"
	"github.com/oxyum/sigrok/internal/adapters/opcua"
	"github.com/oxyum/sigrok/internal/app/discovery"
	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

type Config struct {
	// Devices extends the built-in device table. An entry whose identity
	// matches a built-in one replaces it.
	Devices     []discovery.Entry `yaml:"devices"`
	Demo        DemoConfig        `yaml:"demo"`
	OPCUA       *opcua.Config     `yaml:"opcua"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Viewport    ViewportConfig    `yaml:"viewport"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Timescale   TimescaleConfig   `yaml:"timescale"`
	Log         LogConfig         `yaml:"log"`
}

type DemoConfig struct {
	Enabled     bool `yaml:"enabled"`
	demo.Config `yaml:",inline"`
}

type AcquisitionConfig struct {
	DefaultRate   string        `yaml:"default_rate"`
	ChunkQueueLen int           `yaml:"chunk_queue_len"`
	GaugeInterval time.Duration `yaml:"gauge_interval"`
	// SpoolDir enables the on-disk spool when set.
	SpoolDir string `yaml:"spool_dir"`

	rate uint64
}

// Rate is DefaultRate parsed by validate.
func (a AcquisitionConfig) Rate() uint64 { return a.rate }

type ViewportConfig struct {
	WidthPx int `yaml:"width_px"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TimescaleConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
	BatchSize  int    `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is the configuration used when no file is given: the demo device
// only, no spool and no exporter.
func Default() *Config {
	cfg := &Config{Demo: DemoConfig{Enabled: true, Config: demo.Config{Devices: 1}}}
	if err := cfg.Finalize(); err != nil {
		panic(err)
	}
	return cfg
}

// Finalize applies defaults and validates an in-memory configuration.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.validate()
}

// Table is the device table with configured entries merged in.
func (c *Config) Table() []discovery.Entry {
	return append(discovery.DefaultTable(), c.Devices...)
}

func (c *Config) Policy() ports.Policy {
	return ports.Policy{
		ChunkQueueLen: c.Acquisition.ChunkQueueLen,
		GaugeInterval: c.Acquisition.GaugeInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.Demo.Enabled && c.Demo.Devices == 0 {
		c.Demo.Devices = 1
	}
	if c.OPCUA != nil {
		c.OPCUA.ApplyDefaults()
	}
	if c.Acquisition.DefaultRate == "" {
		c.Acquisition.DefaultRate = "1MHz"
	}
	if c.Acquisition.ChunkQueueLen == 0 {
		c.Acquisition.ChunkQueueLen = 64
	}
	if c.Acquisition.GaugeInterval == 0 {
		c.Acquisition.GaugeInterval = 250 * time.Millisecond
	}
	if c.Viewport.WidthPx == 0 {
		c.Viewport.WidthPx = 1000
	}
	if c.Timescale.Table == "" {
		c.Timescale.Table = "logic_samples"
	}
	if c.Timescale.BatchSize == 0 {
		c.Timescale.BatchSize = 5_000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	var errs []error
	for i, d := range c.Devices {
		if d.Identity == "" || d.Model == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: identity and model are required", i))
		}
		if d.Channels < 1 || d.Channels > 64 {
			errs = append(errs, fmt.Errorf("devices[%d]: channels must be 1-64, got %d", i, d.Channels))
		}
		if len(d.Rates.Expand()) == 0 {
			errs = append(errs, fmt.Errorf("devices[%d]: no sample rates", i))
		}
	}
	if c.OPCUA != nil {
		if err := c.OPCUA.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("opcua config: %w", err))
		}
	}
	rate, err := domain.ParseSampleRate(c.Acquisition.DefaultRate)
	if err != nil {
		errs = append(errs, fmt.Errorf("acquisition.default_rate: %w", err))
	}
	c.Acquisition.rate = rate
	if c.Acquisition.ChunkQueueLen < 0 {
		errs = append(errs, errors.New("acquisition.chunk_queue_len must not be negative"))
	}
	if c.Viewport.WidthPx < 0 {
		errs = append(errs, errors.New("viewport.width_px must not be negative"))
	}
	if c.Timescale.BatchSize < 0 {
		errs = append(errs, errors.New("timescale.batch_size must not be negative"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
