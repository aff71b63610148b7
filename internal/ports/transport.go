package ports

import "context"

// RawDevice is what a transport reports for one attached device before it is
// matched against the supported device table.
type RawDevice struct {
	// Identity is matched against the table, e.g. "usb:0c12:700e".
	Identity string
	Address  string
	Label    string
	// Channels overrides the table's channel count when positive.
	Channels int
}

type AcquisitionRequest struct {
	SampleRate  uint64
	Probes      []int
	SampleLimit int
}

type Transport interface {
	Name() string
	Enumerate(ctx context.Context) ([]RawDevice, error)
	Open(ctx context.Context, dev RawDevice, req AcquisitionRequest) (Connection, error)
}

// Connection streams records at the device's native width. ReadChunk returns
// io.EOF once the device has nothing more to send.
type Connection interface {
	ReadChunk(ctx context.Context) ([]byte, error)
	Close() error
}
