package ports

import "time"

type SpoolEntryID uint64

// SpoolMeta describes the capture a spool directory belongs to.
type SpoolMeta struct {
	CaptureID      string    `json:"capture_id"`
	DeviceID       string    `json:"device_id"`
	SampleRate     uint64    `json:"sample_rate"`
	NativeChannels int       `json:"native_channels"`
	Probes         []int     `json:"probes"`
	Names          []string  `json:"names,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Sealed         bool      `json:"sealed"`
	Samples        int       `json:"samples"`
}

// Spool persists raw native-width chunks of a running acquisition so that an
// interrupted capture can be rebuilt.
type Spool interface {
	Begin(meta SpoolMeta) error
	Append(chunk []byte) (SpoolEntryID, error)
	Seal(samples int) error
	Stats() SpoolStats
	Close() error
}

type SpoolReader interface {
	Meta() SpoolMeta
	Iterate(fn func(id SpoolEntryID, chunk []byte) error) error
}

type SpoolStats struct {
	Entries   SpoolEntryID
	SizeBytes int64
}
