package ports

import "time"

type Policy struct {
	// ChunkQueueLen bounds the chunks buffered between the reader and the
	// appender of one acquisition.
	ChunkQueueLen int
	// GaugeInterval throttles live gauge updates during a capture.
	GaugeInterval time.Duration
}
