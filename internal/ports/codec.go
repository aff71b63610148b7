package ports

import (
	"context"

	"github.com/oxyum/sigrok/internal/domain"
)

type CodecOptions struct {
	// Raw supplies the layout for headerless raw files.
	Raw domain.RawLayout
	// Progress, when set, receives the number of records processed so far.
	Progress func(records int)
	// MaxSamples caps the records a decoder may expand a file into. Zero
	// means the codec default.
	MaxSamples int
}

type Codec interface {
	Read(ctx context.Context, path string, format domain.Format, opts CodecOptions) (*domain.DecodedCapture, error)
	Write(ctx context.Context, path string, format domain.Format, buf *domain.SampleBuffer, names []string, opts CodecOptions) error
}
