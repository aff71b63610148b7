package ports

import (
	"context"

	"github.com/oxyum/sigrok/internal/domain"
)

type CaptureInfo struct {
	ID       string
	Source   string
	Channels []domain.Channel
}

type Exporter interface {
	Export(ctx context.Context, info CaptureInfo, buf *domain.SampleBuffer) error
	Name() string
}
