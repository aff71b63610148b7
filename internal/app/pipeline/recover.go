package pipeline

import (
	"fmt"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

// Rebuild replays a spool into a frozen buffer using the probe selection the
// capture was started with. A sealed spool is cut at its recorded length.
func Rebuild(r ports.SpoolReader, obs ports.Observability) (*domain.DecodedCapture, error) {
	meta := r.Meta()
	if meta.NativeChannels <= 0 || len(meta.Probes) == 0 {
		return nil, fmt.Errorf("spool %s: missing channel layout", meta.CaptureID)
	}

	probes := make([]domain.ProbeSpec, len(meta.Probes))
	for i, p := range meta.Probes {
		if p < 0 || p >= meta.NativeChannels {
			return nil, fmt.Errorf("spool %s: probe %d outside %d native channels", meta.CaptureID, p, meta.NativeChannels)
		}
		probes[i] = domain.ProbeSpec{Index: p}
	}
	b, err := domain.NewBufferBuilder(len(probes), meta.SampleRate)
	if err != nil {
		return nil, err
	}

	limit := 0
	if meta.Sealed {
		limit = meta.Samples
	}
	a := newAppender(b, domain.NewCompactor(meta.NativeChannels, probes), limit)
	err = r.Iterate(func(id ports.SpoolEntryID, chunk []byte) error {
		if _, done, err := a.push(chunk); err != nil {
			return err
		} else if done {
			return errLimitReached
		}
		return nil
	})
	if err != nil && err != errLimitReached {
		return nil, fmt.Errorf("spool %s: %w", meta.CaptureID, err)
	}

	buf := b.Freeze()
	if obs != nil {
		obs.IncCounter("sigrok_spool_recoveries_total", 1)
		obs.LogInfo("spool_recovered",
			ports.Field{Key: "capture_id", Value: meta.CaptureID},
			ports.Field{Key: "device", Value: meta.DeviceID},
			ports.Field{Key: "samples", Value: buf.Len()},
			ports.Field{Key: "sealed", Value: meta.Sealed},
		)
	}
	return &domain.DecodedCapture{Buffer: buf, Names: channelNamesFor(meta.Names, len(probes))}, nil
}

func channelNamesFor(names []string, n int) []string {
	return domain.ChannelNames(domain.NewChannels(n, names))
}
