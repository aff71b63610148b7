package fileformat

import (
	"bufio"
	"io"

	"github.com/oxyum/sigrok/internal/domain"
)

const rawBlockRecords = 4096

// readRaw streams fixed-width packed records. The layout has to come from the
// caller; a file that does not fit it is rejected rather than truncated.
func readRaw(r io.Reader, layout domain.RawLayout, p *progress) (*domain.DecodedCapture, error) {
	b, err := domain.NewBufferBuilder(layout.ChannelCount, layout.SampleRate)
	if err != nil {
		return nil, err
	}
	unit := b.UnitSize()
	block := make([]byte, rawBlockRecords*unit)

	for {
		n, rerr := io.ReadFull(r, block)
		if n%unit != 0 {
			return nil, contentErrorf("trailing partial record of %d bytes after %d records", n%unit, b.Len()+n/unit)
		}
		if n > 0 {
			data := block[:n]
			for i := 0; i < n; i += unit {
				if domain.Sample(data[i : i+unit]).HasBitsAbove(layout.ChannelCount) {
					return nil, contentErrorf("record %d uses channels beyond the %d declared", b.Len()+i/unit, layout.ChannelCount)
				}
			}
			if _, err := b.AppendPacked(data); err != nil {
				return nil, err
			}
			if err := p.tick(b.Len()); err != nil {
				return nil, err
			}
		}
		// ReadFull reports a short final block as ErrUnexpectedEOF.
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	if layout.Length > 0 && b.Len() != layout.Length {
		return nil, contentErrorf("file holds %d records, expected %d", b.Len(), layout.Length)
	}
	return &domain.DecodedCapture{
		Buffer: b.Freeze(),
		Names:  channelNames(nil, layout.ChannelCount),
	}, nil
}

func writeRaw(w *bufio.Writer, buf *domain.SampleBuffer, p *progress) error {
	for i, rec := range buf.Records() {
		if _, err := w.Write(rec); err != nil {
			return err
		}
		if err := p.tick(i + 1); err != nil {
			return err
		}
	}
	return nil
}
