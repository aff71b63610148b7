package fileformat

import (
	"errors"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

func decompress(r io.Reader, suffix string) (io.Reader, func(), error) {
	switch suffix {
	case ".xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return &decodeReader{r: xr}, func() {}, nil
	case ".zst":
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return &decodeReader{r: dec}, dec.Close, nil
	default:
		return r, func() {}, nil
	}
}

func compress(w io.Writer, suffix string) (io.Writer, func() error, error) {
	switch suffix {
	case ".xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return xw, xw.Close, nil
	case ".zst":
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return enc, enc.Close, nil
	default:
		return w, func() error { return nil }, nil
	}
}

// decodeReader marks decompressor failures as content errors, so a truncated
// or corrupt stream is never mistaken for a clean end of file.
type decodeReader struct {
	r io.Reader
}

func (d *decodeReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && err != io.EOF {
		var fault *ioFault
		if !errors.As(err, &fault) {
			err = &contentError{err: err}
		}
	}
	return n, err
}
