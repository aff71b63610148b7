package fileformat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

const (
	ioBufferSize = 1 << 20
	// ctx and progress are checked once per this many records.
	progressEvery = 1 << 16
	// DefaultMaxSamples bounds how far sparse formats may be expanded.
	DefaultMaxSamples = 1 << 30
)

// FileCodec reads and writes sample files. The format is resolved once from
// the explicit hint or the file extension; a trailing .xz or .zst suffix adds
// transparent compression.
type FileCodec struct {
	obs ports.Observability
}

func New(obs ports.Observability) *FileCodec {
	return &FileCodec{obs: obs}
}

// Read decodes a whole file. Nothing is returned unless the entire file
// decoded; a canceled read discards what was parsed so far.
func (c *FileCodec) Read(ctx context.Context, path string, hint domain.Format, opts ports.CodecOptions) (*domain.DecodedCapture, error) {
	format, err := domain.ResolveFormat(path, hint)
	if err != nil {
		return nil, &domain.CodecError{Kind: domain.FormatError, Op: "read", Path: path, Format: hint, Err: err}
	}
	if format == domain.FormatRaw && opts.Raw.ChannelCount <= 0 {
		return nil, &domain.InvalidConfigError{Field: "raw channel count", Reason: "must be supplied for raw files"}
	}

	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.CodecError{Kind: domain.IOFailure, Op: "read", Path: path, Format: format, Err: err}
	}
	defer f.Close()

	_, suffix := domain.StripCompression(path)
	r, closeFn, err := decompress(&faultReader{r: f}, suffix)
	if err != nil {
		return nil, classify("read", path, format, err)
	}
	defer closeFn()

	br := bufio.NewReaderSize(r, ioBufferSize)
	p := newProgress(ctx, opts.Progress)
	limit := opts.MaxSamples
	if limit <= 0 {
		limit = DefaultMaxSamples
	}

	var out *domain.DecodedCapture
	switch format {
	case domain.FormatRaw:
		out, err = readRaw(br, opts.Raw, p)
	case domain.FormatVCD:
		out, err = readVCD(br, limit, p)
	case domain.FormatGnuplot:
		out, err = readGnuplot(br, limit, p)
	default:
		err = contentErrorf("%w: %s", domain.ErrUnknownFormat, format)
	}
	if err != nil {
		c.fail("read", path, format, err)
		return nil, classify("read", path, format, err)
	}
	p.done(out.Buffer.Len())

	c.observe("read", format, start)
	c.logInfo("capture_file_loaded", path, format, out.Buffer.Len())
	return out, nil
}

// Write encodes buf into path. The file is written under a temporary name and
// renamed into place only after every byte has been flushed.
func (c *FileCodec) Write(ctx context.Context, path string, hint domain.Format, buf *domain.SampleBuffer, names []string, opts ports.CodecOptions) (err error) {
	format, err := domain.ResolveFormat(path, hint)
	if err != nil {
		return &domain.CodecError{Kind: domain.FormatError, Op: "write", Path: path, Format: hint, Err: err}
	}
	if buf == nil || buf.ChannelCount() == 0 {
		return &domain.CodecError{Kind: domain.IOFailure, Op: "write", Path: path, Format: format, Err: domain.ErrNoCapture}
	}

	start := time.Now()
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &domain.CodecError{Kind: domain.IOFailure, Op: "write", Path: path, Format: format, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			c.fail("write", path, format, err)
		}
	}()

	_, suffix := domain.StripCompression(path)
	w, closeFn, err := compress(tmp, suffix)
	if err != nil {
		return &domain.CodecError{Kind: domain.IOFailure, Op: "write", Path: path, Format: format, Err: err}
	}

	bw := bufio.NewWriterSize(w, ioBufferSize)
	p := newProgress(ctx, opts.Progress)
	names = channelNames(names, buf.ChannelCount())

	switch format {
	case domain.FormatRaw:
		err = writeRaw(bw, buf, p)
	case domain.FormatVCD:
		err = writeVCD(bw, buf, names, p)
	case domain.FormatGnuplot:
		err = writeGnuplot(bw, buf, names, p)
	default:
		err = fmt.Errorf("%w: %s", domain.ErrUnknownFormat, format)
	}
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = closeFn()
	}
	if err == nil {
		err = tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		if isCanceled(err) {
			return err
		}
		return &domain.CodecError{Kind: domain.IOFailure, Op: "write", Path: path, Format: format, Err: err}
	}
	p.done(buf.Len())

	c.observe("write", format, start)
	c.logInfo("capture_file_saved", path, format, buf.Len())
	return nil
}

func (c *FileCodec) observe(op string, format domain.Format, start time.Time) {
	if c.obs == nil {
		return
	}
	c.obs.IncCounter("sigrok_codec_"+op+"s_total", 1)
	c.obs.ObserveLatency("sigrok_codec_"+op+"_seconds", time.Since(start).Seconds())
}

func (c *FileCodec) logInfo(msg, path string, format domain.Format, samples int) {
	if c.obs == nil {
		return
	}
	c.obs.LogInfo(msg,
		ports.Field{Key: "path", Value: path},
		ports.Field{Key: "format", Value: format.String()},
		ports.Field{Key: "samples", Value: samples},
	)
}

func (c *FileCodec) fail(op, path string, format domain.Format, err error) {
	if c.obs == nil || isCanceled(err) {
		return
	}
	c.obs.IncCounter("sigrok_codec_errors_total", 1)
	c.obs.LogError("codec_"+op+"_failed", err,
		ports.Field{Key: "path", Value: path},
		ports.Field{Key: "format", Value: format.String()},
	)
}

var _ ports.Codec = (*FileCodec)(nil)

// faultReader tags filesystem errors so they can be told apart from
// decompression and parse errors.
type faultReader struct {
	r io.Reader
}

type ioFault struct{ err error }

func (e *ioFault) Error() string { return e.err.Error() }
func (e *ioFault) Unwrap() error { return e.err }

func (f *faultReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if err != nil && err != io.EOF {
		err = &ioFault{err: err}
	}
	return n, err
}

type contentError struct{ err error }

func (e *contentError) Error() string { return e.err.Error() }
func (e *contentError) Unwrap() error { return e.err }

func contentErrorf(format string, args ...any) error {
	return &contentError{err: fmt.Errorf(format, args...)}
}

// checkGrowth rejects expanding a buffer of have records by add more when
// the result would exceed limit.
func checkGrowth(have int, add uint64, limit int) error {
	if have > limit || add > uint64(limit-have) {
		return contentErrorf("expanding %d records by %d exceeds the limit of %d samples", have, add, limit)
	}
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// classify maps a read failure onto the codec error taxonomy. Filesystem
// faults are IOFailure; anything else the decoder rejected is FormatError.
func classify(op, path string, format domain.Format, err error) error {
	if isCanceled(err) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	kind := domain.FormatError
	var fault *ioFault
	if errors.As(err, &fault) {
		kind = domain.IOFailure
		err = fault.err
	}
	return &domain.CodecError{Kind: kind, Op: op, Path: path, Format: format, Err: err}
}

func channelNames(names []string, n int) []string {
	out := make([]string, n)
	for i := range out {
		if i < len(names) && names[i] != "" {
			out[i] = names[i]
		} else {
			out[i] = domain.DefaultChannelName(i)
		}
	}
	return out
}

type progress struct {
	ctx  context.Context
	fn   func(int)
	next int
}

func newProgress(ctx context.Context, fn func(int)) *progress {
	return &progress{ctx: ctx, fn: fn, next: progressEvery}
}

// tick is called with the running record count. It reports cancellation.
func (p *progress) tick(n int) error {
	if n < p.next {
		return nil
	}
	p.next = n + progressEvery
	if p.fn != nil {
		p.fn(n)
	}
	return p.ctx.Err()
}

func (p *progress) done(n int) {
	if p.fn != nil {
		p.fn(n)
	}
}
