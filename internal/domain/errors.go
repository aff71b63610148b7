package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig     = errors.New("sigrok: invalid acquisition config")
	ErrMalformedHeader   = errors.New("sigrok: malformed header")
	ErrBufferFrozen      = errors.New("sigrok: sample buffer is frozen")
	ErrAcquisitionActive = errors.New("sigrok: acquisition in progress")
	ErrNoAcquisition     = errors.New("sigrok: no acquisition in progress")
	ErrNoCapture         = errors.New("sigrok: no capture loaded")
	ErrNotFrozen         = errors.New("sigrok: capture is still being acquired")
	ErrUnknownFormat     = errors.New("sigrok: unknown file format")
	ErrUnknownTransport  = errors.New("sigrok: unknown transport")
)

// TransportError reports an unreachable or disconnected transport. It is never
// retried by the core.
type TransportError struct {
	Transport string
	Op        string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %s: %v", e.Transport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidConfigError rejects a request outside the device capability before any I/O.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// AcquisitionInterrupted is returned when an acquisition ends before the
// natural end of stream. The samples captured so far stay in the frozen buffer.
type AcquisitionInterrupted struct {
	SamplesCaptured int
	Cause           error
}

func (e *AcquisitionInterrupted) Error() string {
	return fmt.Sprintf("acquisition interrupted after %d samples: %v", e.SamplesCaptured, e.Cause)
}

func (e *AcquisitionInterrupted) Unwrap() error { return e.Cause }

type CodecErrorKind int

const (
	IOFailure CodecErrorKind = iota + 1
	FormatError
)

func (k CodecErrorKind) String() string {
	switch k {
	case IOFailure:
		return "io failure"
	case FormatError:
		return "format error"
	default:
		return "unknown"
	}
}

// CodecError wraps every file load/save failure with the offending path.
type CodecError struct {
	Kind   CodecErrorKind
	Op     string
	Path   string
	Format Format
	Err    error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s %s (%s): %s: %v", e.Op, e.Path, e.Format, e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

// MalformedHeaderError is a format-specific header validation failure. Codecs
// deliver it wrapped in a CodecError of kind FormatError.
type MalformedHeaderError struct {
	Format Format
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed %s header: %s", e.Format, e.Reason)
}

func (e *MalformedHeaderError) Is(target error) bool { return target == ErrMalformedHeader }
