package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the closed set of sample file formats.
type Format int

const (
	FormatAuto Format = iota
	FormatRaw
	FormatVCD
	FormatGnuplot
)

func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatVCD:
		return "vcd"
	case FormatGnuplot:
		return "gnuplot"
	default:
		return "auto"
	}
}

// ParseFormat resolves a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return FormatAuto, nil
	case "raw", "bin", "binary":
		return FormatRaw, nil
	case "vcd":
		return FormatVCD, nil
	case "gnuplot", "dat", "plot":
		return FormatGnuplot, nil
	default:
		return FormatAuto, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Compression suffixes are stripped before the extension is inspected, so
// "capture.vcd.zst" resolves to FormatVCD.
var compressionSuffixes = []string{".xz", ".zst"}

// StripCompression returns the path without a trailing compression suffix and
// the suffix that was removed.
func StripCompression(path string) (string, string) {
	lower := strings.ToLower(path)
	for _, s := range compressionSuffixes {
		if strings.HasSuffix(lower, s) {
			return path[:len(path)-len(s)], s
		}
	}
	return path, ""
}

// DetectFormat picks the format from the file extension.
func DetectFormat(path string) (Format, error) {
	inner, _ := StripCompression(path)
	switch strings.ToLower(filepath.Ext(inner)) {
	case ".raw", ".bin":
		return FormatRaw, nil
	case ".vcd":
		return FormatVCD, nil
	case ".dat", ".gp", ".gnuplot":
		return FormatGnuplot, nil
	default:
		return FormatAuto, fmt.Errorf("%w: cannot detect format of %q", ErrUnknownFormat, path)
	}
}

// ResolveFormat applies an explicit hint, falling back to extension detection.
func ResolveFormat(path string, hint Format) (Format, error) {
	if hint != FormatAuto {
		return hint, nil
	}
	return DetectFormat(path)
}

// RawLayout carries the metadata the raw format cannot store itself.
type RawLayout struct {
	ChannelCount int
	SampleRate   uint64
	// Length, when non-zero, must match the number of records in the file.
	Length int
}

// DecodedCapture is the result of reading a sample file.
type DecodedCapture struct {
	Buffer *SampleBuffer
	Names  []string
}
