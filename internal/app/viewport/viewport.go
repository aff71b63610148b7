// Package viewport maps navigation intents onto a visible sample window.
// Every function is pure: it reads only the sample count it is given.
package viewport

import "math"

// State is a visible window [Start, End] and its zoom in samples per pixel.
type State struct {
	Start int
	End   int
	Zoom  float64
}

// Span is the number of visible samples.
func (s State) Span() int {
	return s.End - s.Start + 1
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ComputeView normalizes a requested window against a buffer of total
// samples. A zoom of zero or less means the window came from a drag and the
// zoom is derived from it; a positive zoom re-centers on the window midpoint
// with the span that zoom gives at the viewport width.
func ComputeView(total, start, end int, zoom float64, width int) State {
	if total <= 0 {
		return State{Zoom: 1}
	}
	width = max(width, 1)
	last := total - 1

	start, end = clamp(start, 0, last), clamp(end, 0, last)
	if end < start {
		start, end = end, start
	}

	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return State{Start: start, End: end, Zoom: zoomFor(end-start+1, width)}
	}

	// Never zoom in past one sample per pixel, never out past the buffer.
	span := int(math.Round(max(zoom, 1) * float64(width)))
	span = clamp(span, min(width, total), total)

	mid := start + (end-start)/2
	newStart := mid - (span-1)/2
	newEnd := newStart + span - 1
	newStart, newEnd = clamp(newStart, 0, last), clamp(newEnd, 0, last)
	return State{Start: newStart, End: newEnd, Zoom: zoomFor(newEnd-newStart+1, width)}
}

func zoomFor(span, width int) float64 {
	return max(1, float64(span)/float64(width))
}

// Zoom multiplies the current zoom by ratio and re-centers. A ratio above one
// zooms out.
func Zoom(s State, total int, ratio float64, width int) State {
	if ratio <= 0 {
		return ComputeView(total, s.Start, s.End, 0, width)
	}
	return ComputeView(total, s.Start, s.End, max(s.Zoom, 1)*ratio, width)
}

// Pan shifts the window by delta samples, keeping its span when the buffer
// allows it.
func Pan(s State, total, delta, width int) State {
	if total <= 0 {
		return State{Zoom: 1}
	}
	span := min(s.Span(), total)
	start := clamp(s.Start+delta, 0, total-span)
	return ComputeView(total, start, start+span-1, 0, width)
}

// Clip re-validates a state after the buffer length changed.
func Clip(s State, total, width int) State {
	return ComputeView(total, s.Start, s.End, 0, width)
}

// SampleAtPixel maps a pixel column to the first sample it covers.
func SampleAtPixel(s State, px, width int) int {
	width = max(width, 1)
	px = clamp(px, 0, width-1)
	return clamp(s.Start+int(float64(px)*float64(s.Span())/float64(width)), s.Start, s.End)
}

// PixelOfSample maps a sample onto its pixel column, or -1 when off screen.
func PixelOfSample(s State, sample, width int) int {
	if sample < s.Start || sample > s.End {
		return -1
	}
	width = max(width, 1)
	return clamp(int(float64(sample-s.Start)*float64(width)/float64(s.Span())), 0, width-1)
}
