package main

import (
	"os"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressBar renders record counts on stderr. A total of zero shows a
// spinner with a running count instead of a bar.
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(label string, total int64) *progressBar {
	p := mpb.New(mpb.WithWidth(60), mpb.WithOutput(os.Stderr))
	var bar *mpb.Bar
	if total > 0 {
		bar = p.AddBar(total,
			mpb.PrependDecorators(
				decor.Name(label, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.Counters(0, " | %d/%d"),
				decor.AverageSpeed(0, " | %.0f samples/s"),
			),
		)
	} else {
		bar = p.New(0, mpb.SpinnerStyle(),
			mpb.PrependDecorators(
				decor.Name(label, decor.WCSyncSpaceR),
			),
			mpb.AppendDecorators(
				decor.CurrentNoUnit("%d samples"),
			),
		)
	}
	return &progressBar{p: p, bar: bar}
}

// set moves the bar to n; counts never go backwards.
func (b *progressBar) set(n int) {
	if cur := int64(n); cur > b.bar.Current() {
		b.bar.SetCurrent(cur)
	}
}

func (b *progressBar) done() {
	b.bar.SetTotal(-1, true)
	b.p.Wait()
}
