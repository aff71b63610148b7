package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oxyum/sigrok/pkg/sigrok"
)

// Prints the visible window of a capture while it is still running.
func main() {
	cfg := sigrok.DefaultConfig()
	cfg.Demo.Realtime = true
	cfg.Demo.Pattern = "walking"
	cfg.Viewport.WidthPx = 80

	w, err := sigrok.New(cfg)
	if err != nil {
		log.Fatalf("workbench: %v", err)
	}
	defer w.Close(context.Background())

	ctx := context.Background()
	dev, err := w.SelectDevice(ctx)
	if err != nil {
		log.Fatalf("select device: %v", err)
	}
	h, err := w.StartAcquisition(ctx, dev, 10_000, 4, sigrok.WithSampleLimit(20_000))
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-h.Done():
			if err := h.Wait(ctx); err != nil {
				log.Printf("capture: %v", err)
			}
			v := w.View()
			fmt.Printf("done: %d samples, view %d-%d at %.1f samples/px\n", w.Buffer().Len(), v.Start, v.End, v.Zoom)
			return
		case <-ticker.C:
			buf := w.Buffer()
			v := w.View()
			fmt.Printf("%6d samples  view %d-%d  ", buf.Len(), v.Start, v.End)
			for px := 0; px < cfg.Viewport.WidthPx && buf.Len() > 0; px += 4 {
				s := v.Start + px*v.Span()/cfg.Viewport.WidthPx
				if buf.Bit(min(s, buf.Len()-1), 0) {
					fmt.Print("‾")
				} else {
					fmt.Print("_")
				}
			}
			fmt.Println()
		}
	}
}
