package main

import (
	"context"
	"fmt"
	"log"

	"github.com/oxyum/sigrok/pkg/sigrok"
)

func main() {
	w, err := sigrok.New(sigrok.DefaultConfig())
	if err != nil {
		log.Fatalf("workbench: %v", err)
	}
	defer w.Close(context.Background())

	ctx := context.Background()
	dev, err := w.SelectDevice(ctx)
	if err != nil {
		log.Fatalf("select device: %v", err)
	}
	h, err := w.StartAcquisition(ctx, dev, 0, dev.ChannelCount, sigrok.WithSampleLimit(10_000))
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	if err := h.Wait(ctx); err != nil {
		log.Fatalf("capture: %v", err)
	}

	edges := sigrok.NewCallbackExporter("edges", func(_ context.Context, info sigrok.CaptureInfo, buf *sigrok.SampleBuffer) error {
		for _, ch := range info.Channels {
			n := 0
			for range buf.Edges(ch.Index) {
				n++
			}
			fmt.Printf("%s %-12s %d transitions\n", info.ID, ch.Name, n-1)
		}
		return nil
	})
	if err := w.Export(ctx, edges); err != nil {
		log.Fatalf("export: %v", err)
	}
}
