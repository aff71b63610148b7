package main

import (
	"context"
	"fmt"
	"log"

	"github.com/oxyum/sigrok/pkg/sigrok"
)

func main() {
	w, err := sigrok.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	defer w.Close(context.Background())

	ctx := context.Background()
	if err := w.Open(ctx, "capture.vcd", sigrok.FormatAuto); err != nil {
		log.Fatalf("open: %v", err)
	}

	exp, transitions, closeFn := sigrok.NewChannelExporter("stdout", 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for batch := range transitions {
			for _, tr := range batch {
				fmt.Printf("%12s %-12s %v\n", tr.Offset, tr.Name, tr.Value)
			}
		}
	}()

	if err := w.Export(ctx, exp); err != nil {
		log.Printf("export: %v", err)
	}
	closeFn()
	<-done
}
