package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/oxyum/sigrok"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := sigrok.Run(ctx, "../../data/config.yaml", "capture.vcd", 100_000)
	var ai *sigrok.AcquisitionInterrupted
	if err != nil && !errors.As(err, &ai) {
		log.Fatalf("capture failed: %v", err)
	}
	if ai != nil {
		log.Printf("capture stopped early, kept %d samples", ai.SamplesCaptured)
	}
}
