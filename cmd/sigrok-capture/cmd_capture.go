package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	captureDevice   string
	captureRate     string
	captureChannels int
	captureProbes   string
	captureSamples  int
	captureOut      string
	captureFormat   string
	captureMetrics  string
)

func initCaptureCmd() {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture samples from a device and save them",
		Long:  "Capture samples from a device and save them. Ctrl+C stops the capture early; the samples taken so far are still saved.",
		Args:  cobra.NoArgs,
		RunE:  runCapture,
	}

	captureCmd.Flags().StringVarP(&captureDevice, "device", "d", "", "Device ID from scan (default: the only attached device)")
	captureCmd.Flags().StringVarP(&captureRate, "rate", "r", "", "Sample rate such as 1MHz or 200k (default: acquisition.default_rate)")
	captureCmd.Flags().IntVarP(&captureChannels, "channels", "n", 0, "Capture the first n probes (default: all)")
	captureCmd.Flags().StringVarP(&captureProbes, "probes", "p", "", "Probe selection such as 1-4,6=clk (overrides --channels)")
	captureCmd.Flags().IntVarP(&captureSamples, "samples", "s", 0, "Stop after this many samples (default: until Ctrl+C or end of stream)")
	captureCmd.Flags().StringVarP(&captureOut, "out", "o", "capture.vcd", "Output file; .xz and .zst are compressed")
	captureCmd.Flags().StringVarP(&captureFormat, "format", "f", "auto", "Output format: raw, vcd, gnuplot or auto")
	captureCmd.Flags().StringVar(&captureMetrics, "metrics", "", "Serve Prometheus metrics on this address while capturing")

	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	format, err := sigrok.ParseFormat(captureFormat)
	if err != nil {
		return err
	}
	w, err := openWorkbench()
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	if captureMetrics != "" {
		if err := w.ServeMetrics(captureMetrics); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dev, err := pickDevice(ctx, w, captureDevice)
	if err != nil {
		return err
	}

	var rate uint64
	if captureRate != "" {
		if rate, err = sigrok.ParseSampleRate(captureRate); err != nil {
			return err
		}
	}
	channels := captureChannels
	if channels == 0 {
		channels = dev.ChannelCount
	}
	opts := []sigrok.AcquisitionOption{sigrok.WithSampleLimit(captureSamples)}
	if captureProbes != "" {
		probes, err := sigrok.ParseProbes(captureProbes, dev.ChannelCount)
		if err != nil {
			return err
		}
		opts = append(opts, sigrok.WithProbes(probes))
	}

	h, err := w.StartAcquisition(ctx, dev, rate, channels, opts...)
	if err != nil {
		return err
	}

	bar := newProgressBar(dev.ID, int64(captureSamples))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	interrupt := ctx.Done()
wait:
	for {
		select {
		case <-h.Done():
			break wait
		case <-interrupt:
			h.Cancel()
			interrupt = nil
		case <-ticker.C:
			bar.set(h.Len())
		}
	}
	bar.set(h.Len())
	bar.done()

	werr := h.Wait(context.Background())
	var ai *sigrok.AcquisitionInterrupted
	if werr != nil && !errors.As(werr, &ai) {
		return werr
	}

	if err := w.Save(context.Background(), captureOut, format); err != nil {
		return err
	}
	buf := w.Buffer()
	fmt.Printf("Saved %d samples (%d channels at %s) to %s\n",
		buf.Len(), buf.ChannelCount(), sigrok.FormatSampleRate(buf.SampleRate()), captureOut)
	if ai != nil && !errors.Is(ai, context.Canceled) {
		return fmt.Errorf("capture interrupted: %w", werr)
	}
	return nil
}
