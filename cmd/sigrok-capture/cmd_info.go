package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	infoFormat   string
	infoChannels int
	infoRate     string
	infoJSON     bool
)

type captureSummary struct {
	Path       string   `json:"path"`
	Format     string   `json:"format"`
	Samples    int      `json:"samples"`
	Channels   []string `json:"channels"`
	SampleRate uint64   `json:"sample_rate"`
	Duration   string   `json:"duration"`
}

func initInfoCmd() {
	infoCmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Print the layout of a capture file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	infoCmd.Flags().StringVarP(&infoFormat, "format", "f", "auto", "Input format")
	infoCmd.Flags().IntVarP(&infoChannels, "channels", "n", 0, "Channel count of raw input")
	infoCmd.Flags().StringVarP(&infoRate, "rate", "r", "", "Sample rate of raw input")
	infoCmd.Flags().BoolVarP(&infoJSON, "json", "j", false, "Print as JSON")

	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, err := sigrok.ParseFormat(infoFormat)
	if err != nil {
		return err
	}
	if format == sigrok.FormatAuto {
		if format, err = sigrok.DetectFormat(path); err != nil {
			return err
		}
	}
	layout, err := rawLayout(infoChannels, infoRate)
	if err != nil {
		return err
	}

	w, err := openWorkbench()
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	if err := w.Open(cmd.Context(), path, format, sigrok.WithRawLayout(layout)); err != nil {
		return err
	}
	buf := w.Buffer()
	sum := captureSummary{
		Path:       path,
		Format:     format.String(),
		Samples:    buf.Len(),
		SampleRate: buf.SampleRate(),
		Duration:   buf.TimeAt(buf.Len()).String(),
	}
	for _, ch := range w.Channels() {
		sum.Channels = append(sum.Channels, ch.Name)
	}

	if infoJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "    ")
		return enc.Encode(sum)
	}
	rate := "unknown"
	if sum.SampleRate > 0 {
		rate = sigrok.FormatSampleRate(sum.SampleRate)
	}
	fmt.Printf("%s: %s, %d samples at %s (%s)\n", sum.Path, sum.Format, sum.Samples, rate, sum.Duration)
	for i, name := range sum.Channels {
		fmt.Printf("  %2d  %s\n", i, name)
	}
	return nil
}
