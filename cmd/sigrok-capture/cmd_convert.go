package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	convertFrom     string
	convertTo       string
	convertChannels int
	convertRate     string
)

func initConvertCmd() {
	convertCmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a capture file between formats",
		Long:  "Convert a capture file between the raw, VCD and gnuplot formats. Formats follow the file extensions unless given. Raw input needs --channels and usually --rate.",
		Args:  cobra.ExactArgs(2),
		RunE:  runConvert,
	}

	convertCmd.Flags().StringVar(&convertFrom, "from", "auto", "Input format")
	convertCmd.Flags().StringVar(&convertTo, "to", "auto", "Output format")
	convertCmd.Flags().IntVarP(&convertChannels, "channels", "n", 0, "Channel count of raw input")
	convertCmd.Flags().StringVarP(&convertRate, "rate", "r", "", "Sample rate of raw input")

	rootCmd.AddCommand(convertCmd)
}

func rawLayout(channels int, rate string) (sigrok.RawLayout, error) {
	l := sigrok.RawLayout{ChannelCount: channels}
	if rate != "" {
		r, err := sigrok.ParseSampleRate(rate)
		if err != nil {
			return l, err
		}
		l.SampleRate = r
	}
	return l, nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	from, err := sigrok.ParseFormat(convertFrom)
	if err != nil {
		return err
	}
	to, err := sigrok.ParseFormat(convertTo)
	if err != nil {
		return err
	}
	layout, err := rawLayout(convertChannels, convertRate)
	if err != nil {
		return err
	}

	w, err := openWorkbench()
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	ctx := cmd.Context()
	read := newProgressBar("read "+in, 0)
	err = w.Open(ctx, in, from, sigrok.WithRawLayout(layout), sigrok.WithProgress(read.set))
	read.done()
	if err != nil {
		return err
	}

	buf := w.Buffer()
	write := newProgressBar("write "+out, int64(buf.Len()))
	err = w.Save(ctx, out, to, sigrok.WithProgress(write.set))
	write.done()
	if err != nil {
		return err
	}
	fmt.Printf("Converted %d samples (%d channels) from %s to %s\n", buf.Len(), buf.ChannelCount(), in, out)
	return nil
}
