package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	exportConn     string
	exportTable    string
	exportFormat   string
	exportChannels int
	exportRate     string
)

func initExportCmd() {
	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the value changes of a capture file to TimescaleDB",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}

	exportCmd.Flags().StringVar(&exportConn, "conn", "", "Postgres connection string (default: timescale.conn_string)")
	exportCmd.Flags().StringVar(&exportTable, "table", "", "Target table (default: timescale.table)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "auto", "Input format")
	exportCmd.Flags().IntVarP(&exportChannels, "channels", "n", 0, "Channel count of raw input")
	exportCmd.Flags().StringVarP(&exportRate, "rate", "r", "", "Sample rate of raw input")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := sigrok.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	layout, err := rawLayout(exportChannels, exportRate)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if exportConn != "" {
		cfg.Timescale.ConnString = exportConn
	}
	if exportTable != "" {
		cfg.Timescale.Table = exportTable
	}
	w, err := sigrok.New(cfg)
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	if err := w.Open(cmd.Context(), args[0], format, sigrok.WithRawLayout(layout)); err != nil {
		return err
	}
	if err := w.ExportToTimescale(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("Exported capture %s (%d samples) to %s\n", w.CaptureID(), w.Buffer().Len(), cfg.Timescale.Table)
	return nil
}
