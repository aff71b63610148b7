package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	rootCmd  *cobra.Command
	cfgPath  string
	logLevel string
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "sigrok-capture",
		Short:         "Capture, inspect and convert logic analyzer samples",
		Long:          "sigrok-capture scans for supported logic analyzers, captures samples from them and converts captures between the raw, VCD and gnuplot formats.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file (default: demo device only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	initScanCmd()
	initCaptureCmd()
	initConvertCmd()
	initInfoCmd()
	initRecoverCmd()
	initExportCmd()
	initValidateCmd()
	initStatsCmd()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sigrok-capture: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*sigrok.Config, error) {
	var (
		cfg *sigrok.Config
		err error
	)
	if cfgPath == "" {
		cfg = sigrok.DefaultConfig()
		cfg.Log.Level = "warn"
	} else if cfg, err = sigrok.LoadConfig(cfgPath); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func openWorkbench() (*sigrok.Workbench, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sigrok.New(cfg)
}
