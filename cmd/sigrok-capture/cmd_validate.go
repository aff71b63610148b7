package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

func initValidateCmd() {
	validateCmd := &cobra.Command{
		Use:   "validate-config [path]",
		Short: "Load and validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given")
			}
			cfg, err := sigrok.LoadConfig(path)
			if err != nil {
				return err
			}
			fmt.Printf("config %s looks good (default rate %s, %d extra devices)\n",
				path, sigrok.FormatSampleRate(cfg.Acquisition.Rate()), len(cfg.Devices))
			return nil
		},
	}
	rootCmd.AddCommand(validateCmd)
}
