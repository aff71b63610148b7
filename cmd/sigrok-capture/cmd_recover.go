package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var (
	recoverOut  string
	recoverList bool
)

func initRecoverCmd() {
	recoverCmd := &cobra.Command{
		Use:   "recover [spool-dir]",
		Short: "Rebuild a capture from its spool after a crash",
		Long:  "Rebuild a capture from its spool after a crash. Without an argument the most recent capture under acquisition.spool_dir is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRecover,
	}

	recoverCmd.Flags().StringVarP(&recoverOut, "out", "o", "recovered.vcd", "Output file")
	recoverCmd.Flags().BoolVarP(&recoverList, "list", "l", false, "List spooled captures instead of recovering one")

	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	w, err := openWorkbench()
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	if recoverList {
		entries, err := w.Spools()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No spooled captures.")
			return nil
		}
		for _, e := range entries {
			state := "unsealed"
			if e.Meta.Sealed {
				state = fmt.Sprintf("sealed, %d samples", e.Meta.Samples)
			}
			fmt.Printf("%s  %s  %s  %s (%s)\n",
				e.Meta.StartedAt.Format("2006-01-02 15:04:05"), e.Meta.CaptureID, e.Meta.DeviceID, e.Dir, state)
		}
		return nil
	}

	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	if err := w.RecoverSpool(cmd.Context(), dir); err != nil {
		return err
	}
	if err := w.Save(cmd.Context(), recoverOut, sigrok.FormatAuto); err != nil {
		return err
	}
	fmt.Printf("Recovered %d samples of %s to %s\n", w.Buffer().Len(), w.CaptureID(), recoverOut)
	return nil
}
