package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oxyum/sigrok"
)

var scanJSON bool

func initScanCmd() {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List the supported devices that are attached",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
	scanCmd.Flags().BoolVarP(&scanJSON, "json", "j", false, "Print devices as JSON")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	w, err := openWorkbench()
	if err != nil {
		return err
	}
	defer w.Close(context.Background())

	res, err := w.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("hardware error: %w", err)
	}

	if scanJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "    ")
		return enc.Encode(res.Devices)
	}

	switch res.Kind {
	case sigrok.NoneFound:
		fmt.Println("No supported device found.")
		return nil
	case sigrok.MultipleFound:
		fmt.Printf("Found %d devices, pass --device to pick one:\n", len(res.Devices))
	default:
		fmt.Println("Found 1 device:")
	}
	for _, d := range res.Devices {
		fmt.Printf("  %-28s %s, %d channels, up to %s\n", d.ID, d.Name, d.ChannelCount, sigrok.FormatSampleRate(d.MaxRate()))
	}
	return nil
}

// pickDevice returns the device named id, or the only device when id is empty.
func pickDevice(ctx context.Context, w *sigrok.Workbench, id string) (sigrok.DeviceDescriptor, error) {
	if id == "" {
		return w.SelectDevice(ctx)
	}
	res, err := w.Scan(ctx)
	if err != nil {
		return sigrok.DeviceDescriptor{}, err
	}
	var ids []string
	for _, d := range res.Devices {
		if d.ID == id {
			return d, nil
		}
		ids = append(ids, d.ID)
	}
	return sigrok.DeviceDescriptor{}, fmt.Errorf("device %q not found (have: %s)", id, strings.Join(ids, ", "))
}
