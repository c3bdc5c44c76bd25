package cli

import (
	"fmt"

	"github.com/fmueller/voxserve/internal/capture"
	"github.com/spf13/cobra"
)

func newDevicesCmd(app *appState) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List microphone input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			recorder, err := app.recorder(app.log())
			if err != nil {
				return err
			}

			devices, err := recorder.Devices(cmd.Context())
			if err != nil {
				return fmt.Errorf("list input devices: %w", err)
			}
			return capture.WriteDeviceList(cmd.OutOrStdout(), devices)
		},
	}
}
